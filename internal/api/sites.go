package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/goodtune/sitewarden/internal/engine"
	"github.com/goodtune/sitewarden/internal/storage"
)

// SiteHandler handles monitored-site configuration requests.
type SiteHandler struct {
	store  storage.SiteStore
	engine *engine.Engine
	logger zerolog.Logger
}

// NewSiteHandler creates a new site handler.
func NewSiteHandler(store storage.SiteStore, eng *engine.Engine, logger zerolog.Logger) *SiteHandler {
	return &SiteHandler{
		store:  store,
		engine: eng,
		logger: logger.With().Str("handler", "sites").Logger(),
	}
}

// List returns all configured sites.
func (h *SiteHandler) List(w http.ResponseWriter, r *http.Request) {
	sites, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list sites")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve sites")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sites": sites,
		"count": len(sites),
	})
}

// Get returns a single site by ID.
func (h *SiteHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	site, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Site not found")
			return
		}
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to get site")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve site")
		return
	}

	writeJSON(w, http.StatusOK, site)
}

func (h *SiteHandler) validate(site *storage.Site) string {
	site.Domain = engine.NormalizeDomain(site.Domain)
	if site.Domain == "" {
		return "Domain is required"
	}
	if !engine.IsValidDomain(site.Domain) {
		return "Domain is not a valid hostname"
	}
	if site.DailyLimitSeconds <= 0 {
		return "Daily limit must be positive"
	}
	return ""
}

// Create adds a new monitored site.
func (h *SiteHandler) Create(w http.ResponseWriter, r *http.Request) {
	var site storage.Site
	if err := json.NewDecoder(r.Body).Decode(&site); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if msg := h.validate(&site); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	site.ID = uuid.NewString()
	site.CreatedAt = time.Now()
	site.Enabled = true
	if site.DisplayName == "" {
		site.DisplayName = site.Domain
	}

	if err := h.store.Upsert(r.Context(), site); err != nil {
		if errors.Is(err, storage.ErrDomainExists) {
			writeError(w, http.StatusConflict, "Domain already configured")
			return
		}
		h.logger.Error().Err(err).Msg("Failed to create site")
		writeError(w, http.StatusInternalServerError, "Failed to create site")
		return
	}

	h.engine.InvalidateSiteCache()
	h.logger.Info().Str("domain", site.Domain).Int64("limit", site.DailyLimitSeconds).Msg("Site created")
	writeJSON(w, http.StatusCreated, site)
}

// Update modifies an existing site. The ID is immutable.
func (h *SiteHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	existing, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Site not found")
			return
		}
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to get site")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve site")
		return
	}

	var site storage.Site
	if err := json.NewDecoder(r.Body).Decode(&site); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if msg := h.validate(&site); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	site.ID = existing.ID
	site.CreatedAt = existing.CreatedAt
	if site.DisplayName == "" {
		site.DisplayName = site.Domain
	}

	if err := h.store.Upsert(r.Context(), site); err != nil {
		if errors.Is(err, storage.ErrDomainExists) {
			writeError(w, http.StatusConflict, "Domain already configured")
			return
		}
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to update site")
		writeError(w, http.StatusInternalServerError, "Failed to update site")
		return
	}

	h.engine.InvalidateSiteCache()
	writeJSON(w, http.StatusOK, site)
}

// Delete removes a site.
func (h *SiteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Site not found")
			return
		}
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to delete site")
		writeError(w, http.StatusInternalServerError, "Failed to delete site")
		return
	}

	h.engine.InvalidateSiteCache()
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
