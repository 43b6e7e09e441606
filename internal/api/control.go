package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/goodtune/sitewarden/internal/engine"
	"github.com/goodtune/sitewarden/internal/grants"
	"github.com/goodtune/sitewarden/internal/ledger"
	"github.com/goodtune/sitewarden/internal/lockstate"
	"github.com/goodtune/sitewarden/internal/storage"
	"github.com/goodtune/sitewarden/internal/timewindow"
)

// ControlHandler handles navigation evaluation, status queries, and grants.
type ControlHandler struct {
	engine *engine.Engine
	grants *grants.Service
	ledger *ledger.Ledger
	logger zerolog.Logger
}

// NewControlHandler creates a new control handler.
func NewControlHandler(eng *engine.Engine, grantSvc *grants.Service, ldg *ledger.Ledger, logger zerolog.Logger) *ControlHandler {
	return &ControlHandler{
		engine: eng,
		grants: grantSvc,
		ledger: ldg,
		logger: logger.With().Str("handler", "control").Logger(),
	}
}

// Navigation evaluates a navigation target.
func (h *ControlHandler) Navigation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "URL is required")
		return
	}

	decision, err := h.engine.HandleNavigation(r.Context(), req.URL)
	if err != nil {
		h.logger.Error().Err(err).Str("url", req.URL).Msg("Failed to evaluate navigation")
		writeError(w, http.StatusInternalServerError, "Failed to evaluate navigation")
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// Status reports a monitored domain's standing.
func (h *ControlHandler) Status(w http.ResponseWriter, r *http.Request) {
	domain := mux.Vars(r)["domain"]

	report, err := h.engine.GetStatus(r.Context(), domain)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Domain is not monitored")
			return
		}
		h.logger.Error().Err(err).Str("domain", domain).Msg("Failed to get status")
		writeError(w, http.StatusInternalServerError, "Failed to get status")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

type domainRequest struct {
	Domain string `json:"domain"`
}

func decodeDomain(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req domainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Domain == "" {
		writeError(w, http.StatusBadRequest, "Domain is required")
		return "", false
	}
	return engine.NormalizeDomain(req.Domain), true
}

// EmergencyUse grants extra time to a domain in its grace period.
func (h *ControlHandler) EmergencyUse(w http.ResponseWriter, r *http.Request) {
	domain, ok := decodeDomain(w, r)
	if !ok {
		return
	}

	rec, extra, err := h.grants.EmergencyUse(r.Context(), domain)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "No usage record for domain")
		case errors.Is(err, lockstate.ErrInvalidTransition):
			writeError(w, http.StatusConflict, "Emergency use requires a pending domain")
		default:
			h.logger.Error().Err(err).Str("domain", domain).Msg("Failed to grant emergency use")
			writeError(w, http.StatusInternalServerError, "Failed to grant emergency use")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"granted":       true,
		"extra_seconds": extra,
		"record":        rec,
	})
}

// LockNow forces a domain straight to locked.
func (h *ControlHandler) LockNow(w http.ResponseWriter, r *http.Request) {
	domain, ok := decodeDomain(w, r)
	if !ok {
		return
	}

	rec, err := h.engine.RequestLockNow(r.Context(), domain)
	if err != nil {
		if errors.Is(err, lockstate.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, "Domain is already locked")
			return
		}
		h.logger.Error().Err(err).Str("domain", domain).Msg("Failed to lock domain")
		writeError(w, http.StatusInternalServerError, "Failed to lock domain")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"locked": true,
		"record": rec,
	})
}

// Restart unlocks a locked domain.
func (h *ControlHandler) Restart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Domain string `json:"domain"`
		Kind   string `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Domain == "" {
		writeError(w, http.StatusBadRequest, "Domain is required")
		return
	}

	kind := grants.RestartKind(req.Kind)
	if kind == "" {
		kind = grants.KindNormal
	}
	if kind != grants.KindNormal && kind != grants.KindEmergency {
		writeError(w, http.StatusBadRequest, "Kind must be normal or emergency")
		return
	}

	domain := engine.NormalizeDomain(req.Domain)
	rec, err := h.grants.Restart(r.Context(), domain, kind)
	if err != nil {
		switch {
		case errors.Is(err, grants.ErrEmergencyRestartUsed):
			writeJSON(w, http.StatusForbidden, map[string]interface{}{
				"granted": false,
				"reason":  "emergency restart already used today",
			})
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "No usage record for domain")
		case errors.Is(err, lockstate.ErrInvalidTransition):
			writeError(w, http.StatusConflict, "Restart requires a locked domain")
		default:
			h.logger.Error().Err(err).Str("domain", domain).Msg("Failed to restart domain")
			writeError(w, http.StatusInternalServerError, "Failed to restart domain")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"granted": true,
		"record":  rec,
	})
}

// GetTimeLock reports the window schedule and whether it blocks right now.
func (h *ControlHandler) GetTimeLock(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.CheckTimeLock(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to check time lock")
		writeError(w, http.StatusInternalServerError, "Failed to check time lock")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// PutTimeLock replaces the window schedule.
func (h *ControlHandler) PutTimeLock(w http.ResponseWriter, r *http.Request) {
	var policy storage.TimeLockPolicy
	if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if policy.Mode == "" {
		policy.Mode = storage.ModeRestricted
	}
	if policy.Mode != storage.ModeRestricted && policy.Mode != storage.ModeAll {
		writeError(w, http.StatusBadRequest, "Mode must be restricted or all")
		return
	}
	for _, window := range policy.Windows {
		if err := timewindow.Validate(window); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if err := h.engine.PutTimeLock(r.Context(), policy); err != nil {
		h.logger.Error().Err(err).Msg("Failed to store time lock policy")
		writeError(w, http.StatusInternalServerError, "Failed to store time lock policy")
		return
	}

	writeJSON(w, http.StatusOK, policy)
}

// WeeklyUsage reports a domain's tracked seconds over the last seven days.
func (h *ControlHandler) WeeklyUsage(w http.ResponseWriter, r *http.Request) {
	domain := engine.NormalizeDomain(mux.Vars(r)["domain"])

	total, err := h.ledger.WeeklyUsage(r.Context(), domain)
	if err != nil {
		h.logger.Error().Err(err).Str("domain", domain).Msg("Failed to compute weekly usage")
		writeError(w, http.StatusInternalServerError, "Failed to compute weekly usage")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"domain":        domain,
		"total_seconds": total,
	})
}
