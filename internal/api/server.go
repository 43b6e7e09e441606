// Package api exposes the control surface: site configuration, navigation
// evaluation, status queries, grants, and the event stream.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/goodtune/sitewarden/internal/engine"
	"github.com/goodtune/sitewarden/internal/grants"
	"github.com/goodtune/sitewarden/internal/ledger"
	"github.com/goodtune/sitewarden/internal/notify"
	"github.com/goodtune/sitewarden/internal/storage"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// Server is the HTTP API server.
type Server struct {
	router   *mux.Router
	server   *http.Server
	listener net.Listener
	logger   zerolog.Logger
}

// NewServer wires all handlers onto a router.
func NewServer(
	addr string,
	store storage.Store,
	eng *engine.Engine,
	grantSvc *grants.Service,
	ldg *ledger.Ledger,
	hub *notify.Hub,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		router: mux.NewRouter(),
		logger: logger.With().Str("component", "api").Logger(),
	}

	siteHandler := NewSiteHandler(store.Sites(), eng, s.logger)
	controlHandler := NewControlHandler(eng, grantSvc, ldg, s.logger)
	eventsHandler := NewEventsHandler(hub, s.logger)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	v1 := s.router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/sites", siteHandler.List).Methods("GET")
	v1.HandleFunc("/sites", siteHandler.Create).Methods("POST")
	v1.HandleFunc("/sites/{id}", siteHandler.Get).Methods("GET")
	v1.HandleFunc("/sites/{id}", siteHandler.Update).Methods("PUT")
	v1.HandleFunc("/sites/{id}", siteHandler.Delete).Methods("DELETE")

	v1.HandleFunc("/navigation", controlHandler.Navigation).Methods("POST")
	v1.HandleFunc("/status/{domain}", controlHandler.Status).Methods("GET")
	v1.HandleFunc("/emergency-use", controlHandler.EmergencyUse).Methods("POST")
	v1.HandleFunc("/lock-now", controlHandler.LockNow).Methods("POST")
	v1.HandleFunc("/restart", controlHandler.Restart).Methods("POST")
	v1.HandleFunc("/timelock", controlHandler.GetTimeLock).Methods("GET")
	v1.HandleFunc("/timelock", controlHandler.PutTimeLock).Methods("PUT")
	v1.HandleFunc("/usage/{domain}/weekly", controlHandler.WeeklyUsage).Methods("GET")
	v1.HandleFunc("/events", eventsHandler.Stream).Methods("GET")

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // the event stream holds its response open
	}
	return s
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation.
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting API server")
	go func() {
		var err error
		if s.listener != nil {
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop gracefully shuts the API server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
