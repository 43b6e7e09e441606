package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Tracking metrics
	TrackedSecondsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitewarden_tracked_seconds_total",
			Help: "Total seconds of monitored usage recorded",
		},
		[]string{"domain"},
	)

	ActiveTimers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sitewarden_active_timers",
			Help: "Number of live tracking timers",
		},
	)

	// State machine metrics
	StateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitewarden_state_transitions_total",
			Help: "Total lock state transitions",
		},
		[]string{"to", "reason"},
	)

	// Grant metrics
	GrantsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitewarden_grants_total",
			Help: "Total grants issued",
		},
		[]string{"kind"},
	)

	GrantDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitewarden_grant_denials_total",
			Help: "Total grant requests denied by policy",
		},
		[]string{"kind"},
	)

	// Reset metrics
	DailyResetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sitewarden_daily_resets_total",
			Help: "Total daily reset runs",
		},
	)

	RecordsResetTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sitewarden_records_reset_total",
			Help: "Total usage records zeroed by daily resets",
		},
	)

	// Navigation metrics
	NavigationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitewarden_navigations_total",
			Help: "Total navigation evaluations by outcome",
		},
		[]string{"action"},
	)
)

// Register registers all metrics with the default registry
func Register() {
	prometheus.MustRegister(
		TrackedSecondsTotal,
		ActiveTimers,
		StateTransitionsTotal,
		GrantsTotal,
		GrantDenialsTotal,
		DailyResetsTotal,
		RecordsResetTotal,
		NavigationsTotal,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
