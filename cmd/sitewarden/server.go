package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/goodtune/sitewarden/internal/api"
	"github.com/goodtune/sitewarden/internal/clock"
	"github.com/goodtune/sitewarden/internal/config"
	"github.com/goodtune/sitewarden/internal/engine"
	"github.com/goodtune/sitewarden/internal/grants"
	"github.com/goodtune/sitewarden/internal/ledger"
	"github.com/goodtune/sitewarden/internal/lockstate"
	"github.com/goodtune/sitewarden/internal/metrics"
	"github.com/goodtune/sitewarden/internal/notify"
	"github.com/goodtune/sitewarden/internal/reset"
	"github.com/goodtune/sitewarden/internal/storage"
	"github.com/goodtune/sitewarden/internal/storage/bolt"
	"github.com/goodtune/sitewarden/internal/storage/redis"
	"github.com/goodtune/sitewarden/internal/systemd"
	"github.com/goodtune/sitewarden/internal/tracker"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start SiteWarden server",
	Long:  `Start the SiteWarden server with the tracking engine, HTTP API, and metrics endpoints.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting SiteWarden")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().Str("type", cfg.Storage.Type).Msg("Storage initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Materialize the global policy from config on first run
	policy, err := bootstrapPolicy(ctx, store, cfg)
	if err != nil {
		return fmt.Errorf("failed to bootstrap global policy: %w", err)
	}

	metrics.Register()

	clk := clock.RealClock{}
	hub := notify.NewHub(logger)
	ldg := ledger.New(store.Usage(), clk, logger)
	machine := lockstate.NewMachine(store.Usage(), clk, logger)

	tickInterval := parseDuration(cfg.Tracking.TickInterval, time.Second)
	trk := tracker.New(ldg, machine, store.TimeLock(), store.Policy(), hub, clk, tickInterval, logger)
	defer trk.StopAll()

	eng, err := engine.New(store.Sites(), ldg, machine, trk, store.TimeLock(), store.Policy(), hub, clk, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	grantSvc := grants.New(ldg, machine, store.Policy(), hub, clk, logger)

	// Initialize Reset Scheduler
	resetScheduler, err := reset.New(
		store.Usage(),
		store.Policy(),
		hub,
		clk,
		policy.DailyResetTime,
		cfg.Tracking.RetentionDays,
		machine.Locks(),
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize reset scheduler: %w", err)
	}
	resetScheduler.Start(ctx)
	logger.Info().Str("reset_time", policy.DailyResetTime).Msg("Reset Scheduler initialized")

	// Initialize API Server
	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)
	apiServer := api.NewServer(apiAddr, store, eng, grantSvc, ldg, hub, logger)
	if sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	logger.Info().Str("addr", apiAddr).Msg("API Server started")

	// Initialize Metrics Server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)
	if sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}
	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	logger.Info().Str("addr", metricsAddr).Msg("Metrics Server started")

	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to notify systemd readiness")
	}

	logger.Info().Msg("SiteWarden startup complete")
	logger.Info().Msgf("API: http://%s/api/v1", apiAddr)
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	logger.Info().Msg("Shutdown signal received, gracefully stopping...")
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to notify systemd stopping")
	}

	cancel()
	trk.StopAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}
	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping metrics server")
	}

	logger.Info().Msg("SiteWarden stopped")
	return nil
}

// openStorage opens the configured storage backend
func openStorage(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return bolt.Open(cfg.Storage.Path)
	}
}

// bootstrapPolicy creates the global policy document from configuration if
// it does not exist yet. An existing document always wins so runtime edits
// survive restarts.
func bootstrapPolicy(ctx context.Context, store storage.Store, cfg *config.Config) (*storage.GlobalPolicy, error) {
	existing, err := store.Policy().Get(ctx)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	policy := storage.GlobalPolicy{
		DailyResetTime:        cfg.Tracking.DailyResetTime,
		EmergencyExtraSeconds: cfg.Tracking.EmergencyExtraSeconds,
		PendingGraceSeconds:   cfg.Tracking.PendingGraceSeconds,
	}
	if err := store.Policy().Put(ctx, policy); err != nil {
		return nil, err
	}
	return &policy, nil
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
