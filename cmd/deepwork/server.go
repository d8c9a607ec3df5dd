package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/deepwork/internal/api"
	"github.com/goodtune/deepwork/internal/config"
	"github.com/goodtune/deepwork/internal/focus"
	"github.com/goodtune/deepwork/internal/metrics"
	"github.com/goodtune/deepwork/internal/retention"
	"github.com/goodtune/deepwork/internal/session"
	"github.com/goodtune/deepwork/internal/storage"
	"github.com/goodtune/deepwork/internal/storage/redis"
	"github.com/goodtune/deepwork/internal/storage/sqlite"
	"github.com/goodtune/deepwork/internal/systemd"
	"github.com/goodtune/deepwork/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start deepwork server",
	Long:  `Start the deepwork HTTP API and metrics endpoints.`,
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
		Msg("Starting deepwork")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing is a no-op unless enabled
	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to flush traces")
		}
	}()

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to get systemd listeners")
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Msg("Storage initialized")

	clock := session.RealClock{}
	machine, engine, err := newServices(cfg, store, clock, logger)
	if err != nil {
		return err
	}

	// Initialize Retention Scheduler
	var retentionScheduler *retention.Scheduler
	if cfg.Retention.MaxAgeDays > 0 {
		retentionScheduler, err = retention.NewScheduler(
			store.Sessions(),
			engine,
			cfg.Retention.MaxAgeDays,
			cfg.Retention.RunTime,
			clock,
			logger,
		)
		if err != nil {
			return fmt.Errorf("failed to initialize Retention Scheduler: %w", err)
		}
		retentionScheduler.Start()
	}

	// Initialize API Server
	apiConfig := api.Config{
		ListenAddr:      fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort),
		RateLimit:       cfg.API.RateLimit,
		RateLimitWindow: parseDuration(cfg.API.RateLimitWindow, time.Minute),
		AllowedOrigins:  cfg.API.AllowedOrigins,
		ReadTimeout:     parseDuration(cfg.API.ReadTimeout, 15*time.Second),
		WriteTimeout:    parseDuration(cfg.API.WriteTimeout, 15*time.Second),
	}

	apiServer := api.NewServer(apiConfig, machine, engine, clock, logger)

	// Use systemd socket-activated listener if available
	if sdListeners.Activated && sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}

	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API Server: %w", err)
	}

	logger.Info().
		Str("addr", apiConfig.ListenAddr).
		Msg("API Server started")

	// Initialize Metrics Server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)

	// Use systemd socket-activated listener if available
	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start Metrics Server: %w", err)
	}

	logger.Info().
		Str("addr", metricsAddr).
		Msg("Metrics Server started")

	// Log startup complete
	logger.Info().Msg("deepwork startup complete")
	logger.Info().Msgf("API: http://%s", apiConfig.ListenAddr)
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	go func() {
		if err := systemd.RunWatchdog(ctx); err != nil {
			logger.Warn().Err(err).Msg("Systemd watchdog stopped")
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutdown signal received, gracefully stopping...")

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}
	cancel()

	// Stop servers
	if retentionScheduler != nil {
		retentionScheduler.Stop()
	}

	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API Server")
	}

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Metrics Server")
	}

	logger.Info().Msg("deepwork stopped")

	return nil
}

// newServices builds the state machine and metrics engine over a store
func newServices(cfg *config.Config, store storage.Store, clock session.Clock, logger zerolog.Logger) (*session.Machine, *focus.Engine, error) {
	limits := session.Limits{
		MaxTitleLength:  cfg.Limits.MaxTitleLength,
		MaxGoalLength:   cfg.Limits.MaxGoalLength,
		MaxReasonLength: cfg.Limits.MaxReasonLength,
	}

	machine := session.NewMachine(store.Sessions(), clock, limits, logger)

	engine, err := focus.NewEngine(store.Sessions(), cfg.Focus.CacheSize, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize metrics engine: %w", err)
	}
	machine.SetEvictor(engine)

	return machine, engine, nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "sqlite"
	}

	switch storageType {
	case "sqlite":
		return sqlite.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (must be 'sqlite' or 'redis')", storageType)
	}
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
