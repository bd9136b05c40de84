package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tracewire/internal/config"
	httpserver "github.com/fyrsmithlabs/tracewire/internal/http"
	"github.com/fyrsmithlabs/tracewire/internal/logging"
	"github.com/fyrsmithlabs/tracewire/internal/pipeline"
	"github.com/fyrsmithlabs/tracewire/internal/telemetry"
)

// exportErrorInterval limits telemetry export failures to one warning per
// interval.
const exportErrorInterval = 30 * time.Second

// runServe runs the server until SIGINT or SIGTERM.
func runServe(ctx context.Context, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, configPath)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// run starts tracewire and blocks until ctx is cancelled.
//
// Startup order:
//  1. Load and validate configuration
//  2. Resolve the exporter mode and build the telemetry providers
//  3. Build the logger on top of the log provider
//  4. Watch the config file for log level changes
//  5. Start the HTTP server
//
// Any configuration error, including a managed backend without a
// connection string, is returned before the server listens.
//
// Returns http.ErrServerClosed on graceful shutdown.
func run(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Telemetry.Shutdown.Timeout.Duration())
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logger, err := logging.NewLogger(cfg.Logging, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	otel.SetErrorHandler(telemetry.NewErrorHandler(logger.Underlying().Named("otel"), exportErrorInterval))

	if health := tel.Health(); health.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.Strings("reasons", health.Reasons))
	}

	logger.Info(ctx, "starting tracewire",
		zap.String("version", version),
		zap.String("exporter", string(tel.Mode())),
		zap.Int("port", cfg.Server.Port),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	if configPath != "" {
		if err := watchConfig(ctx, configPath, cfg, logger); err != nil {
			logger.Warn(ctx, "config hot reload disabled", zap.Error(err))
		}
	}

	srv, err := httpserver.NewServer(httpserver.Options{
		Config:    cfg.Server,
		Logger:    logger,
		Telemetry: tel,
		Auth:      cfg.Auth,
		Pipeline:  pipeline.Config{UserIDClaims: cfg.Logging.UserIDClaims},
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Start(ctx)
}

// watchConfig re-reads the config file when it changes. The log level is
// applied live; everything else needs a restart.
func watchConfig(ctx context.Context, path string, current *appConfig, logger *logging.Logger) error {
	onChange := func() {
		reloadConfig(ctx, path, current, logger)
	}
	onError := func(err error) {
		logger.Warn(ctx, "config watcher error", zap.Error(err))
	}
	return config.Watch(ctx, path, onChange, onError)
}

func reloadConfig(ctx context.Context, path string, current *appConfig, logger *logging.Logger) {
	next, err := loadConfig(path)
	if err != nil {
		logger.Warn(ctx, "config reload failed, keeping current settings", zap.Error(err))
		return
	}

	if !strings.EqualFold(next.Logging.Level, logger.Level()) {
		if err := logger.SetLevel(next.Logging.Level); err != nil {
			logger.Warn(ctx, "invalid log level in reloaded config", zap.Error(err))
		} else {
			logger.Info(ctx, "log level changed", zap.String("level", next.Logging.Level))
		}
	}

	if !reflect.DeepEqual(next.Telemetry, current.Telemetry) {
		logger.Warn(ctx, "telemetry settings changed; restart required to apply them")
	}
	if !reflect.DeepEqual(next.Server, current.Server) || !reflect.DeepEqual(next.Auth, current.Auth) {
		logger.Warn(ctx, "server settings changed; restart required to apply them")
	}
}
