// Package http serves the demo API behind the correlation pipeline.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tracewire/internal/correlation"
	"github.com/fyrsmithlabs/tracewire/internal/identity"
	"github.com/fyrsmithlabs/tracewire/internal/logging"
	"github.com/fyrsmithlabs/tracewire/internal/pipeline"
	"github.com/fyrsmithlabs/tracewire/internal/telemetry"
	"github.com/fyrsmithlabs/tracewire/internal/tracing"
)

// Options wires the server's collaborators.
type Options struct {
	Config    *Config
	Logger    *logging.Logger
	Telemetry *telemetry.Telemetry
	Auth      *identity.Config
	Pipeline  pipeline.Config
	// Transport is the base RoundTripper for outbound calls; nil uses
	// http.DefaultTransport.
	Transport http.RoundTripper
}

// Server provides the HTTP endpoints.
type Server struct {
	echo      *echo.Echo
	config    *Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	recorder  *tracing.Recorder
	client    *http.Client
}

// NewServer creates the echo server and its middleware chain:
//
//	Recover → RequestID → ServerSpan → HTTPMetrics → identity → pipeline → route
func NewServer(opts Options) (*Server, error) {
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	auth := opts.Auth
	if auth == nil {
		auth = identity.NewDefaultConfig()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	recorder := tracing.NewRecorder(opts.Telemetry.TracerProvider())
	metrics := NewHTTPMetrics(opts.Telemetry.Meter(httpInstrumentationName), opts.Logger.Underlying())

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(tracing.ServerSpan(recorder))
	e.Use(metrics.MetricsMiddleware())
	e.Use(identity.Middleware(auth, opts.Logger))
	e.Use(pipeline.New(opts.Pipeline, opts.Logger).Middleware())

	s := &Server{
		echo:      e,
		config:    cfg,
		logger:    opts.Logger,
		telemetry: opts.Telemetry,
		recorder:  recorder,
		client: &http.Client{
			Transport: correlation.NewTransport(opts.Transport,
				otelhttp.WithTracerProvider(opts.Telemetry.TracerProvider()),
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return "outbound " + r.Method
				}),
			),
			Timeout: cfg.OutboundTimeout.Duration(),
		},
	}
	s.client.CheckRedirect = s.checkRedirect

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET(telemetry.MetricsPath, echo.WrapHandler(s.telemetry.MetricsHandler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/work", s.handleWork)
	v1.GET("/fail", s.handleFail)
	v1.GET("/outbound", s.handleOutbound)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start serves until ctx is cancelled, then shuts down gracefully within
// the configured timeout. It returns http.ErrServerClosed after a clean
// shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := s.config.Addr()
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info(ctx, "starting http server", zap.String("addr", addr))
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout.Duration())
		defer cancel()

		if err := s.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
