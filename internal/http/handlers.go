package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tracewire/internal/correlation"
	"github.com/fyrsmithlabs/tracewire/internal/tracing"
)

// ErrSimulatedFailure is returned by GET /api/v1/fail.
var ErrSimulatedFailure = errors.New("simulated downstream failure")

var errOutboundDisabled = errors.New("outbound calls are disabled; set server.outbound_allowed_hosts")

// handleHealth reports liveness and telemetry state.
func (s *Server) handleHealth(c echo.Context) error {
	health := s.telemetry.Health()
	resp := HealthResponse{
		Status:    "ok",
		Telemetry: "healthy",
		Exporter:  string(s.telemetry.Mode()),
		Reasons:   health.Reasons,
	}
	if health.Degraded {
		resp.Telemetry = "degraded"
	}
	return c.JSON(http.StatusOK, resp)
}

// handleWork runs a named unit of work inside a span, optionally
// suspending for ?delay= (milliseconds or a Go duration).
func (s *Server) handleWork(c echo.Context) error {
	name := c.QueryParam("name")
	if name == "" {
		name = "default"
	}
	delay, err := parseDelay(c.QueryParam("delay"), s.config.MaxWorkDelay.Duration())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	err = s.recorder.Run(ctx, "work", func(ctx context.Context, span *tracing.Span) error {
		span.SetTag("work.name", name)
		span.SetTag("work.delay_ms", delay.Milliseconds())
		s.logger.Info(ctx, "performing work", zap.String("name", name), zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			span.AddEvent("work finished", nil)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		return err
	}

	ids, _ := correlation.FromContext(ctx)
	return c.JSON(http.StatusOK, WorkResponse{
		Name:          name,
		Delay:         delay.String(),
		CorrelationID: ids.CorrelationID,
		TraceID:       ids.TraceID,
	})
}

// handleFail fails inside a span so the failure path can be observed.
func (s *Server) handleFail(c echo.Context) error {
	ctx := c.Request().Context()
	return s.recorder.Run(ctx, "fail", func(ctx context.Context, span *tracing.Span) error {
		s.logger.Warn(ctx, "about to fail")
		return ErrSimulatedFailure
	})
}

// handleOutbound calls ?url= with correlation and trace headers attached.
func (s *Server) handleOutbound(c echo.Context) error {
	target, err := s.parseTarget(c.QueryParam("url"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	var status int
	err = s.recorder.Run(ctx, "outbound call", func(ctx context.Context, span *tracing.Span) error {
		span.SetTag("outbound.host", target.Host)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			return err
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		span.SetTag("outbound.status", status)
		s.logger.Info(ctx, "outbound call completed", zap.String("host", target.Host), zap.Int("status", status))
		return nil
	})
	if err != nil {
		s.logger.Warn(ctx, "outbound call failed", zap.String("host", target.Host), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "outbound call failed").SetInternal(err)
	}

	ids, _ := correlation.FromContext(ctx)
	return c.JSON(http.StatusOK, OutboundResponse{
		URL:           target.String(),
		Status:        status,
		CorrelationID: ids.CorrelationID,
	})
}

// parseDelay accepts "", an integer number of milliseconds, or a Go
// duration string.
func parseDelay(raw string, max time.Duration) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	var d time.Duration
	if ms, err := strconv.Atoi(raw); err == nil {
		d = time.Duration(ms) * time.Millisecond
	} else if d, err = time.ParseDuration(raw); err != nil {
		return 0, fmt.Errorf("invalid delay %q", raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("delay must not be negative")
	}
	if d > max {
		return 0, fmt.Errorf("delay must not exceed %s", max)
	}
	return d, nil
}

// parseTarget accepts absolute http(s) URLs whose host is allowlisted.
func (s *Server) parseTarget(raw string) (*url.URL, error) {
	if len(s.config.OutboundAllowedHosts) == 0 {
		return nil, errOutboundDisabled
	}
	if raw == "" {
		return nil, fmt.Errorf("url query parameter is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("url must be absolute")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("url scheme must be http or https")
	}
	if !s.config.outboundAllowed(u) {
		return nil, fmt.Errorf("host %q is not in outbound_allowed_hosts", u.Host)
	}
	return u, nil
}

// checkRedirect keeps redirects inside the outbound allowlist.
func (s *Server) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return fmt.Errorf("stopped after %d redirects", len(via))
	}
	if !s.config.outboundAllowed(req.URL) {
		return fmt.Errorf("redirect to %q is not in outbound_allowed_hosts", req.URL.Host)
	}
	return nil
}
