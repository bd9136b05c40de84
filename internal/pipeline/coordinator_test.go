package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/tracewire/internal/correlation"
	"github.com/fyrsmithlabs/tracewire/internal/identity"
	"github.com/fyrsmithlabs/tracewire/internal/logging"
	"github.com/fyrsmithlabs/tracewire/internal/tracing"
)

type harness struct {
	echo   *echo.Echo
	logs   *logging.TestLogger
	spans  *tracetest.SpanRecorder
	mu     sync.Mutex
	stages []Stage
}

// withClaims simulates the identity middleware.
func withClaims(claims map[string]any) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if claims != nil {
				req := c.Request()
				c.SetRequest(req.WithContext(identity.WithIdentity(req.Context(), &identity.Identity{Claims: claims})))
			}
			return next(c)
		}
	}
}

func newHarness(t *testing.T, cfg Config, claims map[string]any) *harness {
	t.Helper()
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	h := &harness{
		echo:  echo.New(),
		logs:  logging.NewTestLogger(),
		spans: tracetest.NewSpanRecorder(),
	}
	if cfg.Observer == nil {
		cfg.Observer = func(s Stage) {
			h.mu.Lock()
			h.stages = append(h.stages, s)
			h.mu.Unlock()
		}
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(h.spans))
	h.echo.Use(
		middleware.Recover(),
		middleware.RequestID(),
		tracing.ServerSpan(tracing.NewRecorder(tp)),
		withClaims(claims),
		New(cfg, h.logs.Logger).Middleware(),
	)
	return h
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.echo.ServeHTTP(rec, req)
	return rec
}

func (h *harness) recordedStages() []Stage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Stage(nil), h.stages...)
}

var fullSequence = []Stage{Entered, ContextPushed, HandlerRunning, ContextPopped, HeadersWritten, Exited}

func TestCoordinator_InboundCorrelationID(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.echo.GET("/ok", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(correlation.HeaderCorrelationID, "abc-123")
	rec := h.do(req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc-123", rec.Header().Get(correlation.HeaderCorrelationID))
	assert.NotEmpty(t, rec.Header().Get(correlation.HeaderTraceID))
	assert.NotEmpty(t, rec.Header().Get(correlation.HeaderSpanID))
	assert.Equal(t, fullSequence, h.recordedStages())
}

func TestCoordinator_InboundCorrelationIDRoundTripsVerbatim(t *testing.T) {
	for _, id := range []string{strings.Repeat("x", 200), "café-42"} {
		h := newHarness(t, Config{}, nil)
		h.echo.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

		req := httptest.NewRequest(http.MethodGet, "/ok", nil)
		req.Header.Set(correlation.HeaderCorrelationID, id)
		rec := h.do(req)

		assert.Equal(t, id, rec.Header().Get(correlation.HeaderCorrelationID))
		h.logs.AssertField(t, "request completed", logging.PropCorrelationID, id)
		h.logs.AssertNotLogged(t, zapcore.DebugLevel, "inbound correlation id rejected")
	}
}

func TestCoordinator_NoHeaderNoTrace(t *testing.T) {
	logs := logging.NewTestLogger()
	e := echo.New()
	e.Use(New(Config{}, logs.Logger).Middleware())
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))

	assert.NotEmpty(t, rec.Header().Get(correlation.HeaderCorrelationID))
	assert.Empty(t, rec.Header().Values(correlation.HeaderTraceID))
	assert.Empty(t, rec.Header().Values(correlation.HeaderSpanID))
}

func TestCoordinator_RequestIDBecomesCorrelationID(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.echo.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	rec := h.do(httptest.NewRequest(http.MethodGet, "/ok", nil))

	rid := rec.Header().Get(echo.HeaderXRequestID)
	require.NotEmpty(t, rid)
	assert.Equal(t, rid, rec.Header().Get(correlation.HeaderCorrelationID))
}

func TestCoordinator_UserIDFromSecondaryClaim(t *testing.T) {
	h := newHarness(t, Config{}, map[string]any{"oid": "42"})

	var rc *RequestContext
	h.echo.GET("/me", func(c echo.Context) error {
		rc, _ = FromContext(c.Request().Context())
		h.logs.Info(c.Request().Context(), "handling")
		return c.NoContent(http.StatusOK)
	})
	h.do(httptest.NewRequest(http.MethodGet, "/me", nil))

	require.NotNil(t, rc)
	assert.Equal(t, "42", rc.UserID)
	h.logs.AssertField(t, "handling", logging.PropUserID, "42")
	h.logs.AssertField(t, "handling", logging.PropUserName, identity.Anonymous)
}

func TestCoordinator_SingleClaimChain(t *testing.T) {
	h := newHarness(t, Config{UserIDClaims: []string{"sub"}}, map[string]any{"oid": "42"})
	h.echo.GET("/me", func(c echo.Context) error {
		h.logs.Info(c.Request().Context(), "handling")
		return c.NoContent(http.StatusOK)
	})
	h.do(httptest.NewRequest(http.MethodGet, "/me", nil))

	h.logs.AssertField(t, "handling", logging.PropUserID, identity.Anonymous)
}

func TestCoordinator_AnonymousProperties(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	var rc *RequestContext
	h.echo.GET("/ok", func(c echo.Context) error {
		rc, _ = FromContext(c.Request().Context())
		h.logs.Info(c.Request().Context(), "handling")
		return c.NoContent(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/ok?x=1", nil)
	req.Header.Set(correlation.HeaderCorrelationID, "abc")
	h.do(req)

	require.NotNil(t, rc)
	assert.Empty(t, rc.UserID)
	assert.Empty(t, rc.UserName)
	h.logs.AssertField(t, "handling", logging.PropUserID, identity.Anonymous)
	h.logs.AssertField(t, "handling", logging.PropUserName, identity.Anonymous)
	h.logs.AssertField(t, "handling", logging.PropRequestPath, "/ok")
	h.logs.AssertField(t, "handling", logging.PropRequestMethod, http.MethodGet)
	h.logs.AssertField(t, "handling", logging.PropCorrelationID, "abc")
	h.logs.AssertField(t, "handling", logging.PropClientIP, rc.ClientIP)
	h.logs.AssertTraceCorrelation(t, "handling")
}

func TestCoordinator_HandlerErrorStillPopsAndWritesHeaders(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	var handlerCtx context.Context
	h.echo.GET("/fail", func(c echo.Context) error {
		handlerCtx = c.Request().Context()
		return errors.New("downstream exploded")
	})

	req := httptest.NewRequest(http.MethodGet, "/fail", nil)
	req.Header.Set(correlation.HeaderCorrelationID, "err-1")
	rec := h.do(req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "err-1", rec.Header().Get(correlation.HeaderCorrelationID))
	assert.NotEmpty(t, rec.Header().Get(correlation.HeaderTraceID))
	assert.Empty(t, logging.PropertiesFromContext(handlerCtx), "log context fully popped")
	assert.Equal(t, fullSequence, h.recordedStages())

	ended := h.spans.Ended()
	require.Len(t, ended, 1)
	assert.True(t, hasExceptionRecorded(ended[0]))

	h.logs.AssertField(t, "request completed", "status", int64(http.StatusInternalServerError))
	h.logs.AssertField(t, "request completed", logging.PropCorrelationID, "err-1")
}

func TestCoordinator_ClientErrorIsNotAnException(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.echo.GET("/bad", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "missing name")
	})

	rec := h.do(httptest.NewRequest(http.MethodGet, "/bad", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(correlation.HeaderCorrelationID))

	ended := h.spans.Ended()
	require.Len(t, ended, 1)
	assert.False(t, hasExceptionRecorded(ended[0]))
	assert.NotEqual(t, codes.Error, ended[0].Status().Code)
}

func TestCoordinator_UnmatchedRouteIsNotAnException(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	ended := h.spans.Ended()
	require.Len(t, ended, 1)
	assert.False(t, hasExceptionRecorded(ended[0]))
}

func TestCoordinator_PanicStillPopsAndWritesHeaders(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	var handlerCtx context.Context
	h.echo.GET("/panic", func(c echo.Context) error {
		handlerCtx = c.Request().Context()
		panic("kaboom")
	})

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set(correlation.HeaderCorrelationID, "panic-1")
	rec := h.do(req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "panic-1", rec.Header().Get(correlation.HeaderCorrelationID))
	assert.Empty(t, logging.PropertiesFromContext(handlerCtx))
	assert.Equal(t, fullSequence, h.recordedStages())

	ended := h.spans.Ended()
	require.Len(t, ended, 1)
	assert.True(t, hasExceptionRecorded(ended[0]))
	h.logs.AssertLogged(t, zapcore.ErrorLevel, "request completed")
}

func TestCoordinator_PanicPropagates(t *testing.T) {
	var stages []Stage
	mw := New(Config{Observer: func(s Stage) { stages = append(stages, s) }}, nil).Middleware()
	handler := mw(func(echo.Context) error { panic("kaboom") })

	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	assert.PanicsWithValue(t, "kaboom", func() { _ = handler(c) })
	assert.Equal(t, fullSequence, stages)
	assert.NotEmpty(t, c.Response().Header().Get(correlation.HeaderCorrelationID), "headers set before the panic continues")
}

func TestCoordinator_HandlerThatNeverWrites(t *testing.T) {
	mw := New(Config{}, nil).Middleware()
	handler := mw(func(echo.Context) error { return nil })

	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, handler(c))
	assert.False(t, c.Response().Committed)
	assert.NotEmpty(t, c.Response().Header().Get(correlation.HeaderCorrelationID))
}

func TestCoordinator_CancelledRequestPops(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	var handlerCtx context.Context
	h.echo.GET("/slow", func(c echo.Context) error {
		handlerCtx = c.Request().Context()
		<-handlerCtx.Done()
		return handlerCtx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.do(httptest.NewRequest(http.MethodGet, "/slow", nil).WithContext(ctx))

	assert.Empty(t, logging.PropertiesFromContext(handlerCtx))
	assert.Equal(t, fullSequence, h.recordedStages())
}

func TestCoordinator_RejectedInboundIDIsLogged(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.echo.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header[http.CanonicalHeaderKey(correlation.HeaderCorrelationID)] = []string{"bad\x01id"}
	rec := h.do(req)

	assert.NotEqual(t, "bad\x01id", rec.Header().Get(correlation.HeaderCorrelationID))
	h.logs.AssertLogged(t, zapcore.DebugLevel, "inbound correlation id rejected")
}

func TestCoordinator_ConcurrentRequestsAreIsolated(t *testing.T) {
	h := newHarness(t, Config{Observer: func(Stage) {}}, nil)
	h.echo.GET("/work", func(c echo.Context) error {
		ctx := c.Request().Context()
		ids, _ := correlation.FromContext(ctx)
		v, _ := logging.PropertyValue(ctx, logging.PropCorrelationID)
		if v != ids.CorrelationID {
			return fmt.Errorf("saw %v, want %s", v, ids.CorrelationID)
		}
		return c.String(http.StatusOK, ids.CorrelationID)
	})

	const n = 50
	var wg sync.WaitGroup
	results := make(chan [2]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/work", nil)
			if i%2 == 0 {
				req.Header.Set(correlation.HeaderCorrelationID, fmt.Sprintf("req-%d", i))
			}
			rec := h.do(req)
			results <- [2]string{rec.Header().Get(correlation.HeaderCorrelationID), rec.Body.String()}
		}(i)
	}
	wg.Wait()
	close(results)

	seen := map[string]bool{}
	for r := range results {
		assert.Equal(t, r[0], r[1], "header matches the id the handler saw")
		assert.False(t, seen[r[0]], "correlation ids are unique across requests")
		seen[r[0]] = true
	}
	assert.Len(t, seen, n)
}

func TestStage_String(t *testing.T) {
	assert.Equal(t, "context_popped", ContextPopped.String())
	assert.Equal(t, "unknown", Stage(42).String())
}

func hasExceptionRecorded(span sdktrace.ReadOnlySpan) bool {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == tracing.ExceptionRecordedKey {
			return kv.Value.AsBool()
		}
	}
	return false
}
