// Package pipeline orders correlation, log enrichment and header
// propagation around each inbound request.
package pipeline

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tracewire/internal/correlation"
	"github.com/fyrsmithlabs/tracewire/internal/identity"
	"github.com/fyrsmithlabs/tracewire/internal/logging"
	"github.com/fyrsmithlabs/tracewire/internal/tracing"
)

// Config configures the Coordinator.
type Config struct {
	// UserIDClaims is the claim chain for the UserId property. Empty uses
	// identity.DefaultUserIDClaims.
	UserIDClaims []string
	// Observer, when set, sees every stage transition.
	Observer Observer
}

// Coordinator runs the correlation pipeline once per request.
type Coordinator struct {
	claims     []string
	observer   Observer
	logger     *logging.Logger
	propagator correlation.Propagator
}

// New creates a Coordinator. A nil logger discards the completion log.
func New(cfg Config, logger *logging.Logger) *Coordinator {
	claims := cfg.UserIDClaims
	if len(claims) == 0 {
		claims = identity.DefaultUserIDClaims
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Coordinator{
		claims:   claims,
		observer: cfg.Observer,
		logger:   logger,
	}
}

func (p *Coordinator) observe(s Stage) {
	if p.observer != nil {
		p.observer(s)
	}
}

// Middleware returns the echo middleware. It must run inside the server
// span and identity middleware and outside the route handlers.
//
// Handler errors are passed to echo's HTTPErrorHandler while the request
// properties are still pushed, so the error response and its log lines
// carry them. The middleware then returns nil. Panics are recorded on the
// request span and re-raised once the context is popped and the headers
// are in place.
func (p *Coordinator) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p.observe(Entered)

			req := c.Request()
			ids := correlation.Resolve(c)
			rc := p.requestContext(c, ids)

			ctx := correlation.WithIdentifiers(req.Context(), ids)
			ctx = withRequestContext(ctx, rc)
			ctx, scope := logging.Enrich(ctx,
				logging.P(logging.PropUserID, orAnonymous(rc.UserID)),
				logging.P(logging.PropUserName, orAnonymous(rc.UserName)),
				logging.P(logging.PropClientIP, rc.ClientIP),
				logging.P(logging.PropRequestPath, rc.RequestPath),
				logging.P(logging.PropRequestMethod, rc.RequestMethod),
				logging.P(logging.PropCorrelationID, rc.CorrelationID),
			)
			c.SetRequest(req.WithContext(ctx))
			p.observe(ContextPushed)

			if ids.Replaced {
				p.logger.Debug(ctx, "inbound correlation id rejected, generated a new one")
			}

			// The write happens in the Before hook when the handler commits
			// the response, or at exit otherwise.
			var once sync.Once
			writeHeaders := func() {
				once.Do(func() { p.propagator.Apply(c.Response(), ids) })
			}
			c.Response().Before(writeHeaders)

			start := time.Now()
			defer func() {
				r := recover()
				if r != nil {
					tracing.FromContext(ctx).RecordPanic(r)
				}
				p.logCompletion(c, start, r)

				scope.Close()
				p.observe(ContextPopped)

				if !c.Response().Committed {
					writeHeaders()
				}
				p.observe(HeadersWritten)

				p.observe(Exited)
				if r != nil {
					panic(r)
				}
			}()

			p.observe(HandlerRunning)
			if err := next(c); err != nil {
				tracing.RecordHandlerError(tracing.FromContext(ctx), err)
				c.Error(err)
			}
			return nil
		}
	}
}

func (p *Coordinator) requestContext(c echo.Context, ids correlation.Identifiers) *RequestContext {
	req := c.Request()
	rc := &RequestContext{
		TraceID:       ids.TraceID,
		SpanID:        ids.SpanID,
		CorrelationID: ids.CorrelationID,
		ClientIP:      c.RealIP(),
		RequestPath:   req.URL.Path,
		RequestMethod: req.Method,
	}
	if id := identity.FromContext(req.Context()); id != nil {
		rc.UserID = nonAnonymous(identity.ResolveUserID(id, p.claims))
		rc.UserName = nonAnonymous(identity.ResolveUserName(id))
	}
	return rc
}

func (p *Coordinator) logCompletion(c echo.Context, start time.Time, panicked any) {
	ctx := c.Request().Context()
	fields := []zap.Field{
		zap.String("route", c.Path()),
		zap.Duration("duration", time.Since(start)),
	}

	if panicked != nil {
		fields = append(fields,
			zap.Int("status", http.StatusInternalServerError),
			zap.String("panic", fmt.Sprint(panicked)),
		)
		p.logger.Error(ctx, "request completed", fields...)
		return
	}

	fields = append(fields,
		zap.Int("status", c.Response().Status),
		zap.Int64("size", c.Response().Size),
	)
	p.logger.Info(ctx, "request completed", fields...)
}

func orAnonymous(v string) string {
	if v == "" {
		return identity.Anonymous
	}
	return v
}

func nonAnonymous(v string) string {
	if v == identity.Anonymous {
		return ""
	}
	return v
}
