package tracing

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// ServerSpan opens the root span of each inbound request. It continues a
// trace carried by the W3C traceparent and baggage headers, names the span
// "METHOD route" and closes it with the response status.
func ServerSpan(r *Recorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()
			ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))

			route := c.Path()
			name := req.Method
			if route != "" {
				name += " " + route
			}

			ctx, span := r.Start(ctx, name,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(req.Method),
					semconv.URLPath(req.URL.Path),
					semconv.HTTPRoute(route),
					semconv.ClientAddress(c.RealIP()),
				),
			)
			c.SetRequest(req.WithContext(ctx))

			defer func() {
				if p := recover(); p != nil {
					span.RecordPanic(p)
					span.End()
					panic(p)
				}

				status := c.Response().Status
				if err != nil {
					RecordHandlerError(span, err)
					if he, ok := err.(*echo.HTTPError); ok {
						status = he.Code
					} else if !c.Response().Committed {
						status = http.StatusInternalServerError
					}
				}
				span.SetTag(string(semconv.HTTPResponseStatusCodeKey), status)
				if status >= http.StatusInternalServerError && !span.ExceptionRecorded() {
					span.span.SetStatus(codes.Error, http.StatusText(status))
				}
				span.End()
			}()

			return next(c)
		}
	}
}

// RecordHandlerError records a handler's error on span. Client errors
// (an *echo.HTTPError below 500) only add a "client error" event; anything
// else is recorded as an exception.
func RecordHandlerError(span *Span, err error) {
	if err == nil {
		return
	}
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Code < http.StatusInternalServerError {
		span.AddEvent("client error", map[string]any{
			string(semconv.HTTPResponseStatusCodeKey): he.Code,
			"error.message": fmt.Sprint(he.Message),
		})
		return
	}
	span.RecordError(err)
}
