// Package correlation derives the identifiers that tie a request's logs,
// spans and responses together, and writes them onto outgoing headers.
package correlation

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/http/httpguts"
)

// Header names.
const (
	HeaderCorrelationID = "x-correlation-id"
	HeaderTraceID       = "trace-id"
	HeaderSpanID        = "span-id"
)

// Identifiers are the correlation values of one request.
type Identifiers struct {
	// TraceID and SpanID are lowercase hex, or empty when no span is
	// active.
	TraceID string
	SpanID  string
	// CorrelationID is never empty.
	CorrelationID string
	// Replaced is set when an inbound correlation ID was present but could
	// not be written back as a header value, and a fresh one was generated.
	Replaced bool
}

// Resolve derives the identifiers for the request in c.
//
// The trace and span IDs come from the span active on the request context.
// The correlation ID is the inbound x-correlation-id header when present,
// else the request ID assigned by echo's RequestID middleware, else a new
// UUIDv4. An inbound value is returned verbatim, whatever its length or
// encoding; only values that are not valid header field values are
// discarded.
func Resolve(c echo.Context) Identifiers {
	var ids Identifiers

	req := c.Request()
	if sc := trace.SpanContextFromContext(req.Context()); sc.IsValid() {
		ids.TraceID = sc.TraceID().String()
		ids.SpanID = sc.SpanID().String()
	}

	if inbound := req.Header.Get(HeaderCorrelationID); strings.TrimSpace(inbound) != "" {
		if httpguts.ValidHeaderFieldValue(inbound) {
			ids.CorrelationID = inbound
			return ids
		}
		ids.Replaced = true
	}

	if rid := requestID(c); rid != "" {
		ids.CorrelationID = rid
		return ids
	}

	ids.CorrelationID = uuid.NewString()
	return ids
}

// requestID returns the framework-assigned request ID, if usable.
func requestID(c echo.Context) string {
	rid := strings.TrimSpace(c.Response().Header().Get(echo.HeaderXRequestID))
	if rid == "" {
		rid = strings.TrimSpace(c.Request().Header.Get(echo.HeaderXRequestID))
	}
	if rid == "" || !httpguts.ValidHeaderFieldValue(rid) {
		return ""
	}
	return rid
}

type idsCtxKey struct{}

// WithIdentifiers stores ids on ctx.
func WithIdentifiers(ctx context.Context, ids Identifiers) context.Context {
	return context.WithValue(ctx, idsCtxKey{}, ids)
}

// FromContext returns the identifiers stored on ctx.
func FromContext(ctx context.Context) (Identifiers, bool) {
	ids, ok := ctx.Value(idsCtxKey{}).(Identifiers)
	return ids, ok
}
