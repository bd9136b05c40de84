package pipeline

import "context"

// RequestContext is the per-request correlation state. It lives only on
// the request's context.Context.
type RequestContext struct {
	TraceID       string
	SpanID        string
	CorrelationID string
	ClientIP      string
	RequestPath   string
	RequestMethod string
	// UserID and UserName are empty for anonymous callers.
	UserID   string
	UserName string
}

type requestCtxKey struct{}

func withRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, rc)
}

// FromContext returns the RequestContext of the request ctx belongs to.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(requestCtxKey{}).(*RequestContext)
	return rc, ok
}
