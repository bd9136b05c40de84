package correlation

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewTransport returns a RoundTripper for outbound calls made on behalf of
// a request. It opens a client span and injects traceparent and baggage
// through the global propagator, and forwards the request's correlation ID
// as x-correlation-id unless the caller already set one.
//
// A nil base uses http.DefaultTransport.
func NewTransport(base http.RoundTripper, opts ...otelhttp.Option) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(&correlationTransport{base: base}, opts...)
}

type correlationTransport struct {
	base http.RoundTripper
}

func (t *correlationTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ids, ok := FromContext(req.Context())
	if !ok || ids.CorrelationID == "" || req.Header.Get(HeaderCorrelationID) != "" {
		return t.base.RoundTrip(req)
	}

	// RoundTrippers must not modify the caller's request.
	out := req.Clone(req.Context())
	out.Header.Set(HeaderCorrelationID, ids.CorrelationID)
	return t.base.RoundTrip(out)
}
