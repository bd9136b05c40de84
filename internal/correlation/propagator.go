package correlation

import (
	"errors"
	"fmt"

	"github.com/labstack/echo/v4"
)

// ErrHeadersSent is the panic value cause when identifiers are written
// after the response was committed.
var ErrHeadersSent = errors.New("response headers already sent")

// Propagator writes identifiers onto response headers.
type Propagator struct{}

// Apply sets trace-id and span-id when a trace is active, and
// x-correlation-id always. span-id is written whenever trace-id is, even
// if empty.
//
// Apply panics when resp is already committed: that is a wiring bug in the
// middleware chain, not a runtime condition.
func (Propagator) Apply(resp *echo.Response, ids Identifiers) {
	if resp.Committed {
		panic(fmt.Errorf("correlation: cannot write %s: %w", HeaderCorrelationID, ErrHeadersSent))
	}

	h := resp.Header()
	if ids.TraceID != "" {
		h.Set(HeaderTraceID, ids.TraceID)
		h.Set(HeaderSpanID, ids.SpanID)
	}
	h.Set(HeaderCorrelationID, ids.CorrelationID)
}
