package correlation

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResponse() (*echo.Response, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	return echo.NewResponse(rec, echo.New()), rec
}

func TestPropagator_AllHeaders(t *testing.T) {
	resp, _ := newResponse()

	Propagator{}.Apply(resp, Identifiers{TraceID: testTraceID, SpanID: testSpanID, CorrelationID: "abc"})

	assert.Equal(t, testTraceID, resp.Header().Get(HeaderTraceID))
	assert.Equal(t, testSpanID, resp.Header().Get(HeaderSpanID))
	assert.Equal(t, "abc", resp.Header().Get(HeaderCorrelationID))
}

func TestPropagator_NoTrace(t *testing.T) {
	resp, _ := newResponse()

	Propagator{}.Apply(resp, Identifiers{CorrelationID: "abc"})

	assert.Empty(t, resp.Header().Values(HeaderTraceID))
	assert.Empty(t, resp.Header().Values(HeaderSpanID))
	assert.Equal(t, "abc", resp.Header().Get(HeaderCorrelationID))
}

func TestPropagator_SpanIDFollowsTraceID(t *testing.T) {
	resp, _ := newResponse()

	Propagator{}.Apply(resp, Identifiers{TraceID: testTraceID, CorrelationID: "abc"})

	assert.Equal(t, []string{""}, resp.Header().Values(HeaderSpanID))
}

func TestPropagator_InsideBeforeHook(t *testing.T) {
	resp, rec := newResponse()
	resp.Before(func() {
		Propagator{}.Apply(resp, Identifiers{CorrelationID: "late"})
	})

	resp.WriteHeader(http.StatusAccepted)

	assert.Equal(t, "late", rec.Header().Get(HeaderCorrelationID))
}

func TestPropagator_PanicsAfterCommit(t *testing.T) {
	resp, _ := newResponse()
	resp.WriteHeader(http.StatusOK)

	defer func() {
		p := recover()
		require.NotNil(t, p)
		err, ok := p.(error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, ErrHeadersSent))
		assert.Contains(t, err.Error(), ErrHeadersSent.Error())
	}()
	Propagator{}.Apply(resp, Identifiers{CorrelationID: "abc"})
}
