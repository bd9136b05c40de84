// Package tracing creates and closes spans around units of work and opens
// the server span of each inbound request.
package tracing

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ExceptionRecordedKey marks spans that closed with an error or panic.
const ExceptionRecordedKey = "exception.recorded"

// Span wraps an OpenTelemetry span. End is idempotent.
type Span struct {
	span      trace.Span
	ended     atomic.Bool
	exception atomic.Bool
	panicked  atomic.Bool
}

func newSpan(s trace.Span) *Span {
	return &Span{span: s}
}

// SetTag attaches a key/value to the span.
func (s *Span) SetTag(key string, value any) {
	if s == nil {
		return
	}
	s.span.SetAttributes(toAttribute(key, value))
}

// AddEvent records a named point in time with optional tags.
func (s *Span) AddEvent(name string, tags map[string]any) {
	if s == nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(tags))
	for k, v := range tags {
		attrs = append(attrs, toAttribute(k, v))
	}
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// RecordError records err as an exception and sets the span status to
// Error. A nil err is ignored.
func (s *Span) RecordError(err error) {
	if s == nil || err == nil {
		return
	}
	s.span.RecordError(err)
	s.markException(err.Error())
}

// RecordPanic records a recovered panic value as an exception. A panic
// re-raised through nested middleware is recorded once.
func (s *Span) RecordPanic(v any) {
	if s == nil || !s.panicked.CompareAndSwap(false, true) {
		return
	}
	msg := fmt.Sprintf("panic: %v", v)
	s.span.RecordError(fmt.Errorf("%s", msg), trace.WithStackTrace(true))
	s.markException(msg)
}

func (s *Span) markException(description string) {
	s.exception.Store(true)
	s.span.SetAttributes(attribute.Bool(ExceptionRecordedKey, true))
	s.span.SetStatus(codes.Error, description)
}

// ExceptionRecorded reports whether an error or panic was recorded.
func (s *Span) ExceptionRecorded() bool {
	return s != nil && s.exception.Load()
}

// End closes the span. Only the first call has an effect.
func (s *Span) End() {
	if s == nil || !s.ended.CompareAndSwap(false, true) {
		return
	}
	s.span.End()
}

// Ended reports whether End has been called.
func (s *Span) Ended() bool {
	return s != nil && s.ended.Load()
}

// SpanContext returns the identifiers of the span.
func (s *Span) SpanContext() trace.SpanContext {
	if s == nil {
		return trace.SpanContext{}
	}
	return s.span.SpanContext()
}

type spanCtxKey struct{}

// FromContext returns the span started by Recorder.Start on ctx or one of
// its parents, or nil.
func FromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanCtxKey{}).(*Span)
	return s
}

func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	case time.Duration:
		return attribute.String(key, v.String())
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}
