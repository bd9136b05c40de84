package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer scope used by Recorder.
const InstrumentationName = "github.com/fyrsmithlabs/tracewire/internal/tracing"

// Recorder starts spans from a tracer provider. A nil Recorder, or one
// built with a nil provider, uses the global provider.
type Recorder struct {
	provider trace.TracerProvider
}

// NewRecorder creates a Recorder on provider.
func NewRecorder(provider trace.TracerProvider) *Recorder {
	return &Recorder{provider: provider}
}

func (r *Recorder) tracer() trace.Tracer {
	if r == nil || r.provider == nil {
		return otel.GetTracerProvider().Tracer(InstrumentationName)
	}
	return r.provider.Tracer(InstrumentationName)
}

// Start opens a span named name as a child of the span active on ctx.
// The returned context carries both the OpenTelemetry span and the *Span.
func (r *Recorder) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, *Span) {
	ctx, otelSpan := r.tracer().Start(ctx, name, opts...)
	s := newSpan(otelSpan)
	return context.WithValue(ctx, spanCtxKey{}, s), s
}

// Run executes fn inside a span named name. The span is closed on every
// path. A returned error or a panic is recorded as an exception; panics are
// re-raised after the span is closed.
func (r *Recorder) Run(ctx context.Context, name string, fn func(ctx context.Context, span *Span) error, opts ...trace.SpanStartOption) (err error) {
	ctx, span := r.Start(ctx, name, opts...)
	defer func() {
		if p := recover(); p != nil {
			span.RecordPanic(p)
			span.End()
			panic(p)
		}
		span.RecordError(err)
		span.End()
	}()
	return fn(ctx, span)
}
