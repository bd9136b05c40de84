// Package logging provides structured logging with request-scoped context
// properties and OpenTelemetry export.
//
// # Overview
//
// The package wraps Zap with:
//   - Custom Trace level (-2, below Debug) and a runtime-adjustable level
//   - Dual output (stdout + OpenTelemetry through the otelzap bridge)
//   - A per-context property stack (Enrich / Scope.Close)
//   - Automatic trace_id/span_id injection
//   - Field and pattern based secret redaction
//   - Sampling below error level
//
// # Request properties
//
// Enrich pushes properties onto the stack carried by a context.Context and
// returns a Scope. Every statement logged through the returned context
// carries them until the scope is closed:
//
//	ctx, scope := logging.Enrich(ctx,
//	    logging.P(logging.PropCorrelationID, id),
//	    logging.P(logging.PropUserID, user),
//	)
//	defer scope.Close()
//	logger.Info(ctx, "request processed", zap.Duration("duration", d))
//
// Output:
//
//	{
//	  "ts": "2026-03-02T10:15:30Z",
//	  "level": "info",
//	  "msg": "request processed",
//	  "trace_id": "4bf92f3577b34da6a3ce929d0e0e4736",
//	  "span_id": "00f067aa0ba902b7",
//	  "CorrelationId": "abc-123",
//	  "UserId": "user-42",
//	  "duration": "45ms"
//	}
//
// Close pops in reverse order and is idempotent. Once closed, the
// properties are invisible to every holder of the context, including
// goroutines that outlive the request.
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "test message", zap.String("key", "value"))
//	tl.AssertLogged(t, zapcore.InfoLevel, "test message")
//	tl.AssertField(t, "test message", "key", "value")
package logging
