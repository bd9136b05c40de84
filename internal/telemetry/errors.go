package telemetry

import (
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// NewErrorHandler returns an OpenTelemetry error handler that reports export
// failures through logger without flooding it while a backend is down: at
// most one warning per interval, carrying the count of suppressed errors.
func NewErrorHandler(logger *zap.Logger, interval time.Duration) otel.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	var suppressed atomic.Int64

	return otel.ErrorHandlerFunc(func(err error) {
		if !limiter.Allow() {
			suppressed.Add(1)
			return
		}
		logger.Warn("telemetry export failed",
			zap.Error(err),
			zap.Int64("suppressed", suppressed.Swap(0)),
		)
	})
}
