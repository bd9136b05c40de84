package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output.OTEL = false

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "info", logger.Level())
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestNewLogger_OTELOnlyWithoutProvider(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output.Stdout = false

	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestLogger_SetLevel(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output.OTEL = false
	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)

	child := logger.Named("child")

	require.NoError(t, logger.SetLevel("trace"))
	assert.Equal(t, "trace", logger.Level())
	assert.True(t, child.Enabled(TraceLevel), "children share the level")

	require.NoError(t, logger.SetLevel("WARN"))
	assert.False(t, child.Enabled(zapcore.InfoLevel))

	assert.Error(t, logger.SetLevel("loud"))
	assert.Equal(t, "warn", logger.Level())
}

func TestLogger_AttachesContext(t *testing.T) {
	tl := NewTestLogger()

	ctx := trace.ContextWithSpanContext(context.Background(), testSpanContext(t))
	ctx, scope := Enrich(ctx, P(PropUserID, "u1"))

	tl.Info(ctx, "inside", zap.Int("n", 1))
	scope.Close()
	tl.Info(ctx, "after")

	tl.AssertTraceCorrelation(t, "inside")
	tl.AssertField(t, "inside", PropUserID, "u1")
	tl.AssertField(t, "inside", "n", int64(1))
	tl.AssertNoField(t, "after", PropUserID)
}

func TestLogger_Levels(t *testing.T) {
	tl := NewTestLogger()
	ctx := context.Background()

	tl.Trace(ctx, "t")
	tl.Debug(ctx, "d")
	tl.Info(ctx, "i")
	tl.Warn(ctx, "w")
	tl.Error(ctx, "e")

	tl.AssertLogged(t, TraceLevel, "t")
	tl.AssertLogged(t, zapcore.DebugLevel, "d")
	tl.AssertLogged(t, zapcore.InfoLevel, "i")
	tl.AssertLogged(t, zapcore.WarnLevel, "w")
	tl.AssertLogged(t, zapcore.ErrorLevel, "e")

	require.NoError(t, tl.SetLevel("info"))
	tl.Reset()
	tl.Debug(ctx, "hidden")
	tl.AssertNotLogged(t, zapcore.DebugLevel, "hidden")
}

func TestLogger_With(t *testing.T) {
	tl := NewTestLogger()
	tl.With(zap.String("component", "pipeline")).Info(context.Background(), "hello")

	tl.AssertField(t, "hello", "component", "pipeline")
}

func TestLogger_UserIDClaims(t *testing.T) {
	tl := NewTestLogger()
	assert.Equal(t, []string{"sub", "oid"}, tl.UserIDClaims())
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
		err  bool
	}{
		{"trace", TraceLevel, false},
		{"TRACE", TraceLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"", zapcore.InfoLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"bogus", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := LevelFromString(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsStdoutSyncError(t *testing.T) {
	assert.False(t, isStdoutSyncError(assert.AnError))
}
