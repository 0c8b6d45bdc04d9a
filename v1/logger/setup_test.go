package logger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed(tracing bool) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &Logger{Zap: zap.New(core), tracingEnabled: tracing}, logs
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel(Debug))
	assert.Equal(t, zapcore.WarnLevel, parseLevel(Warning))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel(Error))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}

func TestNewLoggerClient(t *testing.T) {
	l, err := NewLoggerClient(Config{Level: Debug, ServiceName: "receiver"})
	require.NoError(t, err)
	require.NotNil(t, l.Zap)
	assert.True(t, l.Zap.Core().Enabled(zapcore.DebugLevel))
}

func TestFieldsAndError(t *testing.T) {
	l, logs := observed(false)

	l.Error("publish failed", errors.New("boom"), map[string]interface{}{"queue": "data_queue"})

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "publish failed", entry.Message)
	ctx := entry.ContextMap()
	assert.Equal(t, "data_queue", ctx["queue"])
	assert.Equal(t, "boom", ctx["error"])
}

func TestWithContextAddsTraceIDs(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	l, logs := observed(true)
	l.InfoWithContext(ctx, "call start", nil)

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, span.SpanContext().TraceID().String(), fields["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), fields["span_id"])
}

func TestWithContextWithoutTracing(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	l, logs := observed(false)
	l.WarnWithContext(ctx, "slow reply", nil)

	_, ok := logs.All()[0].ContextMap()["trace_id"]
	assert.False(t, ok)
}

func TestWith(t *testing.T) {
	l, logs := observed(false)
	l.With(map[string]interface{}{"component": "rpc"}).Debug("hello", nil)
	assert.Equal(t, "rpc", logs.All()[0].ContextMap()["component"])
}
