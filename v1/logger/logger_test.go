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

func newObservedLogger(tracing bool) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewFromZap(zap.New(core), tracing), logs
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel(Debug))
	assert.Equal(t, zapcore.InfoLevel, parseLevel(Info))
	assert.Equal(t, zapcore.WarnLevel, parseLevel(Warning))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel(Error))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}

func TestLoggerFields(t *testing.T) {
	log, logs := newObservedLogger(false)

	log.Error("commit failed", errors.New("boom"), map[string]interface{}{
		"session_id": "abc",
	}, map[string]interface{}{
		"session_id": "override",
		"outcome":    "commit",
	})

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)
	assert.Equal(t, "commit failed", entry.Message)

	fields := entry.ContextMap()
	assert.Equal(t, "boom", fields["error"])
	assert.Equal(t, "override", fields["session_id"])
	assert.Equal(t, "commit", fields["outcome"])
}

func TestWithContextAddsTraceIDs(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	log, logs := newObservedLogger(true)
	log.InfoWithContext(ctx, "traced", nil)
	log.InfoWithContext(context.Background(), "untraced", nil)

	require.Equal(t, 2, logs.Len())
	traced := logs.All()[0].ContextMap()
	assert.Equal(t, span.SpanContext().TraceID().String(), traced["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), traced["span_id"])

	_, ok := logs.All()[1].ContextMap()["trace_id"]
	assert.False(t, ok)
}

func TestWithContextTracingDisabled(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	log, logs := newObservedLogger(false)
	log.WarnWithContext(ctx, "no trace", nil)

	_, ok := logs.All()[0].ContextMap()["trace_id"]
	assert.False(t, ok)
}
