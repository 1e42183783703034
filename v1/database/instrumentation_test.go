package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

func spanAttribute(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, attr := range span.Attributes() {
		if attr.Key == key {
			return attr.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracingPluginRecordsStatements(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	db := newTestDatabase(t, WithTracerProvider(tp))

	_, err := db.Exec(context.Background(), "INSERT INTO widgets (name) VALUES (?)", "traced")
	require.NoError(t, err)

	var raw sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		if span.Name() == "db.raw" {
			raw = span
		}
	}
	require.NotNil(t, raw)

	system, ok := spanAttribute(raw, "db.system")
	require.True(t, ok)
	assert.Equal(t, DialectSQLite, system.AsString())

	statement, ok := spanAttribute(raw, "db.statement")
	require.True(t, ok)
	assert.Contains(t, statement.AsString(), "INSERT INTO widgets")

	rows, ok := spanAttribute(raw, "db.rows_affected")
	require.True(t, ok)
	assert.Equal(t, int64(1), rows.AsInt64())
}

func TestTracingPluginRecordsErrors(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	db := newTestDatabase(t, WithTracerProvider(tp))

	require.Error(t, db.DB().Exec("SELECT * FROM missing_table").Error)
	require.ErrorIs(t, db.DB().First(&widget{}).Error, gorm.ErrRecordNotFound)

	var failed, notFound sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		switch span.Name() {
		case "db.raw":
			failed = span
		case "db.query":
			notFound = span
		}
	}
	require.NotNil(t, failed)
	require.NotNil(t, notFound)
	assert.Equal(t, codes.Error, failed.Status().Code)
	assert.Equal(t, codes.Unset, notFound.Status().Code)
}

func TestTracingPluginPropagatesSpanContext(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	db := newTestDatabase(t, WithTracerProvider(tp))

	var inside trace.SpanContext
	require.NoError(t, db.DB().Callback().Raw().Before("gorm:raw").After("sqlscope:before_raw").Register("test:capture_span", func(tx *gorm.DB) {
		inside = trace.SpanFromContext(tx.Statement.Context).SpanContext()
	}))

	ctx, parent := tp.Tracer("test").Start(context.Background(), "request")
	require.NoError(t, db.DB().WithContext(ctx).Exec("INSERT INTO widgets (name) VALUES (?)", "nested").Error)
	parent.End()

	var raw sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		if span.Name() == "db.raw" {
			raw = span
		}
	}
	require.NotNil(t, raw)
	assert.Equal(t, parent.SpanContext().SpanID(), raw.Parent().SpanID())
	assert.Equal(t, raw.SpanContext().SpanID(), inside.SpanID())
}

func TestTracingPluginRegisteredOnce(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	db := newTestDatabase(t, WithTracerProvider(tp))

	err := db.DB().Use(newTracingPlugin(tp, DialectSQLite))
	assert.ErrorIs(t, err, gorm.ErrRegistered)
}
