package database

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const (
	tracingPluginName  = "sqlscope:tracing"
	tracerName         = "github.com/Aleph-Alpha/sqlscope/v1/database"
	spanInstanceKey    = "sqlscope:span"
	maxStatementLength = 2048

	parentContextInstanceKey = "sqlscope:span_parent"
)

// tracingPlugin opens an OpenTelemetry span around every GORM statement.
type tracingPlugin struct {
	tracer  trace.Tracer
	dialect string
}

func newTracingPlugin(tp trace.TracerProvider, dialect string) *tracingPlugin {
	return &tracingPlugin{
		tracer:  tp.Tracer(tracerName),
		dialect: dialect,
	}
}

func (p *tracingPlugin) Name() string {
	return tracingPluginName
}

func (p *tracingPlugin) Initialize(db *gorm.DB) error {
	callbacks := db.Callback()
	register := []struct {
		operation string
		err       error
	}{
		{"create", callbacks.Create().Before("gorm:create").Register("sqlscope:before_create", p.before("create"))},
		{"create", callbacks.Create().After("gorm:create").Register("sqlscope:after_create", p.after)},
		{"query", callbacks.Query().Before("gorm:query").Register("sqlscope:before_query", p.before("query"))},
		{"query", callbacks.Query().After("gorm:query").Register("sqlscope:after_query", p.after)},
		{"update", callbacks.Update().Before("gorm:update").Register("sqlscope:before_update", p.before("update"))},
		{"update", callbacks.Update().After("gorm:update").Register("sqlscope:after_update", p.after)},
		{"delete", callbacks.Delete().Before("gorm:delete").Register("sqlscope:before_delete", p.before("delete"))},
		{"delete", callbacks.Delete().After("gorm:delete").Register("sqlscope:after_delete", p.after)},
		{"row", callbacks.Row().Before("gorm:row").Register("sqlscope:before_row", p.before("row"))},
		{"row", callbacks.Row().After("gorm:row").Register("sqlscope:after_row", p.after)},
		{"raw", callbacks.Raw().Before("gorm:raw").Register("sqlscope:before_raw", p.before("raw"))},
		{"raw", callbacks.Raw().After("gorm:raw").Register("sqlscope:after_raw", p.after)},
	}

	for _, r := range register {
		if r.err != nil {
			return fmt.Errorf("failed to register %s tracing callback: %w", r.operation, r.err)
		}
	}
	return nil
}

func (p *tracingPlugin) before(operation string) func(*gorm.DB) {
	return func(tx *gorm.DB) {
		ctx := tx.Statement.Context
		attrs := []attribute.KeyValue{
			attribute.String("db.system", p.dialect),
			attribute.String("db.operation", operation),
		}
		if tx.Statement.Table != "" {
			attrs = append(attrs, attribute.String("db.sql.table", tx.Statement.Table))
		}

		spanCtx, span := p.tracer.Start(ctx, "db."+operation,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(attrs...),
		)
		tx.InstanceSet(spanInstanceKey, span)
		tx.InstanceSet(parentContextInstanceKey, ctx)
		tx.Statement.Context = spanCtx
	}
}

func (p *tracingPlugin) after(tx *gorm.DB) {
	value, ok := tx.InstanceGet(spanInstanceKey)
	if !ok {
		return
	}
	span, ok := value.(trace.Span)
	if !ok {
		return
	}
	defer span.End()

	if parent, ok := tx.InstanceGet(parentContextInstanceKey); ok {
		if ctx, ok := parent.(context.Context); ok {
			tx.Statement.Context = ctx
		}
	}

	statement := tx.Statement.SQL.String()
	if len(statement) > maxStatementLength {
		statement = statement[:maxStatementLength]
	}
	span.SetAttributes(
		attribute.String("db.statement", statement),
		attribute.Int64("db.rows_affected", tx.RowsAffected),
	)

	if tx.Error != nil && !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		span.RecordError(tx.Error)
		span.SetStatus(codes.Error, tx.Error.Error())
	}
}
