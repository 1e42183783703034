// Package tracer sets up OpenTelemetry tracing.
//
// NewClient builds an SDK tracer provider (optionally exporting over OTLP
// HTTP), installs it globally and exposes it through TracerProvider so the
// database package can instrument GORM with it:
//
//	t := tracer.NewClient(tracer.Config{ServiceName: "orders", AppEnv: "prod"}, log)
//	db, err := database.New(cfg, log, database.WithTracerProvider(t.TracerProvider()))
//
//	ctx, span := t.StartSpan(ctx, "orders.checkout")
//	defer span.End()
package tracer
