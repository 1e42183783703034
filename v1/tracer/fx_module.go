package tracer

import (
	"context"

	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

// FXModule provides *Tracer and its oteltrace.TracerProvider, and shuts the provider down when the application stops,
// flushing spans still held by the batcher.
//
// Usage:
//
//	app := fx.New(
//	    tracer.FXModule,
//	    fx.Supply(tracer.Config{ServiceName: "orders"}),
//	)
var FXModule = fx.Module("tracer",
	fx.Provide(
		NewClient,
		ProvideTracerProvider,
	),
	fx.Invoke(RegisterTracerLifecycle),
)

// ProvideTracerProvider exposes the provider for instrumented components.
func ProvideTracerProvider(t *Tracer) oteltrace.TracerProvider {
	return t.TracerProvider()
}

// RegisterTracerLifecycle registers the OnStop hook that shuts the tracer down.
func RegisterTracerLifecycle(lc fx.Lifecycle, tracer *Tracer) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if tracer == nil || tracer.tracer == nil {
				return nil
			}
			tracer.logger.Info("shutting down tracer", nil, nil)
			return tracer.Shutdown(ctx)
		},
	})
}
