package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/Aleph-Alpha/sqlscope/v1/observability"
	"go.uber.org/fx"
)

// Logger is the logging contract used by the metrics lifecycle hooks.
type Logger interface {
	Info(msg string, err error, fields ...map[string]interface{})
	Error(msg string, err error, fields ...map[string]interface{})
}

// FXModule provides *Metrics, exposes it as observability.Observer so the
// database module picks it up, and runs the /metrics server for the
// lifetime of the application.
//
// Usage:
//
//	app := fx.New(
//	    metrics.FXModule,
//	    fx.Supply(metrics.Config{Address: ":9090", ServiceName: "orders"}),
//	    fx.Provide(func(l *logger.Logger) metrics.Logger { return l }),
//	)
var FXModule = fx.Module("metrics",
	fx.Provide(
		NewMetrics,
		ProvideObserver,
	),
	fx.Invoke(RegisterMetricsLifecycle),
)

// ProvideObserver exposes *Metrics as observability.Observer.
func ProvideObserver(m *Metrics) observability.Observer {
	return m
}

// RegisterMetricsLifecycle starts the metrics HTTP server on start and shuts it down on stop.
func RegisterMetricsLifecycle(lc fx.Lifecycle, m *Metrics, log Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("Starting Prometheus metrics server", nil, map[string]interface{}{
					"address": m.Server.Addr,
				})

				if err := m.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("Error starting Prometheus metrics server", err, nil)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Shutting down Prometheus metrics server", nil, nil)
			return m.Server.Shutdown(ctx)
		},
	})
}
