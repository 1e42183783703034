package database

import (
	"context"

	"github.com/Aleph-Alpha/sqlscope/v1/observability"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

// ModelsGroup is the fx value group collecting models for CreateAll and DropAll.
const ModelsGroup = "database_models"

// FXModule is an fx module that provides the database engine.
// It provides *Database and the Client interface, and closes the pool
// when the application stops.
//
// Usage:
//
//	app := fx.New(
//	    logger.FXModule,
//	    database.FXModule,
//	    fx.Supply(logger.Config{Level: logger.Info}),
//	    fx.Supply(database.Config{URL: "postgres://app@db:5432/app"}),
//	    fx.Provide(func(l *logger.Logger) database.Logger { return l }),
//	    database.AsModel(&Order{}),
//	)
var FXModule = fx.Module("database",
	fx.Provide(
		NewDatabaseWithDI,
		fx.Annotate(
			ProvideClient,
			fx.As(new(Client)),
		),
	),
	fx.Invoke(RegisterDatabaseLifecycle),
)

// ProvideClient exposes *Database as Client.
func ProvideClient(d *Database) Client {
	return d
}

// DatabaseParams groups the dependencies of NewDatabaseWithDI.
// Observer and TracerProvider are picked up when another module provides them.
type DatabaseParams struct {
	fx.In

	Config         Config
	Logger         Logger
	Observer       observability.Observer `optional:"true"`
	TracerProvider trace.TracerProvider   `optional:"true"`
	Models         []interface{}          `group:"database_models"`
}

// NewDatabaseWithDI creates the engine from injected dependencies.
func NewDatabaseWithDI(params DatabaseParams) (*Database, error) {
	var opts []Option
	if params.Observer != nil {
		opts = append(opts, WithObserver(params.Observer))
	}
	if params.TracerProvider != nil {
		opts = append(opts, WithTracerProvider(params.TracerProvider))
	}
	if len(params.Models) > 0 {
		opts = append(opts, WithModels(params.Models...))
	}
	return New(params.Config, params.Logger, opts...)
}

// AsModel contributes model to the ModelsGroup value group.
func AsModel(model interface{}) fx.Option {
	return fx.Provide(
		fx.Annotate(
			func() interface{} { return model },
			fx.ResultTags(`group:"database_models"`),
		),
	)
}

// RegisterDatabaseLifecycle closes the connection pool on application stop.
func RegisterDatabaseLifecycle(lc fx.Lifecycle, d *Database) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return d.GracefulShutdown()
		},
	})
}
