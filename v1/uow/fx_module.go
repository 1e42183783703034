package uow

import (
	"fmt"

	"github.com/Aleph-Alpha/sqlscope/v1/database"
	"github.com/Aleph-Alpha/sqlscope/v1/observability"
	"go.uber.org/fx"
)

// RepositoriesGroup is the fx value group collecting repository registrations.
const RepositoriesGroup = "uow_repositories"

// Registration names a repository factory contributed through fx.
// A Registration without a Factory only declares the name.
type Registration struct {
	Name    string
	Factory Factory
}

// Provider creates units of work configured by the module. Options passed to
// it are applied after the module defaults.
type Provider func(opts ...Option) *UnitOfWork

// FXModule is an fx module that provides the repository Registry and a
// Provider creating units of work over the database Client.
//
// Usage:
//
//	app := fx.New(
//	    database.FXModule,
//	    uow.FXModule,
//	    uow.AsRepository("orders", func(db database.Client) interface{} {
//	        return uow.NewRepository[Order](db)
//	    }),
//	    fx.Invoke(func(newUoW uow.Provider) { ... }),
//	)
var FXModule = fx.Module("uow",
	fx.Provide(
		NewRegistryWithDI,
		NewProviderWithDI,
	),
)

// RegistryParams groups the dependencies of NewRegistryWithDI.
type RegistryParams struct {
	fx.In

	Registrations []Registration `group:"uow_repositories"`
}

// NewRegistryWithDI builds a Registry from the contributed registrations.
func NewRegistryWithDI(params RegistryParams) (*Registry, error) {
	registry := NewRegistry()
	for _, reg := range params.Registrations {
		if reg.Factory == nil {
			registry.Declare(reg.Name)
			continue
		}
		if err := registry.Register(reg.Name, reg.Factory); err != nil {
			return nil, fmt.Errorf("failed to register repository: %w", err)
		}
	}
	return registry, nil
}

// ProviderParams groups the dependencies of NewProviderWithDI.
type ProviderParams struct {
	fx.In

	Client   database.Client
	Registry *Registry
	Logger   database.Logger        `optional:"true"`
	Observer observability.Observer `optional:"true"`
}

// NewProviderWithDI returns a Provider bound to the injected client and registry.
func NewProviderWithDI(params ProviderParams) Provider {
	var defaults []Option
	if params.Logger != nil {
		defaults = append(defaults, WithLogger(params.Logger))
	}
	if params.Observer != nil {
		defaults = append(defaults, WithObserver(params.Observer))
	}

	return func(opts ...Option) *UnitOfWork {
		all := make([]Option, 0, len(defaults)+len(opts))
		all = append(all, defaults...)
		all = append(all, opts...)
		return New(params.Client, params.Registry, all...)
	}
}

// AsRepository contributes a repository factory to the RepositoriesGroup.
// A nil factory declares the name without registering it.
func AsRepository(name string, factory Factory) fx.Option {
	return fx.Provide(
		fx.Annotate(
			func() Registration { return Registration{Name: name, Factory: factory} },
			fx.ResultTags(`group:"uow_repositories"`),
		),
	)
}
