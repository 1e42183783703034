package uow

import (
	"fmt"
	"slices"
	"sync"

	"github.com/Aleph-Alpha/sqlscope/v1/database"
)

// Factory builds a repository bound to the engine. Repositories must not
// capture a session: they resolve the current one on every call.
type Factory func(db database.Client) interface{}

// Registry maps repository names to factories. It is built once, usually at
// start-up, and shared by every UnitOfWork created from it.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	declared  map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		declared:  make(map[string]struct{}),
	}
}

// Register binds name to factory. The name counts as declared.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("uow: empty repository name")
	}
	if factory == nil {
		return fmt.Errorf("uow: nil factory for repository %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRepository, name)
	}
	r.factories[name] = factory
	r.declared[name] = struct{}{}
	return nil
}

// MustRegister is Register for package initialization; it panics on error.
func (r *Registry) MustRegister(name string, factory Factory) *Registry {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
	return r
}

// Declare announces repository names whose factories are registered later,
// or never. Resolving a declared name without a factory fails with an
// *UnresolvedRepositoryError that has Declared set.
func (r *Registry) Declare(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		r.declared[name] = struct{}{}
	}
}

// Lookup returns the factory registered for name.
func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[name]
	return factory, ok
}

// IsDeclared reports whether name was declared or registered.
func (r *Registry) IsDeclared(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.declared[name]
	return ok
}

// Names returns the declared names in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.declared))
	for name := range r.declared {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Provide registers a typed factory under name.
//
//	uow.Provide(registry, "orders", func(db database.Client) *OrderRepository {
//	    return &OrderRepository{Repository: uow.NewRepository[Order](db)}
//	})
func Provide[R any](r *Registry, name string, factory func(db database.Client) R) error {
	if factory == nil {
		return fmt.Errorf("uow: nil factory for repository %q", name)
	}
	return r.Register(name, func(db database.Client) interface{} {
		return factory(db)
	})
}
