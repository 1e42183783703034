package database

import (
	"context"

	"gorm.io/gorm"
)

// Client is the engine contract consumed by the unit of work and by
// repositories. *Database implements it.
type Client interface {
	// Scoping
	EnterScope(ctx context.Context) (context.Context, *ScopedSession, error)
	Current(ctx context.Context) (*Session, error)
	InScope(ctx context.Context) bool
	Scope(ctx context.Context, fn func(ctx context.Context) error) error
	NewSession(ctx context.Context) *Session

	// Savepoints in the current session
	BeginNested(ctx context.Context) (*NestedTransaction, error)
	Nested(ctx context.Context, fn func(ctx context.Context) error) error

	// Statements outside the repository layer
	Execute(ctx context.Context, stmt Statement) (int64, error)
	Exec(ctx context.Context, sql string, values ...interface{}) (int64, error)

	// Schema
	CreateAll(ctx context.Context) error
	DropAll(ctx context.Context) error
	RegisterModels(models ...interface{})

	Capabilities() Capabilities

	// Raw GORM access, bound to no session
	DB() *gorm.DB

	// Lifecycle management
	GracefulShutdown() error
}

var _ Client = (*Database)(nil)
