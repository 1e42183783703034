package uow

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyActive is returned by Begin when the unit of work already holds a scope.
	ErrAlreadyActive = errors.New("uow: unit of work already active")

	// ErrNotActive is returned by operations that need an active scope.
	ErrNotActive = errors.New("uow: unit of work not active")

	// ErrDuplicateRepository is returned when a repository name is registered twice.
	ErrDuplicateRepository = errors.New("uow: repository already registered")
)

// UnresolvedRepositoryError is returned when a repository name cannot be
// turned into an instance: it was never declared, it was declared without a
// factory, or the factory produced something unusable.
type UnresolvedRepositoryError struct {
	Name     string
	Declared bool
	Reason   string
}

func (e *UnresolvedRepositoryError) Error() string {
	return fmt.Sprintf("uow: cannot resolve repository %q: %s", e.Name, e.Reason)
}
