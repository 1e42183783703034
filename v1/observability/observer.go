// Package observability defines the hook that instrumented components use to
// report the operations they perform.
//
// Components accept an optional Observer. When none is configured nothing is
// reported; the metrics package provides a Prometheus-backed implementation.
package observability

import "time"

// OperationContext describes a single completed operation.
type OperationContext struct {
	// Component is the reporting package, e.g. "database" or "uow".
	Component string

	// Operation is the action performed, e.g. "scope.enter" or "execute".
	Operation string

	// Resource identifies what the operation touched (dialect, table, repository name).
	Resource string

	// SubResource carries additional context such as the outcome of a release.
	SubResource string

	// Duration is the wall time spent in the operation.
	Duration time.Duration

	// Error is the error returned by the operation, nil on success.
	Error error

	// Size is an operation specific quantity, usually rows affected.
	Size int64

	// Metadata holds free-form attributes.
	Metadata map[string]interface{}
}

// Observer receives notifications about operations.
// Implementations must be safe for concurrent use.
type Observer interface {
	ObserveOperation(ctx OperationContext)
}
