package database

import (
	"database/sql"
	"time"

	"github.com/Aleph-Alpha/sqlscope/v1/observability"
)

// dbStatsRegisterer is implemented by observers that export connection pool statistics.
type dbStatsRegisterer interface {
	RegisterDBStats(db *sql.DB, name string) error
}

// observeOperation notifies the observer about an operation if one is configured.
//
// Notes:
//   - resource: dialect name
//   - subResource: outcome of scope releases and savepoints
func (d *Database) observeOperation(operation, resource, subResource string, duration time.Duration, err error, size int64, metadata map[string]interface{}) {
	if d == nil || d.observer == nil {
		return
	}

	d.observer.ObserveOperation(observability.OperationContext{
		Component:   "database",
		Operation:   operation,
		Resource:    resource,
		SubResource: subResource,
		Duration:    duration,
		Error:       err,
		Size:        size,
		Metadata:    metadata,
	})
}
