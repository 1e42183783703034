// Package metrics exports database runtime metrics to Prometheus.
//
// *Metrics implements observability.Observer. Passing it to the database
// package records every scope entry and release, execute, schema and
// nested transaction operation:
//
//	m := metrics.NewMetrics(metrics.Config{Address: ":9090", ServiceName: "orders"})
//	db, err := database.New(cfg, log, database.WithObserver(m))
//
// Exported series:
//
//	db_operations_total{component,operation,status}
//	db_operation_duration_seconds{component,operation}
//	db_rows_affected_total{operation}
//	db_active_scopes
//	go_sql_* (pool statistics, via RegisterDBStats)
//
// All series carry the constant service label when Config.ServiceName is set.
package metrics
