package metrics

import (
	"database/sql"

	"github.com/Aleph-Alpha/sqlscope/v1/observability"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector is the contract implemented by *Metrics.
type MetricsCollector interface {
	observability.Observer

	// RegisterDBStats exports the statistics of a connection pool under the given name.
	RegisterDBStats(db *sql.DB, name string) error

	// CreateCounter creates a new CounterVec metric and registers it.
	CreateCounter(name, help string, labels []string) *prometheus.CounterVec

	// CreateHistogram creates a new HistogramVec metric and registers it.
	CreateHistogram(name, help string, labels []string, buckets []float64) *prometheus.HistogramVec

	// CreateGauge creates a new GaugeVec metric and registers it.
	CreateGauge(name, help string, labels []string) *prometheus.GaugeVec
}

var _ MetricsCollector = (*Metrics)(nil)
