package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics encapsulates the Prometheus registry and the HTTP server exposing it.
//
// It implements observability.Observer, turning the operations reported by
// the database and uow packages into counters, histograms and an active
// scope gauge. It also implements the pool stats hook the database package
// looks for, so connection pool statistics are exported as well.
type Metrics struct {
	// Server defines the HTTP server used to expose the /metrics endpoint.
	Server *http.Server

	// Registry is the isolated Prometheus registry for this service.
	Registry *prometheus.Registry

	registerer prometheus.Registerer

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	rowsAffected      *prometheus.CounterVec
	activeScopes      prometheus.Gauge
}

// NewMetrics sets up a dedicated registry wrapped with a constant service
// label, registers the database operation metrics and, when enabled, the
// default runtime collectors.
//
// Example:
//
//	m := metrics.NewMetrics(metrics.Config{Address: ":9090", ServiceName: "orders"})
//	db, err := database.New(cfg, log, database.WithObserver(m))
//	go m.Server.ListenAndServe()
func NewMetrics(cfg Config) *Metrics {
	registry := prometheus.NewRegistry()

	var registerer prometheus.Registerer = registry
	if cfg.ServiceName != "" {
		registerer = prometheus.WrapRegistererWith(prometheus.Labels{"service": cfg.ServiceName}, registry)
	}

	m := &Metrics{
		Registry:   registry,
		registerer: registerer,
	}

	m.operationsTotal = createCounterVec(cfg.Namespace, "db_operations_total",
		"Total number of database operations", []string{"component", "operation", "status"})
	m.operationDuration = createHistogramVec(cfg.Namespace, "db_operation_duration_seconds",
		"Duration of database operations in seconds", []string{"component", "operation"}, prometheus.DefBuckets)
	m.rowsAffected = createCounterVec(cfg.Namespace, "db_rows_affected_total",
		"Rows affected by write statements", []string{"operation"})
	m.activeScopes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: cfg.Namespace,
		Name:      "db_active_scopes",
		Help:      "Number of session scopes currently bound",
	})

	registerer.MustRegister(
		m.operationsTotal,
		m.operationDuration,
		m.rowsAffected,
		m.activeScopes,
	)

	if cfg.EnableDefaultCollectors {
		registerer.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewBuildInfoCollector(),
		)
	}

	address := cfg.Address
	if address == "" {
		address = DefaultMetricsAddress
	}

	m.Server = &http.Server{
		Addr:    address,
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	return m
}
