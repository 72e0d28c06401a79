// Package observability exposes Prometheus instrumentation for store
// operations and migrations.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the server and the migration tool emit
type Metrics struct {
	registry *prometheus.Registry

	StoreOperations        *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	MigrationBatches       *prometheus.CounterVec
	MigrationRecords       *prometheus.CounterVec
	MigrationPhases        *prometheus.CounterVec
	HTTPRequests           *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors on a fresh registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: registry,
		StoreOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engram_store_operations_total",
			Help: "Store operations by engine, operation, and outcome.",
		}, []string{"engine", "operation", "status"}),
		StoreOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "engram_store_operation_duration_seconds",
			Help:    "Store operation latency by engine and operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"engine", "operation"}),
		MigrationBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engram_migration_batches_total",
			Help: "Migration batches processed by direction.",
		}, []string{"direction"}),
		MigrationRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engram_migration_records_total",
			Help: "Migration records processed by entity kind and direction.",
		}, []string{"direction", "kind"}),
		MigrationPhases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engram_migration_phase_transitions_total",
			Help: "Migration state machine transitions by phase.",
		}, []string{"phase"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engram_http_requests_total",
			Help: "HTTP requests by method, route, and status class.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "engram_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	registry.MustRegister(
		m.StoreOperations,
		m.StoreOperationDuration,
		m.MigrationBatches,
		m.MigrationRecords,
		m.MigrationPhases,
		m.HTTPRequests,
		m.HTTPRequestDuration,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStoreOperation records one store call
func (m *Metrics) ObserveStoreOperation(engine, operation string, err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StoreOperations.WithLabelValues(engine, operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(engine, operation).Observe(elapsed.Seconds())
}
