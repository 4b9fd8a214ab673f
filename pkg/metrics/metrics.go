// Package metrics provides Prometheus metrics for PDM operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all PDM metrics.
type Registry struct {
	reg *prometheus.Registry

	operations    *prometheus.CounterVec
	lockConflicts prometheus.Counter
	opDuration    *prometheus.HistogramVec
	activeLocks   prometheus.Gauge
}

// NewRegistry creates and registers all PDM collectors.
func NewRegistry() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pdm_operations_total",
		Help: "Vault operations by kind and outcome.",
	}, []string{"operation", "outcome"})

	r.lockConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pdm_lock_conflicts_total",
		Help: "Checkout attempts rejected because the file was already locked.",
	})

	r.opDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pdm_operation_duration_seconds",
		Help:    "Wall time of vault operations, including the lock wait.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	r.activeLocks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pdm_active_locks",
		Help: "Number of currently held file locks.",
	})

	r.reg.MustRegister(r.operations, r.lockConflicts, r.opDuration, r.activeLocks)
	return r
}

// Prometheus exposes the underlying registry for the /metrics handler.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.reg
}

// RecordOperation records one vault operation.
func (r *Registry) RecordOperation(operation string, err error, seconds float64) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	r.operations.WithLabelValues(operation, outcome).Inc()
	r.opDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordLockConflict counts a rejected checkout.
func (r *Registry) RecordLockConflict() {
	r.lockConflicts.Inc()
}

// SetActiveLocks updates the active lock gauge.
func (r *Registry) SetActiveLocks(n int) {
	r.activeLocks.Set(float64(n))
}
