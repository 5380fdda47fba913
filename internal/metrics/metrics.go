// Package metrics exposes Prometheus instrumentation for the evaluation loop.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the backend's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal      prometheus.Counter
	CycleErrorsTotal prometheus.Counter
	ActionsTotal     *prometheus.CounterVec
	CycleDuration    prometheus.Histogram
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pyramid_cycles_total",
			Help: "Completed evaluation cycles.",
		}),
		CycleErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pyramid_cycle_errors_total",
			Help: "Per-account evaluation failures.",
		}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pyramid_actions_total",
			Help: "Strategy actions taken, by action kind.",
		}, []string{"action"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pyramid_cycle_duration_seconds",
			Help:    "Wall time of one full evaluation cycle.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(m.CyclesTotal, m.CycleErrorsTotal, m.ActionsTotal, m.CycleDuration)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
