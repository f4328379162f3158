// Package metrics exposes the orchestrator's cycle counters, the queue's
// depth, and the breaker registry's trip state as Prometheus gauges and
// counters, served on ServerConfig.MetricsPort.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// Registry owns a dedicated prometheus.Registry (not the global default,
// so tests can spin up independent instances without collector
// registration collisions) and the collectors this package exposes.
type Registry struct {
	reg *prometheus.Registry

	cyclesTotal      *prometheus.CounterVec
	cycleDuration    *prometheus.HistogramVec
	queueDepth       *prometheus.GaugeVec
	breakerState     *prometheus.GaugeVec
	evaluationsTotal *prometheus.CounterVec
}

// New builds a Registry with all collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		reg: reg,
		cyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "execution_pipeline",
			Name:      "cycles_total",
			Help:      "Total orchestrator cycles run, by outcome.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "execution_pipeline",
			Name:      "cycle_duration_seconds",
			Help:      "Wall-clock duration of a full orchestrator cycle.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "execution_pipeline",
			Name:      "queue_depth",
			Help:      "Number of jobs currently queued, by queue name and state.",
		}, []string{"queue", "state"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "execution_pipeline",
			Name:      "breaker_open",
			Help:      "1 if the named circuit breaker is open, 0 otherwise.",
		}, []string{"breaker"}),
		evaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "execution_pipeline",
			Name:      "evaluations_total",
			Help:      "Total evaluation jobs processed, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.cyclesTotal,
		m.cycleDuration,
		m.queueDepth,
		m.breakerState,
		m.evaluationsTotal,
	)
	reg.MustRegister(prometheus.NewGoCollector())

	return m
}

// Handler returns an http.Handler serving this registry's metrics in the
// Prometheus exposition format, for mounting at /metrics on MetricsPort.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveCycle records one orchestrator cycle's outcome and duration.
func (m *Registry) ObserveCycle(outcome string, seconds float64) {
	m.cyclesTotal.WithLabelValues(outcome).Inc()
	m.cycleDuration.WithLabelValues(outcome).Observe(seconds)
}

// SetQueueDepth reports the current size of a named queue state bucket
// (e.g. "waiting", "active", "stalled").
func (m *Registry) SetQueueDepth(queue, state string, depth int) {
	m.queueDepth.WithLabelValues(queue, state).Set(float64(depth))
}

// SetBreakerOpen reports whether a named breaker is currently tripped.
func (m *Registry) SetBreakerOpen(name string, open bool) {
	v := 0.0
	if open {
		v = 1.0
	}
	m.breakerState.WithLabelValues(name).Set(v)
}

// ObserveEvaluation records one evaluation job's terminal result
// ("completed", "failed", "stalled").
func (m *Registry) ObserveEvaluation(result string) {
	m.evaluationsTotal.WithLabelValues(result).Inc()
}
