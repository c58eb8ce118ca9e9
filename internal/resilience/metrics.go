// Package resilience implements the failure-containment layers wrapped
// around the retrieval call: a timeout guard, a sliding-window circuit
// breaker, a classifying retry policy, and the coordinator that composes
// them and applies graceful degradation. All cross-query shared state lives
// in this package and is internally synchronized.
package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics owned by the resilience layers.
// A single instance is shared by the guard, breaker, retry policy, and
// coordinator of one dependency. Constructed with an injected registry so
// unit tests stay hermetic. A nil *Metrics disables collection.
type Metrics struct {
	// breakerState reports the current circuit state per dependency:
	// 0 closed, 1 open, 2 half-open.
	breakerState *prometheus.GaugeVec

	// breakerTransitions counts state transitions, partitioned by
	// dependency and the edge taken (e.g. "closed_to_open").
	breakerTransitions *prometheus.CounterVec

	// retryAttempts counts retry sleeps, partitioned by dependency and the
	// error kind that caused them.
	retryAttempts *prometheus.CounterVec

	// operationsTotal counts guarded operations by dependency and outcome:
	// "ok", "timeout", "rejected", "error", "degraded", "fallback".
	operationsTotal *prometheus.CounterVec

	// operationDuration records wall-clock duration of guarded operations,
	// including all retry attempts and backoff sleeps.
	operationDuration *prometheus.HistogramVec
}

// NewMetrics registers all resilience metrics against reg and returns the
// populated Metrics. Pass the result to the coordinator constructor.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "insightkb",
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Current circuit breaker state: 0 closed, 1 open, 2 half-open.",
		}, []string{"dependency"}),

		breakerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insightkb",
			Subsystem: "resilience",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions, partitioned by edge.",
		}, []string{"dependency", "edge"}),

		retryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insightkb",
			Subsystem: "resilience",
			Name:      "retry_attempts_total",
			Help:      "Retry sleeps performed, partitioned by the error kind that caused them.",
		}, []string{"dependency", "kind"}),

		operationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insightkb",
			Subsystem: "resilience",
			Name:      "operations_total",
			Help:      "Guarded operations completed, partitioned by outcome.",
		}, []string{"dependency", "outcome"}),

		operationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "insightkb",
			Subsystem: "resilience",
			Name:      "operation_duration_seconds",
			Help:      "Wall-clock duration of guarded operations including retries.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"dependency"}),
	}
}

// observeState records the breaker state gauge for a dependency.
func (m *Metrics) observeState(dependency string, s State) {
	if m == nil {
		return
	}
	var v float64
	switch s {
	case StateOpen:
		v = 1
	case StateHalfOpen:
		v = 2
	}
	m.breakerState.WithLabelValues(dependency).Set(v)
}

// observeTransition records one breaker edge.
func (m *Metrics) observeTransition(dependency, edge string) {
	if m == nil {
		return
	}
	m.breakerTransitions.WithLabelValues(dependency, edge).Inc()
}

// observeRetry records one retry sleep caused by the given error kind.
func (m *Metrics) observeRetry(dependency, kind string) {
	if m == nil {
		return
	}
	m.retryAttempts.WithLabelValues(dependency, kind).Inc()
}

// observeOperation records one completed guarded operation.
func (m *Metrics) observeOperation(dependency, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(dependency, outcome).Inc()
	m.operationDuration.WithLabelValues(dependency).Observe(seconds)
}
