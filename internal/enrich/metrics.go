package enrich

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the enrichment pipeline.
// A nil *Metrics disables collection.
type Metrics struct {
	// phaseDuration observes each pipeline phase.
	phaseDuration *prometheus.HistogramVec
	// outcomes counts finished enrichments by how they ended.
	outcomes *prometheus.CounterVec
	// documents observes document counts at each pipeline stage.
	documents *prometheus.HistogramVec
	// cacheEvents counts cache interactions.
	cacheEvents *prometheus.CounterVec
}

// NewMetrics registers the pipeline instruments on the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		phaseDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "insightkb",
			Subsystem: "enrich",
			Name:      "phase_duration_seconds",
			Help:      "Duration of each enrichment pipeline phase.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"phase"}),
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insightkb",
			Subsystem: "enrich",
			Name:      "outcomes_total",
			Help:      "Finished enrichments by outcome.",
		}, []string{"outcome"}),
		documents: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "insightkb",
			Subsystem: "enrich",
			Name:      "documents",
			Help:      "Document counts observed at each pipeline stage.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}, []string{"stage"}),
		cacheEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insightkb",
			Subsystem: "enrich",
			Name:      "cache_events_total",
			Help:      "Cache lookups and writes by result.",
		}, []string{"event"}),
	}
}

func (m *Metrics) observePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func (m *Metrics) observeOutcome(outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeDocuments(stage string, n int) {
	if m == nil {
		return
	}
	m.documents.WithLabelValues(stage).Observe(float64(n))
}

func (m *Metrics) observeCache(event string) {
	if m == nil {
		return
	}
	m.cacheEvents.WithLabelValues(event).Inc()
}
