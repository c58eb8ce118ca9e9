// Package server — metrics.go registers all Prometheus metrics for the HTTP
// server and exposes helpers used by handlers and middleware.
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// labelHandler partitions metrics by the logical endpoint name rather than
// the raw URL path.
const labelHandler = "handler"

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// enrichRequestsTotal counts completed /api/enrich requests, partitioned
	// by outcome: "ok" (context returned) or "empty" (204).
	enrichRequestsTotal *prometheus.CounterVec

	// enrichDurationSeconds records the wall-clock duration of each
	// /api/enrich request.
	enrichDurationSeconds *prometheus.HistogramVec

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, handler, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) is used so that each call
// registers into the provided registry rather than the global default —
// this keeps unit tests hermetic.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		enrichRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insightkb",
			Subsystem: "api",
			Name:      "enrich_requests_total",
			Help:      "Total number of /api/enrich requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		enrichDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "insightkb",
			Subsystem: "api",
			Name:      "enrich_duration_seconds",
			Help:      "Wall-clock duration of /api/enrich requests.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"outcome"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insightkb",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "insightkb",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// observeEnrich records one completed /api/enrich request.
func (m *serverMetrics) observeEnrich(outcome string, d time.Duration) {
	m.enrichRequestsTotal.WithLabelValues(outcome).Inc()
	m.enrichDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// instrument wraps a handler with the per-endpoint HTTP metrics.
func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)

		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, name, strconv.Itoa(rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, name).Observe(time.Since(start).Seconds())
	})
}
