package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gugacoder/insight-kb-sub001/internal/enrich"
	"github.com/gugacoder/insight-kb-sub001/internal/resilience"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server's Prometheus metrics. If nil, a
	// fresh registry is created.
	MetricsRegistry *prometheus.Registry
}

// enricher is the interface handleEnrich calls. *enrich.Enricher satisfies
// it; tests inject a fake.
type enricher interface {
	Enrich(ctx context.Context, query string, opts enrich.Options) *enrich.Result
}

// Server is the HTTP server exposing the enrichment pipeline.
type Server struct {
	// enricher runs the pipeline for /api/enrich.
	enricher enricher
	// coord exposes the circuit breaker state for /api/breaker.
	coord *resilience.Coordinator
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the server's Prometheus instruments.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// enrichRequest is the JSON body for POST /api/enrich.
type enrichRequest struct {
	// Query is the user's natural language question.
	Query string `json:"query"`
	// UserID optionally identifies the requester for logging.
	UserID string `json:"userId,omitempty"`
	// Language is an optional ISO 639-1 code for token estimation.
	Language string `json:"language,omitempty"`
	// CorrelationID optionally ties the call to the caller's trace.
	CorrelationID string `json:"correlationId,omitempty"`
	// Filters optionally narrow retrieval by metadata.
	Filters map[string]string `json:"filters,omitempty"`
}
