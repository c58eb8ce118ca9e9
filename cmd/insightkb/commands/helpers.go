package commands

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gugacoder/insight-kb-sub001/internal/budget"
	"github.com/gugacoder/insight-kb-sub001/internal/cache"
	"github.com/gugacoder/insight-kb-sub001/internal/config"
	"github.com/gugacoder/insight-kb-sub001/internal/enrich"
	"github.com/gugacoder/insight-kb-sub001/internal/formatter"
	"github.com/gugacoder/insight-kb-sub001/internal/resilience"
	"github.com/gugacoder/insight-kb-sub001/internal/retrieval"
	"github.com/gugacoder/insight-kb-sub001/internal/scoring"
)

// pipeline bundles the wired enrichment components a command needs.
type pipeline struct {
	// Enricher runs the end-to-end pipeline.
	Enricher *enrich.Enricher
	// Coordinator exposes the circuit breaker for observability.
	Coordinator *resilience.Coordinator
	// Client talks to the retrieval provider; used for health probes.
	Client *retrieval.Client
	// Cache is the SQLite store, or nil when caching is disabled.
	Cache cache.Store
	// Registry carries every Prometheus metric the pipeline registered.
	Registry *prometheus.Registry
}

// Close releases pipeline resources.
func (p *pipeline) Close() {
	if p.Cache != nil {
		_ = p.Cache.Close()
	}
}

// buildPipeline wires the full enrichment pipeline from the loaded config.
func buildPipeline(cfg *config.Config, log *slog.Logger) (*pipeline, error) {
	reg := prometheus.NewRegistry()

	client := retrieval.NewClient(retrieval.Config{
		BaseURL:      cfg.Provider.URL,
		Organization: cfg.Provider.Org,
		Pipeline:     cfg.Provider.Pipeline,
		APIKey:       cfg.Provider.APIKey,
	})

	var resMetrics *resilience.Metrics
	var enrMetrics *enrich.Metrics
	if cfg.Enrichment.Metrics {
		resMetrics = resilience.NewMetrics(reg)
		enrMetrics = enrich.NewMetrics(reg)
	}

	coord := resilience.NewCoordinator(resilience.CoordinatorConfig{
		Dependency: "provider",
		Timeout:    cfg.Resilience.Timeout.Std(),
		Retry: resilience.RetryConfig{
			MaxAttempts:       cfg.Resilience.MaxAttempts,
			BaseDelay:         cfg.Resilience.BaseDelay.Std(),
			MaxDelay:          cfg.Resilience.MaxDelay.Std(),
			BackoffMultiplier: cfg.Resilience.BackoffMultiplier,
			JitterMax:         cfg.Resilience.JitterMax,
		},
		Breaker: resilience.BreakerConfig{
			FailureThreshold: cfg.Resilience.FailureThreshold,
			MinimumRequests:  cfg.Resilience.MinimumRequests,
			MonitoringWindow: cfg.Resilience.MonitoringWindow.Std(),
			ResetTimeout:     cfg.Resilience.ResetTimeout.Std(),
		},
	}, resMetrics)

	var store cache.Store
	if cfg.Cache.Enabled {
		path := cfg.Cache.DBPath
		if path == "" {
			var err error
			path, err = cache.DefaultDBPath()
			if err != nil {
				return nil, fmt.Errorf("cache path: %w", err)
			}
		}
		c, err := cache.Open(path, cfg.Cache.TTL.Std())
		if err != nil {
			// A broken cache should not take the service down with it.
			log.Warn("cache: failed to open, continuing without", "path", path, "error", err)
		} else {
			store = c
			log.Info("cache: opened", "path", path)
		}
	}

	enricher := enrich.New(enrich.Config{
		Enabled:    cfg.Enrichment.Enabled,
		NumResults: cfg.Provider.NumResults,
		Rerank:     cfg.Provider.Rerank,
		Budget: budget.Config{
			MaxTokens:    cfg.Tokens.MaxTokens,
			BufferTokens: cfg.Tokens.BufferTokens,
			Policy:       budget.OverflowPolicy(cfg.Tokens.OverflowPolicy),
		},
		Deadline: cfg.Enrichment.Deadline.Std(),
	}, enrich.Deps{
		Retriever:   client,
		Coordinator: coord,
		Scorer: scoring.New(scoring.Config{
			MinRelevance: cfg.Scoring.MinRelevance,
			MaxPerSource: cfg.Scoring.MaxPerSource,
			NumResults:   cfg.Provider.NumResults,
		}),
		Formatter: formatter.New(formatter.Config{
			Style: formatter.Style(cfg.Enrichment.FormatStyle),
		}),
		Cache:   store,
		Metrics: enrMetrics,
	})

	return &pipeline{
		Enricher:    enricher,
		Coordinator: coord,
		Client:      client,
		Cache:       store,
		Registry:    reg,
	}, nil
}
