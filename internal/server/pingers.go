package server

import (
	"context"
	"fmt"

	"github.com/gugacoder/insight-kb-sub001/internal/cache"
	"github.com/gugacoder/insight-kb-sub001/internal/retrieval"
)

// ProviderPinger probes the retrieval provider's health endpoint. It
// satisfies the Pinger interface and is used by GET /api/ready.
type ProviderPinger struct {
	// client is the retrieval client to probe.
	client *retrieval.Client
}

// NewProviderPinger constructs a ProviderPinger for the given client.
func NewProviderPinger(client *retrieval.Client) *ProviderPinger {
	return &ProviderPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *ProviderPinger) Name() string { return "provider" }

// Ping probes the provider's health endpoint.
func (p *ProviderPinger) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// CachePinger probes the enrichment cache database. It satisfies the
// Pinger interface and is used by GET /api/ready.
type CachePinger struct {
	// store is the cache to probe.
	store cache.Store
}

// NewCachePinger constructs a CachePinger for the given store.
func NewCachePinger(store cache.Store) *CachePinger {
	return &CachePinger{store: store}
}

// Name returns the dependency label used in readiness responses.
func (p *CachePinger) Name() string { return "cache" }

// Ping verifies the cache database is reachable.
func (p *CachePinger) Ping(ctx context.Context) error {
	if err := p.store.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
