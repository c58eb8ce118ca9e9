package resilience

import (
	"context"
	"log/slog"
	"time"

	"github.com/gugacoder/insight-kb-sub001/internal/logging"
	"github.com/gugacoder/insight-kb-sub001/internal/rage"
)

// CoordinatorConfig holds the settings for one guarded dependency.
type CoordinatorConfig struct {
	// Dependency names the guarded dependency in logs and metrics.
	Dependency string
	// Timeout is the wall-clock budget for the whole guarded unit,
	// retries and backoff sleeps included.
	Timeout time.Duration
	// Retry tunes the retry policy.
	Retry RetryConfig
	// Breaker tunes the circuit breaker.
	Breaker BreakerConfig
	// Degrade enables graceful degradation: on ultimate failure the zero
	// value is returned without error. Enrichment-class operations must
	// set this; disabling it re-raises the classified error.
	Degrade bool
}

// Coordinator composes the resilience layers around one logical operation:
// the timeout guard races the whole retry loop, each retry attempt passes
// through the circuit breaker, and ultimate failure is resolved by a
// kind-specific fallback or graceful degradation. One Coordinator guards
// one dependency and is safe for concurrent use.
type Coordinator struct {
	// cfg holds the resolved settings.
	cfg CoordinatorConfig
	// guard races operations against the deadline.
	guard *Guard
	// breaker is the shared per-dependency failure ledger.
	breaker *Breaker
	// retrier re-invokes failed attempts.
	retrier *Retrier
	// metrics records operation outcomes. May be nil.
	metrics *Metrics
}

// NewCoordinator constructs a Coordinator for the configured dependency.
func NewCoordinator(cfg CoordinatorConfig, metrics *Metrics) *Coordinator {
	if cfg.Dependency == "" {
		cfg.Dependency = "dependency"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Coordinator{
		cfg:     cfg,
		guard:   NewGuard(),
		breaker: NewBreaker(cfg.Dependency, cfg.Breaker, metrics),
		retrier: NewRetrier(cfg.Dependency, cfg.Retry, metrics),
		metrics: metrics,
	}
}

// BreakerSnapshot exposes the circuit breaker state for the observability
// surface.
func (c *Coordinator) BreakerSnapshot() Snapshot {
	return c.breaker.Snapshot()
}

// InFlight returns the number of guarded operations currently running,
// abandoned zombies included.
func (c *Coordinator) InFlight() int {
	return c.guard.InFlight()
}

// Execute runs op through timeout guard → retry policy → circuit breaker.
// On ultimate failure it classifies the error, tries fallback for the
// locally recoverable kinds (timeout, network), and finally either degrades
// to the zero value without error or re-raises the classified error,
// depending on the coordinator's Degrade setting.
//
// fallback may be nil. When non-nil it is consulted only for timeout and
// network failures, returning a substitute value and true on a hit.
func Execute[T any](ctx context.Context, c *Coordinator, op func(context.Context) (T, error), fallback func(context.Context) (T, bool)) (T, error) {
	log := logging.FromContext(ctx)
	start := time.Now()

	v, err := Race(ctx, c.guard, c.cfg.Dependency, c.cfg.Timeout, func(ctx context.Context) (T, error) {
		return Attempt(ctx, c.retrier, func(ctx context.Context) (T, error) {
			return Gate(ctx, c.breaker, op)
		})
	})
	elapsed := time.Since(start).Seconds()

	if err == nil {
		c.metrics.observeOperation(c.cfg.Dependency, "ok", elapsed)
		return v, nil
	}

	classified := rage.Classify(err)
	log.Warn("resilience: operation failed after all layers",
		slog.String("dependency", c.cfg.Dependency),
		slog.String("kind", string(classified.Kind)),
		slog.String("error", classified.Message),
	)

	var zero T
	switch classified.Kind {
	case rage.KindTimeout, rage.KindNetwork:
		if fallback != nil {
			if cached, ok := fallback(ctx); ok {
				log.Info("resilience: serving fallback result",
					slog.String("dependency", c.cfg.Dependency),
					slog.String("kind", string(classified.Kind)),
				)
				c.metrics.observeOperation(c.cfg.Dependency, "fallback", elapsed)
				return cached, nil
			}
		}
	case rage.KindCircuitOpen:
		c.metrics.observeOperation(c.cfg.Dependency, "rejected", elapsed)
		if c.cfg.Degrade {
			return zero, nil
		}
		return zero, classified
	}

	if classified.Kind == rage.KindTimeout {
		c.metrics.observeOperation(c.cfg.Dependency, "timeout", elapsed)
	} else {
		c.metrics.observeOperation(c.cfg.Dependency, "error", elapsed)
	}

	if c.cfg.Degrade {
		c.metrics.observeOperation(c.cfg.Dependency, "degraded", elapsed)
		return zero, nil
	}
	return zero, classified
}
