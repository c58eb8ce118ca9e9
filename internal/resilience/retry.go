package resilience

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/gugacoder/insight-kb-sub001/internal/logging"
	"github.com/gugacoder/insight-kb-sub001/internal/rage"
)

// RetryConfig holds retry policy tuning parameters.
type RetryConfig struct {
	// MaxAttempts bounds the loop, first try included.
	MaxAttempts int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff delay (jitter excluded).
	MaxDelay time.Duration
	// BackoffMultiplier is the exponential growth factor per attempt.
	BackoffMultiplier float64
	// JitterMax is the maximum random jitter added, as a fraction of the
	// computed delay (0.2 → up to +20%).
	JitterMax float64
}

// withDefaults fills zero fields with conservative defaults.
func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = 2.0
	}
	if c.JitterMax < 0 {
		c.JitterMax = 0
	}
	return c
}

// Retrier re-invokes a failed operation according to the error taxonomy:
// non-retryable kinds stop immediately, rate_limit honours the provider's
// retry-after hint verbatim, timeouts get only half the attempt budget, and
// unknown failures are retried at most once. Delays grow exponentially with
// random jitter so concurrent callers do not retry in lockstep.
type Retrier struct {
	// dependency names the guarded dependency in logs and metrics.
	dependency string
	// cfg holds the resolved tuning parameters.
	cfg RetryConfig
	// metrics records retry observations. May be nil.
	metrics *Metrics
	// sleep waits for the computed delay; replaceable in tests. Returns the
	// context error when ctx settles first.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier constructs a Retrier for the named dependency.
func NewRetrier(dependency string, cfg RetryConfig, metrics *Metrics) *Retrier {
	return &Retrier{
		dependency: dependency,
		cfg:        cfg.withDefaults(),
		metrics:    metrics,
		sleep:      sleepCtx,
	}
}

// sleepCtx blocks for d or until ctx settles, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// attemptCap returns the maximum attempt count allowed for a failure kind.
// Timeouts compound latency, so they only get half the budget; unknown
// failures get a single retry.
func (r *Retrier) attemptCap(kind rage.Kind) int {
	switch kind {
	case rage.KindTimeout:
		// Half the budget, rounded up so a single-attempt policy still runs.
		return (r.cfg.MaxAttempts + 1) / 2
	case rage.KindUnknown:
		return min(2, r.cfg.MaxAttempts)
	default:
		return r.cfg.MaxAttempts
	}
}

// delayFor computes the sleep before the retry following attempt (1-based).
// rate_limit failures use the provider's hint verbatim; everything else uses
// capped exponential backoff plus uniform jitter.
func (r *Retrier) delayFor(attempt int, classified *rage.Error) time.Duration {
	if classified.Kind == rage.KindRateLimit && classified.RetryAfter > 0 {
		return classified.RetryAfter
	}

	backoff := float64(r.cfg.BaseDelay) * math.Pow(r.cfg.BackoffMultiplier, float64(attempt-1))
	if backoff > float64(r.cfg.MaxDelay) {
		backoff = float64(r.cfg.MaxDelay)
	}
	jitter := backoff * r.cfg.JitterMax * rand.Float64()
	return time.Duration(backoff + jitter)
}

// Attempt runs op under r's retry policy. On success the result is returned
// immediately (with an INFO log when a retry recovered). On failure the
// error is classified once and the loop either re-invokes after the
// computed delay or raises the classified error.
func Attempt[T any](ctx context.Context, r *Retrier, op func(context.Context) (T, error)) (T, error) {
	log := logging.FromContext(ctx)

	var zero T
	var classified *rage.Error

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info("retry: recovered",
					slog.String("dependency", r.dependency),
					slog.Int("attempt", attempt),
				)
			}
			return v, nil
		}

		classified = rage.Classify(err)

		if !classified.Retryable || attempt >= r.attemptCap(classified.Kind) {
			return zero, classified
		}

		delay := r.delayFor(attempt, classified)
		r.metrics.observeRetry(r.dependency, string(classified.Kind))
		log.Warn("retry: attempt failed, backing off",
			slog.String("dependency", r.dependency),
			slog.Int("attempt", attempt),
			slog.String("kind", string(classified.Kind)),
			slog.Duration("delay", delay),
		)

		if err := r.sleep(ctx, delay); err != nil {
			return zero, rage.Classify(err)
		}
	}

	return zero, classified
}
