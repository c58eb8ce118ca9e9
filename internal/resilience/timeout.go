package resilience

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gugacoder/insight-kb-sub001/internal/logging"
	"github.com/gugacoder/insight-kb-sub001/internal/rage"
)

const (
	// MinTimeout is the smallest deadline the guard will honour. Requests
	// below it are clamped up with a warning.
	MinTimeout = 100 * time.Millisecond

	// MaxTimeout is the largest deadline the guard will honour. Requests
	// above it are clamped down with a warning.
	MaxTimeout = 30 * time.Second
)

// Guard races an operation against a wall-clock deadline. When the timer
// wins, the caller receives a timeout [*rage.Error] immediately; the losing
// operation keeps running in its goroutine until it settles on its own and
// its result is discarded. The guard never force-cancels the operation —
// downstream calls must tolerate a zombie in-flight request.
//
// The guard is safe for concurrent use; its only state is the invocation
// counter and the in-flight registry, both internally synchronized.
type Guard struct {
	// invocations issues the monotonically increasing invocation id every
	// guarded run is logged under.
	invocations atomic.Uint64

	// inflight maps invocation id → start time for operations that have not
	// settled yet, including abandoned ones still running after a timeout.
	inflight sync.Map
}

// NewGuard constructs a Guard.
func NewGuard() *Guard {
	return &Guard{}
}

// InFlight returns the number of operations currently registered, including
// abandoned ones that have not yet settled.
func (g *Guard) InFlight() int {
	n := 0
	g.inflight.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// clamp bounds deadline to [MinTimeout, MaxTimeout], logging a warning when
// the caller requested an out-of-range value.
func clamp(deadline time.Duration, log *slog.Logger) time.Duration {
	switch {
	case deadline < MinTimeout:
		log.Warn("timeout guard: deadline below minimum, clamping",
			slog.Duration("requested", deadline),
			slog.Duration("clamped", MinTimeout),
		)
		return MinTimeout
	case deadline > MaxTimeout:
		log.Warn("timeout guard: deadline above maximum, clamping",
			slog.Duration("requested", deadline),
			slog.Duration("clamped", MaxTimeout),
		)
		return MaxTimeout
	default:
		return deadline
	}
}

// outcome carries an operation result across the racing channel.
type outcome[T any] struct {
	value T
	err   error
}

// Race runs op under g with the given deadline. Whichever settles first —
// the operation or the timer — wins. On timer win the returned error is a
// timeout [*rage.Error] carrying the configured and actual elapsed time.
// Every invocation is logged with its id for correlation.
func Race[T any](ctx context.Context, g *Guard, name string, deadline time.Duration, op func(context.Context) (T, error)) (T, error) {
	log := logging.FromContext(ctx)
	deadline = clamp(deadline, log)

	id := g.invocations.Add(1)
	start := time.Now()
	g.inflight.Store(id, start)

	log.Debug("timeout guard: invoking",
		slog.Uint64("invocation_id", id),
		slog.String("operation", name),
		slog.Duration("deadline", deadline),
	)

	// Buffered so the losing operation can settle and exit without a reader.
	ch := make(chan outcome[T], 1)
	go func() {
		defer g.inflight.Delete(id)
		v, err := op(ctx)
		ch <- outcome[T]{value: v, err: err}
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	var zero T
	select {
	case out := <-ch:
		log.Debug("timeout guard: settled",
			slog.Uint64("invocation_id", id),
			slog.Duration("elapsed", time.Since(start)),
			slog.Bool("ok", out.err == nil),
		)
		return out.value, out.err

	case <-timer.C:
		elapsed := time.Since(start)
		log.Warn("timeout guard: deadline expired, abandoning operation",
			slog.Uint64("invocation_id", id),
			slog.String("operation", name),
			slog.Duration("deadline", deadline),
			slog.Duration("elapsed", elapsed),
		)
		return zero, rage.New(rage.KindTimeout,
			name+" exceeded deadline "+deadline.String()+" (elapsed "+elapsed.Round(time.Millisecond).String()+")")

	case <-ctx.Done():
		return zero, rage.Classify(ctx.Err())
	}
}
