package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gugacoder/insight-kb-sub001/internal/logging"
	"github.com/gugacoder/insight-kb-sub001/internal/rage"
)

// State is the circuit breaker state.
type State int

const (
	// StateClosed allows all calls; outcomes are recorded into the ledger.
	StateClosed State = iota
	// StateOpen rejects all calls until ResetTimeout elapses.
	StateOpen
	// StateHalfOpen allows a probe call; its outcome decides the next state.
	StateHalfOpen
)

// String returns the lowercase state name used in logs and snapshots.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// BreakerConfig holds circuit breaker tuning parameters.
type BreakerConfig struct {
	// FailureThreshold is the absolute windowed failure count that opens
	// the breaker (subject to MinimumRequests).
	FailureThreshold int
	// MinimumRequests is the windowed sample size required before the
	// breaker may open; below it the failure counts are ignored.
	MinimumRequests int
	// MonitoringWindow is the sliding window over which outcomes count.
	// Older events are pruned.
	MonitoringWindow time.Duration
	// ResetTimeout is how long the breaker stays open before allowing a
	// half-open probe.
	ResetTimeout time.Duration
}

// withDefaults fills zero fields with conservative defaults.
func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.MinimumRequests <= 0 {
		c.MinimumRequests = 10
	}
	if c.MonitoringWindow <= 0 {
		c.MonitoringWindow = time.Minute
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	return c
}

// ledgerEvent is one recorded call outcome.
type ledgerEvent struct {
	// at is when the outcome was recorded.
	at time.Time
	// success is true for a successful call.
	success bool
}

// Breaker is a per-dependency circuit breaker over a sliding-window
// failure ledger. It is the only cross-query shared state besides the
// timeout guard's registry; all access goes through the mutex.
//
// The state machine is total: CLOSED→OPEN (thresholds), OPEN→HALF_OPEN
// (reset timeout elapses), HALF_OPEN→CLOSED (probe succeeds),
// HALF_OPEN→OPEN (probe fails). No other transitions exist.
type Breaker struct {
	// mu protects every field below.
	mu sync.Mutex
	// dependency names the guarded dependency in logs and metrics.
	dependency string
	// cfg holds the resolved tuning parameters.
	cfg BreakerConfig
	// state is the current circuit state.
	state State
	// events is the time-windowed outcome ledger, oldest first.
	events []ledgerEvent
	// openedAt is when the breaker last transitioned to open.
	openedAt time.Time
	// metrics records state and transition observations. May be nil.
	metrics *Metrics
	// now is the clock, replaceable in tests.
	now func() time.Time
}

// NewBreaker constructs a closed Breaker for the named dependency.
func NewBreaker(dependency string, cfg BreakerConfig, metrics *Metrics) *Breaker {
	b := &Breaker{
		dependency: dependency,
		cfg:        cfg.withDefaults(),
		state:      StateClosed,
		metrics:    metrics,
		now:        time.Now,
	}
	metrics.observeState(dependency, StateClosed)
	return b
}

// CanExecute reports whether a call may proceed. While open it also
// performs the OPEN→HALF_OPEN transition once ResetTimeout has elapsed.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.canExecuteLocked()
}

// canExecuteLocked implements CanExecute; the caller holds mu.
func (b *Breaker) canExecuteLocked() bool {
	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
			b.transitionLocked(StateHalfOpen, "open_to_half_open")
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess records a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		// Probe succeeded: close and start from a clean ledger.
		b.events = b.events[:0]
		b.transitionLocked(StateClosed, "half_open_to_closed")
		return
	}

	b.events = append(b.events, ledgerEvent{at: b.now(), success: true})
	b.pruneLocked()
}

// RecordFailure records a failed call outcome and opens the circuit when
// the windowed thresholds are crossed.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.openedAt = b.now()
		b.transitionLocked(StateOpen, "half_open_to_open")
		return
	}

	b.events = append(b.events, ledgerEvent{at: b.now(), success: false})
	b.pruneLocked()

	if b.state != StateClosed {
		return
	}

	total, failures := b.countLocked()
	if total < b.cfg.MinimumRequests {
		return
	}
	if failures >= b.cfg.FailureThreshold || float64(failures)/float64(total) >= 0.5 {
		b.openedAt = b.now()
		b.transitionLocked(StateOpen, "closed_to_open")
	}
}

// Snapshot is a point-in-time view of the breaker for observability.
type Snapshot struct {
	// Dependency names the guarded dependency.
	Dependency string `json:"dependency"`
	// State is the current circuit state name.
	State string `json:"state"`
	// WindowRequests is the number of outcomes in the monitoring window.
	WindowRequests int `json:"windowRequests"`
	// WindowFailures is the number of failures in the monitoring window.
	WindowFailures int `json:"windowFailures"`
	// OpenedAt is when the breaker last opened; zero when never opened.
	OpenedAt time.Time `json:"openedAt,omitzero"`
}

// Snapshot returns the current breaker state for the observability surface.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pruneLocked()
	total, failures := b.countLocked()
	return Snapshot{
		Dependency:     b.dependency,
		State:          b.state.String(),
		WindowRequests: total,
		WindowFailures: failures,
		OpenedAt:       b.openedAt,
	}
}

// transitionLocked performs a state change and its observations; the caller
// holds mu.
func (b *Breaker) transitionLocked(to State, edge string) {
	b.state = to
	b.metrics.observeState(b.dependency, to)
	b.metrics.observeTransition(b.dependency, edge)
}

// pruneLocked drops ledger events older than the monitoring window; the
// caller holds mu.
func (b *Breaker) pruneLocked() {
	cutoff := b.now().Add(-b.cfg.MonitoringWindow)
	i := 0
	for i < len(b.events) && b.events[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.events = append(b.events[:0], b.events[i:]...)
	}
}

// countLocked returns the windowed totals; the caller holds mu.
func (b *Breaker) countLocked() (total, failures int) {
	for _, e := range b.events {
		total++
		if !e.success {
			failures++
		}
	}
	return total, failures
}

// Gate runs op through b. When the breaker rejects the call, op is never
// invoked and the returned error is a circuit_open [*rage.Error]. The
// outcome of an executed op is recorded into the ledger.
func Gate[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if !b.CanExecute() {
		log := logging.FromContext(ctx)
		log.Warn("circuit breaker: rejecting call",
			slog.String("dependency", b.dependency),
		)
		return zero, rage.New(rage.KindCircuitOpen, b.dependency+" circuit is open")
	}

	v, err := op(ctx)
	if err != nil {
		b.RecordFailure()
		return zero, err
	}
	b.RecordSuccess()
	return v, nil
}
