package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gugacoder/insight-kb-sub001/internal/rage"
)

// fakeClock provides a controllable time source for breaker tests.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time            { return c.t }
func (c *fakeClock) advance(d time.Duration)   { c.t = c.t.Add(d) }

func newTestBreaker(cfg BreakerConfig) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker("test", cfg, nil)
	b.now = clock.now
	return b, clock
}

func Test_Breaker_OpensAtFailureThreshold(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(BreakerConfig{
		FailureThreshold: 5,
		MinimumRequests:  10,
		MonitoringWindow: time.Minute,
		ResetTimeout:     30 * time.Second,
	})

	// 10 calls, 6 failures: minimum sample reached, threshold crossed.
	for i := 0; i < 4; i++ {
		b.RecordSuccess()
	}
	for i := 0; i < 6; i++ {
		b.RecordFailure()
	}

	if b.CanExecute() {
		t.Fatal("breaker should be open after 6 failures in 10 requests")
	}
	snap := b.Snapshot()
	if snap.State != "open" {
		t.Errorf("state = %s, want open", snap.State)
	}
}

func Test_Breaker_StaysClosedBelowMinimumRequests(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(BreakerConfig{
		FailureThreshold: 3,
		MinimumRequests:  10,
	})

	// All failures, but sample size too small to open.
	for i := 0; i < 9; i++ {
		b.RecordFailure()
	}
	if !b.CanExecute() {
		t.Error("breaker must not open below the minimum sample size")
	}
}

func Test_Breaker_OpensOnFailureRate(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(BreakerConfig{
		FailureThreshold: 100, // unreachable — only the rate can open it
		MinimumRequests:  10,
	})

	for i := 0; i < 5; i++ {
		b.RecordSuccess()
	}
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	// 5/10 = 50% failure rate, exactly at the threshold.
	if b.CanExecute() {
		t.Error("breaker should open at a 50% windowed failure rate")
	}
}

func Test_Breaker_HalfOpenAfterResetTimeout(t *testing.T) {
	t.Parallel()
	b, clock := newTestBreaker(BreakerConfig{
		FailureThreshold: 2,
		MinimumRequests:  2,
		ResetTimeout:     30 * time.Second,
	})

	b.RecordFailure()
	b.RecordFailure()
	if b.CanExecute() {
		t.Fatal("breaker should be open")
	}

	clock.advance(29 * time.Second)
	if b.CanExecute() {
		t.Fatal("breaker should still be open before the reset timeout")
	}

	clock.advance(2 * time.Second)
	if !b.CanExecute() {
		t.Fatal("breaker should allow a probe after the reset timeout")
	}
	if got := b.Snapshot().State; got != "half_open" {
		t.Errorf("state = %s, want half_open", got)
	}
}

func Test_Breaker_HalfOpenProbeDecides(t *testing.T) {
	t.Parallel()
	open := func() (*Breaker, *fakeClock) {
		b, clock := newTestBreaker(BreakerConfig{
			FailureThreshold: 2,
			MinimumRequests:  2,
			ResetTimeout:     time.Second,
		})
		b.RecordFailure()
		b.RecordFailure()
		clock.advance(2 * time.Second)
		if !b.CanExecute() {
			t.Fatal("setup: breaker should be half-open")
		}
		return b, clock
	}

	// Probe success closes the circuit and clears the ledger.
	b, _ := open()
	b.RecordSuccess()
	snap := b.Snapshot()
	if snap.State != "closed" {
		t.Errorf("state = %s, want closed after probe success", snap.State)
	}
	if snap.WindowRequests != 0 {
		t.Errorf("ledger should be cleared on close, has %d events", snap.WindowRequests)
	}

	// Probe failure re-opens immediately.
	b, _ = open()
	b.RecordFailure()
	if got := b.Snapshot().State; got != "open" {
		t.Errorf("state = %s, want open after probe failure", got)
	}
	if b.CanExecute() {
		t.Error("breaker should reject calls after a failed probe")
	}
}

func Test_Breaker_PrunesOldEvents(t *testing.T) {
	t.Parallel()
	b, clock := newTestBreaker(BreakerConfig{
		FailureThreshold: 5,
		MinimumRequests:  5,
		MonitoringWindow: time.Minute,
	})

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	// Outside the window these failures no longer count.
	clock.advance(2 * time.Minute)
	if got := b.Snapshot().WindowRequests; got != 0 {
		t.Errorf("window should be empty after pruning, has %d events", got)
	}
	if !b.CanExecute() {
		t.Error("breaker should still be closed — thresholds were never crossed in one window")
	}
}

func Test_Gate_RejectsWithoutInvoking(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(BreakerConfig{
		FailureThreshold: 1,
		MinimumRequests:  1,
		ResetTimeout:     time.Hour,
	})
	b.RecordFailure()

	invoked := false
	_, err := Gate(context.Background(), b, func(context.Context) (string, error) {
		invoked = true
		return "x", nil
	})

	if invoked {
		t.Error("operation must not run while the circuit is open")
	}
	if rage.KindOf(err) != rage.KindCircuitOpen {
		t.Errorf("kind = %s, want circuit_open", rage.KindOf(err))
	}
}

func Test_Gate_RecordsOutcomes(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(BreakerConfig{MinimumRequests: 100})

	_, _ = Gate(context.Background(), b, func(context.Context) (int, error) { return 1, nil })
	_, _ = Gate(context.Background(), b, func(context.Context) (int, error) { return 0, errors.New("boom") })

	snap := b.Snapshot()
	if snap.WindowRequests != 2 || snap.WindowFailures != 1 {
		t.Errorf("ledger = %d requests / %d failures, want 2 / 1", snap.WindowRequests, snap.WindowFailures)
	}
}
