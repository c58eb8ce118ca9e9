package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gugacoder/insight-kb-sub001/internal/rage"
)

func newTestCoordinator(degrade bool) *Coordinator {
	c := NewCoordinator(CoordinatorConfig{
		Dependency: "provider",
		Timeout:    2 * time.Second,
		Retry:      RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		Breaker:    BreakerConfig{FailureThreshold: 100, MinimumRequests: 100},
		Degrade:    degrade,
	}, NewMetrics(prometheus.NewRegistry()))
	return c
}

func Test_Execute_Success(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(true)

	got, err := Execute(context.Background(), c, func(context.Context) (string, error) {
		return "value", nil
	}, nil)
	if err != nil || got != "value" {
		t.Errorf("Execute = (%q, %v), want (value, nil)", got, err)
	}
}

func Test_Execute_DegradesToZeroValue(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(true)

	got, err := Execute(context.Background(), c, func(context.Context) (*string, error) {
		return nil, rage.FromStatus(401, "")
	}, nil)
	if err != nil {
		t.Fatalf("degradation must swallow the error, got %v", err)
	}
	if got != nil {
		t.Errorf("degraded result = %v, want zero value", got)
	}
}

func Test_Execute_ReRaisesWhenDegradationDisabled(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(false)

	_, err := Execute(context.Background(), c, func(context.Context) (int, error) {
		return 0, rage.FromStatus(403, "")
	}, nil)
	if rage.KindOf(err) != rage.KindPermission {
		t.Errorf("kind = %s, want permission", rage.KindOf(err))
	}
}

func Test_Execute_FallbackOnNetworkFailure(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(true)

	got, err := Execute(context.Background(), c, func(context.Context) (string, error) {
		return "", rage.New(rage.KindNetwork, "connection refused")
	}, func(context.Context) (string, bool) {
		return "cached", true
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "cached" {
		t.Errorf("result = %q, want the fallback value", got)
	}
}

func Test_Execute_NoFallbackForAuthFailure(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(true)

	fallbackAsked := false
	got, err := Execute(context.Background(), c, func(context.Context) (string, error) {
		return "", rage.FromStatus(401, "")
	}, func(context.Context) (string, bool) {
		fallbackAsked = true
		return "cached", true
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if fallbackAsked {
		t.Error("fallback must only be consulted for timeout and network kinds")
	}
	if got != "" {
		t.Errorf("result = %q, want degraded zero value", got)
	}
}

func Test_Execute_TotalFailureNeverRaises(t *testing.T) {
	t.Parallel()
	c := NewCoordinator(CoordinatorConfig{
		Dependency: "provider",
		Timeout:    time.Second,
		Retry:      RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond},
		Breaker:    BreakerConfig{FailureThreshold: 1, MinimumRequests: 1, ResetTimeout: time.Hour},
		Degrade:    true,
	}, nil)

	// Every layer fails: op errors, the breaker opens, later calls are
	// rejected — the caller still never sees an error.
	for i := 0; i < 5; i++ {
		got, err := Execute(context.Background(), c, func(context.Context) (*int, error) {
			return nil, rage.FromStatus(500, "")
		}, nil)
		if err != nil {
			t.Fatalf("call %d: degradation must hold at every layer, got %v", i, err)
		}
		if got != nil {
			t.Errorf("call %d: result = %v, want nil", i, got)
		}
	}

	if c.BreakerSnapshot().State != "open" {
		t.Error("breaker should have opened under repeated failures")
	}
}

func Test_Execute_BreakerRejectionShortCircuits(t *testing.T) {
	t.Parallel()
	c := NewCoordinator(CoordinatorConfig{
		Dependency: "provider",
		Timeout:    time.Second,
		Retry:      RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond},
		Breaker:    BreakerConfig{FailureThreshold: 1, MinimumRequests: 1, ResetTimeout: time.Hour},
		Degrade:    false,
	}, nil)

	_, _ = Execute(context.Background(), c, func(context.Context) (int, error) {
		return 0, rage.FromStatus(500, "")
	}, nil)

	calls := 0
	_, err := Execute(context.Background(), c, func(context.Context) (int, error) {
		calls++
		return 1, nil
	}, nil)

	if calls != 0 {
		t.Error("open breaker must reject without invoking the operation")
	}
	if rage.KindOf(err) != rage.KindCircuitOpen {
		t.Errorf("kind = %s, want circuit_open", rage.KindOf(err))
	}
}
