package rage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

func Test_FromStatus(t *testing.T) {
	t.Parallel()
	cases := []struct {
		status    int
		wantKind  Kind
		retryable bool
	}{
		{401, KindAuth, false},
		{402, KindPayment, false},
		{403, KindPermission, false},
		{404, KindNotFound, false},
		{429, KindRateLimit, true},
		{500, KindServer, true},
		{502, KindServer, true},
		{503, KindServer, true},
		{422, KindValidation, false},
		{302, KindUnknown, true},
	}
	for _, tc := range cases {
		got := FromStatus(tc.status, "")
		if got.Kind != tc.wantKind {
			t.Errorf("FromStatus(%d).Kind = %s, want %s", tc.status, got.Kind, tc.wantKind)
		}
		if got.Retryable != tc.retryable {
			t.Errorf("FromStatus(%d).Retryable = %v, want %v", tc.status, got.Retryable, tc.retryable)
		}
	}
}

func Test_FromStatus_RetryAfter(t *testing.T) {
	t.Parallel()
	e := FromStatus(429, "7")
	if e.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", e.RetryAfter)
	}

	// Malformed header values are ignored rather than failing classification.
	e = FromStatus(429, "Wed, 21 Oct 2026 07:28:00 GMT")
	if e.RetryAfter != 0 {
		t.Errorf("RetryAfter = %v, want 0 for non-integer header", e.RetryAfter)
	}
}

func Test_Classify_PassesThroughClassified(t *testing.T) {
	t.Parallel()
	orig := New(KindCircuitOpen, "breaker open")
	wrapped := fmt.Errorf("coordinator: %w", orig)

	got := Classify(wrapped)
	if got != orig {
		t.Errorf("Classify should return the original *Error, got %+v", got)
	}
}

func Test_Classify_ContextErrors(t *testing.T) {
	t.Parallel()
	if k := KindOf(context.DeadlineExceeded); k != KindTimeout {
		t.Errorf("deadline exceeded classified as %s, want timeout", k)
	}
	c := Classify(context.Canceled)
	if c.Kind != KindUnknown || c.Retryable {
		t.Errorf("canceled classified as %s retryable=%v, want unknown non-retryable", c.Kind, c.Retryable)
	}
}

func Test_Classify_NetworkErrors(t *testing.T) {
	t.Parallel()
	opErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	got := Classify(opErr)
	if got.Kind != KindNetwork {
		t.Errorf("OpError classified as %s, want network", got.Kind)
	}
	if !got.Retryable {
		t.Error("network errors must be retryable")
	}
}

func Test_Classify_Unknown(t *testing.T) {
	t.Parallel()
	got := Classify(errors.New("something odd"))
	if got.Kind != KindUnknown {
		t.Errorf("Kind = %s, want unknown", got.Kind)
	}
	if !got.Retryable {
		t.Error("unknown errors are retryable (bounded to one attempt by the retry policy)")
	}
}

func Test_CircuitOpen_NotRetryable(t *testing.T) {
	t.Parallel()
	e := New(KindCircuitOpen, "open")
	if e.Retryable {
		t.Error("circuit_open must never be retryable")
	}
}

func Test_Error_Unwrap(t *testing.T) {
	t.Parallel()
	cause := errors.New("boom")
	e := Wrap(KindServer, "upstream", cause)
	if !errors.Is(e, cause) {
		t.Error("errors.Is should reach the wrapped cause")
	}
}
