// Package rage defines the error taxonomy for the retrieval-augmented
// generation enrichment (RAGE) pipeline. Every raw failure — HTTP status,
// network error, or explicit signal — is classified exactly once at its
// origin into a [*Error] carrying a fixed [Kind], a retryable flag, and an
// optional retry-after hint. The resilience layers branch on this value
// rather than re-inspecting raw errors.
package rage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Kind is the closed set of failure categories recognised by the pipeline.
type Kind string

const (
	// KindNetwork is a connection-level failure (refused, reset, DNS).
	KindNetwork Kind = "network"
	// KindTimeout is an exceeded deadline, local or remote.
	KindTimeout Kind = "timeout"
	// KindAuth is HTTP 401 — missing or invalid credentials.
	KindAuth Kind = "auth"
	// KindPayment is HTTP 402 — quota or billing exhaustion.
	KindPayment Kind = "payment"
	// KindPermission is HTTP 403 — authenticated but not authorised.
	KindPermission Kind = "permission"
	// KindNotFound is HTTP 404 — unknown endpoint or pipeline.
	KindNotFound Kind = "not_found"
	// KindRateLimit is HTTP 429 — provider throttling; honours Retry-After.
	KindRateLimit Kind = "rate_limit"
	// KindValidation is a schema or input failure, including unrecognised
	// provider response shapes.
	KindValidation Kind = "validation"
	// KindServer is any HTTP 5xx from the provider.
	KindServer Kind = "server"
	// KindCircuitOpen is a local circuit-breaker rejection. The provider was
	// never called.
	KindCircuitOpen Kind = "circuit_open"
	// KindUnknown is anything unmatched. Retried at most once.
	KindUnknown Kind = "unknown"
)

// Error is the classified form of a pipeline failure. Constructed once at
// the point of failure and never mutated afterward.
type Error struct {
	// Kind is the failure category.
	Kind Kind
	// Message is a human-readable description of the failure.
	Message string
	// Retryable indicates whether a retry may succeed.
	Retryable bool
	// RetryAfter is the server-provided wait hint for rate_limit errors.
	// Zero when the provider supplied none.
	RetryAfter time.Duration
	// cause is the underlying error, if any, for errors.Unwrap chains.
	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("rage: %s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("rage: %s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for use with errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.cause }

// New constructs an Error of the given kind with the default retryability
// for that kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Retryable: retryable(kind)}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Retryable: retryable(kind), cause: cause}
}

// retryable returns the default retryable flag for a kind.
// timeout and unknown are nominally retryable but the retry policy bounds
// them more tightly than the other retryable kinds.
func retryable(kind Kind) bool {
	switch kind {
	case KindNetwork, KindTimeout, KindRateLimit, KindServer, KindUnknown:
		return true
	default:
		return false
	}
}

// FromStatus classifies an HTTP status code from the retrieval provider.
// retryAfter is the raw Retry-After header value, honoured for 429 responses
// when it parses as a positive integer number of seconds.
func FromStatus(status int, retryAfter string) *Error {
	switch {
	case status == http.StatusUnauthorized:
		return New(KindAuth, "provider rejected credentials (401)")
	case status == http.StatusPaymentRequired:
		return New(KindPayment, "provider quota exhausted (402)")
	case status == http.StatusForbidden:
		return New(KindPermission, "provider denied access (403)")
	case status == http.StatusNotFound:
		return New(KindNotFound, "provider endpoint not found (404)")
	case status == http.StatusTooManyRequests:
		e := New(KindRateLimit, "provider rate limit exceeded (429)")
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
		return e
	case status >= 500:
		return New(KindServer, fmt.Sprintf("provider server error (%d)", status))
	case status >= 400:
		return New(KindValidation, fmt.Sprintf("provider rejected request (%d)", status))
	default:
		return New(KindUnknown, fmt.Sprintf("unexpected provider status (%d)", status))
	}
}

// Classify maps an arbitrary error to a *Error. Already-classified errors
// pass through unchanged so classification happens at most once per failure.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var re *Error
	if errors.As(err, &re) {
		return re
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindTimeout, "deadline exceeded", err)
	}
	if errors.Is(err, context.Canceled) {
		// Cancellation is caller-initiated; retrying would outlive the caller.
		e := Wrap(KindUnknown, "operation canceled", err)
		e.Retryable = false
		return e
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Wrap(KindTimeout, "network timeout", err)
		}
		return Wrap(KindNetwork, "network failure", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Wrap(KindNetwork, "connection failure", err)
	}

	return Wrap(KindUnknown, "unclassified failure", err)
}

// KindOf returns the kind of err, classifying it if necessary.
// Returns KindUnknown for non-nil errors that match nothing.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return Classify(err).Kind
}

// IsRetryable reports whether err should be retried according to its
// classification.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err).Retryable
}
