package source

import (
	"errors"
	"fmt"
	"time"
)

// FailureKind classifies a source call failure. The classification
// decides retry and circuit-breaker behavior in the resilience layer.
type FailureKind int

const (
	// FailureTransient covers network blips and per-call timeouts;
	// retryable with backoff.
	FailureTransient FailureKind = iota
	// FailureRateLimited means the source throttled the call;
	// retryable, honoring DelayHint when the server provided one.
	FailureRateLimited
	// FailurePermanent covers bad requests and auth errors; never
	// retried.
	FailurePermanent
	// FailureUnavailable means the source is entirely down; not
	// retried, counts straight toward the circuit breaker.
	FailureUnavailable
	// FailureCircuitOpen is synthesized by the resilience layer when
	// the per-source breaker rejects the call without dialing out.
	FailureCircuitOpen
	// FailureTimeout is synthesized when a fan-out round or run
	// deadline expires before the call completes.
	FailureTimeout
)

func (k FailureKind) String() string {
	switch k {
	case FailureTransient:
		return "transient"
	case FailureRateLimited:
		return "rate_limited"
	case FailurePermanent:
		return "permanent"
	case FailureUnavailable:
		return "unavailable"
	case FailureCircuitOpen:
		return "circuit_open"
	case FailureTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Retryable reports whether the resilience layer may retry this kind.
func (k FailureKind) Retryable() bool {
	return k == FailureTransient || k == FailureRateLimited
}

// Error is a classified source failure.
type Error struct {
	Kind      FailureKind
	Source    string
	Operation string
	// DelayHint is a server-provided retry delay for rate-limited
	// failures; zero when absent.
	DelayHint time.Duration
	Err       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("source %s: %s %s", e.Source, e.Operation, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether this failure may be retried.
func (e *Error) Retryable() bool { return e.Kind.Retryable() }

// NewError builds a classified failure.
func NewError(kind FailureKind, src, op string, err error) *Error {
	return &Error{Kind: kind, Source: src, Operation: op, Err: err}
}

// NewRateLimited builds a rate-limited failure carrying the server's
// delay hint.
func NewRateLimited(src, op string, hint time.Duration, err error) *Error {
	return &Error{Kind: FailureRateLimited, Source: src, Operation: op, DelayHint: hint, Err: err}
}

// KindOf extracts the failure kind from an error chain. Unclassified
// errors are treated as transient so a stray adapter error still gets a
// bounded retry rather than poisoning the run.
func KindOf(err error) FailureKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return FailureTransient
}

// DelayHintOf extracts the rate-limit delay hint, if any.
func DelayHintOf(err error) time.Duration {
	var se *Error
	if errors.As(err, &se) {
		return se.DelayHint
	}
	return 0
}
