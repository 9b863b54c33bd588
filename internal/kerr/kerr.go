// Package kerr declares the keeper's typed error kinds and a small Error
// wrapper that carries one plus an underlying cause, in the same
// sentinel-error-package spirit the corpus uses for apperrors, generalized
// from a flat list of sentinels into an enumerated Kind so call sites can
// switch on it.
package kerr

import (
	"errors"
	"fmt"
)

// Kind is one of the keeper's error kinds.
type Kind string

const (
	Network             Kind = "network"
	RateLimited          Kind = "rate_limited"
	AuthError            Kind = "auth_error"
	InvalidRequest       Kind = "invalid_request"
	InsufficientBalance  Kind = "insufficient_balance"
	LiquidityTooLow      Kind = "liquidity_too_low"
	DataQuality          Kind = "data_quality"
	StaleQuote           Kind = "stale_quote"
	Unprofitable         Kind = "unprofitable"
	SingleLegHanging     Kind = "single_leg_hanging"
	Reconciliation       Kind = "reconciliation"
	Fatal                Kind = "fatal"
	NotFound             Kind = "not_found"
	Unknown              Kind = "unknown"
)

// Error wraps a Kind, a human message, and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a *Error of the given kind around an existing cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether the first *Error found in err's chain has the given
// Kind; an *Error wrapped beneath that one is not examined.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or Unknown if err does not wrap one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Retryable reports whether the scheduler should back the affected loop off
// by one period and retry, per the adapter-boundary propagation rule.
func Retryable(err error) bool {
	k := KindOf(err)
	return k == Network || k == RateLimited
}
