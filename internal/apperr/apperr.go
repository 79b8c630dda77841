// Package apperr defines the typed error kinds the retrieval pipeline
// distinguishes, in the sentinel-error style: a Kind for branching plus a
// wrapped cause.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation-policy decisions: only
// InvalidInput, Unauthorized, and Cancelled abort an orchestration; the rest
// are recorded locally and surfaced via metadata.errors[].
type Kind string

const (
	InvalidInput       Kind = "invalid_input"
	NotFound           Kind = "not_found"
	Unauthorized       Kind = "unauthorized"
	Transient          Kind = "transient"
	Permanent          Kind = "permanent"
	PartialDegradation Kind = "partial_degradation"
	Cancelled          Kind = "cancelled"
)

// Error wraps an underlying cause with a Kind and an optional component tag
// so callers can branch on classification without string matching.
type Error struct {
	Kind      Kind
	Component string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Component, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Component, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error.
func New(kind Kind, component, message string, cause error) *Error {
	return &Error{Kind: kind, Component: component, Message: message, Err: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, defaulting to Permanent for untyped errors
// so callers that only check "should I abort" still get conservative
// behavior.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Permanent
}

// Aborts reports whether a Kind should abort the whole orchestration:
// only InvalidInput, Unauthorized, and Cancelled do.
func Aborts(kind Kind) bool {
	switch kind {
	case InvalidInput, Unauthorized, Cancelled:
		return true
	default:
		return false
	}
}
