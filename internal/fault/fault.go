// Package fault classifies errors crossing component boundaries so callers
// can decide whether to retry, surface, or reject without inspecting
// collaborator-specific error types.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the retry/surface classification of an error.
type Kind string

const (
	// KindValidation means malformed input. Rejected immediately, never retried.
	KindValidation Kind = "validation"

	// KindTransient means a temporary integration failure (timeout, 5xx).
	// Safe to retry with backoff.
	KindTransient Kind = "transient"

	// KindPermanent means the target platform rejected the action. Not retried.
	KindPermanent Kind = "permanent"

	// KindConflict means a concurrent writer got there first (stale version).
	KindConflict Kind = "conflict"

	// KindNotFound means an unknown policy/incident/endpoint id.
	KindNotFound Kind = "not_found"

	// KindUnavailable means a collaborator cannot be reached at all
	// (e.g. the scoring model). Work is queued, not failed.
	KindUnavailable Kind = "unavailable"
)

// Error wraps an underlying error with a Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a fault of the given kind wrapping a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind to an existing error. Returns nil for a nil error.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the Kind from err. Unclassified errors report KindTransient:
// an error we cannot attribute to bad input or a platform rejection is treated
// as retryable rather than silently dropped.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransient
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}

// Retryable reports whether err should be retried with backoff.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}
