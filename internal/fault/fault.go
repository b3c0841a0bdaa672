// Package fault defines the error taxonomy shared by all registries.
// Every error crossing a registry boundary carries a Kind so the
// transport layer can translate it without string matching.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the caller.
type Kind int

const (
	// Internal is the default for unclassified failures (store, generation).
	Internal Kind = iota
	// Validation marks caller-fixable input errors. Never retryable.
	Validation
	// Conflict marks uniqueness violations and optimistic-concurrency rejections.
	Conflict
	// NotFound marks unknown ids or account mismatches.
	NotFound
	// PreconditionFailed marks operations refused without explicit confirmation.
	PreconditionFailed
	// Unavailable marks transient external failures (DNS resolver). Retryable.
	Unavailable
	// Unauthorized marks failed authentication.
	Unauthorized
)

// String returns the kind name as used in logs and metrics labels.
func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Conflict:
		return "conflict"
	case NotFound:
		return "not_found"
	case PreconditionFailed:
		return "precondition_failed"
	case Unavailable:
		return "unavailable"
	case Unauthorized:
		return "unauthorized"
	default:
		return "internal"
	}
}

// Error is a classified error with an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the Kind of err, unwrapping as needed.
// Unclassified errors are Internal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
