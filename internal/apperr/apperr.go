// Package apperr carries the error taxonomy shared by triage, synthesis and the orchestrator.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation decisions.
type Kind int

const (
	Internal Kind = iota
	Validation
	Transport
	Upstream
	Timeout
	Conflict
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Transport:
		return "transport"
	case Upstream:
		return "upstream"
	case Timeout:
		return "timeout"
	case Conflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is the structured error type used across the module.
type Error struct {
	Kind     Kind
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.Cause }

// New creates an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates an error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an existing error.
func Wrap(err error, kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Cause: err}
}

// Wrapf attaches a kind and formatted message to an existing error.
func Wrapf(err error, kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds a key/value pair and returns the same error.
func (e *Error) WithMetadata(key, value string) *Error {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// KindOf reports the kind of the first *Error in the chain, or Internal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return Internal
}

// IsKind checks whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// IsRetryable returns true for transport-level failures and timeouts.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case Transport, Timeout:
		return true
	default:
		return false
	}
}
