// Package aerr defines the error-kind taxonomy shared by every layer of the
// runtime (VM operators, Broker packets, Agent responses). A single closed
// enum lets the VM map failures to wire "error" packets and lets the Agent
// map a terminal decode failure to an AgentResponseError without each layer
// inventing its own string-typed error scheme.
package aerr

import "fmt"

// Kind enumerates the error categories surfaced to callers (see spec §7).
type Kind string

const (
	Validation         Kind = "validation"
	NotFound           Kind = "not_found"
	AlreadyExists      Kind = "already_exists"
	IO                 Kind = "io"
	Integrity          Kind = "integrity"
	ContextLengthLimit Kind = "context_length_limit"
	InvalidToolCall    Kind = "invalid_tool_call"
	Transport          Kind = "transport"
	Cancelled          Kind = "cancelled"
)

// Error is the concrete error type carried across component boundaries.
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

// New builds an *Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind, preserving cause for errors.Is/As.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an *Error.
// Unrecognized errors are reported as IO, matching the spec's "any HTTP or
// filesystem error is surfaced" fallback for the model cache.
func KindOf(err error) Kind {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return IO
}

// As walks err's single-error Unwrap chain and reports whether it holds an
// *Error, storing the first one found in target. It does not call
// errors.As and does not follow multi-error (Unwrap() []error) joins.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
