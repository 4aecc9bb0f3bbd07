package core

import "fmt"

// Kind is the internal error taxonomy described in the error-handling
// design: no stack traces cross trust boundaries, only a kind and a
// human-readable message.
type Kind string

const (
	KindInvalidArgument    Kind = "invalid-argument"
	KindNotFound           Kind = "not-found"
	KindPermissionDenied   Kind = "permission-denied"
	KindUnavailable        Kind = "unavailable"
	KindFailedPrecondition Kind = "failed-precondition"
	KindInternal           Kind = "internal"
)

// Error pairs a Kind with a message. It is the only error type that should
// cross a component boundary in this codebase — wrap lower-level errors
// with Wrap/Errorf rather than letting them escape directly.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Message }

// Errorf builds an *Error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an existing error, preserving its message.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	if ae, ok := err.(*Error); ok {
		return ae
	}
	return &Error{Kind: kind, Message: err.Error()}
}

// KindOf extracts the Kind from err, defaulting to KindInternal for errors
// that never got classified.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if ae, ok := err.(*Error); ok {
		return ae.Kind
	}
	return KindInternal
}
