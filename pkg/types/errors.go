package types

import (
	"errors"
	"fmt"
)

// Kind is the stable classification of a failure. User-visible failures
// always carry a Kind plus a human-readable message; internal details are
// never part of the stable contract.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindInvalidSettings   Kind = "invalid_settings"
	KindInsufficientDelta Kind = "insufficient_delta"
	KindCompressionFailed Kind = "compression_failed"
	KindResourceExhausted Kind = "resource_exhausted"
)

// Error is a failure with a stable kind. It wraps an optional cause so
// callers can use errors.Is/As through it.
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

// Is matches two *Error values by kind, so sentinel-style comparisons like
// errors.Is(err, &Error{Kind: KindConflict}) work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// NotFound builds a KindNotFound error.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict builds a KindConflict error.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// InvalidSettings builds a KindInvalidSettings error.
func InvalidSettings(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidSettings, Message: fmt.Sprintf(format, args...)}
}

// InsufficientDelta builds a KindInsufficientDelta error.
func InsufficientDelta(format string, args ...any) *Error {
	return &Error{Kind: KindInsufficientDelta, Message: fmt.Sprintf(format, args...)}
}

// CompressionFailed builds a KindCompressionFailed error wrapping cause.
func CompressionFailed(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindCompressionFailed, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// ResourceExhausted builds a KindResourceExhausted error wrapping cause.
func ResourceExhausted(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindResourceExhausted, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the stable kind from err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
