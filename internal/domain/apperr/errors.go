// Package apperr defines the error taxonomy surfaced by the workflow core.
// Every error returned to callers carries a stable Kind so transports can map
// it without string matching.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a workflow error
type Kind string

const (
	KindNotFound      Kind = "NOT_FOUND"
	KindValidation    Kind = "VALIDATION"
	KindInvalidState  Kind = "INVALID_STATE"
	KindForbidden     Kind = "FORBIDDEN"
	KindConfiguration Kind = "CONFIGURATION"
	KindInternal      Kind = "INTERNAL"
)

// String returns the string representation of the kind
func (k Kind) String() string {
	return string(k)
}

// Sentinel values usable with errors.Is
var (
	ErrNotFound      = &Error{Kind: KindNotFound, Message: "not found"}
	ErrValidation    = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrInvalidState  = &Error{Kind: KindInvalidState, Message: "invalid state"}
	ErrForbidden     = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrConfiguration = &Error{Kind: KindConfiguration, Message: "configuration error"}
)

// Error is a classified workflow error
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
// This lets errors.Is(err, apperr.ErrNotFound) match any not-found error.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a NOT_FOUND error
func NotFound(format string, args ...interface{}) *Error {
	return newf(KindNotFound, format, args...)
}

// Validation returns a VALIDATION error
func Validation(format string, args ...interface{}) *Error {
	return newf(KindValidation, format, args...)
}

// InvalidState returns an INVALID_STATE error
func InvalidState(format string, args ...interface{}) *Error {
	return newf(KindInvalidState, format, args...)
}

// Forbidden returns a FORBIDDEN error
func Forbidden(format string, args ...interface{}) *Error {
	return newf(KindForbidden, format, args...)
}

// Configuration returns a CONFIGURATION error
func Configuration(format string, args ...interface{}) *Error {
	return newf(KindConfiguration, format, args...)
}

// Wrap attaches a cause to a classified error
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	e := newf(kind, format, args...)
	e.Err = err
	return e
}

// KindOf returns the kind of err, or KindInternal for unclassified errors
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
