// Package apierrors gives every component in the control plane and worker a
// shared vocabulary for the error kinds in spec §7: ValidationError, NotFound,
// Conflict, NotOwner, Transient, NonRetryable and Fatal. Callers at a
// component boundary (HTTP handler, gRPC method, worker loop) switch on Kind
// to decide status codes, retry behavior and logging level.
package apierrors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is one of the error categories from spec §7.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindNotOwner     Kind = "not_owner"
	KindTransient    Kind = "transient"
	KindNonRetryable Kind = "non_retryable"
	KindFatal        Kind = "fatal"
)

// Error is a kind-tagged error that wraps an underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) *Error { return newErr(KindValidation, format, args...) }
func NotFound(format string, args ...interface{}) *Error    { return newErr(KindNotFound, format, args...) }
func Conflict(format string, args ...interface{}) *Error    { return newErr(KindConflict, format, args...) }
func NotOwner(format string, args ...interface{}) *Error    { return newErr(KindNotOwner, format, args...) }

// Wrap attaches a Kind to an existing error without losing it (errors.Unwrap
// continues to work through Error.Unwrap).
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error. Unclassified errors are treated as Transient, the safe default for
// retry logic at the worker's message-processing boundary.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// IsNotFound reports whether err is (or wraps) a NotFound error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsConflict reports whether err is (or wraps) a Conflict error.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsNotOwner reports whether err is (or wraps) a NotOwner error.
func IsNotOwner(err error) bool { return KindOf(err) == KindNotOwner }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// nonRetryablePatterns are case-insensitive substrings that mark an
// executor/delivery error as non-retryable (spec §4.5.1). Anything else is
// treated as retryable.
var nonRetryablePatterns = []string{
	"timeout",
	"exceeded maximum duration",
	"deserialization",
	"invalid format",
	"bad request",
	"unauthorized",
	"forbidden",
	"not found",
	"conflict",
}

// IsNonRetryableMessage reports whether msg matches one of the fixed
// non-retryable error patterns, case-insensitively.
func IsNonRetryableMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, p := range nonRetryablePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// ClassifyMessage builds a *Error from a free-text error message, tagging
// it NonRetryable or Transient by matching against nonRetryablePatterns.
func ClassifyMessage(format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)
	if IsNonRetryableMessage(msg) {
		return newErr(KindNonRetryable, "%s", msg)
	}
	return newErr(KindTransient, "%s", msg)
}
