// Package apperr classifies domain errors into the kinds the HTTP facade
// maps to status codes (spec §4.6, §7).
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the four error kinds the system distinguishes.
type Kind int

const (
	// KindService is the zero value so a plain fmt.Errorf defaults to it.
	KindService Kind = iota
	KindNotFound
	KindValidation
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindCancelled:
		return "cancelled"
	default:
		return "service"
	}
}

// Error wraps an underlying error with a Kind.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.kind }

func newf(k Kind, format string, args ...any) *Error {
	return &Error{kind: k, msg: fmt.Sprintf(format, args...)}
}

// NotFound builds a NotFound error.
func NotFound(format string, args ...any) *Error { return newf(KindNotFound, format, args...) }

// Validation builds a Validation error.
func Validation(format string, args ...any) *Error { return newf(KindValidation, format, args...) }

// Service builds a Service error, optionally wrapping a cause.
func Service(cause error, format string, args ...any) *Error {
	e := newf(KindService, format, args...)
	e.err = cause
	return e
}

// Cancelled is the control-signal error, never surfaced to HTTP clients.
var Cancelled = &Error{kind: KindCancelled, msg: "cancelled"}

// KindOf extracts the Kind from err, defaulting to KindService when err is
// not one of ours (or nil, which maps to KindService too — callers must
// check err != nil first).
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.kind
	}
	return KindService
}

// Is reports whether err is (or wraps) Cancelled.
func Is(err error) bool {
	return errors.Is(err, Cancelled)
}

// Truncate clips s to n runes, matching the job.error 2000-char cap (spec §3).
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
