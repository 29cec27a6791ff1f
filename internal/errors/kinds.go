package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the propagation categories the
// queue core distinguishes between. Worker loops and producer-facing
// operations branch on Kind rather than on error string matching.
type Kind string

const (
	// KindValidation indicates bad input (invalid priority, backoff spec, routing key, ...).
	KindValidation Kind = "validation"
	// KindNotFound indicates a queue or job that does not exist.
	KindNotFound Kind = "not_found"
	// KindConflict indicates a state transition that is not allowed from the job's current state.
	KindConflict Kind = "conflict"
	// KindResourceExhausted indicates a pool, rate limit, or queue size cap was hit.
	KindResourceExhausted Kind = "resource_exhausted"
	// KindCircuitOpen indicates a call was short-circuited by an open breaker.
	KindCircuitOpen Kind = "circuit_open"
	// KindTimeout indicates a per-call or command timeout elapsed.
	KindTimeout Kind = "timeout"
	// KindSerialization indicates a payload failed to encode or decode.
	KindSerialization Kind = "serialization"
	// KindBackend indicates a Redis transport or command error.
	KindBackend Kind = "backend"
	// KindCancelled indicates explicit caller cancellation.
	KindCancelled Kind = "cancelled"
	// KindInternal indicates an invariant violation that should reach the process supervisor.
	KindInternal Kind = "internal"
)

// Error wraps an underlying error with a Kind and optional structured fields
// for logging. It implements Unwrap so errors.Is/errors.As see through it.
type Error struct {
	Kind   Kind
	Err    error
	Fields map[string]interface{}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithField attaches a structured field and returns the same error for chaining.
func (e *Error) WithField(key string, value interface{}) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

func newErr(kind Kind, format string, args ...interface{}) *Error {
	var err error
	if format != "" {
		err = fmt.Errorf(format, args...)
	}
	return &Error{Kind: kind, Err: err}
}

// wrap builds a Kind error around an existing error without losing it.
func wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Validation builds a KindValidation error.
func Validation(format string, args ...interface{}) *Error { return newErr(KindValidation, format, args...) }

// NotFound builds a KindNotFound error.
func NotFound(format string, args ...interface{}) *Error { return newErr(KindNotFound, format, args...) }

// Conflict builds a KindConflict error.
func Conflict(format string, args ...interface{}) *Error { return newErr(KindConflict, format, args...) }

// ResourceExhausted builds a KindResourceExhausted error.
func ResourceExhausted(format string, args ...interface{}) *Error {
	return newErr(KindResourceExhausted, format, args...)
}

// CircuitOpen builds a KindCircuitOpen error.
func CircuitOpen(format string, args ...interface{}) *Error { return newErr(KindCircuitOpen, format, args...) }

// Timeout builds a KindTimeout error.
func Timeout(format string, args ...interface{}) *Error { return newErr(KindTimeout, format, args...) }

// Serialization wraps err as a KindSerialization error.
func Serialization(err error) *Error { return wrap(KindSerialization, err) }

// Backend wraps err as a KindBackend error.
func Backend(err error) *Error { return wrap(KindBackend, err) }

// Cancelled wraps err as a KindCancelled error.
func Cancelled(err error) *Error { return wrap(KindCancelled, err) }

// Internal builds a KindInternal error.
func Internal(format string, args ...interface{}) *Error { return newErr(KindInternal, format, args...) }

// KindOf returns the Kind of err if it (or something it wraps) is a *Error,
// and KindInternal otherwise so callers always get a usable classification.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
