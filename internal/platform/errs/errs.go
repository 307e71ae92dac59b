// Package errs defines the failure taxonomy shared by all domain services.
// Every service operation reports failures as one of these kinds so that
// handlers can map them to HTTP statuses without inspecting message text.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a class of failure.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindValidation          Kind = "validation_error"
	KindStageOrderViolation Kind = "stage_order_violation"
	KindForbidden           Kind = "forbidden"
	KindInsufficientStock   Kind = "insufficient_stock"
	KindDuplicateBatch      Kind = "duplicate_batch"
	KindDuplicateBooking    Kind = "duplicate_booking"
	KindSlotUnavailable     Kind = "slot_unavailable"
	KindConcurrencyConflict Kind = "concurrency_conflict"
	KindInternal            Kind = "internal"
)

// Error carries a failure kind alongside a human-readable message and an
// optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds a new Error of the given kind.
func E(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or KindInternal if err carries no kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the human-readable message of err without the kind prefix.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return err.Error()
}

func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsForbidden(err error) bool  { return KindOf(err) == KindForbidden }

// IsRetryable reports whether the caller may retry the operation once after
// re-checking preconditions. Only serialization conflicts qualify.
func IsRetryable(err error) bool {
	return KindOf(err) == KindConcurrencyConflict
}

// HTTPStatus maps a failure kind to an HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindStageOrderViolation, KindInsufficientStock, KindDuplicateBatch,
		KindDuplicateBooking, KindSlotUnavailable, KindConcurrencyConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
