// Package apperrors re-exports github.com/cockroachdb/errors (stack traces,
// wrapping, hints) and layers the server's error taxonomy (spec.md §7) on
// top of it, the way the teacher project's errors package re-exports the
// same library for the same reasons.
package apperrors

import (
	crdb "github.com/cockroachdb/errors"

	"github.com/teranos/stata-bridge/internal/logging"
)

var (
	New   = crdb.New
	Newf  = crdb.Newf
	Wrap  = crdb.Wrap
	Wrapf = crdb.Wrapf
	Is    = crdb.Is
	As    = crdb.As
)

// Kind is the taxonomy from spec.md §7 — a classification, not a type
// hierarchy, so ordinary errors.Is/As keep working on the wrapped cause.
type Kind string

const (
	KindBadRequest       Kind = "bad_request"
	KindSessionNotFound  Kind = "session_not_found"
	KindSessionBusy      Kind = "session_busy"
	KindCapacity         Kind = "capacity"
	KindEngineUnavail    Kind = "engine_unavailable"
	KindEngineError      Kind = "engine_error"
	KindTimeout          Kind = "timeout"
	KindCancelled        Kind = "cancelled"
	KindWorkerDead       Kind = "worker_dead"
	KindInternal         Kind = "internal"
)

// httpStatus maps each Kind to the HTTP status code from spec.md §7/§6.
var httpStatus = map[Kind]int{
	KindBadRequest:      400,
	KindSessionNotFound: 404,
	KindSessionBusy:     409,
	KindCapacity:        409,
	KindEngineUnavail:   503,
	KindEngineError:     200, // Engine-level errors are normal results, not HTTP failures
	KindTimeout:         504,
	KindCancelled:       200,
	KindWorkerDead:      409,
	KindInternal:        500,
}

// HTTPStatus returns the status code spec.md prescribes for a Kind.
func (k Kind) HTTPStatus() int {
	if s, ok := httpStatus[k]; ok {
		return s
	}
	return 500
}

// AppError is a machine-readable error with a Kind, human message, and
// (for KindInternal) a correlation id for cross-referencing server logs.
type AppError struct {
	Kind          Kind
	Message       string
	CorrelationID string
	cause         error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.cause }

// New builders, one per Kind named in spec.md §7.

func BadRequest(msg string) *AppError      { return &AppError{Kind: KindBadRequest, Message: msg} }
func SessionNotFound(id string) *AppError {
	return &AppError{Kind: KindSessionNotFound, Message: "session not found: " + id}
}
func SessionBusy(state string) *AppError {
	return &AppError{Kind: KindSessionBusy, Message: "session busy (state=" + state + ")"}
}
func Capacity(max int) *AppError {
	return &AppError{Kind: KindCapacity, Message: Newf("max_sessions (%d) reached", max).Error()}
}
func EngineUnavailable(msg string) *AppError {
	return &AppError{Kind: KindEngineUnavail, Message: msg}
}
func EngineError(msg string) *AppError { return &AppError{Kind: KindEngineError, Message: msg} }
func Timeout(msg string) *AppError  { return &AppError{Kind: KindTimeout, Message: msg} }
func Cancelled(msg string) *AppError { return &AppError{Kind: KindCancelled, Message: msg} }
func WorkerDead(msg string) *AppError {
	return &AppError{Kind: KindWorkerDead, Message: msg}
}

// Internal wraps an unexpected error with a correlation id and logs cause
// alongside the id at ERROR; the HTTP body only ever carries the id.
func Internal(cause error) *AppError {
	id := newCorrelationID()
	logging.Named("apperrors").Errorw("internal error", "correlation_id", id, "error", cause)
	return &AppError{
		Kind:          KindInternal,
		Message:       "internal error",
		CorrelationID: id,
		cause:         cause,
	}
}

// AsApp extracts an *AppError from err, or synthesizes an internal one.
func AsApp(err error) *AppError {
	if err == nil {
		return nil
	}
	var ae *AppError
	if As(err, &ae) {
		return ae
	}
	return Internal(err)
}
