// Package apierr defines the typed error hierarchy the dispatch gateway
// translates into HTTP responses and WebSocket status text.
package apierr

import (
	"errors"
	"net/http"
)

// Kind identifies one of the error categories the gateway distinguishes
// when deciding how to surface a failure to a client.
type Kind string

const (
	// KindValidation covers a malformed TaskRequest or argument vector.
	KindValidation Kind = "validation"
	// KindScheduling covers no GPUs configured, or all workers dead.
	KindScheduling Kind = "scheduling"
	// KindWorkerTransport covers a loopback transport failure mid-task.
	KindWorkerTransport Kind = "worker_transport"
	// KindEngine covers a worker returning success:false.
	KindEngine Kind = "engine"
	// KindPersistence covers a metadata store write failure.
	KindPersistence Kind = "persistence"
	// KindStartup covers config load or model discovery failure at boot.
	KindStartup Kind = "startup"
)

// Error is a Kind-tagged error carrying the HTTP status the gateway should
// respond with, so handlers don't need to re-derive a status per call site.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, status int, msg string, cause error) *Error {
	return &Error{Kind: kind, Status: status, Message: msg, Cause: cause}
}

// Validation builds a ValidationError. Not retried by the caller.
func Validation(msg string) *Error {
	return newErr(KindValidation, http.StatusBadRequest, msg, nil)
}

// Scheduling builds a SchedulingError. Client may retry.
func Scheduling(msg string) *Error {
	return newErr(KindScheduling, http.StatusServiceUnavailable, msg, nil)
}

// WorkerTransport builds a WorkerTransportError wrapping the transport failure.
func WorkerTransport(msg string, cause error) *Error {
	return newErr(KindWorkerTransport, http.StatusInternalServerError, msg, cause)
}

// Engine builds an EngineError from a worker's {success:false, error} response.
func Engine(msg string) *Error {
	return newErr(KindEngine, http.StatusInternalServerError, msg, nil)
}

// Persistence builds a PersistenceError. Never surfaced to the client as a
// failed request — callers log it as a warning and continue.
func Persistence(msg string, cause error) *Error {
	return newErr(KindPersistence, http.StatusOK, msg, cause)
}

// Startup builds a StartupError. The process exits 1 after logging it.
func Startup(msg string, cause error) *Error {
	return newErr(KindStartup, http.StatusInternalServerError, msg, cause)
}

// As is a convenience wrapper around errors.As for the common case of
// pulling an *Error back out of a wrapped error chain.
func As(err error) (*Error, bool) {
	var ae *Error
	ok := errors.As(err, &ae)
	return ae, ok
}
