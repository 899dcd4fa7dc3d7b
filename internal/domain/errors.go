// Package domain defines core types, interfaces, and errors for the query core.
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// InvalidQueryError indicates a request failed structural validation.
// The message names the offending parameter.
type InvalidQueryError struct {
	Param   string
	Message string
}

func (e *InvalidQueryError) Error() string {
	return fmt.Sprintf("invalid query: parameter %q: %s", e.Param, e.Message)
}

// DeniedError indicates the admission controller rejected a new execution.
// RetryAfter is a hint for when the caller may try again.
type DeniedError struct {
	CallerKey  string
	RetryAfter time.Duration
	Message    string
}

func (e *DeniedError) Error() string { return e.Message }

// EngineUnavailableError indicates the engine could not accept or report on work
// for a transient reason (throttling, network, 5xx).
type EngineUnavailableError struct {
	Message string
}

func (e *EngineUnavailableError) Error() string { return e.Message }

// EngineRejectedError indicates the engine permanently rejected the execution
// (malformed statement, workgroup or resource limit).
type EngineRejectedError struct {
	Message string
}

func (e *EngineRejectedError) Error() string { return e.Message }

// TimeoutError indicates an execution exceeded its wall-clock budget.
type TimeoutError struct {
	Fingerprint Fingerprint
	Elapsed     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution %s timed out after %s", e.Fingerprint, e.Elapsed)
}

// RetriesExhaustedError indicates transient failures persisted past the retry
// ceiling. Cause holds the last transient failure.
type RetriesExhaustedError struct {
	Attempts int
	Cause    error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Cause }

// FetchIncompleteError indicates fetch was called before terminal success.
type FetchIncompleteError struct {
	State ExecutionState
}

func (e *FetchIncompleteError) Error() string {
	return fmt.Sprintf("cannot fetch results in state %s", e.State)
}

// ErrorKind names the domain error kind for logging and history records.
// Unknown errors report as "internal".
func ErrorKind(err error) string {
	var (
		invalid     *InvalidQueryError
		denied      *DeniedError
		unavailable *EngineUnavailableError
		rejected    *EngineRejectedError
		timeout     *TimeoutError
		exhausted   *RetriesExhaustedError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &invalid):
		return "invalid_query"
	case errors.As(err, &denied):
		return "denied"
	case errors.As(err, &exhausted):
		return "retries_exhausted"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &unavailable):
		return "engine_unavailable"
	case errors.As(err, &rejected):
		return "engine_rejected"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}

// ErrInvalidQuery creates an InvalidQueryError for the named parameter.
func ErrInvalidQuery(param, format string, args ...interface{}) *InvalidQueryError {
	return &InvalidQueryError{Param: param, Message: fmt.Sprintf(format, args...)}
}

// ErrDenied creates a DeniedError with a retry-after hint.
func ErrDenied(callerKey string, retryAfter time.Duration, format string, args ...interface{}) *DeniedError {
	return &DeniedError{CallerKey: callerKey, RetryAfter: retryAfter, Message: fmt.Sprintf(format, args...)}
}

// ErrEngineUnavailable creates an EngineUnavailableError with a formatted message.
func ErrEngineUnavailable(format string, args ...interface{}) *EngineUnavailableError {
	return &EngineUnavailableError{Message: fmt.Sprintf(format, args...)}
}

// ErrEngineRejected creates an EngineRejectedError with a formatted message.
func ErrEngineRejected(format string, args ...interface{}) *EngineRejectedError {
	return &EngineRejectedError{Message: fmt.Sprintf(format, args...)}
}
