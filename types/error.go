package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a stable, machine-readable error code.
type ErrorCode string

// Request / validation error codes
const (
	ErrValidation   ErrorCode = "VALIDATION_ERROR"
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrForbidden    ErrorCode = "FORBIDDEN"
	ErrRateLimited  ErrorCode = "RATE_LIMITED"
)

// Domain error codes
const (
	ErrNotFound            ErrorCode = "NOT_FOUND"
	ErrTaskNotFound        ErrorCode = "TASK_NOT_FOUND"
	ErrDefinitionNotFound  ErrorCode = "DEFINITION_NOT_FOUND"
	ErrTaskFinished        ErrorCode = "TASK_FINISHED"
	ErrAlreadyBeingDeleted ErrorCode = "ALREADY_BEING_DELETED"
	ErrRequestInProgress   ErrorCode = "REQUEST_IN_PROGRESS"
	ErrNoEligibleIndices   ErrorCode = "NO_ELIGIBLE_INDICES"
	ErrUnmappedIndex       ErrorCode = "UNMAPPED_INDEX"
)

// Orchestration error codes
const (
	ErrMaxIterationsExceeded ErrorCode = "MAX_ITERATIONS_EXCEEDED"
	ErrRunnerPanic           ErrorCode = "RUNNER_PANIC"
	ErrContractViolation     ErrorCode = "CONTRACT_VIOLATION"
	ErrSerialization         ErrorCode = "SERIALIZATION_ERROR"
)

// Infrastructure error codes
const (
	ErrCheckpointFailed   ErrorCode = "CHECKPOINT_FAILED"
	ErrStore              ErrorCode = "STORE_ERROR"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
// Data carries contextual identifiers (task id, model id, index name) so an
// operator can diagnose a failed task from its record alone.
type Error struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"http_status,omitempty"`
	Retryable  bool           `json:"retryable"`
	Data       map[string]any `json:"data,omitempty"`
	Cause      error          `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithData attaches a contextual key/value pair.
func (e *Error) WithData(key string, value any) *Error {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode reports whether any *Error in the chain carries code.
func IsErrorCode(err error, code ErrorCode) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HTTPStatusFor maps an error code to an HTTP status.
func HTTPStatusFor(code ErrorCode) int {
	switch code {
	case ErrValidation:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrNotFound, ErrTaskNotFound, ErrDefinitionNotFound:
		return http.StatusNotFound
	case ErrAlreadyBeingDeleted, ErrTaskFinished, ErrRequestInProgress:
		return http.StatusConflict
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrTimeout:
		return http.StatusGatewayTimeout
	case ErrServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
