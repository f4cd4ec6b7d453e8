package types

import (
	"errors"
	"fmt"
)

// ErrorCode is the unified error code used across agentcouncil packages.
type ErrorCode string

// Setup error codes
const (
	ErrInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrInternalError ErrorCode = "INTERNAL_ERROR"
)

// Orchestration error codes
const (
	ErrAgentNotFound      ErrorCode = "AGENT_NOT_FOUND"
	ErrAgentExists        ErrorCode = "AGENT_EXISTS"
	ErrNoSupervisor       ErrorCode = "NO_SUPERVISOR"
	ErrNoOperator         ErrorCode = "NO_OPERATOR"
	ErrPlanFailed         ErrorCode = "PLAN_FAILED"
	ErrUnknownCorrelation ErrorCode = "UNKNOWN_CORRELATION"
	ErrInvalidMessage     ErrorCode = "INVALID_MESSAGE"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrCancelled          ErrorCode = "CANCELLED"
	ErrWorkerStopped      ErrorCode = "WORKER_STOPPED"
	ErrPoolBounds         ErrorCode = "POOL_BOUNDS"
	ErrNoWorker           ErrorCode = "NO_WORKER"
	ErrActionFailed       ErrorCode = "ACTION_FAILED"
	ErrModelUnavailable   ErrorCode = "MODEL_UNAVAILABLE"
	ErrStoreUnavailable   ErrorCode = "STORE_UNAVAILABLE"
)

// Error represents a structured error with code, message, and cause.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
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

// Is reports whether target carries the same code, so sentinel
// *Error values can be matched with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || t == nil {
		return false
	}
	return t.Code == e.Code && t.Message == e.Message
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

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
