package types

import "fmt"

// ErrorCode represents a unified error code across the orchestrator.
type ErrorCode string

// Validation error codes. These are fatal: execution never starts.
const (
	ErrValidationFailed     ErrorCode = "VALIDATION_FAILED"
	ErrDuplicateTask        ErrorCode = "DUPLICATE_TASK"
	ErrUnresolvedDependency ErrorCode = "UNRESOLVED_DEPENDENCY"
	ErrTaskLimitExceeded    ErrorCode = "TASK_LIMIT_EXCEEDED"
)

// Structural error codes. Fatal: the graph cannot be executed.
const (
	ErrCycleDetected      ErrorCode = "CYCLE_DETECTED"
	ErrLevelComputeFailed ErrorCode = "LEVEL_COMPUTE_FAILED"
)

// Resource error codes. Surfaced to the caller; stage siblings unaffected.
const (
	ErrAgentNotFound ErrorCode = "AGENT_NOT_FOUND"
	ErrPoolExhausted ErrorCode = "POOL_EXHAUSTED"
	ErrPoolShutdown  ErrorCode = "POOL_SHUTDOWN"
	ErrLockHeld      ErrorCode = "LOCK_HELD"
	ErrSessionFull   ErrorCode = "SESSION_FULL"
	ErrNoModel       ErrorCode = "NO_MODEL"
)

// Timeout and runtime error codes. A failing task never aborts its stage.
const (
	ErrDependencyTimeout ErrorCode = "DEPENDENCY_TIMEOUT"
	ErrTaskTimeout       ErrorCode = "TASK_TIMEOUT"
	ErrAgentFailure      ErrorCode = "AGENT_FAILURE"
)

// System error codes. Pending callers are rejected explicitly.
const (
	ErrQueueClosed        ErrorCode = "QUEUE_CLOSED"
	ErrExecutionCancelled ErrorCode = "EXECUTION_CANCELLED"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
)

// Error represents a structured error with code, message, and metadata.
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

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *Error {
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
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
