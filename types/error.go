package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the registry.
type ErrorCode string

// Registry error codes
const (
	ErrNotFound          ErrorCode = "NOT_FOUND"
	ErrValidationFailed  ErrorCode = "VALIDATION_FAILED"
	ErrReadonlyViolation ErrorCode = "READONLY_VIOLATION"
	ErrLockTimeout       ErrorCode = "LOCK_TIMEOUT"
	ErrBackendFailure    ErrorCode = "BACKEND_FAILURE"
	ErrInvalidStore      ErrorCode = "INVALID_STORE"
)

// Request error codes
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrForbidden      ErrorCode = "FORBIDDEN"
	ErrRateLimited    ErrorCode = "RATE_LIMITED"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and the store key
// it concerns.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Key        string    `json:"key,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Key != "" {
		msg = e.Key + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithKey records the store key the error concerns.
func (e *Error) WithKey(key StoreKey) *Error {
	e.Key = key.String()
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

// NewLockTimeoutError reports that the lock for key could not be acquired.
func NewLockTimeoutError(key StoreKey, op string, cause error) *Error {
	return NewError(ErrLockTimeout, "failed to lock for "+op).
		WithKey(key).WithCause(cause).WithRetryable(true)
}

// NewBackendError wraps a persistence failure for key.
func NewBackendError(key StoreKey, op string, cause error) *Error {
	return NewError(ErrBackendFailure, op+" failed").WithKey(key).WithCause(cause)
}

// NewReadonlyError reports a mutation attempt on a readonly hosted repository.
func NewReadonlyError(key StoreKey) *Error {
	return NewError(ErrReadonlyViolation, "hosted repository is readonly").WithKey(key)
}

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode reports whether any *Error in err's chain has the given code.
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
