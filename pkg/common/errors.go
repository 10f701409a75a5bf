package common

import (
	"errors"
	"net/http"
)

// Sentinel errors for comparisons with errors.Is.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")
	ErrConflict       = errors.New("resource conflict")
	ErrValidation     = errors.New("validation error")
)

// ErrorCode is the taxonomy of operational error kinds a caller can branch
// on, independent of the human-readable message. One string per row of the
// error handling design's kind table.
type ErrorCode string

const (
	CodeBadRequest             ErrorCode = "BAD_REQUEST"
	CodeValidationError        ErrorCode = "VALIDATION_ERROR"
	CodeInvalidStateTransition ErrorCode = "INVALID_STATE_TRANSITION"
	CodeUnauthorized           ErrorCode = "UNAUTHORIZED"
	CodeForbidden              ErrorCode = "FORBIDDEN"
	CodeNotFound               ErrorCode = "NOT_FOUND"
	CodeConflict               ErrorCode = "CONFLICT"
	CodeIdempotencyConflict    ErrorCode = "IDEMPOTENCY_CONFLICT"
	CodeLockAcquisitionFailed  ErrorCode = "LOCK_FAILED"
	CodeRateLimited            ErrorCode = "RATE_LIMITED"
	CodeInternal               ErrorCode = "INTERNAL"
	CodeServiceUnavailable     ErrorCode = "SERVICE_UNAVAILABLE"
)

var codeHTTPStatus = map[ErrorCode]int{
	CodeBadRequest:             http.StatusBadRequest,
	CodeValidationError:        http.StatusBadRequest,
	CodeInvalidStateTransition: http.StatusBadRequest,
	CodeUnauthorized:           http.StatusUnauthorized,
	CodeForbidden:              http.StatusForbidden,
	CodeNotFound:               http.StatusNotFound,
	CodeConflict:               http.StatusConflict,
	CodeIdempotencyConflict:    http.StatusConflict,
	CodeLockAcquisitionFailed:  http.StatusConflict,
	CodeRateLimited:            http.StatusTooManyRequests,
	CodeInternal:               http.StatusInternalServerError,
	CodeServiceUnavailable:     http.StatusServiceUnavailable,
}

// AppError is a typed, operational error the core surfaces to callers
// unchanged. Internal (programmer) errors should be wrapped as
// NewInternalError so the code/message boundary stays consistent.
type AppError struct {
	Code         int       `json:"code"`
	ErrorCode    ErrorCode `json:"error_code"`
	Message      string    `json:"message"`
	Details      any       `json:"details,omitempty"`
	RetryAfterS  int       `json:"-"`
	Err          error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError builds an AppError from a taxonomy code, deriving the HTTP
// status from the code table.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:      codeHTTPStatus[code],
		ErrorCode: code,
		Message:   message,
		Err:       err,
	}
}

func NewNotFoundError(message string, err error) *AppError {
	if err == nil {
		err = ErrNotFound
	}
	return NewAppError(CodeNotFound, message, err)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(CodeUnauthorized, message, ErrUnauthorized)
}

func NewForbiddenError(message string) *AppError {
	return NewAppError(CodeForbidden, message, ErrForbidden)
}

func NewBadRequestError(message string, err error) *AppError {
	return NewAppError(CodeBadRequest, message, err)
}

func NewValidationError(message string) *AppError {
	return NewAppError(CodeValidationError, message, ErrValidation)
}

func NewInvalidStateTransitionError(message string) *AppError {
	return NewAppError(CodeInvalidStateTransition, message, ErrBadRequest)
}

func NewConflictError(message string) *AppError {
	return NewAppError(CodeConflict, message, ErrConflict)
}

func NewIdempotencyConflictError(message string) *AppError {
	return NewAppError(CodeIdempotencyConflict, message, ErrConflict)
}

// NewLockAcquisitionFailedError reports a distributed or row lock that could
// not be acquired within bounded retries. Callers may retry with backoff.
func NewLockAcquisitionFailedError(message string) *AppError {
	return NewAppError(CodeLockAcquisitionFailed, message, ErrConflict)
}

// NewRateLimitedError sets RetryAfterS so the transport can emit the
// Retry-After header; the core does not depend on any specific transport.
func NewRateLimitedError(message string, retryAfterSeconds int) *AppError {
	e := NewAppError(CodeRateLimited, message, nil)
	e.RetryAfterS = retryAfterSeconds
	return e
}

func NewInternalError(message string, err error) *AppError {
	return NewAppError(CodeInternal, message, err)
}

func NewServiceUnavailableError(message string, err error) *AppError {
	return NewAppError(CodeServiceUnavailable, message, err)
}

// AsAppError unwraps err into an *AppError if it (or something it wraps) is
// one.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
