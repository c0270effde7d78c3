package models

import (
	"fmt"
	"net/http"
)

// ErrorCode represents different types of errors in the system
type ErrorCode string

const (
	// Client errors (4xx)
	ErrCodeBadRequest ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound   ErrorCode = "NOT_FOUND"
	ErrCodeConflict   ErrorCode = "CONFLICT"
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"

	// Server errors (5xx)
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
	ErrCodeCache    ErrorCode = "CACHE_ERROR"
	ErrCodeSequence ErrorCode = "SEQUENCE_ERROR"
)

// AppError represents an application error with context
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// NewAppErrorWithCause creates a new application error with a cause
func NewAppErrorWithCause(code ErrorCode, message string, httpStatus int, cause error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      cause,
	}
}

// Common error constructors
func ErrBadRequest(message string) *AppError {
	return NewAppError(ErrCodeBadRequest, message, http.StatusBadRequest)
}

func ErrNotFound(message string) *AppError {
	return NewAppError(ErrCodeNotFound, message, http.StatusNotFound)
}

func ErrConflict(message string) *AppError {
	return NewAppError(ErrCodeConflict, message, http.StatusConflict)
}

func ErrValidation(message string) *AppError {
	return NewAppError(ErrCodeValidation, message, http.StatusBadRequest)
}

func ErrInternal(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func ErrDatabase(message string, cause error) *AppError {
	return NewAppErrorWithCause(ErrCodeDatabase, message, http.StatusInternalServerError, cause)
}

func ErrCache(message string, cause error) *AppError {
	return NewAppErrorWithCause(ErrCodeCache, message, http.StatusInternalServerError, cause)
}

func ErrSequence(message string, cause error) *AppError {
	return NewAppErrorWithCause(ErrCodeSequence, message, http.StatusServiceUnavailable, cause)
}

// Domain errors shared across the resolver and creation paths.
var (
	// ErrLinkNotFound is returned when a short code resolves to nothing.
	ErrLinkNotFound = ErrNotFound("short link not found")

	// ErrLinkExpired is returned when a link exists but is outside its
	// validity window or disabled.
	ErrLinkExpired = NewAppError(ErrCodeNotFound, "short link expired", http.StatusNotFound)

	// ErrCodeCollision is a retryable conflict raised when a freshly
	// generated code races with a concurrent insert.
	ErrCodeCollision = ErrConflict("short code already taken, retry generation")
)
