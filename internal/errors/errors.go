package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrTypeNetwork represents network unreachable and transport errors
	ErrTypeNetwork ErrorType = "network"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeInvalidReference represents identifiers or indexes that no longer resolve
	ErrTypeInvalidReference ErrorType = "invalid_reference"
	// ErrTypeTransfer represents a failed transfer that is not a network failure
	ErrTypeTransfer ErrorType = "transfer"
	// ErrTypeFileSystem represents file system errors
	ErrTypeFileSystem ErrorType = "filesystem"
	// ErrTypeProcessing represents transcode and tag-write errors
	ErrTypeProcessing ErrorType = "processing"
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeOutOfRange represents an index outside the playback list
	ErrTypeOutOfRange ErrorType = "out_of_range"
	// ErrTypeUnknown represents unknown errors
	ErrTypeUnknown ErrorType = "unknown"
)

// AppError represents an application error with context
type AppError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Retryable  bool
	Cause      error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewNetworkError creates a new network error.
// Network failures are surfaced to the caller and never retried automatically.
func NewNetworkError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypeNetwork,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
		Retryable:  false,
		Cause:      cause,
	}
}

// NewTransferError creates a "transfer failed" error carrying the
// translated status code of the transport.
func NewTransferError(message string, statusCode int, cause error) *AppError {
	if statusCode == 0 {
		statusCode = http.StatusBadGateway
	}
	return &AppError{
		Type:       ErrTypeTransfer,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  false,
		Cause:      cause,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:       ErrTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
		Retryable:  false,
		Cause:      nil,
	}
}

// NewInvalidReferenceError creates an error for a stale identifier
func NewInvalidReferenceError(ref string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypeInvalidReference,
		Message:    fmt.Sprintf("reference %q no longer resolves", ref),
		StatusCode: http.StatusNotFound,
		Retryable:  false,
		Cause:      cause,
	}
}

// NewFileSystemError creates a new file system error
func NewFileSystemError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypeFileSystem,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Retryable:  false,
		Cause:      cause,
	}
}

// NewProcessingError creates an error for the transcode and tag-write steps
func NewProcessingError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypeProcessing,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Retryable:  false,
		Cause:      cause,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:       ErrTypeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Retryable:  false,
		Cause:      nil,
	}
}

// NewOutOfRangeError creates an error for an index outside [0, count)
func NewOutOfRangeError(index, count int) *AppError {
	return &AppError{
		Type:       ErrTypeOutOfRange,
		Message:    fmt.Sprintf("index %d out of range [0, %d)", index, count),
		StatusCode: http.StatusBadRequest,
		Retryable:  false,
		Cause:      nil,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetErrorType returns the error type from an error, looking through wrapping
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrTypeUnknown
}

// IsNetworkError checks if an error is a network error
func IsNetworkError(err error) bool {
	return GetErrorType(err) == ErrTypeNetwork
}

// IsTransferError checks if an error is a transfer failure of any kind,
// network class included
func IsTransferError(err error) bool {
	t := GetErrorType(err)
	return t == ErrTypeTransfer || t == ErrTypeNetwork
}

// IsInvalidReference checks if an error marks a stale identifier
func IsInvalidReference(err error) bool {
	t := GetErrorType(err)
	return t == ErrTypeInvalidReference || t == ErrTypeNotFound
}

// IsOutOfRange checks if an error is an out-of-range index error
func IsOutOfRange(err error) bool {
	return GetErrorType(err) == ErrTypeOutOfRange
}
