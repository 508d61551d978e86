// Package errors provides coded application errors for the sync core.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode is a stable machine-readable error identifier.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Storage errors
	ErrDatabase  ErrorCode = "DATABASE_ERROR"
	ErrMigration ErrorCode = "MIGRATION_FAILED"
	ErrQueue     ErrorCode = "QUEUE_ERROR"

	// Configuration errors
	ErrConfig ErrorCode = "CONFIG_ERROR"

	// Sync errors
	ErrSyncOffline         ErrorCode = "SYNC_OFFLINE"
	ErrSyncUnauthenticated ErrorCode = "SYNC_UNAUTHENTICATED"
	ErrSyncInProgress      ErrorCode = "SYNC_IN_PROGRESS"
	ErrSyncFailed          ErrorCode = "SYNC_FAILED"
	ErrSyncTransmit        ErrorCode = "SYNC_TRANSMIT_FAILED"
	ErrSyncUnknownEntity   ErrorCode = "SYNC_UNKNOWN_ENTITY"
	ErrSyncEncode          ErrorCode = "SYNC_ENCODE_FAILED"
	ErrSyncCancelled       ErrorCode = "SYNC_CANCELLED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is reports whether any AppError in err's chain carries code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// CodeOf returns the code of the outermost AppError in err's chain,
// or ErrInternal when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}
