// Package errors provides the error taxonomy shared by the sync core.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies the class of failure carried by an AppError.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Network errors
	ErrConnectivity ErrorCode = "CONNECTIVITY_ERROR"
	ErrServer       ErrorCode = "SERVER_ERROR"

	// Storage errors
	ErrStorage   ErrorCode = "STORAGE_ERROR"
	ErrSchema    ErrorCode = "SCHEMA_ERROR"
	ErrMigration ErrorCode = "MIGRATION_FAILED"

	// Queue errors
	ErrQueueItem ErrorCode = "QUEUE_ITEM_ERROR"
	ErrQueueFull ErrorCode = "QUEUE_FULL"

	// Favorites import/export
	ErrCorruptedExport ErrorCode = "CORRUPTED_EXPORT"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	// Status is the HTTP status for SERVER_ERROR, zero otherwise.
	Status int
	Err    error
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

// Connectivity reports that the remote service could not be reached.
func Connectivity(message string, err error) *AppError {
	return Wrap(ErrConnectivity, message, err)
}

// Server reports a non-success status from a reachable server. message is
// surfaced to users unmodified.
func Server(status int, message string) *AppError {
	return &AppError{
		Code:    ErrServer,
		Message: message,
		Status:  status,
	}
}

// Storage wraps a persistence failure.
func Storage(message string, err error) *AppError {
	return Wrap(ErrStorage, message, err)
}

// Schema reports a missing collection in the local store.
func Schema(collection string) *AppError {
	return New(ErrSchema, fmt.Sprintf("collection %q is missing from local storage", collection))
}

// Validation reports a missing or malformed required field.
func Validation(message string) *AppError {
	return New(ErrValidation, message)
}

// Is checks if err (or anything it wraps) is an AppError with code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the code of the first AppError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsConnectivity reports whether err is a connectivity failure.
func IsConnectivity(err error) bool {
	return Is(err, ErrConnectivity)
}

// IsServer reports whether err came from a reachable server.
func IsServer(err error) bool {
	return Is(err, ErrServer)
}

// IsStorage reports whether err is a storage failure. Schema errors are
// storage errors too.
func IsStorage(err error) bool {
	code := CodeOf(err)
	return code == ErrStorage || code == ErrSchema
}

// IsSchema reports whether err signals a missing collection.
func IsSchema(err error) bool {
	return Is(err, ErrSchema)
}

// UserMessage returns the message to show for err: the AppError message when
// present, otherwise err.Error().
func UserMessage(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
