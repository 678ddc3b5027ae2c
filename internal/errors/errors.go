package errors

import (
	"fmt"
)

// CoreError is the structured error type for askdocs.
// It provides rich context for error handling, logging, and user presentation.
type CoreError struct {
	// Code is the unique error code (e.g., "ERR_303_INDEX_PARITY").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Database, Index, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// CorrelationID ties the user-visible "service error" reply to log records.
	CorrelationID string
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *CoreError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with CoreError.
func (e *CoreError) Is(target error) bool {
	if t, ok := target.(*CoreError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *CoreError) WithDetail(key, value string) *CoreError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithCorrelationID attaches a correlation id for user-facing reporting.
func (e *CoreError) WithCorrelationID(id string) *CoreError {
	e.CorrelationID = id
	return e
}

// New creates a new CoreError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *CoreError {
	return &CoreError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a CoreError from an existing error.
// The error's message becomes the CoreError message.
func Wrap(code string, err error) *CoreError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error. Fatal at startup.
func ConfigError(message string, cause error) *CoreError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// DatabaseError creates a store-related error.
func DatabaseError(message string, cause error) *CoreError {
	return New(ErrCodeStoreWrite, message, cause)
}

// IndexError creates an index consistency error. Blocks queries.
func IndexError(message string, cause error) *CoreError {
	return New(ErrCodeIndexParity, message, cause)
}

// ValidationError creates an input validation error, surfaced verbatim.
func ValidationError(code, message string) *CoreError {
	return New(code, message, nil)
}

// ModelError creates an LLM/embedder error.
func ModelError(message string, cause error) *CoreError {
	return New(ErrCodeModelCall, message, cause)
}

// SearchError creates a retriever-level error.
func SearchError(message string, cause error) *CoreError {
	return New(ErrCodeSearchFailed, message, cause)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := err.(*CoreError); ok {
		return ce.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := err.(*CoreError); ok {
		return ce.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a CoreError.
// Returns empty string if not a CoreError.
func GetCode(err error) string {
	if ce, ok := err.(*CoreError); ok {
		return ce.Code
	}
	return ""
}

// GetCategory extracts the category from a CoreError.
func GetCategory(err error) Category {
	if ce, ok := err.(*CoreError); ok {
		return ce.Category
	}
	return ""
}
