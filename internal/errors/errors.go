package errors

import (
	"errors"
	"fmt"
)

// BrainError is the structured error type for Agent Brain. It provides rich
// context for error handling, logging, and user presentation.
type BrainError struct {
	// Code is the unique error code (e.g., "ERR_402_PROVIDER_MISMATCH").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Provider, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable remediation hint for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *BrainError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *BrainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
func (e *BrainError) Is(target error) bool {
	if t, ok := target.(*BrainError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *BrainError) WithDetail(key, value string) *BrainError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable remediation hint for the user.
func (e *BrainError) WithSuggestion(suggestion string) *BrainError {
	e.Suggestion = suggestion
	return e
}

// New creates a new BrainError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *BrainError {
	return &BrainError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a BrainError from an existing error.
// Returns nil when err is nil so call sites can wrap unconditionally.
func Wrap(code string, err error) *BrainError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Storage wraps a backend failure, recording which backend kind produced it.
func Storage(backend string, err error) *BrainError {
	return Wrap(ErrCodeStorage, err).WithDetail("backend", backend)
}

// ProviderMismatch reports embedding provider/model/dimension drift between
// the current configuration and the stored index.
func ProviderMismatch(stored, current string) *BrainError {
	return New(ErrCodeProviderMismatch,
		fmt.Sprintf("embedding configuration mismatch: index built with %s, current is %s", stored, current),
		nil).WithSuggestion("re-index with --force to rebuild with the current provider")
}

// BackendUnsupported reports an operation the current backend cannot serve.
func BackendUnsupported(operation, current, required string) *BrainError {
	return New(ErrCodeBackendUnsupported,
		fmt.Sprintf("%s requires the %s backend; current backend is %s", operation, required, current),
		nil).
		WithDetail("current_backend", current).
		WithDetail("required_backend", required)
}

// QueueFull reports enqueue backpressure.
func QueueFull(pending, max int) *BrainError {
	return New(ErrCodeQueueFull,
		fmt.Sprintf("job queue is full (%d pending, max %d)", pending, max),
		nil).WithSuggestion("wait for running jobs to complete or cancel pending jobs")
}

// Validation creates a validation-related error.
func Validation(message string) *BrainError {
	return New(ErrCodeInvalidInput, message, nil)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var be *BrainError
	if errors.As(err, &be) {
		return be.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var be *BrainError
	if errors.As(err, &be) {
		return be.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a BrainError anywhere in the chain.
// Returns empty string if none is found.
func GetCode(err error) string {
	var be *BrainError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code string) bool {
	return GetCode(err) == code
}
