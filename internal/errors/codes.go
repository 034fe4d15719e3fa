// Package errors provides structured error handling for Agent Brain.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (file, disk)
//   - 3XX: Provider errors (embedding/summarization)
//   - 4XX: Validation errors
//   - 5XX: Storage and retrieval errors
//   - 6XX: Job queue errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and disk I/O errors.
	CategoryIO Category = "IO"
	// CategoryProvider indicates embedding/summarization provider errors.
	CategoryProvider Category = "PROVIDER"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryStorage indicates storage backend and retrieval errors.
	CategoryStorage Category = "STORAGE"
	// CategoryQueue indicates job queue errors.
	CategoryQueue Category = "QUEUE"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigInvalid  = "ERR_101_CONFIG_INVALID"
	ErrCodeUnknownBackend = "ERR_102_UNKNOWN_BACKEND"
	ErrCodeMissingAPIKey  = "ERR_103_MISSING_API_KEY"

	// IO errors (200-299)
	ErrCodeFileNotFound   = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission = "ERR_202_FILE_PERMISSION"
	ErrCodeCorruptState   = "ERR_203_CORRUPT_STATE"

	// Provider errors (300-399)
	ErrCodeProviderTimeout     = "ERR_301_PROVIDER_TIMEOUT"
	ErrCodeProviderUnavailable = "ERR_302_PROVIDER_UNAVAILABLE"
	ErrCodeProviderFailed      = "ERR_303_PROVIDER_FAILED"

	// Validation errors (400-499)
	ErrCodeInvalidInput     = "ERR_401_INVALID_INPUT"
	ErrCodeProviderMismatch = "ERR_402_PROVIDER_MISMATCH"
	ErrCodeInvalidQuery     = "ERR_403_INVALID_QUERY"
	ErrCodeInvalidPath      = "ERR_404_INVALID_PATH"

	// Storage errors (500-599)
	ErrCodeStorage            = "ERR_501_STORAGE"
	ErrCodeBackendUnsupported = "ERR_502_BACKEND_UNSUPPORTED"
	ErrCodeSearchFailed       = "ERR_503_SEARCH_FAILED"
	ErrCodeIndexFailed        = "ERR_504_INDEX_FAILED"

	// Queue errors (600-699)
	ErrCodeQueueFull   = "ERR_601_QUEUE_FULL"
	ErrCodeJobTimeout  = "ERR_602_JOB_TIMEOUT"
	ErrCodeJobNotFound = "ERR_603_JOB_NOT_FOUND"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryStorage
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryProvider
	case '4':
		return CategoryValidation
	case '6':
		return CategoryQueue
	default:
		return CategoryStorage
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptState, ErrCodeConfigInvalid, ErrCodeMissingAPIKey, ErrCodeUnknownBackend:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeProviderTimeout, ErrCodeProviderUnavailable:
		return true
	default:
		return false
	}
}
