// Package errors provides structured error handling for myragdb.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Not-found errors
//   - 2XX: Conflict errors (locks, overlapping writers)
//   - 3XX: Validation errors
//   - 4XX: Transient errors (retryable)
//   - 5XX: Permanent errors
//   - 6XX: Cancellation
package errors

// Category classifies an error for callers that branch on failure kind
// rather than on individual codes.
type Category string

const (
	// CategoryNotFound indicates a missing source, document, or file.
	CategoryNotFound Category = "NOTFOUND"
	// CategoryConflict indicates a lock or overlapping-writer conflict.
	CategoryConflict Category = "CONFLICT"
	// CategoryValidation indicates rejected input.
	CategoryValidation Category = "VALIDATION"
	// CategoryTransient indicates a failure that may succeed on retry.
	CategoryTransient Category = "TRANSIENT"
	// CategoryPermanent indicates a failure that will not self-heal.
	CategoryPermanent Category = "PERMANENT"
	// CategoryCancelled indicates cooperative cancellation.
	CategoryCancelled Category = "CANCELLED"
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
	// Not-found errors (100-199)
	ErrCodeSourceNotFound   = "ERR_101_SOURCE_NOT_FOUND"
	ErrCodeDocumentNotFound = "ERR_102_DOCUMENT_NOT_FOUND"
	ErrCodeFileNotFound     = "ERR_103_FILE_NOT_FOUND"
	ErrCodeConfigNotFound   = "ERR_104_CONFIG_NOT_FOUND"

	// Conflict errors (200-299)
	ErrCodeRunActive    = "ERR_201_RUN_ACTIVE"
	ErrCodeLockHeld     = "ERR_202_LOCK_HELD"
	ErrCodeSourceExists = "ERR_203_SOURCE_EXISTS"

	// Validation errors (300-399)
	ErrCodeInvalidInput      = "ERR_301_INVALID_INPUT"
	ErrCodeInvalidQuery      = "ERR_302_INVALID_QUERY"
	ErrCodeInvalidLimit      = "ERR_303_INVALID_LIMIT"
	ErrCodeInvalidPath       = "ERR_304_INVALID_PATH"
	ErrCodeDimensionMismatch = "ERR_305_DIMENSION_MISMATCH"
	ErrCodeConfigInvalid     = "ERR_306_CONFIG_INVALID"
	ErrCodeInvalidSource     = "ERR_307_INVALID_SOURCE"

	// Transient errors (400-499)
	ErrCodeBackendUnavailable = "ERR_401_BACKEND_UNAVAILABLE"
	ErrCodeTimeout            = "ERR_402_TIMEOUT"
	ErrCodeEmbedUnavailable   = "ERR_403_EMBED_UNAVAILABLE"
	ErrCodeRewriteUnavailable = "ERR_404_REWRITE_UNAVAILABLE"

	// Permanent errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeCorruptIndex = "ERR_502_CORRUPT_INDEX"
	ErrCodeStoreFailed  = "ERR_503_STORE_FAILED"
	ErrCodeIndexFailed  = "ERR_504_INDEX_FAILED"
	ErrCodeSearchFailed = "ERR_505_SEARCH_FAILED"

	// Cancellation (600-699)
	ErrCodeCancelled = "ERR_601_CANCELLED"
	ErrCodeShutdown  = "ERR_602_SHUTDOWN"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryPermanent
	}

	// Numeric portion, e.g. "101" from "ERR_101_SOURCE_NOT_FOUND".
	switch code[4] {
	case '1':
		return CategoryNotFound
	case '2':
		return CategoryConflict
	case '3':
		return CategoryValidation
	case '4':
		return CategoryTransient
	case '6':
		return CategoryCancelled
	default:
		return CategoryPermanent
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// Only transient failures are retryable.
func isRetryableCode(code string) bool {
	return categoryFromCode(code) == CategoryTransient
}
