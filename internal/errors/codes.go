// Package errors provides structured error handling for askdocs.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Database errors (metadata store, persistent cache)
//   - 3XX: Index errors (lexical, vector, artifacts)
//   - 4XX: Validation errors
//   - 5XX: Model errors (embedder, LLM)
//   - 6XX: Search errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryDatabase indicates metadata store and cache database errors.
	CategoryDatabase Category = "DATABASE"
	// CategoryIndex indicates lexical/vector index errors.
	CategoryIndex Category = "INDEX"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryModel indicates embedder and LLM errors.
	CategoryModel Category = "MODEL"
	// CategorySearch indicates retriever-level errors.
	CategorySearch Category = "SEARCH"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but the process can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199). Raised at startup; fatal.
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeConfigRange    = "ERR_103_CONFIG_RANGE"
	ErrCodeConfigEnum     = "ERR_104_CONFIG_ENUM"

	// Database errors (200-299).
	ErrCodeStoreOpen      = "ERR_201_STORE_OPEN"
	ErrCodeStoreRead      = "ERR_202_STORE_READ"
	ErrCodeStoreWrite     = "ERR_203_STORE_WRITE"
	ErrCodeStoreBusy      = "ERR_204_STORE_BUSY"
	ErrCodeMigration      = "ERR_205_MIGRATION_FAILED"
	ErrCodeStoreCorrupt   = "ERR_206_STORE_CORRUPT"
	ErrCodeCacheDatabase  = "ERR_207_CACHE_DATABASE"
	ErrCodeBackupFailed   = "ERR_208_BACKUP_FAILED"

	// Index errors (300-399). Fatal for the retriever; block queries.
	ErrCodeIndexMissing     = "ERR_301_INDEX_MISSING"
	ErrCodeIndexEmpty       = "ERR_302_INDEX_EMPTY"
	ErrCodeIndexParity      = "ERR_303_INDEX_PARITY"
	ErrCodeDimensionChanged = "ERR_304_DIMENSION_MISMATCH"
	ErrCodeIndexCorrupt     = "ERR_305_INDEX_CORRUPT"
	ErrCodeReindexLocked    = "ERR_306_REINDEX_IN_PROGRESS"

	// Validation errors (400-499). Surfaced to the caller verbatim.
	ErrCodeQueryEmpty    = "ERR_401_QUERY_EMPTY"
	ErrCodeQueryTooLong  = "ERR_402_QUERY_TOO_LONG"
	ErrCodeTopKRange     = "ERR_403_TOPK_RANGE"
	ErrCodePathEscape    = "ERR_404_PATH_ESCAPE"
	ErrCodeInvalidInput  = "ERR_405_INVALID_INPUT"

	// Model errors (500-599). Within the composer's retry budget.
	ErrCodeModelLoad    = "ERR_501_MODEL_LOAD"
	ErrCodeModelCall    = "ERR_502_MODEL_CALL"
	ErrCodeModelTimeout = "ERR_503_MODEL_TIMEOUT"
	ErrCodeEmbedFailed  = "ERR_504_EMBED_FAILED"

	// Search errors (600-699).
	ErrCodeSearchFailed = "ERR_601_SEARCH_FAILED"

	// Internal (900).
	ErrCodeInternal = "ERR_901_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "101" from "ERR_101_CONFIG_NOT_FOUND".
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryDatabase
	case '3':
		return CategoryIndex
	case '4':
		return CategoryValidation
	case '5':
		return CategoryModel
	case '6':
		return CategorySearch
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeConfigNotFound, ErrCodeConfigInvalid, ErrCodeConfigRange, ErrCodeConfigEnum,
		ErrCodeIndexEmpty, ErrCodeIndexParity, ErrCodeDimensionChanged, ErrCodeStoreCorrupt:
		return SeverityFatal
	}
	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// Transient database contention and model timeouts are retried by their owners.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeStoreBusy, ErrCodeModelCall, ErrCodeModelTimeout:
		return true
	}
	return false
}
