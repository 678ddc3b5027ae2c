// Package validation checks query inputs and document paths before they
// reach the retrieval core. Validation errors are surfaced to the caller
// verbatim.
package validation

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	aerr "github.com/askdocs/askdocs/internal/errors"
)

const (
	// MaxQueryLength bounds query size in runes.
	MaxQueryLength = 1000
	// MaxTopK bounds how many results a caller may request.
	MaxTopK = 50
)

// ValidateQuery rejects empty and oversized queries.
func ValidateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return aerr.New(aerr.ErrCodeQueryEmpty, "query must not be empty", nil)
	}
	if n := utf8.RuneCountInString(query); n > MaxQueryLength {
		return aerr.New(aerr.ErrCodeQueryTooLong,
			fmt.Sprintf("query length %d exceeds maximum %d", n, MaxQueryLength), nil)
	}
	return nil
}

// ValidateTopK rejects out-of-range result counts. Zero is allowed and
// means "use the configured default".
func ValidateTopK(topK int) error {
	if topK < 0 || topK > MaxTopK {
		return aerr.New(aerr.ErrCodeTopKRange,
			fmt.Sprintf("top_k %d out of range [0, %d]", topK, MaxTopK), nil)
	}
	return nil
}

// ResolveUnderRoot resolves path against the documents root and rejects
// anything that escapes it. Returns the cleaned absolute path.
func ResolveUnderRoot(root, path string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", aerr.New(aerr.ErrCodeInvalidInput,
			fmt.Sprintf("invalid documents root %q", root), err)
	}

	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(absRoot, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(absRoot, candidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", aerr.New(aerr.ErrCodePathEscape,
			fmt.Sprintf("path %q escapes the documents root", path), err)
	}
	return candidate, nil
}
