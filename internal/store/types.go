// Package store provides the persistence layer for askdocs: document
// metadata (SQLite), the lexical index (FTS5 or Bleve), and the vector
// index (HNSW).
package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DocType classifies a document's genre.
type DocType string

const (
	DocTypeProposal    DocType = "proposal"    // 기안서/품의서
	DocTypeReport      DocType = "report"      // 보고서
	DocTypeReview      DocType = "review"      // 검토서 (수의계약 검토 등)
	DocTypeMinutes     DocType = "minutes"     // 회의록
	DocTypeDisposal    DocType = "disposal"    // 폐기/불용 처리
	DocTypeConsumables DocType = "consumables" // 소모품 구매
	DocTypeRepair      DocType = "repair"      // 수리/보수
	DocTypeGeneric     DocType = "generic"
	DocTypeUnknown     DocType = "unknown"
)

// TriState represents a yes/no/unknown value, stored as text.
type TriState string

const (
	TriStateUnknown TriState = ""
	TriStateTrue    TriState = "true"
	TriStateFalse   TriState = "false"
)

// State keys persisted in the metadata store.
const (
	// StateKeyIndexVersion stores the active index version string.
	StateKeyIndexVersion = "index_version"
	// StateKeyIndexDimension stores the embedding dimension used for the index.
	StateKeyIndexDimension = "index_embedding_dimension"
	// StateKeyIndexModel stores the embedding model name used for the index.
	StateKeyIndexModel = "index_embedding_model"
	// StateKeyLastFullReindex stores the RFC3339 time of the last full reindex.
	StateKeyLastFullReindex = "last_full_reindex"
)

// Document is a single indexed PDF with its extracted metadata.
// The integer ID is the SQLite rowid; it is exposed everywhere else as the
// stable string form "doc_<id>".
type Document struct {
	ID           int64
	Filename     string // PDF basename, unique
	Path         string // Absolute path under the documents root
	Title        string // From the filename, date prefix stripped
	Drafter      string // 기안자, empty when unknown
	Department   string
	Date         string // YYYY-MM-DD, empty when absent
	Year         int    // 0 when unknown
	Month        int    // 0 when unknown
	DocType      DocType
	ContentHash  string   // SHA256 of the extracted text
	TextPreview  string   // Canonical cleaned body used for indexing
	ClaimedTotal int64    // Total amount stated in the document, 0 when absent
	SumMatch     TriState // Whether line items sum to ClaimedTotal
	PageCount    int
	SizeBytes    int64
	Stale        bool // Extracted text missing or shorter than min_text_length
	IndexedAt    time.Time
	UpdatedAt    time.Time
}

// DocID returns the stable string id, e.g. "doc_42".
func (d *Document) DocID() string {
	return FormatDocID(d.ID)
}

// FormatDocID renders an integer document id as "doc_<n>".
func FormatDocID(id int64) string {
	return fmt.Sprintf("doc_%d", id)
}

// ParseDocID extracts the integer id from "doc_<n>" form.
func ParseDocID(docID string) (int64, error) {
	rest, ok := strings.CutPrefix(docID, "doc_")
	if !ok {
		return 0, fmt.Errorf("malformed doc id: %q", docID)
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed doc id: %q", docID)
	}
	return n, nil
}

// CodeOccurrence records one product/model code found in a document.
type CodeOccurrence struct {
	DocID      int64
	RawCode    string // As it appeared in the text
	NormCode   string // Uppercased, alphanumeric-only
	PaddedNorm string // " " + NormCode + " ", for boundary-safe LIKE
}

// NormalizeCode uppercases and strips everything but letters and digits.
func NormalizeCode(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(raw) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NewCodeOccurrence builds an occurrence with derived normalized forms.
func NewCodeOccurrence(docID int64, raw string) *CodeOccurrence {
	norm := NormalizeCode(raw)
	return &CodeOccurrence{
		DocID:      docID,
		RawCode:    raw,
		NormCode:   norm,
		PaddedNorm: " " + norm + " ",
	}
}

// CodeMatchKind says how a code matched a document.
type CodeMatchKind string

const (
	CodeMatchExact           CodeMatchKind = "exact_code"
	CodeMatchFilenameExact   CodeMatchKind = "filename_exact"
	CodeMatchFilenamePartial CodeMatchKind = "filename_partial"
)

// CodeMatch is one (doc, code, kind) match from the code lookup passes.
type CodeMatch struct {
	DocID    int64
	NormCode string
	Kind     CodeMatchKind
}

// MetadataStore persists documents, code occurrences, and runtime state.
type MetadataStore interface {
	// Document operations
	Upsert(ctx context.Context, doc *Document) (int64, error)
	Get(ctx context.Context, id int64) (*Document, error)
	GetByFilename(ctx context.Context, filename string) (*Document, error)
	// GetByFilenameFuzzy matches on normalized basename (extension and
	// case insensitive, separators stripped), tie-break by closest length.
	GetByFilenameFuzzy(ctx context.Context, name string) (*Document, error)
	// GetByContentHash returns the lowest-id document carrying the hash,
	// or nil. Used for duplicate detection across filenames.
	GetByContentHash(ctx context.Context, hash string) (*Document, error)
	// List returns documents ordered by id. minTextLength > 0 filters out
	// rows whose text preview is shorter.
	List(ctx context.Context, offset, limit, minTextLength int) ([]*Document, error)
	Count(ctx context.Context) (int, error)
	CountStale(ctx context.Context) (int, error)
	MaxID(ctx context.Context) (int64, error)
	UpdateTextPreview(ctx context.Context, id int64, preview string) error
	// UpdateDocument partially updates the named document. Keys are column
	// names; unknown keys are rejected. Returns the updated row.
	UpdateDocument(ctx context.Context, filename string, fields map[string]any) (*Document, error)
	Delete(ctx context.Context, id int64) error

	// Code occurrence operations
	ReplaceCodes(ctx context.Context, docID int64, occs []*CodeOccurrence) error
	// MatchCodes runs the two batched passes: exact IN on norm_code, then
	// boundary-safe LIKE on padded_norm. All results carry CodeMatchExact.
	MatchCodes(ctx context.Context, normCodes []string) ([]*CodeMatch, error)
	// SearchFilenames returns documents whose filename contains substr,
	// case-insensitively. Used by the filename pass of the code layer.
	SearchFilenames(ctx context.Context, substr string) ([]*Document, error)

	// Drafter operations
	ListDrafters(ctx context.Context) ([]string, error)

	// State operations (key-value store for runtime state)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// Lifecycle
	Close() error
}

// LexicalDoc is a document to be indexed for keyword search.
type LexicalDoc struct {
	ID      string // "doc_<n>"
	Content string // Augmented text: title + drafter + date + codes + body
}

// LexicalResult is a single keyword search result.
type LexicalResult struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// LexicalStats provides statistics about the lexical index.
type LexicalStats struct {
	DocumentCount int
}

// BM25Index provides keyword search over augmented document text.
type BM25Index interface {
	// Index adds documents to the index, replacing existing ids.
	Index(ctx context.Context, docs []*LexicalDoc) error

	// Search returns documents matching query, scored by BM25.
	Search(ctx context.Context, query string, limit int) ([]*LexicalResult, error)

	// Delete removes documents from index.
	Delete(ctx context.Context, docIDs []string) error

	// AllIDs returns all document IDs in the index, sorted.
	AllIDs() ([]string, error)

	// Stats returns index statistics.
	Stats() *LexicalStats

	// Persistence
	Save(path string) error
	Close() error
}

// VectorResult is a single vector search result.
type VectorResult struct {
	ID       string  // "doc_<n>"
	Distance float32 // Cosine distance, lower is more similar
	Score    float32 // Normalized similarity (0-1)
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	// Dimensions is the embedding dimension.
	Dimensions int

	// M is HNSW max connections per layer (default: 16)
	M int

	// EfSearch is HNSW query-time search width (default: 64)
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible defaults for the vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		M:          16,
		EfSearch:   64,
	}
}

// VectorStore provides semantic search using the HNSW algorithm.
type VectorStore interface {
	// Add inserts vectors with their IDs. If an ID exists, it is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds k nearest neighbors to the query vector.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by ID.
	Delete(ctx context.Context, ids []string) error

	// AllIDs returns all vector IDs in the store, sorted.
	AllIDs() []string

	// Contains checks if ID exists.
	Contains(id string) bool

	// Count returns number of vectors.
	Count() int

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates the stored index was built with a different
// embedding dimension than the configured embedder.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'askdocs reindex --force')", e.Expected, e.Got)
}
