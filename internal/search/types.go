// Package search implements the hybrid retriever: BM25 and vector search
// run in parallel, results are fused with Reciprocal Rank Fusion, and an
// exact-code layer adds precise product/model-code matches on top.
package search

import (
	"time"

	"github.com/askdocs/askdocs/internal/store"
)

// Chunk is one retrieved document with its fused score and metadata.
type Chunk struct {
	DocID    string  `json:"doc_id"`
	Rank     int     `json:"rank"` // 1-indexed position after fusion
	Score    float64 `json:"score"`
	Text     string  `json:"text"`
	Filename string  `json:"filename"`
	Title    string  `json:"title"`
	Date     string  `json:"date"`
	Year     int     `json:"year"`
	Month    int     `json:"month"`
	Drafter  string  `json:"drafter"`
	Category string  `json:"category"` // doc type
	Path     string  `json:"path"`

	PageCount    int   `json:"page_count"`
	ClaimedTotal int64 `json:"claimed_total,omitempty"`

	// AuthorMatch is set when the query named an author and this
	// document's drafter matched.
	AuthorMatch bool `json:"author_match,omitempty"`
	// CodeMatch names the product code that matched, when the exact-code
	// layer contributed to this result.
	CodeMatch string `json:"code_match,omitempty"`
}

// RetrieverConfig tunes the hybrid retriever.
type RetrieverConfig struct {
	// BM25TopK is how many candidates the lexical backend returns.
	BM25TopK int
	// VecTopK is how many candidates the vector backend returns.
	VecTopK int
	// RRFK is the RRF smoothing constant.
	RRFK int
	// FinalTopK is the default number of fused results returned.
	FinalTopK int
	// Timeout bounds a single retrieval.
	Timeout time.Duration
	// ValidateDrafters drops extracted author names that match no drafter
	// stored in the corpus, instead of boosting on a false extraction.
	ValidateDrafters bool
}

// DefaultRetrieverConfig returns the production defaults.
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		BM25TopK:  20,
		VecTopK:   20,
		RRFK:      DefaultRRFConstant,
		FinalTopK: 5,
		Timeout:   10 * time.Second,
	}
}

// RetrieverStats reports backend sizes for metrics and parity checks.
type RetrieverStats struct {
	LexicalCount int `json:"lexical_count"`
	VectorCount  int `json:"vector_count"`
}

// rankedDoc is a per-backend candidate after variant deduplication.
type rankedDoc struct {
	docID string
	rank  int     // best (lowest) 1-indexed rank across query variants
	score float64 // backend-native score at that rank
}

// chunkFromDocument copies enrichment fields out of a metadata row.
func chunkFromDocument(c *Chunk, d *store.Document) {
	c.Text = d.TextPreview
	c.Filename = d.Filename
	c.Title = d.Title
	c.Date = d.Date
	c.Year = d.Year
	c.Month = d.Month
	c.Drafter = d.Drafter
	c.Category = string(d.DocType)
	c.Path = d.Path
	c.PageCount = d.PageCount
	c.ClaimedTotal = d.ClaimedTotal
}
