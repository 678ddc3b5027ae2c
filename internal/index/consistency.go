package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/askdocs/askdocs/internal/store"
)

// ParityIssueType categorizes cross-store mismatches.
type ParityIssueType int

const (
	// ParityOrphanLexical is a lexical entry without matching metadata.
	ParityOrphanLexical ParityIssueType = iota
	// ParityOrphanVector is a vector entry without matching metadata.
	ParityOrphanVector
	// ParityMissingLexical is an indexable document missing from the lexical index.
	ParityMissingLexical
	// ParityMissingVector is an indexable document missing from the vector store.
	ParityMissingVector
)

func (t ParityIssueType) String() string {
	switch t {
	case ParityOrphanLexical:
		return "orphan_lexical"
	case ParityOrphanVector:
		return "orphan_vector"
	case ParityMissingLexical:
		return "missing_lexical"
	case ParityMissingVector:
		return "missing_vector"
	default:
		return "unknown"
	}
}

// ParityIssue is one detected mismatch.
type ParityIssue struct {
	Type    ParityIssueType
	DocID   string
	Details string
}

// ParityResult is the outcome of a parity check.
type ParityResult struct {
	Checked  int
	Issues   []ParityIssue
	Duration time.Duration
}

// Consistent reports whether no issues were found.
func (r *ParityResult) Consistent() bool { return len(r.Issues) == 0 }

// ParityChecker compares the metadata store against both indexes. The
// metadata store is the source of truth; a document counts as indexable
// when its extracted text meets the minimum length.
type ParityChecker struct {
	meta          store.MetadataStore
	bm25          store.BM25Index
	vector        store.VectorStore
	minTextLength int
	logger        *slog.Logger
}

// NewParityChecker builds a checker over the three stores.
func NewParityChecker(meta store.MetadataStore, bm25 store.BM25Index, vector store.VectorStore, minTextLength int, logger *slog.Logger) *ParityChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ParityChecker{meta: meta, bm25: bm25, vector: vector, minTextLength: minTextLength, logger: logger}
}

// Check scans all three stores and reports every mismatch. O(n) in the
// total number of entries.
func (p *ParityChecker) Check(ctx context.Context) (*ParityResult, error) {
	start := time.Now()

	docs, err := p.meta.List(ctx, 0, 0, p.minTextLength)
	if err != nil {
		return nil, err
	}
	metaIDs := make(map[string]bool, len(docs))
	for _, doc := range docs {
		metaIDs[doc.DocID()] = true
	}

	lexIDs, err := p.bm25.AllIDs()
	if err != nil {
		p.logger.Warn("lexical_ids_unavailable", slog.String("error", err.Error()))
	}
	vecIDs := p.vector.AllIDs()

	var issues []ParityIssue
	for _, id := range lexIDs {
		if !metaIDs[id] {
			issues = append(issues, ParityIssue{
				Type:    ParityOrphanLexical,
				DocID:   id,
				Details: "lexical entry without matching metadata",
			})
		}
	}
	for _, id := range vecIDs {
		if !metaIDs[id] {
			issues = append(issues, ParityIssue{
				Type:    ParityOrphanVector,
				DocID:   id,
				Details: "vector entry without matching metadata",
			})
		}
	}

	lexSet := make(map[string]bool, len(lexIDs))
	for _, id := range lexIDs {
		lexSet[id] = true
	}
	vecSet := make(map[string]bool, len(vecIDs))
	for _, id := range vecIDs {
		vecSet[id] = true
	}

	for _, doc := range docs {
		id := doc.DocID()
		if !lexSet[id] {
			issues = append(issues, ParityIssue{
				Type:    ParityMissingLexical,
				DocID:   id,
				Details: "document missing from lexical index",
			})
		}
		if !vecSet[id] {
			issues = append(issues, ParityIssue{
				Type:    ParityMissingVector,
				DocID:   id,
				Details: "document missing from vector store",
			})
		}
	}

	return &ParityResult{Checked: len(metaIDs), Issues: issues, Duration: time.Since(start)}, nil
}

// Repair deletes orphans from both indexes, best-effort. Missing entries
// need a reindex and are only logged.
func (p *ParityChecker) Repair(ctx context.Context, issues []ParityIssue) error {
	var orphanLex, orphanVec []string
	var missing int
	for _, issue := range issues {
		switch issue.Type {
		case ParityOrphanLexical:
			orphanLex = append(orphanLex, issue.DocID)
		case ParityOrphanVector:
			orphanVec = append(orphanVec, issue.DocID)
		case ParityMissingLexical, ParityMissingVector:
			missing++
		}
	}

	if len(orphanLex) > 0 {
		if err := p.bm25.Delete(ctx, orphanLex); err != nil {
			p.logger.Warn("orphan_lexical_delete_failed",
				slog.Int("count", len(orphanLex)),
				slog.String("error", err.Error()))
		} else {
			p.logger.Info("orphan_lexical_deleted", slog.Int("count", len(orphanLex)))
		}
	}
	if len(orphanVec) > 0 {
		if err := p.vector.Delete(ctx, orphanVec); err != nil {
			p.logger.Warn("orphan_vector_delete_failed",
				slog.Int("count", len(orphanVec)),
				slog.String("error", err.Error()))
		} else {
			p.logger.Info("orphan_vector_deleted", slog.Int("count", len(orphanVec)))
		}
	}
	if missing > 0 {
		p.logger.Warn("index_missing_entries",
			slog.Int("count", missing),
			slog.String("hint", "run 'askdocs reindex --force' to rebuild"))
	}
	return nil
}

// QuickCheck compares only counts across the three stores.
func (p *ParityChecker) QuickCheck(ctx context.Context) (bool, error) {
	docs, err := p.meta.List(ctx, 0, 0, p.minTextLength)
	if err != nil {
		return false, err
	}
	n := len(docs)

	lexCount := 0
	if stats := p.bm25.Stats(); stats != nil {
		lexCount = stats.DocumentCount
	}
	vecCount := p.vector.Count()

	consistent := n == lexCount && n == vecCount
	if !consistent {
		p.logger.Debug("index_count_mismatch",
			slog.Int("metadata", n),
			slog.Int("lexical", lexCount),
			slog.Int("vector", vecCount))
	}
	return consistent, nil
}
