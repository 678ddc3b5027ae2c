package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/askdocs/askdocs/internal/embed"
	aerr "github.com/askdocs/askdocs/internal/errors"
	"github.com/askdocs/askdocs/internal/store"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// HybridRetriever runs BM25 and vector search in parallel, fuses the
// rankings with RRF, applies the author boost, and layers exact-code
// matches on top.
type HybridRetriever struct {
	bm25     store.BM25Index
	vector   store.VectorStore
	embedder embed.Embedder
	meta     store.MetadataStore
	codes    *ExactCodeIndex
	fusion   *RRFFusion
	cfg      RetrieverConfig
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewHybridRetriever wires the retriever and validates the indexes.
// An empty index and a count mismatch between the lexical and vector
// backends are both fatal here.
func NewHybridRetriever(
	bm25 store.BM25Index,
	vector store.VectorStore,
	embedder embed.Embedder,
	meta store.MetadataStore,
	cfg RetrieverConfig,
	logger *slog.Logger,
) (*HybridRetriever, error) {
	if bm25 == nil {
		return nil, fmt.Errorf("%w: bm25 index is required", ErrNilDependency)
	}
	if vector == nil {
		return nil, fmt.Errorf("%w: vector store is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if meta == nil {
		return nil, fmt.Errorf("%w: metadata store is required", ErrNilDependency)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BM25TopK <= 0 {
		cfg.BM25TopK = 20
	}
	if cfg.VecTopK <= 0 {
		cfg.VecTopK = 20
	}
	if cfg.FinalTopK <= 0 {
		cfg.FinalTopK = 5
	}

	r := &HybridRetriever{
		bm25:     bm25,
		vector:   vector,
		embedder: embedder,
		meta:     meta,
		codes:    NewExactCodeIndex(meta),
		fusion:   NewRRFFusion(cfg.RRFK),
		cfg:      cfg,
		logger:   logger,
	}
	if err := r.validateIndexes(); err != nil {
		return nil, err
	}
	return r, nil
}

// validateIndexes enforces the startup invariant: both indexes must be
// non-empty and their document counts must agree.
func (r *HybridRetriever) validateIndexes() error {
	lexCount := 0
	if stats := r.bm25.Stats(); stats != nil {
		lexCount = stats.DocumentCount
	}
	vecCount := r.vector.Count()

	if lexCount == 0 || vecCount == 0 {
		return aerr.New(aerr.ErrCodeIndexEmpty,
			fmt.Sprintf("search index is empty (lexical=%d, vector=%d); run 'askdocs reindex'", lexCount, vecCount), nil)
	}
	if lexCount != vecCount {
		return aerr.New(aerr.ErrCodeIndexParity,
			fmt.Sprintf("index counts diverge (lexical=%d, vector=%d); run 'askdocs reindex --force'", lexCount, vecCount), nil)
	}
	return nil
}

// Stats returns current backend sizes.
func (r *HybridRetriever) Stats() RetrieverStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lexCount := 0
	if stats := r.bm25.Stats(); stats != nil {
		lexCount = stats.DocumentCount
	}
	return RetrieverStats{LexicalCount: lexCount, VectorCount: r.vector.Count()}
}

// Retrieve runs the full hybrid pipeline and returns the top topK chunks.
// Backend failures degrade to partial results; only a total failure of
// both backends surfaces an error. topK <= 0 uses the configured default.
func (r *HybridRetriever) Retrieve(ctx context.Context, query string, topK int) ([]*Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	query = strings.TrimSpace(query)
	if query == "" {
		return []*Chunk{}, nil
	}
	if topK <= 0 {
		topK = r.cfg.FinalTopK
	}
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	author := ExtractAuthor(query)
	if author != "" && r.cfg.ValidateDrafters && !r.knownDrafter(ctx, author) {
		r.logger.Debug("author_extraction_dropped", slog.String("author", author))
		author = ""
	}
	variants := AuthorQueryVariants(query, author)

	bm25Ranked, vecRanked, err := r.searchVariants(ctx, variants)
	if err != nil {
		return nil, err
	}

	fused := r.fusion.Fuse(bm25Ranked, vecRanked)

	// Exact-code layer is additive: code hits add their weight on top of
	// the fused RRF score, and code-only documents join the candidate set.
	codeHits, codeErr := r.codes.SearchCodes(ctx, query)
	if codeErr != nil {
		r.logger.Warn("code_search_failed", slog.String("error", codeErr.Error()))
	}
	fused = mergeCodeHits(fused, codeHits)

	chunks, err := r.enrich(ctx, fused, topK, author, codeHits)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("retrieval_done",
		slog.String("query", query),
		slog.Int("bm25_candidates", len(bm25Ranked)),
		slog.Int("vector_candidates", len(vecRanked)),
		slog.Int("code_hits", len(codeHits)),
		slog.Int("returned", len(chunks)))
	return chunks, nil
}

// knownDrafter reports whether an extracted author name matches any
// distinct drafter stored in the corpus. Lookup failures keep the name:
// the boost is soft, so a false positive only costs rank.
func (r *HybridRetriever) knownDrafter(ctx context.Context, author string) bool {
	drafters, err := r.meta.ListDrafters(ctx)
	if err != nil {
		r.logger.Warn("drafter_lookup_failed", slog.String("error", err.Error()))
		return true
	}
	for _, d := range drafters {
		if DrafterMatches(d, author) {
			return true
		}
	}
	return false
}

// searchVariants runs every query variant against both backends in
// parallel and deduplicates per backend, keeping the best rank per doc.
func (r *HybridRetriever) searchVariants(ctx context.Context, variants []string) (bm25, vec []rankedDoc, err error) {
	type backendHit struct {
		docID string
		rank  int
		score float64
	}

	var mu sync.Mutex
	var bm25Hits, vecHits []backendHit
	var bm25Err, vecErr error

	g, gctx := errgroup.WithContext(ctx)
	for _, variant := range variants {
		g.Go(func() error {
			results, searchErr := r.bm25.Search(gctx, variant, r.cfg.BM25TopK)
			mu.Lock()
			defer mu.Unlock()
			if searchErr != nil {
				bm25Err = searchErr
				return nil
			}
			for i, res := range results {
				bm25Hits = append(bm25Hits, backendHit{docID: res.DocID, rank: i + 1, score: res.Score})
			}
			return nil
		})
		g.Go(func() error {
			vector, embedErr := r.embedder.Embed(gctx, variant)
			if embedErr != nil {
				mu.Lock()
				vecErr = embedErr
				mu.Unlock()
				return nil
			}
			results, searchErr := r.vector.Search(gctx, vector, r.cfg.VecTopK)
			mu.Lock()
			defer mu.Unlock()
			if searchErr != nil {
				vecErr = searchErr
				return nil
			}
			for i, res := range results {
				vecHits = append(vecHits, backendHit{docID: res.ID, rank: i + 1, score: float64(res.Score)})
			}
			return nil
		})
	}
	if waitErr := g.Wait(); waitErr != nil {
		return nil, nil, waitErr
	}

	if bm25Err != nil && vecErr != nil {
		return nil, nil, aerr.New(aerr.ErrCodeSearchFailed, "both search backends failed",
			errors.Join(bm25Err, vecErr))
	}
	if bm25Err != nil {
		r.logger.Warn("bm25_search_failed", slog.String("error", bm25Err.Error()))
	}
	if vecErr != nil {
		r.logger.Warn("vector_search_failed", slog.String("error", vecErr.Error()))
	}

	dedupe := func(hits []backendHit) []rankedDoc {
		best := make(map[string]rankedDoc)
		for _, h := range hits {
			if cur, ok := best[h.docID]; !ok || h.rank < cur.rank {
				best[h.docID] = rankedDoc{docID: h.docID, rank: h.rank, score: h.score}
			}
		}
		out := make([]rankedDoc, 0, len(best))
		for _, d := range best {
			out = append(out, d)
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].rank != out[j].rank {
				return out[i].rank < out[j].rank
			}
			return docIDLess(out[i].docID, out[j].docID)
		})
		return out
	}
	return dedupe(bm25Hits), dedupe(vecHits), nil
}

// mergeCodeHits folds exact-code matches into the fused ranking. Documents
// already present add the code weight to their score; code-only documents
// enter with the code weight alone. The list is re-sorted.
func mergeCodeHits(fused []*FusedResult, hits []*CodeHit) []*FusedResult {
	if len(hits) == 0 {
		return fused
	}
	byID := make(map[string]*FusedResult, len(fused))
	for _, f := range fused {
		byID[f.DocID] = f
	}
	for _, h := range hits {
		if f, ok := byID[h.DocID]; ok {
			f.Score += h.Score
		} else {
			f := &FusedResult{DocID: h.DocID, Score: h.Score}
			byID[h.DocID] = f
			fused = append(fused, f)
		}
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return docIDLess(fused[i].DocID, fused[j].DocID)
	})
	return fused
}

// enrich attaches metadata to the fused candidates, applies the author
// boost, and cuts to topK. Documents that vanished from the metadata
// store since indexing are skipped.
func (r *HybridRetriever) enrich(ctx context.Context, fused []*FusedResult, topK int, author string, codeHits []*CodeHit) ([]*Chunk, error) {
	codeByDoc := make(map[string]string, len(codeHits))
	for _, h := range codeHits {
		codeByDoc[h.DocID] = h.Code
	}

	chunks := make([]*Chunk, 0, topK)
	for _, f := range fused {
		if len(chunks) >= topK && author == "" {
			break
		}
		// With an author boost pending, over-collect so boosted documents
		// deeper in the list can still surface.
		if len(chunks) >= topK*3 {
			break
		}

		id, err := store.ParseDocID(f.DocID)
		if err != nil {
			continue
		}
		doc, err := r.meta.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			continue
		}

		c := &Chunk{DocID: f.DocID, Score: f.Score}
		chunkFromDocument(c, doc)
		if code, ok := codeByDoc[f.DocID]; ok {
			c.CodeMatch = code
		}
		if author != "" && DrafterMatches(doc.Drafter, author) {
			c.AuthorMatch = true
			c.Score *= authorBoost
		}
		chunks = append(chunks, c)
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		return docIDLess(chunks[i].DocID, chunks[j].DocID)
	})
	if len(chunks) > topK {
		chunks = chunks[:topK]
	}
	for i, c := range chunks {
		c.Rank = i + 1
	}
	return chunks, nil
}
