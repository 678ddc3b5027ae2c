// Package service is the core orchestration layer: it wires validation,
// routing, the answer cache, hybrid retrieval, and the composer into the
// query path, and owns ingest and reindex on the write path.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/askdocs/askdocs/internal/cache"
	"github.com/askdocs/askdocs/internal/compose"
	"github.com/askdocs/askdocs/internal/config"
	"github.com/askdocs/askdocs/internal/embed"
	aerr "github.com/askdocs/askdocs/internal/errors"
	"github.com/askdocs/askdocs/internal/index"
	"github.com/askdocs/askdocs/internal/ingest"
	"github.com/askdocs/askdocs/internal/logging"
	"github.com/askdocs/askdocs/internal/search"
	"github.com/askdocs/askdocs/internal/store"
	"github.com/askdocs/askdocs/internal/telemetry"
	"github.com/askdocs/askdocs/internal/validation"
)

// SourceDoc identifies one document behind an answer.
type SourceDoc struct {
	DocID        string  `json:"doc_id"`
	Filename     string  `json:"filename"`
	Title        string  `json:"title,omitempty"`
	Date         string  `json:"date,omitempty"`
	Drafter      string  `json:"drafter,omitempty"`
	Score        float64 `json:"score"`
	ClaimedTotal int64   `json:"claimed_total,omitempty"`
}

// QueryResult is the full answer surface for one query.
type QueryResult struct {
	Answer            string                 `json:"answer"`
	SourcesCited      []string               `json:"sources_cited"`
	Confidence        float64                `json:"confidence"`
	HasProperCitation bool                   `json:"has_proper_citation"`
	Mode              string                 `json:"mode"`
	Structured        map[string]interface{} `json:"structured,omitempty"`
	SourceDocs        []SourceDoc            `json:"source_docs"`
	Evidence          []search.Chunk         `json:"evidence,omitempty"`
	CacheHit          bool                   `json:"cache_hit"`
	DurationMs        int64                  `json:"duration_ms"`
	ReqID             string                 `json:"req_id"`
}

// cachedAnswer is the payload stored in the answer cache. Per-request
// fields (cache hit, duration, req id) are attached after decode.
type cachedAnswer struct {
	Answer            string                 `json:"answer"`
	SourcesCited      []string               `json:"sources_cited"`
	Confidence        float64                `json:"confidence"`
	HasProperCitation bool                   `json:"has_proper_citation"`
	Mode              string                 `json:"mode"`
	Structured        map[string]interface{} `json:"structured,omitempty"`
	SourceDocs        []SourceDoc            `json:"source_docs"`
	Evidence          []search.Chunk         `json:"evidence,omitempty"`
}

// Service owns every collaborator on the query and write paths.
type Service struct {
	cfg         *config.Config
	meta        store.MetadataStore
	embedder    embed.Embedder
	router      *search.Router
	cacheLayer  *cache.Layer
	composer    *compose.Composer
	coordinator *index.Coordinator
	ingester    *ingest.Ingester
	metrics     *telemetry.Collector
	llm         *compose.OllamaLLM
	logger      *slog.Logger

	// mu guards the live index handles and the retriever built on them;
	// all three are replaced together after a full reindex.
	mu        sync.RWMutex
	bm25      store.BM25Index
	vector    store.VectorStore
	retriever *search.HybridRetriever

	watcher   *ingest.Watcher
	watcherMu sync.Mutex

	closeMu sync.Mutex
	closed  bool
}

// Query answers one question. Validation errors surface verbatim; every
// other failure is logged with its request ids and mapped to a
// correlation-id service error.
func (s *Service) Query(ctx context.Context, text string, topK int) (*QueryResult, error) {
	start := time.Now()
	ctx = logging.NewRequestContext(ctx)
	logger := logging.FromContext(ctx)

	if err := validation.ValidateQuery(text); err != nil {
		return nil, err
	}
	if err := validation.ValidateTopK(topK); err != nil {
		return nil, err
	}

	mode := s.router.Classify(text)
	key := s.cacheLayer.KeyFor(text, string(mode), time.Now())

	payload, cacheHit, err := s.cacheLayer.GetOrCompute(ctx, key, func(ctx context.Context) ([]byte, error) {
		return s.computeAnswer(ctx, text, topK, mode)
	})
	if err != nil {
		return nil, s.mapError(ctx, string(mode), err)
	}

	var body cachedAnswer
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, s.mapError(ctx, string(mode),
			aerr.New(aerr.ErrCodeInternal, "cached answer payload is corrupt", err))
	}

	duration := time.Since(start)
	s.metrics.Record(telemetry.QueryEvent{
		Query:       text,
		Mode:        string(mode),
		ResultCount: len(body.SourceDocs),
		CacheHit:    cacheHit,
		Latency:     duration,
		Timestamp:   start,
	})
	logger.Info("query_answered",
		slog.String("mode", string(mode)),
		slog.Bool("cache_hit", cacheHit),
		slog.Int("source_docs", len(body.SourceDocs)),
		slog.Int64("duration_ms", duration.Milliseconds()))

	return &QueryResult{
		Answer:            body.Answer,
		SourcesCited:      body.SourcesCited,
		Confidence:        body.Confidence,
		HasProperCitation: body.HasProperCitation,
		Mode:              body.Mode,
		Structured:        body.Structured,
		SourceDocs:        body.SourceDocs,
		Evidence:          body.Evidence,
		CacheHit:          cacheHit,
		DurationMs:        duration.Milliseconds(),
		ReqID:             logging.ReqID(ctx),
	}, nil
}

// computeAnswer runs retrieval and composition for a cache miss.
func (s *Service) computeAnswer(ctx context.Context, query string, topK int, mode search.Mode) ([]byte, error) {
	retriever, err := s.Retriever()
	if err != nil {
		return nil, err
	}

	chunks, err := retriever.Retrieve(ctx, query, topK)
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(chunks))
	for i, c := range chunks {
		scores[i] = c.Score
	}
	s.router.CheckLowConfidence(query, scores)

	// A filename reference in the query narrows the evidence to that one
	// document before composition.
	hits := make([]*store.Document, len(chunks))
	for i, c := range chunks {
		hits[i] = &store.Document{Filename: c.Filename}
	}
	refined, narrowed := s.router.ClassifyWithHits(query, hits)
	if refined == search.ModeDocument && len(narrowed) == 1 && len(chunks) > 1 {
		for _, c := range chunks {
			if c.Filename == narrowed[0].Filename {
				chunks = []*search.Chunk{c}
				break
			}
		}
		mode = refined
	}

	plain := make([]search.Chunk, len(chunks))
	for i, c := range chunks {
		plain[i] = *c
	}

	answer, err := s.composer.Compose(ctx, query, plain)
	if err != nil {
		return nil, err
	}

	docs := make([]SourceDoc, len(chunks))
	for i, c := range chunks {
		docs[i] = SourceDoc{
			DocID:        c.DocID,
			Filename:     c.Filename,
			Title:        c.Title,
			Date:         c.Date,
			Drafter:      c.Drafter,
			Score:        c.Score,
			ClaimedTotal: c.ClaimedTotal,
		}
	}

	return json.Marshal(cachedAnswer{
		Answer:            answer.Text,
		SourcesCited:      answer.SourcesCited,
		Confidence:        answer.Confidence,
		HasProperCitation: answer.HasProperCitation,
		Mode:              string(mode),
		Structured:        answer.Structured,
		SourceDocs:        docs,
		Evidence:          answer.Evidence,
	})
}

// Ingest loads one document and, when live indexes are open, upserts it
// into both incrementally. Without live indexes the document waits for
// the next reindex.
func (s *Service) Ingest(ctx context.Context, path string) (*ingest.IngestResult, error) {
	ctx = logging.NewRequestContext(ctx)
	logger := logging.FromContext(ctx)

	result, err := s.ingester.IngestFile(ctx, path)
	if err != nil {
		return nil, s.mapError(ctx, "ingest", err)
	}
	if !result.Updated {
		return result, nil
	}

	s.mu.RLock()
	indexed := s.retriever != nil
	s.mu.RUnlock()
	if !indexed {
		logger.Info("ingest_deferred_to_reindex", slog.String("filename", result.Filename))
		return result, nil
	}

	doc, err := s.meta.Get(ctx, result.DocID)
	if err != nil {
		return nil, s.mapError(ctx, "ingest", err)
	}
	if doc == nil || doc.Stale {
		return result, nil
	}
	if err := s.coordinator.UpsertDocument(ctx, doc); err != nil {
		return nil, s.mapError(ctx, "ingest", err)
	}
	return result, nil
}

// SetReindexProgress attaches a rebuild progress callback for UI
// rendering. Call before Reindex.
func (s *Service) SetReindexProgress(fn index.ProgressFunc) {
	s.coordinator.SetProgress(fn)
}

// Reindex rebuilds both indexes from the metadata store. The coordinator
// calls back into reloadIndexes, so live handles are fresh on return.
func (s *Service) Reindex(ctx context.Context, force bool) (*index.ReindexResult, error) {
	ctx = logging.NewRequestContext(ctx)
	result, err := s.coordinator.FullReindex(ctx, force)
	if err != nil {
		return nil, s.mapError(ctx, "reindex", err)
	}
	return result, nil
}

// IngestAll ingests every extracted body, then reports the totals.
func (s *Service) IngestAll(ctx context.Context) (ingested, unchanged, failed int, err error) {
	ctx = logging.NewRequestContext(ctx)
	ingested, unchanged, failed, err = s.ingester.IngestDir(ctx)
	if err != nil {
		return 0, 0, 0, s.mapError(ctx, "ingest", err)
	}
	return ingested, unchanged, failed, nil
}

// StartWatcher begins watching the extracted directory; every debounced
// batch is ingested (and incrementally indexed) in the background.
func (s *Service) StartWatcher(ctx context.Context) error {
	s.watcherMu.Lock()
	defer s.watcherMu.Unlock()
	if s.watcher != nil {
		return nil
	}

	w, err := ingest.NewWatcher(s.cfg.Paths.ExtractedDir, ingest.DefaultDebounceWindow, s.logger)
	if err != nil {
		return aerr.New(aerr.ErrCodeConfigInvalid,
			fmt.Sprintf("cannot watch extracted dir %s", s.cfg.Paths.ExtractedDir), err)
	}
	s.watcher = w
	w.Start(ctx)

	go func() {
		for batch := range w.Events() {
			for _, path := range batch {
				if _, err := s.Ingest(ctx, path); err != nil {
					s.logger.Warn("watch_ingest_failed",
						slog.String("path", path),
						slog.String("error", err.Error()))
				}
			}
		}
	}()
	go func() {
		for err := range w.Errors() {
			s.logger.Warn("watcher_error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Retriever returns the live retriever, opening the index files on first
// use. An empty or missing index surfaces as a coded error.
func (s *Service) Retriever() (*search.HybridRetriever, error) {
	s.mu.RLock()
	r := s.retriever
	s.mu.RUnlock()
	if r != nil {
		return r, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retriever == nil {
		if err := s.openIndexesLocked(); err != nil {
			return nil, err
		}
	}
	return s.retriever, nil
}

// Router exposes the query router (MCP and CLI surfaces reuse it).
func (s *Service) Router() *search.Router { return s.router }

// Embedder exposes the embedding backend for info surfaces.
func (s *Service) Embedder() embed.Embedder { return s.embedder }

// Metadata exposes the metadata store for read-only surfaces.
func (s *Service) Metadata() store.MetadataStore { return s.meta }

// Config returns the active configuration.
func (s *Service) Config() *config.Config { return s.cfg }

// mapError implements the error policy: validation errors pass through
// unchanged, everything else becomes a correlation-id service error.
func (s *Service) mapError(ctx context.Context, mode string, err error) error {
	if aerr.GetCategory(err) == aerr.CategoryValidation {
		return err
	}

	corrID := logging.ReqID(ctx)
	logging.FromContext(ctx).Error("request_failed",
		slog.String("mode", mode),
		slog.String("code", aerr.GetCode(err)),
		slog.String("error", err.Error()))
	return aerr.New(aerr.ErrCodeInternal,
		fmt.Sprintf("service error (correlation id %s)", corrID), err).
		WithCorrelationID(corrID)
}

// Close releases every owned resource. Safe to call once.
func (s *Service) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.watcherMu.Lock()
	if s.watcher != nil {
		s.watcher.Stop()
	}
	s.watcherMu.Unlock()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.mu.Lock()
	if s.bm25 != nil {
		record(s.bm25.Close())
		s.bm25 = nil
	}
	if s.vector != nil {
		record(s.vector.Close())
		s.vector = nil
	}
	s.retriever = nil
	s.mu.Unlock()

	record(s.cacheLayer.Close())
	record(s.metrics.Close())
	record(s.embedder.Close())
	if s.llm != nil {
		record(s.llm.Close())
	}
	record(s.meta.Close())
	return firstErr
}
