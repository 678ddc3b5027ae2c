package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/askdocs/askdocs/internal/cache"
	"github.com/askdocs/askdocs/internal/compose"
	"github.com/askdocs/askdocs/internal/config"
	"github.com/askdocs/askdocs/internal/embed"
	aerr "github.com/askdocs/askdocs/internal/errors"
	"github.com/askdocs/askdocs/internal/index"
	"github.com/askdocs/askdocs/internal/ingest"
	"github.com/askdocs/askdocs/internal/search"
	"github.com/askdocs/askdocs/internal/store"
	"github.com/askdocs/askdocs/internal/telemetry"
)

// Artifact filenames under the data dir.
const (
	metadataFileName = "metadata.db"
	cacheFileName    = "cache.db"
	vectorFileName   = "vectors.hnsw"
	lexicalBaseName  = "lexical"
)

// Open wires a Service from configuration. Index files are opened lazily:
// a data dir that has never been reindexed still opens, and the first
// Query reports the empty index.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, aerr.New(aerr.ErrCodeConfigInvalid, "configuration is required", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	dataDir := cfg.Paths.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, aerr.ConfigError(fmt.Sprintf("cannot create data dir %s", dataDir), err)
	}

	meta, err := store.NewSQLiteMetadataStore(filepath.Join(dataDir, metadataFileName))
	if err != nil {
		return nil, err
	}

	embedder, err := embed.NewEmbedder(ctx, cfg.Embeddings, cfg.LLM.TimeoutSec)
	if err != nil {
		_ = meta.Close()
		return nil, err
	}

	llm := compose.NewOllamaLLM(compose.OllamaLLMConfig{
		Host:              cfg.LLM.Host,
		Model:             cfg.LLM.Model,
		MaxContextTokens:  cfg.LLM.MaxContextTokens,
		MaxResponseTokens: cfg.LLM.MaxResponseTokens,
		Timeout:           time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})
	composer, err := compose.NewComposer(llm, compose.ComposerConfig{
		MaxRetry:            cfg.LLM.MaxRetry,
		AllowUngroundedChat: cfg.Cache.AllowUngroundedChat,
		MaxChunks:           cfg.Search.FinalTopK,
	}, logger)
	if err != nil {
		_ = meta.Close()
		return nil, err
	}

	ttl := time.Duration(cfg.Cache.TTLSeconds) * time.Second
	mem, err := cache.NewMemoryCache(cfg.Cache.MaxSize, ttl, cache.TTLMode(cfg.Cache.TTLMode))
	if err != nil {
		_ = meta.Close()
		return nil, err
	}
	persist, err := cache.NewPersistentCache(cache.PersistentConfig{
		Path:        filepath.Join(dataDir, cacheFileName),
		TTL:         ttl,
		TTLMode:     cache.TTLMode(cfg.Cache.TTLMode),
		MaxDBMB:     cfg.Cache.MaxDBMB,
		CleanupProb: cfg.Cache.CleanupProb,
	})
	if err != nil {
		_ = meta.Close()
		return nil, err
	}
	namespace := cache.Namespace(index.ReadVersionFile(dataDir), cfg.Hash())
	layer := cache.NewLayer(mem, persist, namespace, logger)

	ingester, err := ingest.NewIngester(meta, ingest.IngesterConfig{
		DocumentsRoot: cfg.Paths.DocumentsRoot,
		ExtractedDir:  cfg.Paths.ExtractedDir,
		MinTextLength: cfg.Search.MinTextLength,
	}, logger)
	if err != nil {
		_ = layer.Close()
		_ = meta.Close()
		return nil, err
	}

	s := &Service{
		cfg:        cfg,
		meta:       meta,
		embedder:   embedder,
		router:     search.NewRouter(search.DefaultRouterConfig(), logger),
		cacheLayer: layer,
		composer:   composer,
		ingester:   ingester,
		metrics:    telemetry.NewCollector(),
		llm:        llm,
		logger:     logger,
	}

	s.coordinator = index.NewCoordinator(index.CoordinatorConfig{
		DataDir:       dataDir,
		MinTextLength: cfg.Search.MinTextLength,
		ConfigHash:    cfg.Hash(),
		Backend:       store.BM25Backend(cfg.Search.BM25Backend),
		LockTimeout:   cfg.LockTimeout(),
		LockPoll:      cfg.LockPoll(),
	}, meta, embedder, logger,
		index.WithCache(layer),
		index.WithReload(s.reloadIndexes),
	)

	// Best effort: existing artifacts open now, otherwise the first query
	// or reindex takes care of it.
	s.mu.Lock()
	if err := s.openIndexesLocked(); err != nil {
		logger.Info("index_not_ready", slog.String("reason", err.Error()))
	}
	s.mu.Unlock()

	return s, nil
}

// reloadIndexes is the coordinator's post-reindex callback: the files
// were swapped underneath the old handles, so reopen everything.
func (s *Service) reloadIndexes(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openIndexesLocked()
}

// openIndexesLocked (re)opens the live index files and rebuilds the
// retriever on top of them. Caller holds s.mu.
func (s *Service) openIndexesLocked() error {
	if s.bm25 != nil {
		_ = s.bm25.Close()
		s.bm25 = nil
	}
	if s.vector != nil {
		_ = s.vector.Close()
		s.vector = nil
	}
	s.retriever = nil

	dataDir := s.cfg.Paths.DataDir
	backend := s.cfg.Search.BM25Backend
	lexPath := store.GetBM25IndexPath(dataDir, backend)
	vecPath := filepath.Join(dataDir, vectorFileName)
	if _, err := os.Stat(lexPath); err != nil {
		return aerr.New(aerr.ErrCodeIndexEmpty,
			"no search index found; run 'askdocs reindex'", err)
	}
	if _, err := os.Stat(vecPath); err != nil {
		return aerr.New(aerr.ErrCodeIndexEmpty,
			"no vector index found; run 'askdocs reindex'", err)
	}

	bm25, err := store.NewBM25IndexWithBackend(filepath.Join(dataDir, lexicalBaseName), backend)
	if err != nil {
		return err
	}
	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(s.embedder.Dimensions()))
	if err != nil {
		_ = bm25.Close()
		return err
	}
	if err := vector.Load(vecPath); err != nil {
		_ = bm25.Close()
		_ = vector.Close()
		var dimErr store.ErrDimensionMismatch
		if errors.As(err, &dimErr) {
			return aerr.New(aerr.ErrCodeDimensionChanged,
				"stored vector index does not match the configured embedder; run 'askdocs reindex --force'", err)
		}
		return err
	}

	retriever, err := search.NewHybridRetriever(bm25, vector, s.embedder, s.meta, search.RetrieverConfig{
		BM25TopK:         s.cfg.Search.BM25TopK,
		VecTopK:          s.cfg.Search.VecTopK,
		RRFK:             s.cfg.Search.RRFK,
		FinalTopK:        s.cfg.Search.FinalTopK,
		ValidateDrafters: s.cfg.Search.ValidateDrafters,
	}, s.logger)
	if err != nil {
		_ = bm25.Close()
		_ = vector.Close()
		return err
	}

	s.bm25, s.vector, s.retriever = bm25, vector, retriever
	s.coordinator.SetLiveIndexes(bm25, vector)
	return nil
}
