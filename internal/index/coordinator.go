package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/askdocs/askdocs/internal/cache"
	"github.com/askdocs/askdocs/internal/embed"
	aerr "github.com/askdocs/askdocs/internal/errors"
	"github.com/askdocs/askdocs/internal/store"
)

// embedBatchSize caps how many augmented texts go to the embedder at once.
const embedBatchSize = 64

// CoordinatorConfig configures the reindex coordinator.
type CoordinatorConfig struct {
	// DataDir holds the index files, the version file, and the lock.
	DataDir string
	// MinTextLength excludes documents with shorter extracted text.
	MinTextLength int
	// ConfigHash is the retrieval config hash baked into the version.
	ConfigHash string
	// Backend selects the lexical engine for rebuilt indexes.
	Backend store.BM25Backend
	// LockTimeout / LockPoll tune lock acquisition.
	LockTimeout time.Duration
	LockPoll    time.Duration
}

// Coordinator serializes index rebuilds behind the on-disk reindex lock.
// Full rebuilds write to temp files and atomically swap them over the
// live index, so readers on the old file handles are never interrupted.
type Coordinator struct {
	cfg      CoordinatorConfig
	meta     store.MetadataStore
	embedder embed.Embedder
	lock     *ReindexLock
	logger   *slog.Logger

	// Optional collaborators.
	cacheLayer *cache.Layer
	// bm25/vector are the live handles used for incremental upserts.
	bm25   store.BM25Index
	vector store.VectorStore
	// reload lets the owning service swap its live handles after a full
	// rebuild replaced the files underneath them.
	reload func(ctx context.Context) error
	// progress receives rebuild progress for UI rendering.
	progress ProgressFunc
}

// ProgressFunc receives rebuild progress. Stage is one of "scan",
// "embed", "publish"; current and total count documents within the
// stage, file is the last document of the reported batch.
type ProgressFunc func(stage string, current, total int, file string)

// CoordinatorOption configures optional collaborators.
type CoordinatorOption func(*Coordinator)

// WithCache attaches the answer cache for namespace invalidation.
func WithCache(layer *cache.Layer) CoordinatorOption {
	return func(c *Coordinator) { c.cacheLayer = layer }
}

// WithLiveIndexes attaches the live index handles for incremental upserts.
func WithLiveIndexes(bm25 store.BM25Index, vector store.VectorStore) CoordinatorOption {
	return func(c *Coordinator) { c.bm25, c.vector = bm25, vector }
}

// WithReload sets the callback invoked after a full rebuild swapped files.
func WithReload(fn func(ctx context.Context) error) CoordinatorOption {
	return func(c *Coordinator) { c.reload = fn }
}

// WithProgress sets the rebuild progress callback.
func WithProgress(fn ProgressFunc) CoordinatorOption {
	return func(c *Coordinator) { c.progress = fn }
}

// NewCoordinator builds the coordinator.
func NewCoordinator(cfg CoordinatorConfig, meta store.MetadataStore, embedder embed.Embedder, logger *slog.Logger, opts ...CoordinatorOption) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		cfg:      cfg,
		meta:     meta,
		embedder: embedder,
		lock:     NewReindexLock(filepath.Join(cfg.DataDir, LockFileName)),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lock exposes the shared reindex lock for "in progress" checks.
func (c *Coordinator) Lock() *ReindexLock { return c.lock }

// SetProgress replaces the rebuild progress callback. Set it before
// starting a reindex.
func (c *Coordinator) SetProgress(fn ProgressFunc) { c.progress = fn }

// SetLiveIndexes replaces the handles used for incremental upserts. The
// owning service calls this from its reload callback after a full
// rebuild swapped the index files.
func (c *Coordinator) SetLiveIndexes(bm25 store.BM25Index, vector store.VectorStore) {
	c.bm25, c.vector = bm25, vector
}

// ReindexResult summarizes a completed rebuild.
type ReindexResult struct {
	Version   string        `json:"version"`
	Documents int           `json:"documents"`
	Duration  time.Duration `json:"duration"`
}

// AugmentText builds the indexed representation of a document: filename
// keywords, title, drafter, category, and date are prepended so short
// metadata-only queries still hit, followed by the body text.
func AugmentText(doc *store.Document) string {
	var b strings.Builder
	name := strings.TrimSuffix(doc.Filename, filepath.Ext(doc.Filename))
	b.WriteString(strings.NewReplacer("_", " ", "-", " ").Replace(name))
	b.WriteString("\n")
	if doc.Title != "" {
		b.WriteString(doc.Title)
		b.WriteString("\n")
	}
	if doc.Drafter != "" {
		b.WriteString("기안자 " + doc.Drafter + " 작성자 " + doc.Drafter)
		b.WriteString("\n")
	}
	if doc.DocType != "" && doc.DocType != store.DocTypeUnknown {
		b.WriteString(string(doc.DocType))
		b.WriteString("\n")
	}
	if doc.Date != "" {
		b.WriteString(doc.Date)
		if doc.Year > 0 {
			b.WriteString(fmt.Sprintf(" %d년", doc.Year))
		}
		b.WriteString("\n")
	}
	b.WriteString(doc.TextPreview)
	return b.String()
}

// FullReindex rebuilds both indexes from the metadata store.
//
// Protocol: acquire the lock, optionally drop the old files (force),
// build temp index files, swap them over the live files, bump the index
// version, record the reindex time, invalidate the previous cache
// namespace, release the lock.
func (c *Coordinator) FullReindex(ctx context.Context, force bool) (*ReindexResult, error) {
	start := time.Now()

	release, err := c.lock.Acquire(c.cfg.LockTimeout, c.cfg.LockPoll)
	if err != nil {
		return nil, err
	}
	defer release()

	oldVersion := ReadVersionFile(c.cfg.DataDir)

	c.notify("scan", 0, 0, "")
	docs, err := c.meta.List(ctx, 0, 0, c.cfg.MinTextLength)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, aerr.New(aerr.ErrCodeIndexEmpty, "no documents with sufficient text to index", nil)
	}
	c.notify("scan", len(docs), len(docs), "")

	tmpDir := filepath.Join(c.cfg.DataDir, "reindex-tmp")
	if err := os.RemoveAll(tmpDir); err != nil {
		return nil, aerr.New(aerr.ErrCodeStoreWrite, "failed to clear reindex temp dir", err)
	}
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, aerr.New(aerr.ErrCodeStoreWrite, "failed to create reindex temp dir", err)
	}
	defer os.RemoveAll(tmpDir)

	tmpLexBase := filepath.Join(tmpDir, "lexical")
	tmpVecPath := filepath.Join(tmpDir, "vectors.hnsw")

	if err := c.buildIndexes(ctx, docs, tmpLexBase, tmpVecPath); err != nil {
		return nil, err
	}

	c.notify("publish", 0, 0, "")
	if force {
		// Dimension or backend changes leave incompatible files behind;
		// drop every live index file instead of renaming over them.
		c.logger.Info("reindex_dropping_old_files")
		if err := c.dropLiveIndexes(); err != nil {
			return nil, err
		}
	}
	if err := c.swapIndexFiles(tmpLexBase, tmpVecPath); err != nil {
		return nil, err
	}

	version := NewIndexVersion(time.Now(), c.cfg.ConfigHash)
	if err := WriteVersionFile(c.cfg.DataDir, version); err != nil {
		return nil, aerr.New(aerr.ErrCodeStoreWrite, "failed to write index version", err)
	}
	if err := c.recordState(ctx, version, true); err != nil {
		return nil, err
	}
	if err := WriteLastReindexFile(c.cfg.DataDir, time.Now()); err != nil {
		c.logger.Warn("last_reindex_record_failed", slog.String("error", err.Error()))
	}

	c.invalidateCache(oldVersion, version)

	if c.reload != nil {
		if err := c.reload(ctx); err != nil {
			return nil, fmt.Errorf("index reload after reindex: %w", err)
		}
	}

	result := &ReindexResult{Version: version, Documents: len(docs), Duration: time.Since(start)}
	c.logger.Info("full_reindex_done",
		slog.String("version", version),
		slog.Int("documents", result.Documents),
		slog.Duration("duration", result.Duration))
	return result, nil
}

// notify reports progress when a callback is attached.
func (c *Coordinator) notify(stage string, current, total int, file string) {
	if c.progress != nil {
		c.progress(stage, current, total, file)
	}
}

// buildIndexes writes fresh lexical and vector indexes to temp paths.
func (c *Coordinator) buildIndexes(ctx context.Context, docs []*store.Document, lexBase, vecPath string) error {
	bm25, err := store.NewBM25IndexWithBackend(lexBase, string(c.cfg.Backend))
	if err != nil {
		return err
	}
	defer bm25.Close()

	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(c.embedder.Dimensions()))
	if err != nil {
		return err
	}
	defer vector.Close()

	for offset := 0; offset < len(docs); offset += embedBatchSize {
		end := offset + embedBatchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[offset:end]

		ids := make([]string, len(batch))
		texts := make([]string, len(batch))
		lexDocs := make([]*store.LexicalDoc, len(batch))
		for i, doc := range batch {
			ids[i] = doc.DocID()
			texts[i] = AugmentText(doc)
			lexDocs[i] = &store.LexicalDoc{ID: ids[i], Content: texts[i]}
		}

		vectors, err := c.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return aerr.New(aerr.ErrCodeEmbedFailed, "embedding batch failed during reindex", err)
		}
		if err := bm25.Index(ctx, lexDocs); err != nil {
			return err
		}
		if err := vector.Add(ctx, ids, vectors); err != nil {
			return err
		}

		c.notify("embed", end, len(docs), batch[len(batch)-1].Filename)
		c.logger.Debug("reindex_batch_done",
			slog.Int("indexed", end),
			slog.Int("total", len(docs)))
	}

	if err := bm25.Save(lexBase); err != nil {
		return err
	}
	return vector.Save(vecPath)
}

// dropLiveIndexes removes every live index file, both backends' lexical
// files included.
func (c *Coordinator) dropLiveIndexes() error {
	vecPath := filepath.Join(c.cfg.DataDir, "vectors.hnsw")
	targets := []string{
		store.GetBM25IndexPath(c.cfg.DataDir, string(store.BM25BackendSQLite)),
		store.GetBM25IndexPath(c.cfg.DataDir, string(store.BM25BackendBleve)),
		vecPath,
		vecPath + ".meta",
	}
	for _, path := range targets {
		if err := os.RemoveAll(path); err != nil {
			return aerr.New(aerr.ErrCodeStoreWrite,
				fmt.Sprintf("failed to drop index file %s", filepath.Base(path)), err)
		}
		_ = os.Remove(path + "-wal")
		_ = os.Remove(path + "-shm")
	}
	return nil
}

// swapIndexFiles moves the freshly built files over the live ones. Open
// readers keep their old inodes until the service reloads.
func (c *Coordinator) swapIndexFiles(tmpLexBase, tmpVecPath string) error {
	liveLexPath := store.GetBM25IndexPath(c.cfg.DataDir, string(c.cfg.Backend))
	liveVecPath := filepath.Join(c.cfg.DataDir, "vectors.hnsw")

	ext := ".db"
	if c.cfg.Backend == store.BM25BackendBleve {
		ext = ".bleve"
	}

	swaps := [][2]string{
		{tmpLexBase + ext, liveLexPath},
		{tmpVecPath, liveVecPath},
		{tmpVecPath + ".meta", liveVecPath + ".meta"},
	}
	for _, pair := range swaps {
		if err := swapPath(pair[0], pair[1]); err != nil {
			return aerr.New(aerr.ErrCodeStoreWrite,
				fmt.Sprintf("failed to publish index file %s", filepath.Base(pair[1])), err)
		}
	}
	// SQLite sidecars of the replaced live index are stale now.
	_ = os.Remove(liveLexPath + "-wal")
	_ = os.Remove(liveLexPath + "-shm")
	return nil
}

// swapPath renames src over dst, parking the old dst first so directory
// targets (bleve) swap too.
func swapPath(src, dst string) error {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}
	old := dst + ".old"
	_ = os.RemoveAll(old)
	if err := os.Rename(dst, old); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		// Roll the old file back into place.
		_ = os.Rename(old, dst)
		return err
	}
	return os.RemoveAll(old)
}

// recordState persists version and embedder facts used by parity and
// dimension checks.
func (c *Coordinator) recordState(ctx context.Context, version string, full bool) error {
	if err := c.meta.SetState(ctx, store.StateKeyIndexVersion, version); err != nil {
		return err
	}
	if err := c.meta.SetState(ctx, store.StateKeyIndexDimension, strconv.Itoa(c.embedder.Dimensions())); err != nil {
		return err
	}
	if err := c.meta.SetState(ctx, store.StateKeyIndexModel, c.embedder.ModelName()); err != nil {
		return err
	}
	if full {
		return c.meta.SetState(ctx, store.StateKeyLastFullReindex, time.Now().UTC().Format(time.RFC3339))
	}
	return nil
}

// invalidateCache moves the cache to the new namespace and deletes the
// old namespace's persistent entries.
func (c *Coordinator) invalidateCache(oldVersion, newVersion string) {
	if c.cacheLayer == nil {
		return
	}
	c.cacheLayer.SetNamespace(cache.Namespace(newVersion, c.cfg.ConfigHash))
	if oldVersion == "" {
		return
	}
	oldNS := cache.Namespace(oldVersion, c.cfg.ConfigHash)
	if err := c.cacheLayer.InvalidatePrefix(oldNS); err != nil {
		c.logger.Warn("cache_invalidation_failed",
			slog.String("namespace", oldNS),
			slog.String("error", err.Error()))
	}
}

// UpsertDocument incrementally indexes one document into the live
// handles. It takes the same lock as a full reindex but skips the drop
// and cache-invalidation steps; the version bump alone moves the cache
// namespace.
func (c *Coordinator) UpsertDocument(ctx context.Context, doc *store.Document) error {
	if c.bm25 == nil || c.vector == nil {
		return aerr.New(aerr.ErrCodeInternal, "incremental upsert requires live index handles", nil)
	}

	release, err := c.lock.Acquire(c.cfg.LockTimeout, c.cfg.LockPoll)
	if err != nil {
		return err
	}
	defer release()

	text := AugmentText(doc)
	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return aerr.New(aerr.ErrCodeEmbedFailed,
			fmt.Sprintf("embedding failed for %s", doc.Filename), err)
	}

	docID := doc.DocID()
	if err := c.bm25.Index(ctx, []*store.LexicalDoc{{ID: docID, Content: text}}); err != nil {
		return err
	}
	if err := c.vector.Add(ctx, []string{docID}, [][]float32{vec}); err != nil {
		return err
	}

	version := NewIndexVersion(time.Now(), c.cfg.ConfigHash)
	if err := WriteVersionFile(c.cfg.DataDir, version); err != nil {
		return aerr.New(aerr.ErrCodeStoreWrite, "failed to write index version", err)
	}
	if err := c.recordState(ctx, version, false); err != nil {
		return err
	}
	if c.cacheLayer != nil {
		c.cacheLayer.SetNamespace(cache.Namespace(version, c.cfg.ConfigHash))
	}

	c.logger.Info("document_indexed",
		slog.String("doc_id", docID),
		slog.String("filename", doc.Filename))
	return nil
}
