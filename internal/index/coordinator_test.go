package index

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdocs/askdocs/internal/cache"
	"github.com/askdocs/askdocs/internal/embed"
	aerr "github.com/askdocs/askdocs/internal/errors"
	"github.com/askdocs/askdocs/internal/store"
)

type coordinatorFixture struct {
	dir      string
	meta     *store.SQLiteMetadataStore
	embedder *embed.StaticEmbedder
	coord    *Coordinator
}

func newCoordinatorFixture(t *testing.T, opts ...CoordinatorOption) *coordinatorFixture {
	t.Helper()

	dir := t.TempDir()
	meta, err := store.NewSQLiteMetadataStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	embedder := embed.NewStaticEmbedder()
	cfg := CoordinatorConfig{
		DataDir:       dir,
		MinTextLength: 10,
		ConfigHash:    "ab12cd34",
		Backend:       store.BM25BackendSQLite,
		LockTimeout:   500 * time.Millisecond,
		LockPoll:      10 * time.Millisecond,
	}
	return &coordinatorFixture{
		dir:      dir,
		meta:     meta,
		embedder: embedder,
		coord:    NewCoordinator(cfg, meta, embedder, nil, opts...),
	}
}

func (f *coordinatorFixture) seed(t *testing.T, filenames ...string) {
	t.Helper()
	for i, name := range filenames {
		_, err := f.meta.Upsert(context.Background(), &store.Document{
			Filename:    name,
			Path:        "/docs/" + name,
			Title:       "문서 " + name,
			Drafter:     "남준수",
			Date:        "2024-10-24",
			Year:        2024,
			Month:       10,
			DocType:     store.DocTypeRepair,
			TextPreview: fmt.Sprintf("중계차 노후 장비 보수 관련 문서 %d번입니다. 합계 금액 포함.", i+1),
		})
		require.NoError(t, err)
	}
}

func (f *coordinatorFixture) openBuiltIndexes(t *testing.T) (store.BM25Index, store.VectorStore) {
	t.Helper()

	bm25, err := store.NewSQLiteBM25Index(store.GetBM25IndexPath(f.dir, string(store.BM25BackendSQLite)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bm25.Close() })

	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(f.embedder.Dimensions()))
	require.NoError(t, err)
	require.NoError(t, vector.Load(filepath.Join(f.dir, "vectors.hnsw")))
	t.Cleanup(func() { _ = vector.Close() })

	return bm25, vector
}

func TestFullReindexBuildsBothIndexes(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.seed(t, "a.pdf", "b.pdf", "c.pdf")

	result, err := f.coord.FullReindex(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Documents)
	assert.NotEmpty(t, result.Version)
	assert.Equal(t, result.Version, ReadVersionFile(f.dir))
	assert.False(t, ReadLastReindexFile(f.dir).IsZero())

	bm25, vector := f.openBuiltIndexes(t)
	ids, err := bm25.AllIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"doc_1", "doc_2", "doc_3"}, ids)
	assert.Equal(t, 3, vector.Count())

	// Both indexes agree with the metadata store afterwards.
	checker := NewParityChecker(f.meta, bm25, vector, 10, nil)
	parity, err := checker.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, parity.Consistent(), "issues: %v", parity.Issues)

	ok, err := checker.QuickCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	version, err := f.meta.GetState(context.Background(), store.StateKeyIndexVersion)
	require.NoError(t, err)
	assert.Equal(t, result.Version, version)

	assert.False(t, f.coord.Lock().IsLocked(), "lock released after reindex")
}

func TestDocIDStableAcrossReindex(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.seed(t, "2024-10-24_보수건.pdf", "2024-10-25_조명.pdf")

	_, err := f.coord.FullReindex(context.Background(), false)
	require.NoError(t, err)

	before, err := f.meta.GetByFilename(context.Background(), "2024-10-24_보수건.pdf")
	require.NoError(t, err)
	require.NotNil(t, before)

	// Re-ingest the same file with new content, then rebuild.
	_, err = f.meta.Upsert(context.Background(), &store.Document{
		Filename:    "2024-10-24_보수건.pdf",
		Path:        "/docs/2024-10-24_보수건.pdf",
		Title:       "보수건 개정판",
		TextPreview: "개정된 본문입니다. 내용이 완전히 바뀌었습니다.",
	})
	require.NoError(t, err)

	_, err = f.coord.FullReindex(context.Background(), false)
	require.NoError(t, err)

	after, err := f.meta.GetByFilename(context.Background(), "2024-10-24_보수건.pdf")
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, before.ID, after.ID, "same filename keeps its doc id across reindexes")

	bm25, vector := f.openBuiltIndexes(t)
	ids, err := bm25.AllIDs()
	require.NoError(t, err)
	assert.Contains(t, ids, store.FormatDocID(before.ID))
	assert.True(t, vector.Contains(store.FormatDocID(before.ID)))
}

func TestFullReindexEmptyStore(t *testing.T) {
	f := newCoordinatorFixture(t)

	_, err := f.coord.FullReindex(context.Background(), false)
	require.Error(t, err)
	assert.Equal(t, aerr.ErrCodeIndexEmpty, aerr.GetCode(err))
	assert.False(t, f.coord.Lock().IsLocked())
}

func TestFullReindexRefusedWhileLocked(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.seed(t, "a.pdf")

	ok, err := f.coord.Lock().TryAcquire()
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.coord.FullReindex(context.Background(), false)
	require.Error(t, err)
	assert.Equal(t, aerr.ErrCodeReindexLocked, aerr.GetCode(err))
}

func TestFullReindexRotatesCacheNamespace(t *testing.T) {
	mem, err := cache.NewMemoryCache(100, time.Hour, cache.TTLSliding)
	require.NoError(t, err)
	layer := cache.NewLayer(mem, nil, cache.Namespace("bootstrap", "ab12cd34"), nil)

	f := newCoordinatorFixture(t, WithCache(layer))
	f.seed(t, "a.pdf")

	first, err := f.coord.FullReindex(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, cache.Namespace(first.Version, "ab12cd34"), layer.Namespace())

	// A cached answer from this index generation...
	key := layer.KeyFor("보수 합계 얼마였지?", "COST", time.Now())
	layer.Set(key, []byte("cached answer"))

	second, err := f.coord.FullReindex(context.Background(), false)
	require.NoError(t, err)
	assert.NotEqual(t, first.Version, second.Version)
	assert.Equal(t, cache.Namespace(second.Version, "ab12cd34"), layer.Namespace())

	// ...is unreachable after the rebuild.
	_, ok := layer.Get(key)
	assert.False(t, ok)
	newKey := layer.KeyFor("보수 합계 얼마였지?", "COST", time.Now())
	assert.NotEqual(t, key, newKey)
}

func TestUpsertDocumentIncremental(t *testing.T) {
	bm25, err := store.NewSQLiteBM25Index("")
	require.NoError(t, err)
	defer bm25.Close()
	embedder := embed.NewStaticEmbedder()
	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	require.NoError(t, err)
	defer vector.Close()

	f := newCoordinatorFixture(t, WithLiveIndexes(bm25, vector))

	id, err := f.meta.Upsert(context.Background(), &store.Document{
		Filename:    "2024-10-24_신규.pdf",
		Path:        "/docs/2024-10-24_신규.pdf",
		Title:       "신규 문서",
		Drafter:     "김철수",
		TextPreview: "새로 들어온 문서 본문입니다.",
	})
	require.NoError(t, err)
	doc, err := f.meta.Get(context.Background(), id)
	require.NoError(t, err)

	require.NoError(t, f.coord.UpsertDocument(context.Background(), doc))

	docID := store.FormatDocID(id)
	ids, err := bm25.AllIDs()
	require.NoError(t, err)
	assert.Contains(t, ids, docID)
	assert.True(t, vector.Contains(docID))
	assert.NotEmpty(t, ReadVersionFile(f.dir))
	// Incremental indexing never claims a full rebuild happened.
	assert.True(t, ReadLastReindexFile(f.dir).IsZero())
	assert.False(t, f.coord.Lock().IsLocked())
}

func TestUpsertDocumentRequiresLiveHandles(t *testing.T) {
	f := newCoordinatorFixture(t)
	err := f.coord.UpsertDocument(context.Background(), &store.Document{ID: 1, Filename: "a.pdf"})
	require.Error(t, err)
	assert.Equal(t, aerr.ErrCodeInternal, aerr.GetCode(err))
}

func TestAugmentText(t *testing.T) {
	doc := &store.Document{
		Filename:    "2024-10-24_채널에이_중계차_보수건.pdf",
		Title:       "중계차 노후 장비 보수",
		Drafter:     "남준수",
		Date:        "2024-10-24",
		Year:        2024,
		DocType:     store.DocTypeRepair,
		TextPreview: "본문 텍스트",
	}
	text := AugmentText(doc)

	// Filename keywords are searchable without separators.
	assert.Contains(t, text, "채널에이 중계차 보수건")
	assert.NotContains(t, text, ".pdf")
	// Both drafter labels are present so either query form matches.
	assert.Contains(t, text, "기안자 남준수")
	assert.Contains(t, text, "작성자 남준수")
	assert.Contains(t, text, "2024년")
	assert.Contains(t, text, "본문 텍스트")
}

func TestAugmentTextMinimalDocument(t *testing.T) {
	text := AugmentText(&store.Document{
		Filename:    "메모.pdf",
		TextPreview: "본문",
	})
	assert.Contains(t, text, "메모")
	assert.Contains(t, text, "본문")
	assert.NotContains(t, text, "기안자")
}

func TestFullReindexReportsProgress(t *testing.T) {
	type step struct {
		stage   string
		current int
		total   int
	}
	var steps []step

	f := newCoordinatorFixture(t, WithProgress(func(stage string, current, total int, file string) {
		steps = append(steps, step{stage, current, total})
	}))
	f.seed(t, "a.pdf", "b.pdf", "c.pdf")

	_, err := f.coord.FullReindex(context.Background(), false)
	require.NoError(t, err)

	require.NotEmpty(t, steps)
	assert.Equal(t, step{"scan", 0, 0}, steps[0])
	assert.Contains(t, steps, step{"scan", 3, 3})
	assert.Contains(t, steps, step{"embed", 3, 3})
	assert.Equal(t, "publish", steps[len(steps)-1].stage)
}
