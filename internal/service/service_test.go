package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdocs/askdocs/internal/compose"
	"github.com/askdocs/askdocs/internal/config"
	aerr "github.com/askdocs/askdocs/internal/errors"
	"github.com/askdocs/askdocs/internal/store"
)

// fakeLLM replays a scripted response and counts calls.
type fakeLLM struct {
	mu       sync.Mutex
	response string
	calls    int
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.response, nil
}

func (f *fakeLLM) ModelName() string { return "fake" }

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type serviceFixture struct {
	svc *Service
	cfg *config.Config
	llm *fakeLLM
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	cfg := config.NewConfig()
	cfg.Paths.DocumentsRoot = t.TempDir()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Search.MinTextLength = 10
	require.NoError(t, cfg.Validate())
	require.NoError(t, os.MkdirAll(cfg.Paths.ExtractedDir, 0o755))

	svc, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	// Swap in a scripted LLM so tests never reach a real model server.
	llm := &fakeLLM{response: "관련 정보를 찾았습니다."}
	composer, err := compose.NewComposer(llm, compose.ComposerConfig{
		MaxRetry:  0,
		MaxChunks: cfg.Search.FinalTopK,
	}, nil)
	require.NoError(t, err)
	svc.composer = composer

	return &serviceFixture{svc: svc, cfg: cfg, llm: llm}
}

func (f *serviceFixture) writeExtracted(t *testing.T, pdfName, body string) {
	t.Helper()
	name := pdfName[:len(pdfName)-len(filepath.Ext(pdfName))] + ".txt"
	require.NoError(t, os.WriteFile(filepath.Join(f.cfg.Paths.ExtractedDir, name), []byte(body), 0o644))
}

func (f *serviceFixture) seedAndReindex(t *testing.T) {
	t.Helper()
	f.writeExtracted(t, "2024-10-24_중계차_보수건.pdf",
		"기안자: 남준수\n중계차 노후 장비 보수 공사의 건입니다.\nXRN-1620B2 레코더 교체 1,200,000원\n케이블 정리 300,000원\n합계: 1,500,000원")
	f.writeExtracted(t, "2024-09-01_운영회의.pdf",
		"참석자: 남준수, 김영희\n안건: 중계차 운영 일정\n결정사항: 10월 점검 진행")

	ingested, _, failed, err := f.svc.IngestAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, ingested)
	require.Zero(t, failed)

	_, err = f.svc.Reindex(context.Background(), false)
	require.NoError(t, err)
}

func TestQueryValidationSurfacesVerbatim(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Query(context.Background(), "   ", 0)
	require.Error(t, err)
	assert.Equal(t, aerr.ErrCodeQueryEmpty, aerr.GetCode(err))

	_, err = f.svc.Query(context.Background(), "중계차 보수", 51)
	require.Error(t, err)
	assert.Equal(t, aerr.ErrCodeTopKRange, aerr.GetCode(err))
}

func TestQueryEmptyIndexMapsToServiceError(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Query(context.Background(), "중계차 보수 내역", 0)
	require.Error(t, err)
	assert.Equal(t, aerr.ErrCodeInternal, aerr.GetCode(err))
	assert.Contains(t, err.Error(), "service error")
}

func TestQueryEndToEnd(t *testing.T) {
	f := newServiceFixture(t)
	f.seedAndReindex(t)
	f.llm.response = "보수 공사 합계는 1,500,000원입니다. [2024-10-24_중계차_보수건.pdf]"

	result, err := f.svc.Query(context.Background(), "중계차 보수 공사 비용 합계는 얼마였지?", 0)
	require.NoError(t, err)

	assert.False(t, result.CacheHit)
	assert.Equal(t, "COST", result.Mode)
	assert.Contains(t, result.Answer, "1,500,000원")
	assert.Contains(t, result.SourcesCited, "2024-10-24_중계차_보수건.pdf")
	assert.True(t, result.HasProperCitation)
	assert.NotEmpty(t, result.SourceDocs)
	assert.Equal(t, "2024-10-24_중계차_보수건.pdf", result.SourceDocs[0].Filename)
	assert.Equal(t, int64(1500000), result.SourceDocs[0].ClaimedTotal)
	assert.NotEmpty(t, result.ReqID)
	assert.Greater(t, result.Confidence, 0.0)
}

func TestQuerySecondCallHitsCache(t *testing.T) {
	f := newServiceFixture(t)
	f.seedAndReindex(t)
	f.llm.response = "보수 합계는 1,500,000원입니다. [2024-10-24_중계차_보수건.pdf]"

	first, err := f.svc.Query(context.Background(), "중계차 보수 비용 합계 얼마?", 0)
	require.NoError(t, err)
	require.False(t, first.CacheHit)
	calls := f.llm.callCount()

	second, err := f.svc.Query(context.Background(), "중계차 보수 비용 합계 얼마?", 0)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, calls, f.llm.callCount(), "cache hit must not call the model")
}

func TestIngestIncrementalUpdatesLiveIndexes(t *testing.T) {
	f := newServiceFixture(t)
	f.seedAndReindex(t)

	retriever, err := f.svc.Retriever()
	require.NoError(t, err)
	before := retriever.Stats()
	require.Equal(t, 2, before.LexicalCount)
	require.Equal(t, 2, before.VectorCount)

	f.writeExtracted(t, "2024-11-05_소모품_구매.pdf",
		"기안자: 김영희\n사무용 소모품 구매의 건\n프린터 토너 5개 400,000원\n합계: 400,000원")
	result, err := f.svc.Ingest(context.Background(),
		filepath.Join(f.cfg.Paths.ExtractedDir, "2024-11-05_소모품_구매.txt"))
	require.NoError(t, err)
	assert.True(t, result.Updated)

	after := retriever.Stats()
	assert.Equal(t, 3, after.LexicalCount)
	assert.Equal(t, 3, after.VectorCount)

	// Unchanged re-ingest is a no-op.
	again, err := f.svc.Ingest(context.Background(),
		filepath.Join(f.cfg.Paths.ExtractedDir, "2024-11-05_소모품_구매.txt"))
	require.NoError(t, err)
	assert.False(t, again.Updated)
	assert.Equal(t, result.DocID, again.DocID)
}

func TestIngestEscapeRejectedVerbatim(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Ingest(context.Background(), "../../etc/passwd.txt")
	require.Error(t, err)
	assert.Equal(t, aerr.ErrCodePathEscape, aerr.GetCode(err))
}

func TestMetricsReport(t *testing.T) {
	f := newServiceFixture(t)

	empty, err := f.svc.Metrics(context.Background())
	require.NoError(t, err)
	assert.Zero(t, empty.Documents)
	assert.Zero(t, empty.LexicalCount)
	assert.False(t, empty.Reindexing)
	assert.Empty(t, empty.IndexVersion)

	f.seedAndReindex(t)
	f.llm.response = "회의 결정사항입니다. [2024-09-01_운영회의.pdf]"
	_, err = f.svc.Query(context.Background(), "운영회의 결정사항 알려줘", 0)
	require.NoError(t, err)

	report, err := f.svc.Metrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Documents)
	assert.Equal(t, 2, report.LexicalCount)
	assert.Equal(t, 2, report.VectorCount)
	assert.Zero(t, report.StaleIndexCount)
	assert.NotEmpty(t, report.IndexVersion)
	assert.False(t, report.LastFullReindex.IsZero())
	assert.Equal(t, int64(1), report.QueryTelemetry.TotalQueries)

	// A deleted row leaves an id gap that the index still carries until
	// the next full reindex.
	require.NoError(t, f.svc.Metadata().Delete(context.Background(), 1))
	report, err = f.svc.Metrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Documents)
	assert.Equal(t, 1, report.StaleIndexCount)
}

func TestOpenIndexesRejectsChangedEmbedderDimensions(t *testing.T) {
	f := newServiceFixture(t)
	f.seedAndReindex(t)
	require.NoError(t, f.svc.Close())

	// Overwrite the vector artifact with one written at a different
	// dimension, as a swapped-out embedder would have.
	small, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(4))
	require.NoError(t, err)
	require.NoError(t, small.Add(context.Background(), []string{"doc_1"}, [][]float32{{1, 0, 0, 0}}))
	require.NoError(t, small.Save(filepath.Join(f.cfg.Paths.DataDir, vectorFileName)))
	require.NoError(t, small.Close())

	// The stale index must be refused when the indexes open, not
	// degraded to lexical-only per query.
	svc, err := Open(context.Background(), f.cfg, nil)
	require.NoError(t, err)
	defer svc.Close()

	_, err = svc.Retriever()
	require.Error(t, err)
	assert.Equal(t, aerr.ErrCodeDimensionChanged, aerr.GetCode(err))
	assert.Contains(t, err.Error(), "reindex --force")
}

func TestReindexRefusedWithoutDocuments(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Reindex(context.Background(), false)
	require.Error(t, err)
	assert.Equal(t, aerr.ErrCodeInternal, aerr.GetCode(err), "mapped to a service error")
}

func TestQueryModeRecordedPerQuery(t *testing.T) {
	f := newServiceFixture(t)
	f.seedAndReindex(t)

	queries := []struct {
		text string
		mode string
	}{
		{"소모품 구매 비용 합계는 얼마?", "COST"},
		{"2024년 남준수가 작성한 문서 찾아줘", "SEARCH"},
		{"중계차 장비 교체 이력이 궁금해", "QA"},
	}
	for i, q := range queries {
		f.llm.response = fmt.Sprintf("답변 %d [2024-10-24_중계차_보수건.pdf]", i)
		result, err := f.svc.Query(context.Background(), q.text, 0)
		require.NoError(t, err, "query %q", q.text)
		assert.Equal(t, q.mode, result.Mode, "query %q", q.text)
	}
}
