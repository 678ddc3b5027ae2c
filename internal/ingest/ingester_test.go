package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aerr "github.com/askdocs/askdocs/internal/errors"
	"github.com/askdocs/askdocs/internal/store"
)

type ingestFixture struct {
	root      string
	extracted string
	meta      *store.SQLiteMetadataStore
	ing       *Ingester
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()

	root := t.TempDir()
	extracted := filepath.Join(root, ExtractedDirName)
	require.NoError(t, os.MkdirAll(extracted, 0o755))

	meta, err := store.NewSQLiteMetadataStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	ing, err := NewIngester(meta, IngesterConfig{
		DocumentsRoot: root,
		MinTextLength: 10,
	}, nil)
	require.NoError(t, err)

	return &ingestFixture{root: root, extracted: extracted, meta: meta, ing: ing}
}

func (f *ingestFixture) writeExtracted(t *testing.T, pdfName, body string) string {
	t.Helper()
	name := pdfName[:len(pdfName)-len(filepath.Ext(pdfName))] + ".txt"
	path := filepath.Join(f.extracted, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const repairBody = `기안자: 남준수
기안부서: 기술관리팀
중계차 노후 장비 보수 공사의 건입니다.
XRN-1620B2 레코더 교체 1,200,000원
케이블 정리 300,000원
합계: 1,500,000원`

func TestIngestFileBuildsDocument(t *testing.T) {
	f := newIngestFixture(t)
	txt := f.writeExtracted(t, "2024-10-24_채널에이_중계차_노후_보수건.pdf", repairBody)

	result, err := f.ing.IngestFile(context.Background(), txt)
	require.NoError(t, err)
	assert.True(t, result.Updated)

	doc, err := f.meta.Get(context.Background(), result.DocID)
	require.NoError(t, err)
	require.NotNil(t, doc)

	assert.Equal(t, "2024-10-24_채널에이_중계차_노후_보수건.pdf", doc.Filename)
	assert.Equal(t, filepath.Join(f.root, doc.Filename), doc.Path)
	assert.Equal(t, "채널에이 중계차 노후 보수건", doc.Title)
	assert.Equal(t, "2024-10-24", doc.Date)
	assert.Equal(t, 2024, doc.Year)
	assert.Equal(t, 10, doc.Month)
	assert.Equal(t, "남준수", doc.Drafter)
	assert.Equal(t, "기술관리팀", doc.Department)
	assert.Equal(t, store.DocTypeRepair, doc.DocType)
	assert.Equal(t, int64(1500000), doc.ClaimedTotal)
	assert.Equal(t, store.TriStateTrue, doc.SumMatch)
	assert.False(t, doc.Stale)
	assert.NotEmpty(t, doc.ContentHash)
}

func TestIngestFileExtractsCodes(t *testing.T) {
	f := newIngestFixture(t)
	txt := f.writeExtracted(t, "2024-10-24_보수건.pdf", repairBody)

	result, err := f.ing.IngestFile(context.Background(), txt)
	require.NoError(t, err)

	matches, err := f.meta.MatchCodes(context.Background(), []string{"XRN1620B2"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, result.DocID, matches[0].DocID)
}

func TestIngestFileUnchangedContent(t *testing.T) {
	f := newIngestFixture(t)
	txt := f.writeExtracted(t, "2024-10-24_보수건.pdf", repairBody)

	first, err := f.ing.IngestFile(context.Background(), txt)
	require.NoError(t, err)
	require.True(t, first.Updated)

	second, err := f.ing.IngestFile(context.Background(), txt)
	require.NoError(t, err)
	assert.False(t, second.Updated)
	assert.Equal(t, first.DocID, second.DocID)

	// Changed content re-ingests under the same id.
	f.writeExtracted(t, "2024-10-24_보수건.pdf", repairBody+"\n추가 내역 50,000원")
	third, err := f.ing.IngestFile(context.Background(), txt)
	require.NoError(t, err)
	assert.True(t, third.Updated)
	assert.Equal(t, first.DocID, third.DocID)
}

func TestIngestFileDuplicateContentAcrossFilenames(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	original := f.writeExtracted(t, "2024-10-24_보수건.pdf", repairBody)
	first, err := f.ing.IngestFile(ctx, original)
	require.NoError(t, err)
	require.True(t, first.Updated)

	// Same body under a different name: skipped, recorded against the
	// original, and never stored as a second row.
	copied := f.writeExtracted(t, "2024-10-24_보수건_사본.pdf", repairBody)
	second, err := f.ing.IngestFile(ctx, copied)
	require.NoError(t, err)
	assert.False(t, second.Updated)
	assert.Equal(t, first.DocID, second.DocID)
	assert.Equal(t, "2024-10-24_보수건.pdf", second.DuplicateOf)

	count, err := f.meta.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	dup, err := f.meta.GetByFilename(ctx, "2024-10-24_보수건_사본.pdf")
	require.NoError(t, err)
	assert.Nil(t, dup)
}

func TestIngestFileAcceptsPDFPath(t *testing.T) {
	f := newIngestFixture(t)
	f.writeExtracted(t, "2024-10-24_보수건.pdf", repairBody)

	result, err := f.ing.IngestFile(context.Background(),
		filepath.Join(f.root, "2024-10-24_보수건.pdf"))
	require.NoError(t, err)
	assert.True(t, result.Updated)
	assert.Equal(t, "2024-10-24_보수건.pdf", result.Filename)
}

func TestIngestFileMissingText(t *testing.T) {
	f := newIngestFixture(t)

	_, err := f.ing.IngestFile(context.Background(), filepath.Join(f.root, "없는문서.pdf"))
	require.Error(t, err)
	assert.Equal(t, aerr.ErrCodeStoreRead, aerr.GetCode(err))
}

func TestIngestFileRejectsEscape(t *testing.T) {
	f := newIngestFixture(t)

	_, err := f.ing.IngestFile(context.Background(), "../../etc/passwd.txt")
	require.Error(t, err)
	assert.Equal(t, aerr.ErrCodePathEscape, aerr.GetCode(err))
}

func TestIngestFileShortBodyMarkedStale(t *testing.T) {
	f := newIngestFixture(t)
	txt := f.writeExtracted(t, "빈문서.pdf", "짧음")

	result, err := f.ing.IngestFile(context.Background(), txt)
	require.NoError(t, err)

	doc, err := f.meta.Get(context.Background(), result.DocID)
	require.NoError(t, err)
	assert.True(t, doc.Stale)
}

func TestIngestDir(t *testing.T) {
	f := newIngestFixture(t)
	f.writeExtracted(t, "2024-10-24_보수건.pdf", repairBody)
	f.writeExtracted(t, "2024-10-25_점검.pdf", "점검 결과 이상 없음. 점검 일자 2024-10-25.")
	require.NoError(t, os.WriteFile(filepath.Join(f.extracted, "무시됨.json"), []byte("{}"), 0o644))

	ingested, unchanged, failed, err := f.ing.IngestDir(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, ingested)
	assert.Zero(t, unchanged)
	assert.Zero(t, failed)

	// Second pass sees everything unchanged.
	ingested, unchanged, failed, err = f.ing.IngestDir(context.Background())
	require.NoError(t, err)
	assert.Zero(t, ingested)
	assert.Equal(t, 2, unchanged)
	assert.Zero(t, failed)

	n, err := f.meta.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestAmountSignals(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantTotal int64
		wantMatch store.TriState
	}{
		{
			name:      "items sum to total",
			text:      "A 100,000원\nB 200,000원\n합계: 300,000원",
			wantTotal: 300000,
			wantMatch: store.TriStateTrue,
		},
		{
			name:      "items disagree with total",
			text:      "A 100,000원\nB 150,000원\n합계: 300,000원",
			wantTotal: 300000,
			wantMatch: store.TriStateFalse,
		},
		{
			name:      "total only",
			text:      "총액: ₩500,000",
			wantTotal: 500000,
			wantMatch: store.TriStateUnknown,
		},
		{
			name:      "no amounts",
			text:      "금액 정보 없음",
			wantMatch: store.TriStateUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total, match := amountSignals(tt.text)
			assert.Equal(t, tt.wantTotal, total)
			assert.Equal(t, tt.wantMatch, match)
		})
	}
}

func TestTitleFromFilename(t *testing.T) {
	assert.Equal(t, "채널에이 중계차 노후 보수건",
		titleFromFilename("2024-10-24_채널에이_중계차_노후_보수건.pdf"))
	assert.Equal(t, "메모", titleFromFilename("메모.pdf"))
}
