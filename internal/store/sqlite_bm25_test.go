package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLexicalIndex(t *testing.T) *SQLiteBM25Index {
	t.Helper()
	idx, err := NewSQLiteBM25Index("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestLexicalIndexAndSearch(t *testing.T) {
	idx := newTestLexicalIndex(t)
	ctx := context.Background()

	docs := []*LexicalDoc{
		{ID: "doc_1", Content: "채널A 중계차 보수 공사 합계 34,340,000원"},
		{ID: "doc_2", Content: "스튜디오 조명 교체 견적서"},
		{ID: "doc_3", Content: "XRN-1620B2 NVR 설치 매뉴얼"},
	}
	require.NoError(t, idx.Index(ctx, docs))

	results, err := idx.Search(ctx, "중계차 보수", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "doc_1", results[0].DocID)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestLexicalSearchModelCode(t *testing.T) {
	idx := newTestLexicalIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []*LexicalDoc{
		{ID: "doc_3", Content: "XRN-1620B2 NVR 설치 매뉴얼"},
		{ID: "doc_4", Content: "일반 문서"},
	}))

	// Hyphen-stripped query form still matches via the token variant.
	results, err := idx.Search(ctx, "XRN1620B2", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "doc_3", results[0].DocID)
}

func TestLexicalSearchEmptyQuery(t *testing.T) {
	idx := newTestLexicalIndex(t)

	results, err := idx.Search(context.Background(), "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLexicalReindexReplacesDoc(t *testing.T) {
	idx := newTestLexicalIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []*LexicalDoc{{ID: "doc_1", Content: "기존 내용"}}))
	require.NoError(t, idx.Index(ctx, []*LexicalDoc{{ID: "doc_1", Content: "새로운 내용"}}))

	ids, err := idx.AllIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"doc_1"}, ids)

	results, err := idx.Search(ctx, "기존", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLexicalDelete(t *testing.T) {
	idx := newTestLexicalIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []*LexicalDoc{
		{ID: "doc_1", Content: "하나"},
		{ID: "doc_2", Content: "둘"},
	}))
	require.NoError(t, idx.Delete(ctx, []string{"doc_1"}))

	ids, err := idx.AllIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"doc_2"}, ids)
	assert.Equal(t, 1, idx.Stats().DocumentCount)
}

func TestLexicalClosedIndex(t *testing.T) {
	idx := newTestLexicalIndex(t)
	require.NoError(t, idx.Close())

	err := idx.Index(context.Background(), []*LexicalDoc{{ID: "doc_1", Content: "x"}})
	assert.EqualError(t, err, "index is closed")
	require.NoError(t, idx.Close())
}
