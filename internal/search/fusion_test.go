package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRRFFuseDeterministic(t *testing.T) {
	f := NewRRFFusion(60)

	bm25 := []rankedDoc{
		{docID: "doc_1", rank: 1, score: 9.1},
		{docID: "doc_2", rank: 2, score: 7.3},
		{docID: "doc_3", rank: 3, score: 5.0},
	}
	vec := []rankedDoc{
		{docID: "doc_2", rank: 1, score: 0.91},
		{docID: "doc_4", rank: 2, score: 0.80},
	}

	first := f.Fuse(bm25, vec)
	second := f.Fuse(bm25, vec)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].DocID, second[i].DocID)
		assert.Equal(t, first[i].Score, second[i].Score)
	}

	// doc_2 appears in both lists: 1/(60+2) + 1/(60+1).
	assert.Equal(t, "doc_2", first[0].DocID)
	assert.InDelta(t, 1.0/62+1.0/61, first[0].Score, 1e-12)
}

func TestRRFFuseTieBreakAscendingDocID(t *testing.T) {
	f := NewRRFFusion(60)

	// Same rank in disjoint lists gives identical scores.
	bm25 := []rankedDoc{{docID: "doc_10", rank: 1, score: 5.0}}
	vec := []rankedDoc{{docID: "doc_2", rank: 1, score: 0.9}}

	fused := f.Fuse(bm25, vec)
	require.Len(t, fused, 2)
	assert.Equal(t, fused[0].Score, fused[1].Score)
	// Numeric order, not lexicographic: doc_2 before doc_10.
	assert.Equal(t, "doc_2", fused[0].DocID)
	assert.Equal(t, "doc_10", fused[1].DocID)
}

func TestRRFFuseEmptyInputs(t *testing.T) {
	f := NewRRFFusion(0) // defaults to 60
	assert.Equal(t, DefaultRRFConstant, f.K)

	fused := f.Fuse(nil, nil)
	assert.NotNil(t, fused)
	assert.Empty(t, fused)
}

func TestRRFFuseSingleBackend(t *testing.T) {
	f := NewRRFFusion(60)

	bm25 := []rankedDoc{
		{docID: "doc_1", rank: 1, score: 3.0},
		{docID: "doc_2", rank: 2, score: 2.0},
	}
	fused := f.Fuse(bm25, nil)
	require.Len(t, fused, 2)
	assert.Equal(t, "doc_1", fused[0].DocID)
	assert.InDelta(t, 1.0/61, fused[0].Score, 1e-12)
	assert.Zero(t, fused[0].VecRank)
}
