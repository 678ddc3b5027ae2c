package search

import (
	"sort"

	"github.com/askdocs/askdocs/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter. k=60 is
// empirically validated across domains (Azure AI Search, OpenSearch).
const DefaultRRFConstant = 60

// FusedResult is a single document after RRF fusion.
type FusedResult struct {
	DocID     string
	Score     float64 // Combined RRF score
	BM25Rank  int     // 1-indexed, 0 if absent
	VecRank   int     // 1-indexed, 0 if absent
	BM25Score float64
	VecScore  float64
}

// RRFFusion combines lexical and vector rankings:
//
//	score(d) = Σ_r 1 / (k + rank_r(d))
//
// Only lists the document actually appears in contribute. Ties are broken
// by ascending numeric doc id so rankings are deterministic.
type RRFFusion struct {
	K int
}

// NewRRFFusion returns a fusion instance; k <= 0 falls back to 60.
func NewRRFFusion(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse merges ranked BM25 and vector candidate lists.
func (f *RRFFusion) Fuse(bm25, vec []rankedDoc) []*FusedResult {
	if len(bm25) == 0 && len(vec) == 0 {
		return []*FusedResult{}
	}

	merged := make(map[string]*FusedResult, len(bm25)+len(vec))
	get := func(id string) *FusedResult {
		if r, ok := merged[id]; ok {
			return r
		}
		r := &FusedResult{DocID: id}
		merged[id] = r
		return r
	}

	for _, d := range bm25 {
		r := get(d.docID)
		r.BM25Rank = d.rank
		r.BM25Score = d.score
		r.Score += 1.0 / float64(f.K+d.rank)
	}
	for _, d := range vec {
		r := get(d.docID)
		r.VecRank = d.rank
		r.VecScore = d.score
		r.Score += 1.0 / float64(f.K+d.rank)
	}

	results := make([]*FusedResult, 0, len(merged))
	for _, r := range merged {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return docIDLess(results[i].DocID, results[j].DocID)
	})
	return results
}

// docIDLess orders "doc_<n>" ids numerically, falling back to lexicographic
// for malformed ids.
func docIDLess(a, b string) bool {
	na, errA := store.ParseDocID(a)
	nb, errB := store.ParseDocID(b)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}
