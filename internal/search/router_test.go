package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdocs/askdocs/internal/store"
)

func newTestRouter() *Router {
	return NewRouter(DefaultRouterConfig(), nil)
}

func TestClassifyModes(t *testing.T) {
	r := newTestRouter()

	tests := []struct {
		query string
		want  Mode
	}{
		// Cost aggregation
		{"채널에이 중계차 보수 합계 얼마였지?", ModeCost},
		{"소모품 구매 비용 합계 알려줘", ModeCost},
		{"작년 납품 금액은?", ModeCost},
		{"비용 합계", ModeCost},

		// Document summary/preview
		{"이 문서 요약해줘", ModeDocument},
		{"2024-10-24_채널에이_중계차_노후_보수건.pdf 내용 보여줘", ModeDocument},
		{"수의계약 검토서 미리보기", ModeDocument},

		// Detail intent forces QA even with content keywords
		{"이 문서 내용 자세히 설명해줘", ModeQA},
		{"검토서 요약 구체적으로", ModeQA},

		// Search
		{"2024년 남준수 문서 찾아줘", ModeSearch},
		{"중계차 관련 문서", ModeSearch},
		{"남준수가 작성한 파일 검색", ModeSearch},

		// Fallback
		{"중계차 보수는 왜 했어?", ModeQA},
		{"", ModeQA},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Classify(tt.query))
		})
	}
}

func TestClassifyPriorityCostOverSearch(t *testing.T) {
	r := newTestRouter()
	// Carries both a find verb and a cost phrase; COST wins.
	assert.Equal(t, ModeCost, r.Classify("2024년 구매 비용 합계 찾아줘"))
}

func TestClassifyWithHitsSingleMatch(t *testing.T) {
	r := newTestRouter()
	hits := []*store.Document{
		{ID: 1, Filename: "2024-10-24_채널에이_중계차_노후_보수건.pdf"},
		{ID: 2, Filename: "2024-03-05_스튜디오_조명_교체.pdf"},
	}

	mode, narrowed := r.ClassifyWithHits("2024-10-24_채널에이_중계차_노후_보수건 내용 요약해줘", hits)
	assert.Equal(t, ModeDocument, mode)
	require.Len(t, narrowed, 1)
	assert.Equal(t, int64(1), narrowed[0].ID)
}

func TestClassifyWithHitsSimilarityThreshold(t *testing.T) {
	r := newTestRouter()
	hits := []*store.Document{
		{ID: 1, Filename: "2024-10-24_채널에이_중계차_노후_보수건.pdf"},
		{ID: 2, Filename: "2024-03-05_스튜디오_조명_교체.pdf"},
	}

	// Near-complete filename reference without exact containment.
	mode, narrowed := r.ClassifyWithHits("2024-10-24 채널에이 중계차 노후 보수 요약", hits)
	assert.Equal(t, ModeDocument, mode)
	assert.Len(t, narrowed, 1)
}

func TestClassifyWithHitsNoContentIntent(t *testing.T) {
	r := newTestRouter()
	hits := []*store.Document{
		{ID: 1, Filename: "2024-10-24_채널에이_중계차_노후_보수건.pdf"},
	}

	// No content-intent keyword: hit list passes through untouched.
	mode, narrowed := r.ClassifyWithHits("중계차 보수는 왜 했어?", hits)
	assert.Equal(t, ModeQA, mode)
	assert.Len(t, narrowed, 1)
}

func TestNameSimilarity(t *testing.T) {
	a := normalizeForSimilarity("2024-10-24_채널에이_중계차_노후_보수건.pdf")
	b := normalizeForSimilarity("2024-10-24 채널에이 중계차 노후 보수건")
	assert.Equal(t, 1.0, nameSimilarity(a, b))

	c := normalizeForSimilarity("2024-03-05_스튜디오_조명_교체.pdf")
	assert.Less(t, nameSimilarity(a, c), 0.66)
}

func TestCheckLowConfidenceLogsOnly(t *testing.T) {
	r := newTestRouter()
	// Must not panic or alter state; ambiguity is log-only.
	r.CheckLowConfidence("중계차", []float64{0.50, 0.49, 0.10})
	r.CheckLowConfidence("중계차", []float64{0.90})
	r.CheckLowConfidence("중계차", nil)
}
