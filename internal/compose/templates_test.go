package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/askdocs/askdocs/internal/store"
)

func TestDetectDoctype(t *testing.T) {
	tests := []struct {
		name     string
		stored   store.DocType
		filename string
		body     string
		want     store.DocType
	}{
		{
			name:     "stored doctype wins",
			stored:   store.DocTypeRepair,
			filename: "2024-10-24_소모품_구매.pdf",
			body:     "소모품 구매 품의",
			want:     store.DocTypeRepair,
		},
		{
			name:     "two minutes markers force minutes",
			filename: "2024-09-01_월간회의.pdf",
			body:     "참석자: 남준수, 김철수. 안건: 소모품 구매 계획.",
			want:     store.DocTypeMinutes,
		},
		{
			name:     "one minutes marker is not enough",
			filename: "2024-09-01_구매계획.pdf",
			body:     "안건과 무관한 소모품 구매 계획입니다.",
			want:     store.DocTypeConsumables,
		},
		{
			name:     "review beats consumables when both mention 구매",
			filename: "2024-08-12_장비_구매_검토서.pdf",
			body:     "신규 장비 구매 타당성 검토",
			want:     store.DocTypeReview,
		},
		{
			name:     "consumables",
			filename: "2024-07-01_소모품_납품.pdf",
			body:     "품목별 납품 내역",
			want:     store.DocTypeConsumables,
		},
		{
			name:     "repair",
			filename: "2024-10-24_중계차_보수건.pdf",
			body:     "노후 장비 보수 및 점검",
			want:     store.DocTypeRepair,
		},
		{
			name:     "disposal",
			filename: "2024-05-20_불용장비_폐기.pdf",
			body:     "불용 장비 매각 및 폐기 처분",
			want:     store.DocTypeDisposal,
		},
		{
			name:     "generic fallback",
			filename: "2024-03-03_출장보고.pdf",
			body:     "해외 출장 결과입니다.",
			want:     store.DocTypeGeneric,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectDoctype(tt.stored, tt.filename, tt.body)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectDoctypeIgnoresDeepBody(t *testing.T) {
	// Markers past the sniff window must not trigger minutes.
	deep := make([]byte, doctypeSniffLength)
	for i := range deep {
		deep[i] = 'x'
	}
	body := string(deep) + " 참석자 안건 결정"
	assert.Equal(t, store.DocTypeGeneric, DetectDoctype("", "기록.pdf", body))
}

func TestTemplateForSchemas(t *testing.T) {
	assert.Contains(t, TemplateFor(store.DocTypeConsumables).Schema, "합계")
	assert.Contains(t, TemplateFor(store.DocTypeRepair).Schema, "증상")
	assert.Contains(t, TemplateFor(store.DocTypeReview).Schema, "검토의견")
	assert.Contains(t, TemplateFor(store.DocTypeDisposal).Schema, "처리방법")
	assert.Contains(t, TemplateFor(store.DocTypeMinutes).Schema, "참석자")

	generic := TemplateFor(store.DocTypeGeneric)
	assert.Contains(t, generic.Schema, "목적배경")
	assert.Contains(t, generic.Schema, "주요내용")
	assert.Contains(t, generic.Schema, "결론조치")

	// Unknown genres use the generic template.
	assert.Equal(t, generic, TemplateFor(store.DocTypeUnknown))
}
