package compose

import (
	"strings"

	"github.com/askdocs/askdocs/internal/store"
)

// doctypeSniffLength bounds how much body text doctype detection reads.
const doctypeSniffLength = 2000

// PromptTemplate shapes the answer for one document genre.
type PromptTemplate struct {
	Doctype store.DocType
	// Schema is the fenced-JSON output schema the model is asked for.
	Schema string
	// Guidance is genre-specific instruction text.
	Guidance string
}

// minutesMarkers force the minutes template when two or more appear.
var minutesMarkers = []string{"참석자", "안건", "결정"}

var reviewKeywords = []string{"검토서", "구매 검토", "적격", "평가", "심의", "타당성"}

var consumablesKeywords = []string{"소모품", "구매", "납품", "품목"}

var repairKeywords = []string{"보수", "수리", "고장", "점검", "교체"}

var disposalKeywords = []string{"폐기", "불용", "매각", "처분"}

// DetectDoctype classifies a document from its filename and the start of
// its body. A stored doctype, when known, wins over detection.
func DetectDoctype(stored store.DocType, filename, body string) store.DocType {
	if stored != "" && stored != store.DocTypeUnknown && stored != store.DocTypeGeneric {
		return stored
	}

	if len(body) > doctypeSniffLength {
		body = body[:doctypeSniffLength]
	}
	text := filename + "\n" + body

	markers := 0
	for _, m := range minutesMarkers {
		if strings.Contains(text, m) {
			markers++
		}
	}
	if markers >= 2 || strings.Contains(text, "회의록") {
		return store.DocTypeMinutes
	}

	// Review documents also mention 구매, so they are checked first.
	if containsAny(text, reviewKeywords) {
		return store.DocTypeReview
	}
	if containsAny(text, consumablesKeywords) {
		return store.DocTypeConsumables
	}
	if containsAny(text, repairKeywords) {
		return store.DocTypeRepair
	}
	if containsAny(text, disposalKeywords) {
		return store.DocTypeDisposal
	}
	return store.DocTypeGeneric
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// TemplateFor returns the prompt template for a doctype.
func TemplateFor(doctype store.DocType) PromptTemplate {
	switch doctype {
	case store.DocTypeConsumables:
		return PromptTemplate{
			Doctype:  store.DocTypeConsumables,
			Schema:   `{"품목": [{"name": "...", "수량": 0, "금액": 0}], "합계": 0, "부가세": 0, "요약": "..."}`,
			Guidance: "품목별 수량과 금액을 표에 있는 그대로 옮기고, 합계와 부가세 포함 여부를 명시하세요.",
		}
	case store.DocTypeRepair:
		return PromptTemplate{
			Doctype:  store.DocTypeRepair,
			Schema:   `{"증상": "...", "원인": "...", "조치": "...", "금액": 0, "요약": "..."}`,
			Guidance: "고장 증상, 원인, 조치 내용과 보수 금액을 구분해서 정리하세요.",
		}
	case store.DocTypeReview:
		return PromptTemplate{
			Doctype:  store.DocTypeReview,
			Schema:   `{"검토대상": "...", "검토의견": "...", "결론": "...", "요약": "..."}`,
			Guidance: "검토 대상과 검토 의견, 최종 결론을 문서에 적힌 표현으로 정리하세요.",
		}
	case store.DocTypeDisposal:
		return PromptTemplate{
			Doctype:  store.DocTypeDisposal,
			Schema:   `{"대상품목": ["..."], "사유": "...", "처리방법": "...", "요약": "..."}`,
			Guidance: "폐기 대상 품목과 사유, 처리 방법을 정리하세요.",
		}
	case store.DocTypeMinutes:
		return PromptTemplate{
			Doctype:  store.DocTypeMinutes,
			Schema:   `{"참석자": ["..."], "안건": ["..."], "결정사항": ["..."], "요약": "..."}`,
			Guidance: "참석자 명단, 안건, 결정 사항을 빠짐없이 나열하세요.",
		}
	default:
		return PromptTemplate{
			Doctype:  store.DocTypeGeneric,
			Schema:   `{"목적배경": "...", "주요내용": "...", "결론조치": "...", "요약": "..."}`,
			Guidance: "문서의 목적과 배경, 주요 내용, 결론 및 조치 사항을 정리하세요.",
		}
	}
}
