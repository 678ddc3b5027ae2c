package search

import (
	"log/slog"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/askdocs/askdocs/internal/store"
)

// Mode is the query handling mode chosen by the router.
type Mode string

const (
	ModeCost     Mode = "COST"     // cost aggregation across documents
	ModeDocument Mode = "DOCUMENT" // summary/preview of one identifiable document
	ModeSearch   Mode = "SEARCH"   // list-style document search
	ModeQA       Mode = "QA"       // fallback: retrieval-augmented answer
)

// Router patterns. Classification runs in strict priority order
// COST > DOCUMENT > SEARCH > QA.
var (
	// COST: cost nouns near an interrogative, cost nouns preceded by a
	// procurement context word, or compound cost phrases.
	costNounRegex     = regexp.MustCompile(`합계|총액|금액|비용`)
	costQuestionRegex = regexp.MustCompile(`얼마|[?？]\s*$|(?:합계|총액|금액|비용)\s*[은는이가]?\s*[?？]`)
	costContextRegex  = regexp.MustCompile(`(?:기안|작성|문서|구매|소모품|납품)\s*.{0,10}(?:합계|총액|금액|비용)`)
	costCompoundRegex = regexp.MustCompile(`비용\s*합계|합계\s*금액`)

	// DOCUMENT: a document identifier AND a content-intent keyword.
	filenamePatternRegex = regexp.MustCompile(`[\w가-힣-]+\.(?:pdf|txt)|\d{4}-\d{2}-\d{2}_\S+`)
	docDeicticRegex      = regexp.MustCompile(`이\s*문서|해당\s*문서|그\s*문서`)
	docTypeKeywordRegex  = regexp.MustCompile(`검토서|기안서|견적서|보고서|회의록|품의서`)
	contentIntentRegex   = regexp.MustCompile(`미리보기|요약|내용`)
	detailIntentRegex    = regexp.MustCompile(`자세히|상세히|구체적으로`)

	// SEARCH: year/author plus a find verb, or explicit search phrasing.
	yearAuthorRegex   = regexp.MustCompile(`\d{4}\s*년|[가-힣]{2,4}\s*[가이]?\s*(?:작성|기안)`)
	findVerbRegex     = regexp.MustCompile(`찾아|검색|보여\s*줘|알려\s*줘|목록|리스트`)
	searchPhraseRegex = regexp.MustCompile(`관련\s*(?:문서|파일)|(?:문서|파일)\s*(?:찾아|검색)`)
)

// RouterConfig tunes the low-confidence signal.
type RouterConfig struct {
	// MinHits is the minimum hit count before the low-confidence check runs.
	MinHits int
	// LowConfidenceDelta is the top1-top2 score gap under which the hit
	// list is considered ambiguous.
	LowConfidenceDelta float64
	// NameSimilarityThreshold forces DOCUMENT mode when the top hit's
	// normalized filename similarity reaches it.
	NameSimilarityThreshold float64
}

// DefaultRouterConfig returns the production thresholds.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		MinHits:                 2,
		LowConfidenceDelta:      0.05,
		NameSimilarityThreshold: 0.66,
	}
}

// Router classifies queries into exactly one mode. Classifications are
// cached per query string; the regex set is fixed for the process.
type Router struct {
	cfg    RouterConfig
	logger *slog.Logger
	cache  *lru.Cache[string, Mode]
}

// NewRouter builds a router. A nil logger uses the default.
func NewRouter(cfg RouterConfig, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.NameSimilarityThreshold <= 0 {
		cfg.NameSimilarityThreshold = 0.66
	}
	cache, _ := lru.New[string, Mode](256)
	return &Router{cfg: cfg, logger: logger, cache: cache}
}

// Classify routes a query. Priority: COST > DOCUMENT > SEARCH > QA.
func (r *Router) Classify(query string) Mode {
	query = strings.TrimSpace(query)
	if query == "" {
		return ModeQA
	}
	if mode, ok := r.cache.Get(query); ok {
		return mode
	}

	mode := ModeQA
	switch {
	case r.isCost(query):
		mode = ModeCost
	case r.isDocument(query):
		mode = ModeDocument
	case r.isSearch(query):
		mode = ModeSearch
	}
	r.cache.Add(query, mode)
	return mode
}

func (r *Router) isCost(query string) bool {
	if costCompoundRegex.MatchString(query) {
		return true
	}
	if costContextRegex.MatchString(query) {
		return true
	}
	return costNounRegex.MatchString(query) && costQuestionRegex.MatchString(query)
}

func (r *Router) isDocument(query string) bool {
	if !contentIntentRegex.MatchString(query) {
		return false
	}
	// "자세히/상세히/구체적으로" asks for an answer, not a preview.
	if detailIntentRegex.MatchString(query) {
		return false
	}
	return filenamePatternRegex.MatchString(query) ||
		docDeicticRegex.MatchString(query) ||
		docTypeKeywordRegex.MatchString(query)
}

func (r *Router) isSearch(query string) bool {
	if searchPhraseRegex.MatchString(query) {
		return true
	}
	return yearAuthorRegex.MatchString(query) && findVerbRegex.MatchString(query)
}

// ClassifyWithHits refines classification when candidate documents are
// already known. With content intent present, the router forces DOCUMENT
// mode when exactly one hit normalize-matches the query, or when the top
// hit's normalized-name similarity reaches the threshold; in both cases
// the hit list is narrowed to that single document.
func (r *Router) ClassifyWithHits(query string, hits []*store.Document) (Mode, []*store.Document) {
	mode := r.Classify(query)
	if len(hits) == 0 || !contentIntentRegex.MatchString(query) || detailIntentRegex.MatchString(query) {
		return mode, hits
	}

	normQuery := normalizeForSimilarity(query)

	var matched []*store.Document
	for _, h := range hits {
		if strings.Contains(normQuery, normalizeForSimilarity(h.Filename)) {
			matched = append(matched, h)
		}
	}
	if len(matched) == 1 {
		return ModeDocument, matched
	}

	if sim := nameSimilarity(normQuery, normalizeForSimilarity(hits[0].Filename)); sim >= r.cfg.NameSimilarityThreshold {
		return ModeDocument, hits[:1]
	}
	return mode, hits
}

// CheckLowConfidence logs when the hit list is ambiguous: enough hits but
// the top-1 vs top-2 score gap is under the threshold. Log only; the mode
// is never changed silently.
func (r *Router) CheckLowConfidence(query string, scores []float64) {
	if len(scores) < 2 || len(scores) < r.cfg.MinHits {
		return
	}
	delta := scores[0] - scores[1]
	if delta < r.cfg.LowConfidenceDelta {
		r.logger.Warn("low_confidence_hits",
			slog.String("query", query),
			slog.Float64("top1", scores[0]),
			slog.Float64("top2", scores[1]),
			slog.Float64("delta", delta))
	}
}

// normalizeForSimilarity lowercases and strips extension, separators, and
// whitespace so filename references in prose compare cleanly.
func normalizeForSimilarity(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, ".pdf")
	s = strings.TrimSuffix(s, ".txt")
	replacer := strings.NewReplacer("_", "", "-", "", " ", "", ".", "", "?", "", "!", "")
	return replacer.Replace(s)
}

// nameSimilarity is a Dice coefficient over rune bigrams of the two
// normalized strings, in [0, 1].
func nameSimilarity(a, b string) float64 {
	ba, bb := runeBigrams(a), runeBigrams(b)
	if len(ba) == 0 || len(bb) == 0 {
		return 0
	}
	var common int
	for g, n := range ba {
		if m, ok := bb[g]; ok {
			if n < m {
				common += n
			} else {
				common += m
			}
		}
	}
	var totalA, totalB int
	for _, n := range ba {
		totalA += n
	}
	for _, n := range bb {
		totalB += n
	}
	return 2 * float64(common) / float64(totalA+totalB)
}

func runeBigrams(s string) map[string]int {
	runes := []rune(s)
	grams := make(map[string]int)
	for i := 0; i+1 < len(runes); i++ {
		grams[string(runes[i:i+2])]++
	}
	return grams
}
