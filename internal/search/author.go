package search

import (
	"regexp"
	"strings"
)

// authorBoost multiplies the fused score of documents whose drafter
// matches the extracted author name. Soft boost, never a hard filter.
const authorBoost = 2.0

// Author-intent patterns: "X가 작성한 문서", "X이 기안한", "기안자 X",
// "작성자 X". Names are 2-4 hangul syllables.
var (
	authorWrotePattern   = regexp.MustCompile(`([가-힣]{2,4})\s*(?:님)?\s*[가이]\s*(?:작성|기안)한?`)
	authorLabeledPattern = regexp.MustCompile(`(?:기안자|작성자)\s*[:은는이가]?\s*([가-힣]{2,4})`)
	authorSuffixPattern  = regexp.MustCompile(`([가-힣]{2,4})\s+(?:작성|기안)\s*(?:문서|건)`)
)

// nonNameWords are common query words the name patterns would otherwise
// capture ("문서가 작성한" style false positives).
var nonNameWords = map[string]struct{}{
	"문서": {}, "파일": {}, "내용": {}, "요약": {}, "검색": {},
	"누구": {}, "최근": {}, "올해": {}, "작년": {}, "이번": {},
}

// ExtractAuthor returns a likely author name from the query, or "".
func ExtractAuthor(query string) string {
	for _, re := range []*regexp.Regexp{authorWrotePattern, authorLabeledPattern, authorSuffixPattern} {
		if m := re.FindStringSubmatch(query); m != nil {
			name := m[1]
			if _, skip := nonNameWords[name]; !skip {
				return name
			}
		}
	}
	return ""
}

// AuthorQueryVariants generates retrieval variants that pair the name with
// the drafter vocabulary used in document text. The original query is
// always the first variant.
func AuthorQueryVariants(query, author string) []string {
	if author == "" {
		return []string{query}
	}
	return []string{
		query,
		author + " 기안자",
		author + " 작성자",
		"기안자 " + author,
		author + " 기안 문서",
	}
}

// DrafterMatches reports whether a stored drafter field matches the
// extracted author name (equality or containment, either direction).
func DrafterMatches(drafter, author string) bool {
	if drafter == "" || author == "" {
		return false
	}
	drafter = strings.TrimSpace(drafter)
	return drafter == author ||
		strings.Contains(drafter, author) ||
		strings.Contains(author, drafter)
}
