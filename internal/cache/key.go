// Package cache implements the two-tier answer cache: an in-memory LRU
// with TTL in front of a persistent SQLite tier, keyed by a normalized
// "smart key" under a namespace derived from the index version and the
// retrieval config hash.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

// Namespace builds the cache namespace. Bumping the index version or
// changing any retrieval-affecting config setting moves every key, which
// is how a reindex invalidates stale answers without stopping readers.
func Namespace(indexVersion, configHash string) string {
	return indexVersion + "|" + configHash
}

// Key joins a namespace and a smart key into the full cache key.
func Key(namespace, smartKey string) string {
	return namespace + "::" + smartKey
}

var (
	whitespaceRegex  = regexp.MustCompile(`\s+`)
	punctuationRegex = regexp.MustCompile(`[?？!！.,:;'"‘’“”(){}\[\]「」·~]`)
)

// synonymTable folds common phrasing variants onto one canonical token so
// trivially rephrased queries share a cache entry.
var synonymTable = map[string]string{
	"총액":  "합계",
	"총금액": "합계",
	"가격":  "금액",
	"코스트": "비용",
	"파일":  "문서",
	"기안자": "작성자",
	"알려줘": "찾아줘",
	"보여줘": "찾아줘",
	"서머리": "요약",
	"프리뷰": "미리보기",
}

// SmartKey hashes a normalized form of the query and mode. Normalization:
// lowercase, collapse whitespace, strip punctuation, apply the synonym
// table per token, and resolve relative Korean dates against now.
func SmartKey(query, mode string, now time.Time) string {
	norm := normalizeQuery(query, now)
	sum := sha256.Sum256([]byte(mode + "\x00" + norm))
	return hex.EncodeToString(sum[:16])
}

func normalizeQuery(query string, now time.Time) string {
	q := strings.ToLower(strings.TrimSpace(query))
	q = resolveRelativeDates(q, now)
	q = punctuationRegex.ReplaceAllString(q, " ")
	q = whitespaceRegex.ReplaceAllString(q, " ")

	tokens := strings.Fields(q)
	for i, tok := range tokens {
		if canon, ok := synonymTable[tok]; ok {
			tokens[i] = canon
		}
	}
	return strings.Join(tokens, " ")
}

// resolveRelativeDates rewrites relative Korean date words to absolute
// forms so "오늘" asked on different days never shares an entry.
func resolveRelativeDates(q string, now time.Time) string {
	replacer := strings.NewReplacer(
		"오늘", now.Format("2006-01-02"),
		"어제", now.AddDate(0, 0, -1).Format("2006-01-02"),
		"이번달", now.Format("2006-01"),
		"이번 달", now.Format("2006-01"),
		"지난달", now.AddDate(0, -1, 0).Format("2006-01"),
		"지난 달", now.AddDate(0, -1, 0).Format("2006-01"),
		"올해", now.Format("2006년"),
		"작년", now.AddDate(-1, 0, 0).Format("2006년"),
	)
	return replacer.Replace(q)
}
