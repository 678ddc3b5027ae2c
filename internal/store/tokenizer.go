package store

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// codeTokenRegex matches model-code shaped tokens: letters and digits joined
// by hyphens, with at least one digit (e.g. XRN-1620B2, LKV373A).
var codeTokenRegex = regexp.MustCompile(`^[A-Za-z0-9]+(?:-[A-Za-z0-9]+)+$|^[A-Za-z]+[0-9][A-Za-z0-9]*$`)

// tokenSplitRegex extracts candidate tokens: hangul runs, alphanumeric runs
// possibly joined by hyphens, or digit runs.
var tokenSplitRegex = regexp.MustCompile(`[\x{AC00}-\x{D7A3}]+|[A-Za-z0-9]+(?:-[A-Za-z0-9]+)*`)

// NormalizeText applies NFKC normalization and lowercases ASCII.
// Full-width forms common in Korean office documents (ＡＢＣ, （）) fold to
// their ASCII equivalents so codes match regardless of input width.
func NormalizeText(text string) string {
	return strings.ToLower(norm.NFKC.String(text))
}

// Tokenize splits Korean/English mixed text for lexical indexing.
// Rules:
//   - NFKC normalize, lowercase
//   - Hangul runs are kept whole AND emitted as character bigrams for recall
//   - Model-code shaped tokens are kept verbatim plus a hyphen-stripped variant
//   - Plain alphanumeric tokens shorter than 2 runes are dropped
func Tokenize(text string) []string {
	normalized := NormalizeText(text)
	words := tokenSplitRegex.FindAllString(normalized, -1)

	var tokens []string
	for _, w := range words {
		if isHangul(w) {
			tokens = append(tokens, w)
			tokens = append(tokens, hangulBigrams(w)...)
			continue
		}
		if codeTokenRegex.MatchString(w) {
			tokens = append(tokens, w)
			if strings.Contains(w, "-") {
				tokens = append(tokens, strings.ReplaceAll(w, "-", ""))
			}
			continue
		}
		// Hyphenated non-code tokens split on the hyphen.
		for _, part := range strings.Split(w, "-") {
			if len([]rune(part)) >= 2 {
				tokens = append(tokens, part)
			}
		}
	}
	return tokens
}

// isHangul reports whether every rune of s is in the hangul syllable block.
func isHangul(s string) bool {
	for _, r := range s {
		if !unicode.Is(unicode.Hangul, r) {
			return false
		}
	}
	return s != ""
}

// hangulBigrams emits overlapping 2-rune grams for a hangul run.
// Single-syllable runs produce nothing beyond the whole token.
func hangulBigrams(s string) []string {
	runes := []rune(s)
	if len(runes) <= 2 {
		return nil
	}
	grams := make([]string, 0, len(runes)-1)
	for i := 0; i+2 <= len(runes); i++ {
		grams = append(grams, string(runes[i:i+2]))
	}
	return grams
}
