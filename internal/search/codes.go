package search

import (
	"context"
	"regexp"
	"strings"

	"github.com/askdocs/askdocs/internal/store"
)

// Match weights for the exact-code layer. Per doc the highest kind wins.
const (
	codeWeightExact           = 3.0
	codeWeightFilenameExact   = 1.5
	codeWeightFilenamePartial = 1.0
)

// Layered candidate patterns. Multi-segment codes allow hyphen, slash, or
// space separators but must carry at least one digit; tight codes are
// letter-digit runs like "LKV373A"; brand-prefixed codes accept a known
// manufacturer prefix even without an internal digit.
var (
	multiSegmentCodeRegex = regexp.MustCompile(`\b[A-Za-z0-9]{2,}(?:[-/ ][A-Za-z0-9]{1,})+\b`)
	tightCodeRegex        = regexp.MustCompile(`\b[A-Za-z]{1,6}[0-9][A-Za-z0-9]*\b`)
	brandPrefixRegex      = regexp.MustCompile(`\b(?:XRN|LKV|NVR|UHD|HDMI|SDI|SNP|QNV|XNO)[A-Za-z0-9-]+\b`)

	hasDigitRegex = regexp.MustCompile(`[0-9]`)
)

// codeDenyList rejects common English words that the tight pattern would
// otherwise pick up out of mixed Korean/English text.
var codeDenyList = map[string]struct{}{
	"PDF": {}, "THE": {}, "AND": {}, "FOR": {}, "WITH": {}, "FROM": {},
	"THIS": {}, "THAT": {}, "FILE": {}, "PAGE": {}, "DOC": {}, "NEW": {},
	"ALL": {}, "TOP": {}, "MP4": {}, "JPG": {}, "PNG": {}, "USB": {},
	"CPU": {}, "RAM": {}, "LED": {}, "LCD": {},
}

// CodeHit is one document matched by the exact-code layer.
type CodeHit struct {
	DocID string
	Score float64
	Code  string // normalized code that matched
	Kind  store.CodeMatchKind
}

// ExactCodeIndex answers precise product/model-code lookups that lexical
// similarity handles poorly. It is a secondary view over the code
// occurrence rows in the metadata store, plus a filename pass.
type ExactCodeIndex struct {
	meta store.MetadataStore
}

// NewExactCodeIndex builds the code lookup layer.
func NewExactCodeIndex(meta store.MetadataStore) *ExactCodeIndex {
	return &ExactCodeIndex{meta: meta}
}

// ExtractCodes pulls candidate product codes out of a query.
// Multi-segment matches must contain a digit; single-token matches pass
// either the tight pattern or the brand-prefix whitelist, and never the
// deny-list.
func ExtractCodes(query string) []string {
	seen := make(map[string]struct{})
	var codes []string
	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		norm := store.NormalizeCode(raw)
		if len(norm) < 3 {
			return
		}
		if _, denied := codeDenyList[norm]; denied {
			return
		}
		if _, dup := seen[norm]; dup {
			return
		}
		seen[norm] = struct{}{}
		codes = append(codes, raw)
	}

	for _, m := range multiSegmentCodeRegex.FindAllString(query, -1) {
		if hasDigitRegex.MatchString(m) {
			add(m)
		}
	}
	for _, m := range brandPrefixRegex.FindAllString(query, -1) {
		add(m)
	}
	for _, m := range tightCodeRegex.FindAllString(query, -1) {
		add(m)
	}
	return codes
}

// codeVariants returns the raw code plus spaced and separator-free forms.
func codeVariants(raw string) []string {
	sepToSpace := strings.NewReplacer("-", " ", "/", " ", "_", " ")
	sepToNone := strings.NewReplacer("-", "", "/", "", "_", "", " ", "")

	variants := []string{raw}
	if spaced := sepToSpace.Replace(raw); spaced != raw {
		variants = append(variants, spaced)
	}
	if joined := sepToNone.Replace(raw); joined != raw {
		variants = append(variants, joined)
	}
	return variants
}

// SearchCodes runs the full code lookup: extraction, the two batched
// metadata passes on normalized codes, and the filename pass. Returns
// empty when the query carries no recognizable codes; the layer is
// strictly additive.
func (x *ExactCodeIndex) SearchCodes(ctx context.Context, query string) ([]*CodeHit, error) {
	rawCodes := ExtractCodes(query)
	if len(rawCodes) == 0 {
		return nil, nil
	}

	normCodes := make([]string, 0, len(rawCodes))
	normSeen := make(map[string]struct{})
	for _, raw := range rawCodes {
		norm := store.NormalizeCode(raw)
		if _, dup := normSeen[norm]; !dup {
			normSeen[norm] = struct{}{}
			normCodes = append(normCodes, norm)
		}
	}

	// Highest-scoring match per doc wins.
	best := make(map[string]*CodeHit)
	record := func(docID string, score float64, code string, kind store.CodeMatchKind) {
		if cur, ok := best[docID]; ok && cur.Score >= score {
			return
		}
		best[docID] = &CodeHit{DocID: docID, Score: score, Code: code, Kind: kind}
	}

	// Pass 1+2: exact IN and boundary-safe LIKE on stored occurrences.
	matches, err := x.meta.MatchCodes(ctx, normCodes)
	if err != nil {
		return nil, err
	}
	for _, m := range matches {
		record(store.FormatDocID(m.DocID), codeWeightExact, m.NormCode, store.CodeMatchExact)
	}

	// Filename pass: each variant against filename LIKE NOCASE, split into
	// whole-token and partial matches.
	for _, raw := range rawCodes {
		norm := store.NormalizeCode(raw)
		for _, variant := range codeVariants(raw) {
			docs, err := x.meta.SearchFilenames(ctx, variant)
			if err != nil {
				return nil, err
			}
			for _, d := range docs {
				if filenameTokenMatch(d.Filename, variant) {
					record(d.DocID(), codeWeightFilenameExact, norm, store.CodeMatchFilenameExact)
				} else {
					record(d.DocID(), codeWeightFilenamePartial, norm, store.CodeMatchFilenamePartial)
				}
			}
		}
	}

	hits := make([]*CodeHit, 0, len(best))
	for _, h := range best {
		hits = append(hits, h)
	}
	return hits, nil
}

// filenameTokenMatch reports whether code equals a whole dash, underscore,
// or dot delimited token of the filename, case-insensitively.
func filenameTokenMatch(filename, code string) bool {
	code = strings.ToLower(code)
	base := strings.ToLower(filename)
	for _, token := range strings.FieldsFunc(base, func(r rune) bool {
		return r == '-' || r == '_' || r == '.' || r == ' '
	}) {
		if token == code {
			return true
		}
	}
	// Hyphenated codes span multiple dash-delimited tokens; compare with
	// only the code separators removed so trailing hangul still counts as
	// a partial match.
	if strings.ContainsAny(code, "-/ ") {
		strip := strings.NewReplacer("-", "", "/", "", " ", "")
		flat := strip.Replace(code)
		for _, token := range strings.FieldsFunc(base, func(r rune) bool {
			return r == '_' || r == '.' || r == ' '
		}) {
			if strip.Replace(token) == flat {
				return true
			}
		}
	}
	return false
}
