package compose

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/askdocs/askdocs/internal/search"
)

// Citation patterns the enforcement pass recognizes. Dated filenames
// like 2024-10-24_보수건.pdf fall out of the bracket forms.
var (
	bracketCitationRegex = regexp.MustCompile(`\[([^\[\]\n]+?\.(?:pdf|txt))\]`)
	cornerCitationRegex  = regexp.MustCompile(`「([^「」\n]+?\.(?:pdf|txt))」`)
	labelCitationRegex   = regexp.MustCompile(`(?m)(?:출처|근거)\s*[:：]\s*(.+)$`)
	bareFilenameRegex    = regexp.MustCompile(`[\w가-힣().-]+\.(?:pdf|txt)`)
)

// ExtractCitations returns every filename the answer cites, deduplicated
// in first-seen order.
func ExtractCitations(answer string) []string {
	var cites []string
	seen := map[string]bool{}
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		cites = append(cites, name)
	}

	for _, m := range bracketCitationRegex.FindAllStringSubmatch(answer, -1) {
		add(m[1])
	}
	for _, m := range cornerCitationRegex.FindAllStringSubmatch(answer, -1) {
		add(m[1])
	}
	for _, m := range labelCitationRegex.FindAllStringSubmatch(answer, -1) {
		// A source line may name several files.
		for _, name := range bareFilenameRegex.FindAllString(m[1], -1) {
			add(name)
		}
	}
	return cites
}

// ValidateCitations keeps only citations that name a retrieved chunk.
func ValidateCitations(citations []string, chunks []search.Chunk) []string {
	if len(citations) == 0 || len(chunks) == 0 {
		return nil
	}
	known := make(map[string]string, len(chunks))
	for _, c := range chunks {
		known[strings.ToLower(c.Filename)] = c.Filename
	}

	var valid []string
	seen := map[string]bool{}
	for _, cite := range citations {
		canonical, ok := known[strings.ToLower(cite)]
		if !ok || seen[canonical] {
			continue
		}
		seen[canonical] = true
		valid = append(valid, canonical)
	}
	return valid
}

// SynthesizeSourceLine builds the forced "출처: [a] [b]" line from the
// top chunks.
func SynthesizeSourceLine(chunks []search.Chunk, max int) string {
	if max <= 0 {
		max = 2
	}
	var names []string
	seen := map[string]bool{}
	for _, c := range chunks {
		if c.Filename == "" || seen[c.Filename] {
			continue
		}
		seen[c.Filename] = true
		names = append(names, fmt.Sprintf("[%s]", c.Filename))
		if len(names) >= max {
			break
		}
	}
	if len(names) == 0 {
		return ""
	}
	return "출처: " + strings.Join(names, " ")
}
