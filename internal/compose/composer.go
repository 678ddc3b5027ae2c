package compose

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/askdocs/askdocs/internal/search"
	"github.com/askdocs/askdocs/internal/store"
)

// NoDocumentsReply is the fixed response when retrieval found nothing
// and ungrounded answers are disabled.
const NoDocumentsReply = "검색된 관련 문서가 없습니다"

const (
	// bulkyChunkChars is the per-chunk budget for itemized queries that
	// need whole tables (품목/구매/금액).
	bulkyChunkChars = 3000
	// filteredChunkChars is the per-chunk budget after line filtering.
	filteredChunkChars = 1200
	// fallbackChunkChars is the per-chunk slice for the degraded summary.
	fallbackChunkChars = 200
	// maxFallbackChunks bounds the degraded summary.
	maxFallbackChunks = 3
)

// bulkyContextRegex marks queries whose answers need itemized tables.
var bulkyContextRegex = regexp.MustCompile(`품목|구매|금액`)

// keepLineRegex selects lines carrying amounts, dates, or procurement
// intent during context packing.
var keepLineRegex = regexp.MustCompile(`[0-9][0-9,.]*\s*원|₩\s*[0-9]|\d{4}[-./]\d{1,2}|합계|총액|금액|비용|부가세|구매|납품|계약|지급|결재|검토|결정|조치|보수|수리`)

// ComposerConfig tunes the answer composer.
type ComposerConfig struct {
	// MaxRetry is how many extra LLM calls citation enforcement may spend.
	MaxRetry int
	// AllowUngroundedChat permits free-form answers with no chunks.
	AllowUngroundedChat bool
	// MaxChunks bounds how many chunks enter the prompt.
	MaxChunks int
}

// DefaultComposerConfig returns the production defaults.
func DefaultComposerConfig() ComposerConfig {
	return ComposerConfig{MaxRetry: 1, MaxChunks: 5}
}

// Answer is the composed, citation-checked result.
type Answer struct {
	Text              string                 `json:"answer"`
	SourcesCited      []string               `json:"sources_cited"`
	Confidence        float64                `json:"confidence"`
	HasProperCitation bool                   `json:"has_proper_citation"`
	Doctype           store.DocType          `json:"doctype"`
	Structured        map[string]interface{} `json:"structured,omitempty"`
	// Evidence is the chunk subset the answer was built from.
	Evidence []search.Chunk `json:"evidence,omitempty"`
}

// Composer assembles prompts, calls the LLM, and enforces grounding.
type Composer struct {
	llm    LLM
	cfg    ComposerConfig
	logger *slog.Logger
}

// NewComposer builds a composer.
func NewComposer(llm LLM, cfg ComposerConfig, logger *slog.Logger) (*Composer, error) {
	if llm == nil {
		return nil, fmt.Errorf("composer requires an LLM client")
	}
	if cfg.MaxRetry < 0 {
		cfg.MaxRetry = 0
	}
	if cfg.MaxChunks <= 0 {
		cfg.MaxChunks = DefaultComposerConfig().MaxChunks
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{llm: llm, cfg: cfg, logger: logger}, nil
}

// Compose answers a query from retrieved chunks. With chunks present it
// never returns the no-documents reply and never fails outright: LLM
// errors degrade to a basic chunk summary.
func (c *Composer) Compose(ctx context.Context, query string, chunks []search.Chunk) (*Answer, error) {
	if len(chunks) == 0 {
		return c.composeUngrounded(ctx, query)
	}
	if len(chunks) > c.cfg.MaxChunks {
		chunks = chunks[:c.cfg.MaxChunks]
	}

	top := chunks[0]
	doctype := DetectDoctype(store.DocType(top.Category), top.Filename, top.Text)
	tmpl := TemplateFor(doctype)
	prompt := c.buildPrompt(query, chunks, tmpl)

	attempts := 1 + c.cfg.MaxRetry
	var lastText string
	for attempt := 0; attempt < attempts; attempt++ {
		raw, err := c.llm.Generate(ctx, prompt)
		if err != nil {
			c.logger.Warn("model_call_failed",
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		lastText = raw

		cited := ValidateCitations(ExtractCitations(raw), chunks)
		if len(cited) > 0 {
			structured, _ := ParseAnswerJSON(raw)
			return &Answer{
				Text:              raw,
				SourcesCited:      cited,
				Confidence:        confidenceScore(top.Score, len(cited), raw),
				HasProperCitation: true,
				Doctype:           doctype,
				Structured:        structured,
				Evidence:          chunks,
			}, nil
		}
		c.logger.Debug("citation_missing", slog.Int("attempt", attempt+1))
	}

	if lastText != "" {
		// Retry budget exhausted without a valid citation: keep the
		// answer, append a synthesized source line.
		sourceLine := SynthesizeSourceLine(chunks, 2)
		text := strings.TrimRight(lastText, "\n") + "\n\n" + sourceLine
		structured, _ := ParseAnswerJSON(lastText)
		return &Answer{
			Text:              text,
			SourcesCited:      ValidateCitations(ExtractCitations(sourceLine), chunks),
			Confidence:        confidenceScore(top.Score, 0, lastText),
			HasProperCitation: false,
			Doctype:           doctype,
			Structured:        structured,
			Evidence:          chunks,
		}, nil
	}

	// Every LLM call failed; chunks exist, so summarize them directly.
	return c.basicSummary(doctype, chunks), nil
}

// composeUngrounded handles the zero-chunk path.
func (c *Composer) composeUngrounded(ctx context.Context, query string) (*Answer, error) {
	if !c.cfg.AllowUngroundedChat {
		return &Answer{Text: NoDocumentsReply}, nil
	}

	prompt := "다음 질문에 간결하게 한국어로 답하세요. 관련 사내 문서는 검색되지 않았으므로, 그 사실을 답변에 포함하세요.\n\n질문: " + query
	raw, err := c.llm.Generate(ctx, prompt)
	if err != nil {
		c.logger.Warn("model_call_failed", slog.String("error", err.Error()))
		return &Answer{Text: NoDocumentsReply}, nil
	}
	return &Answer{
		Text:       strings.TrimSpace(raw),
		Confidence: confidenceScore(0, 0, raw),
	}, nil
}

// buildPrompt assembles the document header, packed chunks, output
// schema, and the hard grounding instructions.
func (c *Composer) buildPrompt(query string, chunks []search.Chunk, tmpl PromptTemplate) string {
	var b strings.Builder
	b.WriteString("다음 사내 문서 내용을 바탕으로 질문에 답하세요.\n\n")

	top := chunks[0]
	b.WriteString("대상 문서: " + top.Filename)
	if top.Drafter != "" {
		b.WriteString(" (기안자: " + top.Drafter)
		if top.Date != "" {
			b.WriteString(", 날짜: " + top.Date)
		}
		b.WriteString(")")
	} else if top.Date != "" {
		b.WriteString(" (날짜: " + top.Date + ")")
	}
	b.WriteString("\n")
	if top.ClaimedTotal > 0 {
		b.WriteString("문서에 기재된 합계: " + FormatWon(top.ClaimedTotal) + "\n")
	}
	b.WriteString("\n")

	bulky := bulkyContextRegex.MatchString(query)
	for i, chunk := range chunks {
		fmt.Fprintf(&b, "[문서 %d] %s\n", i+1, chunk.Filename)
		b.WriteString(packChunkText(chunk.Text, bulky))
		b.WriteString("\n\n")
	}

	b.WriteString("답변은 다음 JSON 형식으로 작성하세요:\n```json\n")
	b.WriteString(tmpl.Schema)
	b.WriteString("\n```\n")
	b.WriteString(tmpl.Guidance)
	b.WriteString("\n\n")
	b.WriteString("규칙:\n")
	b.WriteString("- 문서에 있는 사실만 사용하세요.\n")
	b.WriteString("- 출처를 [파일명.pdf] 형식으로 표기하세요.\n")
	b.WriteString("- 문서와 같은 언어로 답하세요.\n\n")
	b.WriteString("질문: " + query + "\n")
	return b.String()
}

// packChunkText fits one chunk into its context budget. Bulky queries
// keep whole tables; everything else is filtered line by line to
// amount/date/procurement content.
func packChunkText(text string, bulky bool) string {
	if bulky {
		return truncateRunes(text, bulkyChunkChars)
	}

	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if keepLineRegex.MatchString(line) {
			kept = append(kept, line)
		}
	}
	if len(kept) == 0 {
		return truncateRunes(text, filteredChunkChars)
	}
	return truncateRunes(strings.Join(kept, "\n"), filteredChunkChars)
}

// basicSummary is the degraded answer when the LLM is unavailable but
// chunks exist.
func (c *Composer) basicSummary(doctype store.DocType, chunks []search.Chunk) *Answer {
	var b strings.Builder
	b.WriteString("관련 문서 요약:\n")
	n := len(chunks)
	if n > maxFallbackChunks {
		n = maxFallbackChunks
	}
	for _, chunk := range chunks[:n] {
		b.WriteString("\n- " + chunk.Filename + "\n  ")
		b.WriteString(truncateRunes(strings.ReplaceAll(chunk.Text, "\n", " "), fallbackChunkChars))
		b.WriteString("\n")
	}
	sourceLine := SynthesizeSourceLine(chunks, 2)
	b.WriteString("\n" + sourceLine)

	text := b.String()
	return &Answer{
		Text:              text,
		SourcesCited:      ValidateCitations(ExtractCitations(sourceLine), chunks),
		Confidence:        confidenceScore(chunks[0].Score, 0, text),
		HasProperCitation: false,
		Doctype:           doctype,
		Evidence:          chunks[:n],
	}
}

// FormatWon renders an amount as "₩34,340,000".
func FormatWon(amount int64) string {
	digits := fmt.Sprintf("%d", amount)
	neg := false
	if strings.HasPrefix(digits, "-") {
		neg = true
		digits = digits[1:]
	}
	var parts []string
	for len(digits) > 3 {
		parts = append([]string{digits[len(digits)-3:]}, parts...)
		digits = digits[:len(digits)-3]
	}
	parts = append([]string{digits}, parts...)
	out := "₩" + strings.Join(parts, ",")
	if neg {
		return "-" + out
	}
	return out
}

// truncateRunes cuts s to at most n runes without splitting one.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
