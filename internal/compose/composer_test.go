package compose

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdocs/askdocs/internal/search"
	"github.com/askdocs/askdocs/internal/store"
)

// fakeLLM replays scripted responses and records every prompt.
type fakeLLM struct {
	responses []string
	err       error
	calls     int
	prompts   []string
}

func (f *fakeLLM) Generate(_ context.Context, prompt string) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	i := f.calls - 1
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i], nil
}

func (f *fakeLLM) ModelName() string { return "fake" }

func newTestComposer(t *testing.T, llm LLM, cfg ComposerConfig) *Composer {
	t.Helper()
	c, err := NewComposer(llm, cfg, nil)
	require.NoError(t, err)
	return c
}

func repairChunks() []search.Chunk {
	return []search.Chunk{
		{
			DocID:        "doc_1",
			Rank:         1,
			Score:        0.032,
			Filename:     "2024-10-24_채널에이_중계차_노후_보수건.pdf",
			Drafter:      "남준수",
			Date:         "2024-10-24",
			Category:     string(store.DocTypeRepair),
			ClaimedTotal: 34340000,
			Text:         "중계차 노후 장비 보수.\n합계 금액 34,340,000원.\n조치 완료.",
		},
		{
			DocID:    "doc_2",
			Rank:     2,
			Score:    0.016,
			Filename: "2024-10-25_중계차_점검.pdf",
			Category: string(store.DocTypeRepair),
			Text:     "후속 점검 결과 이상 없음. 점검 일자 2024-10-25.",
		},
	}
}

func TestComposeNoChunksFixedReply(t *testing.T) {
	llm := &fakeLLM{responses: []string{"호출되면 안 됨"}}
	c := newTestComposer(t, llm, ComposerConfig{AllowUngroundedChat: false})

	ans, err := c.Compose(context.Background(), "APEX 중계 동시통역 라우팅 정확한 연결 도면?", nil)
	require.NoError(t, err)
	assert.Equal(t, NoDocumentsReply, ans.Text)
	assert.Zero(t, ans.Confidence)
	assert.Zero(t, llm.calls, "no LLM call on the fixed-reply path")
}

func TestComposeNoChunksUngrounded(t *testing.T) {
	llm := &fakeLLM{responses: []string{"관련 문서는 없지만 일반적으로는 이렇습니다."}}
	c := newTestComposer(t, llm, ComposerConfig{AllowUngroundedChat: true})

	ans, err := c.Compose(context.Background(), "동시통역 라우팅?", nil)
	require.NoError(t, err)
	assert.NotEqual(t, NoDocumentsReply, ans.Text)
	assert.Equal(t, 1, llm.calls)
	assert.False(t, ans.HasProperCitation)
}

func TestComposeCitedAnswer(t *testing.T) {
	llm := &fakeLLM{responses: []string{
		"```json\n{\"증상\": \"노후\", \"원인\": \"장비 수명\", \"조치\": \"보수 완료\", \"금액\": 34340000, \"요약\": \"보수 완료\"}\n```\n출처: 2024-10-24_채널에이_중계차_노후_보수건.pdf",
	}}
	c := newTestComposer(t, llm, DefaultComposerConfig())

	chunks := repairChunks()
	ans, err := c.Compose(context.Background(), "중계차 보수 조치 내용은?", chunks)
	require.NoError(t, err)

	assert.True(t, ans.HasProperCitation)
	assert.Equal(t, []string{"2024-10-24_채널에이_중계차_노후_보수건.pdf"}, ans.SourcesCited)
	assert.Equal(t, store.DocTypeRepair, ans.Doctype)
	require.NotNil(t, ans.Structured)
	assert.Equal(t, "보수 완료", ans.Structured["조치"])
	assert.Equal(t, 1, llm.calls)
	assert.Greater(t, ans.Confidence, 0.3)
	assert.Equal(t, chunks, ans.Evidence)
}

func TestComposeGenericSummarySchema(t *testing.T) {
	llm := &fakeLLM{responses: []string{
		"{\"목적배경\": \"출장 결과 공유\", \"주요내용\": \"현지 점검\", \"결론조치\": \"후속 회의\"} [2024-03-03_출장보고.pdf]",
	}}
	c := newTestComposer(t, llm, DefaultComposerConfig())

	chunks := []search.Chunk{{
		DocID:    "doc_7",
		Rank:     1,
		Score:    0.016,
		Filename: "2024-03-03_출장보고.pdf",
		Text:     "해외 출장 결과입니다.",
	}}
	ans, err := c.Compose(context.Background(), "이 문서 요약해줘", chunks)
	require.NoError(t, err)

	// The generic template asks for the three summary fields.
	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "목적배경")
	assert.Contains(t, llm.prompts[0], "주요내용")
	assert.Contains(t, llm.prompts[0], "결론조치")

	require.NotNil(t, ans.Structured)
	assert.Equal(t, "출장 결과 공유", ans.Structured["목적배경"])
	assert.True(t, ans.HasProperCitation)
}

func TestComposeRetryThenForcedSourceLine(t *testing.T) {
	// The model never cites; retry budget 1 means two calls total.
	llm := &fakeLLM{responses: []string{"인용 없는 답변입니다."}}
	c := newTestComposer(t, llm, ComposerConfig{MaxRetry: 1, MaxChunks: 5})

	chunks := repairChunks()
	ans, err := c.Compose(context.Background(), "보수 내용 알려줘", chunks)
	require.NoError(t, err)

	assert.Equal(t, 2, llm.calls)
	assert.False(t, ans.HasProperCitation)
	assert.True(t, strings.HasSuffix(ans.Text,
		"출처: [2024-10-24_채널에이_중계차_노후_보수건.pdf] [2024-10-25_중계차_점검.pdf]"))
	assert.Equal(t, []string{
		"2024-10-24_채널에이_중계차_노후_보수건.pdf",
		"2024-10-25_중계차_점검.pdf",
	}, ans.SourcesCited)
}

func TestComposeNeverNoInformationWithChunks(t *testing.T) {
	llm := &fakeLLM{err: fmt.Errorf("model unavailable")}
	c := newTestComposer(t, llm, ComposerConfig{MaxRetry: 1, MaxChunks: 5})

	chunks := repairChunks()
	ans, err := c.Compose(context.Background(), "보수 내용 알려줘", chunks)
	require.NoError(t, err)

	assert.NotEqual(t, NoDocumentsReply, ans.Text)
	assert.NotContains(t, ans.Text, NoDocumentsReply)
	assert.Contains(t, ans.Text, "2024-10-24_채널에이_중계차_노후_보수건.pdf")
	assert.False(t, ans.HasProperCitation)
	assert.Contains(t, ans.Text, "출처: ")
	assert.NotEmpty(t, ans.SourcesCited)
}

func TestComposePromptHeaderAndClaimedTotal(t *testing.T) {
	llm := &fakeLLM{responses: []string{"답변 [2024-10-24_채널에이_중계차_노후_보수건.pdf]"}}
	c := newTestComposer(t, llm, DefaultComposerConfig())

	_, err := c.Compose(context.Background(), "중계차 보수 합계 얼마였지?", repairChunks())
	require.NoError(t, err)

	require.Len(t, llm.prompts, 1)
	prompt := llm.prompts[0]
	assert.Contains(t, prompt, "기안자: 남준수")
	assert.Contains(t, prompt, "₩34,340,000")
	assert.Contains(t, prompt, "문서에 있는 사실만")
	assert.Contains(t, prompt, "[파일명.pdf]")
}

func TestPackChunkText(t *testing.T) {
	text := "서론 문단입니다.\n합계 금액 1,200,000원\n무관한 잡담 라인\n납품 일자 2024-07-01"

	// Non-bulky queries keep only amount/date/procurement lines.
	packed := packChunkText(text, false)
	assert.Contains(t, packed, "합계 금액 1,200,000원")
	assert.Contains(t, packed, "납품 일자 2024-07-01")
	assert.NotContains(t, packed, "잡담")

	// Bulky queries keep everything up to the larger budget.
	packed = packChunkText(text, true)
	assert.Contains(t, packed, "잡담")

	// No matching lines falls back to the truncated original.
	packed = packChunkText("키워드 없는 본문입니다", false)
	assert.Equal(t, "키워드 없는 본문입니다", packed)
}

func TestComposeBulkyQueryKeepsTables(t *testing.T) {
	llm := &fakeLLM{responses: []string{"답변 [구매내역.pdf]"}}
	c := newTestComposer(t, llm, DefaultComposerConfig())

	chunks := []search.Chunk{{
		DocID:    "doc_3",
		Rank:     1,
		Score:    0.02,
		Filename: "구매내역.pdf",
		Text:     "서론 설명 문단\n케이블 5EA 50000원",
	}}
	_, err := c.Compose(context.Background(), "품목별 구매 금액 알려줘", chunks)
	require.NoError(t, err)

	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "서론 설명 문단")
}

func TestComposeMinutesTemplateSelected(t *testing.T) {
	llm := &fakeLLM{responses: []string{"답변 [2024-09-01_운영회의.pdf]"}}
	c := newTestComposer(t, llm, DefaultComposerConfig())

	chunks := []search.Chunk{{
		DocID:    "doc_4",
		Rank:     1,
		Score:    0.02,
		Filename: "2024-09-01_운영회의.pdf",
		Text:     "참석자: 남준수 외 4인\n안건: 장비 구매\n결정: 예산 승인",
	}}
	ans, err := c.Compose(context.Background(), "회의 결과 알려줘", chunks)
	require.NoError(t, err)

	assert.Equal(t, store.DocTypeMinutes, ans.Doctype)
	assert.Contains(t, llm.prompts[0], "결정사항")
}

func TestFormatWon(t *testing.T) {
	assert.Equal(t, "₩34,340,000", FormatWon(34340000))
	assert.Equal(t, "₩500", FormatWon(500))
	assert.Equal(t, "₩1,000", FormatWon(1000))
	assert.Equal(t, "₩0", FormatWon(0))
	assert.Equal(t, "-₩12,345", FormatWon(-12345))
}

func TestConfidenceScore(t *testing.T) {
	cited := confidenceScore(0.03, 2, "보수 공사가 완료되어 합계 금액이 확정되었습니다. 세부 내역은 첨부 문서를 참고하세요.")
	uncited := confidenceScore(0.03, 0, "보수 공사가 완료되어 합계 금액이 확정되었습니다. 세부 내역은 첨부 문서를 참고하세요.")
	assert.Greater(t, cited, uncited)

	hedged := confidenceScore(0.03, 0, "해당 내용은 문서에서 확인할 수 없습니다. 다른 자료를 참고해야 할 것 같습니다.")
	assert.Less(t, hedged, uncited)

	assert.GreaterOrEqual(t, confidenceScore(0, 0, ""), 0.0)
	assert.LessOrEqual(t, confidenceScore(10, 3, strings.Repeat("답", 200)), 1.0)
}
