package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{
			name:  "plain object",
			input: `답변입니다: {"요약": "보수 완료"} 이상입니다.`,
			want:  `{"요약": "보수 완료"}`,
			ok:    true,
		},
		{
			name:  "nested braces",
			input: `{"a": {"b": 1}, "c": 2} trailing {"d": 3}`,
			want:  `{"a": {"b": 1}, "c": 2}`,
			ok:    true,
		},
		{
			name:  "braces inside strings",
			input: `{"요약": "중괄호 } 포함 텍스트"}`,
			want:  `{"요약": "중괄호 } 포함 텍스트"}`,
			ok:    true,
		},
		{
			name:  "code fence",
			input: "설명\n```json\n{\"합계\": 34340000}\n```\n끝",
			want:  `{"합계": 34340000}`,
			ok:    true,
		},
		{
			name:  "no object",
			input: "자유 서술형 답변입니다.",
			ok:    false,
		},
		{
			name:  "unbalanced",
			input: `{"미완성": `,
			ok:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSONObject(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestLenientUnmarshalTrailingComma(t *testing.T) {
	var v map[string]interface{}
	err := LenientUnmarshal([]byte(`{"품목": ["케이블", "커넥터",], "합계": 120000,}`), &v)
	require.NoError(t, err)
	assert.Equal(t, float64(120000), v["합계"])
	assert.Len(t, v["품목"], 2)
}

func TestParseAnswerJSON(t *testing.T) {
	parsed, ok := ParseAnswerJSON("요약:\n```json\n{\"목적배경\": \"노후 보수\", \"주요내용\": \"장비 교체\",}\n```")
	require.True(t, ok)
	assert.Equal(t, "노후 보수", parsed["목적배경"])

	_, ok = ParseAnswerJSON("서술형 답변만 있습니다.")
	assert.False(t, ok)
}
