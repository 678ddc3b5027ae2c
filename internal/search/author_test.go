package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractAuthor(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"남준수가 작성한 문서 찾아줘", "남준수"},
		{"김철수이 기안한 보고서", "김철수"},
		{"기안자 남준수 문서", "남준수"},
		{"작성자: 김철수", "김철수"},
		{"남준수 작성 문서 보여줘", "남준수"},
		{"중계차 보수 비용 합계", ""},
		{"이 문서 요약해줘", ""},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractAuthor(tt.query))
		})
	}
}

func TestAuthorQueryVariants(t *testing.T) {
	variants := AuthorQueryVariants("남준수가 작성한 문서", "남준수")
	assert.Len(t, variants, 5)
	assert.Equal(t, "남준수가 작성한 문서", variants[0])
	assert.Contains(t, variants, "남준수 기안자")
	assert.Contains(t, variants, "기안자 남준수")

	// Without an author, only the original query runs.
	assert.Equal(t, []string{"질의"}, AuthorQueryVariants("질의", ""))
}

func TestDrafterMatches(t *testing.T) {
	assert.True(t, DrafterMatches("남준수", "남준수"))
	assert.True(t, DrafterMatches("남준수 차장", "남준수"))
	assert.False(t, DrafterMatches("김철수", "남준수"))
	assert.False(t, DrafterMatches("", "남준수"))
	assert.False(t, DrafterMatches("남준수", ""))
}
