package compose

import (
	"strings"
	"unicode/utf8"
)

// negativePhrases lower confidence when the model hedges.
var negativePhrases = []string{"찾을 수 없", "확인할 수 없", "알 수 없", "정보가 없"}

// confidenceScore blends retrieval strength, citation presence, and
// answer-shape signals into [0, 1].
func confidenceScore(topChunkScore float64, citations int, answer string) float64 {
	// RRF scores live around 1/(k+1); an exact-code or boosted hit can
	// exceed 1. Squash into [0, 0.5].
	base := topChunkScore / (topChunkScore + 0.05)
	score := 0.5 * base

	if citations > 0 {
		score += 0.3
		if citations > 1 {
			score += 0.1
		}
	}

	length := utf8.RuneCountInString(answer)
	switch {
	case length < 20:
		score -= 0.2
	case length < 50:
		score -= 0.1
	}

	for _, phrase := range negativePhrases {
		if strings.Contains(answer, phrase) {
			score -= 0.3
			break
		}
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
