package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// StaticEmbedder generates embeddings using a hash-based approach.
// Deterministic and dependency-free; semantic quality is reduced but the
// hybrid retriever still gets lexical recall from the BM25 side.
type StaticEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*StaticEmbedder)(nil)

// Weights for vector generation. Whole tokens carry most of the signal;
// character n-grams add partial-match recall for Korean compounds.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 2
)

// staticTokenRegex matches hangul runs or alphanumeric runs.
var staticTokenRegex = regexp.MustCompile(`[\x{AC00}-\x{D7A3}]+|[a-zA-Z0-9]+`)

// NewStaticEmbedder creates a new static embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

// Embed generates an embedding for a single text.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, StaticDimensions), nil
	}

	return normalizeVector(e.generateVector(trimmed)), nil
}

// generateVector creates a hash-based vector from text.
func (e *StaticEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, StaticDimensions)
	normalized := strings.ToLower(norm.NFKC.String(text))

	tokens := staticTokenRegex.FindAllString(normalized, -1)
	for _, token := range tokens {
		vector[hashToIndex(token, StaticDimensions)] += tokenWeight
	}

	for _, ngram := range extractNgrams(stripNonLetters(normalized), ngramSize) {
		vector[hashToIndex(ngram, StaticDimensions)] += ngramWeight
	}

	return vector
}

// stripNonLetters keeps letters and digits only, for n-gram extraction.
func stripNonLetters(text string) string {
	var result strings.Builder
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// extractNgrams extracts n-rune sliding windows.
// Rune-based so hangul syllables form proper grams.
func extractNgrams(text string, n int) []string {
	runes := []rune(text)
	if len(runes) < n {
		return []string{}
	}

	ngrams := make([]string, 0, len(runes)-n+1)
	for i := 0; i+n <= len(runes); i++ {
		ngrams = append(ngrams, string(runes[i:i+n]))
	}
	return ngrams
}

// hashToIndex uses FNV-64 to map a string to a vector index.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// EmbedBatch generates embeddings for multiple texts.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		results[i] = emb
	}
	return results, nil
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int {
	return StaticDimensions
}

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string {
	return "static"
}

// Available checks if the embedder is ready (always true unless closed).
func (e *StaticEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
