package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
)

const (
	// KoreanTokenizerName is the name of the mixed Korean/code tokenizer.
	KoreanTokenizerName = "korean_code_tokenizer"

	// KoreanAnalyzerName is the name of the custom analyzer.
	KoreanAnalyzerName = "korean_code_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(KoreanTokenizerName, koreanTokenizerConstructor)
}

// BleveBM25Index wraps Bleve v2 for BM25 keyword search.
// Bleve holds an exclusive BoltDB lock: single process only.
type BleveBM25Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

var _ BM25Index = (*BleveBM25Index)(nil)

type bleveDocument struct {
	Content string `json:"content"`
}

// validateBleveIntegrity checks if a Bleve index is valid before opening.
func validateBleveIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// isCorruptionError checks if an error indicates Bleve index corruption.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		strings.Contains(errStr, "no such file or directory") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// NewBleveBM25Index creates a new Bleve-backed lexical index.
// If path is empty, creates an in-memory index.
// Corrupted indexes are cleared and recreated automatically.
func NewBleveBM25Index(path string) (*BleveBM25Index, error) {
	indexMapping, err := createIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateBleveIntegrity(path); validErr != nil {
			slog.Warn("lexical_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("lexical index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			slog.Info("lexical_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, please reindex"))
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isCorruptionError(err) {
			slog.Warn("lexical_index_open_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))

			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("lexical index corrupted, cannot clear: %w (original: %v)", removeErr, err)
			}
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}

	return &BleveBM25Index{index: idx, path: path}, nil
}

// createIndexMapping creates the Bleve index mapping with the Korean analyzer.
func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(KoreanAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     KoreanTokenizerName,
		"token_filters": []string{},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}
	indexMapping.DefaultAnalyzer = KoreanAnalyzerName
	return indexMapping, nil
}

// Index adds documents to the index.
func (b *BleveBM25Index) Index(ctx context.Context, docs []*LexicalDoc) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, bleveDocument{Content: doc.Content}); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Search returns documents matching query, scored by BM25.
func (b *BleveBM25Index) Search(ctx context.Context, queryStr string, limit int) ([]*LexicalResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}

	if strings.TrimSpace(queryStr) == "" {
		return []*LexicalResult{}, nil
	}

	matchQuery := bleve.NewMatchQuery(queryStr)
	matchQuery.SetField("content")

	searchRequest := bleve.NewSearchRequest(matchQuery)
	searchRequest.Size = limit
	searchRequest.IncludeLocations = true

	result, err := b.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]*LexicalResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		results = append(results, &LexicalResult{
			DocID:        hit.ID,
			Score:        hit.Score,
			MatchedTerms: extractMatchedTerms(hit),
		})
	}
	return results, nil
}

// Delete removes documents from the index.
func (b *BleveBM25Index) Delete(ctx context.Context, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range docIDs {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// AllIDs returns all document IDs in the index.
func (b *BleveBM25Index) AllIDs() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}

	query := bleve.NewMatchAllQuery()
	docCount, _ := b.index.DocCount()

	req := bleve.NewSearchRequest(query)
	req.Size = int(docCount)
	req.Fields = []string{}

	result, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search for all IDs: %w", err)
	}

	ids := make([]string, len(result.Hits))
	for i, hit := range result.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// Stats returns index statistics.
func (b *BleveBM25Index) Stats() *LexicalStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return &LexicalStats{}
	}
	docCount, _ := b.index.DocCount()
	return &LexicalStats{DocumentCount: int(docCount)}
}

// Save is a no-op: Bleve persists automatically on disk-backed indexes.
func (b *BleveBM25Index) Save(path string) error {
	return nil
}

// Close closes the index. Idempotent.
func (b *BleveBM25Index) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

// extractMatchedTerms extracts matched terms from a search hit.
func extractMatchedTerms(hit *search.DocumentMatch) []string {
	terms := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if field == "content" {
			for term := range locations {
				terms[term] = struct{}{}
			}
		}
	}

	result := make([]string, 0, len(terms))
	for term := range terms {
		result = append(result, term)
	}
	return result
}

// koreanTokenizerConstructor creates the mixed Korean/code tokenizer.
func koreanTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveKoreanTokenizer{}, nil
}

// bleveKoreanTokenizer implements analysis.Tokenizer using the shared
// Tokenize rules (hangul bigrams, model-code variants).
type bleveKoreanTokenizer struct{}

func (t *bleveKoreanTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := Tokenize(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0

	for _, token := range tokens {
		start := strings.Index(strings.ToLower(text[offset:]), strings.ToLower(token))
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}

	return result
}
