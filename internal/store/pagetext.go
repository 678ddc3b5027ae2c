package store

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ledongthuc/pdf"
)

// PageTextExtractor reads plain text from individual PDF pages on demand.
// Used by the page preview operation; extraction results are LRU-cached
// because office PDFs are re-previewed in bursts.
type PageTextExtractor struct {
	mu    sync.Mutex
	cache *lru.Cache[string, string]
}

// NewPageTextExtractor creates an extractor with a cache of cacheSize pages.
func NewPageTextExtractor(cacheSize int) (*PageTextExtractor, error) {
	if cacheSize <= 0 {
		cacheSize = 128
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create page cache: %w", err)
	}
	return &PageTextExtractor{cache: cache}, nil
}

// PageCount returns the number of pages in the PDF at path.
func (p *PageTextExtractor) PageCount(path string) (int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open pdf %s: %w", path, err)
	}
	defer f.Close()
	return r.NumPage(), nil
}

// ExtractPage returns the plain text of one page (1-indexed).
func (p *PageTextExtractor) ExtractPage(path string, pageNum int) (string, error) {
	key := fmt.Sprintf("%s#%d", path, pageNum)

	p.mu.Lock()
	if text, ok := p.cache.Get(key); ok {
		p.mu.Unlock()
		return text, nil
	}
	p.mu.Unlock()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open pdf %s: %w", path, err)
	}
	defer f.Close()

	if pageNum < 1 || pageNum > r.NumPage() {
		return "", fmt.Errorf("page %d out of range (1-%d)", pageNum, r.NumPage())
	}

	page := r.Page(pageNum)
	if page.V.IsNull() {
		return "", fmt.Errorf("page %d is empty", pageNum)
	}

	text, err := page.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("failed to extract text from page %d: %w", pageNum, err)
	}

	p.mu.Lock()
	p.cache.Add(key, text)
	p.mu.Unlock()
	return text, nil
}

// Invalidate drops cached pages for a path, called after reingest.
func (p *PageTextExtractor) Invalidate(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, key := range p.cache.Keys() {
		if len(key) > len(path) && key[:len(path)] == path && key[len(path)] == '#' {
			p.cache.Remove(key)
		}
	}
}
