package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedEmbedder wraps an Embedder with an LRU cache keyed by text hash.
// Query embeddings repeat heavily (cache-miss queries re-embed the same
// normalized text), so this sits in front of the ollama provider.
type CachedEmbedder struct {
	inner Embedder

	mu    sync.Mutex
	cache *lru.Cache[string, []float32]

	hits   int64
	misses int64
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps inner with a cache of the given size.
func NewCachedEmbedder(inner Embedder, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

// cacheKey hashes the text together with the model so a model switch
// never serves stale vectors.
func (c *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(c.inner.ModelName() + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// Embed returns a cached embedding or delegates to the inner embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)

	c.mu.Lock()
	if vec, ok := c.cache.Get(key); ok {
		c.hits++
		c.mu.Unlock()
		return vec, nil
	}
	c.misses++
	c.mu.Unlock()

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache.Add(key, vec)
	c.mu.Unlock()
	return vec, nil
}

// EmbedBatch embeds texts, serving cached entries and batching the rest.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	c.mu.Lock()
	for i, text := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
			c.hits++
			results[i] = vec
		} else {
			c.misses++
			missing = append(missing, text)
			missingIdx = append(missingIdx, i)
		}
	}
	c.mu.Unlock()

	if len(missing) > 0 {
		vecs, err := c.inner.EmbedBatch(ctx, missing)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		for j, vec := range vecs {
			results[missingIdx[j]] = vec
			c.cache.Add(c.cacheKey(missing[j]), vec)
		}
		c.mu.Unlock()
	}
	return results, nil
}

// Stats returns cache hit/miss counts.
func (c *CachedEmbedder) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Dimensions returns the inner embedder's dimension.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// ModelName returns the inner embedder's model identifier.
func (c *CachedEmbedder) ModelName() string { return c.inner.ModelName() }

// Available delegates to the inner embedder.
func (c *CachedEmbedder) Available(ctx context.Context) bool { return c.inner.Available(ctx) }

// Close closes the inner embedder.
func (c *CachedEmbedder) Close() error { return c.inner.Close() }
