package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// TTLMode selects expiry semantics for the in-memory tier.
type TTLMode string

const (
	// TTLSliding renews the entry's lifetime on every hit.
	TTLSliding TTLMode = "sliding"
	// TTLAbsolute expires the entry a fixed interval after creation.
	TTLAbsolute TTLMode = "absolute"
)

// MemoryStats reports in-memory tier counters.
type MemoryStats struct {
	Size    int   `json:"size"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Expired int64 `json:"expired"`
}

type memoryEntry struct {
	value      []byte
	createdAt  time.Time
	accessedAt time.Time
}

// MemoryCache is the fast tier: an LRU bounded by entry count, with a
// sliding or absolute TTL. All public operations share one lock; expired
// entries are purged before each lookup. time.Now carries a monotonic
// reading, so expiry is immune to wall-clock jumps.
type MemoryCache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *memoryEntry]
	ttl     time.Duration
	mode    TTLMode
	now     func() time.Time

	hits    int64
	misses  int64
	expired int64
}

// NewMemoryCache builds the in-memory tier. maxSize <= 0 defaults to 500.
func NewMemoryCache(maxSize int, ttl time.Duration, mode TTLMode) (*MemoryCache, error) {
	if maxSize <= 0 {
		maxSize = 500
	}
	if mode == "" {
		mode = TTLSliding
	}
	entries, err := lru.New[string, *memoryEntry](maxSize)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{
		entries: entries,
		ttl:     ttl,
		mode:    mode,
		now:     time.Now,
	}, nil
}

func (c *MemoryCache) isExpired(e *memoryEntry, now time.Time) bool {
	if c.ttl <= 0 {
		return false
	}
	ref := e.createdAt
	if c.mode == TTLSliding && e.accessedAt.After(ref) {
		ref = e.accessedAt
	}
	return now.Sub(ref) > c.ttl
}

// purgeExpired removes all expired entries. Caller holds the lock.
func (c *MemoryCache) purgeExpired(now time.Time) {
	for _, key := range c.entries.Keys() {
		if e, ok := c.entries.Peek(key); ok && c.isExpired(e, now) {
			c.entries.Remove(key)
			c.expired++
		}
	}
}

// Get returns the cached value, renewing the sliding TTL on a hit.
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.purgeExpired(now)

	e, ok := c.entries.Get(key)
	if !ok {
		c.misses++
		return nil, false
	}
	e.accessedAt = now
	c.hits++
	return e.value, true
}

// Set stores a value, evicting the least recently used entry when full.
func (c *MemoryCache) Set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries.Add(key, &memoryEntry{value: value, createdAt: now, accessedAt: now})
}

// Clear drops every entry.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

// Stats returns current counters.
func (c *MemoryCache) Stats() MemoryStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return MemoryStats{
		Size:    c.entries.Len(),
		Hits:    c.hits,
		Misses:  c.misses,
		Expired: c.expired,
	}
}
