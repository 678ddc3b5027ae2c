// Package telemetry collects local query metrics: mode distribution,
// latency buckets, cache effectiveness, and zero-result queries. Nothing
// leaves the process.
package telemetry

import (
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LatencyBucket is a coarse latency histogram bucket.
type LatencyBucket string

const (
	BucketUnder10ms  LatencyBucket = "lt_10ms"
	BucketUnder50ms  LatencyBucket = "lt_50ms"
	BucketUnder100ms LatencyBucket = "lt_100ms"
	BucketUnder500ms LatencyBucket = "lt_500ms"
	BucketUnder5s    LatencyBucket = "lt_5s"
	BucketOver5s     LatencyBucket = "ge_5s"
)

// LatencyToBucket maps a duration to its bucket. Answers that hit the
// cache land in the low buckets; model-backed answers in the top two.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketUnder10ms
	case ms < 50:
		return BucketUnder50ms
	case ms < 100:
		return BucketUnder100ms
	case ms < 500:
		return BucketUnder500ms
	case ms < 5000:
		return BucketUnder5s
	default:
		return BucketOver5s
	}
}

// QueryEvent is one answered query.
type QueryEvent struct {
	Query       string
	Mode        string
	ResultCount int
	CacheHit    bool
	Latency     time.Duration
	Timestamp   time.Time
}

// ring is a fixed-capacity FIFO of recent values.
type ring[T any] struct {
	items []T
	head  int
	size  int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &ring[T]{items: make([]T, capacity)}
}

func (r *ring[T]) add(item T) {
	r.items[r.head] = item
	r.head = (r.head + 1) % len(r.items)
	if r.size < len(r.items) {
		r.size++
	}
}

// values returns the buffered items oldest-first.
func (r *ring[T]) values() []T {
	out := make([]T, 0, r.size)
	if r.size < len(r.items) {
		out = append(out, r.items[:r.size]...)
		return out
	}
	out = append(out, r.items[r.head:]...)
	out = append(out, r.items[:r.head]...)
	return out
}

// ExtractTerms lowercases the query and keeps words of 2+ runes for the
// top-terms table. Korean nouns are commonly two syllables, so the
// cutoff is by runes, not bytes.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(strings.TrimSpace(query))) {
		if len([]rune(w)) >= 2 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount is a term with its observed frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Snapshot is an immutable view of the collected metrics.
type Snapshot struct {
	ModeCounts          map[string]int64        `json:"mode_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	CacheHits           int64                   `json:"cache_hits"`
	CacheMisses         int64                   `json:"cache_misses"`
	Since               time.Time               `json:"since"`
}

// CacheHitRate returns hits / (hits+misses), or 0 before any query.
func (s *Snapshot) CacheHitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total)
}

// ZeroResultRate returns the fraction of queries with no results.
func (s *Snapshot) ZeroResultRate() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries)
}

// Collector aggregates query events in memory. Thread-safe.
type Collector struct {
	mu sync.RWMutex

	modeCounts      map[string]int64
	topTerms        *lru.Cache[string, int64]
	zeroResults     *ring[string]
	latencies       map[LatencyBucket]int64
	totalQueries    int64
	zeroResultCount int64
	cacheHits       int64
	cacheMisses     int64
	startTime       time.Time
	closed          bool
}

const (
	defaultTopTermsCapacity    = 100
	defaultZeroResultsCapacity = 100
)

// NewCollector builds a collector with default capacities.
func NewCollector() *Collector {
	topTerms, _ := lru.New[string, int64](defaultTopTermsCapacity)
	return &Collector{
		modeCounts:  make(map[string]int64),
		topTerms:    topTerms,
		zeroResults: newRing[string](defaultZeroResultsCapacity),
		latencies:   make(map[LatencyBucket]int64),
		startTime:   time.Now(),
	}
}

// Record captures one query event. Non-blocking.
func (c *Collector) Record(event QueryEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.totalQueries++
	c.modeCounts[event.Mode]++
	c.latencies[LatencyToBucket(event.Latency)]++

	if event.CacheHit {
		c.cacheHits++
	} else {
		c.cacheMisses++
	}

	for _, term := range ExtractTerms(event.Query) {
		count, _ := c.topTerms.Get(term)
		c.topTerms.Add(term, count+1)
	}

	if event.ResultCount == 0 {
		c.zeroResults.add(event.Query)
		c.zeroResultCount++
	}
}

// Snapshot returns the current metrics for reporting.
func (c *Collector) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	modes := make(map[string]int64, len(c.modeCounts))
	for k, v := range c.modeCounts {
		modes[k] = v
	}

	var terms []TermCount
	for _, key := range c.topTerms.Keys() {
		if count, ok := c.topTerms.Peek(key); ok {
			terms = append(terms, TermCount{Term: key, Count: count})
		}
	}
	// Descending by count; ties keep LRU insertion order.
	for i := 0; i < len(terms); i++ {
		for j := i + 1; j < len(terms); j++ {
			if terms[j].Count > terms[i].Count {
				terms[i], terms[j] = terms[j], terms[i]
			}
		}
	}

	latencies := make(map[LatencyBucket]int64, len(c.latencies))
	for k, v := range c.latencies {
		latencies[k] = v
	}

	return &Snapshot{
		ModeCounts:          modes,
		TopTerms:            terms,
		ZeroResultQueries:   c.zeroResults.values(),
		LatencyDistribution: latencies,
		TotalQueries:        c.totalQueries,
		ZeroResultCount:     c.zeroResultCount,
		CacheHits:           c.cacheHits,
		CacheMisses:         c.cacheMisses,
		Since:               c.startTime,
	}
}

// Close stops accepting events.
func (c *Collector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
