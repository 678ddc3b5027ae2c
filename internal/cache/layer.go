package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultWaitTimeout bounds how long a follower waits for the leader's
// computation before re-checking the cache and computing on its own.
const DefaultWaitTimeout = 30 * time.Second

// ComputeFunc produces the value for a cache miss.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// LayerStats aggregates counters across both tiers.
type LayerStats struct {
	Memory          MemoryStats `json:"memory"`
	PersistentCount int64       `json:"persistent_count"`
	PersistentHits  int64       `json:"persistent_hits"`
	Computations    int64       `json:"computations"`
}

// Layer is the two-tier cache. Reads check the memory tier first; the
// persistent tier is authoritative on a memory miss, and hits there
// repopulate the memory tier. Concurrent misses on one key are collapsed
// to a single computation.
type Layer struct {
	mem     *MemoryCache
	persist *PersistentCache // nil disables the durable tier
	flight  singleflight.Group

	mu        sync.RWMutex
	namespace string

	waitTimeout time.Duration
	logger      *slog.Logger

	statsMu        sync.Mutex
	persistentHits int64
	computations   int64
}

// NewLayer wires the two tiers. persist may be nil (memory-only mode).
func NewLayer(mem *MemoryCache, persist *PersistentCache, namespace string, logger *slog.Logger) *Layer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Layer{
		mem:         mem,
		persist:     persist,
		namespace:   namespace,
		waitTimeout: DefaultWaitTimeout,
		logger:      logger,
	}
}

// Namespace returns the active namespace.
func (l *Layer) Namespace() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.namespace
}

// SetNamespace switches to a new namespace (after a reindex) and clears
// the memory tier; old persistent entries become unreachable immediately
// and are deleted by InvalidatePrefix.
func (l *Layer) SetNamespace(namespace string) {
	l.mu.Lock()
	l.namespace = namespace
	l.mu.Unlock()
	l.mem.Clear()
}

// KeyFor builds the full cache key for a query under the active namespace.
func (l *Layer) KeyFor(query, mode string, now time.Time) string {
	return Key(l.Namespace(), SmartKey(query, mode, now))
}

// Get reads through both tiers. A persistent hit repopulates memory.
func (l *Layer) Get(key string) ([]byte, bool) {
	if v, ok := l.mem.Get(key); ok {
		return v, true
	}
	if l.persist == nil {
		return nil, false
	}
	v, ok, err := l.persist.Get(key)
	if err != nil {
		l.logger.Warn("persistent_cache_read_failed", slog.String("error", err.Error()))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	l.statsMu.Lock()
	l.persistentHits++
	l.statsMu.Unlock()
	l.mem.Set(key, v)
	return v, true
}

// Set writes through both tiers. Persistent failures are logged, not
// surfaced; the answer was already produced.
func (l *Layer) Set(key string, value []byte) {
	l.mem.Set(key, value)
	if l.persist == nil {
		return
	}
	if err := l.persist.Set(key, value); err != nil {
		l.logger.Warn("persistent_cache_write_failed", slog.String("error", err.Error()))
	}
}

// GetOrCompute returns the cached value or computes it once per key.
// Concurrent callers for the same key block on the leader's result; a
// follower whose wait times out re-checks the cache and then computes on
// its own. The bool reports whether the value came from cache.
func (l *Layer) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) ([]byte, bool, error) {
	if v, ok := l.Get(key); ok {
		return v, true, nil
	}

	ch := l.flight.DoChan(key, func() (any, error) {
		// The leader re-checks: another worker may have finished between
		// our miss and this flight starting.
		if v, ok := l.Get(key); ok {
			return v, nil
		}
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		l.statsMu.Lock()
		l.computations++
		l.statsMu.Unlock()
		l.Set(key, v)
		return v, nil
	})

	timer := time.NewTimer(l.waitTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.([]byte), false, nil

	case <-ctx.Done():
		return nil, false, ctx.Err()

	case <-timer.C:
		// Waited too long for the leader: re-check the cache, then become
		// our own leader rather than blocking forever.
		l.flight.Forget(key)
		if v, ok := l.Get(key); ok {
			return v, true, nil
		}
		l.logger.Warn("inflight_wait_timeout", slog.String("key", key))
		v, err := compute(ctx)
		if err != nil {
			return nil, false, err
		}
		l.statsMu.Lock()
		l.computations++
		l.statsMu.Unlock()
		l.Set(key, v)
		return v, false, nil
	}
}

// InvalidatePrefix deletes all persistent entries under a namespace
// prefix and clears the memory tier.
func (l *Layer) InvalidatePrefix(prefix string) error {
	l.mem.Clear()
	if l.persist == nil {
		return nil
	}
	n, err := l.persist.Invalidate(prefix)
	if err != nil {
		return err
	}
	l.logger.Info("cache_invalidated",
		slog.String("prefix", prefix),
		slog.Int64("rows", n))
	return nil
}

// Stats aggregates counters from both tiers.
func (l *Layer) Stats() LayerStats {
	l.statsMu.Lock()
	persistentHits, computations := l.persistentHits, l.computations
	l.statsMu.Unlock()

	s := LayerStats{
		Memory:         l.mem.Stats(),
		PersistentHits: persistentHits,
		Computations:   computations,
	}
	if l.persist != nil {
		if n, err := l.persist.Count(); err == nil {
			s.PersistentCount = n
		}
	}
	return s
}

// HitRate returns the fraction of lookups served from either tier.
func (l *Layer) HitRate() float64 {
	s := l.Stats()
	hits := s.Memory.Hits + s.PersistentHits
	total := s.Memory.Hits + s.Memory.Misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Close closes the persistent tier.
func (l *Layer) Close() error {
	if l.persist == nil {
		return nil
	}
	return l.persist.Close()
}
