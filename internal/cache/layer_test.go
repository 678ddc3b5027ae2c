package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLayer(t *testing.T) *Layer {
	t.Helper()
	mem, err := NewMemoryCache(100, time.Hour, TTLSliding)
	require.NoError(t, err)

	persist, err := NewPersistentCache(PersistentConfig{TTL: time.Hour})
	require.NoError(t, err)
	persist.randFn = func() float64 { return 1.0 }
	t.Cleanup(func() { _ = persist.Close() })

	return NewLayer(mem, persist, Namespace("v1", "hash"), nil)
}

func TestLayerWriteThroughAndRead(t *testing.T) {
	l := newTestLayer(t)
	key := l.KeyFor("중계차 보수 합계", "COST", fixedNow)

	_, ok := l.Get(key)
	assert.False(t, ok)

	l.Set(key, []byte("answer"))
	v, ok := l.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("answer"), v)
}

func TestLayerPersistentAuthoritativeOnMemoryMiss(t *testing.T) {
	l := newTestLayer(t)
	key := l.KeyFor("조명 교체", "QA", fixedNow)

	l.Set(key, []byte("durable"))
	// Simulate restart of the fast tier.
	l.mem.Clear()

	v, ok := l.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("durable"), v)
	assert.Equal(t, int64(1), l.Stats().PersistentHits)

	// The persistent hit repopulated memory.
	_, ok = l.mem.Get(key)
	assert.True(t, ok)
}

func TestLayerNamespaceInvalidation(t *testing.T) {
	l := newTestLayer(t)
	oldNS := l.Namespace()
	key := l.KeyFor("중계차 보수 합계 얼마였지?", "COST", fixedNow)
	l.Set(key, []byte("cached answer"))

	// Reindex: bump namespace, invalidate the old prefix.
	l.SetNamespace(Namespace("v2", "hash"))
	require.NoError(t, l.InvalidatePrefix(oldNS))

	// Same query now misses (new namespace), then hits after recompute.
	newKey := l.KeyFor("중계차 보수 합계 얼마였지?", "COST", fixedNow)
	assert.NotEqual(t, key, newKey)

	var computed int32
	v, cached, err := l.GetOrCompute(context.Background(), newKey, func(context.Context) ([]byte, error) {
		atomic.AddInt32(&computed, 1)
		return []byte("fresh answer"), nil
	})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, []byte("fresh answer"), v)
	assert.Equal(t, int32(1), computed)

	v, cached, err = l.GetOrCompute(context.Background(), newKey, func(context.Context) ([]byte, error) {
		atomic.AddInt32(&computed, 1)
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, []byte("fresh answer"), v)
	assert.Equal(t, int32(1), computed)

	// The old entry is gone even when asked for directly.
	_, ok := l.Get(key)
	assert.False(t, ok)
}

func TestLayerSingleFlight(t *testing.T) {
	l := newTestLayer(t)
	key := l.KeyFor("단일 비행", "QA", fixedNow)

	var computations int32
	release := make(chan struct{})

	const workers = 10
	var wg sync.WaitGroup
	results := make([][]byte, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := l.GetOrCompute(context.Background(), key, func(context.Context) ([]byte, error) {
				atomic.AddInt32(&computations, 1)
				<-release
				return []byte("the answer"), nil
			})
			results[i] = v
			errs[i] = err
		}(i)
	}

	// Let all workers reach the flight, then release the leader.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&computations),
		"exactly one inner computation for N concurrent identical keys")
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []byte("the answer"), results[i])
	}
}

func TestLayerWaitTimeoutBecomesOwnLeader(t *testing.T) {
	l := newTestLayer(t)
	l.waitTimeout = 50 * time.Millisecond
	key := l.KeyFor("느린 리더", "QA", fixedNow)

	leaderStarted := make(chan struct{})
	leaderRelease := make(chan struct{})

	var leaderDone sync.WaitGroup
	leaderDone.Add(1)
	go func() {
		defer leaderDone.Done()
		_, _, _ = l.GetOrCompute(context.Background(), key, func(context.Context) ([]byte, error) {
			close(leaderStarted)
			<-leaderRelease
			return []byte("slow"), nil
		})
	}()

	<-leaderStarted
	// The follower's wait expires; it re-checks and computes on its own.
	v, cached, err := l.GetOrCompute(context.Background(), key, func(context.Context) ([]byte, error) {
		return []byte("fast"), nil
	})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, []byte("fast"), v)

	close(leaderRelease)
	leaderDone.Wait()
}

func TestLayerMemoryOnlyMode(t *testing.T) {
	mem, err := NewMemoryCache(10, time.Hour, TTLSliding)
	require.NoError(t, err)
	l := NewLayer(mem, nil, Namespace("v1", "h"), nil)

	l.Set("k", []byte("v"))
	v, ok := l.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	require.NoError(t, l.InvalidatePrefix("v1"))
	_, ok = l.Get("k")
	assert.False(t, ok)
	require.NoError(t, l.Close())
}

func TestLayerHitRate(t *testing.T) {
	l := newTestLayer(t)
	l.Set("k", []byte("v"))

	_, _ = l.Get("k")    // hit
	_, _ = l.Get("miss") // miss

	rate := l.HitRate()
	assert.Greater(t, rate, 0.0)
	assert.LessOrEqual(t, rate, 1.0)
}
