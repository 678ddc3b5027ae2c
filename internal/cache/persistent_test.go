package cache

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPersistent(t *testing.T, cfg PersistentConfig) *PersistentCache {
	t.Helper()
	c, err := NewPersistentCache(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	// Deterministic: never trigger probabilistic maintenance unless a
	// test opts in.
	c.randFn = func() float64 { return 1.0 }
	return c
}

func TestPersistentSetGetRoundTrip(t *testing.T) {
	c := newTestPersistent(t, PersistentConfig{TTL: time.Hour})

	require.NoError(t, c.Set("ns::k1", []byte(`{"answer":"합계 ₩34,340,000"}`)))

	v, ok, err := c.Get("ns::k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(`{"answer":"합계 ₩34,340,000"}`), v)

	_, ok, err = c.Get("ns::missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPersistentCompressionRoundTrip(t *testing.T) {
	c := newTestPersistent(t, PersistentConfig{TTL: time.Hour})

	// Large enough to cross the compression threshold.
	big := bytes.Repeat([]byte(`{"chunk":"중계차 보수 공사 내역"}`), 100)
	require.NoError(t, c.Set("ns::big", big))

	v, ok, err := c.Get("ns::big")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, big, v)
}

func TestPersistentUpsertPreservesCreatedAt(t *testing.T) {
	c := newTestPersistent(t, PersistentConfig{TTL: time.Hour})

	base := time.Date(2024, 10, 24, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }
	require.NoError(t, c.Set("k", []byte("v1")))

	c.now = func() time.Time { return base.Add(time.Hour) }
	require.NoError(t, c.Set("k", []byte("v2")))

	var createdAt int64
	var accessCount int
	err := c.db.QueryRow(
		`SELECT created_at, access_count FROM cache_entries WHERE key = 'k'`).
		Scan(&createdAt, &accessCount)
	require.NoError(t, err)
	assert.Equal(t, base.Unix(), createdAt)
	assert.Equal(t, 1, accessCount)
}

func TestPersistentTTLExpiry(t *testing.T) {
	c := newTestPersistent(t, PersistentConfig{TTL: time.Minute, TTLMode: TTLAbsolute})

	base := time.Date(2024, 10, 24, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }
	require.NoError(t, c.Set("k", []byte("v")))

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, ok, err := c.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)

	// The expired row was deleted in place.
	n, err := c.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPersistentCleanupExpired(t *testing.T) {
	c := newTestPersistent(t, PersistentConfig{TTL: time.Minute, TTLMode: TTLAbsolute})

	base := time.Date(2024, 10, 24, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }
	require.NoError(t, c.Set("old1", []byte("v")))
	require.NoError(t, c.Set("old2", []byte("v")))

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	require.NoError(t, c.Set("fresh", []byte("v")))

	n, err := c.cleanupExpiredLocked(c.now().Unix())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	count, err := c.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestPersistentInvalidatePrefix(t *testing.T) {
	c := newTestPersistent(t, PersistentConfig{TTL: time.Hour})

	require.NoError(t, c.Set("v1|hash::a", []byte("1")))
	require.NoError(t, c.Set("v1|hash::b", []byte("2")))
	require.NoError(t, c.Set("v2|hash::a", []byte("3")))

	n, err := c.Invalidate("v1|hash::")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, ok, err := c.Get("v1|hash::a")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = c.Get("v2|hash::a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPersistentFileBackedReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	c, err := NewPersistentCache(PersistentConfig{Path: path, TTL: time.Hour})
	require.NoError(t, err)
	c.randFn = func() float64 { return 1.0 }
	require.NoError(t, c.Set("k", []byte("persisted")))
	require.NoError(t, c.Close())

	c2, err := NewPersistentCache(PersistentConfig{Path: path, TTL: time.Hour})
	require.NoError(t, err)
	defer c2.Close()

	v, ok, err := c2.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("persisted"), v)
}

func TestPersistentClosed(t *testing.T) {
	c, err := NewPersistentCache(PersistentConfig{})
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	err = c.Set("k", []byte("v"))
	assert.ErrorContains(t, err, "cache is closed")
	_, _, err = c.Get("k")
	assert.ErrorContains(t, err, "cache is closed")
}

func TestPersistentManyEntries(t *testing.T) {
	c := newTestPersistent(t, PersistentConfig{TTL: time.Hour})
	for i := 0; i < 50; i++ {
		require.NoError(t, c.Set(fmt.Sprintf("k%02d", i), []byte("v")))
	}
	n, err := c.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(50), n)
}
