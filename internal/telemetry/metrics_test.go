package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want LatencyBucket
	}{
		{5 * time.Millisecond, BucketUnder10ms},
		{10 * time.Millisecond, BucketUnder50ms},
		{75 * time.Millisecond, BucketUnder100ms},
		{400 * time.Millisecond, BucketUnder500ms},
		{2 * time.Second, BucketUnder5s},
		{8 * time.Second, BucketOver5s},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LatencyToBucket(tt.d), "latency %v", tt.d)
	}
}

func TestCollectorRecord(t *testing.T) {
	c := NewCollector()

	c.Record(QueryEvent{
		Query:       "중계차 보수 합계",
		Mode:        "cost",
		ResultCount: 5,
		CacheHit:    false,
		Latency:     1200 * time.Millisecond,
	})
	c.Record(QueryEvent{
		Query:       "중계차 보수 합계",
		Mode:        "cost",
		ResultCount: 5,
		CacheHit:    true,
		Latency:     3 * time.Millisecond,
	})
	c.Record(QueryEvent{
		Query:       "없는 프로젝터 문서",
		Mode:        "search",
		ResultCount: 0,
		CacheHit:    false,
		Latency:     40 * time.Millisecond,
	})

	s := c.Snapshot()
	assert.Equal(t, int64(3), s.TotalQueries)
	assert.Equal(t, int64(2), s.ModeCounts["cost"])
	assert.Equal(t, int64(1), s.ModeCounts["search"])
	assert.Equal(t, int64(1), s.CacheHits)
	assert.Equal(t, int64(2), s.CacheMisses)
	assert.InDelta(t, 1.0/3.0, s.CacheHitRate(), 1e-9)

	assert.Equal(t, int64(1), s.ZeroResultCount)
	assert.Equal(t, []string{"없는 프로젝터 문서"}, s.ZeroResultQueries)
	assert.InDelta(t, 1.0/3.0, s.ZeroResultRate(), 1e-9)

	assert.Equal(t, int64(1), s.LatencyDistribution[BucketUnder10ms])
	assert.Equal(t, int64(1), s.LatencyDistribution[BucketUnder50ms])
	assert.Equal(t, int64(1), s.LatencyDistribution[BucketUnder5s])
}

func TestCollectorTopTerms(t *testing.T) {
	c := NewCollector()
	for i := 0; i < 3; i++ {
		c.Record(QueryEvent{Query: "중계차 보수", Mode: "qa", ResultCount: 1})
	}
	c.Record(QueryEvent{Query: "중계차 점검", Mode: "qa", ResultCount: 1})

	s := c.Snapshot()
	require.NotEmpty(t, s.TopTerms)
	assert.Equal(t, "중계차", s.TopTerms[0].Term)
	assert.Equal(t, int64(4), s.TopTerms[0].Count)
}

func TestExtractTerms(t *testing.T) {
	assert.Equal(t, []string{"중계차", "보수", "ok"}, ExtractTerms("  중계차 보수 ok "))
	assert.Nil(t, ExtractTerms("a 차"), "single-rune words dropped")
	assert.Nil(t, ExtractTerms("   "))
}

func TestCollectorClosedIgnoresEvents(t *testing.T) {
	c := NewCollector()
	require.NoError(t, c.Close())
	c.Record(QueryEvent{Query: "중계차", Mode: "qa", ResultCount: 1})
	assert.Zero(t, c.Snapshot().TotalQueries)
}

func TestRingWraps(t *testing.T) {
	r := newRing[string](3)
	for _, v := range []string{"a", "b", "c", "d"} {
		r.add(v)
	}
	assert.Equal(t, []string{"b", "c", "d"}, r.values())
}
