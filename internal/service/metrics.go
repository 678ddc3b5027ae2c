package service

import (
	"context"
	"time"

	"github.com/askdocs/askdocs/internal/cache"
	"github.com/askdocs/askdocs/internal/index"
	"github.com/askdocs/askdocs/internal/telemetry"
)

// MetricsReport is the operational snapshot behind `askdocs stats` and
// the MCP metrics tool.
type MetricsReport struct {
	Documents      int `json:"documents"`
	StaleDocuments int `json:"stale_documents"`
	// StaleIndexCount is the highest document id ever assigned minus the
	// number of rows still present: deleted documents whose index entries
	// linger until the next full reindex.
	StaleIndexCount int    `json:"stale_index_count"`
	LexicalCount    int    `json:"lexical_count"`
	VectorCount     int    `json:"vector_count"`
	IndexVersion    string `json:"index_version"`

	LastFullReindex time.Time `json:"last_full_reindex,omitempty"`
	Reindexing      bool      `json:"reindexing"`
	WatcherActive   bool      `json:"watcher_active"`

	CacheHitRate   float64             `json:"cache_hit_rate"`
	CacheStats     cache.LayerStats    `json:"cache_stats"`
	QueryTelemetry *telemetry.Snapshot `json:"query_telemetry"`
}

// Metrics gathers counts from every subsystem. Index counts are zero
// when no index is open yet.
func (s *Service) Metrics(ctx context.Context) (*MetricsReport, error) {
	documents, err := s.meta.Count(ctx)
	if err != nil {
		return nil, s.mapError(ctx, "metrics", err)
	}
	stale, err := s.meta.CountStale(ctx)
	if err != nil {
		return nil, s.mapError(ctx, "metrics", err)
	}
	maxID, err := s.meta.MaxID(ctx)
	if err != nil {
		return nil, s.mapError(ctx, "metrics", err)
	}
	staleIndex := int(maxID) - documents
	if staleIndex < 0 {
		staleIndex = 0
	}

	report := &MetricsReport{
		Documents:       documents,
		StaleDocuments:  stale,
		StaleIndexCount: staleIndex,
		IndexVersion:    index.ReadVersionFile(s.cfg.Paths.DataDir),
		LastFullReindex: index.ReadLastReindexFile(s.cfg.Paths.DataDir),
		Reindexing:      s.coordinator.Lock().IsLocked(),
		CacheHitRate:    s.cacheLayer.HitRate(),
		CacheStats:      s.cacheLayer.Stats(),
		QueryTelemetry:  s.metrics.Snapshot(),
	}

	s.mu.RLock()
	if s.retriever != nil {
		stats := s.retriever.Stats()
		report.LexicalCount = stats.LexicalCount
		report.VectorCount = stats.VectorCount
	}
	s.mu.RUnlock()

	s.watcherMu.Lock()
	report.WatcherActive = s.watcher != nil
	s.watcherMu.Unlock()

	return report, nil
}
