package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWStore implements VectorStore using the pure Go coder/hnsw graph.
// Cosine distance over normalized vectors; one vector per document.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	// ID mapping (string <-> uint64)
	idMap   map[string]uint64 // "doc_<n>" -> internal key
	keyMap  map[uint64]string // internal key -> "doc_<n>"
	nextKey uint64

	closed bool
}

// hnswMetadata stores ID mappings in a gob sidecar next to the graph file.
type hnswMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  VectorStoreConfig
}

var _ VectorStore = (*HNSWStore)(nil)

// NewHNSWStore creates a new HNSW-based vector store.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vector store dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWStore{
		graph:  graph,
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}, nil
}

// Add inserts vectors with their IDs. Existing IDs are replaced via lazy
// deletion: the old node stays in the graph but is no longer addressable.
func (s *HNSWStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		if existingKey, exists := s.idMap[id]; exists {
			// Lazy deletion: deleting the last graph node breaks coder/hnsw,
			// so only the mappings are removed.
			delete(s.keyMap, existingKey)
			delete(s.idMap, id)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeVectorInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[id] = key
		s.keyMap[key] = id
	}

	return nil
}

// Search finds k nearest neighbors to the query vector.
// Lazy-deleted nodes are filtered; k is over-fetched to compensate.
func (s *HNSWStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if s.graph.Len() == 0 {
		return []*VectorResult{}, nil
	}

	normalizedQuery := make([]float32, len(query))
	copy(normalizedQuery, query)
	normalizeVectorInPlace(normalizedQuery)

	fetch := k
	if orphans := s.graph.Len() - len(s.idMap); orphans > 0 {
		fetch = k + orphans
	}
	nodes := s.graph.Search(normalizedQuery, fetch)

	results := make([]*VectorResult, 0, len(nodes))
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			continue // orphaned by lazy deletion
		}

		distance := s.graph.Distance(normalizedQuery, node.Value)
		results = append(results, &VectorResult{
			ID:       id,
			Distance: distance,
			Score:    1.0 - distance/2.0,
		})
		if len(results) == k {
			break
		}
	}

	return results, nil
}

// Delete removes vectors by ID using lazy deletion.
func (s *HNSWStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
		}
	}
	return nil
}

// AllIDs returns all vector IDs in the store, sorted.
// Used for parity checks against the lexical index.
func (s *HNSWStore) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}

	ids := make([]string, 0, len(s.idMap))
	for id := range s.idMap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Contains checks if ID exists.
func (s *HNSWStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}
	_, exists := s.idMap[id]
	return exists
}

// Count returns number of vectors.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}
	return len(s.idMap)
}

// Save persists the graph and its id-map sidecar atomically
// (temp file + rename for both).
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpIndexPath := path + ".tmp"
	file, err := os.Create(tmpIndexPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}

	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}
	if err := os.Rename(tmpIndexPath, path); err != nil {
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	if err := s.saveMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	return nil
}

// saveMetadata saves ID mappings to a gob file.
func (s *HNSWStore) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := hnswMetadata{
		IDMap:   s.idMap,
		NextKey: s.nextKey,
		Config:  s.config,
	}

	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close temp file during cleanup", slog.String("error", closeErr.Error()))
		}
		os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load loads the graph and its id-map sidecar from disk.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if err := s.loadMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	// coder/hnsw Import requires io.ByteReader.
	reader := bufio.NewReader(file)
	if err := s.graph.Import(reader); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}
	return nil
}

// loadMetadata loads ID mappings from a gob file.
func (s *HNSWStore) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta hnswMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return fmt.Errorf("decode hnsw metadata: %w", err)
	}

	// A store written with a different embedding dimension must never be
	// adopted: every subsequent search would fail, so refuse the load.
	if meta.Config.Dimensions != s.config.Dimensions {
		return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: meta.Config.Dimensions}
	}

	s.idMap = meta.IDMap
	s.keyMap = make(map[uint64]string)
	s.nextKey = meta.NextKey
	s.config = meta.Config
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}
	return nil
}

// Close releases resources. Idempotent.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

// ReadHNSWStoreDimensions reads the dimensions recorded in an existing
// store's sidecar. Returns 0 when no sidecar exists (fresh start).
func ReadHNSWStoreDimensions(vectorPath string) (int, error) {
	file, err := os.Open(vectorPath + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open hnsw metadata: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close hnsw metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta hnswMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return 0, fmt.Errorf("failed to decode hnsw metadata: %w", err)
	}
	return meta.Config.Dimensions, nil
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}
