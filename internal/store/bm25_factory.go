package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// BM25Backend represents the lexical index backend type.
type BM25Backend string

const (
	// BM25BackendSQLite uses SQLite FTS5 (default).
	// WAL mode allows reads during a reindex in another process.
	BM25BackendSQLite BM25Backend = "sqlite"

	// BM25BackendBleve uses Bleve v2.
	// Exclusive BoltDB lock: single process only.
	BM25BackendBleve BM25Backend = "bleve"
)

// NewBM25IndexWithBackend creates a BM25Index using the specified backend.
// basePath is the path without extension; ".db" or ".bleve" is appended.
// Empty basePath creates an in-memory index for testing.
func NewBM25IndexWithBackend(basePath string, backend string) (BM25Index, error) {
	switch backend {
	case string(BM25BackendSQLite), "":
		var path string
		if basePath != "" {
			path = basePath + ".db"
		}
		return NewSQLiteBM25Index(path)

	case string(BM25BackendBleve):
		var path string
		if basePath != "" {
			path = basePath + ".bleve"
		}
		return NewBleveBM25Index(path)

	default:
		return nil, fmt.Errorf("unknown BM25 backend: %s (valid options: sqlite, bleve)", backend)
	}
}

// DetectBM25Backend detects which backend an existing index uses.
// Returns empty string when no index exists.
func DetectBM25Backend(basePath string) BM25Backend {
	if fileExists(basePath + ".db") {
		return BM25BackendSQLite
	}
	if dirExists(basePath + ".bleve") {
		return BM25BackendBleve
	}
	return ""
}

// GetBM25IndexPath returns the full path to the lexical index for a backend.
func GetBM25IndexPath(dataDir string, backend string) string {
	basePath := filepath.Join(dataDir, "lexical")
	if backend == string(BM25BackendBleve) {
		return basePath + ".bleve"
	}
	return basePath + ".db"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
