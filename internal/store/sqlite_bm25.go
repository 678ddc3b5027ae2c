package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteBM25Index implements BM25Index using SQLite FTS5.
// WAL mode allows the query path to read while a reindex writes.
type SQLiteBM25Index struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ BM25Index = (*SQLiteBM25Index)(nil)

// validateSQLiteIntegrity checks an FTS5 index file before opening.
// Returns nil if valid or absent, an error describing corruption otherwise.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
                       WHERE type='table' AND name='fts_content'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("FTS5 table 'fts_content' missing")
	}
	return nil
}

// NewSQLiteBM25Index creates a new SQLite FTS5-based lexical index.
// If path is empty, creates an in-memory index for testing.
// A corrupted index file is cleared automatically; the caller reindexes.
func NewSQLiteBM25Index(path string) (*SQLiteBM25Index, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateSQLiteIntegrity(path); validErr != nil {
			slog.Warn("lexical_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("lexical index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")

			slog.Info("lexical_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, please reindex"))
		}

		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to prevent lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL mode must be set via PRAGMA for modernc.org/sqlite.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	idx := &SQLiteBM25Index{db: db, path: path}
	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return idx, nil
}

// initSchema creates the FTS5 virtual table and supporting tables.
func (s *SQLiteBM25Index) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	-- content stores pre-tokenized text (hangul bigrams, code variants)
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_content USING fts5(
		doc_id UNINDEXED,
		content,
		tokenize='unicode61'
	);

	-- Auxiliary table for tracking document IDs (AllIDs method)
	CREATE TABLE IF NOT EXISTS doc_ids (
		doc_id TEXT PRIMARY KEY
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Index adds documents to the index. Content is pre-tokenized so Korean
// bigrams and model-code variants match at query time.
// Existing ids are replaced (FTS5 has no REPLACE; delete first).
func (s *SQLiteBM25Index) Index(ctx context.Context, docs []*LexicalDoc) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	deleteStmt, err := tx.PrepareContext(ctx,
		`DELETE FROM fts_content WHERE doc_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}
	defer deleteStmt.Close()

	insertStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO fts_content(doc_id, content) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare FTS statement: %w", err)
	}
	defer insertStmt.Close()

	idStmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO doc_ids(doc_id) VALUES (?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare ID statement: %w", err)
	}
	defer idStmt.Close()

	for _, doc := range docs {
		processedContent := strings.Join(Tokenize(doc.Content), " ")

		if _, err := deleteStmt.ExecContext(ctx, doc.ID); err != nil {
			return fmt.Errorf("failed to delete existing document %s: %w", doc.ID, err)
		}
		if _, err := insertStmt.ExecContext(ctx, doc.ID, processedContent); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
		if _, err := idStmt.ExecContext(ctx, doc.ID); err != nil {
			return fmt.Errorf("failed to track document ID %s: %w", doc.ID, err)
		}
	}

	return tx.Commit()
}

// Search returns documents matching query, scored by BM25.
// The query goes through the same tokenization as indexing; terms are
// OR-joined so partial Korean matches still rank.
func (s *SQLiteBM25Index) Search(ctx context.Context, queryStr string, limit int) ([]*LexicalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}

	if strings.TrimSpace(queryStr) == "" {
		return []*LexicalResult{}, nil
	}

	tokens := Tokenize(queryStr)
	if len(tokens) == 0 {
		return []*LexicalResult{}, nil
	}

	// Quote terms so hyphens and digits are not parsed as FTS5 operators.
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, ``) + `"`
	}
	processedQuery := strings.Join(quoted, " OR ")

	// FTS5 bm25() returns negative values where lower = better match.
	query := `
		SELECT doc_id, bm25(fts_content) as score
		FROM fts_content
		WHERE content MATCH ?
		ORDER BY score
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, processedQuery, limit)
	if err != nil {
		// FTS5 returns error for invalid match queries, treat as no results.
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []*LexicalResult{}, nil
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	var results []*LexicalResult
	for rows.Next() {
		var docID string
		var score float64
		if err := rows.Scan(&docID, &score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, &LexicalResult{
			DocID:        docID,
			Score:        -score,
			MatchedTerms: tokens,
		})
	}

	return results, rows.Err()
}

// Delete removes documents from the index.
func (s *SQLiteBM25Index) Delete(ctx context.Context, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := make([]string, len(docIDs))
	args := make([]any, len(docIDs))
	for i, id := range docIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	inClause := strings.Join(placeholders, ",")

	ftsQuery := fmt.Sprintf("DELETE FROM fts_content WHERE doc_id IN (%s)", inClause)
	if _, err := tx.ExecContext(ctx, ftsQuery, args...); err != nil {
		return fmt.Errorf("failed to delete from FTS: %w", err)
	}

	idsQuery := fmt.Sprintf("DELETE FROM doc_ids WHERE doc_id IN (%s)", inClause)
	if _, err := tx.ExecContext(ctx, idsQuery, args...); err != nil {
		return fmt.Errorf("failed to delete from doc_ids: %w", err)
	}

	return tx.Commit()
}

// AllIDs returns all document IDs in the index, sorted.
// Used for parity checks against the vector store.
func (s *SQLiteBM25Index) AllIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}

	rows, err := s.db.Query(`SELECT doc_id FROM doc_ids ORDER BY doc_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query IDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ID: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stats returns index statistics.
func (s *SQLiteBM25Index) Stats() *LexicalStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return &LexicalStats{}
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM doc_ids`).Scan(&count); err != nil {
		return &LexicalStats{}
	}
	return &LexicalStats{DocumentCount: count}
}

// Save forces a WAL checkpoint so the main database file is current.
func (s *SQLiteBM25Index) Save(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}
	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Close closes the index. Idempotent.
func (s *SQLiteBM25Index) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}
