package store

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	aerr "github.com/askdocs/askdocs/internal/errors"
)

// metadataSchemaVersion is the current metadata schema version.
const metadataSchemaVersion = 2

// SQLiteMetadataStore implements MetadataStore backed by SQLite.
type SQLiteMetadataStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ MetadataStore = (*SQLiteMetadataStore)(nil)

// NewSQLiteMetadataStore opens (or creates) the metadata database.
// Empty path creates an in-memory store for testing.
// Schema migration runs under an advisory file lock so concurrent processes
// cannot race a migration; the pre-migration file is backed up first.
func NewSQLiteMetadataStore(path string) (*SQLiteMetadataStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, aerr.New(aerr.ErrCodeStoreOpen,
				fmt.Sprintf("failed to create directory for %s", path), err)
		}
		if err := validateMetadataIntegrity(path); err != nil {
			return nil, aerr.New(aerr.ErrCodeStoreCorrupt,
				fmt.Sprintf("metadata database corrupted: %s", path), err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, aerr.New(aerr.ErrCodeStoreOpen, "failed to open metadata database", err)
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
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, aerr.New(aerr.ErrCodeStoreOpen, "failed to set pragma", err)
		}
	}

	s := &SQLiteMetadataStore{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// validateMetadataIntegrity runs a quick integrity check on an existing file.
func validateMetadataIntegrity(path string) error {
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
	return nil
}

// migrate brings the schema to metadataSchemaVersion. Migrations are
// forward-only; a backup copy of the database file is taken before any
// version bump on a file-backed store.
func (s *SQLiteMetadataStore) migrate() error {
	if s.path != "" {
		// Advisory lock so two processes never migrate concurrently.
		lock := flock.New(s.path + ".migrate.lock")
		if err := lock.Lock(); err != nil {
			return aerr.New(aerr.ErrCodeMigration, "failed to acquire migration lock", err)
		}
		defer func() { _ = lock.Unlock() }()
	}

	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`); err != nil {
		return aerr.New(aerr.ErrCodeMigration, "failed to create schema_version", err)
	}

	var current int
	err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current)
	if err != nil {
		return aerr.New(aerr.ErrCodeMigration, "failed to read schema version", err)
	}

	if current > metadataSchemaVersion {
		return aerr.New(aerr.ErrCodeMigration,
			fmt.Sprintf("database schema version %d is newer than supported %d", current, metadataSchemaVersion), nil)
	}
	if current == metadataSchemaVersion {
		return nil
	}

	if current > 0 && s.path != "" {
		if err := s.backup(); err != nil {
			return err
		}
	}

	for v := current + 1; v <= metadataSchemaVersion; v++ {
		if err := s.applyMigration(v); err != nil {
			return aerr.New(aerr.ErrCodeMigration,
				fmt.Sprintf("migration to version %d failed", v), err)
		}
		slog.Info("metadata_schema_migrated", slog.Int("version", v))
	}
	return nil
}

// backup copies the database file aside before a migration.
func (s *SQLiteMetadataStore) backup() error {
	src, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return aerr.New(aerr.ErrCodeBackupFailed, "failed to open database for backup", err)
	}
	defer src.Close()

	backupPath := fmt.Sprintf("%s.bak.%s", s.path, time.Now().UTC().Format("20060102T150405"))
	dst, err := os.Create(backupPath)
	if err != nil {
		return aerr.New(aerr.ErrCodeBackupFailed, "failed to create backup file", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return aerr.New(aerr.ErrCodeBackupFailed, "failed to copy database backup", err)
	}
	slog.Info("metadata_backup_created", slog.String("path", backupPath))
	return nil
}

func (s *SQLiteMetadataStore) applyMigration(version int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var stmts []string
	switch version {
	case 1:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS documents (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				filename TEXT NOT NULL UNIQUE,
				path TEXT NOT NULL,
				title TEXT NOT NULL DEFAULT '',
				drafter TEXT NOT NULL DEFAULT '',
				department TEXT NOT NULL DEFAULT '',
				date TEXT NOT NULL DEFAULT '',
				year INTEGER NOT NULL DEFAULT 0,
				month INTEGER NOT NULL DEFAULT 0,
				doc_type TEXT NOT NULL DEFAULT 'unknown',
				content_hash TEXT NOT NULL DEFAULT '',
				text_preview TEXT NOT NULL DEFAULT '',
				claimed_total INTEGER NOT NULL DEFAULT 0,
				sum_match TEXT NOT NULL DEFAULT '',
				page_count INTEGER NOT NULL DEFAULT 0,
				size_bytes INTEGER NOT NULL DEFAULT 0,
				stale INTEGER NOT NULL DEFAULT 0,
				indexed_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_drafter ON documents(drafter)`,
			`CREATE INDEX IF NOT EXISTS idx_year ON documents(year)`,
			`CREATE INDEX IF NOT EXISTS idx_category ON documents(doc_type)`,
			`CREATE INDEX IF NOT EXISTS idx_date ON documents(date)`,
			`CREATE INDEX IF NOT EXISTS idx_filename ON documents(filename COLLATE NOCASE)`,
			`CREATE TABLE IF NOT EXISTS app_state (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`,
		}
	case 2:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS model_codes (
				doc_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
				raw_code TEXT NOT NULL,
				norm_code TEXT NOT NULL,
				padded_norm TEXT NOT NULL,
				PRIMARY KEY (doc_id, norm_code)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_model_codes_norm ON model_codes(norm_code)`,
			`CREATE INDEX IF NOT EXISTS idx_model_codes_padded ON model_codes(padded_norm)`,
			`CREATE INDEX IF NOT EXISTS idx_model_codes_doc ON model_codes(doc_id)`,
		}
	default:
		return fmt.Errorf("unknown migration version %d", version)
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, version); err != nil {
		return err
	}
	return tx.Commit()
}

// Upsert inserts or updates a document keyed by filename, returning its id.
// An existing row keeps its id, so "doc_<n>" stays stable across reindexes.
func (s *SQLiteMetadataStore) Upsert(ctx context.Context, doc *Document) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, aerr.New(aerr.ErrCodeStoreWrite, "store is closed", nil)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	indexedAt := now
	if !doc.IndexedAt.IsZero() {
		indexedAt = doc.IndexedAt.UTC().Format(time.RFC3339)
	}
	if doc.DocType == "" {
		doc.DocType = DocTypeUnknown
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (filename, path, title, drafter, department, date,
			year, month, doc_type, content_hash, text_preview, claimed_total,
			sum_match, page_count, size_bytes, stale, indexed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(filename) DO UPDATE SET
			path = excluded.path,
			title = excluded.title,
			drafter = excluded.drafter,
			department = excluded.department,
			date = excluded.date,
			year = excluded.year,
			month = excluded.month,
			doc_type = excluded.doc_type,
			content_hash = excluded.content_hash,
			text_preview = excluded.text_preview,
			claimed_total = excluded.claimed_total,
			sum_match = excluded.sum_match,
			page_count = excluded.page_count,
			size_bytes = excluded.size_bytes,
			stale = excluded.stale,
			updated_at = excluded.updated_at`,
		doc.Filename, doc.Path, doc.Title, doc.Drafter, doc.Department, doc.Date,
		doc.Year, doc.Month, string(doc.DocType), doc.ContentHash, doc.TextPreview,
		doc.ClaimedTotal, string(doc.SumMatch), doc.PageCount, doc.SizeBytes,
		boolToInt(doc.Stale), indexedAt, now)
	if err != nil {
		return 0, aerr.New(aerr.ErrCodeStoreWrite,
			fmt.Sprintf("failed to upsert document %s", doc.Filename), err)
	}

	// LastInsertId is unreliable for upsert conflicts; look the row up.
	var id int64
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM documents WHERE filename = ?`, doc.Filename).Scan(&id)
	if err != nil {
		return 0, aerr.New(aerr.ErrCodeStoreRead,
			fmt.Sprintf("failed to read back document %s", doc.Filename), err)
	}
	doc.ID = id
	return id, nil
}

const documentColumns = `id, filename, path, title, drafter, department, date,
	year, month, doc_type, content_hash, text_preview, claimed_total, sum_match,
	page_count, size_bytes, stale, indexed_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (*Document, error) {
	var d Document
	var docType, sumMatch, indexedAt, updatedAt string
	var stale int
	err := row.Scan(&d.ID, &d.Filename, &d.Path, &d.Title, &d.Drafter, &d.Department,
		&d.Date, &d.Year, &d.Month, &docType, &d.ContentHash, &d.TextPreview,
		&d.ClaimedTotal, &sumMatch, &d.PageCount, &d.SizeBytes, &stale,
		&indexedAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	d.DocType = DocType(docType)
	d.SumMatch = TriState(sumMatch)
	d.Stale = stale != 0
	d.IndexedAt, _ = time.Parse(time.RFC3339, indexedAt)
	d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &d, nil
}

// Get returns the document with the given id, or nil when absent.
func (s *SQLiteMetadataStore) Get(ctx context.Context, id int64) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, aerr.New(aerr.ErrCodeStoreRead, "store is closed", nil)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, aerr.New(aerr.ErrCodeStoreRead, fmt.Sprintf("failed to get document %d", id), err)
	}
	return doc, nil
}

// GetByContentHash returns the lowest-id document with the given content
// hash, or nil. The lowest id is the original of a duplicate pair.
func (s *SQLiteMetadataStore) GetByContentHash(ctx context.Context, hash string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, aerr.New(aerr.ErrCodeStoreRead, "store is closed", nil)
	}
	if hash == "" {
		return nil, nil
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE content_hash = ? ORDER BY id LIMIT 1`, hash)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, aerr.New(aerr.ErrCodeStoreRead, "failed to look up content hash", err)
	}
	return doc, nil
}

// GetByFilename returns the document with the exact filename, or nil.
func (s *SQLiteMetadataStore) GetByFilename(ctx context.Context, filename string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, aerr.New(aerr.ErrCodeStoreRead, "store is closed", nil)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE filename = ?`, filename)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, aerr.New(aerr.ErrCodeStoreRead,
			fmt.Sprintf("failed to get document %s", filename), err)
	}
	return doc, nil
}

// GetByFilenameFuzzy matches a cited name against stored filenames ignoring
// case, separators, and the .pdf extension. Substring matches are accepted
// with the closest-length candidate winning ties.
func (s *SQLiteMetadataStore) GetByFilenameFuzzy(ctx context.Context, name string) (*Document, error) {
	want := normalizeFilename(name)
	if want == "" {
		return nil, nil
	}

	docs, err := s.List(ctx, 0, 0, 0)
	if err != nil {
		return nil, err
	}

	var best *Document
	bestDelta := -1
	for _, d := range docs {
		have := normalizeFilename(d.Filename)
		if have == want {
			return d, nil
		}
		if strings.Contains(have, want) || strings.Contains(want, have) {
			delta := len(have) - len(want)
			if delta < 0 {
				delta = -delta
			}
			if bestDelta == -1 || delta < bestDelta {
				best = d
				bestDelta = delta
			}
		}
	}
	return best, nil
}

// normalizeFilename lowercases, strips the extension and common separators.
func normalizeFilename(name string) string {
	name = strings.ToLower(strings.TrimSpace(filepath.Base(name)))
	name = strings.TrimSuffix(name, ".pdf")
	name = strings.TrimSuffix(name, ".txt")
	replacer := strings.NewReplacer("_", "", "-", "", " ", "", ".", "")
	return replacer.Replace(name)
}

// List returns documents ordered by id. offset/limit of 0 mean "all";
// minTextLength > 0 filters out rows with shorter previews.
func (s *SQLiteMetadataStore) List(ctx context.Context, offset, limit, minTextLength int) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, aerr.New(aerr.ErrCodeStoreRead, "store is closed", nil)
	}

	query := `SELECT ` + documentColumns + ` FROM documents`
	var args []any
	if minTextLength > 0 {
		query += ` WHERE LENGTH(text_preview) >= ?`
		args = append(args, minTextLength)
	}
	query += ` ORDER BY id`
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, aerr.New(aerr.ErrCodeStoreRead, "failed to list documents", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, aerr.New(aerr.ErrCodeStoreRead, "failed to scan document", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Count returns the number of documents.
func (s *SQLiteMetadataStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, aerr.New(aerr.ErrCodeStoreRead, "store is closed", nil)
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	if err != nil {
		return 0, aerr.New(aerr.ErrCodeStoreRead, "failed to count documents", err)
	}
	return n, nil
}

// CountStale returns the number of documents flagged stale.
func (s *SQLiteMetadataStore) CountStale(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, aerr.New(aerr.ErrCodeStoreRead, "store is closed", nil)
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE stale = 1`).Scan(&n)
	if err != nil {
		return 0, aerr.New(aerr.ErrCodeStoreRead, "failed to count stale documents", err)
	}
	return n, nil
}

// MaxID returns the highest assigned document id, 0 when empty.
func (s *SQLiteMetadataStore) MaxID(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, aerr.New(aerr.ErrCodeStoreRead, "store is closed", nil)
	}
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM documents`).Scan(&n)
	if err != nil {
		return 0, aerr.New(aerr.ErrCodeStoreRead, "failed to read max id", err)
	}
	return n, nil
}

// UpdateTextPreview sets the preview text for a document.
func (s *SQLiteMetadataStore) UpdateTextPreview(ctx context.Context, id int64, preview string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return aerr.New(aerr.ErrCodeStoreWrite, "store is closed", nil)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET text_preview = ?, updated_at = ? WHERE id = ?`,
		preview, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return aerr.New(aerr.ErrCodeStoreWrite,
			fmt.Sprintf("failed to update preview for document %d", id), err)
	}
	return nil
}

// updatableColumns is the whitelist of columns UpdateDocument may touch.
// Identity (filename, path) and bookkeeping columns stay out.
var updatableColumns = map[string]struct{}{
	"title": {}, "drafter": {}, "department": {}, "date": {},
	"year": {}, "month": {}, "doc_type": {}, "claimed_total": {},
	"sum_match": {}, "page_count": {}, "size_bytes": {}, "stale": {},
	"text_preview": {},
}

// UpdateDocument applies a partial update to the named document. Keys are
// column names from the whitelist above; unknown keys are rejected before
// anything is written. Returns the updated row.
func (s *SQLiteMetadataStore) UpdateDocument(ctx context.Context, filename string, fields map[string]any) (*Document, error) {
	if len(fields) == 0 {
		return nil, aerr.New(aerr.ErrCodeInvalidInput, "no fields to update", nil)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		if _, ok := updatableColumns[k]; !ok {
			return nil, aerr.New(aerr.ErrCodeInvalidInput,
				fmt.Sprintf("unknown document field %q", k), nil)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, aerr.New(aerr.ErrCodeStoreWrite, "store is closed", nil)
	}

	var sets strings.Builder
	args := make([]any, 0, len(keys)+2)
	for _, k := range keys {
		v := fields[k]
		if b, ok := v.(bool); ok {
			v = boolToInt(b)
		}
		sets.WriteString(k)
		sets.WriteString(" = ?, ")
		args = append(args, v)
	}
	args = append(args, time.Now().UTC().Format(time.RFC3339), filename)

	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET `+sets.String()+`updated_at = ? WHERE filename = ?`, args...)
	if err != nil {
		return nil, aerr.New(aerr.ErrCodeStoreWrite,
			fmt.Sprintf("failed to update document %s", filename), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, aerr.New(aerr.ErrCodeInvalidInput,
			fmt.Sprintf("no document named %s", filename), nil)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE filename = ?`, filename)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, aerr.New(aerr.ErrCodeStoreRead,
			fmt.Sprintf("failed to read back document %s", filename), err)
	}
	return doc, nil
}

// Delete removes a document; code occurrences cascade.
func (s *SQLiteMetadataStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return aerr.New(aerr.ErrCodeStoreWrite, "store is closed", nil)
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return aerr.New(aerr.ErrCodeStoreWrite,
			fmt.Sprintf("failed to delete document %d", id), err)
	}
	return nil
}

// ReplaceCodes replaces all code occurrences for a document.
func (s *SQLiteMetadataStore) ReplaceCodes(ctx context.Context, docID int64, occs []*CodeOccurrence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return aerr.New(aerr.ErrCodeStoreWrite, "store is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return aerr.New(aerr.ErrCodeStoreWrite, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM model_codes WHERE doc_id = ?`, docID); err != nil {
		return aerr.New(aerr.ErrCodeStoreWrite,
			fmt.Sprintf("failed to clear codes for document %d", docID), err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO model_codes (doc_id, raw_code, norm_code, padded_norm)
		 VALUES (?, ?, ?, ?)`)
	if err != nil {
		return aerr.New(aerr.ErrCodeStoreWrite, "failed to prepare code insert", err)
	}
	defer stmt.Close()

	for _, occ := range occs {
		if occ.NormCode == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, docID, occ.RawCode, occ.NormCode, occ.PaddedNorm); err != nil {
			return aerr.New(aerr.ErrCodeStoreWrite,
				fmt.Sprintf("failed to insert code %s for document %d", occ.NormCode, docID), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return aerr.New(aerr.ErrCodeStoreWrite, "failed to commit codes", err)
	}
	return nil
}

// MatchCodes runs the two batched code passes: exact IN on norm_code, then
// boundary-safe LIKE on padded_norm for codes embedded in longer strings.
// Each (doc, code) pair is reported once.
func (s *SQLiteMetadataStore) MatchCodes(ctx context.Context, normCodes []string) ([]*CodeMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, aerr.New(aerr.ErrCodeStoreRead, "store is closed", nil)
	}
	if len(normCodes) == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{})
	var matches []*CodeMatch
	appendMatch := func(docID int64, code string) {
		key := fmt.Sprintf("%d:%s", docID, code)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		matches = append(matches, &CodeMatch{DocID: docID, NormCode: code, Kind: CodeMatchExact})
	}

	// Pass 1: exact IN.
	placeholders := make([]string, len(normCodes))
	args := make([]any, len(normCodes))
	for i, c := range normCodes {
		placeholders[i] = "?"
		args[i] = c
	}
	query := fmt.Sprintf(
		`SELECT DISTINCT doc_id, norm_code FROM model_codes WHERE norm_code IN (%s)`,
		strings.Join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, aerr.New(aerr.ErrCodeStoreRead, "failed to match codes (exact)", err)
	}
	for rows.Next() {
		var docID int64
		var code string
		if err := rows.Scan(&docID, &code); err != nil {
			rows.Close()
			return nil, aerr.New(aerr.ErrCodeStoreRead, "failed to scan code match", err)
		}
		appendMatch(docID, code)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Pass 2: boundary-safe LIKE on padded_norm, one query per code.
	for _, code := range normCodes {
		rows, err := s.db.QueryContext(ctx,
			`SELECT DISTINCT doc_id FROM model_codes WHERE padded_norm LIKE ?`,
			"% "+code+" %")
		if err != nil {
			return nil, aerr.New(aerr.ErrCodeStoreRead, "failed to match codes (padded)", err)
		}
		for rows.Next() {
			var docID int64
			if err := rows.Scan(&docID); err != nil {
				rows.Close()
				return nil, aerr.New(aerr.ErrCodeStoreRead, "failed to scan padded match", err)
			}
			appendMatch(docID, code)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	return matches, nil
}

// SearchFilenames returns documents whose filename contains substr,
// case-insensitively.
func (s *SQLiteMetadataStore) SearchFilenames(ctx context.Context, substr string) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, aerr.New(aerr.ErrCodeStoreRead, "store is closed", nil)
	}
	if substr == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE filename LIKE ? COLLATE NOCASE ORDER BY id`,
		"%"+substr+"%")
	if err != nil {
		return nil, aerr.New(aerr.ErrCodeStoreRead, "failed to search filenames", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, aerr.New(aerr.ErrCodeStoreRead, "failed to scan document", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ListDrafters returns the distinct non-empty drafter names.
func (s *SQLiteMetadataStore) ListDrafters(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, aerr.New(aerr.ErrCodeStoreRead, "store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT drafter FROM documents WHERE drafter != '' ORDER BY drafter`)
	if err != nil {
		return nil, aerr.New(aerr.ErrCodeStoreRead, "failed to list drafters", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, aerr.New(aerr.ErrCodeStoreRead, "failed to scan drafter", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// GetState reads a runtime state value. Missing keys return empty string.
func (s *SQLiteMetadataStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", aerr.New(aerr.ErrCodeStoreRead, "store is closed", nil)
	}

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM app_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", aerr.New(aerr.ErrCodeStoreRead, fmt.Sprintf("failed to read state %s", key), err)
	}
	return value, nil
}

// SetState writes a runtime state value.
func (s *SQLiteMetadataStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return aerr.New(aerr.ErrCodeStoreWrite, "store is closed", nil)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO app_state (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return aerr.New(aerr.ErrCodeStoreWrite, fmt.Sprintf("failed to write state %s", key), err)
	}
	return nil
}

// Close closes the store. Idempotent.
func (s *SQLiteMetadataStore) Close() error {
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

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
