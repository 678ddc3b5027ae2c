package cache

import (
	"bytes"
	"compress/zlib"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	aerr "github.com/askdocs/askdocs/internal/errors"
)

// envelopeVersion tags the on-disk payload format.
const envelopeVersion = 1

// compressThreshold is the payload size above which zlib is applied.
const compressThreshold = 512

// envelope is the versioned wrapper stored for every entry.
type envelope struct {
	V       int             `json:"v"`
	Payload json.RawMessage `json:"payload"`
}

// PersistentConfig tunes the durable tier.
type PersistentConfig struct {
	Path        string
	TTL         time.Duration
	TTLMode     TTLMode
	MaxDBMB     int
	CleanupProb float64 // probability a Set triggers maintenance
}

// PersistentCache is the durable tier: a single-file SQLite database in
// WAL mode. It survives restarts and is authoritative on memory-tier
// misses. Maintenance (expiry cleanup and size enforcement) is amortized
// probabilistically across writes.
type PersistentCache struct {
	mu     sync.Mutex
	db     *sql.DB
	cfg    PersistentConfig
	now    func() time.Time
	randFn func() float64
	closed bool
}

// NewPersistentCache opens (or creates) the cache database.
func NewPersistentCache(cfg PersistentConfig) (*PersistentCache, error) {
	if cfg.CleanupProb <= 0 {
		cfg.CleanupProb = 0.01
	}
	if cfg.TTLMode == "" {
		cfg.TTLMode = TTLSliding
	}

	dsn := ":memory:"
	if cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, aerr.New(aerr.ErrCodeCacheDatabase,
				fmt.Sprintf("failed to create cache directory for %s", cfg.Path), err)
		}
		dsn = cfg.Path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, aerr.New(aerr.ErrCodeCacheDatabase, "failed to open cache database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA mmap_size = 268435456",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, aerr.New(aerr.ErrCodeCacheDatabase, "failed to set cache pragma", err)
		}
	}

	schema := `CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		compressed INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		accessed_at INTEGER NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_cache_accessed ON cache_entries(accessed_at);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, aerr.New(aerr.ErrCodeCacheDatabase, "failed to create cache schema", err)
	}

	return &PersistentCache{
		db:     db,
		cfg:    cfg,
		now:    time.Now,
		randFn: rand.Float64,
	}, nil
}

// encodePayload wraps the raw payload in the versioned envelope and
// compresses large payloads.
func encodePayload(payload []byte) (blob []byte, compressed bool, err error) {
	env, err := json.Marshal(envelope{V: envelopeVersion, Payload: payload})
	if err != nil {
		return nil, false, err
	}
	if len(env) < compressThreshold {
		return env, false, nil
	}
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(env); err != nil {
		return nil, false, err
	}
	if err := w.Close(); err != nil {
		return nil, false, err
	}
	return buf.Bytes(), true, nil
}

func decodePayload(blob []byte, compressed bool) ([]byte, error) {
	raw := blob
	if compressed {
		r, err := zlib.NewReader(bytes.NewReader(blob))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		raw, err = io.ReadAll(r)
		if err != nil {
			return nil, err
		}
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if env.V != envelopeVersion {
		return nil, fmt.Errorf("unsupported cache envelope version %d", env.V)
	}
	return env.Payload, nil
}

// Get returns the stored payload, updating the access stamp and counter.
// Expired entries are treated as misses and deleted in place.
func (c *PersistentCache) Get(key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, false, aerr.New(aerr.ErrCodeCacheDatabase, "cache is closed", nil)
	}

	var blob []byte
	var compressed int
	var createdAt, accessedAt int64
	err := c.db.QueryRow(
		`SELECT payload, compressed, created_at, accessed_at FROM cache_entries WHERE key = ?`,
		key).Scan(&blob, &compressed, &createdAt, &accessedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, aerr.New(aerr.ErrCodeCacheDatabase, "cache read failed", err)
	}

	now := c.now().Unix()
	if c.expiredAt(createdAt, accessedAt, now) {
		_, _ = c.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key)
		return nil, false, nil
	}

	payload, err := decodePayload(blob, compressed != 0)
	if err != nil {
		// Undecodable rows are dropped, not surfaced.
		slog.Warn("cache_entry_corrupt", slog.String("key", key), slog.String("error", err.Error()))
		_, _ = c.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key)
		return nil, false, nil
	}

	_, _ = c.db.Exec(
		`UPDATE cache_entries SET accessed_at = ?, access_count = access_count + 1 WHERE key = ?`,
		now, key)
	return payload, true, nil
}

func (c *PersistentCache) expiredAt(createdAt, accessedAt, now int64) bool {
	if c.cfg.TTL <= 0 {
		return false
	}
	ref := createdAt
	if c.cfg.TTLMode == TTLSliding && accessedAt > ref {
		ref = accessedAt
	}
	return now-ref > int64(c.cfg.TTL.Seconds())
}

// Set upserts an entry, preserving created_at for existing keys and
// bumping the access counter. Maintenance runs on a small fraction of
// writes to amortize its cost.
func (c *PersistentCache) Set(key string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return aerr.New(aerr.ErrCodeCacheDatabase, "cache is closed", nil)
	}

	blob, compressed, err := encodePayload(payload)
	if err != nil {
		return aerr.New(aerr.ErrCodeCacheDatabase, "cache payload encoding failed", err)
	}

	now := c.now().Unix()
	_, err = c.db.Exec(`
		INSERT INTO cache_entries (key, payload, compressed, created_at, accessed_at, access_count)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			compressed = excluded.compressed,
			accessed_at = excluded.accessed_at,
			access_count = access_count + 1`,
		key, blob, boolToInt(compressed), now, now)
	if err != nil {
		return aerr.New(aerr.ErrCodeCacheDatabase, "cache write failed", err)
	}

	if c.randFn() < c.cfg.CleanupProb {
		c.maintainLocked(now)
	}
	return nil
}

// maintainLocked runs expiry cleanup and size enforcement. Caller holds
// the lock.
func (c *PersistentCache) maintainLocked(now int64) {
	if n, err := c.cleanupExpiredLocked(now); err == nil && n > 0 {
		slog.Debug("cache_expired_cleaned", slog.Int64("rows", n))
	}
	if err := c.enforceSizeLimitLocked(); err != nil {
		slog.Warn("cache_size_enforcement_failed", slog.String("error", err.Error()))
	}
}

func (c *PersistentCache) cleanupExpiredLocked(now int64) (int64, error) {
	if c.cfg.TTL <= 0 {
		return 0, nil
	}
	ttlSec := int64(c.cfg.TTL.Seconds())
	var res sql.Result
	var err error
	if c.cfg.TTLMode == TTLSliding {
		res, err = c.db.Exec(
			`DELETE FROM cache_entries WHERE ? - MAX(created_at, accessed_at) > ?`, now, ttlSec)
	} else {
		res, err = c.db.Exec(
			`DELETE FROM cache_entries WHERE ? - created_at > ?`, now, ttlSec)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// enforceSizeLimitLocked bulk-evicts least-recently-accessed rows when the
// database exceeds the MB cap.
func (c *PersistentCache) enforceSizeLimitLocked() error {
	if c.cfg.MaxDBMB <= 0 {
		return nil
	}

	var pageCount, pageSize int64
	if err := c.db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return err
	}
	if err := c.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return err
	}
	sizeBytes := pageCount * pageSize
	limitBytes := int64(c.cfg.MaxDBMB) * 1024 * 1024
	if sizeBytes <= limitBytes {
		return nil
	}

	var total int64
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM cache_entries`).Scan(&total); err != nil {
		return err
	}
	// Evict a quarter of the rows per pass; repeated passes converge.
	evict := total / 4
	if evict < 1 {
		evict = 1
	}
	_, err := c.db.Exec(`
		DELETE FROM cache_entries WHERE key IN (
			SELECT key FROM cache_entries ORDER BY accessed_at ASC LIMIT ?
		)`, evict)
	if err != nil {
		return err
	}
	slog.Info("cache_size_evicted",
		slog.Int64("rows", evict),
		slog.Int64("db_bytes", sizeBytes))
	return nil
}

// Invalidate deletes all keys under the given namespace prefix.
func (c *PersistentCache) Invalidate(prefix string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, aerr.New(aerr.ErrCodeCacheDatabase, "cache is closed", nil)
	}
	res, err := c.db.Exec(
		`DELETE FROM cache_entries WHERE key >= ? AND key < ?`,
		prefix, prefix+"\xff")
	if err != nil {
		return 0, aerr.New(aerr.ErrCodeCacheDatabase, "cache invalidation failed", err)
	}
	return res.RowsAffected()
}

// Count returns the number of stored entries.
func (c *PersistentCache) Count() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, aerr.New(aerr.ErrCodeCacheDatabase, "cache is closed", nil)
	}
	var n int64
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM cache_entries`).Scan(&n); err != nil {
		return 0, aerr.New(aerr.ErrCodeCacheDatabase, "cache count failed", err)
	}
	return n, nil
}

// Close closes the database. Idempotent.
func (c *PersistentCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	_, _ = c.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return c.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
