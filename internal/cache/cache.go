// Package cache provides a SQLite-backed cache of enrichment results.
// Entries are keyed by the normalized query and expire after a TTL. The
// cache serves two purposes: skipping the provider round trip for repeated
// questions, and acting as the degraded-mode fallback when the provider is
// unreachable.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Entry is one cached enrichment result.
type Entry struct {
	// Context is the final enrichment text.
	Context string `json:"context"`
	// TokenCount is the estimate for Context.
	TokenCount int `json:"tokenCount"`
	// Sources are the unique source names.
	Sources []string `json:"sources"`
	// Relevance is the mean enhanced score.
	Relevance float64 `json:"relevanceScore"`
	// DocumentsIncluded counts documents in the final context.
	DocumentsIncluded int `json:"documentsIncluded"`
	// Truncated reports whether the budget cut content.
	Truncated bool `json:"truncated"`
	// Strategy names the compression path taken.
	Strategy string `json:"strategy"`
	// CreatedAt is when the entry was stored.
	CreatedAt time.Time `json:"-"`
}

// Store persists enrichment results. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the entry for a query, or nil when absent or expired.
	Get(ctx context.Context, query string) (*Entry, error)
	// GetStale returns the entry for a query even past its TTL, or nil
	// when absent. Used as the degraded-mode fallback.
	GetStale(ctx context.Context, query string) (*Entry, error)
	// Put stores or replaces the entry for a query.
	Put(ctx context.Context, query string, e Entry) error
	// Purge deletes expired entries and returns how many were removed.
	Purge(ctx context.Context) (int64, error)
	// Ping verifies the backing database is reachable.
	Ping(ctx context.Context) error
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteCache is a Store backed by a local SQLite database.
type SQLiteCache struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// DefaultDBPath returns the default cache database path. It resolves to
// ~/.insightkb/cache.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cache: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".insightkb")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cache: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "cache.db"), nil
}

// Open opens (or creates) a SQLiteCache at the given path and runs the
// schema migration. Use ":memory:" for an in-memory database in tests.
func Open(path string, ttl time.Duration) (*SQLiteCache, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	c := &SQLiteCache{db: db, ttl: ttl, now: time.Now}
	if err := c.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// migrate creates the schema if it does not already exist.
func (c *SQLiteCache) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS enrichments (
    key         TEXT    PRIMARY KEY,  -- sha256 of the normalized query
    query       TEXT    NOT NULL,
    payload     TEXT    NOT NULL,     -- JSON-encoded Entry
    created_at  INTEGER NOT NULL      -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_enrichments_created
    ON enrichments (created_at);
`
	if _, err := c.db.Exec(ddl); err != nil {
		return fmt.Errorf("cache: migrate: %w", err)
	}
	return nil
}

// cacheKey normalizes the query and hashes it so arbitrary user text never
// becomes a primary key directly.
func cacheKey(query string) string {
	norm := strings.ToLower(strings.TrimSpace(query))
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached entry for a query, or nil when no fresh entry
// exists. Expired rows are left for Purge to collect.
func (c *SQLiteCache) Get(ctx context.Context, query string) (*Entry, error) {
	e, err := c.lookup(ctx, query)
	if err != nil || e == nil {
		return nil, err
	}
	if c.ttl > 0 && c.now().Sub(e.CreatedAt) > c.ttl {
		return nil, nil
	}
	return e, nil
}

// GetStale returns the entry regardless of age. Serving a stale answer
// beats serving none when the provider is down.
func (c *SQLiteCache) GetStale(ctx context.Context, query string) (*Entry, error) {
	return c.lookup(ctx, query)
}

func (c *SQLiteCache) lookup(ctx context.Context, query string) (*Entry, error) {
	const q = `SELECT payload, created_at FROM enrichments WHERE key = ?`

	var payload string
	var ts int64
	err := c.db.QueryRowContext(ctx, q, cacheKey(query)).Scan(&payload, &ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get: %w", err)
	}

	var e Entry
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return nil, fmt.Errorf("cache: decode entry: %w", err)
	}
	e.CreatedAt = time.Unix(ts, 0)
	return &e, nil
}

// Put stores or replaces the entry for a query.
func (c *SQLiteCache) Put(ctx context.Context, query string, e Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache: encode entry: %w", err)
	}
	const q = `INSERT OR REPLACE INTO enrichments (key, query, payload, created_at) VALUES (?, ?, ?, ?)`
	if _, err := c.db.ExecContext(ctx, q, cacheKey(query), query, string(payload), c.now().Unix()); err != nil {
		return fmt.Errorf("cache: put: %w", err)
	}
	return nil
}

// Purge deletes entries older than the TTL. A zero TTL purges nothing.
func (c *SQLiteCache) Purge(ctx context.Context) (int64, error) {
	if c.ttl <= 0 {
		return 0, nil
	}
	cutoff := c.now().Add(-c.ttl).Unix()
	res, err := c.db.ExecContext(ctx, `DELETE FROM enrichments WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cache: purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache: purge count: %w", err)
	}
	return n, nil
}

// Ping verifies the backing database is reachable.
func (c *SQLiteCache) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close releases the database connection pool.
func (c *SQLiteCache) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("cache: close: %w", err)
	}
	return nil
}
