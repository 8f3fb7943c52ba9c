package cachestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/okian/vault/internal/domain/cache"
	"github.com/okian/vault/pkg/logger"
	"github.com/okian/vault/pkg/metrics"
)

const (
	createCacheSQL = `CREATE TABLE IF NOT EXISTS cache_entries (
		cache_key TEXT PRIMARY KEY,
		value     BLOB NOT NULL
	)`
	selectCacheSQL = `SELECT value FROM cache_entries WHERE cache_key = ?`
	upsertCacheSQL = `INSERT INTO cache_entries (cache_key, value) VALUES (?, ?)
ON CONFLICT (cache_key) DO UPDATE SET value = excluded.value`
)

// SQLiteCache persists committed entries in a SQLite file.
type SQLiteCache struct {
	db     *sql.DB
	ws     *workingSet
	logger logger.Logger
}

var _ cache.Cache = (*SQLiteCache)(nil)

// OpenSQLite opens (or creates) the cache database at path.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteCache, error) {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", createCacheSQL} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("bootstrap cache schema: %w", err)
		}
	}
	return &SQLiteCache{db: db, ws: newWorkingSet(), logger: s.logger}, nil
}

// Get implements cache.Cache.
func (c *SQLiteCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok, err := c.ws.get(key); err != nil || ok {
		if ok {
			metrics.RecordCacheLookup(true)
		}
		return v, ok, err
	}

	var value []byte
	err := c.db.QueryRowContext(ctx, selectCacheSQL, key).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		metrics.RecordCacheLookup(false)
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}
	c.ws.remember(key, value)
	metrics.RecordCacheLookup(true)
	return value, true, nil
}

// Set implements cache.Cache.
func (c *SQLiteCache) Set(_ context.Context, key string, value []byte) error {
	if err := c.ws.set(key, value); err != nil {
		return err
	}
	metrics.RecordCacheWrite()
	metrics.UpdateCacheEntries(int64(c.ws.size()))
	return nil
}

// Commit writes every dirty entry in one transaction.
func (c *SQLiteCache) Commit(ctx context.Context) error {
	dirty, err := c.ws.drain()
	if err != nil {
		return err
	}
	if len(dirty) == 0 {
		c.ws.settle()
		return nil
	}
	if err := c.flush(ctx, dirty); err != nil {
		c.ws.restore(dirty)
		return fmt.Errorf("%w: %w", ErrCommit, err)
	}
	c.ws.settle()
	metrics.UpdateCacheEntries(int64(c.ws.size()))
	c.logger.Debug(ctx, "cache committed", logger.Int("entries", len(dirty)))
	return nil
}

func (c *SQLiteCache) flush(ctx context.Context, dirty map[string][]byte) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertCacheSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	keys := make([]string, 0, len(dirty))
	for k := range dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := stmt.ExecContext(ctx, k, dirty[k]); err != nil {
			return fmt.Errorf("write %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// Close releases the database. Uncommitted entries are lost.
func (c *SQLiteCache) Close() error {
	if !c.ws.close() {
		return nil
	}
	return c.db.Close()
}
