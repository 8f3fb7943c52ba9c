package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/okian/vault/internal/domain/model"
	"github.com/okian/vault/pkg/logger"
)

// Dialect selects driver specific SQL.
type Dialect string

// Supported dialects. The values double as database/sql driver names.
const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		event_id      TEXT PRIMARY KEY,
		partition_key TEXT NOT NULL,
		account_id    TEXT NOT NULL,
		secret_id     TEXT NOT NULL DEFAULT '',
		payload       TEXT NOT NULL,
		ts            BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_partition_ts ON events(partition_key, ts)`,
	`CREATE TABLE IF NOT EXISTS secrets (
		partition_key TEXT NOT NULL,
		secret_id     TEXT NOT NULL,
		account_id    TEXT NOT NULL DEFAULT '',
		value         TEXT NOT NULL,
		PRIMARY KEY (partition_key, secret_id)
	)`,
}

const (
	selectEventsSQL = `
SELECT event_id, account_id, secret_id, payload, ts
FROM events
WHERE partition_key = ? AND ts >= ? AND ts <= ?
ORDER BY ts, event_id`

	selectSecretsSQL = `
SELECT secret_id, account_id, value
FROM secrets
WHERE partition_key = ?
ORDER BY secret_id`

	insertEventSQL = `
INSERT INTO events (event_id, partition_key, account_id, secret_id, payload, ts)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (event_id) DO NOTHING`

	upsertSecretSQL = `
INSERT INTO secrets (secret_id, partition_key, account_id, value)
VALUES (?, ?, ?, ?)
ON CONFLICT (partition_key, secret_id) DO UPDATE SET
	account_id = excluded.account_id,
	value = excluded.value`
)

// SQLStore persists events and secrets through database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  logger.Logger

	mu     sync.RWMutex
	closed bool
}

var _ Store = (*SQLStore)(nil)

// OpenSQLStore opens dsn with the driver of dialect and bootstraps the schema.
func OpenSQLStore(ctx context.Context, dialect Dialect, dsn string, opts ...Option) (*SQLStore, error) {
	switch dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, dialect)
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s, err := NewSQLStore(ctx, db, dialect, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open database and bootstraps the schema.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect, opts ...Option) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect, logger: logger.Discard()}
	for _, opt := range opts {
		opt(s)
	}

	if dialect == DialectSQLite {
		// One writer at a time; WAL keeps readers unblocked.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return s, nil
}

// rebind rewrites ? placeholders into the dialect's form.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Events implements Store.
func (s *SQLStore) Events(ctx context.Context, accountID string, from, to time.Time) ([]model.EncryptedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(selectEventsSQL), accountID, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []model.EncryptedEvent
	for rows.Next() {
		var (
			e  model.EncryptedEvent
			ts int64
		)
		if err := rows.Scan(&e.EventID, &e.AccountID, &e.SecretID, &e.Payload, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// Secrets implements Store.
func (s *SQLStore) Secrets(ctx context.Context, accountID string) ([]model.EncryptedSecret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(selectSecretsSQL), accountID)
	if err != nil {
		return nil, fmt.Errorf("query secrets: %w", err)
	}
	defer rows.Close()

	var out []model.EncryptedSecret
	for rows.Next() {
		var sec model.EncryptedSecret
		if err := rows.Scan(&sec.SecretID, &sec.AccountID, &sec.Value); err != nil {
			return nil, fmt.Errorf("scan secret: %w", err)
		}
		out = append(out, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate secrets: %w", err)
	}
	return out, nil
}

// InsertEvents implements Store.
func (s *SQLStore) InsertEvents(ctx context.Context, accountID string, events ...model.EncryptedEvent) (int, error) {
	for _, e := range events {
		if err := checkEvent(e); err != nil {
			return 0, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrStoreClosed
	}

	inserted := 0
	err := s.inTx(ctx, insertEventSQL, func(stmt *sql.Stmt) error {
		for _, e := range events {
			res, err := stmt.ExecContext(ctx, e.EventID, accountID, e.AccountID, e.SecretID, e.Payload, e.Timestamp.UnixNano())
			if err != nil {
				return fmt.Errorf("insert event %s: %w", e.EventID, err)
			}
			if n, err := res.RowsAffected(); err == nil {
				inserted += int(n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// InsertSecrets implements Store.
func (s *SQLStore) InsertSecrets(ctx context.Context, accountID string, secrets ...model.EncryptedSecret) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	return s.inTx(ctx, upsertSecretSQL, func(stmt *sql.Stmt) error {
		for _, sec := range secrets {
			if _, err := stmt.ExecContext(ctx, sec.SecretID, accountID, sec.AccountID, sec.Value); err != nil {
				return fmt.Errorf("upsert secret %s: %w", sec.SecretID, err)
			}
		}
		return nil
	})
}

func (s *SQLStore) inTx(ctx context.Context, query string, fn func(*sql.Stmt) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, s.rebind(query))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	if err := fn(stmt); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn(ctx, "rollback failed", logger.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
