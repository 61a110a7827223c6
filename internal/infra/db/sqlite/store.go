// Package sqlite is the embedded single-node job store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"docqa-engine/internal/domain"
	"docqa-engine/internal/domain/ports/repository"
	"docqa-engine/internal/infra/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	id              TEXT    NOT NULL UNIQUE,
	conversation_id TEXT    NOT NULL,
	client_id       TEXT    NOT NULL,
	role            TEXT    NOT NULL CHECK (role IN ('user', 'assistant')),
	content         TEXT    NOT NULL,
	job_id          TEXT,
	created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages (conversation_id, seq);

CREATE TABLE IF NOT EXISTS jobs (
	id                TEXT    PRIMARY KEY,
	conversation_id   TEXT    NOT NULL,
	client_id         TEXT    NOT NULL,
	model_name        TEXT    NOT NULL,
	spec              TEXT    NOT NULL,
	status            TEXT    NOT NULL CHECK (status IN ('queued', 'processing', 'completed', 'failed')),
	progress          REAL    NOT NULL DEFAULT 0 CHECK (progress >= 0 AND progress <= 1),
	retry_count       INTEGER NOT NULL DEFAULT 0,
	max_retries       INTEGER NOT NULL DEFAULT 3,
	worker_id         TEXT,
	last_error        TEXT,
	error_message     TEXT,
	result            TEXT,
	user_message_id   TEXT,
	result_message_id TEXT,
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL,
	started_at        INTEGER,
	completed_at      INTEGER,
	CHECK (retry_count <= max_retries),
	CHECK ((status = 'completed') = (result IS NOT NULL)),
	CHECK ((status = 'failed') = (error_message IS NOT NULL))
);
CREATE INDEX IF NOT EXISTS jobs_queue_idx ON jobs (status, created_at, id);
CREATE INDEX IF NOT EXISTS jobs_worker_idx ON jobs (worker_id, status);
CREATE INDEX IF NOT EXISTS jobs_conversation_idx ON jobs (conversation_id, created_at);
`

// Store owns the database handle shared by the repositories in this package.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database on a single connection.
func Open(path string) (*Store, error) {
	dsn := "file::memory:?_foreign_keys=on"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", path)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for pool statistics.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) nowMillis() int64 { return s.now().UTC().UnixMilli() }

var _ repository.TransactionManager = (*Store)(nil)

// WithTx runs fn in one transaction; the handle passed to fn is a *sql.Tx.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) executor(tx repository.Tx) (executor, error) {
	switch v := tx.(type) {
	case *sql.Tx:
		return v, nil
	case nil:
		return s.db, nil
	default:
		return nil, domain.ErrInvalidExecContext
	}
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

// ReportPoolStats publishes connection gauges every interval until ctx is done.
func (s *Store) ReportPoolStats(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		st := s.db.Stats()
		metrics.SetDBPoolStats("sqlite", int32(st.OpenConnections), int32(st.Idle), int32(st.InUse))
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
