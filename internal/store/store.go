// Package store is the SQLite persistence layer: the local content store,
// course tracking records, runtime options and the persisted sync log.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var (
	// ErrAlreadyExists is returned by CreateWithTransaction when the course
	// already has a local counterpart. CreateResult.ExistingLocalID is set.
	ErrAlreadyExists = errors.New("store: course already exists")
	// ErrMissingTitle guards against persisting a course nobody validated.
	ErrMissingTitle = errors.New("store: course title is required")
)

// dbtx is satisfied by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

// Open opens the database file at path, creating parent directories and
// the schema as needed.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: mkdir: %w", err)
	}

	dsn := "file:" + path +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(10000)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	return newStore(db, log)
}

// OpenMemory opens a private in-memory database. All access goes through a
// single connection since each ":memory:" connection is its own database.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: pragma: %w", err)
	}
	return newStore(db, zerolog.Nop())
}

func newStore(db *sql.DB, log zerolog.Logger) (*Store, error) {
	s := &Store{db: db, log: log.With().Str("component", "store").Logger(), now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate step %d: %w", i, err)
		}
	}
	return nil
}

func (s *Store) stamp() string { return s.now().UTC().Format(timeLayout) }

func parseTime(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS content_items (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		item_type  TEXT NOT NULL DEFAULT 'course',
		title      TEXT NOT NULL,
		norm_title TEXT NOT NULL,
		slug       TEXT NOT NULL UNIQUE,
		body       TEXT NOT NULL DEFAULT '',
		excerpt    TEXT NOT NULL DEFAULT '',
		status     TEXT NOT NULL DEFAULT 'draft',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_content_items_type_status ON content_items(item_type, status)`,
	`CREATE INDEX IF NOT EXISTS idx_content_items_norm_title ON content_items(norm_title)`,
	`CREATE TABLE IF NOT EXISTS content_meta (
		item_id    INTEGER NOT NULL REFERENCES content_items(id) ON DELETE CASCADE,
		meta_key   TEXT NOT NULL CHECK (meta_key <> ''),
		meta_value TEXT NOT NULL,
		PRIMARY KEY (item_id, meta_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_content_meta_key_value ON content_meta(meta_key, meta_value)`,
	`CREATE TABLE IF NOT EXISTS course_tracking (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		remote_id        INTEGER UNIQUE,
		catalog_id       INTEGER,
		local_content_id INTEGER,
		title            TEXT NOT NULL DEFAULT '',
		slug             TEXT NOT NULL DEFAULT '',
		sync_status      TEXT NOT NULL DEFAULT 'available',
		status_reason    TEXT NOT NULL DEFAULT '',
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_course_tracking_catalog ON course_tracking(catalog_id)`,
	`CREATE INDEX IF NOT EXISTS idx_course_tracking_local ON course_tracking(local_content_id)`,
	`CREATE INDEX IF NOT EXISTS idx_course_tracking_slug ON course_tracking(slug)`,
	`CREATE INDEX IF NOT EXISTS idx_course_tracking_title ON course_tracking(title)`,
	`CREATE INDEX IF NOT EXISTS idx_course_tracking_status ON course_tracking(sync_status)`,
	`CREATE TABLE IF NOT EXISTS options (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sync_log (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		level      TEXT NOT NULL,
		message    TEXT NOT NULL,
		raw        TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_log_created ON sync_log(created_at)`,
}
