package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"

	"quadrantd/domain"
)

// Store is the SQLite persistence layer. A single connection keeps write
// transactions serialized, which is all a personal task database needs.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the task database at path, applies pragmas and
// brings the schema up to date. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		dsn = fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, q := range pragmas {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			estimated_minutes INTEGER,
			due_epoch_day INTEGER,
			due_timestamp INTEGER,
			tags TEXT NOT NULL DEFAULT '',
			quadrant INTEGER NOT NULL,
			status INTEGER NOT NULL DEFAULT 0,
			is_pinned INTEGER NOT NULL DEFAULT 0,
			reminder_enabled INTEGER NOT NULL DEFAULT 0,
			reminder_interval_value INTEGER,
			reminder_interval_unit INTEGER NOT NULL DEFAULT 0,
			sort_order INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			is_mit INTEGER NOT NULL DEFAULT 0,
			audio_path TEXT NOT NULL DEFAULT '',
			repeat_type INTEGER NOT NULL DEFAULT 0
		);
	`); err != nil {
		return fmt.Errorf("create tasks table: %w", err)
	}

	// Columns added after the first release. ALTER TABLE in SQLite cannot be
	// made conditional, so a duplicate-column error means the column is
	// already there and is safe to skip.
	alters := []string{
		"ALTER TABLE tasks ADD COLUMN due_timestamp INTEGER;",
		"ALTER TABLE tasks ADD COLUMN reminder_enabled INTEGER NOT NULL DEFAULT 0;",
		"ALTER TABLE tasks ADD COLUMN reminder_interval_value INTEGER;",
		"ALTER TABLE tasks ADD COLUMN reminder_interval_unit INTEGER NOT NULL DEFAULT 0;",
		"ALTER TABLE tasks ADD COLUMN is_mit INTEGER NOT NULL DEFAULT 0;",
		"ALTER TABLE tasks ADD COLUMN audio_path TEXT NOT NULL DEFAULT '';",
		"ALTER TABLE tasks ADD COLUMN repeat_type INTEGER NOT NULL DEFAULT 0;",
	}
	for _, q := range alters {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			if strings.Contains(err.Error(), "duplicate column name") {
				continue
			}
			return fmt.Errorf("migrate tasks table: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_tasks_quadrant ON tasks(quadrant);",
		"CREATE INDEX IF NOT EXISTS idx_tasks_quadrant_order ON tasks(quadrant, is_pinned, sort_order);",
		"CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);",
	}
	for _, q := range indexes {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// RunInTx runs fn inside one database transaction, committing on nil and
// rolling back on error.
func (s *Store) RunInTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&txQueries{q: dbTx}); err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			log.WithError(rbErr).Error("rollback failed")
		}
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
