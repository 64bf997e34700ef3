// Package store is the durable log: an append-only messages table, a
// secondary-indexed tasks table, and an upsert presence table, all backed
// by a single local SQLite database (spec §4.B). Writes are serialized by
// the database's own write lock; every correctness argument in the task
// engine (spec §4.H) depends on that serialization.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps a *sql.DB already opened against a SQLite driver. Production
// code opens it with Open (mattn/go-sqlite3, WAL + NORMAL durability);
// tests construct a *sql.DB against an in-memory modernc.org/sqlite
// database and pass it to New directly.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path with
// write-ahead logging and normal synchronous durability, then runs
// migrations.
func Open(path string) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The durable log serializes writes (spec §4.B design note); a single
	// connection makes that serialization explicit rather than relying on
	// SQLite's own locking to arbitrate between pooled connections.
	db.SetMaxOpenConns(1)
	return New(db)
}

// New wraps an already-open database connection, running migrations.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id       TEXT PRIMARY KEY,
		ts       REAL NOT NULL,
		from_id  TEXT NOT NULL,
		ch       TEXT NOT NULL,
		type     TEXT NOT NULL,
		v        INTEGER NOT NULL DEFAULT 1,
		body     TEXT NOT NULL DEFAULT '{}',
		files    TEXT NOT NULL DEFAULT '[]',
		reply_to TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_messages_ch ON messages(ch);
	CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(ts);
	CREATE INDEX IF NOT EXISTS idx_messages_ch_type ON messages(ch, type);

	CREATE TABLE IF NOT EXISTS tasks (
		id          TEXT PRIMARY KEY,
		created_at  REAL NOT NULL,
		updated_at  REAL NOT NULL,
		created_by  TEXT NOT NULL,
		assigned_to TEXT,
		claimed_by  TEXT,
		claimed_at  REAL,
		status      TEXT NOT NULL,
		title       TEXT NOT NULL,
		context     TEXT NOT NULL DEFAULT '{}',
		result      TEXT,
		files       TEXT NOT NULL DEFAULT '[]',
		ch          TEXT NOT NULL DEFAULT 'tasks'
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_ch ON tasks(ch);

	CREATE TABLE IF NOT EXISTS presence (
		agent_id  TEXT PRIMARY KEY,
		last_seen REAL NOT NULL,
		channels  TEXT NOT NULL DEFAULT '[]',
		meta      TEXT NOT NULL DEFAULT '{}'
	);
	`
	_, err := s.db.Exec(schema)
	return err
}
