// Package store persists per-entity state in SQLite: build records,
// notification state, threads, check history and the event journal.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat is used for every timestamp column.
const timeFormat = time.RFC3339Nano

const schema = `
CREATE TABLE IF NOT EXISTS repository_builds (
	repository_id TEXT PRIMARY KEY,
	state BLOB,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS notification_state (
	repository_id TEXT PRIMARY KEY,
	space_id TEXT NOT NULL,
	thread_resource TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS threads (
	thread_id TEXT PRIMARY KEY,
	space_id TEXT NOT NULL,
	thread_resource TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS thread_messages (
	thread_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	message_id TEXT NOT NULL,
	UNIQUE (thread_id, message_id)
);

CREATE INDEX IF NOT EXISTS idx_thread_messages_position
ON thread_messages(thread_id, position);

CREATE TABLE IF NOT EXISTS check_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	repository_id TEXT NOT NULL,
	outcome TEXT NOT NULL,
	build_number TEXT,
	build_state TEXT,
	error_message TEXT,
	checked_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_check_history_repository
ON check_history(repository_id, id DESC);

CREATE TABLE IF NOT EXISTS event_journal (
	event_id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	payload BLOB NOT NULL,
	recorded_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS event_deliveries (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id TEXT NOT NULL REFERENCES event_journal(event_id),
	process TEXT NOT NULL,
	instance TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	delivered_at TEXT,
	UNIQUE (event_id, process)
);

CREATE INDEX IF NOT EXISTS idx_event_deliveries_pending
ON event_deliveries(instance, seq) WHERE delivered_at IS NULL;
`

// Store is the SQLite-backed state store
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore opens (creating if needed) the database at dbPath
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for SQLite (single writer)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}

	if _, err := s.db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) timestamp() string {
	return s.now().Format(timeFormat)
}

// scanner is an interface that both *sql.Row and *sql.Rows implement
type scanner interface {
	Scan(dest ...any) error
}
