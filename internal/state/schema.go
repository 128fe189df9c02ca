// Package state persists the per-user synchronization state: source
// listing snapshot, user folders, song folders, link records, and run
// history, backed by SQLite.
package state

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	id           TEXT PRIMARY KEY,
	role         TEXT NOT NULL,
	root_id      TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'uninitialized',
	last_sync_at DATETIME,
	failures     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS source_files (
	key         TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	song_title  TEXT NOT NULL DEFAULT '',
	key_token   TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL DEFAULT '',
	subtype     TEXT NOT NULL DEFAULT '',
	confidence  TEXT NOT NULL DEFAULT '',
	etag        TEXT NOT NULL DEFAULT '',
	size        INTEGER NOT NULL DEFAULT 0,
	modified_at DATETIME,
	deleted     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS song_folders (
	user_id   TEXT NOT NULL,
	song_key  TEXT NOT NULL,
	folder_id TEXT NOT NULL,
	PRIMARY KEY (user_id, song_key)
);

CREATE TABLE IF NOT EXISTS link_records (
	user_id  TEXT NOT NULL,
	file_key TEXT NOT NULL,
	song_key TEXT NOT NULL,
	link_id  TEXT NOT NULL,
	PRIMARY KEY (user_id, file_key)
);

CREATE INDEX IF NOT EXISTS idx_link_records_song ON link_records(user_id, song_key);
CREATE INDEX IF NOT EXISTS idx_link_records_file ON link_records(file_key);

CREATE TABLE IF NOT EXISTS sync_runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id     TEXT NOT NULL,
	kind        TEXT NOT NULL,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME,
	created     INTEGER NOT NULL DEFAULT 0,
	removed     INTEGER NOT NULL DEFAULT 0,
	errored     INTEGER NOT NULL DEFAULT 0,
	errors      TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_user ON sync_runs(user_id, id);
`

// DB wraps a sql.DB with state-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("state: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("state: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("state: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
