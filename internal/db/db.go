// Package db provides the centralized database connection and schema for ambilightd.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// busyTimeoutMs lets a profile save from the API wait for a ledger write from
// the streaming goroutine instead of failing with SQLITE_BUSY.
const busyTimeoutMs = 5000

// schema lists the tables in creation order. Every statement is idempotent.
var schema = []struct {
	table string
	ddl   string
}{
	// Append-only history of streaming sessions: one row per lifecycle event.
	{"session_ledger", `
		CREATE TABLE IF NOT EXISTS session_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			session_id TEXT NOT NULL,
			config_id TEXT,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_ts ON session_ledger(timestamp);
		CREATE INDEX IF NOT EXISTS idx_ledger_session ON session_ledger(session_id, event_type);
	`},
	// Versioned JSON documents keyed by (kind, id); holds the saved profile.
	{"resource_state", `
		CREATE TABLE IF NOT EXISTS resource_state (
			kind TEXT NOT NULL,
			id TEXT NOT NULL,
			payload TEXT NOT NULL,
			version INTEGER DEFAULT 1,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (kind, id)
		);
	`},
}

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database in WAL mode and initializes the schema
func Open(dbPath string) (*DB, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d", dbPath, busyTimeoutMs)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, s := range schema {
		if _, err := db.Exec(s.ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create %s table: %w", s.table, err)
		}
	}

	return &DB{db}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
