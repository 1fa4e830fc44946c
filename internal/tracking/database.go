package tracking

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver
)

// NewDatabase creates a new SQLite database with the specified path and
// applies the schema
func NewDatabase(dbPath string) (*sql.DB, error) {
	// Ensure directory exists if not in-memory
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply pragmas first
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA user_version = 1",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return db, nil
}

// ensureSchema creates the database schema if it doesn't exist
func ensureSchema(db *sql.DB) error {
	schema := `
-- One row per decode session
CREATE TABLE IF NOT EXISTS decode_sessions (
    id            INTEGER PRIMARY KEY,
    timestamp     INTEGER NOT NULL,
    file_path     TEXT    NOT NULL,
    format        TEXT    NOT NULL,
    codec         TEXT,
    sample_rate   INTEGER NOT NULL,
    channels      INTEGER NOT NULL,
    duration_ms   INTEGER NOT NULL,
    chunks_read   INTEGER NOT NULL,
    audio_chunks  INTEGER NOT NULL,
    truncations   INTEGER NOT NULL DEFAULT 0,
    precise_index INTEGER NOT NULL CHECK (precise_index IN (0,1)),
    outcome       TEXT    NOT NULL CHECK (outcome IN ('completed','cancelled','failed')),
    error         TEXT,
    elapsed_ms    INTEGER NOT NULL
);

-- Indexes for common queries
CREATE INDEX IF NOT EXISTS idx_sessions_timestamp ON decode_sessions(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_sessions_format ON decode_sessions(format);
CREATE INDEX IF NOT EXISTS idx_sessions_outcome ON decode_sessions(outcome);
`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}
