package tracking

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver
)

// NewDatabase opens a SQLite database at the given path and applies the
// diagnostics schema. Pass ":memory:" for an ephemeral database.
func NewDatabase(dbPath string) (*sql.DB, error) {
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

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA user_version = 1",
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

// ensureSchema creates the diagnostics schema if it doesn't exist
func ensureSchema(db *sql.DB) error {
	schema := `
-- One row per engine lifecycle event worth keeping
CREATE TABLE IF NOT EXISTS audio_events (
    id         INTEGER PRIMARY KEY,
    timestamp  INTEGER NOT NULL,
    session_id TEXT    NOT NULL,
    event_type TEXT    NOT NULL,
    clip_id    TEXT,
    batch_id   INTEGER,
    detail     TEXT
);

CREATE INDEX IF NOT EXISTS idx_audio_events_timestamp ON audio_events(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audio_events_type ON audio_events(event_type);
CREATE INDEX IF NOT EXISTS idx_audio_events_session ON audio_events(session_id);
CREATE INDEX IF NOT EXISTS idx_audio_events_clip ON audio_events(clip_id);
`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// GetDatabasePath returns the XDG-compliant path for the diagnostics database
func GetDatabasePath() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		// Fallback to current directory if the cache dir is not available
		cacheDir = "."
	}

	dbDir := filepath.Join(cacheDir, "chime")
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create database directory: %w", err)
	}

	return filepath.Join(dbDir, "events.db"), nil
}
