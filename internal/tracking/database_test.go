package tracking

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDatabaseInMemory(t *testing.T) {
	db, err := NewDatabase(":memory:")
	require.NoError(t, err)
	defer db.Close()

	// Schema should exist and accept rows
	_, err = db.Exec(
		`INSERT INTO audio_events (timestamp, session_id, event_type, clip_id)
		 VALUES (1, 'session-1', 'play', 'word-cat')`)
	assert.NoError(t, err)

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM audio_events").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNewDatabaseCreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "events.db")

	db, err := NewDatabase(dbPath)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
}

func TestNewDatabaseIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "events.db")

	db1, err := NewDatabase(dbPath)
	require.NoError(t, err)
	db1.Close()

	// Re-opening applies the schema again without error
	db2, err := NewDatabase(dbPath)
	require.NoError(t, err)
	defer db2.Close()
}
