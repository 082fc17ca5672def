package tracking

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/verbaquest/chime/internal/events"
)

// recordedTypes is the subset of bus events worth persisting. High-volume
// progress events stay out of the database.
var recordedTypes = map[events.Type]bool{
	events.TypeLoadError:       true,
	events.TypePlay:            true,
	events.TypePreloadComplete: true,
	events.TypePreloadCancel:   true,
	events.TypeUnlock:          true,
}

// Recorder persists engine lifecycle events to SQLite for later analysis.
// A write failure disables the recorder for the rest of the session so a
// broken disk never interferes with playback.
type Recorder struct {
	db        *sql.DB
	sessionID string
	disabled  atomic.Bool

	mu    sync.Mutex
	token int
	bus   *events.Bus
}

// NewRecorder creates a recorder over an open diagnostics database
func NewRecorder(db *sql.DB) *Recorder {
	sessionID := uuid.New().String()
	slog.Debug("tracking recorder created", "session_id", sessionID)
	return &Recorder{db: db, sessionID: sessionID, token: -1}
}

// SessionID returns this session's identity
func (r *Recorder) SessionID() string { return r.sessionID }

// Attach subscribes the recorder to an event bus
func (r *Recorder) Attach(bus *events.Bus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bus != nil {
		slog.Warn("tracking recorder already attached")
		return
	}
	r.bus = bus
	r.token = bus.SubscribeAll(r.handle)
}

// Detach unsubscribes the recorder from its bus
func (r *Recorder) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bus == nil {
		return
	}
	r.bus.Unsubscribe(r.token)
	r.bus = nil
	r.token = -1
}

func (r *Recorder) handle(event events.Event) {
	if !recordedTypes[event.Type] {
		return
	}

	var detail string
	if event.Err != nil {
		detail = event.Err.Error()
	}
	if event.Type == events.TypePreloadComplete || event.Type == events.TypePreloadCancel {
		detail = fmt.Sprintf("loaded=%d failed=%d total=%d",
			event.Loaded, event.Failed, event.Total)
	}

	r.Record(event.Type.String(), event.ClipID, event.BatchID, detail)
}

// Record persists one event row. Failures disable the recorder.
func (r *Recorder) Record(eventType, clipID string, batchID int64, detail string) {
	if r.disabled.Load() {
		return
	}

	var clip, det sql.NullString
	if clipID != "" {
		clip = sql.NullString{String: clipID, Valid: true}
	}
	if detail != "" {
		det = sql.NullString{String: detail, Valid: true}
	}
	var batch sql.NullInt64
	if batchID != 0 {
		batch = sql.NullInt64{Int64: batchID, Valid: true}
	}

	_, err := r.db.Exec(
		`INSERT INTO audio_events (timestamp, session_id, event_type, clip_id, batch_id, detail)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		time.Now().UnixMilli(), r.sessionID, eventType, clip, batch, det)
	if err != nil {
		// One failure means the database is unusable; stop trying
		r.disabled.Store(true)
		slog.Error("tracking write failed, disabling recorder",
			"event_type", eventType,
			"error", err)
	}
}

// Disabled reports whether the recorder has shut itself off
func (r *Recorder) Disabled() bool {
	return r.disabled.Load()
}

// TypeCount is one row of the event summary
type TypeCount struct {
	EventType string
	Count     int
}

// Summarize counts recorded events by type, most frequent first
func (r *Recorder) Summarize() ([]TypeCount, error) {
	rows, err := r.db.Query(
		`SELECT event_type, COUNT(*) AS n
		 FROM audio_events
		 GROUP BY event_type
		 ORDER BY n DESC, event_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to query event summary: %w", err)
	}
	defer rows.Close()

	var out []TypeCount
	for rows.Next() {
		var tc TypeCount
		if err := rows.Scan(&tc.EventType, &tc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan event summary row: %w", err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// RecentFailures lists the newest load failures up to limit
func (r *Recorder) RecentFailures(limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.Query(
		`SELECT clip_id, COALESCE(detail, '')
		 FROM audio_events
		 WHERE event_type = 'load_error'
		 ORDER BY timestamp DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query load failures: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var clip sql.NullString
		var detail string
		if err := rows.Scan(&clip, &detail); err != nil {
			return nil, fmt.Errorf("failed to scan load failure row: %w", err)
		}
		out = append(out, fmt.Sprintf("%s: %s", clip.String, detail))
	}
	return out, rows.Err()
}
