package settings

import (
	"encoding/json"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/adrg/xdg"
	"github.com/spf13/afero"
)

// Setting keys
const (
	KeyMasterVolume = "audio.master_volume"
	KeyMuted        = "audio.muted"
)

// Defaults applied when a setting is absent or unreadable
const (
	DefaultMasterVolume = 0.8
	DefaultMuted        = false
)

// Store persists small key-value settings between sessions
type Store interface {
	GetFloat(key string, fallback float64) float64
	GetBool(key string, fallback bool) bool
	SetFloat(key string, value float64)
	SetBool(key string, value bool)
}

// FileStore keeps settings in a JSON file. Reads fall back to defaults on
// any problem; writes log a warning and carry on, so a read-only disk
// never breaks playback.
type FileStore struct {
	fs   afero.Fs
	path string

	mu     sync.Mutex
	values map[string]json.RawMessage
	loaded bool
}

// NewFileStore creates a store backed by an explicit file path
func NewFileStore(fs afero.Fs, path string) *FileStore {
	return &FileStore{
		fs:     fs,
		path:   path,
		values: make(map[string]json.RawMessage),
	}
}

// NewXDGStore creates a store at the XDG-standard settings location
func NewXDGStore(fs afero.Fs) *FileStore {
	path := filepath.Join(xdg.ConfigHome, "chime", "settings.json")
	slog.Debug("settings store path resolved", "path", path)
	return NewFileStore(fs, path)
}

// Path returns the backing file path
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) loadLocked() {
	if s.loaded {
		return
	}
	s.loaded = true

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		slog.Debug("no settings file, using defaults", "path", s.path, "error", err)
		return
	}

	var values map[string]json.RawMessage
	if err := json.Unmarshal(data, &values); err != nil {
		slog.Warn("corrupt settings file, using defaults", "path", s.path, "error", err)
		return
	}

	s.values = values
	slog.Debug("settings loaded", "path", s.path, "keys", len(values))
}

func (s *FileStore) saveLocked() {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		slog.Warn("failed to encode settings", "error", err)
		return
	}

	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		slog.Warn("failed to create settings directory",
			"path", filepath.Dir(s.path),
			"error", err)
		return
	}

	if err := afero.WriteFile(s.fs, s.path, data, 0o644); err != nil {
		slog.Warn("failed to write settings file", "path", s.path, "error", err)
		return
	}

	slog.Debug("settings saved", "path", s.path, "keys", len(s.values))
}

// GetFloat reads a float setting, returning fallback when absent or invalid
func (s *FileStore) GetFloat(key string, fallback float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()

	raw, ok := s.values[key]
	if !ok {
		return fallback
	}

	var value float64
	if err := json.Unmarshal(raw, &value); err != nil {
		slog.Warn("invalid stored setting, using fallback",
			"key", key,
			"raw", string(raw),
			"error", err)
		return fallback
	}
	return value
}

// GetBool reads a bool setting, returning fallback when absent or invalid
func (s *FileStore) GetBool(key string, fallback bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()

	raw, ok := s.values[key]
	if !ok {
		return fallback
	}

	var value bool
	if err := json.Unmarshal(raw, &value); err != nil {
		slog.Warn("invalid stored setting, using fallback",
			"key", key,
			"raw", string(raw),
			"error", err)
		return fallback
	}
	return value
}

// SetFloat stores a float setting and persists immediately
func (s *FileStore) SetFloat(key string, value float64) {
	s.set(key, value)
}

// SetBool stores a bool setting and persists immediately
func (s *FileStore) SetBool(key string, value bool) {
	s.set(key, value)
}

func (s *FileStore) set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()

	raw, err := json.Marshal(value)
	if err != nil {
		slog.Warn("failed to encode setting", "key", key, "error", err)
		return
	}

	s.values[key] = raw
	s.saveLocked()
}

// MemoryStore is an in-process Store for tests and hosts without a disk
type MemoryStore struct {
	mu     sync.Mutex
	floats map[string]float64
	bools  map[string]bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		floats: make(map[string]float64),
		bools:  make(map[string]bool),
	}
}

func (s *MemoryStore) GetFloat(key string, fallback float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.floats[key]; ok {
		return v
	}
	return fallback
}

func (s *MemoryStore) GetBool(key string, fallback bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.bools[key]; ok {
		return v
	}
	return fallback
}

func (s *MemoryStore) SetFloat(key string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.floats[key] = value
}

func (s *MemoryStore) SetBool(key string, value bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bools[key] = value
}

var _ Store = (*FileStore)(nil)
var _ Store = (*MemoryStore)(nil)
