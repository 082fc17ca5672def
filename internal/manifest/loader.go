package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"
)

// Source fetches the raw manifest document
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
	Describe() string
}

// FileSource reads the manifest from a filesystem path
type FileSource struct {
	fs   afero.Fs
	path string
}

// NewFileSource creates a manifest source over a filesystem path
func NewFileSource(fs afero.Fs, path string) *FileSource {
	return &FileSource{fs: fs, path: path}
}

// Fetch reads the manifest file
func (s *FileSource) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		slog.Error("failed to read manifest file", "path", s.path, "error", err)
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}
	return data, nil
}

// Describe returns the source location for logging
func (s *FileSource) Describe() string {
	return s.path
}

// HTTPSource fetches the manifest over HTTP
type HTTPSource struct {
	client *http.Client
	url    string
}

// NewHTTPSource creates a manifest source over an HTTP URL
func NewHTTPSource(client *http.Client, url string) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSource{client: client, url: url}
}

// Fetch downloads the manifest document
func (s *HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build manifest request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Error("manifest download failed", "url", s.url, "error", err)
		return nil, fmt.Errorf("manifest download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Error("manifest download returned non-OK status",
			"url", s.url,
			"status", resp.StatusCode)
		return nil, fmt.Errorf("manifest download failed: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest response: %w", err)
	}
	return data, nil
}

// Describe returns the source location for logging
func (s *HTTPSource) Describe() string {
	return s.url
}

// Loader fetches and caches the manifest. Load is idempotent: concurrent
// callers share one in-flight fetch, a success is cached for the process
// lifetime, and a failure leaves no in-flight state so a later call retries.
type Loader struct {
	source Source

	group  singleflight.Group
	mu     sync.RWMutex
	cached *Manifest
}

// NewLoader creates a manifest loader over a source
func NewLoader(source Source) *Loader {
	return &Loader{source: source}
}

// Load returns the cached manifest or performs the shared fetch
func (l *Loader) Load(ctx context.Context) (*Manifest, error) {
	l.mu.RLock()
	cached := l.cached
	l.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	result, err, shared := l.group.Do("manifest", func() (interface{}, error) {
		return l.fetchAndParse(ctx)
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("manifest load completed", "shared_flight", shared)
	return result.(*Manifest), nil
}

// Loaded reports whether a manifest has been successfully cached
func (l *Loader) Loaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cached != nil
}

func (l *Loader) fetchAndParse(ctx context.Context) (*Manifest, error) {
	slog.Debug("fetching manifest", "source", l.source.Describe())

	data, err := l.source.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("manifest fetch failed: %w", err)
	}

	manifest, err := Parse(data)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cached = manifest
	l.mu.Unlock()

	slog.Info("manifest loaded",
		"source", l.source.Describe(),
		"version", manifest.Version,
		"entries", manifest.EntryCount(),
		"categories", len(manifest.Categories),
		"default_format", manifest.DefaultFormat)

	return manifest, nil
}

// Parse decodes and indexes a raw manifest document
func Parse(data []byte) (*Manifest, error) {
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		slog.Error("failed to parse manifest JSON", "error", err)
		return nil, fmt.Errorf("failed to parse manifest JSON: %w", err)
	}

	if manifest.DefaultFormat == "" && len(manifest.SupportedFormats) > 0 {
		manifest.DefaultFormat = manifest.SupportedFormats[0]
		slog.Warn("manifest missing defaultFormat, using first supported format",
			"default_format", manifest.DefaultFormat)
	}

	manifest.buildIndex()

	// Integrity problems are diagnostics, never a parse failure
	if manifest.Validation.IntegrityCheck {
		manifest.IntegrityProblems()
	}

	return &manifest, nil
}
