package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// Fetcher retrieves raw clip bytes for a manifest file reference
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// FileFetcher resolves manifest references against a base directory
type FileFetcher struct {
	fs      afero.Fs
	baseDir string
}

// NewFileFetcher creates a filesystem-backed fetcher
func NewFileFetcher(fs afero.Fs, baseDir string) *FileFetcher {
	return &FileFetcher{fs: fs, baseDir: baseDir}
}

// Fetch reads a clip file relative to the base directory
func (f *FileFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := ref
	if f.baseDir != "" && !filepath.IsAbs(ref) {
		path = filepath.Join(f.baseDir, ref)
	}

	data, err := afero.ReadFile(f.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read clip file %s: %w", path, err)
	}

	slog.Debug("clip file fetched", "path", path, "bytes", len(data))
	return data, nil
}

// HTTPFetcher resolves manifest references against a base URL
type HTTPFetcher struct {
	client  *http.Client
	baseURL string
}

// NewHTTPFetcher creates an HTTP-backed fetcher. A nil client gets a
// 30 second default; per-request deadlines come from the context.
func NewHTTPFetcher(client *http.Client, baseURL string) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFetcher{client: client, baseURL: baseURL}
}

// Fetch downloads a clip over HTTP
func (f *HTTPFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	target := ref
	if f.baseURL != "" {
		joined, err := url.JoinPath(f.baseURL, ref)
		if err != nil {
			return nil, fmt.Errorf("invalid clip reference %s: %w", ref, err)
		}
		target = joined
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build clip request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch clip %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("clip fetch returned status %d for %s", resp.StatusCode, target)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read clip body: %w", err)
	}

	slog.Debug("clip fetched over http", "url", target, "bytes", len(data))
	return data, nil
}

var _ Fetcher = (*FileFetcher)(nil)
var _ Fetcher = (*HTTPFetcher)(nil)
