package manifest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
)

// countingSource counts fetches and can be switched between failing and succeeding
type countingSource struct {
	fetches atomic.Int64
	failing atomic.Bool
	payload []byte
	block   chan struct{} // optional: hold fetches open until closed
}

func (s *countingSource) Fetch(ctx context.Context) ([]byte, error) {
	s.fetches.Add(1)
	if s.block != nil {
		<-s.block
	}
	if s.failing.Load() {
		return nil, errors.New("synthetic fetch failure")
	}
	return s.payload, nil
}

func (s *countingSource) Describe() string { return "counting-source" }

func TestLoaderCachesSuccess(t *testing.T) {
	source := &countingSource{payload: []byte(testManifestJSON)}
	loader := NewLoader(source)

	first, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}

	second, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}

	if first != second {
		t.Error("expected the cached manifest instance on the second load")
	}
	if fetches := source.fetches.Load(); fetches != 1 {
		t.Errorf("expected exactly 1 fetch, got %d", fetches)
	}
	if !loader.Loaded() {
		t.Error("Loaded() should report true after a successful load")
	}
}

func TestLoaderRetriesAfterFailure(t *testing.T) {
	source := &countingSource{payload: []byte(testManifestJSON)}
	source.failing.Store(true)
	loader := NewLoader(source)

	if _, err := loader.Load(context.Background()); err == nil {
		t.Fatal("expected fetch failure")
	}
	if loader.Loaded() {
		t.Error("a failed load must not mark the loader as loaded")
	}

	// The failure cleared the in-flight state, so a later call retries
	source.failing.Store(false)
	m, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if m.EntryCount() != 4 {
		t.Errorf("unexpected entry count %d", m.EntryCount())
	}
	if fetches := source.fetches.Load(); fetches != 2 {
		t.Errorf("expected 2 fetches (fail + retry), got %d", fetches)
	}
}

func TestLoaderSharesInFlightFetch(t *testing.T) {
	source := &countingSource{
		payload: []byte(testManifestJSON),
		block:   make(chan struct{}),
	}
	loader := NewLoader(source)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*Manifest, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = loader.Load(context.Background())
		}(i)
	}

	// Wait for the single flight to start, give the remaining callers
	// time to join it, then release the blocked fetch
	for source.fetches.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(source.block)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Errorf("caller %d received a different manifest instance", i)
		}
	}

	if fetches := source.fetches.Load(); fetches != 1 {
		t.Errorf("concurrent callers must share one fetch, got %d", fetches)
	}
}

func TestFileSource(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/audio/manifest.json", []byte(testManifestJSON), 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}

	loader := NewLoader(NewFileSource(fs, "/audio/manifest.json"))
	m, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if m.DefaultFormat != "mp3" {
		t.Errorf("unexpected default format %q", m.DefaultFormat)
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	loader := NewLoader(NewFileSource(afero.NewMemMapFs(), "/nope/manifest.json"))

	if _, err := loader.Load(context.Background()); err == nil {
		t.Fatal("expected error for missing manifest file")
	}
}

func TestFileSourceRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	source := NewFileSource(afero.NewMemMapFs(), "/manifest.json")
	if _, err := source.Fetch(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
