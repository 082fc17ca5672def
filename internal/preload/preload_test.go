package preload

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/verbaquest/chime/internal/events"
)

// fakeLoader records load calls and fails configured ids
type fakeLoader struct {
	mu       sync.Mutex
	attempts map[string]int
	failing  map[string]bool
	delay    time.Duration

	unloaded []string

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		attempts: make(map[string]int),
		failing:  make(map[string]bool),
	}
}

func (l *fakeLoader) load(ctx context.Context, id string) error {
	current := l.inFlight.Add(1)
	defer l.inFlight.Add(-1)
	for {
		max := l.maxInFlight.Load()
		if current <= max || l.maxInFlight.CompareAndSwap(max, current) {
			break
		}
	}

	l.mu.Lock()
	l.attempts[id]++
	failing := l.failing[id]
	delay := l.delay
	l.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if failing {
		return errors.New("decode failed")
	}
	return ctx.Err()
}

func (l *fakeLoader) unload(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unloaded = append(l.unloaded, id)
}

func (l *fakeLoader) attemptCount(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts[id]
}

func (l *fakeLoader) unloadedIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.unloaded...)
}

func TestPreloadAllSuccessful(t *testing.T) {
	loader := newFakeLoader()
	bus := events.NewBus()

	var progressEvents, completeEvents int
	bus.Subscribe(events.TypePreloadProgress, func(events.Event) { progressEvents++ })
	bus.Subscribe(events.TypePreloadComplete, func(events.Event) { completeEvents++ })

	o := NewOrchestrator(loader.load, loader.unload, bus)
	ids := []string{"word-cat", "word-dog", "word-sun", "fx-correct"}

	result := o.Preload(context.Background(), ids, Options{})

	if result.Cancelled {
		t.Error("batch should not report cancellation")
	}
	if len(result.Successful) != 4 {
		t.Errorf("expected 4 successful, got %d", len(result.Successful))
	}
	if len(result.Failed) != 0 {
		t.Errorf("expected 0 failed, got %v", result.Failed)
	}
	if progressEvents != 4 {
		t.Errorf("expected 4 progress events, got %d", progressEvents)
	}
	if completeEvents != 1 {
		t.Errorf("expected 1 complete event, got %d", completeEvents)
	}
}

func TestPreloadFailureIsolation(t *testing.T) {
	loader := newFakeLoader()
	loader.failing["word-broken"] = true

	o := NewOrchestrator(loader.load, loader.unload, events.NewBus())
	result := o.Preload(context.Background(),
		[]string{"word-cat", "word-broken", "word-dog"}, Options{})

	if len(result.Successful) != 2 {
		t.Errorf("expected 2 successful, got %v", result.Successful)
	}
	if len(result.Failed) != 1 || result.Failed[0].ID != "word-broken" {
		t.Errorf("expected word-broken to fail, got %v", result.Failed)
	}
	if len(result.Failed) == 1 && result.Failed[0].Err == nil {
		t.Error("expected the failure to carry its error")
	}
	if result.Cancelled {
		t.Error("isolated failures must not cancel the batch")
	}
}

func TestPreloadRetriesFailedClips(t *testing.T) {
	loader := newFakeLoader()
	loader.failing["word-flaky"] = true

	o := NewOrchestrator(loader.load, loader.unload, events.NewBus())
	o.Preload(context.Background(), []string{"word-flaky", "word-ok"},
		Options{RetryAttempts: 1})

	// One initial attempt plus one retry for the failing clip
	if got := loader.attemptCount("word-flaky"); got != 2 {
		t.Errorf("expected 2 attempts for failing clip, got %d", got)
	}
	if got := loader.attemptCount("word-ok"); got != 1 {
		t.Errorf("expected 1 attempt for healthy clip, got %d", got)
	}
}

func TestPreloadDeduplicatesIDs(t *testing.T) {
	loader := newFakeLoader()

	o := NewOrchestrator(loader.load, loader.unload, events.NewBus())
	result := o.Preload(context.Background(),
		[]string{"word-cat", "word-cat", "word-cat"}, Options{})

	if len(result.Successful) != 1 {
		t.Errorf("expected 1 successful after dedup, got %v", result.Successful)
	}
	if got := loader.attemptCount("word-cat"); got != 1 {
		t.Errorf("expected 1 load for duplicated id, got %d", got)
	}
}

func TestPreloadConcurrencyBound(t *testing.T) {
	loader := newFakeLoader()
	loader.delay = 20 * time.Millisecond

	o := NewOrchestrator(loader.load, loader.unload, events.NewBus())
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	o.Preload(context.Background(), ids, Options{MaxConcurrent: 2})

	if max := loader.maxInFlight.Load(); max > 2 {
		t.Errorf("concurrency bound exceeded: %d loads in flight", max)
	}
}

func TestPreloadCancelReleasesPartialClips(t *testing.T) {
	loader := newFakeLoader()
	loader.delay = 30 * time.Millisecond

	bus := events.NewBus()
	var cancelEvents int
	var mu sync.Mutex
	bus.Subscribe(events.TypePreloadCancel, func(events.Event) {
		mu.Lock()
		cancelEvents++
		mu.Unlock()
	})

	o := NewOrchestrator(loader.load, loader.unload, bus)
	ids := []string{"a", "b", "c", "d", "e", "f"}

	batchID, results := o.Start(context.Background(), ids, Options{MaxConcurrent: 2})

	// Let a couple of clips land before pulling the plug
	time.Sleep(50 * time.Millisecond)
	if !o.Cancel(batchID) {
		t.Fatal("Cancel should find the running batch")
	}

	result := <-results
	if !result.Cancelled {
		t.Error("batch should report cancellation")
	}
	if len(result.Successful) == 0 {
		t.Error("expected some clips loaded before cancellation")
	}
	if len(result.Successful) == len(ids) {
		t.Error("expected cancellation before the batch finished")
	}

	unloaded := loader.unloadedIDs()
	if len(unloaded) != len(result.Successful) {
		t.Errorf("expected %d clips released, got %d", len(result.Successful), len(unloaded))
	}

	mu.Lock()
	if cancelEvents != 1 {
		t.Errorf("expected 1 cancel event, got %d", cancelEvents)
	}
	mu.Unlock()
}

func TestPreloadTimeoutFailsSlowClip(t *testing.T) {
	loader := newFakeLoader()
	loader.delay = 200 * time.Millisecond

	o := NewOrchestrator(loader.load, loader.unload, events.NewBus())
	result := o.Preload(context.Background(), []string{"word-slow"},
		Options{Timeout: 20 * time.Millisecond, RetryAttempts: -1})

	if len(result.Failed) != 1 {
		t.Fatalf("expected slow clip to fail, got %v", result.Failed)
	}
	if !errors.Is(result.Failed[0].Err, context.DeadlineExceeded) {
		t.Errorf("expected a timeout error, got %v", result.Failed[0].Err)
	}
	if result.Cancelled {
		t.Error("a per-clip timeout must not cancel the batch")
	}
}

func TestPreloadProgressSnapshot(t *testing.T) {
	loader := newFakeLoader()
	loader.delay = 30 * time.Millisecond

	o := NewOrchestrator(loader.load, loader.unload, events.NewBus())
	batchID, results := o.Start(context.Background(),
		[]string{"a", "b", "c", "d"}, Options{MaxConcurrent: 1})

	time.Sleep(50 * time.Millisecond)
	progress, ok := o.Progress(batchID)
	if !ok {
		t.Fatal("Progress should find the running batch")
	}
	if progress.Total != 4 {
		t.Errorf("expected total 4, got %d", progress.Total)
	}
	if progress.Loaded == 0 {
		t.Error("expected some progress by now")
	}
	if len(progress.CurrentlyLoading) != 1 {
		t.Errorf("expected 1 clip in flight with concurrency 1, got %v", progress.CurrentlyLoading)
	}

	<-results

	if _, ok := o.Progress(batchID); ok {
		t.Error("finished batches should be forgotten")
	}
	if o.Active() != 0 {
		t.Errorf("expected no active batches, got %d", o.Active())
	}
}

func TestPreloadIndependentBatches(t *testing.T) {
	loader := newFakeLoader()
	loader.delay = 40 * time.Millisecond

	o := NewOrchestrator(loader.load, loader.unload, events.NewBus())

	cancelID, cancelled := o.Start(context.Background(), []string{"a", "b", "c"}, Options{MaxConcurrent: 1})
	_, surviving := o.Start(context.Background(), []string{"x", "y"}, Options{})

	time.Sleep(20 * time.Millisecond)
	o.Cancel(cancelID)

	first := <-cancelled
	second := <-surviving

	if !first.Cancelled {
		t.Error("first batch should be cancelled")
	}
	if second.Cancelled {
		t.Error("second batch must be unaffected by the first's cancellation")
	}
	if len(second.Successful) != 2 {
		t.Errorf("second batch should finish cleanly, got %v", second.Successful)
	}
}

func TestPreloadEmptyBatch(t *testing.T) {
	loader := newFakeLoader()

	o := NewOrchestrator(loader.load, loader.unload, events.NewBus())
	result := o.Preload(context.Background(), nil, Options{})

	if len(result.Successful) != 0 || len(result.Failed) != 0 || result.Cancelled {
		t.Errorf("empty batch should settle immediately, got %+v", result)
	}
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{}.withDefaults()

	if opts.MaxConcurrent != DefaultMaxConcurrent {
		t.Errorf("expected default concurrency %d, got %d", DefaultMaxConcurrent, opts.MaxConcurrent)
	}
	if opts.RetryAttempts != DefaultRetryAttempts {
		t.Errorf("expected default retries %d, got %d", DefaultRetryAttempts, opts.RetryAttempts)
	}
	if opts.Timeout != DefaultTimeout {
		t.Errorf("expected default timeout %v, got %v", DefaultTimeout, opts.Timeout)
	}
	if opts.Priority != PriorityNormal {
		t.Errorf("expected default priority %q, got %q", PriorityNormal, opts.Priority)
	}

	kept := Options{Priority: PriorityHigh}.withDefaults()
	if kept.Priority != PriorityHigh {
		t.Errorf("expected explicit priority preserved, got %q", kept.Priority)
	}
}
