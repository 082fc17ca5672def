package preload

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/verbaquest/chime/internal/events"
)

// Defaults applied when an option is zero
const (
	DefaultMaxConcurrent = 3
	DefaultRetryAttempts = 1
	DefaultTimeout       = 10 * time.Second

	retryBaseDelay = 100 * time.Millisecond
)

// Priority labels a batch for diagnostics and event consumers; it does
// not affect scheduling order within the worker pool.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Options tunes one batch preload
type Options struct {
	// MaxConcurrent bounds how many clips load at once
	MaxConcurrent int

	// RetryAttempts is how many extra tries a failed clip gets.
	// Zero means the default; pass a negative value for no retries.
	RetryAttempts int

	// Timeout bounds each individual load attempt
	Timeout time.Duration

	// Priority tags the batch; empty means normal
	Priority Priority
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}
	if o.RetryAttempts == 0 {
		o.RetryAttempts = DefaultRetryAttempts
	} else if o.RetryAttempts < 0 {
		o.RetryAttempts = 0
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Priority == "" {
		o.Priority = PriorityNormal
	}
	return o
}

// LoadFunc loads a single clip; UnloadFunc releases one after a cancelled batch
type LoadFunc func(ctx context.Context, id string) error
type UnloadFunc func(id string)

// Progress is a point-in-time snapshot of a running batch
type Progress struct {
	BatchID          int64
	Total            int
	Loaded           int
	Failed           int
	CurrentlyLoading []string
	Done             bool
}

// Failure records one clip that could not be loaded
type Failure struct {
	ID  string
	Err error
}

// Result summarizes a finished batch
type Result struct {
	BatchID    int64
	Successful []string
	Failed     []Failure
	Cancelled  bool
}

// FailedIDs returns just the ids of the failed clips
func (r Result) FailedIDs() []string {
	ids := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		ids = append(ids, f.ID)
	}
	return ids
}

// Orchestrator runs concurrency-bounded batch preloads. Batches are
// independent: cancelling one never disturbs another.
type Orchestrator struct {
	load   LoadFunc
	unload UnloadFunc
	bus    *events.Bus

	mu        sync.Mutex
	nextBatch int64
	batches   map[int64]*batch
}

type batch struct {
	id     int64
	cancel context.CancelFunc
	total  int

	mu         sync.Mutex
	successful []string
	failed     []Failure
	inFlight   map[string]struct{}
	done       bool
}

func (b *batch) beginLoading(id string) {
	b.mu.Lock()
	b.inFlight[id] = struct{}{}
	b.mu.Unlock()
}

func (b *batch) endLoading(id string) {
	b.mu.Lock()
	delete(b.inFlight, id)
	b.mu.Unlock()
}

// inFlightLocked snapshots the ids currently loading; callers hold b.mu
func (b *batch) inFlightLocked() []string {
	if len(b.inFlight) == 0 {
		return nil
	}
	ids := make([]string, 0, len(b.inFlight))
	for id := range b.inFlight {
		ids = append(ids, id)
	}
	return ids
}

// NewOrchestrator creates a preload orchestrator around a clip loader
func NewOrchestrator(load LoadFunc, unload UnloadFunc, bus *events.Bus) *Orchestrator {
	return &Orchestrator{
		load:    load,
		unload:  unload,
		bus:     bus,
		batches: make(map[int64]*batch),
	}
}

// Preload loads a set of clips as one batch and blocks until every clip
// settles or the batch is cancelled. Duplicate ids are loaded once.
func (o *Orchestrator) Preload(ctx context.Context, ids []string, opts Options) Result {
	return o.run(ctx, ids, opts, nil)
}

func (o *Orchestrator) run(ctx context.Context, ids []string, opts Options, started chan<- int64) Result {
	opts = opts.withDefaults()
	ids = dedupe(ids)

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	b := &batch{cancel: cancel, total: len(ids), inFlight: make(map[string]struct{})}

	o.mu.Lock()
	o.nextBatch++
	b.id = o.nextBatch
	o.batches[b.id] = b
	o.mu.Unlock()

	if started != nil {
		started <- b.id
	}

	defer func() {
		o.mu.Lock()
		delete(o.batches, b.id)
		o.mu.Unlock()
	}()

	slog.Info("preload batch started",
		"batch_id", b.id,
		"clips", len(ids),
		"max_concurrent", opts.MaxConcurrent,
		"retry_attempts", opts.RetryAttempts,
		"timeout_ms", opts.Timeout.Milliseconds(),
		"priority", string(opts.Priority))

	o.publish(events.Event{
		Type:    events.TypePreloadStart,
		BatchID: b.id,
		Total:   len(ids),
	})

	tasks := make(chan string)
	group, groupCtx := errgroup.WithContext(batchCtx)

	// Fixed worker pool; the task channel enforces the concurrency bound
	for i := 0; i < opts.MaxConcurrent; i++ {
		group.Go(func() error {
			for id := range tasks {
				o.loadOne(groupCtx, b, id, opts)
			}
			return nil
		})
	}

	group.Go(func() error {
		defer close(tasks)
		for _, id := range ids {
			select {
			case tasks <- id:
			case <-groupCtx.Done():
				return nil
			}
		}
		return nil
	})

	group.Wait()

	cancelled := batchCtx.Err() != nil

	b.mu.Lock()
	b.done = true
	result := Result{
		BatchID:    b.id,
		Successful: append([]string(nil), b.successful...),
		Failed:     append([]Failure(nil), b.failed...),
		Cancelled:  cancelled,
	}
	b.mu.Unlock()

	if cancelled {
		// A cancelled batch leaves no residue; clips it already loaded
		// are released again
		for _, id := range result.Successful {
			if o.unload != nil {
				o.unload(id)
			}
		}
		slog.Info("preload batch cancelled",
			"batch_id", b.id,
			"loaded_then_released", len(result.Successful))
		o.publish(events.Event{
			Type:    events.TypePreloadCancel,
			BatchID: b.id,
			Total:   b.total,
		})
		return result
	}

	slog.Info("preload batch complete",
		"batch_id", b.id,
		"successful", len(result.Successful),
		"failed", len(result.Failed))

	o.publish(events.Event{
		Type:       events.TypePreloadComplete,
		BatchID:    b.id,
		Total:      b.total,
		Loaded:     len(result.Successful),
		Failed:     len(result.Failed),
		Successful: result.Successful,
		FailedIDs:  result.FailedIDs(),
	})
	return result
}

// loadOne drives one clip through its retry schedule
func (o *Orchestrator) loadOne(ctx context.Context, b *batch, id string, opts Options) {
	b.beginLoading(id)
	defer b.endLoading(id)

	var lastErr error

	for attempt := 0; attempt <= opts.RetryAttempts; attempt++ {
		if ctx.Err() != nil {
			return
		}

		if attempt > 0 {
			// Exponential backoff: 100ms, 200ms, 400ms, ...
			delay := retryBaseDelay * (1 << (attempt - 1))
			slog.Debug("retrying clip load",
				"id", id,
				"attempt", attempt,
				"delay_ms", delay.Milliseconds())

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		err := o.load(attemptCtx, id)
		cancel()

		if err == nil {
			o.settle(b, id, nil)
			return
		}
		lastErr = err

		// The batch going down is not a per-clip failure
		if ctx.Err() != nil {
			return
		}
	}

	o.settle(b, id, lastErr)
}

// settle records one clip's outcome and publishes progress
func (o *Orchestrator) settle(b *batch, id string, err error) {
	b.mu.Lock()
	delete(b.inFlight, id)
	if err == nil {
		b.successful = append(b.successful, id)
	} else {
		b.failed = append(b.failed, Failure{ID: id, Err: err})
	}
	loaded := len(b.successful)
	failed := len(b.failed)
	b.mu.Unlock()

	if err != nil {
		slog.Warn("clip preload failed", "batch_id", b.id, "id", id, "error", err)
	}

	o.publish(events.Event{
		Type:    events.TypePreloadProgress,
		BatchID: b.id,
		ClipID:  id,
		Err:     err,
		Loaded:  loaded,
		Failed:  failed,
		Total:   b.total,
	})
}

// Start launches a batch in the background, returning the batch id for
// Cancel/Progress plus a channel that yields the final result
func (o *Orchestrator) Start(ctx context.Context, ids []string, opts Options) (int64, <-chan Result) {
	started := make(chan int64, 1)
	results := make(chan Result, 1)

	go func() {
		results <- o.run(ctx, ids, opts, started)
	}()

	return <-started, results
}

// Cancel aborts a running batch. Unknown or finished batch ids are no-ops.
func (o *Orchestrator) Cancel(batchID int64) bool {
	o.mu.Lock()
	b, ok := o.batches[batchID]
	o.mu.Unlock()

	if !ok {
		slog.Debug("cancel requested for unknown batch", "batch_id", batchID)
		return false
	}

	slog.Info("cancelling preload batch", "batch_id", batchID)
	b.cancel()
	return true
}

// Progress reports the state of a batch, false when the batch is unknown
func (o *Orchestrator) Progress(batchID int64) (Progress, bool) {
	o.mu.Lock()
	b, ok := o.batches[batchID]
	o.mu.Unlock()

	if !ok {
		return Progress{}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return Progress{
		BatchID:          b.id,
		Total:            b.total,
		Loaded:           len(b.successful),
		Failed:           len(b.failed),
		CurrentlyLoading: b.inFlightLocked(),
		Done:             b.done,
	}, true
}

// AllProgress snapshots every running batch
func (o *Orchestrator) AllProgress() []Progress {
	o.mu.Lock()
	batches := make([]*batch, 0, len(o.batches))
	for _, b := range o.batches {
		batches = append(batches, b)
	}
	o.mu.Unlock()

	out := make([]Progress, 0, len(batches))
	for _, b := range batches {
		b.mu.Lock()
		out = append(out, Progress{
			BatchID:          b.id,
			Total:            b.total,
			Loaded:           len(b.successful),
			Failed:           len(b.failed),
			CurrentlyLoading: b.inFlightLocked(),
			Done:             b.done,
		})
		b.mu.Unlock()
	}
	return out
}

// Active reports how many batches are currently running
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.batches)
}

func (o *Orchestrator) publish(e events.Event) {
	if o.bus != nil {
		o.bus.Publish(e)
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
