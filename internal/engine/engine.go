package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/verbaquest/chime/internal/backend"
	"github.com/verbaquest/chime/internal/caps"
	"github.com/verbaquest/chime/internal/clip"
	"github.com/verbaquest/chime/internal/codec"
	"github.com/verbaquest/chime/internal/events"
	"github.com/verbaquest/chime/internal/manifest"
	"github.com/verbaquest/chime/internal/preload"
	"github.com/verbaquest/chime/internal/settings"
	"github.com/verbaquest/chime/internal/unlock"
)

// Engine errors
var (
	ErrAudioLocked     = errors.New("audio is locked pending a user gesture")
	ErrClipLoading     = errors.New("clip is still loading")
	ErrEngineDestroyed = errors.New("engine has been destroyed")
)

// Config assembles an Engine. Backend, Manifest and Fetcher are required;
// everything else gets a sensible default.
type Config struct {
	Backend  backend.Backend
	Manifest *manifest.Loader
	Fetcher  Fetcher

	Codecs   *codec.Registry
	Detector *caps.Detector
	Store    settings.Store
	Bus      *events.Bus
}

// Engine is the facade over the whole audio lifecycle: manifest-resolved
// loading, playback control, volume and mute, batch preloading and the
// touch-unlock gate.
type Engine struct {
	backend  backend.Backend
	loader   *manifest.Loader
	fetcher  Fetcher
	codecs   *codec.Registry
	detector *caps.Detector
	store    settings.Store
	bus      *events.Bus

	clips     *clip.Registry
	gate      *unlock.Gate
	preloader *preload.Orchestrator

	mu           sync.Mutex
	masterVolume float64
	muted        bool
	clipVolume   map[string]float64
	destroyed    bool
}

// New creates an engine from a config
func New(cfg Config) (*Engine, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("engine requires an audio backend")
	}
	if cfg.Manifest == nil {
		return nil, fmt.Errorf("engine requires a manifest loader")
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("engine requires a clip fetcher")
	}

	codecs := cfg.Codecs
	if codecs == nil {
		codecs = codec.NewDefaultRegistry()
	}
	detector := cfg.Detector
	if detector == nil {
		detector = caps.NewDetector(codecs)
	}
	store := cfg.Store
	if store == nil {
		store = settings.NewMemoryStore()
	}
	bus := cfg.Bus
	if bus == nil {
		bus = events.NewBus()
	}

	e := &Engine{
		backend:    cfg.Backend,
		loader:     cfg.Manifest,
		fetcher:    cfg.Fetcher,
		codecs:     codecs,
		detector:   detector,
		store:      store,
		bus:        bus,
		clips:      clip.NewRegistry(),
		clipVolume: make(map[string]float64),
	}

	e.masterVolume = clamp01(store.GetFloat(settings.KeyMasterVolume, settings.DefaultMasterVolume))
	e.muted = store.GetBool(settings.KeyMuted, settings.DefaultMuted)

	e.gate = unlock.NewGate(cfg.Backend, bus, *detector.Detect())
	e.gate.SetPrimer(e.primeBackend)

	e.preloader = preload.NewOrchestrator(e.Load, e.unloadQuiet, bus)

	slog.Info("audio engine created",
		"backend", cfg.Backend.Name(),
		"master_volume", e.masterVolume,
		"muted", e.muted,
		"requires_unlock", e.gate.Required())

	return e, nil
}

// Bus exposes the engine's event bus
func (e *Engine) Bus() *events.Bus { return e.bus }

// AddListener subscribes a handler to one event type
func (e *Engine) AddListener(t events.Type, handler events.Handler) int {
	return e.bus.Subscribe(t, handler)
}

// AddGlobalListener subscribes a handler to every event type
func (e *Engine) AddGlobalListener(handler events.Handler) int {
	return e.bus.SubscribeAll(handler)
}

// RemoveListener unsubscribes by token
func (e *Engine) RemoveListener(token int) {
	e.bus.Unsubscribe(token)
}

// Load fetches, decodes and stages one clip. Loading an already loaded
// clip is a no-op; concurrent loads for one id share a single fetch.
func (e *Engine) Load(ctx context.Context, id string) error {
	if e.isDestroyed() {
		return ErrEngineDestroyed
	}

	m, err := e.loader.Load(ctx)
	if err != nil {
		e.publishLoadError(id, err)
		return err
	}

	entry, err := m.Resolve(id)
	if err != nil {
		e.publishLoadError(id, err)
		return err
	}

	sourceURL, err := m.BestFormat(entry, e.detector)
	if err != nil {
		e.publishLoadError(id, err)
		return err
	}

	c := e.clips.GetOrCreate(id)
	done, owner, err := c.BeginLoad(sourceURL)
	if err != nil {
		return err
	}

	if !owner {
		// Another loader owns the fetch; share its outcome
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		if c.IsLoaded() {
			return nil
		}
		if lastErr := c.LastError(); lastErr != nil {
			return lastErr
		}
		return nil
	}

	if err := e.performLoad(ctx, c, id, entry, sourceURL); err != nil {
		if failErr := c.FailLoad(err); failErr != nil {
			slog.Error("failed to record load failure", "id", id, "error", failErr)
		}
		e.publishLoadError(id, err)
		return err
	}

	e.bus.Publish(events.Event{Type: events.TypeLoad, ClipID: id})
	return nil
}

// performLoad runs the owned fetch-decode-stage pipeline
func (e *Engine) performLoad(ctx context.Context, c *clip.Clip, id string, entry *manifest.Entry, sourceURL string) error {
	raw, err := e.fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		return fmt.Errorf("failed to fetch clip %s: %w", id, err)
	}

	data, err := e.codecs.Decode(sourceURL, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to decode clip %s: %w", id, err)
	}

	handle, err := e.backend.Load(ctx, id, data)
	if err != nil {
		return fmt.Errorf("failed to stage clip %s: %w", id, err)
	}

	if err := c.CompleteLoad(handle, data.Duration()); err != nil {
		handle.Release()
		return err
	}

	baseVolume := 1.0
	if entry.Volume != nil {
		baseVolume = clamp01(*entry.Volume)
	}

	e.mu.Lock()
	e.clipVolume[id] = baseVolume
	e.mu.Unlock()

	slog.Info("clip loaded",
		"id", id,
		"format_url", sourceURL,
		"duration_ms", data.Duration().Milliseconds(),
		"base_volume", baseVolume)
	return nil
}

func (e *Engine) publishLoadError(id string, err error) {
	slog.Warn("clip load failed", "id", id, "error", err)
	e.bus.Publish(events.Event{Type: events.TypeLoadError, ClipID: id, Err: err})
}

// Unload releases one clip's resources. Unknown ids are no-ops.
func (e *Engine) Unload(id string) {
	e.clips.Remove(id)

	e.mu.Lock()
	delete(e.clipVolume, id)
	e.mu.Unlock()
}

func (e *Engine) unloadQuiet(id string) {
	e.Unload(id)
}

// IsLoaded reports whether a clip is resident
func (e *Engine) IsLoaded(id string) bool {
	c := e.clips.Get(id)
	return c != nil && c.IsLoaded()
}

// GetState returns a clip's lifecycle state; unknown ids are idle
func (e *Engine) GetState(id string) clip.State {
	c := e.clips.Get(id)
	if c == nil {
		return clip.StateIdle
	}
	return c.State()
}

// Destroy stops all playback and releases every resource. The engine is
// unusable afterwards.
func (e *Engine) Destroy() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	e.mu.Unlock()

	slog.Info("destroying audio engine")

	e.StopAll()
	e.clips.Clear()

	if err := e.backend.Close(); err != nil {
		slog.Warn("failed to close audio backend", "error", err)
	}
}

func (e *Engine) isDestroyed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyed
}

// Preload loads a batch of clips and blocks until it settles
func (e *Engine) Preload(ctx context.Context, ids []string, opts preload.Options) preload.Result {
	return e.preloader.Preload(ctx, ids, opts)
}

// PreloadWithProgress starts a batch in the background; the returned batch
// id drives CancelPreload and GetPreloadProgress
func (e *Engine) PreloadWithProgress(ctx context.Context, ids []string, opts preload.Options) (int64, <-chan preload.Result) {
	return e.preloader.Start(ctx, ids, opts)
}

// CancelPreload aborts a running batch
func (e *Engine) CancelPreload(batchID int64) bool {
	return e.preloader.Cancel(batchID)
}

// GetPreloadProgress snapshots one running batch
func (e *Engine) GetPreloadProgress(batchID int64) (preload.Progress, bool) {
	return e.preloader.Progress(batchID)
}

// GetAllPreloadProgress snapshots every running batch
func (e *Engine) GetAllPreloadProgress() []preload.Progress {
	return e.preloader.AllProgress()
}

// RequiresUnlock reports whether this host gates audio behind a gesture
func (e *Engine) RequiresUnlock() bool {
	return e.gate.Required()
}

// IsUnlocked reports whether audio playback is permitted
func (e *Engine) IsUnlocked() bool {
	return e.gate.IsUnlocked()
}

// NotifyGesture records a user gesture, attempting an unlock on the first
func (e *Engine) NotifyGesture(ctx context.Context) error {
	return e.gate.NotifyGesture(ctx)
}

// UnlockAudio attempts to activate the audio backend
func (e *Engine) UnlockAudio(ctx context.Context) error {
	return e.gate.Unlock(ctx)
}

// UnlockState snapshots the unlock gate
func (e *Engine) UnlockState() unlock.State {
	return e.gate.Snapshot()
}

// primeBackend confirms activation by playing and immediately stopping a
// generated silent clip
func (e *Engine) primeBackend(ctx context.Context) error {
	handle, err := e.backend.Load(ctx, "silent-primer", silentClip())
	if err != nil {
		return err
	}
	defer handle.Release()

	if err := handle.Play(backend.PlayOptions{Volume: 0}); err != nil {
		return err
	}
	return handle.Stop()
}

// silentClip generates 50ms of silence for the unlock primer
func silentClip() *codec.AudioData {
	const sampleRate = 8000
	frames := sampleRate / 20
	return &codec.AudioData{
		Samples:    make([]byte, frames*2),
		Channels:   1,
		SampleRate: sampleRate,
		Format:     codec.FormatS16,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
