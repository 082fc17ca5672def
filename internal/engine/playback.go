package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/verbaquest/chime/internal/backend"
	"github.com/verbaquest/chime/internal/clip"
	"github.com/verbaquest/chime/internal/events"
	"github.com/verbaquest/chime/internal/manifest"
)

// PlayOpts tunes one playback request
type PlayOpts struct {
	// Volume overrides the clip's base volume for this playback; the
	// master volume and mute still apply on top
	Volume *float64

	// Loop repeats the clip until stopped
	Loop bool

	// Offset starts playback partway in
	Offset time.Duration
}

// Play starts a loaded clip from the beginning
func (e *Engine) Play(id string) error {
	return e.PlayWithOptions(id, PlayOpts{})
}

// PlayWithOptions starts a loaded clip. Playback fails fast on unknown,
// loading or errored clips, and on gesture-gated hosts before unlock.
func (e *Engine) PlayWithOptions(id string, opts PlayOpts) error {
	if e.isDestroyed() {
		return ErrEngineDestroyed
	}

	if e.gate.Required() && !e.gate.IsUnlocked() {
		slog.Debug("playback refused, audio locked", "id", id)
		return fmt.Errorf("%w: %s", ErrAudioLocked, id)
	}

	c := e.clips.Get(id)
	if c == nil {
		return &manifest.NotFoundError{ID: id}
	}

	switch c.State() {
	case clip.StateLoading:
		return fmt.Errorf("%w: %s", ErrClipLoading, id)
	case clip.StateError:
		return fmt.Errorf("cannot play errored clip %s: %w", id, c.LastError())
	case clip.StateIdle:
		return &manifest.NotFoundError{ID: id}
	}

	handle := c.Handle()
	if handle == nil {
		return fmt.Errorf("clip %s has no playable handle", id)
	}

	override := 1.0
	if opts.Volume != nil {
		override = clamp01(*opts.Volume)
	}

	handle.SetOnEnd(func() { e.handleClipEnd(id) })

	err := handle.Play(backend.PlayOptions{
		Volume: e.effectiveVolume(id, override),
		Loop:   opts.Loop,
		Offset: opts.Offset,
	})
	if err != nil {
		slog.Warn("playback failed to start", "id", id, "error", err)
		return e.failPlayback(c, id, fmt.Errorf("failed to play clip %s: %w", id, err))
	}

	if err := c.Transition(clip.StatePlaying); err != nil {
		return err
	}

	slog.Debug("playback started",
		"id", id,
		"loop", opts.Loop,
		"offset_ms", opts.Offset.Milliseconds())
	e.bus.Publish(events.Event{Type: events.TypePlay, ClipID: id})
	return nil
}

// failPlayback moves a clip into the error state after the backend
// refused to start it. The clip keeps the error until a fresh load.
func (e *Engine) failPlayback(c *clip.Clip, id string, playErr error) error {
	if err := c.Fail(playErr); err != nil {
		slog.Error("failed to record playback failure", "id", id, "error", err)
	}

	e.mu.Lock()
	delete(e.clipVolume, id)
	e.mu.Unlock()

	e.bus.Publish(events.Event{Type: events.TypeLoadError, ClipID: id, Err: playErr})
	return playErr
}

// handleClipEnd runs when a clip finishes naturally
func (e *Engine) handleClipEnd(id string) {
	c := e.clips.Get(id)
	if c == nil {
		return
	}

	if err := c.Transition(clip.StateLoaded); err != nil {
		slog.Debug("stale end notification", "id", id, "error", err)
		return
	}

	slog.Debug("playback ended", "id", id)
	e.bus.Publish(events.Event{Type: events.TypeEnd, ClipID: id})
}

// Pause suspends a playing clip, keeping its position. Unknown ids and
// clips that are not playing are no-ops.
func (e *Engine) Pause(id string) error {
	c := e.clips.Get(id)
	if c == nil || c.State() != clip.StatePlaying {
		return nil
	}

	handle := c.Handle()
	if handle == nil {
		return nil
	}

	if err := handle.Pause(); err != nil {
		return fmt.Errorf("failed to pause clip %s: %w", id, err)
	}
	if err := c.Transition(clip.StatePaused); err != nil {
		return err
	}

	e.bus.Publish(events.Event{Type: events.TypePause, ClipID: id})
	return nil
}

// Resume continues a paused clip
func (e *Engine) Resume(id string) error {
	if e.gate.Required() && !e.gate.IsUnlocked() {
		return fmt.Errorf("%w: %s", ErrAudioLocked, id)
	}

	c := e.clips.Get(id)
	if c == nil || c.State() != clip.StatePaused {
		return nil
	}

	handle := c.Handle()
	if handle == nil {
		return nil
	}

	if err := handle.Resume(); err != nil {
		return e.failPlayback(c, id, fmt.Errorf("failed to resume clip %s: %w", id, err))
	}
	if err := c.Transition(clip.StatePlaying); err != nil {
		return err
	}

	e.bus.Publish(events.Event{Type: events.TypePlay, ClipID: id})
	return nil
}

// Stop halts a clip and rewinds it. Unknown ids are no-ops.
func (e *Engine) Stop(id string) error {
	c := e.clips.Get(id)
	if c == nil {
		return nil
	}

	state := c.State()
	if state != clip.StatePlaying && state != clip.StatePaused {
		return nil
	}

	handle := c.Handle()
	if handle != nil {
		if err := handle.Stop(); err != nil {
			return fmt.Errorf("failed to stop clip %s: %w", id, err)
		}
	}
	if err := c.Transition(clip.StateLoaded); err != nil {
		return err
	}

	e.bus.Publish(events.Event{Type: events.TypeStop, ClipID: id})
	return nil
}

// Reset rewinds a clip to the start without changing its play/pause
// status. Unknown ids are no-ops.
func (e *Engine) Reset(id string) error {
	c := e.clips.Get(id)
	if c == nil {
		return nil
	}

	handle := c.Handle()
	if handle == nil {
		return nil
	}

	if err := handle.Seek(0); err != nil {
		return fmt.Errorf("failed to reset clip %s: %w", id, err)
	}
	return nil
}

// StopAll halts every playing or paused clip
func (e *Engine) StopAll() {
	for _, c := range e.clips.Loaded() {
		state := c.State()
		if state != clip.StatePlaying && state != clip.StatePaused {
			continue
		}
		if err := e.Stop(c.ID()); err != nil {
			slog.Warn("failed to stop clip", "id", c.ID(), "error", err)
		}
	}
}

// PauseAll suspends every playing clip
func (e *Engine) PauseAll() {
	for _, c := range e.clips.Loaded() {
		if c.State() != clip.StatePlaying {
			continue
		}
		if err := e.Pause(c.ID()); err != nil {
			slog.Warn("failed to pause clip", "id", c.ID(), "error", err)
		}
	}
}

// IsPlaying reports whether a clip is actively playing
func (e *Engine) IsPlaying(id string) bool {
	return e.GetState(id) == clip.StatePlaying
}

// IsPaused reports whether a clip is paused
func (e *Engine) IsPaused(id string) bool {
	return e.GetState(id) == clip.StatePaused
}

// GetDuration returns a clip's decoded duration, zero when not loaded
func (e *Engine) GetDuration(id string) time.Duration {
	c := e.clips.Get(id)
	if c == nil {
		return 0
	}
	return c.Duration()
}

// GetCurrentTime returns a clip's playback position, zero when not loaded
func (e *Engine) GetCurrentTime(id string) time.Duration {
	c := e.clips.Get(id)
	if c == nil {
		return 0
	}
	handle := c.Handle()
	if handle == nil {
		return 0
	}
	return handle.Position()
}
