package engine

import (
	"log/slog"

	"github.com/verbaquest/chime/internal/events"
	"github.com/verbaquest/chime/internal/settings"
)

// SetMasterVolume sets the global volume, clamped to [0, 1]. The change
// applies immediately to every loaded clip and persists across sessions.
func (e *Engine) SetMasterVolume(volume float64) {
	clamped := clamp01(volume)
	if clamped != volume {
		slog.Debug("master volume clamped", "requested", volume, "applied", clamped)
	}

	e.mu.Lock()
	e.masterVolume = clamped
	e.mu.Unlock()

	e.store.SetFloat(settings.KeyMasterVolume, clamped)
	e.applyVolumes()

	slog.Info("master volume changed", "volume", clamped)
	e.bus.Publish(events.Event{Type: events.TypeVolume, Volume: clamped})
}

// GetMasterVolume returns the stored master volume, independent of mute
func (e *Engine) GetMasterVolume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.masterVolume
}

// Mute silences all output while preserving the stored master volume
func (e *Engine) Mute() {
	e.setMuted(true)
}

// Unmute restores output at the preserved master volume
func (e *Engine) Unmute() {
	e.setMuted(false)
}

// IsMuted reports the mute state
func (e *Engine) IsMuted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

func (e *Engine) setMuted(muted bool) {
	e.mu.Lock()
	if e.muted == muted {
		e.mu.Unlock()
		return
	}
	e.muted = muted
	e.mu.Unlock()

	e.store.SetBool(settings.KeyMuted, muted)
	e.applyVolumes()

	slog.Info("mute state changed", "muted", muted)
	e.bus.Publish(events.Event{Type: events.TypeMute, Muted: muted})
}

// effectiveVolume computes the volume a clip actually plays at:
// master x clip base x per-call override, zeroed while muted
func (e *Engine) effectiveVolume(id string, override float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.muted {
		return 0
	}

	base, ok := e.clipVolume[id]
	if !ok {
		base = 1.0
	}
	return clamp01(e.masterVolume * base * override)
}

// applyVolumes pushes the current effective volume to every loaded clip
func (e *Engine) applyVolumes() {
	for _, c := range e.clips.Loaded() {
		handle := c.Handle()
		if handle == nil {
			continue
		}
		if err := handle.SetVolume(e.effectiveVolume(c.ID(), 1.0)); err != nil {
			slog.Warn("failed to apply volume", "id", c.ID(), "error", err)
		}
	}
}
