package backend

import (
	"context"
	"errors"
	"time"

	"github.com/verbaquest/chime/internal/codec"
)

// Common errors for Backend implementations
var (
	ErrBackendClosed    = errors.New("audio backend is closed")
	ErrBackendSuspended = errors.New("audio backend is suspended pending activation")
	ErrPauseUnsupported = errors.New("pause not supported by this backend")
	ErrSeekUnsupported  = errors.New("seek not supported by this backend")
	ErrHandleReleased   = errors.New("audio handle has been released")
)

// PlayOptions configures a single playback start
type PlayOptions struct {
	Volume float64       // effective volume, 0.0 to 1.0
	Loop   bool          // restart from the beginning on natural end
	Offset time.Duration // start position
}

// Handle is one playable media resource owned by a clip. Handles are not
// safe for concurrent use; the clip registry serializes access.
type Handle interface {
	// Play starts playback from opts.Offset, replacing any playback in
	// progress on this handle
	Play(opts PlayOptions) error

	// Pause suspends playback keeping the current position
	Pause() error

	// Resume continues paused playback
	Resume() error

	// Stop halts playback and rewinds to position zero
	Stop() error

	// Seek moves the playback position without changing play/pause state
	Seek(pos time.Duration) error

	// SetVolume adjusts the effective volume of this handle
	SetVolume(volume float64) error

	// Position reports the current playback position
	Position() time.Duration

	// Duration reports the total length of the loaded audio
	Duration() time.Duration

	// SetOnEnd registers a callback fired when non-looping playback
	// reaches its natural end
	SetOnEnd(fn func())

	// Release frees the underlying resource; the handle is unusable after
	Release() error
}

// Backend turns decoded audio into playable handles. Implementations cover
// the actual output mechanism (speaker device, system command, null).
type Backend interface {
	// Name identifies the backend type
	Name() string

	// Load prepares decoded audio for playback and returns its handle
	Load(ctx context.Context, id string, data *codec.AudioData) (Handle, error)

	// Suspended reports whether the backend is still waiting for an
	// activation maneuver (the autoplay-policy state on gesture-gated hosts)
	Suspended() bool

	// Resume performs the activation maneuver
	Resume(ctx context.Context) error

	// Close releases all backend resources
	Close() error
}
