//go:build !cgo

package backend

import (
	"context"
	"errors"

	"github.com/verbaquest/chime/internal/codec"
)

var errCGORequired = errors.New(`the speaker backend requires a cgo-enabled build.

This binary was built with CGO_ENABLED=0, so the audio output device
cannot be opened.

To fix this:
1. Rebuild with CGO_ENABLED=1 and a C compiler installed:
   - Linux: sudo apt-get install build-essential (needs ALSA headers)
   - macOS: xcode-select --install
2. Or select a backend that needs no device access:
   chime --silent, CHIME_AUDIO_BACKEND=command, or CHIME_AUDIO_BACKEND=null`)

// DefaultSpeakerSampleRate is the output device rate clips are resampled to
const DefaultSpeakerSampleRate = 48000

// SpeakerOptions configures the speaker backend
type SpeakerOptions struct {
	// SampleRate of the output device; DefaultSpeakerSampleRate when zero
	SampleRate int

	// StartSuspended defers device initialization until Resume, modeling
	// hosts that gate audio output behind a user gesture
	StartSuspended bool
}

// SpeakerBackend is unavailable without cgo; the constructor and every
// method fail with an explanation.
type SpeakerBackend struct{}

var _ Backend = (*SpeakerBackend)(nil)

// NewSpeakerBackend always fails in cgo-free builds
func NewSpeakerBackend(opts SpeakerOptions) (*SpeakerBackend, error) {
	return nil, errCGORequired
}

func (b *SpeakerBackend) Name() string { return "speaker" }

func (b *SpeakerBackend) Load(ctx context.Context, id string, data *codec.AudioData) (Handle, error) {
	return nil, errCGORequired
}

func (b *SpeakerBackend) Suspended() bool { return false }

func (b *SpeakerBackend) Resume(ctx context.Context) error { return errCGORequired }

func (b *SpeakerBackend) Close() error { return nil }
