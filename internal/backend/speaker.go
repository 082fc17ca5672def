//go:build cgo

package backend

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/speaker"

	"github.com/verbaquest/chime/internal/codec"
)

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

// SpeakerBackend plays decoded audio through the system speaker via beep
type SpeakerBackend struct {
	mu          sync.Mutex
	sampleRate  beep.SampleRate
	initialized bool
	suspended   bool
	closed      bool
}

var _ Backend = (*SpeakerBackend)(nil)

// NewSpeakerBackend creates a speaker backend. Unless StartSuspended is
// set, the output device is initialized immediately.
func NewSpeakerBackend(opts SpeakerOptions) (*SpeakerBackend, error) {
	rate := opts.SampleRate
	if rate <= 0 {
		rate = DefaultSpeakerSampleRate
	}

	b := &SpeakerBackend{
		sampleRate: beep.SampleRate(rate),
		suspended:  opts.StartSuspended,
	}

	if !opts.StartSuspended {
		if err := b.initDevice(); err != nil {
			return nil, err
		}
	}

	slog.Debug("speaker backend created",
		"sample_rate", rate,
		"start_suspended", opts.StartSuspended)

	return b, nil
}

func (b *SpeakerBackend) initDevice() error {
	if b.initialized {
		return nil
	}

	// Buffer roughly 1/10th of a second of audio
	if err := speaker.Init(b.sampleRate, b.sampleRate.N(time.Second/10)); err != nil {
		slog.Error("failed to initialize speaker device", "error", err)
		return fmt.Errorf("failed to initialize speaker device: %w", err)
	}

	b.initialized = true
	slog.Info("speaker device initialized", "sample_rate", int(b.sampleRate))
	return nil
}

// Name identifies the backend type
func (b *SpeakerBackend) Name() string { return "speaker" }

// Load wraps decoded audio in a speaker-playable handle
func (b *SpeakerBackend) Load(ctx context.Context, id string, data *codec.AudioData) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBackendClosed
	}

	slog.Debug("speaker backend loaded clip",
		"id", id,
		"channels", data.Channels,
		"sample_rate", data.SampleRate,
		"duration_ms", data.Duration().Milliseconds())

	return &speakerHandle{
		backend: b,
		data:    data,
		stream:  newPCMStreamer(data),
		volume:  1.0,
	}, nil
}

// Suspended reports whether the output device still awaits activation
func (b *SpeakerBackend) Suspended() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.suspended
}

// Resume initializes the output device if needed and lifts the suspension
func (b *SpeakerBackend) Resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBackendClosed
	}

	if err := b.initDevice(); err != nil {
		return err
	}

	if b.suspended {
		b.suspended = false
		slog.Info("speaker backend resumed")
	}
	return nil
}

// Close shuts the backend down and silences the device
func (b *SpeakerBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	if b.initialized {
		speaker.Clear()
	}
	return nil
}

// speakerHandle is one clip queued on the speaker mixer
type speakerHandle struct {
	backend *SpeakerBackend
	data    *codec.AudioData
	stream  *pcmStreamer

	mu       sync.Mutex
	released bool
	volume   float64
	ctrl     *beep.Ctrl
	vol      *effects.Volume

	// suppressEnd masks the drain callback on manual stop/release so
	// only natural ends reach onEnd
	suppressEnd atomic.Bool
	onEnd       func()
}

func (h *speakerHandle) Play(opts PlayOptions) error {
	if h.backend.Suspended() {
		return ErrBackendSuspended
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return ErrHandleReleased
	}

	// Detach any chain already queued on the mixer
	h.detachLocked()

	h.volume = opts.Volume

	speaker.Lock()
	h.stream.seekFrame(h.frameAt(opts.Offset))
	speaker.Unlock()

	var src beep.Streamer = h.stream
	if opts.Loop {
		src = beep.Loop(-1, h.stream)
	}
	if h.data.SampleRate != uint32(h.backend.sampleRate) {
		src = beep.Resample(4, beep.SampleRate(h.data.SampleRate), h.backend.sampleRate, src)
	}

	h.vol = &effects.Volume{
		Streamer: src,
		Base:     2,
		Volume:   volumeToGain(opts.Volume),
		Silent:   opts.Volume <= 0,
	}
	h.ctrl = &beep.Ctrl{Streamer: h.vol}

	h.suppressEnd.Store(false)
	speaker.Play(beep.Seq(h.ctrl, beep.Callback(h.handleDrained)))

	return nil
}

func (h *speakerHandle) handleDrained() {
	if h.suppressEnd.Load() {
		return
	}
	if h.onEnd != nil {
		// The callback runs on the mixer goroutine with the speaker
		// locked; hand off so listeners may touch the speaker again
		go h.onEnd()
	}
}

func (h *speakerHandle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return ErrHandleReleased
	}
	if h.ctrl == nil {
		return nil
	}

	speaker.Lock()
	h.ctrl.Paused = true
	speaker.Unlock()
	return nil
}

func (h *speakerHandle) Resume() error {
	if h.backend.Suspended() {
		return ErrBackendSuspended
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return ErrHandleReleased
	}
	if h.ctrl == nil {
		return nil
	}

	speaker.Lock()
	h.ctrl.Paused = false
	speaker.Unlock()
	return nil
}

func (h *speakerHandle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return ErrHandleReleased
	}

	h.detachLocked()

	speaker.Lock()
	h.stream.seekFrame(0)
	speaker.Unlock()
	return nil
}

func (h *speakerHandle) Seek(pos time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return ErrHandleReleased
	}

	speaker.Lock()
	h.stream.seekFrame(h.frameAt(pos))
	speaker.Unlock()
	return nil
}

func (h *speakerHandle) SetVolume(volume float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return ErrHandleReleased
	}

	h.volume = volume
	if h.vol != nil {
		speaker.Lock()
		h.vol.Volume = volumeToGain(volume)
		h.vol.Silent = volume <= 0
		speaker.Unlock()
	}
	return nil
}

func (h *speakerHandle) Position() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()

	speaker.Lock()
	frame := h.stream.Position()
	speaker.Unlock()

	if h.data.SampleRate == 0 {
		return 0
	}
	return time.Duration(frame) * time.Second / time.Duration(h.data.SampleRate)
}

func (h *speakerHandle) Duration() time.Duration {
	return h.data.Duration()
}

func (h *speakerHandle) SetOnEnd(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEnd = fn
}

func (h *speakerHandle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil
	}

	h.detachLocked()
	h.released = true
	return nil
}

// detachLocked removes the current chain from the mixer without firing onEnd
func (h *speakerHandle) detachLocked() {
	if h.ctrl == nil {
		return
	}

	h.suppressEnd.Store(true)
	speaker.Lock()
	h.ctrl.Streamer = nil
	speaker.Unlock()
	h.ctrl = nil
	h.vol = nil
}

// frameAt converts a position into a source frame index
func (h *speakerHandle) frameAt(pos time.Duration) int {
	if pos <= 0 {
		return 0
	}
	frame := int(pos * time.Duration(h.data.SampleRate) / time.Second)
	if total := h.data.Frames(); frame > total {
		frame = total
	}
	return frame
}

// volumeToGain converts a linear 0..1 volume into a base-2 gain exponent
func volumeToGain(volume float64) float64 {
	if volume <= 0 {
		return 0
	}
	return math.Log2(volume)
}

// pcmStreamer streams decoded PCM frames as stereo float64 samples.
// It implements beep.StreamSeeker over the clip's native sample rate.
type pcmStreamer struct {
	data          *codec.AudioData
	pos           int
	bytesPerFrame int
}

func newPCMStreamer(data *codec.AudioData) *pcmStreamer {
	return &pcmStreamer{
		data:          data,
		bytesPerFrame: int(data.Channels) * data.Format.BytesPerSample(),
	}
}

func (s *pcmStreamer) Stream(samples [][2]float64) (int, bool) {
	total := s.data.Frames()
	if s.pos >= total {
		return 0, false
	}

	n := 0
	for i := range samples {
		if s.pos >= total {
			break
		}
		left, right := s.frameAt(s.pos)
		samples[i][0] = left
		samples[i][1] = right
		s.pos++
		n++
	}
	return n, n > 0
}

func (s *pcmStreamer) Err() error { return nil }

func (s *pcmStreamer) Len() int { return s.data.Frames() }

func (s *pcmStreamer) Position() int { return s.pos }

func (s *pcmStreamer) Seek(p int) error {
	if p < 0 || p > s.data.Frames() {
		return fmt.Errorf("seek position %d out of range [0, %d]", p, s.data.Frames())
	}
	s.pos = p
	return nil
}

// seekFrame clamps instead of failing; used internally by the handle
func (s *pcmStreamer) seekFrame(p int) {
	if p < 0 {
		p = 0
	}
	if total := s.data.Frames(); p > total {
		p = total
	}
	s.pos = p
}

// frameAt decodes one frame into normalized stereo samples. Mono frames
// are duplicated to both channels; extra channels beyond two are dropped.
func (s *pcmStreamer) frameAt(frame int) (float64, float64) {
	base := frame * s.bytesPerFrame

	left := s.sampleAt(base)
	if s.data.Channels < 2 {
		return left, left
	}
	right := s.sampleAt(base + s.data.Format.BytesPerSample())
	return left, right
}

// sampleAt decodes one little-endian sample starting at a byte offset
func (s *pcmStreamer) sampleAt(offset int) float64 {
	raw := s.data.Samples

	switch s.data.Format {
	case codec.FormatS16:
		if offset+1 >= len(raw) {
			return 0
		}
		v := int16(raw[offset]) | int16(raw[offset+1])<<8
		return float64(v) / (1 << 15)

	case codec.FormatS24:
		if offset+2 >= len(raw) {
			return 0
		}
		v := int32(raw[offset]) | int32(raw[offset+1])<<8 | int32(raw[offset+2])<<16
		if v&0x800000 != 0 {
			v |= ^int32(0xFFFFFF)
		}
		return float64(v) / (1 << 23)

	case codec.FormatS32:
		if offset+3 >= len(raw) {
			return 0
		}
		v := int32(raw[offset]) | int32(raw[offset+1])<<8 |
			int32(raw[offset+2])<<16 | int32(raw[offset+3])<<24
		return float64(v) / (1 << 31)

	default:
		return 0
	}
}
