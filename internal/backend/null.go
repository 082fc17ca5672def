package backend

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/verbaquest/chime/internal/codec"
)

// NullBackend is a silent backend that models playback timing without
// producing sound. It serves silent mode and test environments, and can
// start suspended to model gesture-gated autoplay policies.
type NullBackend struct {
	mu        sync.Mutex
	suspended bool
	closed    bool
	loads     int
}

// NewNullBackend creates an active silent backend
func NewNullBackend() *NullBackend {
	slog.Debug("creating null backend")
	return &NullBackend{}
}

// NewSuspendedNullBackend creates a silent backend that refuses playback
// until Resume is called, mirroring a locked mobile audio context
func NewSuspendedNullBackend() *NullBackend {
	slog.Debug("creating suspended null backend")
	return &NullBackend{suspended: true}
}

// Name identifies the backend type
func (b *NullBackend) Name() string { return "null" }

// Load wraps decoded audio in a clock-simulated handle
func (b *NullBackend) Load(ctx context.Context, id string, data *codec.AudioData) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBackendClosed
	}
	b.loads++

	slog.Debug("null backend loaded clip",
		"id", id,
		"duration_ms", data.Duration().Milliseconds(),
		"total_loads", b.loads)

	return &nullHandle{backend: b, duration: data.Duration()}, nil
}

// Suspended reports whether the backend still awaits activation
func (b *NullBackend) Suspended() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.suspended
}

// Resume activates a suspended backend
func (b *NullBackend) Resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBackendClosed
	}
	if b.suspended {
		b.suspended = false
		slog.Debug("null backend resumed")
	}
	return nil
}

// Close shuts the backend down
func (b *NullBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// LoadCount reports how many loads the backend has served
func (b *NullBackend) LoadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loads
}

// nullHandle simulates playback against the wall clock
type nullHandle struct {
	backend  *NullBackend
	duration time.Duration

	mu        sync.Mutex
	released  bool
	playing   bool
	loop      bool
	offset    time.Duration // position at last state change
	startedAt time.Time
	endTimer  *time.Timer
	onEnd     func()
}

func (h *nullHandle) Play(opts PlayOptions) error {
	if h.backend.Suspended() {
		return ErrBackendSuspended
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return ErrHandleReleased
	}

	h.cancelEndTimerLocked()

	h.offset = opts.Offset
	if h.offset > h.duration {
		h.offset = h.duration
	}
	h.loop = opts.Loop
	h.playing = true
	h.startedAt = time.Now()
	h.armEndTimerLocked()

	return nil
}

func (h *nullHandle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return ErrHandleReleased
	}
	if !h.playing {
		return nil
	}

	h.offset = h.positionLocked()
	h.playing = false
	h.cancelEndTimerLocked()
	return nil
}

func (h *nullHandle) Resume() error {
	if h.backend.Suspended() {
		return ErrBackendSuspended
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return ErrHandleReleased
	}
	if h.playing {
		return nil
	}

	h.playing = true
	h.startedAt = time.Now()
	h.armEndTimerLocked()
	return nil
}

func (h *nullHandle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return ErrHandleReleased
	}

	h.playing = false
	h.offset = 0
	h.cancelEndTimerLocked()
	return nil
}

func (h *nullHandle) Seek(pos time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return ErrHandleReleased
	}

	if pos < 0 {
		pos = 0
	}
	if pos > h.duration {
		pos = h.duration
	}

	h.offset = pos
	if h.playing {
		h.startedAt = time.Now()
		h.cancelEndTimerLocked()
		h.armEndTimerLocked()
	}
	return nil
}

func (h *nullHandle) SetVolume(volume float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return ErrHandleReleased
	}
	return nil
}

func (h *nullHandle) Position() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.positionLocked()
}

func (h *nullHandle) Duration() time.Duration {
	return h.duration
}

func (h *nullHandle) SetOnEnd(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEnd = fn
}

func (h *nullHandle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.released = true
	h.playing = false
	h.cancelEndTimerLocked()
	return nil
}

// positionLocked computes the simulated playback position
func (h *nullHandle) positionLocked() time.Duration {
	if !h.playing {
		return h.offset
	}

	pos := h.offset + time.Since(h.startedAt)
	if h.loop && h.duration > 0 {
		return pos % h.duration
	}
	if pos > h.duration {
		return h.duration
	}
	return pos
}

// armEndTimerLocked schedules the natural-end callback for non-looping playback
func (h *nullHandle) armEndTimerLocked() {
	if h.loop || h.duration <= 0 {
		return
	}

	remaining := h.duration - h.offset
	if remaining < 0 {
		remaining = 0
	}

	h.endTimer = time.AfterFunc(remaining, func() {
		h.mu.Lock()
		if h.released || !h.playing {
			h.mu.Unlock()
			return
		}
		h.playing = false
		h.offset = 0
		onEnd := h.onEnd
		h.mu.Unlock()

		if onEnd != nil {
			onEnd()
		}
	})
}

func (h *nullHandle) cancelEndTimerLocked() {
	if h.endTimer != nil {
		h.endTimer.Stop()
		h.endTimer = nil
	}
}
