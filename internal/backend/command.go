package backend

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	wav "github.com/youpy/go-wav"

	"github.com/verbaquest/chime/internal/codec"
)

// CommandBackend plays clips by spawning a system audio player. It is the
// fallback for hosts where direct device output misbehaves (WSL and
// similar); pause and seek are not supported by the underlying players.
type CommandBackend struct {
	command string

	mu     sync.Mutex
	closed bool
}

// NewCommandBackend creates a backend around a system audio command
func NewCommandBackend(command string) *CommandBackend {
	slog.Debug("creating command backend", "command", command)
	return &CommandBackend{command: command}
}

// Name identifies the backend type
func (b *CommandBackend) Name() string { return "command" }

// Load materializes decoded audio as a temporary WAV file the player can read
func (b *CommandBackend) Load(ctx context.Context, id string, data *codec.AudioData) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBackendClosed
	}
	b.mu.Unlock()

	file, err := os.CreateTemp("", "chime-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp audio file: %w", err)
	}

	writer := wav.NewWriter(file,
		uint32(data.Frames()),
		uint16(data.Channels),
		data.SampleRate,
		uint16(data.Format.BytesPerSample()*8))

	if _, err := writer.Write(data.Samples); err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, fmt.Errorf("failed to write temp audio file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return nil, fmt.Errorf("failed to close temp audio file: %w", err)
	}

	slog.Debug("command backend staged clip",
		"id", id,
		"command", b.command,
		"file", filepath.Base(file.Name()),
		"duration_ms", data.Duration().Milliseconds())

	return &commandHandle{
		backend:  b,
		path:     file.Name(),
		duration: data.Duration(),
	}, nil
}

// Suspended always reports false; system players need no activation
func (b *CommandBackend) Suspended() bool { return false }

// Resume is a no-op for system players
func (b *CommandBackend) Resume(ctx context.Context) error {
	return ctx.Err()
}

// Close shuts the backend down
func (b *CommandBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// commandHandle drives one staged clip through the system player
type commandHandle struct {
	backend  *CommandBackend
	path     string
	duration time.Duration

	mu        sync.Mutex
	released  bool
	cmd       *exec.Cmd
	playing   bool
	loop      bool
	stopping  bool
	startedAt time.Time
	onEnd     func()
}

func (h *commandHandle) Play(opts PlayOptions) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return ErrHandleReleased
	}

	if opts.Offset > 0 {
		slog.Warn("command backend ignores start offset", "offset_ms", opts.Offset.Milliseconds())
	}

	h.stopProcessLocked()

	h.loop = opts.Loop
	return h.startProcessLocked()
}

func (h *commandHandle) startProcessLocked() error {
	cmd := exec.Command(h.backend.command, h.path)
	if err := cmd.Start(); err != nil {
		slog.Error("failed to start system audio player",
			"command", h.backend.command,
			"error", err)
		return fmt.Errorf("failed to start system audio player: %w", err)
	}

	h.cmd = cmd
	h.playing = true
	h.stopping = false
	h.startedAt = time.Now()

	go h.waitForExit(cmd)
	return nil
}

// waitForExit observes process completion, restarting for looped playback
// and firing onEnd on a natural finish
func (h *commandHandle) waitForExit(cmd *exec.Cmd) {
	err := cmd.Wait()

	h.mu.Lock()
	if h.cmd != cmd || h.stopping || h.released {
		h.mu.Unlock()
		return
	}

	if h.loop && err == nil {
		if restartErr := h.startProcessLocked(); restartErr == nil {
			h.mu.Unlock()
			return
		}
	}

	h.playing = false
	h.cmd = nil
	onEnd := h.onEnd
	h.mu.Unlock()

	if err != nil {
		slog.Debug("system audio player exited with error", "error", err)
		return
	}
	if onEnd != nil {
		onEnd()
	}
}

func (h *commandHandle) Pause() error {
	return ErrPauseUnsupported
}

func (h *commandHandle) Resume() error {
	return ErrPauseUnsupported
}

func (h *commandHandle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return ErrHandleReleased
	}

	h.stopProcessLocked()
	return nil
}

func (h *commandHandle) stopProcessLocked() {
	if h.cmd != nil && h.cmd.Process != nil {
		h.stopping = true
		if err := h.cmd.Process.Kill(); err != nil {
			slog.Debug("failed to kill system audio player", "error", err)
		}
	}
	h.cmd = nil
	h.playing = false
}

func (h *commandHandle) Seek(pos time.Duration) error {
	if pos == 0 {
		return nil
	}
	return ErrSeekUnsupported
}

func (h *commandHandle) SetVolume(volume float64) error {
	// System players take no live volume control; the engine's effective
	// volume still applies at the next Play through PlayOptions
	slog.Debug("command backend ignores live volume change", "volume", volume)
	return nil
}

func (h *commandHandle) Position() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.playing {
		return 0
	}

	pos := time.Since(h.startedAt)
	if h.loop && h.duration > 0 {
		return pos % h.duration
	}
	if pos > h.duration {
		return h.duration
	}
	return pos
}

func (h *commandHandle) Duration() time.Duration {
	return h.duration
}

func (h *commandHandle) SetOnEnd(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEnd = fn
}

func (h *commandHandle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil
	}

	h.stopProcessLocked()
	h.released = true

	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		slog.Debug("failed to remove temp audio file", "path", h.path, "error", err)
	}
	return nil
}
