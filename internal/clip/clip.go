package clip

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/verbaquest/chime/internal/backend"
)

// State tracks where a clip sits in its lifecycle
type State int

const (
	StateIdle State = iota
	StateLoading
	StateLoaded
	StatePlaying
	StatePaused
	StateError
)

// String returns the lifecycle state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Clip errors
var (
	ErrInvalidTransition = errors.New("invalid clip state transition")
	ErrClipNotLoaded     = errors.New("clip is not loaded")
)

// validTransitions enumerates the legal lifecycle moves. Loading and
// playback can fail into error, loaded clips cycle between playback
// states, and error clips may be retried from scratch.
var validTransitions = map[State][]State{
	StateIdle:    {StateLoading},
	StateLoading: {StateLoaded, StateError, StateIdle},
	StateLoaded:  {StatePlaying, StateLoading, StateError, StateIdle},
	StatePlaying: {StatePaused, StateLoaded, StateError, StateIdle},
	StatePaused:  {StatePlaying, StateLoaded, StateError, StateIdle},
	StateError:   {StateLoading, StateIdle},
}

// Clip is one audio resource moving through its lifecycle. All state
// changes go through Transition so illegal moves surface immediately.
type Clip struct {
	mu sync.Mutex

	id        string
	sourceURL string
	state     State
	handle    backend.Handle
	duration  time.Duration
	lastError error

	// done is closed when an in-flight load settles; concurrent loaders
	// wait on it instead of fetching again
	done chan struct{}
}

// New creates a clip in the idle state
func New(id string) *Clip {
	return &Clip{id: id, state: StateIdle}
}

// ID returns the clip identifier
func (c *Clip) ID() string { return c.id }

// State returns the current lifecycle state
func (c *Clip) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SourceURL returns the URL the clip was loaded from
func (c *Clip) SourceURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sourceURL
}

// Handle returns the backend handle, or nil before loading completes
func (c *Clip) Handle() backend.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// Duration returns the decoded duration, zero before loading completes
func (c *Clip) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}

// LastError returns the error that put the clip into the error state
func (c *Clip) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// Transition moves the clip to a new state, rejecting illegal moves
func (c *Clip) Transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionLocked(to)
}

func (c *Clip) transitionLocked(to State) error {
	if c.state == to {
		return nil
	}

	for _, allowed := range validTransitions[c.state] {
		if allowed == to {
			slog.Debug("clip state transition",
				"id", c.id,
				"from", c.state.String(),
				"to", to.String())
			c.state = to
			return nil
		}
	}

	slog.Warn("rejected clip state transition",
		"id", c.id,
		"from", c.state.String(),
		"to", to.String())
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.state, to)
}

// BeginLoad moves the clip into loading and returns a channel that closes
// when the load settles. The second return reports whether this caller
// owns the load; non-owners wait on the channel.
func (c *Clip) BeginLoad(sourceURL string) (<-chan struct{}, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateLoading:
		return c.done, false, nil
	case StateLoaded, StatePlaying, StatePaused:
		// Already resident; nothing to wait for
		return closedChan, false, nil
	}

	if err := c.transitionLocked(StateLoading); err != nil {
		return nil, false, err
	}

	c.sourceURL = sourceURL
	c.lastError = nil
	c.done = make(chan struct{})
	return c.done, true, nil
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// CompleteLoad settles an owned load with a backend handle
func (c *Clip) CompleteLoad(handle backend.Handle, duration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.transitionLocked(StateLoaded); err != nil {
		return err
	}

	c.handle = handle
	c.duration = duration
	if c.done != nil {
		close(c.done)
		c.done = nil
	}

	slog.Debug("clip load complete",
		"id", c.id,
		"duration_ms", duration.Milliseconds())
	return nil
}

// FailLoad settles an owned load with an error
func (c *Clip) FailLoad(loadErr error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.transitionLocked(StateError); err != nil {
		return err
	}

	c.lastError = loadErr
	if c.done != nil {
		close(c.done)
		c.done = nil
	}

	slog.Debug("clip load failed", "id", c.id, "error", loadErr)
	return nil
}

// Fail marks a resident clip errored after a playback failure. The
// backend handle is released; recovery requires a fresh load.
func (c *Clip) Fail(playErr error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.transitionLocked(StateError); err != nil {
		return err
	}

	c.lastError = playErr
	if c.handle != nil {
		if err := c.handle.Release(); err != nil {
			slog.Warn("failed to release clip handle", "id", c.id, "error", err)
		}
		c.handle = nil
	}
	c.duration = 0

	slog.Debug("clip marked errored", "id", c.id, "error", playErr)
	return nil
}

// Unload releases the backend handle and returns the clip to idle.
// Unloading an idle clip is a no-op.
func (c *Clip) Unload() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateIdle {
		return nil
	}

	if err := c.transitionLocked(StateIdle); err != nil {
		return err
	}

	if c.handle != nil {
		if err := c.handle.Release(); err != nil {
			slog.Warn("failed to release clip handle", "id", c.id, "error", err)
		}
		c.handle = nil
	}
	c.duration = 0
	c.sourceURL = ""
	c.lastError = nil
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	return nil
}

// IsLoaded reports whether the clip is resident (loaded or in playback)
func (c *Clip) IsLoaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateLoaded, StatePlaying, StatePaused:
		return true
	default:
		return false
	}
}
