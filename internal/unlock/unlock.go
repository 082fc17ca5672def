package unlock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/verbaquest/chime/internal/backend"
	"github.com/verbaquest/chime/internal/caps"
	"github.com/verbaquest/chime/internal/events"
)

// State is a snapshot of the unlock gate
type State struct {
	IsUnlocked            bool
	HasReceivedFirstTouch bool
	AttemptCount          int
	LastAttemptAt         time.Time
}

// Gate manages the one-way transition from gesture-locked to unlocked
// audio. Hosts that require a gesture stay locked until NotifyGesture or
// an explicit Unlock succeeds; once unlocked the gate never re-locks.
type Gate struct {
	backend backend.Backend
	bus     *events.Bus
	caps    caps.Capabilities

	group singleflight.Group

	// primer optionally confirms activation after Resume, typically by
	// playing and immediately pausing a generated silent clip
	primer func(ctx context.Context) error

	mu          sync.Mutex
	unlocked    bool
	firstTouch  bool
	attempts    int
	lastAttempt time.Time
}

// NewGate creates an unlock gate. Hosts whose capabilities do not require
// a gesture start unlocked.
func NewGate(b backend.Backend, bus *events.Bus, c caps.Capabilities) *Gate {
	g := &Gate{
		backend:  b,
		bus:      bus,
		caps:     c,
		unlocked: !c.RequiresGesture,
	}

	slog.Debug("unlock gate created",
		"requires_gesture", c.RequiresGesture,
		"starts_unlocked", g.unlocked)
	return g
}

// SetPrimer installs the post-resume activation check. Call before the
// first unlock attempt.
func (g *Gate) SetPrimer(primer func(ctx context.Context) error) {
	g.primer = primer
}

// Required reports whether this host needs a gesture before audio plays
func (g *Gate) Required() bool {
	return g.caps.RequiresGesture
}

// IsUnlocked reports whether audio playback is permitted
func (g *Gate) IsUnlocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.unlocked
}

// Snapshot returns the current gate state
func (g *Gate) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return State{
		IsUnlocked:            g.unlocked,
		HasReceivedFirstTouch: g.firstTouch,
		AttemptCount:          g.attempts,
		LastAttemptAt:         g.lastAttempt,
	}
}

// NotifyGesture records a user gesture. The first gesture triggers one
// automatic unlock attempt; later gestures are no-ops once unlocked.
func (g *Gate) NotifyGesture(ctx context.Context) error {
	g.mu.Lock()
	first := !g.firstTouch
	g.firstTouch = true
	alreadyUnlocked := g.unlocked
	g.mu.Unlock()

	if alreadyUnlocked {
		return nil
	}

	slog.Debug("user gesture received", "first", first)
	return g.Unlock(ctx)
}

// Unlock attempts to activate the audio backend. Concurrent callers share
// one attempt; success is permanent.
func (g *Gate) Unlock(ctx context.Context) error {
	g.mu.Lock()
	if g.unlocked {
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	_, err, shared := g.group.Do("unlock", func() (any, error) {
		return nil, g.attempt(ctx)
	})

	if shared {
		slog.Debug("unlock attempt shared with concurrent caller")
	}
	return err
}

func (g *Gate) attempt(ctx context.Context) error {
	g.mu.Lock()
	g.attempts++
	g.lastAttempt = time.Now()
	attempt := g.attempts
	g.mu.Unlock()

	slog.Debug("attempting audio unlock", "attempt", attempt)

	if err := g.backend.Resume(ctx); err != nil {
		slog.Warn("audio unlock attempt failed", "attempt", attempt, "error", err)
		return fmt.Errorf("failed to resume audio backend: %w", err)
	}

	if g.primer != nil {
		if err := g.primer(ctx); err != nil {
			slog.Warn("audio unlock primer failed", "attempt", attempt, "error", err)
			return fmt.Errorf("unlock activation check failed: %w", err)
		}
	}

	g.mu.Lock()
	g.unlocked = true
	g.mu.Unlock()

	slog.Info("audio unlocked", "attempts", attempt)
	if g.bus != nil {
		g.bus.Publish(events.Event{Type: events.TypeUnlock, Unlocked: true})
	}
	return nil
}
