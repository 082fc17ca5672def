package unlock

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/verbaquest/chime/internal/backend"
	"github.com/verbaquest/chime/internal/caps"
	"github.com/verbaquest/chime/internal/events"
)

// failingBackend refuses to resume a configurable number of times
type failingBackend struct {
	backend.Backend

	mu       sync.Mutex
	failures int
	resumes  int
}

func newFailingBackend(failures int) *failingBackend {
	return &failingBackend{
		Backend:  backend.NewSuspendedNullBackend(),
		failures: failures,
	}
}

func (b *failingBackend) Resume(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resumes++
	if b.resumes <= b.failures {
		return errors.New("device busy")
	}
	return b.Backend.Resume(ctx)
}

func (b *failingBackend) resumeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resumes
}

func gestureCaps() caps.Capabilities {
	return caps.Capabilities{IsMobile: true, IsIOS: true, RequiresGesture: true}
}

func TestGateStartsUnlockedWithoutGestureRequirement(t *testing.T) {
	b := backend.NewNullBackend()
	defer b.Close()

	gate := NewGate(b, events.NewBus(), caps.Capabilities{RequiresGesture: false})
	if !gate.IsUnlocked() {
		t.Error("gate should start unlocked when no gesture is required")
	}
	if gate.Required() {
		t.Error("gate should not report a gesture requirement")
	}
}

func TestGateUnlocksOnFirstGesture(t *testing.T) {
	b := backend.NewSuspendedNullBackend()
	defer b.Close()

	bus := events.NewBus()
	var unlockEvents int
	bus.Subscribe(events.TypeUnlock, func(events.Event) { unlockEvents++ })

	gate := NewGate(b, bus, gestureCaps())
	if gate.IsUnlocked() {
		t.Fatal("gate should start locked on gesture-gated hosts")
	}

	if err := gate.NotifyGesture(context.Background()); err != nil {
		t.Fatalf("NotifyGesture failed: %v", err)
	}

	if !gate.IsUnlocked() {
		t.Error("gate should be unlocked after gesture")
	}
	if b.Suspended() {
		t.Error("backend should be resumed after unlock")
	}
	if unlockEvents != 1 {
		t.Errorf("expected 1 unlock event, got %d", unlockEvents)
	}

	state := gate.Snapshot()
	if !state.HasReceivedFirstTouch {
		t.Error("snapshot should record the first touch")
	}
	if state.AttemptCount != 1 {
		t.Errorf("expected 1 attempt, got %d", state.AttemptCount)
	}
	if state.LastAttemptAt.IsZero() {
		t.Error("snapshot should record the attempt time")
	}
}

func TestGateUnlockIsOneWay(t *testing.T) {
	b := backend.NewSuspendedNullBackend()
	defer b.Close()

	gate := NewGate(b, events.NewBus(), gestureCaps())
	if err := gate.Unlock(context.Background()); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}

	// Later gestures and unlocks are no-ops; the attempt count stays put
	for i := 0; i < 3; i++ {
		if err := gate.NotifyGesture(context.Background()); err != nil {
			t.Fatalf("gesture %d failed: %v", i, err)
		}
	}

	if got := gate.Snapshot().AttemptCount; got != 1 {
		t.Errorf("expected attempt count to stay at 1, got %d", got)
	}
}

func TestGateRetriesAfterFailedAttempt(t *testing.T) {
	b := newFailingBackend(1)
	gate := NewGate(b, events.NewBus(), gestureCaps())

	if err := gate.Unlock(context.Background()); err == nil {
		t.Fatal("expected first unlock attempt to fail")
	}
	if gate.IsUnlocked() {
		t.Fatal("gate must stay locked after a failed attempt")
	}

	if err := gate.Unlock(context.Background()); err != nil {
		t.Fatalf("second unlock attempt failed: %v", err)
	}
	if !gate.IsUnlocked() {
		t.Error("gate should unlock on retry")
	}
	if got := gate.Snapshot().AttemptCount; got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestGateConcurrentUnlocksShareOneAttempt(t *testing.T) {
	b := newFailingBackend(0)
	gate := NewGate(b, events.NewBus(), gestureCaps())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gate.Unlock(context.Background())
		}()
	}
	wg.Wait()

	if !gate.IsUnlocked() {
		t.Fatal("gate should be unlocked")
	}
	if got := b.resumeCount(); got != 1 {
		t.Errorf("expected a single shared resume, got %d", got)
	}
}

func TestGateUnlockHonorsContext(t *testing.T) {
	b := backend.NewSuspendedNullBackend()
	defer b.Close()

	gate := NewGate(b, events.NewBus(), gestureCaps())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := gate.Unlock(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if gate.IsUnlocked() {
		t.Error("cancelled unlock must not unlock the gate")
	}

	if err := gate.Unlock(context.Background()); err != nil {
		t.Fatalf("unlock after cancellation failed: %v", err)
	}
	if !gate.IsUnlocked() {
		t.Error("gate should unlock with a live context")
	}
}
