package clip

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/verbaquest/chime/internal/backend"
	"github.com/verbaquest/chime/internal/codec"
)

func loadTestHandle(t *testing.T) backend.Handle {
	t.Helper()

	b := backend.NewNullBackend()
	t.Cleanup(func() { b.Close() })

	data := &codec.AudioData{
		Samples:    make([]byte, 1600),
		Channels:   1,
		SampleRate: 8000,
		Format:     codec.FormatS16,
	}
	handle, err := b.Load(context.Background(), "test", data)
	if err != nil {
		t.Fatalf("failed to load test handle: %v", err)
	}
	return handle
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateIdle, "idle"},
		{StateLoading, "loading"},
		{StateLoaded, "loaded"},
		{StatePlaying, "playing"},
		{StatePaused, "paused"},
		{StateError, "error"},
		{State(99), "unknown(99)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.expected)
		}
	}
}

func TestClipLifecycle(t *testing.T) {
	c := New("word-cat")

	if c.State() != StateIdle {
		t.Fatalf("new clip should be idle, got %s", c.State())
	}

	done, owner, err := c.BeginLoad("audio/words/cat.mp3")
	if err != nil {
		t.Fatalf("BeginLoad failed: %v", err)
	}
	if !owner {
		t.Fatal("first loader should own the load")
	}
	if c.State() != StateLoading {
		t.Errorf("expected loading state, got %s", c.State())
	}

	handle := loadTestHandle(t)
	if err := c.CompleteLoad(handle, 100*time.Millisecond); err != nil {
		t.Fatalf("CompleteLoad failed: %v", err)
	}

	select {
	case <-done:
	default:
		t.Error("done channel should close on load completion")
	}

	if !c.IsLoaded() {
		t.Error("clip should report loaded")
	}
	if c.Duration() != 100*time.Millisecond {
		t.Errorf("expected duration 100ms, got %v", c.Duration())
	}
	if c.SourceURL() != "audio/words/cat.mp3" {
		t.Errorf("unexpected source URL %q", c.SourceURL())
	}
}

func TestClipConcurrentLoadersShareFlight(t *testing.T) {
	c := New("word-dog")

	done1, owner1, err := c.BeginLoad("audio/words/dog.ogg")
	if err != nil {
		t.Fatalf("first BeginLoad failed: %v", err)
	}
	if !owner1 {
		t.Fatal("first loader should own the load")
	}

	done2, owner2, err := c.BeginLoad("audio/words/dog.ogg")
	if err != nil {
		t.Fatalf("second BeginLoad failed: %v", err)
	}
	if owner2 {
		t.Fatal("second loader must not own the load")
	}
	if done1 != done2 {
		t.Error("concurrent loaders should share one done channel")
	}
}

func TestClipBeginLoadWhenAlreadyLoaded(t *testing.T) {
	c := New("fx-correct")

	_, _, err := c.BeginLoad("audio/fx/correct.wav")
	if err != nil {
		t.Fatalf("BeginLoad failed: %v", err)
	}
	if err := c.CompleteLoad(loadTestHandle(t), 50*time.Millisecond); err != nil {
		t.Fatalf("CompleteLoad failed: %v", err)
	}

	done, owner, err := c.BeginLoad("audio/fx/correct.wav")
	if err != nil {
		t.Fatalf("BeginLoad on loaded clip failed: %v", err)
	}
	if owner {
		t.Error("loaded clip should not hand out ownership")
	}

	select {
	case <-done:
	default:
		t.Error("done channel for a loaded clip should already be closed")
	}
}

func TestClipFailLoad(t *testing.T) {
	c := New("word-missing")

	done, _, err := c.BeginLoad("audio/words/missing.mp3")
	if err != nil {
		t.Fatalf("BeginLoad failed: %v", err)
	}

	loadErr := errors.New("fetch failed: 404")
	if err := c.FailLoad(loadErr); err != nil {
		t.Fatalf("FailLoad failed: %v", err)
	}

	select {
	case <-done:
	default:
		t.Error("done channel should close on load failure")
	}

	if c.State() != StateError {
		t.Errorf("expected error state, got %s", c.State())
	}
	if !errors.Is(c.LastError(), loadErr) {
		t.Errorf("expected stored load error, got %v", c.LastError())
	}

	// Error clips can be retried
	_, owner, err := c.BeginLoad("audio/words/missing.mp3")
	if err != nil {
		t.Fatalf("retry BeginLoad failed: %v", err)
	}
	if !owner {
		t.Error("retry should own a fresh load")
	}
	if c.LastError() != nil {
		t.Error("retry should clear the stored error")
	}
}

func TestClipFailAfterPlaybackFailure(t *testing.T) {
	c := New("word-stuck")

	_, _, err := c.BeginLoad("audio/words/stuck.wav")
	if err != nil {
		t.Fatalf("BeginLoad failed: %v", err)
	}
	if err := c.CompleteLoad(loadTestHandle(t), 100*time.Millisecond); err != nil {
		t.Fatalf("CompleteLoad failed: %v", err)
	}
	if err := c.Transition(StatePlaying); err != nil {
		t.Fatalf("transition to playing failed: %v", err)
	}

	playErr := errors.New("device refused the stream")
	if err := c.Fail(playErr); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	if c.State() != StateError {
		t.Errorf("expected error state, got %s", c.State())
	}
	if !errors.Is(c.LastError(), playErr) {
		t.Errorf("expected stored playback error, got %v", c.LastError())
	}
	if c.Handle() != nil {
		t.Error("handle should be released on playback failure")
	}
	if c.IsLoaded() {
		t.Error("errored clip must not report loaded")
	}

	// Recovery needs a fresh load
	_, owner, err := c.BeginLoad("audio/words/stuck.wav")
	if err != nil {
		t.Fatalf("reload BeginLoad failed: %v", err)
	}
	if !owner {
		t.Error("reload should own a fresh load")
	}
}

func TestClipInvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
	}{
		{"idle to playing", StateIdle, StatePlaying},
		{"idle to paused", StateIdle, StatePaused},
		{"loading to playing", StateLoading, StatePlaying},
		{"error to playing", StateError, StatePlaying},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New("test-clip")
			c.state = tt.from

			err := c.Transition(tt.to)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition for %s -> %s, got %v", tt.from, tt.to, err)
			}
			if c.State() != tt.from {
				t.Errorf("state changed on rejected transition: %s", c.State())
			}
		})
	}
}

func TestClipPlaybackTransitions(t *testing.T) {
	c := New("word-sun")

	_, _, err := c.BeginLoad("audio/words/sun.mp3")
	if err != nil {
		t.Fatalf("BeginLoad failed: %v", err)
	}
	if err := c.CompleteLoad(loadTestHandle(t), 200*time.Millisecond); err != nil {
		t.Fatalf("CompleteLoad failed: %v", err)
	}

	for _, step := range []State{StatePlaying, StatePaused, StatePlaying, StateLoaded} {
		if err := c.Transition(step); err != nil {
			t.Fatalf("transition to %s failed: %v", step, err)
		}
	}
}

func TestClipUnload(t *testing.T) {
	c := New("word-moon")

	_, _, err := c.BeginLoad("audio/words/moon.mp3")
	if err != nil {
		t.Fatalf("BeginLoad failed: %v", err)
	}
	if err := c.CompleteLoad(loadTestHandle(t), 150*time.Millisecond); err != nil {
		t.Fatalf("CompleteLoad failed: %v", err)
	}

	if err := c.Unload(); err != nil {
		t.Fatalf("Unload failed: %v", err)
	}

	if c.State() != StateIdle {
		t.Errorf("expected idle after unload, got %s", c.State())
	}
	if c.Handle() != nil {
		t.Error("handle should be nil after unload")
	}
	if c.Duration() != 0 {
		t.Error("duration should reset after unload")
	}

	// Unloading twice is a no-op
	if err := c.Unload(); err != nil {
		t.Errorf("second Unload should be a no-op, got %v", err)
	}
}

func TestRegistryGetOrCreate(t *testing.T) {
	r := NewRegistry()

	c1 := r.GetOrCreate("word-cat")
	c2 := r.GetOrCreate("word-cat")
	if c1 != c2 {
		t.Error("GetOrCreate should return the same clip for one id")
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 clip, got %d", r.Len())
	}

	if r.Get("word-dog") != nil {
		t.Error("Get of unknown id should return nil")
	}
}

func TestRegistryLoadedSnapshot(t *testing.T) {
	r := NewRegistry()

	loaded := r.GetOrCreate("loaded-clip")
	if _, _, err := loaded.BeginLoad("a.mp3"); err != nil {
		t.Fatal(err)
	}
	if err := loaded.CompleteLoad(loadTestHandle(t), 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	r.GetOrCreate("idle-clip")

	if got := len(r.Loaded()); got != 1 {
		t.Errorf("expected 1 loaded clip, got %d", got)
	}
	if got := len(r.All()); got != 2 {
		t.Errorf("expected 2 total clips, got %d", got)
	}
}

func TestRegistryRemoveUnloads(t *testing.T) {
	r := NewRegistry()

	c := r.GetOrCreate("word-star")
	if _, _, err := c.BeginLoad("star.mp3"); err != nil {
		t.Fatal(err)
	}
	if err := c.CompleteLoad(loadTestHandle(t), 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	r.Remove("word-star")

	if r.Get("word-star") != nil {
		t.Error("clip should be forgotten after Remove")
	}
	if c.State() != StateIdle {
		t.Errorf("removed clip should be unloaded, got %s", c.State())
	}
}

func TestRegistryClear(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"a", "b", "c"} {
		r.GetOrCreate(id)
	}

	r.Clear()
	if r.Len() != 0 {
		t.Errorf("expected empty registry after Clear, got %d", r.Len())
	}
}
