package clip

import (
	"log/slog"
	"sync"
)

// Registry tracks all clips the engine knows about by id
type Registry struct {
	mu    sync.RWMutex
	clips map[string]*Clip
}

// NewRegistry creates an empty clip registry
func NewRegistry() *Registry {
	return &Registry{clips: make(map[string]*Clip)}
}

// Get returns the clip for an id, or nil when unknown
func (r *Registry) Get(id string) *Clip {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clips[id]
}

// GetOrCreate returns the clip for an id, creating an idle one if needed
func (r *Registry) GetOrCreate(id string) *Clip {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clips[id]; ok {
		return c
	}

	c := New(id)
	r.clips[id] = c
	slog.Debug("clip registered", "id", id, "total", len(r.clips))
	return c
}

// Remove unloads and forgets a clip
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	c, ok := r.clips[id]
	if ok {
		delete(r.clips, id)
	}
	r.mu.Unlock()

	if ok {
		if err := c.Unload(); err != nil {
			slog.Warn("failed to unload removed clip", "id", id, "error", err)
		}
	}
}

// All returns a snapshot of every registered clip
func (r *Registry) All() []*Clip {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Clip, 0, len(r.clips))
	for _, c := range r.clips {
		out = append(out, c)
	}
	return out
}

// Loaded returns a snapshot of every resident clip
func (r *Registry) Loaded() []*Clip {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Clip, 0, len(r.clips))
	for _, c := range r.clips {
		if c.IsLoaded() {
			out = append(out, c)
		}
	}
	return out
}

// Len reports how many clips are registered
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clips)
}

// Clear unloads and forgets every clip
func (r *Registry) Clear() {
	r.mu.Lock()
	clips := make([]*Clip, 0, len(r.clips))
	for _, c := range r.clips {
		clips = append(clips, c)
	}
	r.clips = make(map[string]*Clip)
	r.mu.Unlock()

	for _, c := range clips {
		if err := c.Unload(); err != nil {
			slog.Warn("failed to unload clip during clear", "id", c.ID(), "error", err)
		}
	}
}
