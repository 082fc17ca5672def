package events

import (
	"log/slog"
	"sync"
)

// Type enumerates every lifecycle event the engine can publish.
// The set is closed so consumers can switch exhaustively.
type Type int

const (
	TypeLoad Type = iota
	TypeLoadError
	TypePlay
	TypePause
	TypeStop
	TypeEnd
	TypeVolume
	TypeMute
	TypePreloadStart
	TypePreloadProgress
	TypePreloadComplete
	TypePreloadCancel
	TypeUnlock
)

func (t Type) String() string {
	switch t {
	case TypeLoad:
		return "load"
	case TypeLoadError:
		return "load_error"
	case TypePlay:
		return "play"
	case TypePause:
		return "pause"
	case TypeStop:
		return "stop"
	case TypeEnd:
		return "end"
	case TypeVolume:
		return "volume"
	case TypeMute:
		return "mute"
	case TypePreloadStart:
		return "preload_start"
	case TypePreloadProgress:
		return "preload_progress"
	case TypePreloadComplete:
		return "preload_complete"
	case TypePreloadCancel:
		return "preload_cancel"
	case TypeUnlock:
		return "unlock"
	default:
		return "unknown"
	}
}

// Event carries the payload of one published lifecycle notification.
// Fields beyond Type are populated only where they apply.
type Event struct {
	Type   Type
	ClipID string
	Err    error

	// Volume/mute payload
	Volume float64
	Muted  bool

	// Preload payload
	BatchID    int64
	Loaded     int
	Failed     int
	Total      int
	Successful []string
	FailedIDs  []string

	// Unlock payload
	Unlocked bool
}

// Handler consumes published events
type Handler func(Event)

type subscription struct {
	typ     Type
	all     bool
	handler Handler
}

// Bus fans events out to registered listeners. Dispatch is synchronous
// against a snapshot of the listener table, so handlers may unsubscribe
// themselves while an event is being delivered.
type Bus struct {
	mu        sync.RWMutex
	nextToken int
	listeners map[int]subscription
}

// NewBus creates an empty event bus
func NewBus() *Bus {
	return &Bus{
		listeners: make(map[int]subscription),
	}
}

// Subscribe registers a handler for one event type and returns its token
func (b *Bus) Subscribe(t Type, handler Handler) int {
	return b.add(subscription{typ: t, handler: handler})
}

// SubscribeAll registers a handler for every event type
func (b *Bus) SubscribeAll(handler Handler) int {
	return b.add(subscription{all: true, handler: handler})
}

func (b *Bus) add(sub subscription) int {
	if sub.handler == nil {
		slog.Warn("attempted to subscribe nil handler")
		return -1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextToken++
	token := b.nextToken
	b.listeners[token] = sub

	slog.Debug("event listener registered",
		"token", token,
		"all_events", sub.all,
		"event_type", sub.typ.String(),
		"total_listeners", len(b.listeners))

	return token
}

// Unsubscribe removes a listener by token. Unknown tokens are no-ops.
func (b *Bus) Unsubscribe(token int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.listeners[token]; !exists {
		slog.Debug("attempted to unsubscribe unknown token", "token", token)
		return
	}

	delete(b.listeners, token)
	slog.Debug("event listener removed", "token", token, "remaining", len(b.listeners))
}

// Publish delivers an event to every matching listener
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	matching := make([]Handler, 0, len(b.listeners))
	for _, sub := range b.listeners {
		if sub.all || sub.typ == event.Type {
			matching = append(matching, sub.handler)
		}
	}
	b.mu.RUnlock()

	slog.Debug("publishing event",
		"event_type", event.Type.String(),
		"clip_id", event.ClipID,
		"listeners", len(matching))

	for _, handler := range matching {
		handler(event)
	}
}

// ListenerCount returns the number of registered listeners
func (b *Bus) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
