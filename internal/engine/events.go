package engine

import (
	"sync"
	"time"

	"github.com/mindcraft/mindcraft-backend/internal/model"
)

// EventKind names a raw browser event forwarded by the client shim.
type EventKind string

const (
	EventVisibilityHidden  EventKind = "visibility_hidden"
	EventVisibilityVisible EventKind = "visibility_visible"
	EventCopy              EventKind = "copy"
	EventCut               EventKind = "cut"
	EventPaste             EventKind = "paste"
	EventKeyDown           EventKind = "keydown"
	EventFullscreenChange  EventKind = "fullscreen_change"
	EventContextMenu       EventKind = "context_menu"
)

// EventKinds lists every kind the proctoring monitor listens to.
var EventKinds = []EventKind{
	EventVisibilityHidden,
	EventVisibilityVisible,
	EventCopy,
	EventCut,
	EventPaste,
	EventKeyDown,
	EventFullscreenChange,
	EventContextMenu,
}

// Event is one raw browser event.
type Event struct {
	Kind         EventKind `json:"kind"`
	Key          string    `json:"key,omitempty"`
	Ctrl         bool      `json:"ctrl,omitempty"`
	Meta         bool      `json:"meta,omitempty"`
	InCodeEditor bool      `json:"in_code_editor,omitempty"`
	Fullscreen   bool      `json:"fullscreen,omitempty"`
	At           time.Time `json:"at,omitempty"`
}

// Verdict tells the client shim what to do with an event.
type Verdict struct {
	// Suppress asks the client to preventDefault the browser action.
	Suppress    bool             `json:"suppress"`
	Violation   *model.Violation `json:"violation,omitempty"`
	Warning     string           `json:"warning,omitempty"`
	ForceSubmit bool             `json:"force_submit,omitempty"`
	Fullscreen  *bool            `json:"fullscreen,omitempty"`
}

// Handler reacts to one event kind.
type Handler func(Event) Verdict

// Bus routes events to at most one handler per kind.
// Events with no subscribed handler are dropped with an empty verdict.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventKind]Handler
	seq      uint64
	ids      map[EventKind]uint64
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventKind]Handler),
		ids:      make(map[EventKind]uint64),
	}
}

// Subscribe registers h for kind, replacing any previous handler.
// The returned func removes it, and is a no-op if h was since replaced.
func (b *Bus) Subscribe(kind EventKind, h Handler) func() {
	b.mu.Lock()
	b.seq++
	id := b.seq
	b.handlers[kind] = h
	b.ids[kind] = id
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.ids[kind] == id {
			delete(b.handlers, kind)
			delete(b.ids, kind)
		}
	}
}

// Dispatch delivers ev to its handler.
func (b *Bus) Dispatch(ev Event) Verdict {
	b.mu.RLock()
	h, ok := b.handlers[ev.Kind]
	b.mu.RUnlock()
	if !ok {
		return Verdict{}
	}
	return h(ev)
}

// Len returns the number of registered handlers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

// Subscriptions collects release funcs and runs them once, in reverse order.
type Subscriptions struct {
	mu      sync.Mutex
	cancels []func()
	closed  bool
}

// Add registers a release func. If the set is already closed, cancel runs immediately.
func (s *Subscriptions) Add(cancel func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return
	}
	s.cancels = append(s.cancels, cancel)
	s.mu.Unlock()
}

// Close releases everything. Later calls do nothing.
func (s *Subscriptions) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()

	for i := len(cancels) - 1; i >= 0; i-- {
		cancels[i]()
	}
}
