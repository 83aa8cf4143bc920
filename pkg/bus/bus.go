// Package bus provides the synchronous publish/subscribe event bus that ties
// the orchestrator, pipeline, and external observers together.
package bus

import (
	"sync"
	"time"

	"mergepilot/pkg/logx"
)

// Event names emitted by the orchestration core.
const (
	EventMergeEvaluated      = "merge:evaluated"
	EventMergeBlocked        = "merge:blocked"
	EventMergeCompleted      = "merge:completed"
	EventDeploymentTriggered = "deployment:triggered"
	EventDeploymentStatus    = "deployment:status"
	EventError               = "error"
)

// AllEvents returns every event name the core emits, for observers that
// want the full stream.
func AllEvents() []string {
	return []string{
		EventMergeEvaluated,
		EventMergeBlocked,
		EventMergeCompleted,
		EventDeploymentTriggered,
		EventDeploymentStatus,
		EventError,
	}
}

// Event is a single emission: a name plus an arbitrary payload.
//
//nolint:govet // Logical grouping preferred over memory optimization
type Event struct {
	Name      string    `json:"name"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler receives events. Handlers run synchronously inside Emit, in
// registration order; keep them non-blocking or hand off to your own queue.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a registry of event name -> ordered handler list. The zero value is
// not usable; call New.
type Bus struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[string][]subscription
	logger   *logx.Logger
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		handlers: make(map[string][]subscription),
		logger:   logx.NewLogger("bus"),
	}
}

// On registers a handler for the named event and returns an unsubscribe
// closure. Unsubscribing twice is a no-op.
func (b *Bus) On(event string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[event] = append(b.handlers[event], subscription{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.off(event, id)
		})
	}
}

func (b *Bus) off(event string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[event]
	for i := range subs {
		if subs[i].id == id {
			b.handlers[event] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Emit invokes every handler registered for the named event, synchronously
// and in registration order. A slow handler delays the emitting caller.
func (b *Bus) Emit(event string, payload any) {
	b.mu.Lock()
	subs := make([]subscription, len(b.handlers[event]))
	copy(subs, b.handlers[event])
	b.mu.Unlock()

	if len(subs) == 0 {
		b.logger.Debug("No listeners for event %s", event)
	}

	evt := Event{Name: event, Payload: payload, Timestamp: time.Now().UTC()}
	for i := range subs {
		subs[i].handler(evt)
	}
}

// ListenerCount returns the number of handlers registered for an event.
func (b *Bus) ListenerCount(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[event])
}

// Clear removes every registered handler. Used during orchestrator teardown.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[string][]subscription)
}
