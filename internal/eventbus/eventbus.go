// Package eventbus implements the internal pub-sub Event Bus (spec §2, §6)
// consumed by external UI/chat/Slack gateways. Grounded on the teacher's
// internal/ws client, which is the pack's closest precedent for a
// session-event transport to an external consumer.
package eventbus

import "sync"

// EventKind enumerates the session events defined in spec §6.
type EventKind string

const (
	SessionCreated EventKind = "session.created"
	SessionReady   EventKind = "session.ready"
	SessionStatus  EventKind = "session.status"
	SessionOutput  EventKind = "session.output"
)

// StatusReason enumerates session.status reasons per spec §6.
type StatusReason string

const (
	ReasonRuntimeExited     StatusReason = "runtime_exited"
	ReasonKilled            StatusReason = "killed"
	ReasonReadinessTimeout  StatusReason = "readiness_timeout"
	ReasonRestarted         StatusReason = "restarted"
)

// Event is the payload published on the bus. Fields not relevant to Kind are
// left zero.
type Event struct {
	Kind     EventKind
	Name     string
	Role     string
	TeamID   string
	Status   string
	Reason   StatusReason
	Error    string
	Bytes    []byte
}

// Subscriber receives published events. Must not block (spec §5
// back-pressure) — implementations should enqueue and return. The bus is
// deliberately payload-agnostic: it carries eventbus.Event for session
// lifecycle notifications, but also watchdog.Alert without that package
// depending on eventbus — subscribers type-switch on what they care about.
type Subscriber func(any)

// Unsubscribe removes a previously registered subscriber.
type Unsubscribe func()

// Bus is a simple fan-out publisher. No cross-session lock is held while
// invoking subscriber callbacks (spec §5).
type Bus struct {
	mu          sync.Mutex
	subscribers map[int]Subscriber
	nextID      int

	// external is a single late-bound setter/getter, not a singleton
	// registry, breaking the cyclic module graph between the core and an
	// external gateway that itself depends on session services (spec §9
	// "Cyclic module graph -> lazy resolver"). Accessed only after full
	// system initialization.
	externalMu sync.RWMutex
	external   Subscriber
}

func New() *Bus {
	return &Bus{subscribers: make(map[int]Subscriber)}
}

// Subscribe registers fn and returns a handle to unsubscribe it. No listener
// is leaked past the lifetime of the entity that registered it.
func (b *Bus) Subscribe(fn Subscriber) Unsubscribe {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
}

// Publish fans event out to every subscriber and the external sink, if set.
func (b *Bus) Publish(event any) {
	b.mu.Lock()
	subs := make([]Subscriber, 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		subs = append(subs, fn)
	}
	b.mu.Unlock()
	for _, fn := range subs {
		fn(event)
	}

	b.externalMu.RLock()
	ext := b.external
	b.externalMu.RUnlock()
	if ext != nil {
		ext(event)
	}
}

// SetExternalSink installs the late-bound external gateway sink. Call once,
// after the external gateway has finished its own initialization.
func (b *Bus) SetExternalSink(fn Subscriber) {
	b.externalMu.Lock()
	b.external = fn
	b.externalMu.Unlock()
}

// ExternalSink returns the currently installed external sink, if any.
func (b *Bus) ExternalSink() (Subscriber, bool) {
	b.externalMu.RLock()
	defer b.externalMu.RUnlock()
	return b.external, b.external != nil
}
