package events

import (
	"sync"
)

// Subscriber receives events from the bus.
type Subscriber interface {
	Receive(ev Event)
	Closed() bool
}

// Bus is a per-object pub/sub event bus with support for global
// subscribers. Game code emits structured events; each subscriber (a
// session descriptor, the audit logger, etc.) encodes them per-transport.
// Subscriptions are keyed by the object ID the subscriber embodies.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Subscriber
	global      []Subscriber
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string][]Subscriber),
	}
}

// Subscribe registers a subscriber for one object's events.
func (b *Bus) Subscribe(objectID string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[objectID] = append(b.subscribers[objectID], sub)
}

// Unsubscribe removes a subscriber for one object.
func (b *Bus) Unsubscribe(objectID string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[objectID]
	for i, s := range subs {
		if s == sub {
			b.subscribers[objectID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscribers[objectID]) == 0 {
		delete(b.subscribers, objectID)
	}
}

// SubscribeGlobal registers a subscriber that receives all events.
func (b *Bus) SubscribeGlobal(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.global = append(b.global, sub)
}

// Emit sends an event to the subscribers of ev.Target and to all global
// subscribers.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	subs := b.subscribers[ev.Target]
	globals := b.global
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.Closed() {
			s.Receive(ev)
		}
	}
	for _, s := range globals {
		if !s.Closed() {
			s.Receive(ev)
		}
	}
}

// EmitTo sends an event to a specific object (overriding ev.Target).
func (b *Bus) EmitTo(objectID string, ev Event) {
	ev.Target = objectID
	b.Emit(ev)
}

// EmitToAll sends an event to every subscribed object and all global
// subscribers. Used for shutdown notices.
func (b *Bus) EmitToAll(ev Event) {
	b.mu.RLock()
	ids := make([]string, 0, len(b.subscribers))
	for id := range b.subscribers {
		ids = append(ids, id)
	}
	b.mu.RUnlock()
	for _, id := range ids {
		b.EmitTo(id, ev)
	}
}

// EmitToMany sends an event to each listed object, skipping except. Used
// for room-wide messages driven by a content list.
func (b *Bus) EmitToMany(objectIDs []string, except string, ev Event) {
	for _, id := range objectIDs {
		if id == except {
			continue
		}
		b.EmitTo(id, ev)
	}
}

// Cleanup removes closed subscribers from all lists and reports how many
// were dropped. The tick loop runs it periodically.
func (b *Bus) Cleanup() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for id, subs := range b.subscribers {
		var active []Subscriber
		for _, s := range subs {
			if !s.Closed() {
				active = append(active, s)
			}
		}
		removed += len(subs) - len(active)
		if len(active) == 0 {
			delete(b.subscribers, id)
		} else {
			b.subscribers[id] = active
		}
	}

	var activeGlobal []Subscriber
	for _, s := range b.global {
		if !s.Closed() {
			activeGlobal = append(activeGlobal, s)
		}
	}
	removed += len(b.global) - len(activeGlobal)
	b.global = activeGlobal
	return removed
}
