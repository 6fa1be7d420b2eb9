package events

import (
	"sync"
	"testing"
)

// mockSubscriber implements Subscriber for testing.
type mockSubscriber struct {
	mu       sync.Mutex
	events   []Event
	isClosed bool
}

func (m *mockSubscriber) Receive(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *mockSubscriber) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isClosed
}

func (m *mockSubscriber) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]Event, len(m.events))
	copy(cp, m.events)
	return cp
}

func TestBusEmit(t *testing.T) {
	bus := NewBus()
	sub := &mockSubscriber{}
	bus.Subscribe("#alice", sub)

	bus.Emit(Event{Type: EvMessage, Target: "#alice", Source: "#room", Text: "Hello world"})

	got := sub.Events()
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].Text != "Hello world" || got[0].Type != EvMessage {
		t.Errorf("got %+v", got[0])
	}
}

func TestBusEmitSkipsOtherTargets(t *testing.T) {
	bus := NewBus()
	alice, bob := &mockSubscriber{}, &mockSubscriber{}
	bus.Subscribe("#alice", alice)
	bus.Subscribe("#bob", bob)

	bus.EmitTo("#alice", Event{Type: EvText, Text: "private"})

	if len(alice.Events()) != 1 {
		t.Error("alice should receive the event")
	}
	if len(bob.Events()) != 0 {
		t.Error("bob should not receive the event")
	}
}

func TestBusGlobalSubscriber(t *testing.T) {
	bus := NewBus()
	audit := &mockSubscriber{}
	bus.SubscribeGlobal(audit)
	bus.Subscribe("#alice", &mockSubscriber{})

	bus.EmitTo("#alice", Event{Type: EvText, Text: "x"})
	bus.EmitTo("#nobody", Event{Type: EvText, Text: "y"})

	if len(audit.Events()) != 2 {
		t.Errorf("global subscriber got %d events, want 2", len(audit.Events()))
	}
}

func TestBusEmitToMany(t *testing.T) {
	bus := NewBus()
	alice, bob := &mockSubscriber{}, &mockSubscriber{}
	bus.Subscribe("#alice", alice)
	bus.Subscribe("#bob", bob)

	bus.EmitToMany([]string{"#alice", "#bob"}, "#bob", Event{Type: EvText, Text: "room"})

	if len(alice.Events()) != 1 || len(bob.Events()) != 0 {
		t.Errorf("alice=%d bob=%d, want 1/0", len(alice.Events()), len(bob.Events()))
	}
}

func TestBusClosedSubscribersSkippedAndCleaned(t *testing.T) {
	bus := NewBus()
	sub := &mockSubscriber{isClosed: true}
	bus.Subscribe("#alice", sub)

	bus.EmitTo("#alice", Event{Type: EvText, Text: "x"})
	if len(sub.events) != 0 {
		t.Error("closed subscriber received an event")
	}

	if n := bus.Cleanup(); n != 1 {
		t.Errorf("Cleanup removed %d subscribers, want 1", n)
	}
	if n := bus.Cleanup(); n != 0 {
		t.Errorf("second Cleanup removed %d, want 0", n)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	sub := &mockSubscriber{}
	bus.Subscribe("#alice", sub)
	bus.Unsubscribe("#alice", sub)

	bus.EmitTo("#alice", Event{Type: EvText, Text: "x"})
	if len(sub.Events()) != 0 {
		t.Error("unsubscribed subscriber received an event")
	}
}
