package server

import (
	"log"
	"sync"
	"time"

	"github.com/gaia-mud/gaia/pkg/events"
	"github.com/gaia-mud/gaia/pkg/glang"
	"github.com/gaia-mud/gaia/pkg/world"
)

// TransportType identifies the kind of transport a Descriptor uses.
type TransportType int

const (
	TransportTelnet    TransportType = iota // telnet/TCP
	TransportWebSocket                      // WebSocket (JSON events)
)

func (t TransportType) String() string {
	if t == TransportWebSocket {
		return "websocket"
	}
	return "telnet"
}

// ConnState tracks where a connection is in the login state machine.
type ConnState int

const (
	ConnLogin         ConnState = iota // awaiting connect <user> <password>
	ConnAuthenticated                  // account bound, no character yet
	ConnEmbodied                       // playing a character
)

// Descriptor represents a single client connection. Output is serialized
// through a bounded outbound channel drained by one writer goroutine, so
// concurrent emitters never interleave mid-message; a full channel blocks
// the emitter.
//
// It implements events.Subscriber so it can receive events from the bus.
type Descriptor struct {
	ID        int
	Transport TransportType
	Addr      string
	ConnTime  time.Time

	// write encodes one event for this transport. Set by the transport
	// adapter before the writer starts.
	write func(ev events.Event) error

	out  chan events.Event
	done chan struct{}

	mu        sync.Mutex
	state     ConnState
	account   *world.Account
	accRev    string
	character string // embodied character object ID
	userObj   string // transient user object ID (session-scoped)
	retries   int
	lastCmd   time.Time
	inflight  *glang.Context // invocation to cancel on disconnect
	closed    bool
	closeOnce sync.Once
	onClose   func()
}

// NewDescriptor builds a descriptor with the given outbound queue bound.
func NewDescriptor(id int, transport TransportType, addr string, queue int, write func(events.Event) error) *Descriptor {
	if queue <= 0 {
		queue = 64
	}
	now := time.Now()
	return &Descriptor{
		ID:        id,
		Transport: transport,
		Addr:      addr,
		ConnTime:  now,
		write:     write,
		out:       make(chan events.Event, queue),
		done:      make(chan struct{}),
		lastCmd:   now,
	}
}

// Run drains the outbound channel until Close. Call in its own goroutine.
func (d *Descriptor) Run() {
	for {
		select {
		case ev := <-d.out:
			if err := d.write(ev); err != nil {
				log.Printf("server: [%d] write: %v", d.ID, err)
				d.Close()
				return
			}
		case <-d.done:
			// Drain what is already queued, then stop.
			for {
				select {
				case ev := <-d.out:
					if d.write(ev) != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// Receive implements events.Subscriber: events are queued for the writer.
// Blocks when the client cannot keep up, which is the backpressure the
// send primitive observes.
func (d *Descriptor) Receive(ev events.Event) {
	select {
	case d.out <- ev:
	case <-d.done:
	}
}

// OnClose registers a cleanup to run exactly once when the descriptor
// closes (the transport closes its socket here).
func (d *Descriptor) OnClose(fn func()) {
	d.mu.Lock()
	d.onClose = fn
	d.mu.Unlock()
}

// Closed implements events.Subscriber.
func (d *Descriptor) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Send queues plain text for the client.
func (d *Descriptor) Send(text string) {
	d.Receive(events.Event{Type: events.EvText, Text: text})
}

// Close tears the descriptor down: cancels in-flight softcode, stops the
// writer, and runs the registered cleanup exactly once.
func (d *Descriptor) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		ctx := d.inflight
		cleanup := d.onClose
		d.mu.Unlock()

		if ctx != nil {
			ctx.Cancel()
		}
		close(d.done)
		if cleanup != nil {
			cleanup()
		}
	})
}

// State returns the connection state.
func (d *Descriptor) State() ConnState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Account returns the bound account, or nil.
func (d *Descriptor) Account() *world.Account {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.account
}

// Character returns the embodied character's object ID, or "".
func (d *Descriptor) Character() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.character
}

// UserObj returns the transient user object ID, or "".
func (d *Descriptor) UserObj() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.userObj
}

// ActorID is the object acting for this session: the character when
// embodied, else the transient user object.
func (d *Descriptor) ActorID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.character != "" {
		return d.character
	}
	return d.userObj
}

// IsAdmin reports whether the bound account has the admin role.
func (d *Descriptor) IsAdmin() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.account != nil && d.account.HasRole(world.RoleAdmin)
}

// Roles returns the account's roles (nil when unauthenticated).
func (d *Descriptor) Roles() []world.Role {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.account == nil {
		return nil
	}
	return d.account.Roles
}

func (d *Descriptor) setInflight(ctx *glang.Context) {
	d.mu.Lock()
	d.inflight = ctx
	d.mu.Unlock()
}

// ConnManager tracks all active connections and enforces the one
// session per character rule.
type ConnManager struct {
	bus *events.Bus

	mu          sync.RWMutex
	descriptors map[int]*Descriptor
	byCharacter map[string]*Descriptor
	nextID      int
}

// NewConnManager creates a connection manager over the event bus.
func NewConnManager(bus *events.Bus) *ConnManager {
	return &ConnManager{
		bus:         bus,
		descriptors: make(map[int]*Descriptor),
		byCharacter: make(map[string]*Descriptor),
		nextID:      1,
	}
}

// NextID returns the next descriptor ID.
func (cm *ConnManager) NextID() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	id := cm.nextID
	cm.nextID++
	return id
}

// Add registers a new descriptor.
func (cm *ConnManager) Add(d *Descriptor) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.descriptors[d.ID] = d
}

// Remove unregisters a descriptor and drops its bus subscriptions.
func (cm *ConnManager) Remove(d *Descriptor) {
	d.mu.Lock()
	char, user := d.character, d.userObj
	d.mu.Unlock()

	if char != "" {
		cm.bus.Unsubscribe(char, d)
	}
	if user != "" {
		cm.bus.Unsubscribe(user, d)
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.descriptors, d.ID)
	if char != "" && cm.byCharacter[char] == d {
		delete(cm.byCharacter, char)
	}
}

// BindUser subscribes the descriptor to its transient user object.
func (cm *ConnManager) BindUser(d *Descriptor, userID string) {
	d.mu.Lock()
	d.userObj = userID
	d.state = ConnAuthenticated
	d.mu.Unlock()
	cm.bus.Subscribe(userID, d)
}

// Embody binds the descriptor to a character, displacing any session that
// already embodies it. The displaced descriptor is returned so the caller
// can notify and close it.
func (cm *ConnManager) Embody(d *Descriptor, characterID string) (displaced *Descriptor) {
	cm.mu.Lock()
	displaced = cm.byCharacter[characterID]
	cm.byCharacter[characterID] = d
	cm.mu.Unlock()

	if displaced != nil {
		displaced.mu.Lock()
		displaced.character = ""
		displaced.state = ConnAuthenticated
		displaced.mu.Unlock()
		cm.bus.Unsubscribe(characterID, displaced)
	}

	d.mu.Lock()
	d.character = characterID
	d.state = ConnEmbodied
	d.mu.Unlock()
	cm.bus.Subscribe(characterID, d)
	return displaced
}

// ByCharacter returns the descriptor embodying the character, or nil.
func (cm *ConnManager) ByCharacter(characterID string) *Descriptor {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.byCharacter[characterID]
}

// Each calls fn for every registered descriptor.
func (cm *ConnManager) Each(fn func(*Descriptor)) {
	cm.mu.RLock()
	ds := make([]*Descriptor, 0, len(cm.descriptors))
	for _, d := range cm.descriptors {
		ds = append(ds, d)
	}
	cm.mu.RUnlock()
	for _, d := range ds {
		fn(d)
	}
}

// Count returns the number of live connections.
func (cm *ConnManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.descriptors)
}
