package events

// EventType classifies events for transport-specific encoding.
type EventType int

const (
	EvText       EventType = iota // Raw text (universal fallback)
	EvMessage                     // Payload delivered via send
	EvDiagnostic                  // Softcode failure reported to the actor
	EvConnect                     // Character embodied
	EvDisconnect                  // Session gone or character displaced
	EvWho                         // WHO data
	EvShutdown                    // Server is stopping
)

// String returns a human-readable name for the event type.
func (t EventType) String() string {
	switch t {
	case EvText:
		return "text"
	case EvMessage:
		return "message"
	case EvDiagnostic:
		return "diagnostic"
	case EvConnect:
		return "connect"
	case EvDisconnect:
		return "disconnect"
	case EvWho:
		return "who"
	case EvShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Event is a structured game event that flows through the event bus.
// Transports decide how to encode each event: telnet writes Text,
// WebSocket clients get the structured form.
type Event struct {
	Type   EventType
	Target string         // Recipient object ID ("" for broadcast)
	Source string         // Object that generated the event
	Text   string         // Pre-formatted text (telnet uses this)
	Data   map[string]any // Structured data for JSON clients
}
