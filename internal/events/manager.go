package events

import (
	"time"

	"github.com/rs/zerolog"
)

// EventData is implemented by typed event payloads.
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// Manager is the publishing facade handed to engines and jobs.
// A nil *Manager is safe to call; emissions become no-ops, which keeps
// engine constructors usable in tests without event plumbing.
type Manager struct {
	bus *Bus
	log zerolog.Logger
}

// NewManager creates a new event manager.
func NewManager(bus *Bus, log zerolog.Logger) *Manager {
	return &Manager{
		bus: bus,
		log: log.With().Str("component", "event_manager").Logger(),
	}
}

// Emit publishes an event with a loose data map.
func (m *Manager) Emit(eventType EventType, module string, data map[string]interface{}) {
	if m == nil || m.bus == nil {
		return
	}
	m.bus.Publish(&Event{
		Type:      eventType,
		Module:    module,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}

// EmitTyped publishes an event from a typed payload. The payload is
// flattened into the event data map via its JSON representation by the
// subscriber side; here it is stored under "payload".
func (m *Manager) EmitTyped(module string, data EventData) {
	if m == nil || m.bus == nil {
		return
	}
	m.bus.Publish(&Event{
		Type:      data.EventType(),
		Module:    module,
		Timestamp: time.Now().UTC(),
		Data:      map[string]interface{}{"payload": data},
	})
}
