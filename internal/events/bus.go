// Package events provides the in-process event system.
//
// Generation engines and jobs publish typed events through a Manager; the
// HTTP server subscribes and forwards them to SSE and websocket clients.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventType identifies a category of event.
type EventType string

const (
	FactorFileGenerated EventType = "factor_file_generated"
	MapFileGenerated    EventType = "map_file_generated"
	CoarseGenerated     EventType = "coarse_generated"
	FilingsRefreshed    EventType = "filings_refreshed"
	BackupCompleted     EventType = "backup_completed"
	JobProgress         EventType = "job_progress"
	SystemStatusChanged EventType = "system_status_changed"
)

// AllEventTypes lists every known event type, used by stream handlers that
// subscribe to everything.
var AllEventTypes = []EventType{
	FactorFileGenerated,
	MapFileGenerated,
	CoarseGenerated,
	FilingsRefreshed,
	BackupCompleted,
	JobProgress,
	SystemStatusChanged,
}

// Event is one published occurrence.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Module    string                 `json:"module"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Handler func(*Event)

// Bus dispatches events to subscribed handlers by type.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	log      zerolog.Logger
}

// NewBus creates a new event bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		log:      log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a handler for an event type. Returns the subscription
// index within that type (handlers cannot currently be removed; stream
// handlers live for the process lifetime).
func (b *Bus) Subscribe(eventType EventType, handler Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	return len(b.handlers[eventType]) - 1
}

// Publish delivers an event to all handlers subscribed to its type.
func (b *Bus) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := b.handlers[event.Type]
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}

	b.log.Debug().
		Str("type", string(event.Type)).
		Str("module", event.Module).
		Int("handlers", len(handlers)).
		Msg("Event published")
}
