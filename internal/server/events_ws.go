package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/refdata/internal/events"
)

// EventsWebsocketHandler forwards the event stream over a websocket, for
// consumers that cannot hold an SSE connection open.
type EventsWebsocketHandler struct {
	eventBus *events.Bus
	log      zerolog.Logger
}

// NewEventsWebsocketHandler creates a new websocket events handler.
func NewEventsWebsocketHandler(eventBus *events.Bus, log zerolog.Logger) *EventsWebsocketHandler {
	return &EventsWebsocketHandler{
		eventBus: eventBus,
		log:      log.With().Str("component", "events_ws").Logger(),
	}
}

// ServeHTTP handles GET /api/events/ws requests.
func (h *EventsWebsocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.CloseNow()

	h.log.Info().Msg("Client connected to websocket event stream")

	// The connection is write-only; CloseRead surfaces client disconnects
	// through context cancellation.
	ctx := conn.CloseRead(r.Context())

	eventChan := make(chan *events.Event, 100)
	eventHandler := func(event *events.Event) {
		select {
		case eventChan <- event:
		default:
			h.log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Websocket event channel full, dropping event")
		}
	}
	for _, eventType := range events.AllEventTypes {
		h.eventBus.Subscribe(eventType, eventHandler)
	}

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Msg("Client disconnected from websocket event stream")
			conn.Close(websocket.StatusNormalClosure, "")
			return

		case event := <-eventChan:
			if err := h.write(ctx, conn, map[string]interface{}{
				"type":      string(event.Type),
				"module":    event.Module,
				"timestamp": event.Timestamp.Format(time.RFC3339),
				"data":      event.Data,
			}); err != nil {
				h.log.Debug().Err(err).Msg("Websocket write failed, closing")
				return
			}

		case <-heartbeat.C:
			if err := h.write(ctx, conn, map[string]interface{}{
				"type":      "heartbeat",
				"timestamp": time.Now().Format(time.RFC3339),
			}); err != nil {
				return
			}
		}
	}
}

// write sends one JSON message with a bounded deadline so a stalled client
// cannot wedge the handler goroutine.
func (h *EventsWebsocketHandler) write(ctx context.Context, conn *websocket.Conn, payload map[string]interface{}) error {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(writeCtx, conn, payload)
}
