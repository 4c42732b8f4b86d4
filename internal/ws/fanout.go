package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/dealradar/dealradar/internal/domain"
	"github.com/dealradar/dealradar/internal/stream"
)

// EventFanout bridges the events topic to the hub: every persisted deal
// event becomes a broadcast frame, and new/updated deals land in the
// "deals" room for subscribed clients.
type EventFanout struct {
	bus stream.Bus
	hub *Hub
	log zerolog.Logger
}

// NewEventFanout creates the bridge.
func NewEventFanout(bus stream.Bus, hub *Hub, log zerolog.Logger) *EventFanout {
	return &EventFanout{bus: bus, hub: hub, log: log.With().Str("component", "ws_fanout").Logger()}
}

// Start subscribes to the events topic. Malformed events are logged and
// dropped; they must not poison the consumer group.
func (f *EventFanout) Start(ctx context.Context) error {
	return f.bus.Subscribe(ctx, domain.TopicEvents, "ws-fanout", f.handle)
}

func (f *EventFanout) handle(_ context.Context, msg *stream.Message) error {
	var event domain.DealEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		f.log.Warn().Err(err).Str("key", msg.Key).Msg("dropping malformed deal event")
		return nil
	}

	frame := Frame{Type: "deal_event", Data: &event, Timestamp: time.Now().UTC()}
	f.hub.BroadcastToRoom("deals", frame)
	return nil
}
