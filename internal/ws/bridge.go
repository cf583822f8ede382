package ws

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/support-desk/internal/events"
)

// Bridge relays domain events onto websocket rooms, so transitions driven
// through the REST surface (an accept from the dashboard, an ended chat)
// still reach participants connected over sockets.
type Bridge struct {
	hub    *Hub
	logger *zap.Logger
}

// NewBridge constructs the relay.
func NewBridge(hub *Hub, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{hub: hub, logger: logger}
}

// Register subscribes the relay to the dispatcher.
func (b *Bridge) Register(dispatcher events.Dispatcher) {
	dispatcher.Subscribe(events.EventChatQueued, b.onChatQueued)
	dispatcher.Subscribe(events.EventChatAccepted, b.onChatAccepted)
	dispatcher.Subscribe(events.EventChatEnded, b.onChatEnded)
}

func (b *Bridge) onChatQueued(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.ChatQueuedPayload)
	if !ok {
		return nil
	}
	b.hub.BroadcastToSession(event.SessionID, NewOutbound(EventQueueUpdate, QueueUpdatePayload{
		SessionID:     event.SessionID,
		TeamID:        payload.TeamID,
		QueuePosition: payload.QueuePosition,
	}), nil)
	return nil
}

func (b *Bridge) onChatAccepted(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.ChatAcceptedPayload)
	if !ok {
		return nil
	}
	b.hub.BroadcastToSession(event.SessionID, NewOutbound(EventChatAccepted, ChatAcceptedPayload{
		SessionID: event.SessionID,
		AgentID:   payload.AgentID,
		AgentName: payload.AgentName,
	}), nil)
	return nil
}

func (b *Bridge) onChatEnded(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.ChatEndedPayload)
	if !ok {
		return nil
	}
	b.hub.BroadcastToSession(event.SessionID, NewOutbound(EventChatEnded, ChatEndedPayload{
		SessionID: event.SessionID,
		TicketID:  payload.TicketID,
	}), nil)
	return nil
}
