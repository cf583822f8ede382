package ws

import (
	"encoding/json"
	"time"
)

// Close code sent when the handshake token is missing or invalid.
const CloseUnauthorized = 4401

// Inbound actions accepted from clients.
const (
	ActionPing         = "ping"
	ActionSendMessage  = "send_message"
	ActionTypingStart  = "typing_start"
	ActionTypingStop   = "typing_stop"
	ActionJoinSession  = "join_session"
	ActionLeaveSession = "leave_session"
	ActionAcceptChat   = "accept_chat"
)

// Outbound event names.
const (
	EventPong          = "pong"
	EventError         = "error"
	EventMessageSent   = "chat.message_sent"
	EventNewMessage    = "chat.new_message"
	EventTyping        = "chat.typing"
	EventTypingStopped = "chat.typing_stopped"
	EventSessionJoined = "chat.session_joined"
	EventChatAccepted  = "chat.chat_accepted"
	EventChatEnded     = "chat.chat_ended"
	EventQueueUpdate   = "chat.queue_update"
)

// InboundMessage is the client-to-server frame.
type InboundMessage struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// OutboundMessage is the server-to-client envelope.
type OutboundMessage struct {
	Event     string    `json:"event"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewOutbound stamps an envelope.
func NewOutbound(event string, data any) OutboundMessage {
	return OutboundMessage{Event: event, Data: data, Timestamp: time.Now().UTC()}
}

// Encode marshals the envelope for the wire. Marshal failures collapse to an
// error frame so the stream never silently drops an event.
func (m OutboundMessage) Encode() []byte {
	raw, err := json.Marshal(m)
	if err != nil {
		raw, _ = json.Marshal(OutboundMessage{
			Event:     EventError,
			Data:      ErrorPayload{Message: "encoding failure"},
			Timestamp: m.Timestamp,
		})
	}
	return raw
}

// SendMessagePayload is the body of a send_message action.
type SendMessagePayload struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// SessionPayload references a session in join/leave/typing/accept actions.
type SessionPayload struct {
	SessionID string `json:"session_id"`
}

// ErrorPayload reports a rejected action without dropping the socket.
type ErrorPayload struct {
	Action  string `json:"action,omitempty"`
	Message string `json:"message"`
}

// ChatMessagePayload carries one chat message to session participants.
type ChatMessagePayload struct {
	MessageID  string    `json:"message_id"`
	SessionID  string    `json:"session_id"`
	SenderID   string    `json:"sender_id"`
	SenderType string    `json:"sender_type"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

// TypingPayload tells the other side who is typing.
type TypingPayload struct {
	SessionID  string `json:"session_id"`
	SenderID   string `json:"sender_id"`
	SenderType string `json:"sender_type"`
}

// ChatAcceptedPayload announces the agent who claimed the session.
type ChatAcceptedPayload struct {
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name,omitempty"`
}

// ChatEndedPayload announces session termination and the follow-up ticket.
type ChatEndedPayload struct {
	SessionID string  `json:"session_id"`
	TicketID  *string `json:"ticket_id,omitempty"`
}

// QueueUpdatePayload reports a customer's position while waiting.
type QueueUpdatePayload struct {
	SessionID     string  `json:"session_id"`
	TeamID        *string `json:"team_id,omitempty"`
	QueuePosition int     `json:"queue_position"`
}
