package events

import (
	"time"

	"github.com/spec-kit/support-desk/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketAssigned      EventType = "ticket_assigned"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventTicketMessageAdded  EventType = "ticket_message_added"
	EventTicketSLABreached   EventType = "ticket_sla_breached"
	EventChatQueued          EventType = "chat_queued"
	EventChatAccepted        EventType = "chat_accepted"
	EventChatEnded           EventType = "chat_ended"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type    domain.SubjectType `json:"type"`
	UserID  *string            `json:"user_id,omitempty"`
	AgentID *string            `json:"agent_id,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Number   string                `json:"number"`
	Category domain.TicketCategory `json:"category"`
	TeamID   *string               `json:"team_id,omitempty"`
	Priority domain.TicketPriority `json:"priority"`
	Subject  string                `json:"subject"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	AssigneeID *string `json:"assignee_id,omitempty"`
	TeamID     *string `json:"team_id,omitempty"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
}

// TicketMessageAddedPayload payload.
type TicketMessageAddedPayload struct {
	MessageID   string            `json:"message_id"`
	SenderType  domain.SenderType `json:"sender_type"`
	SenderID    *string           `json:"sender_id,omitempty"`
	Internal    bool              `json:"internal"`
	BodyPreview string            `json:"body_preview"`
}

// TicketSLABreachedPayload payload.
type TicketSLABreachedPayload struct {
	Number           string     `json:"number"`
	FirstResponseDue *time.Time `json:"first_response_due,omitempty"`
	ResolutionDue    *time.Time `json:"resolution_due,omitempty"`
}

// ChatQueuedPayload payload.
type ChatQueuedPayload struct {
	TeamID        *string `json:"team_id,omitempty"`
	QueuePosition int     `json:"queue_position"`
}

// ChatAcceptedPayload payload.
type ChatAcceptedPayload struct {
	AgentID   string  `json:"agent_id"`
	AgentName string  `json:"agent_name,omitempty"`
	TeamID    *string `json:"team_id,omitempty"`
}

// ChatEndedPayload payload.
type ChatEndedPayload struct {
	AgentID  *string `json:"agent_id,omitempty"`
	TicketID *string `json:"ticket_id,omitempty"`
}
