package dto

import (
	"time"

	"github.com/spec-kit/support-desk/internal/domain"
)

// StartChatRequest opens a live-chat session.
type StartChatRequest struct {
	Category domain.TicketCategory `json:"category"`
}

// ChatMessageRequest appends to a live conversation over REST.
type ChatMessageRequest struct {
	Body string `json:"body"`
}

// EndChatRequest optionally archives the conversation as a ticket.
type EndChatRequest struct {
	CreateTicket  bool   `json:"create_ticket"`
	TicketSubject string `json:"ticket_subject"`
}

// AgentStatusRequest flips an agent's realtime availability. MaxChats, when
// set, overrides the agent's configured concurrent-chat capacity.
type AgentStatusRequest struct {
	Status   domain.PresenceStatus `json:"status"`
	MaxChats *int                  `json:"max_chats"`
}

// ChatSessionResponse is the session projection.
type ChatSessionResponse struct {
	ID            string            `json:"id"`
	Token         string            `json:"token"`
	CustomerID    string            `json:"customer_id"`
	TeamID        *string           `json:"team_id,omitempty"`
	AgentID       *string           `json:"agent_id,omitempty"`
	Status        domain.ChatStatus `json:"status"`
	QueuePosition *int              `json:"queue_position,omitempty"`
	TicketID      *string           `json:"ticket_id,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	AcceptedAt    *time.Time        `json:"accepted_at,omitempty"`
	EndedAt       *time.Time        `json:"ended_at,omitempty"`
}

// ChatMessageResponse is one transcript entry.
type ChatMessageResponse struct {
	ID         string            `json:"id"`
	SessionID  string            `json:"session_id"`
	SenderID   string            `json:"sender_id"`
	SenderType domain.SenderType `json:"sender_type"`
	Body       string            `json:"body"`
	CreatedAt  time.Time         `json:"created_at"`
}

// AgentStatusResponse echoes the tracked presence state.
type AgentStatusResponse struct {
	AgentID     string                `json:"agent_id"`
	Status      domain.PresenceStatus `json:"status"`
	CurrentLoad int                   `json:"current_load"`
	MaxLoad     int                   `json:"max_load"`
}

// QueueStatsResponse snapshots queue depth and staffing.
type QueueStatsResponse struct {
	Waiting      int `json:"waiting"`
	Active       int `json:"active"`
	OnlineAgents int `json:"online_agents"`
}
