package domain

import "time"

// ChatStatus enumerates live-chat session states.
type ChatStatus string

const (
	ChatStatusWaiting ChatStatus = "waiting"
	ChatStatusActive  ChatStatus = "active"
	ChatStatusEnded   ChatStatus = "ended"
)

// ChatSession models one live conversation between a customer and an agent.
// QueuePosition is meaningful only while Status is waiting.
type ChatSession struct {
	ID            string
	Token         string
	CustomerID    string
	TeamID        *string
	AgentID       *string
	Status        ChatStatus
	QueuePosition *int
	TicketID      *string
	StartedAt     time.Time
	AcceptedAt    *time.Time
	EndedAt       *time.Time
	UpdatedAt     time.Time
}

// ChatMessage is a single utterance within a session. Append-only.
type ChatMessage struct {
	ID         string
	SessionID  string
	SenderID   string
	SenderType SenderType
	Body       string
	CreatedAt  time.Time
}
