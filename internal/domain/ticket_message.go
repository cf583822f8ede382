package domain

import "time"

// SenderType indicates who authored a message.
type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderAgent    SenderType = "agent"
	SenderSystem   SenderType = "system"
)

// TicketMessage captures communications in a ticket thread. Append-only.
type TicketMessage struct {
	ID         string
	TicketID   string
	SenderType SenderType
	SenderID   *string
	Body       string
	Internal   bool
	CreatedAt  time.Time
}
