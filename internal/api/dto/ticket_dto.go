package dto

import (
	"time"

	"github.com/spec-kit/support-desk/internal/domain"
)

// CreateTicketRequest is the ticket creation payload.
type CreateTicketRequest struct {
	Category    domain.TicketCategory `json:"category"`
	Subject     string                `json:"subject"`
	Description string                `json:"description"`
	Priority    domain.TicketPriority `json:"priority"`
	Source      domain.TicketSource   `json:"source"`
	TeamID      *string               `json:"team_id,omitempty"`
	AgentID     *string               `json:"agent_id,omitempty"`
}

// CreateMessageRequest appends to a ticket thread.
type CreateMessageRequest struct {
	Body     string `json:"body"`
	Internal bool   `json:"internal"`
}

// UpdateStatusRequest moves a ticket through its lifecycle.
type UpdateStatusRequest struct {
	Status domain.TicketStatus `json:"status"`
}

// TicketSummary is the list-view projection.
type TicketSummary struct {
	ID          string                `json:"id"`
	Number      string                `json:"number"`
	Category    domain.TicketCategory `json:"category"`
	TeamID      *string               `json:"team_id,omitempty"`
	AssigneeID  *string               `json:"assignee_id,omitempty"`
	Subject     string                `json:"subject"`
	Status      domain.TicketStatus   `json:"status"`
	Priority    domain.TicketPriority `json:"priority"`
	Source      domain.TicketSource   `json:"source"`
	SLABreached bool                  `json:"sla_breached"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// TicketDetailResponse is the single-ticket projection with its thread.
type TicketDetailResponse struct {
	TicketSummary
	Description         string                  `json:"description"`
	FirstResponseAt     *time.Time              `json:"first_response_at,omitempty"`
	SLAFirstResponseDue *time.Time              `json:"sla_first_response_due,omitempty"`
	SLAResolutionDue    *time.Time              `json:"sla_resolution_due,omitempty"`
	ResolvedAt          *time.Time              `json:"resolved_at,omitempty"`
	ClosedAt            *time.Time              `json:"closed_at,omitempty"`
	Messages            []TicketMessageResponse `json:"messages"`
}

// TicketMessageResponse is one thread entry.
type TicketMessageResponse struct {
	ID         string            `json:"id"`
	SenderType domain.SenderType `json:"sender_type"`
	SenderID   *string           `json:"sender_id,omitempty"`
	Body       string            `json:"body"`
	Internal   bool              `json:"internal"`
	CreatedAt  time.Time         `json:"created_at"`
}

// SLAMetricsResponse aggregates SLA health for dashboards.
type SLAMetricsResponse struct {
	TotalTickets      int64   `json:"total_tickets"`
	OpenTickets       int64   `json:"open_tickets"`
	BreachedTickets   int64   `json:"breached_tickets"`
	ResolvedTickets   int64   `json:"resolved_tickets"`
	FirstResponseRate float64 `json:"first_response_rate"`
}
