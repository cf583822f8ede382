package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen            TicketStatus = "open"
	TicketStatusInProgress      TicketStatus = "in_progress"
	TicketStatusWaitingCustomer TicketStatus = "waiting_customer"
	TicketStatusResolved        TicketStatus = "resolved"
	TicketStatusClosed          TicketStatus = "closed"
)

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
	TicketPriorityUrgent TicketPriority = "urgent"
)

// TicketCategory drives team routing.
type TicketCategory string

const (
	CategoryBilling   TicketCategory = "billing"
	CategoryTechnical TicketCategory = "technical"
	CategoryAccount   TicketCategory = "account"
	CategorySales     TicketCategory = "sales"
	CategoryGeneral   TicketCategory = "general"
)

// TicketSource records the channel the ticket came in through.
type TicketSource string

const (
	SourceWeb   TicketSource = "web"
	SourceEmail TicketSource = "email"
	SourceChat  TicketSource = "chat"
)

// Ticket is the aggregate for support requests. SLA deadlines are a
// snapshot taken at creation and never recomputed.
type Ticket struct {
	ID                  string
	Number              string
	RequesterID         string
	Category            TicketCategory
	TeamID              *string
	AssigneeID          *string
	Subject             string
	Description         string
	Status              TicketStatus
	Priority            TicketPriority
	Source              TicketSource
	FirstResponseAt     *time.Time
	SLAFirstResponseDue *time.Time
	SLAResolutionDue    *time.Time
	SLABreached         bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ResolvedAt          *time.Time
	ClosedAt            *time.Time
}
