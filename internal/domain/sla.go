package domain

// SLAPolicy defines per-priority response deadlines in minutes. Policies
// are immutable once a ticket has snapshotted its deadlines.
type SLAPolicy struct {
	Priority             TicketPriority
	FirstResponseMinutes int
	ResolutionMinutes    int
	EscalationMinutes    int
}
