package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/events"
	"github.com/spec-kit/support-desk/internal/repository"
	apperrors "github.com/spec-kit/support-desk/pkg/util"
)

// TicketService coordinates the ticket lifecycle and its SLA engine.
type TicketService struct {
	tickets    repository.TicketRepository
	messages   repository.TicketMessageRepository
	policies   repository.SLAPolicyRepository
	sequence   repository.TicketSequence
	assigner   *AssignmentService
	dispatcher events.Dispatcher
	logger     *zap.Logger
	clock      func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo  repository.TicketRepository
	MessageRepo repository.TicketMessageRepository
	PolicyRepo  repository.SLAPolicyRepository
	Sequence    repository.TicketSequence
	Assigner    *AssignmentService
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
	Clock       func() time.Time
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Category    domain.TicketCategory
	Subject     string
	Description string
	Priority    domain.TicketPriority
	Source      domain.TicketSource
	TeamID      *string
	AgentID     *string
}

// TicketListFilter describes listing filters.
type TicketListFilter struct {
	Statuses   []domain.TicketStatus
	Priorities []domain.TicketPriority
	Limit      int
	Offset     int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TicketService{
		tickets:    deps.TicketRepo,
		messages:   deps.MessageRepo,
		policies:   deps.PolicyRepo,
		sequence:   deps.Sequence,
		assigner:   deps.Assigner,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		clock:      clock,
	}
}

// ComputeDeadlines snapshots the SLA deadlines for a priority. A missing
// policy is a configuration gap, not an error: both deadlines come back nil
// and the ticket is still created.
func (s *TicketService) ComputeDeadlines(ctx context.Context, priority domain.TicketPriority, createdAt time.Time) (*time.Time, *time.Time, error) {
	policy, err := s.policies.GetByPriority(ctx, priority)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	firstResponse := createdAt.Add(time.Duration(policy.FirstResponseMinutes) * time.Minute)
	resolution := createdAt.Add(time.Duration(policy.ResolutionMinutes) * time.Minute)
	return &firstResponse, &resolution, nil
}

// Create opens a ticket: number from the atomic per-year sequence, SLA
// deadlines snapshotted, then routed to a team and (best-effort) an agent.
func (s *TicketService) Create(ctx context.Context, userID string, input TicketCreateInput) (*domain.Ticket, error) {
	subject := strings.TrimSpace(input.Subject)
	if subject == "" {
		return nil, apperrors.NewValidationError("subject required", nil)
	}
	if input.Priority == "" {
		input.Priority = domain.TicketPriorityMedium
	}
	if input.Category == "" {
		input.Category = domain.CategoryGeneral
	}
	if input.Source == "" {
		input.Source = domain.SourceWeb
	}

	now := s.clock()
	seq, err := s.sequence.Next(ctx, now.Year())
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	number := fmt.Sprintf("TKT-%d-%05d", now.Year(), seq)

	firstResponseDue, resolutionDue, err := s.ComputeDeadlines(ctx, input.Priority, now)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	ticket := &domain.Ticket{
		Number:              number,
		RequesterID:         userID,
		Category:            input.Category,
		Subject:             subject,
		Description:         strings.TrimSpace(input.Description),
		Status:              domain.TicketStatusOpen,
		Priority:            input.Priority,
		Source:              input.Source,
		SLAFirstResponseDue: firstResponseDue,
		SLAResolutionDue:    resolutionDue,
	}

	// Explicit routing targets are validated up front; auto-routing below
	// never fails the creation just because nobody has capacity.
	if input.TeamID != nil {
		team, err := s.assigner.ResolveExplicitTeam(ctx, *input.TeamID)
		if err != nil {
			return nil, err
		}
		ticket.TeamID = &team.ID
	}
	if input.AgentID != nil {
		teamScope := ""
		if ticket.TeamID != nil {
			teamScope = *ticket.TeamID
		}
		agent, err := s.assigner.ValidateAgent(ctx, *input.AgentID, teamScope)
		if err != nil {
			return nil, err
		}
		ticket.AssigneeID = &agent.ID
	}

	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}

	if ticket.TeamID == nil || ticket.AssigneeID == nil {
		if err := s.assigner.AutoAssign(ctx, ticket); err != nil {
			s.logger.Warn("ticket auto-assignment failed",
				zap.String("ticket", ticket.Number), zap.Error(err))
		} else if err := s.tickets.Update(ctx, ticket); err != nil {
			return nil, apperrors.MapError(err)
		}
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		Actor:    userActor(userID),
		Payload: events.TicketCreatedPayload{
			Number:   ticket.Number,
			Category: ticket.Category,
			TeamID:   ticket.TeamID,
			Priority: ticket.Priority,
			Subject:  ticket.Subject,
		},
	})
	if ticket.AssigneeID != nil {
		s.publishEvent(ctx, events.Event{
			Type:     events.EventTicketAssigned,
			TicketID: ticket.ID,
			Actor:    userActor(userID),
			Payload: events.TicketAssignedPayload{
				AssigneeID: ticket.AssigneeID,
				TeamID:     ticket.TeamID,
			},
		})
	}
	return ticket, nil
}

// AddMessage appends to the ticket thread. The first agent reply stamps
// first_response_at exactly once and evaluates the first-response SLA;
// replies also drive the open->in_progress and waiting_customer->in_progress
// auto-transitions.
func (s *TicketService) AddMessage(ctx context.Context, sender domain.SenderType, senderID *string, agent *domain.Agent, ticketID, body string, internal bool) (*domain.TicketMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperrors.NewValidationError("body required", nil)
	}

	ticket, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	switch sender {
	case domain.SenderCustomer:
		if senderID == nil || ticket.RequesterID != *senderID {
			return nil, apperrors.NewUnauthorized("ticket does not belong to caller")
		}
		if internal {
			return nil, apperrors.NewValidationError("customers cannot post internal notes", nil)
		}
	case domain.SenderAgent:
		if agent == nil {
			return nil, apperrors.NewUnauthorized("agent context required")
		}
		if !s.agentCanAccess(agent, ticket) {
			return nil, apperrors.NewForbidden("ticket outside agent scope")
		}
	case domain.SenderSystem:
		// internal machinery, no ownership check
	default:
		return nil, apperrors.NewValidationError("unknown sender", nil)
	}

	msg := &domain.TicketMessage{
		TicketID:   ticket.ID,
		SenderType: sender,
		SenderID:   senderID,
		Body:       body,
		Internal:   internal,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, apperrors.MapError(err)
	}

	changed := false
	breached := false
	if sender == domain.SenderAgent {
		if ticket.FirstResponseAt == nil {
			now := s.clock()
			ticket.FirstResponseAt = &now
			if ticket.SLAFirstResponseDue != nil && now.After(*ticket.SLAFirstResponseDue) {
				ticket.SLABreached = true
				breached = true
			}
			changed = true
		}
		if ticket.Status == domain.TicketStatusOpen {
			ticket.Status = domain.TicketStatusInProgress
			changed = true
		}
	}
	if sender == domain.SenderCustomer && ticket.Status == domain.TicketStatusWaitingCustomer {
		ticket.Status = domain.TicketStatusInProgress
		changed = true
	}

	if changed {
		if err := s.tickets.Update(ctx, ticket); err != nil {
			return nil, apperrors.MapError(err)
		}
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketMessageAdded,
		TicketID: ticket.ID,
		Actor:    actorFromSender(sender, senderID),
		Payload: events.TicketMessageAddedPayload{
			MessageID:   msg.ID,
			SenderType:  msg.SenderType,
			SenderID:    msg.SenderID,
			Internal:    msg.Internal,
			BodyPreview: stringPreview(msg.Body, 120),
		},
	})
	if breached {
		s.publishBreach(ctx, ticket)
	}
	return msg, nil
}

// allowedTransitions is the linear-with-return ticket state machine. An open
// ticket must be picked up before it can resolve, and there is no way out of
// closed.
var allowedTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusOpen:            {domain.TicketStatusInProgress},
	domain.TicketStatusInProgress:      {domain.TicketStatusWaitingCustomer, domain.TicketStatusResolved},
	domain.TicketStatusWaitingCustomer: {domain.TicketStatusInProgress, domain.TicketStatusResolved},
	domain.TicketStatusResolved:        {domain.TicketStatusClosed},
	domain.TicketStatusClosed:          {},
}

func isValidTransition(current, next domain.TicketStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// UpdateStatus moves the ticket through its state machine. Resolving stamps
// resolved_at and evaluates the resolution SLA; closing stamps closed_at.
func (s *TicketService) UpdateStatus(ctx context.Context, agent *domain.Agent, ticketID string, newStatus domain.TicketStatus) (*domain.Ticket, error) {
	if agent == nil {
		return nil, apperrors.NewUnauthorized("agent required")
	}
	ticket, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !s.agentCanAccess(agent, ticket) {
		return nil, apperrors.NewForbidden("ticket outside agent scope")
	}
	if !isValidTransition(ticket.Status, newStatus) {
		return nil, apperrors.NewConflict("invalid status transition", map[string]any{
			"from": ticket.Status,
			"to":   newStatus,
		})
	}

	oldStatus := ticket.Status
	ticket.Status = newStatus
	breached := false
	now := s.clock()
	switch newStatus {
	case domain.TicketStatusResolved:
		ticket.ResolvedAt = &now
		if !ticket.SLABreached && ticket.SLAResolutionDue != nil && now.After(*ticket.SLAResolutionDue) {
			ticket.SLABreached = true
			breached = true
		}
	case domain.TicketStatusClosed:
		ticket.ClosedAt = &now
	}

	if err := s.tickets.Update(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketStatusChanged,
		TicketID: ticket.ID,
		Actor:    agentActor(agent.ID),
		Payload: events.TicketStatusChangedPayload{
			OldStatus: oldStatus,
			NewStatus: newStatus,
		},
	})
	if breached {
		s.publishBreach(ctx, ticket)
	}
	return ticket, nil
}

// CheckAndEscalate is the sweep body: every unbreached open/in-progress
// ticket whose deadline has passed gets flagged exactly once and receives an
// internal system note. One bad ticket never aborts the rest, and a rerun is
// a no-op because MarkBreached is conditional on sla_breached=false.
func (s *TicketService) CheckAndEscalate(ctx context.Context) (int, error) {
	overdue, err := s.tickets.ListEscalatable(ctx, s.clock())
	if err != nil {
		return 0, apperrors.MapError(err)
	}

	escalated := 0
	for i := range overdue {
		ticket := &overdue[i]
		flagged, err := s.tickets.MarkBreached(ctx, ticket.ID)
		if err != nil {
			s.logger.Warn("escalation sweep: mark breached failed",
				zap.String("ticket", ticket.Number), zap.Error(err))
			continue
		}
		if !flagged {
			continue
		}
		ticket.SLABreached = true

		note := &domain.TicketMessage{
			TicketID:   ticket.ID,
			SenderType: domain.SenderSystem,
			Body:       fmt.Sprintf("SLA deadline exceeded for ticket %s; escalated for review.", ticket.Number),
			Internal:   true,
		}
		if err := s.messages.Create(ctx, note); err != nil {
			s.logger.Warn("escalation sweep: system note failed",
				zap.String("ticket", ticket.Number), zap.Error(err))
		}

		s.publishBreach(ctx, ticket)
		escalated++
	}
	return escalated, nil
}

// GetForUser fetches a ticket ensuring ownership; internal notes are hidden.
func (s *TicketService) GetForUser(ctx context.Context, userID, ticketID string) (*domain.Ticket, []domain.TicketMessage, error) {
	ticket, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, nil, err
	}
	if ticket.RequesterID != userID {
		return nil, nil, apperrors.NewUnauthorized("ticket does not belong to caller")
	}
	msgs, err := s.messages.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, nil, apperrors.MapError(err)
	}
	visible := make([]domain.TicketMessage, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Internal {
			continue
		}
		visible = append(visible, msg)
	}
	return ticket, visible, nil
}

// GetForAgent fetches a ticket ensuring team scope, internal notes included.
func (s *TicketService) GetForAgent(ctx context.Context, agent *domain.Agent, ticketID string) (*domain.Ticket, []domain.TicketMessage, error) {
	if agent == nil {
		return nil, nil, apperrors.NewUnauthorized("agent required")
	}
	ticket, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, nil, err
	}
	if !s.agentCanAccess(agent, ticket) {
		return nil, nil, apperrors.NewForbidden("ticket outside agent scope")
	}
	msgs, err := s.messages.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, nil, apperrors.MapError(err)
	}
	return ticket, msgs, nil
}

// ListForUser returns the caller's tickets.
func (s *TicketService) ListForUser(ctx context.Context, userID string, filter TicketListFilter) ([]domain.Ticket, error) {
	return s.tickets.ListWithFilter(ctx, repository.TicketFilter{
		RequesterID: &userID,
		Statuses:    filter.Statuses,
		Priorities:  filter.Priorities,
		Limit:       filter.Limit,
		Offset:      filter.Offset,
	})
}

// ListForAgent returns tickets in the agent's scope (everything for admins).
func (s *TicketService) ListForAgent(ctx context.Context, agent *domain.Agent, filter TicketListFilter) ([]domain.Ticket, error) {
	if agent == nil {
		return nil, apperrors.NewUnauthorized("agent required")
	}
	repoFilter := repository.TicketFilter{
		Statuses:   filter.Statuses,
		Priorities: filter.Priorities,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	}
	if !agent.Role.IsAdmin() {
		repoFilter.TeamID = agent.TeamID
	}
	return s.tickets.ListWithFilter(ctx, repoFilter)
}

// GetSLAMetrics returns the aggregate counters for dashboards.
func (s *TicketService) GetSLAMetrics(ctx context.Context) (*repository.SLAMetrics, error) {
	metrics, err := s.tickets.Metrics(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return metrics, nil
}

func (s *TicketService) getTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	return ticket, nil
}

func (s *TicketService) agentCanAccess(agent *domain.Agent, ticket *domain.Ticket) bool {
	if agent == nil {
		return false
	}
	if agent.Role.IsAdmin() {
		return true
	}
	if agent.TeamID != nil && ticket.TeamID != nil && *agent.TeamID == *ticket.TeamID {
		return true
	}
	if ticket.AssigneeID != nil && *ticket.AssigneeID == agent.ID {
		return true
	}
	return false
}

func (s *TicketService) publishBreach(ctx context.Context, ticket *domain.Ticket) {
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketSLABreached,
		TicketID: ticket.ID,
		Actor:    events.Actor{Type: domain.SubjectTypeAgent},
		Payload: events.TicketSLABreachedPayload{
			Number:           ticket.Number,
			FirstResponseDue: ticket.SLAFirstResponseDue,
			ResolutionDue:    ticket.SLAResolutionDue,
		},
	})
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock()
	}
	_ = s.dispatcher.Publish(ctx, event)
}

func userActor(userID string) events.Actor {
	return events.Actor{
		Type:   domain.SubjectTypeUser,
		UserID: &userID,
	}
}

func agentActor(agentID string) events.Actor {
	return events.Actor{
		Type:    domain.SubjectTypeAgent,
		AgentID: &agentID,
	}
}

func actorFromSender(sender domain.SenderType, id *string) events.Actor {
	actor := events.Actor{Type: domain.SubjectTypeUser}
	switch sender {
	case domain.SenderAgent:
		actor.Type = domain.SubjectTypeAgent
		actor.AgentID = id
	case domain.SenderCustomer:
		actor.UserID = id
	}
	return actor
}

func stringPreview(body string, max int) string {
	body = strings.TrimSpace(body)
	if len(body) <= max {
		return body
	}
	if max <= 3 {
		return body[:max]
	}
	return body[:max-3] + "..."
}
