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

	"github.com/spec-kit/support-desk/internal/config"
	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/events"
	"github.com/spec-kit/support-desk/internal/presence"
	"github.com/spec-kit/support-desk/internal/repository"
	apperrors "github.com/spec-kit/support-desk/pkg/util"
)

// ChatService runs the live-chat queue: enqueueing customers, the
// agent-claim race, transcripts and the presence-driven auto-dispatch.
type ChatService struct {
	chats      repository.ChatRepository
	agents     repository.AgentRepository
	tracker    *presence.Tracker
	assigner   *AssignmentService
	tickets    *TicketService
	dispatcher events.Dispatcher
	cfg        config.ChatConfig
	logger     *zap.Logger
	clock      func() time.Time
}

// ChatDependencies bundles collaborators for the chat service.
type ChatDependencies struct {
	ChatRepo   repository.ChatRepository
	AgentRepo  repository.AgentRepository
	Tracker    *presence.Tracker
	Assigner   *AssignmentService
	Tickets    *TicketService
	Dispatcher events.Dispatcher
	Config     config.ChatConfig
	Logger     *zap.Logger
	Clock      func() time.Time
}

// QueueStats is the live snapshot exposed to agent dashboards.
type QueueStats struct {
	Waiting      int `json:"waiting"`
	Active       int `json:"active"`
	OnlineAgents int `json:"online_agents"`
}

// NewChatService constructs the service.
func NewChatService(deps ChatDependencies) *ChatService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	cfg := deps.Config
	if cfg.DefaultMaxChats <= 0 {
		cfg.DefaultMaxChats = 3
	}
	if cfg.TranscriptMessageLimit <= 0 {
		cfg.TranscriptMessageLimit = 20
	}
	return &ChatService{
		chats:      deps.ChatRepo,
		agents:     deps.AgentRepo,
		tracker:    deps.Tracker,
		assigner:   deps.Assigner,
		tickets:    deps.Tickets,
		dispatcher: deps.Dispatcher,
		cfg:        cfg,
		logger:     logger,
		clock:      clock,
	}
}

// CreateSession enqueues a customer. When a category is given the session is
// routed to that category's team queue; otherwise it lands in the shared
// pool. Dispatch to an idle agent is attempted immediately, so the returned
// session may already be active.
func (s *ChatService) CreateSession(ctx context.Context, customerID string, category domain.TicketCategory) (*domain.ChatSession, error) {
	var teamID *string
	if category != "" {
		team, err := s.assigner.ResolveTeam(ctx, category)
		if err != nil {
			return nil, err
		}
		teamID = &team.ID
	}

	// Position assignment happens inside the insert so concurrent enqueues
	// on the same queue cannot observe the same waiting count.
	session := &domain.ChatSession{
		Token:      uuid.NewString(),
		CustomerID: customerID,
		TeamID:     teamID,
		Status:     domain.ChatStatusWaiting,
	}
	if err := s.chats.CreateSession(ctx, session); err != nil {
		return nil, apperrors.MapError(err)
	}

	position := 0
	if session.QueuePosition != nil {
		position = *session.QueuePosition
	}
	s.publishEvent(ctx, events.Event{
		Type:      events.EventChatQueued,
		SessionID: session.ID,
		Actor:     userActor(customerID),
		Payload: events.ChatQueuedPayload{
			TeamID:        session.TeamID,
			QueuePosition: position,
		},
	})

	if claimed := s.TryAssignAgent(ctx, session); claimed != nil {
		return claimed, nil
	}
	return session, nil
}

// TryAssignAgent walks the team's available agents in least-loaded order and
// attempts the capacity-then-claim handshake with each. Losing the claim
// rolls the capacity reservation back and moves on. Returns nil when the
// session stayed queued.
func (s *ChatService) TryAssignAgent(ctx context.Context, session *domain.ChatSession) *domain.ChatSession {
	teamScope := ""
	if session.TeamID != nil {
		teamScope = *session.TeamID
	}

	for _, candidate := range s.tracker.ListAvailable(teamScope) {
		if !s.tracker.IncrementLoad(candidate.MemberID) {
			continue
		}
		claimed, err := s.chats.Claim(ctx, session.ID, candidate.MemberID, s.clock())
		if err != nil {
			s.tracker.DecrementLoad(candidate.MemberID)
			if errors.Is(err, pgx.ErrNoRows) {
				// Session no longer waiting; somebody else got it.
				return nil
			}
			s.logger.Warn("chat auto-dispatch claim failed",
				zap.String("session_id", session.ID),
				zap.String("agent_id", candidate.MemberID),
				zap.Error(err))
			continue
		}
		s.publishAccepted(ctx, claimed)
		return claimed
	}
	return nil
}

// AcceptChat is the agent-initiated claim. Capacity is reserved in the
// presence tracker before the storage claim runs, and released again when
// the claim loses. Exactly one of N concurrent accepts for the same session
// succeeds; the rest see AlreadyClaimed.
func (s *ChatService) AcceptChat(ctx context.Context, agent *domain.Agent, sessionID string) (*domain.ChatSession, error) {
	if agent == nil {
		return nil, apperrors.NewUnauthorized("agent required")
	}

	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !agent.Role.IsAdmin() && session.TeamID != nil {
		if agent.TeamID == nil || *agent.TeamID != *session.TeamID {
			return nil, apperrors.NewForbidden("chat belongs to another team's queue")
		}
	}

	if !s.tracker.IncrementLoad(agent.ID) {
		return nil, apperrors.NewConflict("agent offline or at capacity", map[string]any{
			"agent_id": agent.ID,
		})
	}

	claimed, err := s.chats.Claim(ctx, sessionID, agent.ID, s.clock())
	if err != nil {
		s.tracker.DecrementLoad(agent.ID)
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.MapError(err)
		}
		return nil, s.claimLossError(ctx, sessionID)
	}

	s.publishAccepted(ctx, claimed)
	return claimed, nil
}

// claimLossError distinguishes "session gone" from "somebody beat you".
func (s *ChatService) claimLossError(ctx context.Context, sessionID string) error {
	current, err := s.chats.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("chat session", map[string]any{"session_id": sessionID})
		}
		return apperrors.MapError(err)
	}
	switch current.Status {
	case domain.ChatStatusActive:
		return apperrors.NewAlreadyClaimed("chat session", map[string]any{
			"session_id": sessionID,
			"agent_id":   current.AgentID,
		})
	case domain.ChatStatusEnded:
		return apperrors.NewConflict("chat session already ended", map[string]any{
			"session_id": sessionID,
		})
	default:
		return apperrors.NewConflict("chat session not claimable", map[string]any{
			"session_id": sessionID,
			"status":     current.Status,
		})
	}
}

// EndChatOptions controls the optional transcript-to-ticket conversion.
type EndChatOptions struct {
	CreateTicket  bool
	TicketSubject string
}

// EndChat terminates a session. Either side of the conversation may end it;
// ending an accepted chat releases the agent's capacity. When requested, the
// conversation is archived as a chat-sourced ticket carrying the transcript
// excerpt.
func (s *ChatService) EndChat(ctx context.Context, userID *string, agent *domain.Agent, sessionID string, opts EndChatOptions) (*domain.ChatSession, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeParticipant(userID, agent, session); err != nil {
		return nil, err
	}

	ended, err := s.chats.End(ctx, sessionID, s.clock())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewConflict("chat session already ended", map[string]any{
				"session_id": sessionID,
			})
		}
		return nil, apperrors.MapError(err)
	}

	if ended.AgentID != nil {
		s.tracker.DecrementLoad(*ended.AgentID)
	}

	if opts.CreateTicket {
		if ticketID, err := s.archiveToTicket(ctx, ended, opts.TicketSubject); err != nil {
			s.logger.Warn("chat transcript ticket failed",
				zap.String("session_id", ended.ID), zap.Error(err))
		} else {
			ended.TicketID = &ticketID
		}
	}

	s.publishEvent(ctx, events.Event{
		Type:      events.EventChatEnded,
		SessionID: ended.ID,
		Actor:     participantActor(userID, agent),
		Payload: events.ChatEndedPayload{
			AgentID:  ended.AgentID,
			TicketID: ended.TicketID,
		},
	})
	return ended, nil
}

// archiveToTicket turns an ended conversation into a chat-sourced ticket so
// the exchange survives in the requester's history.
func (s *ChatService) archiveToTicket(ctx context.Context, session *domain.ChatSession, subject string) (string, error) {
	msgs, err := s.chats.ListMessages(ctx, session.ID, s.cfg.TranscriptMessageLimit)
	if err != nil {
		return "", err
	}

	var transcript strings.Builder
	for _, msg := range msgs {
		fmt.Fprintf(&transcript, "%s: %s\n", msg.SenderType, msg.Body)
	}

	if strings.TrimSpace(subject) == "" {
		subject = fmt.Sprintf("Chat transcript %s", shortToken(session.Token))
	}
	input := TicketCreateInput{
		Category:    domain.CategoryGeneral,
		Subject:     subject,
		Description: transcript.String(),
		Priority:    domain.TicketPriorityMedium,
		Source:      domain.SourceChat,
		TeamID:      session.TeamID,
	}
	if session.AgentID != nil && session.TeamID != nil {
		if handler, err := s.agents.GetByID(ctx, *session.AgentID); err == nil &&
			handler.Active && handler.TeamID != nil && *handler.TeamID == *session.TeamID {
			input.AgentID = session.AgentID
		}
	}

	ticket, err := s.tickets.Create(ctx, session.CustomerID, input)
	if err != nil {
		return "", err
	}
	if err := s.chats.LinkTicket(ctx, session.ID, ticket.ID); err != nil {
		return "", err
	}
	return ticket.ID, nil
}

// SendMessage appends to a live conversation. Customers may only write to
// their own session, agents to sessions they handle (admins anywhere), and
// nobody to an ended one.
func (s *ChatService) SendMessage(ctx context.Context, userID *string, agent *domain.Agent, sessionID, body string) (*domain.ChatMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperrors.NewValidationError("body required", nil)
	}

	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == domain.ChatStatusEnded {
		return nil, apperrors.NewConflict("chat session already ended", map[string]any{
			"session_id": sessionID,
		})
	}
	if err := s.authorizeParticipant(userID, agent, session); err != nil {
		return nil, err
	}

	msg := &domain.ChatMessage{
		SessionID: session.ID,
		Body:      body,
	}
	if agent != nil {
		msg.SenderID = agent.ID
		msg.SenderType = domain.SenderAgent
	} else {
		msg.SenderID = *userID
		msg.SenderType = domain.SenderCustomer
	}
	if err := s.chats.AddMessage(ctx, msg); err != nil {
		return nil, apperrors.MapError(err)
	}
	return msg, nil
}

// UpdateAgentStatus flips an agent's availability. Going online seeds the
// tracker with the agent's team and chat capacity; a zero MaxChats falls
// back to the configured default.
func (s *ChatService) UpdateAgentStatus(ctx context.Context, agent *domain.Agent, status domain.PresenceStatus, maxChatsOverride *int) (domain.AgentPresence, error) {
	if agent == nil {
		return domain.AgentPresence{}, apperrors.NewUnauthorized("agent required")
	}
	if status != domain.PresenceOnline && status != domain.PresenceOffline {
		return domain.AgentPresence{}, apperrors.NewValidationError("unknown presence status", map[string]any{
			"status": status,
		})
	}
	maxChats := agent.MaxChats
	if maxChatsOverride != nil {
		if *maxChatsOverride <= 0 {
			return domain.AgentPresence{}, apperrors.NewValidationError("max_chats must be positive", map[string]any{
				"max_chats": *maxChatsOverride,
			})
		}
		maxChats = *maxChatsOverride
	}
	if maxChats <= 0 {
		maxChats = s.cfg.DefaultMaxChats
	}
	state := s.tracker.SetStatus(agent.ID, agent.TeamID, status, maxChats)

	// A fresh pair of hands may unblock the head of the queue.
	if status == domain.PresenceOnline {
		s.dispatchWaiting(ctx, agent.TeamID)
	}
	return state, nil
}

// dispatchWaiting offers the longest-waiting sessions of a queue to
// whichever agents now have capacity.
func (s *ChatService) dispatchWaiting(ctx context.Context, teamID *string) {
	waiting, err := s.chats.ListWaiting(ctx, teamID)
	if err != nil {
		s.logger.Warn("queue dispatch listing failed", zap.Error(err))
		return
	}
	for i := range waiting {
		if s.TryAssignAgent(ctx, &waiting[i]) == nil {
			return
		}
	}
}

// GetQueueStats snapshots queue depth and staffing for a team (or globally
// when teamID is nil).
func (s *ChatService) GetQueueStats(ctx context.Context, teamID *string) (*QueueStats, error) {
	waiting, err := s.chats.CountWaiting(ctx, teamID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	active, err := s.chats.CountActive(ctx, teamID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	teamScope := ""
	if teamID != nil {
		teamScope = *teamID
	}
	return &QueueStats{
		Waiting:      waiting,
		Active:       active,
		OnlineAgents: s.tracker.CountOnline(teamScope),
	}, nil
}

// ListQueue returns the waiting sessions of a team queue in position order.
func (s *ChatService) ListQueue(ctx context.Context, agent *domain.Agent, teamID *string) ([]domain.ChatSession, error) {
	if agent == nil {
		return nil, apperrors.NewUnauthorized("agent required")
	}
	if !agent.Role.IsAdmin() {
		teamID = agent.TeamID
	}
	sessions, err := s.chats.ListWaiting(ctx, teamID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return sessions, nil
}

// GetSessionFor fetches a session the caller participates in.
func (s *ChatService) GetSessionFor(ctx context.Context, userID *string, agent *domain.Agent, sessionID string) (*domain.ChatSession, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeParticipant(userID, agent, session); err != nil {
		return nil, err
	}
	return session, nil
}

// GetTranscript returns the session's message log for a participant.
func (s *ChatService) GetTranscript(ctx context.Context, userID *string, agent *domain.Agent, sessionID string) ([]domain.ChatMessage, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeParticipant(userID, agent, session); err != nil {
		return nil, err
	}
	msgs, err := s.chats.ListMessages(ctx, session.ID, 0)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return msgs, nil
}

// AuthorizeParticipant reports whether the caller may act on the session.
// Exported for the realtime layer, which checks membership before joining a
// socket to a session room.
func (s *ChatService) AuthorizeParticipant(userID *string, agent *domain.Agent, session *domain.ChatSession) error {
	return s.authorizeParticipant(userID, agent, session)
}

func (s *ChatService) authorizeParticipant(userID *string, agent *domain.Agent, session *domain.ChatSession) error {
	if agent != nil {
		if agent.Role.IsAdmin() {
			return nil
		}
		if session.AgentID != nil && *session.AgentID == agent.ID {
			return nil
		}
		return apperrors.NewForbidden("chat handled by another agent")
	}
	if userID != nil {
		if session.CustomerID == *userID {
			return nil
		}
		return apperrors.NewUnauthorized("chat does not belong to caller")
	}
	return apperrors.NewUnauthorized("authentication required")
}

func (s *ChatService) getSession(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	session, err := s.chats.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("chat session", map[string]any{"session_id": sessionID})
		}
		return nil, apperrors.MapError(err)
	}
	return session, nil
}

func (s *ChatService) publishAccepted(ctx context.Context, session *domain.ChatSession) {
	agentID := ""
	agentName := ""
	if session.AgentID != nil {
		agentID = *session.AgentID
		if agent, err := s.agents.GetByID(ctx, agentID); err == nil {
			agentName = agent.Name
		}
	}
	s.publishEvent(ctx, events.Event{
		Type:      events.EventChatAccepted,
		SessionID: session.ID,
		Actor:     agentActor(agentID),
		Payload: events.ChatAcceptedPayload{
			AgentID:   agentID,
			AgentName: agentName,
			TeamID:    session.TeamID,
		},
	})
}

func (s *ChatService) publishEvent(ctx context.Context, event events.Event) {
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

func participantActor(userID *string, agent *domain.Agent) events.Actor {
	if agent != nil {
		return agentActor(agent.ID)
	}
	if userID != nil {
		return userActor(*userID)
	}
	return events.Actor{Type: domain.SubjectTypeUser}
}

func shortToken(token string) string {
	if len(token) > 8 {
		return token[:8]
	}
	return token
}
