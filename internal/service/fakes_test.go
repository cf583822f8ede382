package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/repository"
)

// In-memory repository fakes. They mirror the storage contracts the services
// rely on, including pgx.ErrNoRows signalling and the conditional claim.

type fakeTicketRepo struct {
	mu      sync.Mutex
	seq     int
	tickets map[string]*domain.Ticket
}

func newFakeTicketRepo() *fakeTicketRepo {
	return &fakeTicketRepo{tickets: make(map[string]*domain.Ticket)}
}

func (r *fakeTicketRepo) Create(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	ticket.ID = fmt.Sprintf("ticket-%d", r.seq)
	ticket.CreatedAt = time.Now()
	ticket.UpdatedAt = ticket.CreatedAt
	copied := *ticket
	r.tickets[ticket.ID] = &copied
	return nil
}

func (r *fakeTicketRepo) Update(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tickets[ticket.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	breached := stored.SLABreached || ticket.SLABreached
	copied := *ticket
	copied.SLABreached = breached
	copied.UpdatedAt = time.Now()
	r.tickets[ticket.ID] = &copied
	ticket.SLABreached = breached
	return nil
}

func (r *fakeTicketRepo) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *stored
	return &copied, nil
}

func (r *fakeTicketRepo) GetByNumber(_ context.Context, number string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stored := range r.tickets {
		if stored.Number == number {
			copied := *stored
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeTicketRepo) ListWithFilter(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Ticket
	for _, stored := range r.tickets {
		if filter.RequesterID != nil && stored.RequesterID != *filter.RequesterID {
			continue
		}
		if filter.TeamID != nil && (stored.TeamID == nil || *stored.TeamID != *filter.TeamID) {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, stored.Status) {
			continue
		}
		result = append(result, *stored)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *fakeTicketRepo) ListEscalatable(_ context.Context, now time.Time) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Ticket
	for _, stored := range r.tickets {
		if stored.SLABreached {
			continue
		}
		if stored.Status != domain.TicketStatusOpen && stored.Status != domain.TicketStatusInProgress {
			continue
		}
		missedFirst := stored.SLAFirstResponseDue != nil && stored.FirstResponseAt == nil && stored.SLAFirstResponseDue.Before(now)
		missedResolution := stored.SLAResolutionDue != nil && stored.SLAResolutionDue.Before(now)
		if missedFirst || missedResolution {
			result = append(result, *stored)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *fakeTicketRepo) MarkBreached(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tickets[id]
	if !ok || stored.SLABreached {
		return false, nil
	}
	stored.SLABreached = true
	return true, nil
}

func (r *fakeTicketRepo) Metrics(_ context.Context) (*repository.SLAMetrics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := &repository.SLAMetrics{}
	for _, stored := range r.tickets {
		m.TotalTickets++
		switch stored.Status {
		case domain.TicketStatusResolved, domain.TicketStatusClosed:
			m.ResolvedTickets++
		default:
			m.OpenTickets++
		}
		if stored.SLABreached {
			m.BreachedTickets++
		}
		if stored.FirstResponseAt != nil {
			m.RespondedTotal++
			if stored.SLAFirstResponseDue != nil && !stored.FirstResponseAt.After(*stored.SLAFirstResponseDue) {
				m.RespondedInSLA++
			}
		}
	}
	return m, nil
}

func containsStatus(statuses []domain.TicketStatus, status domain.TicketStatus) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}

type fakeMessageRepo struct {
	mu       sync.Mutex
	seq      int
	messages map[string][]domain.TicketMessage
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{messages: make(map[string][]domain.TicketMessage)}
}

func (r *fakeMessageRepo) Create(_ context.Context, msg *domain.TicketMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	msg.ID = fmt.Sprintf("msg-%d", r.seq)
	msg.CreatedAt = time.Now()
	r.messages[msg.TicketID] = append(r.messages[msg.TicketID], *msg)
	return nil
}

func (r *fakeMessageRepo) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.TicketMessage(nil), r.messages[ticketID]...), nil
}

type fakePolicyRepo struct {
	policies map[domain.TicketPriority]domain.SLAPolicy
}

func newFakePolicyRepo() *fakePolicyRepo {
	return &fakePolicyRepo{policies: map[domain.TicketPriority]domain.SLAPolicy{
		domain.TicketPriorityLow:    {Priority: domain.TicketPriorityLow, FirstResponseMinutes: 480, ResolutionMinutes: 4320},
		domain.TicketPriorityMedium: {Priority: domain.TicketPriorityMedium, FirstResponseMinutes: 240, ResolutionMinutes: 2880},
		domain.TicketPriorityHigh:   {Priority: domain.TicketPriorityHigh, FirstResponseMinutes: 60, ResolutionMinutes: 1440},
		domain.TicketPriorityUrgent: {Priority: domain.TicketPriorityUrgent, FirstResponseMinutes: 15, ResolutionMinutes: 240},
	}}
}

func (r *fakePolicyRepo) GetByPriority(_ context.Context, priority domain.TicketPriority) (*domain.SLAPolicy, error) {
	policy, ok := r.policies[priority]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &policy, nil
}

func (r *fakePolicyRepo) List(_ context.Context) ([]domain.SLAPolicy, error) {
	var result []domain.SLAPolicy
	for _, policy := range r.policies {
		result = append(result, policy)
	}
	return result, nil
}

type fakeSequence struct {
	mu   sync.Mutex
	next int64
}

func (s *fakeSequence) Next(_ context.Context, _ int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return s.next, nil
}

type fakeTeamRepo struct {
	bySlug map[string]*domain.Team
	byID   map[string]*domain.Team
}

func newFakeTeamRepo(teams ...domain.Team) *fakeTeamRepo {
	repo := &fakeTeamRepo{
		bySlug: make(map[string]*domain.Team),
		byID:   make(map[string]*domain.Team),
	}
	for i := range teams {
		team := teams[i]
		repo.bySlug[team.Slug] = &team
		repo.byID[team.ID] = &team
	}
	return repo
}

func (r *fakeTeamRepo) GetByID(_ context.Context, id string) (*domain.Team, error) {
	team, ok := r.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *team
	return &copied, nil
}

func (r *fakeTeamRepo) GetBySlug(_ context.Context, slug string) (*domain.Team, error) {
	team, ok := r.bySlug[slug]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *team
	return &copied, nil
}

func (r *fakeTeamRepo) ListActive(_ context.Context) ([]domain.Team, error) {
	var result []domain.Team
	for _, team := range r.byID {
		if team.IsActive {
			result = append(result, *team)
		}
	}
	return result, nil
}

type fakeAgentRepo struct {
	mu     sync.Mutex
	agents map[string]*domain.Agent
}

func newFakeAgentRepo(agents ...domain.Agent) *fakeAgentRepo {
	repo := &fakeAgentRepo{agents: make(map[string]*domain.Agent)}
	for i := range agents {
		agent := agents[i]
		repo.agents[agent.ID] = &agent
	}
	return repo
}

func (r *fakeAgentRepo) Create(_ context.Context, agent *domain.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[agent.ID] = agent
	return nil
}

func (r *fakeAgentRepo) Update(_ context.Context, agent *domain.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[agent.ID]; !ok {
		return pgx.ErrNoRows
	}
	r.agents[agent.ID] = agent
	return nil
}

func (r *fakeAgentRepo) GetByID(_ context.Context, id string) (*domain.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *agent
	return &copied, nil
}

func (r *fakeAgentRepo) GetByEmail(_ context.Context, email string) (*domain.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, agent := range r.agents {
		if agent.Email == email {
			copied := *agent
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeAgentRepo) ListByTeam(_ context.Context, teamID string, activeOnly bool) ([]domain.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Agent
	for _, agent := range r.agents {
		if agent.TeamID == nil || *agent.TeamID != teamID {
			continue
		}
		if activeOnly && !agent.Active {
			continue
		}
		result = append(result, *agent)
	}
	return result, nil
}

// fakeChatRepo reproduces the transactional claim semantics: exactly one
// concurrent Claim wins, positions stay contiguous per team.
type fakeChatRepo struct {
	mu       sync.Mutex
	seq      int
	sessions map[string]*domain.ChatSession
	messages map[string][]domain.ChatMessage
}

func newFakeChatRepo() *fakeChatRepo {
	return &fakeChatRepo{
		sessions: make(map[string]*domain.ChatSession),
		messages: make(map[string][]domain.ChatMessage),
	}
}

func (r *fakeChatRepo) CreateSession(_ context.Context, session *domain.ChatSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	session.ID = fmt.Sprintf("chat-%d", r.seq)
	session.StartedAt = time.Now()
	session.UpdatedAt = session.StartedAt
	// Position is assigned under the same lock as claim/end renumbering,
	// mirroring the advisory-locked insert.
	position := 1
	for _, stored := range r.sessions {
		if stored.Status == domain.ChatStatusWaiting && sameTeam(stored.TeamID, session.TeamID) {
			position++
		}
	}
	session.QueuePosition = &position
	copied := *session
	r.sessions[session.ID] = &copied
	return nil
}

func (r *fakeChatRepo) GetByID(_ context.Context, id string) (*domain.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.sessions[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *stored
	return &copied, nil
}

func (r *fakeChatRepo) GetByToken(_ context.Context, token string) (*domain.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stored := range r.sessions {
		if stored.Token == token {
			copied := *stored
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeChatRepo) Claim(_ context.Context, sessionID, agentID string, acceptedAt time.Time) (*domain.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.sessions[sessionID]
	if !ok || stored.Status != domain.ChatStatusWaiting {
		return nil, pgx.ErrNoRows
	}
	claimedPos := stored.QueuePosition
	stored.Status = domain.ChatStatusActive
	stored.AgentID = &agentID
	stored.AcceptedAt = &acceptedAt
	stored.QueuePosition = nil
	stored.UpdatedAt = time.Now()
	if claimedPos != nil {
		r.renumberLocked(stored.TeamID, *claimedPos)
	}
	copied := *stored
	return &copied, nil
}

func (r *fakeChatRepo) End(_ context.Context, sessionID string, endedAt time.Time) (*domain.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.sessions[sessionID]
	if !ok || stored.Status == domain.ChatStatusEnded {
		return nil, pgx.ErrNoRows
	}
	waitingPos := stored.QueuePosition
	stored.Status = domain.ChatStatusEnded
	stored.EndedAt = &endedAt
	stored.QueuePosition = nil
	stored.UpdatedAt = time.Now()
	if waitingPos != nil {
		r.renumberLocked(stored.TeamID, *waitingPos)
	}
	copied := *stored
	return &copied, nil
}

func (r *fakeChatRepo) renumberLocked(teamID *string, removedPos int) {
	for _, other := range r.sessions {
		if other.Status != domain.ChatStatusWaiting || other.QueuePosition == nil {
			continue
		}
		if !sameTeam(other.TeamID, teamID) {
			continue
		}
		if *other.QueuePosition > removedPos {
			pos := *other.QueuePosition - 1
			other.QueuePosition = &pos
		}
	}
}

func sameTeam(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r *fakeChatRepo) LinkTicket(_ context.Context, sessionID, ticketID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.sessions[sessionID]
	if !ok {
		return pgx.ErrNoRows
	}
	stored.TicketID = &ticketID
	return nil
}

func (r *fakeChatRepo) CountWaiting(_ context.Context, teamID *string) (int, error) {
	return r.countByStatus(domain.ChatStatusWaiting, teamID), nil
}

func (r *fakeChatRepo) CountActive(_ context.Context, teamID *string) (int, error) {
	return r.countByStatus(domain.ChatStatusActive, teamID), nil
}

func (r *fakeChatRepo) countByStatus(status domain.ChatStatus, teamID *string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, stored := range r.sessions {
		if stored.Status != status {
			continue
		}
		if teamID != nil && !sameTeam(stored.TeamID, teamID) {
			continue
		}
		count++
	}
	return count
}

func (r *fakeChatRepo) ListWaiting(_ context.Context, teamID *string) ([]domain.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.ChatSession
	for _, stored := range r.sessions {
		if stored.Status != domain.ChatStatusWaiting {
			continue
		}
		if !sameTeam(stored.TeamID, teamID) {
			continue
		}
		result = append(result, *stored)
	}
	sort.Slice(result, func(i, j int) bool {
		return *result[i].QueuePosition < *result[j].QueuePosition
	})
	return result, nil
}

func (r *fakeChatRepo) AddMessage(_ context.Context, msg *domain.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	msg.ID = fmt.Sprintf("cmsg-%d", r.seq)
	msg.CreatedAt = time.Now()
	r.messages[msg.SessionID] = append(r.messages[msg.SessionID], *msg)
	return nil
}

func (r *fakeChatRepo) ListMessages(_ context.Context, sessionID string, limit int) ([]domain.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := append([]domain.ChatMessage(nil), r.messages[sessionID]...)
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}
