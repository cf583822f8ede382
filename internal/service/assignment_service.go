package service

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/presence"
	"github.com/spec-kit/support-desk/internal/repository"
	apperrors "github.com/spec-kit/support-desk/pkg/util"
)

// categoryTeams is the static routing table from ticket category to team
// slug. Unknown categories fall through to the generic support team.
var categoryTeams = map[domain.TicketCategory]string{
	domain.CategoryBilling:   "billing",
	domain.CategoryTechnical: "technical-support",
	domain.CategoryAccount:   "account-management",
	domain.CategorySales:     "sales",
	domain.CategoryGeneral:   "general-support",
}

const fallbackTeamSlug = "general-support"

// AssignmentService resolves teams from categories and picks the
// least-loaded available agent. Assignment is best-effort: when nobody has
// capacity, tickets stay team-assigned and chats stay queued.
type AssignmentService struct {
	teams   repository.TeamRepository
	agents  repository.AgentRepository
	tracker *presence.Tracker
	logger  *zap.Logger
}

// AssignmentDependencies bundles collaborators.
type AssignmentDependencies struct {
	TeamRepo  repository.TeamRepository
	AgentRepo repository.AgentRepository
	Tracker   *presence.Tracker
	Logger    *zap.Logger
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentService{
		teams:   deps.TeamRepo,
		agents:  deps.AgentRepo,
		tracker: deps.Tracker,
		logger:  logger,
	}
}

// ResolveTeam maps a ticket category to its active team, falling back to
// the generic support team when the mapped one is missing or inactive.
func (s *AssignmentService) ResolveTeam(ctx context.Context, category domain.TicketCategory) (*domain.Team, error) {
	slug, ok := categoryTeams[category]
	if !ok {
		slug = fallbackTeamSlug
	}

	team, err := s.teams.GetBySlug(ctx, slug)
	if err == nil && team.IsActive {
		return team, nil
	}
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if slug == fallbackTeamSlug {
		return nil, apperrors.NewNotFound("team", map[string]any{"slug": slug})
	}

	fallback, err := s.teams.GetBySlug(ctx, fallbackTeamSlug)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("team", map[string]any{"slug": fallbackTeamSlug})
		}
		return nil, err
	}
	return fallback, nil
}

// SelectAgent returns the online member of the team with the smallest
// current load and spare capacity. teamID "" means any team.
func (s *AssignmentService) SelectAgent(teamID string) (string, bool) {
	available := s.tracker.ListAvailable(teamID)
	if len(available) == 0 {
		return "", false
	}
	return available[0].MemberID, true
}

// ValidateAgent checks an explicitly requested assignee: the agent must
// exist, be active and belong to the resolved team (when one is set).
func (s *AssignmentService) ValidateAgent(ctx context.Context, agentID, teamID string) (*domain.Agent, error) {
	agent, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("agent", map[string]any{"agent_id": agentID})
		}
		return nil, apperrors.MapError(err)
	}
	if !agent.Active {
		return nil, apperrors.NewConflict("agent inactive", map[string]any{"agent_id": agentID})
	}
	if teamID != "" && (agent.TeamID == nil || *agent.TeamID != teamID) {
		return nil, apperrors.NewForbidden("agent outside resolved team")
	}
	return agent, nil
}

// ResolveExplicitTeam validates an explicitly requested team id.
func (s *AssignmentService) ResolveExplicitTeam(ctx context.Context, teamID string) (*domain.Team, error) {
	team, err := s.teams.GetByID(ctx, teamID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("team", map[string]any{"team_id": teamID})
		}
		return nil, apperrors.MapError(err)
	}
	if !team.IsActive {
		return nil, apperrors.NewConflict("team inactive", map[string]any{"team_id": teamID})
	}
	return team, nil
}

// AutoAssign fills in the ticket's team (from its category) and, when
// somebody is available, the least-loaded agent. Never fails just because
// nobody has capacity.
func (s *AssignmentService) AutoAssign(ctx context.Context, ticket *domain.Ticket) error {
	if ticket.TeamID == nil {
		team, err := s.ResolveTeam(ctx, ticket.Category)
		if err != nil {
			return err
		}
		ticket.TeamID = &team.ID
	}
	if ticket.AssigneeID == nil {
		if agentID, ok := s.SelectAgent(*ticket.TeamID); ok {
			ticket.AssigneeID = &agentID
		} else {
			s.logger.Debug("no agent available for ticket",
				zap.String("team_id", *ticket.TeamID),
				zap.String("ticket", ticket.Number))
		}
	}
	return nil
}
