package service

import (
	"context"
	"testing"

	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/presence"
	apperrors "github.com/spec-kit/support-desk/pkg/util"
)

func newAssigner(teams *fakeTeamRepo, agents *fakeAgentRepo, tracker *presence.Tracker) *AssignmentService {
	return NewAssignmentService(AssignmentDependencies{
		TeamRepo:  teams,
		AgentRepo: agents,
		Tracker:   tracker,
	})
}

func TestResolveTeamRouting(t *testing.T) {
	teams := newFakeTeamRepo(
		domain.Team{ID: "t-billing", Slug: "billing", IsActive: true},
		domain.Team{ID: "t-general", Slug: "general-support", IsActive: true},
	)
	assigner := newAssigner(teams, newFakeAgentRepo(), presence.NewTracker())
	ctx := context.Background()

	team, err := assigner.ResolveTeam(ctx, domain.CategoryBilling)
	if err != nil {
		t.Fatalf("ResolveTeam: %v", err)
	}
	if team.ID != "t-billing" {
		t.Errorf("billing routed to %s", team.ID)
	}

	// Missing mapped team falls back to general support.
	team, err = assigner.ResolveTeam(ctx, domain.CategorySales)
	if err != nil {
		t.Fatalf("ResolveTeam fallback: %v", err)
	}
	if team.ID != "t-general" {
		t.Errorf("sales without a team routed to %s, want fallback", team.ID)
	}
}

func TestResolveTeamInactiveFallsBack(t *testing.T) {
	teams := newFakeTeamRepo(
		domain.Team{ID: "t-billing", Slug: "billing", IsActive: false},
		domain.Team{ID: "t-general", Slug: "general-support", IsActive: true},
	)
	assigner := newAssigner(teams, newFakeAgentRepo(), presence.NewTracker())

	team, err := assigner.ResolveTeam(context.Background(), domain.CategoryBilling)
	if err != nil {
		t.Fatalf("ResolveTeam: %v", err)
	}
	if team.ID != "t-general" {
		t.Errorf("inactive team routed to %s, want fallback", team.ID)
	}
}

func TestResolveTeamNoFallbackConfigured(t *testing.T) {
	assigner := newAssigner(newFakeTeamRepo(), newFakeAgentRepo(), presence.NewTracker())

	if _, err := assigner.ResolveTeam(context.Background(), domain.CategoryGeneral); !apperrors.IsCode(err, "NOT_FOUND") {
		t.Errorf("expected NOT_FOUND without fallback team, got %v", err)
	}
}

func TestValidateAgent(t *testing.T) {
	agents := newFakeAgentRepo(
		domain.Agent{ID: "a1", TeamID: strPtr("t1"), Active: true},
		domain.Agent{ID: "a2", TeamID: strPtr("t2"), Active: true},
		domain.Agent{ID: "a3", TeamID: strPtr("t1"), Active: false},
	)
	assigner := newAssigner(newFakeTeamRepo(), agents, presence.NewTracker())
	ctx := context.Background()

	if _, err := assigner.ValidateAgent(ctx, "a1", "t1"); err != nil {
		t.Errorf("valid agent rejected: %v", err)
	}
	if _, err := assigner.ValidateAgent(ctx, "a2", "t1"); !apperrors.IsCode(err, "FORBIDDEN") {
		t.Errorf("cross-team agent: got %v, want FORBIDDEN", err)
	}
	if _, err := assigner.ValidateAgent(ctx, "a3", "t1"); !apperrors.IsCode(err, "CONFLICT") {
		t.Errorf("inactive agent: got %v, want CONFLICT", err)
	}
	if _, err := assigner.ValidateAgent(ctx, "missing", "t1"); !apperrors.IsCode(err, "NOT_FOUND") {
		t.Errorf("missing agent: got %v, want NOT_FOUND", err)
	}
}

func TestSelectAgentPicksLeastLoaded(t *testing.T) {
	tracker := presence.NewTracker()
	assigner := newAssigner(newFakeTeamRepo(), newFakeAgentRepo(), tracker)

	if _, ok := assigner.SelectAgent("t1"); ok {
		t.Error("no agents online, expected no selection")
	}

	tracker.SetStatus("a1", strPtr("t1"), domain.PresenceOnline, 3)
	tracker.SetStatus("a2", strPtr("t1"), domain.PresenceOnline, 3)
	tracker.IncrementLoad("a1")

	selected, ok := assigner.SelectAgent("t1")
	if !ok || selected != "a2" {
		t.Errorf("selected = %q, want least-loaded a2", selected)
	}
}
