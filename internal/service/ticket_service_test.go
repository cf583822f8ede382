package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/events"
	"github.com/spec-kit/support-desk/internal/presence"
	apperrors "github.com/spec-kit/support-desk/pkg/util"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type ticketEnv struct {
	svc      *TicketService
	tickets  *fakeTicketRepo
	messages *fakeMessageRepo
	policies *fakePolicyRepo
	tracker  *presence.Tracker
	clock    *fakeClock
}

func strPtr(s string) *string { return &s }

func newTicketEnv(t *testing.T) *ticketEnv {
	t.Helper()

	billing := domain.Team{ID: "team-billing", Slug: "billing", Name: "Billing", IsActive: true}
	general := domain.Team{ID: "team-general", Slug: "general-support", Name: "General Support", IsActive: true}
	teams := newFakeTeamRepo(billing, general)

	agents := newFakeAgentRepo(
		domain.Agent{ID: "agent-1", Name: "Dana", Email: "dana@example.com", Role: domain.RoleAgent, TeamID: strPtr("team-billing"), Active: true, MaxChats: 3},
		domain.Agent{ID: "agent-2", Name: "Eli", Email: "eli@example.com", Role: domain.RoleAgent, TeamID: strPtr("team-billing"), Active: true, MaxChats: 3},
	)

	tracker := presence.NewTracker()
	assigner := NewAssignmentService(AssignmentDependencies{
		TeamRepo:  teams,
		AgentRepo: agents,
		Tracker:   tracker,
	})

	tickets := newFakeTicketRepo()
	messages := newFakeMessageRepo()
	policies := newFakePolicyRepo()
	clock := newFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))

	svc := NewTicketService(TicketDependencies{
		TicketRepo:  tickets,
		MessageRepo: messages,
		PolicyRepo:  policies,
		Sequence:    &fakeSequence{},
		Assigner:    assigner,
		Dispatcher:  events.NewInMemoryDispatcher(),
		Clock:       clock.Now,
	})

	return &ticketEnv{svc: svc, tickets: tickets, messages: messages, policies: policies, tracker: tracker, clock: clock}
}

func TestCreateTicketNumberAndDeadlines(t *testing.T) {
	env := newTicketEnv(t)
	ctx := context.Background()

	ticket, err := env.svc.Create(ctx, "user-1", TicketCreateInput{
		Category: domain.CategoryBilling,
		Subject:  "Double charge",
		Priority: domain.TicketPriorityUrgent,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	wantNumber := fmt.Sprintf("TKT-%d-00001", env.clock.Now().Year())
	if ticket.Number != wantNumber {
		t.Errorf("number = %q, want %q", ticket.Number, wantNumber)
	}
	if ticket.Status != domain.TicketStatusOpen {
		t.Errorf("status = %q, want open", ticket.Status)
	}
	if ticket.SLAFirstResponseDue == nil || ticket.SLAResolutionDue == nil {
		t.Fatal("expected both SLA deadlines to be set")
	}
	wantFirst := env.clock.Now().Add(15 * time.Minute)
	if !ticket.SLAFirstResponseDue.Equal(wantFirst) {
		t.Errorf("first response due = %v, want %v", ticket.SLAFirstResponseDue, wantFirst)
	}
	if !ticket.SLAFirstResponseDue.Before(*ticket.SLAResolutionDue) {
		t.Error("first response deadline should precede resolution deadline")
	}
	if ticket.TeamID == nil || *ticket.TeamID != "team-billing" {
		t.Errorf("team = %v, want team-billing", ticket.TeamID)
	}

	second, err := env.svc.Create(ctx, "user-1", TicketCreateInput{
		Category: domain.CategoryBilling,
		Subject:  "Another one",
	})
	if err != nil {
		t.Fatalf("Create second: %v", err)
	}
	if second.Number == ticket.Number {
		t.Error("ticket numbers must be unique")
	}
}

func TestCreateTicketMissingPolicyFailsOpen(t *testing.T) {
	env := newTicketEnv(t)
	delete(env.policies.policies, domain.TicketPriorityHigh)

	ticket, err := env.svc.Create(context.Background(), "user-1", TicketCreateInput{
		Category: domain.CategoryGeneral,
		Subject:  "No policy configured",
		Priority: domain.TicketPriorityHigh,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ticket.SLAFirstResponseDue != nil || ticket.SLAResolutionDue != nil {
		t.Error("expected nil deadlines when no policy exists")
	}
}

func TestCreateTicketUnknownCategoryFallsBack(t *testing.T) {
	env := newTicketEnv(t)

	ticket, err := env.svc.Create(context.Background(), "user-1", TicketCreateInput{
		Category: domain.TicketCategory("mystery"),
		Subject:  "What team handles this",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ticket.TeamID == nil || *ticket.TeamID != "team-general" {
		t.Errorf("team = %v, want general fallback", ticket.TeamID)
	}
}

func TestCreateTicketAssignsLeastLoadedAgent(t *testing.T) {
	env := newTicketEnv(t)
	env.tracker.SetStatus("agent-1", strPtr("team-billing"), domain.PresenceOnline, 3)
	env.tracker.SetStatus("agent-2", strPtr("team-billing"), domain.PresenceOnline, 3)
	env.tracker.IncrementLoad("agent-1")

	ticket, err := env.svc.Create(context.Background(), "user-1", TicketCreateInput{
		Category: domain.CategoryBilling,
		Subject:  "Assign me",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ticket.AssigneeID == nil || *ticket.AssigneeID != "agent-2" {
		t.Errorf("assignee = %v, want least-loaded agent-2", ticket.AssigneeID)
	}
}

func TestAddMessageStampsFirstResponseOnce(t *testing.T) {
	env := newTicketEnv(t)
	ctx := context.Background()

	ticket, err := env.svc.Create(ctx, "user-1", TicketCreateInput{
		Category: domain.CategoryBilling,
		Subject:  "Need help",
		Priority: domain.TicketPriorityUrgent,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	agent := &domain.Agent{ID: "agent-1", Role: domain.RoleAgent, TeamID: strPtr("team-billing")}
	env.clock.Advance(5 * time.Minute)
	agentID := agent.ID
	if _, err := env.svc.AddMessage(ctx, domain.SenderAgent, &agentID, agent, ticket.ID, "On it", false); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	stored, _ := env.tickets.GetByID(ctx, ticket.ID)
	if stored.FirstResponseAt == nil {
		t.Fatal("first response not stamped")
	}
	firstResponse := *stored.FirstResponseAt
	if stored.Status != domain.TicketStatusInProgress {
		t.Errorf("status = %q, want in_progress after agent reply", stored.Status)
	}
	if stored.SLABreached {
		t.Error("reply within deadline should not breach")
	}

	env.clock.Advance(30 * time.Minute)
	if _, err := env.svc.AddMessage(ctx, domain.SenderAgent, &agentID, agent, ticket.ID, "Still on it", false); err != nil {
		t.Fatalf("AddMessage second: %v", err)
	}
	stored, _ = env.tickets.GetByID(ctx, ticket.ID)
	if !stored.FirstResponseAt.Equal(firstResponse) {
		t.Error("first_response_at must be write-once")
	}
}

func TestAddMessageLateFirstResponseBreaches(t *testing.T) {
	env := newTicketEnv(t)
	ctx := context.Background()

	ticket, err := env.svc.Create(ctx, "user-1", TicketCreateInput{
		Category: domain.CategoryBilling,
		Subject:  "Urgent issue",
		Priority: domain.TicketPriorityUrgent,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	env.clock.Advance(16 * time.Minute)
	agent := &domain.Agent{ID: "agent-1", Role: domain.RoleAgent, TeamID: strPtr("team-billing")}
	agentID := agent.ID
	if _, err := env.svc.AddMessage(ctx, domain.SenderAgent, &agentID, agent, ticket.ID, "Sorry for the delay", false); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	stored, _ := env.tickets.GetByID(ctx, ticket.ID)
	if !stored.SLABreached {
		t.Error("late first response should flag sla_breached")
	}
}

func TestCustomerReplyReturnsToInProgress(t *testing.T) {
	env := newTicketEnv(t)
	ctx := context.Background()

	ticket, err := env.svc.Create(ctx, "user-1", TicketCreateInput{
		Category: domain.CategoryBilling,
		Subject:  "Waiting on info",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	agent := &domain.Agent{ID: "agent-1", Role: domain.RoleAgent, TeamID: strPtr("team-billing")}
	agentID := agent.ID
	if _, err := env.svc.AddMessage(ctx, domain.SenderAgent, &agentID, agent, ticket.ID, "Which version?", false); err != nil {
		t.Fatalf("agent reply: %v", err)
	}
	if _, err := env.svc.UpdateStatus(ctx, agent, ticket.ID, domain.TicketStatusWaitingCustomer); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	userID := "user-1"
	if _, err := env.svc.AddMessage(ctx, domain.SenderCustomer, &userID, nil, ticket.ID, "Version 3", false); err != nil {
		t.Fatalf("customer reply: %v", err)
	}

	stored, _ := env.tickets.GetByID(ctx, ticket.ID)
	if stored.Status != domain.TicketStatusInProgress {
		t.Errorf("status = %q, want in_progress after customer reply", stored.Status)
	}
}

func TestUpdateStatusTransitions(t *testing.T) {
	env := newTicketEnv(t)
	ctx := context.Background()
	agent := &domain.Agent{ID: "agent-1", Role: domain.RoleAgent, TeamID: strPtr("team-billing")}

	ticket, err := env.svc.Create(ctx, "user-1", TicketCreateInput{
		Category: domain.CategoryBilling,
		Subject:  "Lifecycle",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := env.svc.UpdateStatus(ctx, agent, ticket.ID, domain.TicketStatusClosed); !apperrors.IsCode(err, "CONFLICT") {
		t.Errorf("open -> closed should conflict, got %v", err)
	}
	if _, err := env.svc.UpdateStatus(ctx, agent, ticket.ID, domain.TicketStatusResolved); !apperrors.IsCode(err, "CONFLICT") {
		t.Errorf("open -> resolved should conflict, got %v", err)
	}

	if _, err := env.svc.UpdateStatus(ctx, agent, ticket.ID, domain.TicketStatusInProgress); err != nil {
		t.Fatalf("pick up: %v", err)
	}
	resolved, err := env.svc.UpdateStatus(ctx, agent, ticket.ID, domain.TicketStatusResolved)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.ResolvedAt == nil {
		t.Error("resolved_at not stamped")
	}

	closed, err := env.svc.UpdateStatus(ctx, agent, ticket.ID, domain.TicketStatusClosed)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.ClosedAt == nil {
		t.Error("closed_at not stamped")
	}

	if _, err := env.svc.UpdateStatus(ctx, agent, ticket.ID, domain.TicketStatusOpen); !apperrors.IsCode(err, "CONFLICT") {
		t.Errorf("closed is terminal, got %v", err)
	}
}

func TestResolveAfterDeadlineBreaches(t *testing.T) {
	env := newTicketEnv(t)
	ctx := context.Background()
	agent := &domain.Agent{ID: "agent-1", Role: domain.RoleAgent, TeamID: strPtr("team-billing")}

	ticket, err := env.svc.Create(ctx, "user-1", TicketCreateInput{
		Category: domain.CategoryBilling,
		Subject:  "Slow resolution",
		Priority: domain.TicketPriorityUrgent,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := env.svc.UpdateStatus(ctx, agent, ticket.ID, domain.TicketStatusInProgress); err != nil {
		t.Fatalf("pick up: %v", err)
	}
	env.clock.Advance(241 * time.Minute)
	resolved, err := env.svc.UpdateStatus(ctx, agent, ticket.ID, domain.TicketStatusResolved)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !resolved.SLABreached {
		t.Error("resolving past the deadline should flag sla_breached")
	}
}

func TestCheckAndEscalateIsIdempotent(t *testing.T) {
	env := newTicketEnv(t)
	ctx := context.Background()

	ticket, err := env.svc.Create(ctx, "user-1", TicketCreateInput{
		Category: domain.CategoryBilling,
		Subject:  "Never answered",
		Priority: domain.TicketPriorityUrgent,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	env.clock.Advance(16 * time.Minute)
	escalated, err := env.svc.CheckAndEscalate(ctx)
	if err != nil {
		t.Fatalf("CheckAndEscalate: %v", err)
	}
	if escalated != 1 {
		t.Fatalf("escalated = %d, want 1", escalated)
	}

	stored, _ := env.tickets.GetByID(ctx, ticket.ID)
	if !stored.SLABreached {
		t.Error("sweep should flag the breach")
	}
	msgs, _ := env.messages.ListByTicket(ctx, ticket.ID)
	systemNotes := 0
	for _, msg := range msgs {
		if msg.SenderType == domain.SenderSystem && msg.Internal {
			systemNotes++
		}
	}
	if systemNotes != 1 {
		t.Errorf("system notes = %d, want 1", systemNotes)
	}

	again, err := env.svc.CheckAndEscalate(ctx)
	if err != nil {
		t.Fatalf("CheckAndEscalate rerun: %v", err)
	}
	if again != 0 {
		t.Errorf("rerun escalated = %d, want 0", again)
	}
}

func TestInternalNotesHiddenFromCustomer(t *testing.T) {
	env := newTicketEnv(t)
	ctx := context.Background()
	agent := &domain.Agent{ID: "agent-1", Role: domain.RoleAgent, TeamID: strPtr("team-billing")}

	ticket, err := env.svc.Create(ctx, "user-1", TicketCreateInput{
		Category: domain.CategoryBilling,
		Subject:  "Notes",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	agentID := agent.ID
	if _, err := env.svc.AddMessage(ctx, domain.SenderAgent, &agentID, agent, ticket.ID, "internal context", true); err != nil {
		t.Fatalf("internal note: %v", err)
	}
	if _, err := env.svc.AddMessage(ctx, domain.SenderAgent, &agentID, agent, ticket.ID, "public reply", false); err != nil {
		t.Fatalf("public reply: %v", err)
	}

	_, visible, err := env.svc.GetForUser(ctx, "user-1", ticket.ID)
	if err != nil {
		t.Fatalf("GetForUser: %v", err)
	}
	if len(visible) != 1 || visible[0].Body != "public reply" {
		t.Errorf("customer sees %d messages, want only the public reply", len(visible))
	}

	_, all, err := env.svc.GetForAgent(ctx, agent, ticket.ID)
	if err != nil {
		t.Fatalf("GetForAgent: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("agent sees %d messages, want 2", len(all))
	}
}

func TestGetForUserRejectsOtherCustomers(t *testing.T) {
	env := newTicketEnv(t)
	ctx := context.Background()

	ticket, err := env.svc.Create(ctx, "user-1", TicketCreateInput{
		Category: domain.CategoryBilling,
		Subject:  "Private",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, _, err := env.svc.GetForUser(ctx, "user-2", ticket.ID); !apperrors.IsCode(err, "UNAUTHORIZED") {
		t.Errorf("expected UNAUTHORIZED for foreign customer, got %v", err)
	}
}
