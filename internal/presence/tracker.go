package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/spec-kit/support-desk/internal/domain"
)

// Tracker maintains the realtime availability and chat load of all agents.
// All mutation happens under one mutex so CurrentLoad can never escape the
// 0..MaxLoad range, no matter how many goroutines adjust it.
type Tracker struct {
	mu     sync.RWMutex
	agents map[string]*domain.AgentPresence
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		agents: make(map[string]*domain.AgentPresence),
	}
}

// SetStatus updates an agent's availability. maxLoad <= 0 leaves the
// current capacity unchanged. Online/offline transitions stamp
// WentOnlineAt/WentOfflineAt.
func (t *Tracker) SetStatus(memberID string, teamID *string, status domain.PresenceStatus, maxLoad int) domain.AgentPresence {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	entry, ok := t.agents[memberID]
	if !ok {
		entry = &domain.AgentPresence{
			MemberID: memberID,
			Status:   domain.PresenceOffline,
		}
		t.agents[memberID] = entry
	}

	if teamID != nil {
		entry.TeamID = teamID
	}
	if maxLoad > 0 {
		entry.MaxLoad = maxLoad
		if entry.CurrentLoad > entry.MaxLoad {
			entry.CurrentLoad = entry.MaxLoad
		}
	}
	if entry.Status != status {
		switch status {
		case domain.PresenceOnline:
			entry.WentOnlineAt = &now
		case domain.PresenceOffline:
			entry.WentOfflineAt = &now
		}
	}
	entry.Status = status
	entry.LastSeen = now
	return *entry
}

// IncrementLoad claims one unit of capacity. It fails when the agent is
// unknown, offline, or already at MaxLoad; callers must treat a false
// return as "no capacity" and pick someone else.
func (t *Tracker) IncrementLoad(memberID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.agents[memberID]
	if !ok || entry.Status != domain.PresenceOnline {
		return false
	}
	if entry.CurrentLoad >= entry.MaxLoad {
		return false
	}
	entry.CurrentLoad++
	entry.LastSeen = time.Now()
	return true
}

// DecrementLoad releases one unit of capacity, flooring at zero.
func (t *Tracker) DecrementLoad(memberID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.agents[memberID]
	if !ok {
		return
	}
	if entry.CurrentLoad > 0 {
		entry.CurrentLoad--
	}
	entry.LastSeen = time.Now()
}

// Touch refreshes an agent's LastSeen without changing anything else.
func (t *Tracker) Touch(memberID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.agents[memberID]; ok {
		entry.LastSeen = time.Now()
	}
}

// Get returns a copy of one agent's presence.
func (t *Tracker) Get(memberID string) (domain.AgentPresence, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.agents[memberID]
	if !ok {
		return domain.AgentPresence{}, false
	}
	return *entry, true
}

// ListAvailable returns online agents with spare capacity, ordered by
// CurrentLoad ascending (member id breaks ties for stable order). An empty
// teamID matches agents of any team.
func (t *Tracker) ListAvailable(teamID string) []domain.AgentPresence {
	t.mu.RLock()
	defer t.mu.RUnlock()

	available := make([]domain.AgentPresence, 0)
	for _, entry := range t.agents {
		if entry.Status != domain.PresenceOnline || entry.CurrentLoad >= entry.MaxLoad {
			continue
		}
		if teamID != "" && (entry.TeamID == nil || *entry.TeamID != teamID) {
			continue
		}
		available = append(available, *entry)
	}
	sort.Slice(available, func(i, j int) bool {
		if available[i].CurrentLoad != available[j].CurrentLoad {
			return available[i].CurrentLoad < available[j].CurrentLoad
		}
		return available[i].MemberID < available[j].MemberID
	})
	return available
}

// CountOnline returns the number of online agents, optionally scoped to a team.
func (t *Tracker) CountOnline(teamID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, entry := range t.agents {
		if entry.Status != domain.PresenceOnline {
			continue
		}
		if teamID != "" && (entry.TeamID == nil || *entry.TeamID != teamID) {
			continue
		}
		count++
	}
	return count
}
