package domain

import "time"

// PresenceStatus is an agent's realtime availability.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

// AgentPresence is the ephemeral availability record for one agent.
// Invariant: 0 <= CurrentLoad <= MaxLoad.
type AgentPresence struct {
	MemberID      string
	TeamID        *string
	Status        PresenceStatus
	CurrentLoad   int
	MaxLoad       int
	LastSeen      time.Time
	WentOnlineAt  *time.Time
	WentOfflineAt *time.Time
}
