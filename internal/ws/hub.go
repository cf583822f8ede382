package ws

import (
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/support-desk/internal/domain"
)

// Hub is the connection registry. It tracks every open socket and which
// session rooms each one has joined, so REST-triggered transitions and
// socket-originated messages both reach the right participants.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	rooms    map[string]map[*Client]struct{}
	byClient map[*Client]map[string]struct{}
	logger   *zap.Logger
}

// HubStats is a point-in-time connection snapshot.
type HubStats struct {
	Connections int `json:"connections"`
	Customers   int `json:"customers"`
	Agents      int `json:"agents"`
	Rooms       int `json:"rooms"`
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:  make(map[*Client]struct{}),
		rooms:    make(map[string]map[*Client]struct{}),
		byClient: make(map[*Client]map[string]struct{}),
		logger:   logger,
	}
}

// Register adds a freshly upgraded connection.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = struct{}{}
}

// Unregister removes a connection and clears its room memberships.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	for sessionID := range h.byClient[client] {
		h.leaveLocked(client, sessionID)
	}
	delete(h.byClient, client)
	client.markClosed()
	close(client.send)
}

// Join subscribes a connection to a session room.
func (h *Hub) Join(client *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[sessionID] = room
	}
	room[client] = struct{}{}

	joined, ok := h.byClient[client]
	if !ok {
		joined = make(map[string]struct{})
		h.byClient[client] = joined
	}
	joined[sessionID] = struct{}{}
}

// Leave unsubscribes a connection from a session room.
func (h *Hub) Leave(client *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(client, sessionID)
	delete(h.byClient[client], sessionID)
}

func (h *Hub) leaveLocked(client *Client, sessionID string) {
	room, ok := h.rooms[sessionID]
	if !ok {
		return
	}
	delete(room, client)
	if len(room) == 0 {
		delete(h.rooms, sessionID)
	}
}

// BroadcastToSession delivers a frame to every room member except exclude
// (pass nil to reach everyone). Slow consumers are disconnected rather than
// allowed to stall the fan-out.
func (h *Hub) BroadcastToSession(sessionID string, msg OutboundMessage, exclude *Client) {
	frame := msg.Encode()

	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[sessionID]))
	for client := range h.rooms[sessionID] {
		if client == exclude {
			continue
		}
		members = append(members, client)
	}
	h.mu.RUnlock()

	for _, client := range members {
		if !client.enqueue(frame) {
			h.logger.Warn("dropping slow websocket consumer",
				zap.String("session_id", sessionID))
			client.closeSlow()
		}
	}
}

// Send delivers a frame to one connection.
func (h *Hub) Send(client *Client, msg OutboundMessage) {
	if !client.enqueue(msg.Encode()) {
		client.closeSlow()
	}
}

// Stats snapshots current connection counts.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := HubStats{
		Connections: len(h.clients),
		Rooms:       len(h.rooms),
	}
	for client := range h.clients {
		switch client.principal.SubjectType {
		case domain.SubjectTypeUser:
			stats.Customers++
		case domain.SubjectTypeAgent:
			stats.Agents++
		}
	}
	return stats
}
