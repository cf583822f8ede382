package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-desk/internal/api/dto"
	"github.com/spec-kit/support-desk/internal/auth"
	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/service"
	"github.com/spec-kit/support-desk/internal/ws"
	apperrors "github.com/spec-kit/support-desk/pkg/util"
)

// ChatHandler manages live-chat REST endpoints for both sides of the queue.
type ChatHandler struct {
	service *service.ChatService
	hub     *ws.Hub
}

// NewChatHandler constructs handler.
func NewChatHandler(chatService *service.ChatService, hub *ws.Hub) *ChatHandler {
	return &ChatHandler{service: chatService, hub: hub}
}

// StartChat POST /api/chats.
func (h *ChatHandler) StartChat(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.User == nil {
		return apperrors.NewUnauthorized("customer required")
	}
	var req dto.StartChatRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	session, err := h.service.CreateSession(c.UserContext(), principal.User.ID, req.Category)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": chatSessionResponse(session)})
}

// GetSession GET /api/chats/:id.
func (h *ChatHandler) GetSession(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	session, err := h.service.GetSessionFor(c.UserContext(), principal.UserID(), principal.Agent, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": chatSessionResponse(session)})
}

// ListMessages GET /api/chats/:id/messages.
func (h *ChatHandler) ListMessages(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	msgs, err := h.service.GetTranscript(c.UserContext(), principal.UserID(), principal.Agent, c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.ChatMessageResponse, 0, len(msgs))
	for i := range msgs {
		items = append(items, chatMessageResponse(&msgs[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// SendMessage POST /api/chats/:id/messages.
func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.ChatMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	msg, err := h.service.SendMessage(c.UserContext(), principal.UserID(), principal.Agent, c.Params("id"), req.Body)
	if err != nil {
		return err
	}

	out := chatMessageResponse(msg)
	h.hub.BroadcastToSession(msg.SessionID, ws.NewOutbound(ws.EventNewMessage, ws.ChatMessagePayload{
		MessageID:  msg.ID,
		SessionID:  msg.SessionID,
		SenderID:   msg.SenderID,
		SenderType: string(msg.SenderType),
		Body:       msg.Body,
		CreatedAt:  msg.CreatedAt,
	}), nil)
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": out})
}

// AcceptChat POST /api/chats/:id/accept.
func (h *ChatHandler) AcceptChat(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Agent == nil {
		return apperrors.NewUnauthorized("agent required")
	}
	session, err := h.service.AcceptChat(c.UserContext(), principal.Agent, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": chatSessionResponse(session)})
}

// EndChat POST /api/chats/:id/end.
func (h *ChatHandler) EndChat(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	// Body is optional; ending without it just closes the session.
	var req dto.EndChatRequest
	_ = c.BodyParser(&req)
	session, err := h.service.EndChat(c.UserContext(), principal.UserID(), principal.Agent, c.Params("id"), service.EndChatOptions{
		CreateTicket:  req.CreateTicket,
		TicketSubject: req.TicketSubject,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": chatSessionResponse(session)})
}

// ListQueue GET /api/agent/chats/queue.
func (h *ChatHandler) ListQueue(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Agent == nil {
		return apperrors.NewUnauthorized("agent required")
	}
	var teamID *string
	if id := c.Query("team_id"); id != "" {
		teamID = &id
	}
	sessions, err := h.service.ListQueue(c.UserContext(), principal.Agent, teamID)
	if err != nil {
		return err
	}
	items := make([]dto.ChatSessionResponse, 0, len(sessions))
	for i := range sessions {
		items = append(items, chatSessionResponse(&sessions[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// QueueStats GET /api/agent/chats/stats.
func (h *ChatHandler) QueueStats(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Agent == nil {
		return apperrors.NewUnauthorized("agent required")
	}
	var teamID *string
	if id := c.Query("team_id"); id != "" {
		teamID = &id
	} else if !principal.Agent.Role.IsAdmin() {
		teamID = principal.Agent.TeamID
	}
	stats, err := h.service.GetQueueStats(c.UserContext(), teamID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.QueueStatsResponse{
		Waiting:      stats.Waiting,
		Active:       stats.Active,
		OnlineAgents: stats.OnlineAgents,
	}})
}

// UpdateStatus PUT /api/agent/status.
func (h *ChatHandler) UpdateStatus(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Agent == nil {
		return apperrors.NewUnauthorized("agent required")
	}
	var req dto.AgentStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	state, err := h.service.UpdateAgentStatus(c.UserContext(), principal.Agent, req.Status, req.MaxChats)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.AgentStatusResponse{
		AgentID:     state.MemberID,
		Status:      state.Status,
		CurrentLoad: state.CurrentLoad,
		MaxLoad:     state.MaxLoad,
	}})
}

// ConnectionStats GET /api/agent/realtime/stats.
func (h *ChatHandler) ConnectionStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.hub.Stats()})
}

func chatSessionResponse(session *domain.ChatSession) dto.ChatSessionResponse {
	return dto.ChatSessionResponse{
		ID:            session.ID,
		Token:         session.Token,
		CustomerID:    session.CustomerID,
		TeamID:        session.TeamID,
		AgentID:       session.AgentID,
		Status:        session.Status,
		QueuePosition: session.QueuePosition,
		TicketID:      session.TicketID,
		StartedAt:     session.StartedAt,
		AcceptedAt:    session.AcceptedAt,
		EndedAt:       session.EndedAt,
	}
}

func chatMessageResponse(msg *domain.ChatMessage) dto.ChatMessageResponse {
	return dto.ChatMessageResponse{
		ID:         msg.ID,
		SessionID:  msg.SessionID,
		SenderID:   msg.SenderID,
		SenderType: msg.SenderType,
		Body:       msg.Body,
		CreatedAt:  msg.CreatedAt,
	}
}
