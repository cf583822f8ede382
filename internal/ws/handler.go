package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/support-desk/internal/auth"
	"github.com/spec-kit/support-desk/internal/config"
	"github.com/spec-kit/support-desk/internal/domain"
	apperrors "github.com/spec-kit/support-desk/pkg/util"
)

// ChatOperations is the slice of the chat service the socket layer drives.
type ChatOperations interface {
	SendMessage(ctx context.Context, userID *string, agent *domain.Agent, sessionID, body string) (*domain.ChatMessage, error)
	GetSessionFor(ctx context.Context, userID *string, agent *domain.Agent, sessionID string) (*domain.ChatSession, error)
	AcceptChat(ctx context.Context, agent *domain.Agent, sessionID string) (*domain.ChatSession, error)
}

// Handler owns the websocket endpoint: handshake auth, pump lifecycle and
// the inbound action dispatch.
type Handler struct {
	hub     *Hub
	chats   ChatOperations
	authMW  *auth.AuthMiddleware
	cfg     config.WebsocketConfig
	logger  *zap.Logger
	timeout time.Duration
}

// HandlerDependencies bundles collaborators for the websocket handler.
type HandlerDependencies struct {
	Hub     *Hub
	Chats   ChatOperations
	Auth    *auth.AuthMiddleware
	Config  config.WebsocketConfig
	Logger  *zap.Logger
	Timeout time.Duration
}

// NewHandler constructs the handler.
func NewHandler(deps HandlerDependencies) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Handler{
		hub:     deps.Hub,
		chats:   deps.Chats,
		authMW:  deps.Auth,
		cfg:     deps.Config,
		logger:  logger,
		timeout: timeout,
	}
}

// Upgrade gates the endpoint to websocket requests.
func (h *Handler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Serve is the upgraded-connection entrypoint. Token auth happens after the
// handshake because browsers cannot set headers on websocket requests; a bad
// token gets the 4401 close code instead of an HTTP status.
func (h *Handler) Serve() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		token := conn.Query("token")
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		principal, err := h.authMW.ResolveToken(ctx, token)
		cancel()
		if err != nil {
			deadline := time.Now().Add(h.cfg.WriteWait())
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(CloseUnauthorized, "authentication failed"), deadline)
			_ = conn.Close()
			return
		}

		client := NewClient(conn, principal, h.cfg, h.logger)
		h.hub.Register(client)
		defer h.hub.Unregister(client)

		// Optional shortcut: subscribe to an owned live session right away
		// instead of waiting for an explicit join_session frame.
		if sid := conn.Query("session"); sid != "" {
			h.autoJoin(client, sid)
		}

		go client.WritePump()
		client.ReadPump(h.dispatch)
	})
}

func (h *Handler) autoJoin(client *Client, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	principal := client.Principal()
	session, err := h.chats.GetSessionFor(ctx, principal.UserID(), principal.Agent, sessionID)
	if err != nil || session.Status == domain.ChatStatusEnded {
		return
	}
	h.hub.Join(client, session.ID)
	h.hub.Send(client, NewOutbound(EventSessionJoined, SessionPayload{SessionID: session.ID}))
}

// dispatch routes one inbound frame. Bad frames and rejected actions come
// back as error events; the connection stays open.
func (h *Handler) dispatch(client *Client, raw []byte) {
	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.sendError(client, "", "malformed frame")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	switch msg.Action {
	case ActionPing:
		h.hub.Send(client, NewOutbound(EventPong, nil))
	case ActionSendMessage:
		h.handleSendMessage(ctx, client, msg.Data)
	case ActionTypingStart:
		h.handleTyping(ctx, client, msg.Data, true)
	case ActionTypingStop:
		h.handleTyping(ctx, client, msg.Data, false)
	case ActionJoinSession:
		h.handleJoin(ctx, client, msg.Data)
	case ActionLeaveSession:
		h.handleLeave(client, msg.Data)
	case ActionAcceptChat:
		h.handleAccept(ctx, client, msg.Data)
	default:
		h.sendError(client, msg.Action, "unknown action")
	}
}

func (h *Handler) handleSendMessage(ctx context.Context, client *Client, data json.RawMessage) {
	var payload SendMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.SessionID == "" {
		h.sendError(client, ActionSendMessage, "session_id and message required")
		return
	}

	principal := client.Principal()
	msg, err := h.chats.SendMessage(ctx, principal.UserID(), principal.Agent, payload.SessionID, payload.Message)
	if err != nil {
		h.sendError(client, ActionSendMessage, apperrors.ToDomainError(err).Message)
		return
	}

	out := ChatMessagePayload{
		MessageID:  msg.ID,
		SessionID:  msg.SessionID,
		SenderID:   msg.SenderID,
		SenderType: string(msg.SenderType),
		Body:       msg.Body,
		CreatedAt:  msg.CreatedAt,
	}
	h.hub.BroadcastToSession(payload.SessionID, NewOutbound(EventNewMessage, out), client)
	h.hub.Send(client, NewOutbound(EventMessageSent, out))
}

func (h *Handler) handleTyping(ctx context.Context, client *Client, data json.RawMessage, started bool) {
	action := ActionTypingStart
	if !started {
		action = ActionTypingStop
	}

	var payload SessionPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.SessionID == "" {
		h.sendError(client, action, "session_id required")
		return
	}

	principal := client.Principal()
	session, err := h.chats.GetSessionFor(ctx, principal.UserID(), principal.Agent, payload.SessionID)
	if err != nil {
		h.sendError(client, action, apperrors.ToDomainError(err).Message)
		return
	}

	event := EventTyping
	if !started {
		event = EventTypingStopped
	}
	h.hub.BroadcastToSession(session.ID, NewOutbound(event, TypingPayload{
		SessionID:  session.ID,
		SenderID:   principalID(principal),
		SenderType: string(principal.SubjectType),
	}), client)
}

func (h *Handler) handleJoin(ctx context.Context, client *Client, data json.RawMessage) {
	var payload SessionPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.SessionID == "" {
		h.sendError(client, ActionJoinSession, "session_id required")
		return
	}

	principal := client.Principal()
	session, err := h.chats.GetSessionFor(ctx, principal.UserID(), principal.Agent, payload.SessionID)
	if err != nil {
		h.sendError(client, ActionJoinSession, apperrors.ToDomainError(err).Message)
		return
	}
	if session.Status == domain.ChatStatusEnded {
		h.sendError(client, ActionJoinSession, "chat session already ended")
		return
	}

	h.hub.Join(client, session.ID)
	h.hub.Send(client, NewOutbound(EventSessionJoined, SessionPayload{SessionID: session.ID}))
}

func (h *Handler) handleLeave(client *Client, data json.RawMessage) {
	var payload SessionPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.SessionID == "" {
		h.sendError(client, ActionLeaveSession, "session_id required")
		return
	}
	h.hub.Leave(client, payload.SessionID)
}

func (h *Handler) handleAccept(ctx context.Context, client *Client, data json.RawMessage) {
	principal := client.Principal()
	if principal.Agent == nil {
		h.sendError(client, ActionAcceptChat, "agents only")
		return
	}

	var payload SessionPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.SessionID == "" {
		h.sendError(client, ActionAcceptChat, "session_id required")
		return
	}

	session, err := h.chats.AcceptChat(ctx, principal.Agent, payload.SessionID)
	if err != nil {
		h.sendError(client, ActionAcceptChat, apperrors.ToDomainError(err).Message)
		return
	}

	h.hub.Join(client, session.ID)
	accepted := ChatAcceptedPayload{
		SessionID: session.ID,
		AgentID:   principal.Agent.ID,
		AgentName: principal.Agent.Name,
	}
	h.hub.Send(client, NewOutbound(EventChatAccepted, accepted))
	h.hub.BroadcastToSession(session.ID, NewOutbound(EventChatAccepted, accepted), client)
}

func (h *Handler) sendError(client *Client, action, message string) {
	h.hub.Send(client, NewOutbound(EventError, ErrorPayload{Action: action, Message: message}))
}

func principalID(p *auth.Principal) string {
	if p.Agent != nil {
		return p.Agent.ID
	}
	if p.User != nil {
		return p.User.ID
	}
	return ""
}
