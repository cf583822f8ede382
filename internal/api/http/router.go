package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-desk/internal/api/http/handlers"
	"github.com/spec-kit/support-desk/internal/auth"
	"github.com/spec-kit/support-desk/internal/ws"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Tickets        *handlers.TicketsHandler
	AgentTickets   *handlers.AgentTicketsHandler
	Chat           *handlers.ChatHandler
	Realtime       *ws.Handler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/users/register", cfg.Auth.Register)
	authGroup.Post("/users/login", cfg.Auth.LoginUser)
	authGroup.Post("/agents/login", cfg.Auth.LoginAgent)

	api := app.Group("/api", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())

	tickets := api.Group("/tickets", auth.RequireUser())
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Post("/:id/messages", cfg.Tickets.AddMessage)

	chats := api.Group("/chats")
	chats.Post("/", auth.RequireUser(), cfg.Chat.StartChat)
	chats.Get("/:id", cfg.Chat.GetSession)
	chats.Get("/:id/messages", cfg.Chat.ListMessages)
	chats.Post("/:id/messages", cfg.Chat.SendMessage)
	chats.Post("/:id/accept", auth.RequireAgentRole(), cfg.Chat.AcceptChat)
	chats.Post("/:id/end", cfg.Chat.EndChat)

	agent := api.Group("/agent", auth.RequireAgentRole())
	agent.Get("/tickets", cfg.AgentTickets.ListTickets)
	agent.Get("/tickets/:id", cfg.AgentTickets.GetTicket)
	agent.Post("/tickets/:id/messages", cfg.AgentTickets.AddMessage)
	agent.Put("/tickets/:id/status", cfg.AgentTickets.UpdateStatus)
	agent.Get("/metrics/sla", cfg.AgentTickets.SLAMetrics)
	agent.Get("/chats/queue", cfg.Chat.ListQueue)
	agent.Get("/chats/stats", cfg.Chat.QueueStats)
	agent.Put("/status", cfg.Chat.UpdateStatus)
	agent.Get("/realtime/stats", cfg.Chat.ConnectionStats)

	// Token auth happens inside the handler so a bad token gets the
	// websocket close code rather than an HTTP error.
	app.Get("/ws", cfg.Realtime.Upgrade, cfg.Realtime.Serve())
}
