package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/support-desk/internal/api/http"
	"github.com/spec-kit/support-desk/internal/api/http/handlers"
	"github.com/spec-kit/support-desk/internal/auth"
	"github.com/spec-kit/support-desk/internal/config"
	"github.com/spec-kit/support-desk/internal/events"
	"github.com/spec-kit/support-desk/internal/observability"
	"github.com/spec-kit/support-desk/internal/persistence"
	"github.com/spec-kit/support-desk/internal/presence"
	"github.com/spec-kit/support-desk/internal/repository"
	"github.com/spec-kit/support-desk/internal/service"
	"github.com/spec-kit/support-desk/internal/worker"
	"github.com/spec-kit/support-desk/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	pool := pg.PoolHandle()
	userRepo := repository.NewUserRepository(pool)
	agentRepo := repository.NewAgentRepository(pool)
	teamRepo := repository.NewTeamRepository(pool)
	ticketRepo := repository.NewTicketRepository(pool)
	messageRepo := repository.NewTicketMessageRepository(pool)
	chatRepo := repository.NewChatRepository(pool)
	policyRepo := repository.NewSLAPolicyRepository(pool)
	sequence := repository.NewTicketSequence(redis.Client)

	metrics := observability.NewMetrics()
	tracker := presence.NewTracker()
	dispatcher := events.NewInMemoryDispatcher()

	assigner := service.NewAssignmentService(service.AssignmentDependencies{
		TeamRepo:  teamRepo,
		AgentRepo: agentRepo,
		Tracker:   tracker,
		Logger:    logger,
	})
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  ticketRepo,
		MessageRepo: messageRepo,
		PolicyRepo:  policyRepo,
		Sequence:    sequence,
		Assigner:    assigner,
		Dispatcher:  dispatcher,
		Logger:      logger,
	})
	chatService := service.NewChatService(service.ChatDependencies{
		ChatRepo:   chatRepo,
		AgentRepo:  agentRepo,
		Tracker:    tracker,
		Assigner:   assigner,
		Tickets:    ticketService,
		Dispatcher: dispatcher,
		Config:     cfg.Chat,
		Logger:     logger,
	})

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authService := service.NewAuthService(service.AuthDependencies{
		UserRepo:   userRepo,
		AgentRepo:  agentRepo,
		Tokens:     tokens,
		BcryptCost: cfg.Auth.BcryptCost,
		Logger:     logger,
	})
	authMiddleware := auth.NewAuthMiddleware(tokens, userRepo, agentRepo)

	hub := ws.NewHub(logger)
	ws.NewBridge(hub, logger).Register(dispatcher)
	service.NewNotificationService(cfg.Notification, logger).Register(dispatcher)

	realtimeHandler := ws.NewHandler(ws.HandlerDependencies{
		Hub:     hub,
		Chats:   chatService,
		Auth:    authMiddleware,
		Config:  cfg.Websocket,
		Logger:  logger,
		Timeout: cfg.App.RequestTimeout(),
	})

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Auth:           handlers.NewAuthHandler(authService),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		AgentTickets:   handlers.NewAgentTicketsHandler(ticketService),
		Chat:           handlers.NewChatHandler(chatService, hub),
		Realtime:       realtimeHandler,
		AuthMiddleware: authMiddleware,
	})

	sweeper := worker.NewEscalationWorker(ticketService, cfg.SLA.SweepInterval(), logger)
	go sweeper.Run(ctx)

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
