package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/support-desk/internal/config"
	"github.com/spec-kit/support-desk/internal/events"
)

// NotificationService fans domain events out to the notification channels.
// Delivery is stubbed to structured logs until a real provider is wired in;
// the event subscriptions are the part that matters.
type NotificationService struct {
	cfg    config.NotificationConfig
	logger *zap.Logger
}

// NewNotificationService constructs the service.
func NewNotificationService(cfg config.NotificationConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{cfg: cfg, logger: logger}
}

// Register subscribes the notification handlers to the dispatcher.
func (s *NotificationService) Register(dispatcher events.Dispatcher) {
	dispatcher.Subscribe(events.EventTicketCreated, s.handle)
	dispatcher.Subscribe(events.EventTicketAssigned, s.handle)
	dispatcher.Subscribe(events.EventTicketStatusChanged, s.handle)
	dispatcher.Subscribe(events.EventTicketSLABreached, s.handle)
	dispatcher.Subscribe(events.EventChatAccepted, s.handle)
	dispatcher.Subscribe(events.EventChatEnded, s.handle)
}

func (s *NotificationService) handle(_ context.Context, event events.Event) error {
	s.logger.Info("notification",
		zap.String("event_type", string(event.Type)),
		zap.String("ticket_id", event.TicketID),
		zap.String("session_id", event.SessionID),
		zap.String("email_from", s.cfg.EmailFrom),
		zap.Any("payload", event.Payload),
	)
	return nil
}
