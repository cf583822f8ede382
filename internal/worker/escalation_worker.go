package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-desk/internal/service"
)

// EscalationWorker periodically sweeps for tickets past their SLA deadlines.
// Each pass is idempotent, so a missed or doubled tick never double-escalates.
type EscalationWorker struct {
	tickets  *service.TicketService
	interval time.Duration
	logger   *zap.Logger
}

// NewEscalationWorker constructs the sweeper.
func NewEscalationWorker(tickets *service.TicketService, interval time.Duration, logger *zap.Logger) *EscalationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &EscalationWorker{tickets: tickets, interval: interval, logger: logger}
}

// Run blocks until the context is cancelled, sweeping once per interval.
// An immediate first pass runs on startup so a restarted service catches up
// without waiting a full period.
func (w *EscalationWorker) Run(ctx context.Context) {
	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("escalation worker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *EscalationWorker) sweep(ctx context.Context) {
	escalated, err := w.tickets.CheckAndEscalate(ctx)
	if err != nil {
		w.logger.Error("escalation sweep failed", zap.Error(err))
		return
	}
	if escalated > 0 {
		w.logger.Info("escalation sweep complete", zap.Int("escalated", escalated))
	}
}
