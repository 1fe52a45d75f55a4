package escalation

import (
	"context"
	"log/slog"

	"github.com/agentcore/orchestrator/internal/bus"
	"github.com/agentcore/orchestrator/internal/store"
)

// EmailChannel is a log-only stand-in for a real SMTP/SES integration. It
// watches the same escalation_created events TelegramChannel does, but only
// logs them, so operators relying on email alone see a structured record
// until a real mail sender is wired in.
type EmailChannel struct {
	store    *store.Store
	logger   *slog.Logger
	eventBus *bus.Bus
}

// NewEmailChannel creates a log-only email escalation channel.
func NewEmailChannel(s *store.Store, logger *slog.Logger, eventBus *bus.Bus) *EmailChannel {
	return &EmailChannel{store: s, logger: logger, eventBus: eventBus}
}

func (e *EmailChannel) Name() string { return "email" }

// Start subscribes to escalation_created events and logs each one. It blocks
// until ctx is canceled.
func (e *EmailChannel) Start(ctx context.Context) error {
	sub := e.eventBus.Subscribe("event.escalation_created")
	defer e.eventBus.Unsubscribe(sub)

	e.logger.Info("email escalation channel started (log-only)")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Ch():
			if !ok {
				return nil
			}
			e.logger.Info("escalation notified via email", "payload", ev.Payload)
		}
	}
}
