package escalation

import (
	"context"
	"log/slog"

	"github.com/agentcore/orchestrator/internal/bus"
	"github.com/agentcore/orchestrator/internal/store"
)

// DashboardChannel is a log-only stand-in for pushing escalations to an
// operator-facing web dashboard (out of scope here). It exists so the
// engine's configured channel list never has to special-case a missing
// integration.
type DashboardChannel struct {
	store    *store.Store
	logger   *slog.Logger
	eventBus *bus.Bus
}

// NewDashboardChannel creates a log-only dashboard escalation channel.
func NewDashboardChannel(s *store.Store, logger *slog.Logger, eventBus *bus.Bus) *DashboardChannel {
	return &DashboardChannel{store: s, logger: logger, eventBus: eventBus}
}

func (d *DashboardChannel) Name() string { return "dashboard" }

// Start subscribes to escalation_created events and logs each one. It blocks
// until ctx is canceled.
func (d *DashboardChannel) Start(ctx context.Context) error {
	sub := d.eventBus.Subscribe("event.escalation_created")
	defer d.eventBus.Unsubscribe(sub)

	d.logger.Info("dashboard escalation channel started (log-only)")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Ch():
			if !ok {
				return nil
			}
			d.logger.Info("escalation notified via dashboard", "payload", ev.Payload)
		}
	}
}
