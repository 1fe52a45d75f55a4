// Package escalation delivers human-in-the-loop escalation notifications
// over external messaging channels, and
// routes the human's response back into the store.
package escalation

import "context"

// Channel is a human notification integration (Telegram, and anything else
// an operator wires in later).
type Channel interface {
	// Name returns the channel's unique name (e.g. "telegram").
	Name() string

	// Start begins listening for escalation events and human responses. It
	// blocks until ctx is canceled or a fatal error occurs.
	Start(ctx context.Context) error
}
