package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/agentcore/orchestrator/internal/bus"
	"github.com/agentcore/orchestrator/internal/store"
)

// TelegramChannel notifies a fixed set of operators over Telegram when a
// decision is escalated, and feeds their approve/reject replies back into
// the decision's state machine.
type TelegramChannel struct {
	token      string
	allowedIDs map[int64]struct{}
	store      *store.Store
	logger     *slog.Logger
	bot        *tgbotapi.BotAPI
	eventBus   *bus.Bus

	pendingMu sync.Mutex
	pending   map[string]int64 // escalationID -> chatID, for reply routing
}

// NewTelegramChannel creates a channel bound to the store and event bus.
// allowedIDs is the fixed set of Telegram user IDs authorized to resolve
// escalations; any other sender is ignored.
func NewTelegramChannel(token string, allowedIDs []int64, s *store.Store, logger *slog.Logger, eventBus *bus.Bus) *TelegramChannel {
	allowed := make(map[int64]struct{}, len(allowedIDs))
	for _, id := range allowedIDs {
		allowed[id] = struct{}{}
	}
	return &TelegramChannel{
		token:      token,
		allowedIDs: allowed,
		store:      s,
		logger:     logger,
		eventBus:   eventBus,
		pending:    make(map[string]int64),
	}
}

func (t *TelegramChannel) Name() string { return "telegram" }

func (t *TelegramChannel) Start(ctx context.Context) error {
	var err error
	t.bot, err = tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}

	t.logger.Info("telegram escalation channel started", "user", t.bot.Self.UserName)

	go t.watchEscalations(ctx)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := t.bot.GetUpdatesChan(u)

		pollErr := t.pollUpdates(ctx, updates)
		t.bot.StopReceivingUpdates()

		if pollErr != nil {
			t.logger.Warn("telegram poll disconnected, reconnecting", "error", pollErr, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		return nil
	}
}

// pollUpdates reads from the update channel until ctx is done, the channel
// closes, or no updates arrive within 2.5x the long-poll timeout (stall
// detection for a connection the library leaves hanging rather than closing).
func (t *TelegramChannel) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	const stallTimeout = 150 * time.Second

	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			if update.CallbackQuery != nil {
				if _, ok := t.allowedIDs[update.CallbackQuery.From.ID]; !ok {
					t.logger.Warn("telegram callback access denied", "user_id", update.CallbackQuery.From.ID)
					continue
				}
				t.handleCallbackQuery(ctx, update.CallbackQuery)
				continue
			}

			if update.Message != nil {
				if _, ok := t.allowedIDs[update.Message.From.ID]; !ok {
					t.logger.Warn("telegram access denied", "user_id", update.Message.From.ID, "user_name", update.Message.From.UserName)
					continue
				}
				t.handleMessage(ctx, update.Message)
				continue
			}

		case <-timer.C:
			return fmt.Errorf("no updates received for %v (possible disconnect)", stallTimeout)
		}
	}
}

// handleMessage supports "/status" so an operator can poll open escalations
// without waiting for a notification.
func (t *TelegramChannel) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	content := strings.TrimSpace(msg.Text)
	if content != "/status" {
		return
	}
	open, err := t.store.ListOpenEscalations(ctx)
	if err != nil {
		t.reply(msg.Chat.ID, fmt.Sprintf("error listing escalations: %v", err))
		return
	}
	if len(open) == 0 {
		t.reply(msg.Chat.ID, "no open escalations")
		return
	}
	var b strings.Builder
	for _, e := range open {
		fmt.Fprintf(&b, "%s: %s\n", e.EscalationID, e.Reason)
	}
	t.reply(msg.Chat.ID, b.String())
}

// handleCallbackQuery resolves an escalation in response to an inline
// Approve/Reject button press (callback data: "esc:<escalationID>:<action>").
func (t *TelegramChannel) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	escalationID, action, err := parseEscalationCallback(query.Data)
	if err != nil {
		return
	}

	ack := tgbotapi.NewCallbackWithAlert(query.ID, fmt.Sprintf("Processing %s...", action))
	if _, err := t.bot.Request(ack); err != nil {
		t.logger.Warn("failed to send callback ack", "error", err)
	}

	resolution := action
	if err := t.store.ResolveEscalation(ctx, escalationID, resolution); err != nil {
		t.logger.Error("failed to resolve escalation", "escalation_id", escalationID, "error", err)
		return
	}

	esc, err := t.store.GetEscalation(ctx, escalationID)
	if err != nil {
		t.logger.Error("failed to reload resolved escalation", "escalation_id", escalationID, "error", err)
		return
	}
	if esc.DecisionID != "" {
		var to store.DecisionStatus
		switch action {
		case "approve":
			to = store.DecisionApproved
		case "reject":
			to = store.DecisionRejected
		default:
			to = store.DecisionRejected
		}
		if err := t.store.TransitionDecision(ctx, esc.DecisionID, to, fmt.Sprintf("escalation %s resolved via telegram by %s", escalationID, query.From.UserName)); err != nil {
			t.logger.Error("failed to transition decision after escalation resolve", "decision_id", esc.DecisionID, "error", err)
		}
	}

	t.pendingMu.Lock()
	chatID, ok := t.pending[escalationID]
	delete(t.pending, escalationID)
	t.pendingMu.Unlock()
	if ok {
		t.editOrReply(chatID, 0, fmt.Sprintf("Escalation %s resolved: %s", escalationID, resolution))
	}
}

// watchEscalations subscribes to the durable event stream and notifies
// operators when a new escalation is raised, and sweeps already-open
// escalations at startup so a restart doesn't drop in-flight ones.
func (t *TelegramChannel) watchEscalations(ctx context.Context) {
	if open, err := t.store.ListOpenEscalations(ctx); err == nil {
		for _, e := range open {
			t.notify(e)
		}
	}

	if t.eventBus == nil {
		return
	}
	sub := t.eventBus.Subscribe("event.escalation_created")
	defer t.eventBus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.Ch():
			payload, ok := ev.Payload.(map[string]any)
			if !ok {
				continue
			}
			escalationID, _ := payload["escalation_id"].(string)
			if escalationID == "" {
				continue
			}
			esc, err := t.store.GetEscalation(ctx, escalationID)
			if err != nil {
				t.logger.Warn("failed to load escalation for notification", "escalation_id", escalationID, "error", err)
				continue
			}
			t.notify(*esc)
		}
	}
}

// notify sends an escalation prompt with Approve/Reject inline buttons to
// every authorized operator.
func (t *TelegramChannel) notify(e store.Escalation) {
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Approve", fmt.Sprintf("esc:%s:approve", e.EscalationID)),
			tgbotapi.NewInlineKeyboardButtonData("Reject", fmt.Sprintf("esc:%s:reject", e.EscalationID)),
		),
	)
	text := fmt.Sprintf("Escalation required\n\nID: %s\nDecision: %s\nReason: %s", e.EscalationID, e.DecisionID, e.Reason)

	for chatID := range t.allowedIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ReplyMarkup = keyboard
		sent, err := t.bot.Send(msg)
		if err != nil {
			t.logger.Error("failed to send escalation notification", "error", err)
			continue
		}
		t.pendingMu.Lock()
		t.pending[e.EscalationID] = sent.Chat.ID
		t.pendingMu.Unlock()
	}
}

func (t *TelegramChannel) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Error("failed to send telegram reply", "error", err)
	}
}

// editOrReply edits messageID if nonzero, otherwise sends a fresh message.
func (t *TelegramChannel) editOrReply(chatID int64, messageID int, text string) {
	if messageID == 0 {
		t.reply(chatID, text)
		return
	}
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if _, err := t.bot.Send(edit); err != nil {
		t.logger.Warn("failed to edit telegram message", "error", err)
	}
}

// parseEscalationCallback parses callback data of the form
// "esc:<escalationID>:<action>".
func parseEscalationCallback(data string) (escalationID, action string, err error) {
	data = strings.TrimSpace(data)
	if !strings.HasPrefix(data, "esc:") {
		return "", "", fmt.Errorf("not an escalation callback")
	}
	remaining := strings.TrimPrefix(data, "esc:")
	parts := strings.SplitN(remaining, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid escalation callback format")
	}
	return parts[0], parts[1], nil
}
