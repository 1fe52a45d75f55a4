// Package decision implements the tiered voting state machine that governs
// proposals, votes, and human escalation, orchestrating the durable
// store's Decision/Vote/Escalation persistence (internal/store/
// decisions.go, escalations.go) and the bus.
//
// Grounded on the allowed-transition-table style already used in
// internal/store/decisions.go (itself modeled on a transaction/transition
// convention common across this codebase's persistence code) — this
// package adds the voting policy on top of that already-validated state
// machine rather than reimplementing transition checking.
package decision

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentcore/orchestrator/internal/bus"
	"github.com/agentcore/orchestrator/internal/store"
)

// TierRequirements describes one tier's row in the voting policy table.
type TierRequirements struct {
	RequireCEO           bool
	RequireDAO           bool
	RequireHuman         bool
	Timeout              time.Duration
	AutoApproveOnTimeout bool
}

// tierTable is the voting policy's tier table.
var tierTable = map[store.DecisionTier]TierRequirements{
	store.TierOperational: {Timeout: 0, AutoApproveOnTimeout: true},
	store.TierMinor:       {RequireCEO: true, Timeout: 4 * time.Hour, AutoApproveOnTimeout: true},
	store.TierMajor:       {RequireCEO: true, RequireDAO: true, Timeout: 24 * time.Hour, AutoApproveOnTimeout: false},
	store.TierCritical:    {RequireCEO: true, RequireDAO: true, RequireHuman: true, Timeout: 48 * time.Hour, AutoApproveOnTimeout: false},
}

// escalationRetryWindow is how long an unresolved escalation waits before a
// repeat notification is emitted, keyed by the originating decision's tier
// (4h/12h/24h by severity).
var escalationRetryWindow = map[store.DecisionTier]time.Duration{
	store.TierCritical: 4 * time.Hour,
	store.TierMajor:    12 * time.Hour,
	store.TierMinor:    24 * time.Hour,
	store.TierOperational: 24 * time.Hour,
}

const maxEscalationRetries = 3

// ApprovalPredicate is a caller-supplied check consulted for a decision
// whose subject names a PR ("pr_approved_by_rag" — open question, resolved
// deny-by-default: an Engine with no predicate wired always denies, so a
// decision that depends on it can never auto-approve past voting).
type ApprovalPredicate func(ctx context.Context, subject string) (bool, error)

// Engine drives proposals, votes, timeouts and escalation resolution. One
// Engine is shared process-wide.
type Engine struct {
	store         *store.Store
	bus           *bus.Bus
	maxVetoRounds int
	logger        *slog.Logger
	approvalCheck ApprovalPredicate

	// channelNames is the set of escalation channels actually registered by
	// the caller (e.g. "telegram", "email"), recorded on every Escalation
	// this engine creates so ChannelsNotified reflects what was configured
	// at startup rather than being left empty.
	channelNames []string

	retryMu     sync.Mutex
	retryCounts map[string]int
}

// NewEngine builds an Engine. maxVetoRounds<=0 defaults to 3. channelNames
// is the list of escalation channel names (escalation.Channel.Name()) wired
// up by the caller; it is stamped onto every Escalation this engine opens.
func NewEngine(s *store.Store, b *bus.Bus, maxVetoRounds int, logger *slog.Logger, channelNames []string) *Engine {
	if maxVetoRounds <= 0 {
		maxVetoRounds = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:         s,
		bus:           b,
		maxVetoRounds: maxVetoRounds,
		logger:        logger,
		channelNames:  channelNames,
		retryCounts:   make(map[string]int),
	}
}

// SetApprovalPredicate wires the pr_approved_by_rag check. Leaving it unset means such decisions never auto-resolve from
// the predicate and must go through ordinary voting/escalation.
func (e *Engine) SetApprovalPredicate(p ApprovalPredicate) { e.approvalCheck = p }

// Propose inserts a newly proposed decision. A tier with
// no required voters (operational) resolves immediately.
func (e *Engine) Propose(ctx context.Context, decisionID, proposerID string, tier store.DecisionTier, subject, correlationID string) error {
	req, ok := tierTable[tier]
	if !ok {
		return fmt.Errorf("decision: unknown tier %q", tier)
	}

	d := store.Decision{
		DecisionID:    decisionID,
		ProposerID:    proposerID,
		Tier:          tier,
		Subject:       subject,
		Status:        store.DecisionProposed,
		CorrelationID: correlationID,
	}
	if req.Timeout > 0 {
		deadline := time.Now().UTC().Add(req.Timeout)
		d.DeadlineAt = &deadline
	}
	if err := e.store.CreateDecision(ctx, d); err != nil {
		return fmt.Errorf("decision: propose: %w", err)
	}

	if !req.RequireCEO && !req.RequireDAO && !req.RequireHuman {
		return e.store.TransitionDecision(ctx, decisionID, store.DecisionApproved, "operational tier requires no votes")
	}
	return e.store.TransitionDecision(ctx, decisionID, store.DecisionVoting, "")
}

// CastVote records a vote and re-evaluates the decision.
func (e *Engine) CastVote(ctx context.Context, decisionID, agentID, vote, reason string) error {
	if err := e.store.CastVote(ctx, store.Vote{DecisionID: decisionID, AgentID: agentID, Vote: vote, Reason: reason}); err != nil {
		return fmt.Errorf("decision: cast vote: %w", err)
	}
	return e.reevaluate(ctx, decisionID)
}

func (e *Engine) reevaluate(ctx context.Context, decisionID string) error {
	d, err := e.store.GetDecision(ctx, decisionID)
	if err != nil {
		return err
	}
	if d.Status != store.DecisionProposed && d.Status != store.DecisionVoting {
		return nil // already resolved/escalated/timed out
	}
	req, ok := tierTable[d.Tier]
	if !ok {
		return fmt.Errorf("decision: unknown tier %q", d.Tier)
	}

	votes, err := e.store.ListVotes(ctx, decisionID)
	if err != nil {
		return err
	}
	byAgent := make(map[string]string, len(votes))
	for _, v := range votes {
		byAgent[v.AgentID] = v.Vote
	}

	required := make([]string, 0, 2)
	if req.RequireCEO {
		required = append(required, "ceo")
	}
	if req.RequireDAO {
		required = append(required, "dao")
	}

	for _, agentID := range required {
		if byAgent[agentID] == "veto" {
			return e.handleVeto(ctx, decisionID, d.VetoRound)
		}
	}

	for _, agentID := range required {
		if _, voted := byAgent[agentID]; !voted {
			return nil // still waiting on this voter
		}
	}

	// All required voters approved (non-veto).
	if req.RequireHuman {
		return e.escalateForHumanSignoff(ctx, d, "awaiting human sign-off after CEO/DAO approval")
	}
	return e.store.TransitionDecision(ctx, decisionID, store.DecisionApproved, "all required votes cast, no veto")
}

func (e *Engine) handleVeto(ctx context.Context, decisionID string, currentRound int) error {
	nextRound := currentRound + 1
	if nextRound >= e.maxVetoRounds {
		return e.store.TransitionDecision(ctx, decisionID, store.DecisionVetoed, fmt.Sprintf("vetoed after %d rounds", nextRound))
	}
	e.logger.Info("decision: veto round advancing, re-soliciting votes", "decision_id", decisionID, "round", nextRound)
	return e.store.BumpVetoRound(ctx, decisionID)
}

// CheckDecisionTimeouts scans pending decisions past their deadline and
// either auto-approves or escalates them per tier,
// invoked by the scheduler's escalation-timeout system job.
func (e *Engine) CheckDecisionTimeouts(ctx context.Context) error {
	pending, err := e.store.ListPendingDecisions(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, d := range pending {
		if d.DeadlineAt == nil || now.Before(*d.DeadlineAt) {
			continue
		}
		req, ok := tierTable[d.Tier]
		if !ok {
			continue
		}
		if req.AutoApproveOnTimeout {
			if err := e.store.TransitionDecision(ctx, d.DecisionID, store.DecisionApproved, "auto-approved on timeout"); err != nil {
				e.logger.Warn("decision: auto-approve on timeout failed", "decision_id", d.DecisionID, "error", err)
			}
			continue
		}
		if err := e.escalateForHumanSignoff(ctx, &d, "decision timed out awaiting votes"); err != nil {
			e.logger.Warn("decision: escalate on timeout failed", "decision_id", d.DecisionID, "error", err)
		}
	}
	return nil
}

func (e *Engine) escalateForHumanSignoff(ctx context.Context, d *store.Decision, reason string) error {
	if d.Status != store.DecisionEscalated {
		if err := e.store.TransitionDecision(ctx, d.DecisionID, store.DecisionEscalated, reason); err != nil {
			return err
		}
	}
	escalationID := d.DecisionID + ":escalation"
	if existing, err := e.store.GetEscalation(ctx, escalationID); err == nil && existing != nil {
		return nil // already escalated, the retry job handles reminders
	}
	return e.store.CreateEscalation(ctx, store.Escalation{
		EscalationID:     escalationID,
		DecisionID:       d.DecisionID,
		CorrelationID:    d.CorrelationID,
		Reason:           reason,
		ChannelsNotified: e.channelNames,
	})
}

// PendingForRole returns pending decisions that still need a vote from the
// given role ("ceo", "dao") — used to build an agent loop's "pending
// decisions" context section.
func (e *Engine) PendingForRole(ctx context.Context, role string) ([]store.Decision, error) {
	pending, err := e.store.ListPendingDecisions(ctx)
	if err != nil {
		return nil, err
	}
	var out []store.Decision
	for _, d := range pending {
		req, ok := tierTable[d.Tier]
		if !ok {
			continue
		}
		needsRole := (role == "ceo" && req.RequireCEO) || (role == "dao" && req.RequireDAO)
		if !needsRole {
			continue
		}
		votes, err := e.store.ListVotes(ctx, d.DecisionID)
		if err != nil {
			return nil, err
		}
		voted := false
		for _, v := range votes {
			if v.AgentID == role {
				voted = true
				break
			}
		}
		if !voted {
			out = append(out, d)
		}
	}
	return out, nil
}

// CheckEscalationRetries re-notifies open escalations that have waited
// longer than their tier's retry window, up to maxEscalationRetries, then
// gives up silently.
func (e *Engine) CheckEscalationRetries(ctx context.Context) error {
	open, err := e.store.ListOpenEscalations(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, esc := range open {
		tier := store.TierMajor
		if esc.DecisionID != "" {
			if d, err := e.store.GetDecision(ctx, esc.DecisionID); err == nil {
				tier = d.Tier
			}
		}
		window := escalationRetryWindow[tier]
		if window == 0 {
			window = 24 * time.Hour
		}
		if now.Sub(esc.CreatedAt) < window {
			continue
		}

		e.retryMu.Lock()
		count := e.retryCounts[esc.EscalationID]
		if count >= maxEscalationRetries {
			e.retryMu.Unlock()
			continue
		}
		e.retryCounts[esc.EscalationID] = count + 1
		e.retryMu.Unlock()

		e.bus.Publish("event.escalation_created", map[string]any{
			"escalation_id": esc.EscalationID,
			"reason":        esc.Reason + " (reminder)",
		})
	}
	return nil
}
