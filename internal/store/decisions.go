package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DecisionTier is the voting tier a decision was proposed at.
type DecisionTier string

const (
	TierOperational DecisionTier = "operational"
	TierMinor        DecisionTier = "minor"
	TierMajor        DecisionTier = "major"
	TierCritical     DecisionTier = "critical"
)

// DecisionStatus is the decision's position in its voting state machine.
type DecisionStatus string

const (
	DecisionProposed   DecisionStatus = "proposed"
	DecisionVoting      DecisionStatus = "voting"
	DecisionVetoed      DecisionStatus = "vetoed"
	DecisionApproved    DecisionStatus = "approved"
	DecisionRejected    DecisionStatus = "rejected"
	DecisionEscalated   DecisionStatus = "escalated"
	DecisionTimedOut    DecisionStatus = "timed_out"
)

// allowedDecisionTransitions mirrors the tiered voting state machine: a
// decision can only move forward (propose -> vote -> resolve/escalate),
// never backward.
var allowedDecisionTransitions = map[DecisionStatus]map[DecisionStatus]bool{
	DecisionProposed: {DecisionVoting: true, DecisionApproved: true, DecisionEscalated: true},
	DecisionVoting: {
		DecisionVetoed:    true,
		DecisionApproved:  true,
		DecisionRejected:  true,
		DecisionEscalated: true,
		DecisionTimedOut:  true,
	},
	DecisionVetoed:  {DecisionVoting: true, DecisionEscalated: true}, // re-vote on next veto round
	DecisionTimedOut: {DecisionApproved: true, DecisionEscalated: true},
}

func canTransitionDecision(from, to DecisionStatus) bool {
	if from == to {
		return true
	}
	next, ok := allowedDecisionTransitions[from]
	return ok && next[to]
}

// Decision is a row in the decisions table.
type Decision struct {
	DecisionID    string
	ProposerID    string
	Tier          DecisionTier
	Subject       string
	Status        DecisionStatus
	VetoRound     int
	CorrelationID string
	DeadlineAt    *time.Time
	ResolvedAt    *time.Time
	Resolution    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Vote is a single agent's ballot on a decision.
type Vote struct {
	DecisionID string
	AgentID    string
	Vote       string // approve | veto | abstain
	Reason     string
	CastAt     time.Time
}

// CreateDecision inserts a newly proposed decision.
func (s *Store) CreateDecision(ctx context.Context, d Decision) error {
	now := time.Now().UTC()
	var deadline any
	if d.DeadlineAt != nil {
		deadline = d.DeadlineAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (decision_id, proposer_id, tier, subject, status, veto_round, correlation_id, deadline_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		d.DecisionID, d.ProposerID, string(d.Tier), d.Subject, string(d.Status), d.CorrelationID, deadline,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	s.emitEvent(ctx, "decision_proposed", d.ProposerID, d.CorrelationID, map[string]any{
		"decision_id": d.DecisionID, "tier": d.Tier,
	})
	return nil
}

// GetDecision returns a decision by id.
func (s *Store) GetDecision(ctx context.Context, decisionID string) (*Decision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT decision_id, proposer_id, tier, subject, status, veto_round, correlation_id, deadline_at, resolved_at, COALESCE(resolution, ''), created_at, updated_at
		FROM decisions WHERE decision_id = ?`, decisionID)
	return scanDecision(row)
}

func scanDecision(row rowScanner) (*Decision, error) {
	var d Decision
	var tier, status string
	var deadline, resolved sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&d.DecisionID, &d.ProposerID, &tier, &d.Subject, &status, &d.VetoRound, &d.CorrelationID,
		&deadline, &resolved, &d.Resolution, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan decision: %w", err)
	}
	d.Tier = DecisionTier(tier)
	d.Status = DecisionStatus(status)
	if deadline.Valid {
		t, _ := time.Parse(time.RFC3339Nano, deadline.String)
		d.DeadlineAt = &t
	}
	if resolved.Valid {
		t, _ := time.Parse(time.RFC3339Nano, resolved.String)
		d.ResolvedAt = &t
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &d, nil
}

// CastVote records an agent's vote on a decision. Rejects a second vote
// from the same agent in the same veto round via the UNIQUE(decision_id,
// agent_id) constraint when round tracking is handled by the caller
// clearing prior votes on a new round (see BumpVetoRound).
func (s *Store) CastVote(ctx context.Context, v Vote) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decision_votes (decision_id, agent_id, vote, reason, cast_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(decision_id, agent_id) DO UPDATE SET vote = excluded.vote, reason = excluded.reason, cast_at = excluded.cast_at`,
		v.DecisionID, v.AgentID, v.Vote, v.Reason, now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("cast vote: %w", err)
	}
	s.emitEvent(ctx, "decision_voted", v.AgentID, "", map[string]any{
		"decision_id": v.DecisionID, "vote": v.Vote,
	})
	return nil
}

// ListVotes returns all votes cast on a decision.
func (s *Store) ListVotes(ctx context.Context, decisionID string) ([]Vote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT decision_id, agent_id, vote, COALESCE(reason, ''), cast_at
		FROM decision_votes WHERE decision_id = ? ORDER BY cast_at ASC`, decisionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Vote
	for rows.Next() {
		var v Vote
		var castAt string
		if err := rows.Scan(&v.DecisionID, &v.AgentID, &v.Vote, &v.Reason, &castAt); err != nil {
			return nil, err
		}
		v.CastAt, _ = time.Parse(time.RFC3339Nano, castAt)
		out = append(out, v)
	}
	return out, rows.Err()
}

// BumpVetoRound advances a decision to its next veto round, clearing prior
// votes so agents can re-vote.
func (s *Store) BumpVetoRound(ctx context.Context, decisionID string) error {
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM decision_votes WHERE decision_id = ?`, decisionID); err != nil {
			return err
		}
		now := time.Now().UTC().Format(time.RFC3339Nano)
		if _, err := tx.ExecContext(ctx, `
			UPDATE decisions SET veto_round = veto_round + 1, updated_at = ? WHERE decision_id = ?`, now, decisionID); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// TransitionDecision moves a decision to a new status, validating against
// allowedDecisionTransitions, and records resolution details when the
// decision reaches a terminal state.
func (s *Store) TransitionDecision(ctx context.Context, decisionID string, to DecisionStatus, resolution string) error {
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx, `SELECT status FROM decisions WHERE decision_id = ?`, decisionID)
		var current string
		if err := row.Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if !canTransitionDecision(DecisionStatus(current), to) {
			return fmt.Errorf("invalid decision transition %s -> %s", current, to)
		}

		now := time.Now().UTC().Format(time.RFC3339Nano)
		terminal := to == DecisionApproved || to == DecisionRejected || to == DecisionVetoed
		if terminal {
			_, err = tx.ExecContext(ctx, `
				UPDATE decisions SET status = ?, resolution = ?, resolved_at = ?, updated_at = ? WHERE decision_id = ?`,
				string(to), resolution, now, now, decisionID)
		} else {
			_, err = tx.ExecContext(ctx, `
				UPDATE decisions SET status = ?, updated_at = ? WHERE decision_id = ?`,
				string(to), now, decisionID)
		}
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		if terminal {
			var correlationID string
			_ = s.db.QueryRowContext(ctx, `SELECT correlation_id FROM decisions WHERE decision_id = ?`, decisionID).Scan(&correlationID)
			s.emitEvent(ctx, "decision_resolved", "", correlationID, map[string]any{
				"decision_id": decisionID, "status": to, "resolution": resolution,
			})
		}
		return nil
	})
}

// ListPendingDecisions returns decisions still awaiting resolution, used by
// the scheduler's escalation-timeout job to find decisions past deadline.
func (s *Store) ListPendingDecisions(ctx context.Context) ([]Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT decision_id, proposer_id, tier, subject, status, veto_round, correlation_id, deadline_at, resolved_at, COALESCE(resolution, ''), created_at, updated_at
		FROM decisions WHERE status IN ('proposed', 'voting') ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}
