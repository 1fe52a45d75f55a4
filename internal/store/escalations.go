package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Escalation is a human-in-the-loop notification raised when a decision
// times out or a critical-tier decision requires sign-off.
type Escalation struct {
	EscalationID     string
	DecisionID       string
	CorrelationID    string
	Reason           string
	Status           string   // open | resolved
	ChannelsNotified []string // e.g. ["telegram", "email"]
	CreatedAt        time.Time
	ResolvedAt       *time.Time
	Resolution       string
}

// CreateEscalation opens a new escalation tied to a decision.
func (s *Store) CreateEscalation(ctx context.Context, e Escalation) error {
	now := time.Now().UTC()
	channels, err := json.Marshal(e.ChannelsNotified)
	if err != nil {
		return fmt.Errorf("marshal channels_notified: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO escalations (escalation_id, decision_id, correlation_id, reason, status, channels_notified, created_at)
		VALUES (?, ?, ?, ?, 'open', ?, ?)`,
		e.EscalationID, nullIfEmpty(e.DecisionID), e.CorrelationID, e.Reason, string(channels), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert escalation: %w", err)
	}
	s.emitEvent(ctx, "escalation_created", "", e.CorrelationID, map[string]any{
		"escalation_id": e.EscalationID, "reason": e.Reason, "channels_notified": e.ChannelsNotified,
	})
	return nil
}

// ResolveEscalation closes an open escalation with a human's resolution
// (e.g. "approved", "rejected", "ack").
func (s *Store) ResolveEscalation(ctx context.Context, escalationID, resolution string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
		UPDATE escalations SET status = 'resolved', resolution = ?, resolved_at = ?
		WHERE escalation_id = ? AND status = 'open'`, resolution, now, escalationID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}

	var correlationID string
	_ = s.db.QueryRowContext(ctx, `SELECT correlation_id FROM escalations WHERE escalation_id = ?`, escalationID).Scan(&correlationID)
	s.emitEvent(ctx, "escalation_resolved", "", correlationID, map[string]any{
		"escalation_id": escalationID, "resolution": resolution,
	})
	return nil
}

// ListOpenEscalations returns unresolved escalations, oldest first, used by
// the scheduler's escalation-timeout job.
func (s *Store) ListOpenEscalations(ctx context.Context) ([]Escalation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT escalation_id, COALESCE(decision_id, ''), correlation_id, reason, status, channels_notified, created_at, resolved_at, COALESCE(resolution, '')
		FROM escalations WHERE status = 'open' ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Escalation
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// GetEscalation returns a single escalation by id.
func (s *Store) GetEscalation(ctx context.Context, escalationID string) (*Escalation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT escalation_id, COALESCE(decision_id, ''), correlation_id, reason, status, channels_notified, created_at, resolved_at, COALESCE(resolution, '')
		FROM escalations WHERE escalation_id = ?`, escalationID)
	return scanEscalation(row)
}

func scanEscalation(row rowScanner) (*Escalation, error) {
	var e Escalation
	var createdAt, channels string
	var resolvedAt sql.NullString
	err := row.Scan(&e.EscalationID, &e.DecisionID, &e.CorrelationID, &e.Reason, &e.Status, &channels, &createdAt, &resolvedAt, &e.Resolution)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan escalation: %w", err)
	}
	if channels != "" {
		if err := json.Unmarshal([]byte(channels), &e.ChannelsNotified); err != nil {
			return nil, fmt.Errorf("unmarshal channels_notified: %w", err)
		}
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if resolvedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, resolvedAt.String)
		e.ResolvedAt = &t
	}
	return &e, nil
}
