package store

import (
	"context"
	"encoding/json"
	"time"
)

// EventRecord is a row in the durable event log: agent lifecycle, decisions, escalations.
type EventRecord struct {
	ID            int64
	EventType     string
	AgentID       string
	CorrelationID string
	Payload       string // raw JSON
	CreatedAt     time.Time
}

func jsonMarshal(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

// ListEventsByAgent returns the most recent events for an agent, newest first.
func (s *Store) ListEventsByAgent(ctx context.Context, agentID string, limit int) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, COALESCE(agent_id, ''), COALESCE(correlation_id, ''), payload, created_at
		FROM events WHERE agent_id = ? ORDER BY id DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListEventsByCorrelation returns all events sharing a correlation id, in
// creation order, used to reconstruct a decision's or escalation's timeline.
func (s *Store) ListEventsByCorrelation(ctx context.Context, correlationID string) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, COALESCE(agent_id, ''), COALESCE(correlation_id, ''), payload, created_at
		FROM events WHERE correlation_id = ? ORDER BY id ASC`, correlationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]EventRecord, error) {
	var out []EventRecord
	for rows.Next() {
		var e EventRecord
		var createdAt string
		if err := rows.Scan(&e.ID, &e.EventType, &e.AgentID, &e.CorrelationID, &e.Payload, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordEvent appends an arbitrary durable event and mirrors it to the bus.
// Exported for callers outside the store package (decision engine,
// escalation channel) that need to log events not tied to an agent write.
func (s *Store) RecordEvent(ctx context.Context, eventType, agentID, correlationID string, payload map[string]any) {
	s.emitEvent(ctx, eventType, agentID, correlationID, payload)
}

// TotalEventCount returns the number of rows in the event log, used by the
// retention job and diagnostics.
func (s *Store) TotalEventCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}
