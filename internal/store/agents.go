package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("store: not found")

// Agent is a row in the agents table: the seven role-specialized agents
// (CEO/DAO/CMO/CTO/CFO/COO/CCO) plus whatever operational roster extends
// them.
type Agent struct {
	AgentID       string
	Role          string
	DisplayName   string
	Profile       string // system prompt / persona text
	LoopInterval  time.Duration
	Status        string // active | paused | stopped
	Provider      string
	Model         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AgentState is the agent's current run-loop phase, persisted so a restart
// doesn't lose in-flight scheduling state.
type AgentState struct {
	AgentID    string
	Phase      string // idle | running | waiting_on_decision | error
	LastRunAt  *time.Time
	NextRunAt  *time.Time
	ErrorCount int
	LastError  string
	UpdatedAt  time.Time
}

// CreateAgent inserts a new agent and its initial idle state.
func (s *Store) CreateAgent(ctx context.Context, a Agent) error {
	now := time.Now().UTC()
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO agents (agent_id, role, display_name, profile, loop_interval_s, status, provider, model, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.AgentID, a.Role, a.DisplayName, a.Profile, int64(a.LoopInterval/time.Second), a.Status, a.Provider, a.Model,
			now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("insert agent: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO agent_state (agent_id, phase, error_count, updated_at)
			VALUES (?, 'idle', 0, ?)`,
			a.AgentID, now.Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("insert agent_state: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		s.emitEvent(ctx, "agent_started", a.AgentID, "", map[string]any{"role": a.Role})
		return nil
	})
}

// GetAgent returns the agent by id.
func (s *Store) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT agent_id, role, display_name, profile, loop_interval_s, status, provider, model, created_at, updated_at
		FROM agents WHERE agent_id = ?`, agentID)
	return scanAgent(row)
}

// ListAgents returns all agents ordered by agent_id.
func (s *Store) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, role, display_name, profile, loop_interval_s, status, provider, model, created_at, updated_at
		FROM agents ORDER BY agent_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	var a Agent
	var intervalS int64
	var createdAt, updatedAt string
	err := row.Scan(&a.AgentID, &a.Role, &a.DisplayName, &a.Profile, &intervalS, &a.Status, &a.Provider, &a.Model, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	a.LoopInterval = time.Duration(intervalS) * time.Second
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &a, nil
}

// SetAgentStatus updates an agent's lifecycle status (active/paused/stopped).
func (s *Store) SetAgentStatus(ctx context.Context, agentID, status string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET status = ?, updated_at = ? WHERE agent_id = ?`, status, now, agentID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAgentState returns the agent's current run-loop state.
func (s *Store) GetAgentState(ctx context.Context, agentID string) (*AgentState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT agent_id, phase, last_run_at, next_run_at, error_count, last_error, updated_at
		FROM agent_state WHERE agent_id = ?`, agentID)

	var st AgentState
	var lastRun, nextRun, lastErr sql.NullString
	var updatedAt string
	err := row.Scan(&st.AgentID, &st.Phase, &lastRun, &nextRun, &st.ErrorCount, &lastErr, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent_state: %w", err)
	}
	if lastRun.Valid {
		t, _ := time.Parse(time.RFC3339Nano, lastRun.String)
		st.LastRunAt = &t
	}
	if nextRun.Valid {
		t, _ := time.Parse(time.RFC3339Nano, nextRun.String)
		st.NextRunAt = &t
	}
	st.LastError = lastErr.String
	st.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &st, nil
}

// UpdateAgentState persists a new run-loop phase, e.g. idle -> running on
// loop start, running -> idle on completion.
func (s *Store) UpdateAgentState(ctx context.Context, agentID, phase string, nextRunAt *time.Time) error {
	now := time.Now().UTC()
	var nextRunStr any
	if nextRunAt != nil {
		nextRunStr = nextRunAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE agent_state SET phase = ?, last_run_at = ?, next_run_at = ?, updated_at = ?
		WHERE agent_id = ?`,
		phase, now.Format(time.RFC3339Nano), nextRunStr, now.Format(time.RFC3339Nano), agentID)
	return err
}

// RecordAgentError increments the agent's consecutive error count and
// records the last error, used by the scheduler's health-check job to
// detect agents that need pausing.
func (s *Store) RecordAgentError(ctx context.Context, agentID, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		UPDATE agent_state SET error_count = error_count + 1, last_error = ?, phase = 'error', updated_at = ?
		WHERE agent_id = ?`, errMsg, now, agentID)
	if err != nil {
		return err
	}
	s.emitEvent(ctx, "agent_error", agentID, "", map[string]any{"error": errMsg})
	return nil
}

// ClearAgentErrors resets the consecutive error counter, e.g. after a
// successful run.
func (s *Store) ClearAgentErrors(ctx context.Context, agentID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE agent_state SET error_count = 0, last_error = NULL WHERE agent_id = ?`, agentID)
	return err
}

// emitEvent appends a durable event row and, if an event bus is attached,
// mirrors it onto the bus for live subscribers. Best-effort: logging/bus
// mirroring never fails the caller's write.
func (s *Store) emitEvent(ctx context.Context, eventType, agentID, correlationID string, payload map[string]any) {
	b, _ := jsonMarshal(payload)
	_, _ = s.db.ExecContext(ctx, `
		INSERT INTO events (event_type, agent_id, correlation_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		eventType, nullIfEmpty(agentID), nullIfEmpty(correlationID), string(b), time.Now().UTC().Format(time.RFC3339Nano))

	if s.bus != nil {
		s.bus.Publish("event."+eventType, payload)
	}
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
