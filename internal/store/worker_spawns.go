package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// WorkerSpawn is a record of an agent dispatching work to an ephemeral
// container worker.
type WorkerSpawn struct {
	SpawnID       string
	AgentID       string
	CorrelationID string
	Task          string
	Status        string // pending | running | succeeded | failed
	ContainerID   string
	CreatedAt     time.Time
	FinishedAt    *time.Time
	Result        string
}

// CreateWorkerSpawn inserts a new pending spawn record.
func (s *Store) CreateWorkerSpawn(ctx context.Context, w WorkerSpawn) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_spawns (spawn_id, agent_id, correlation_id, task, status, created_at)
		VALUES (?, ?, ?, ?, 'pending', ?)`,
		w.SpawnID, w.AgentID, w.CorrelationID, w.Task, now)
	return err
}

// MarkWorkerRunning attaches a container id once the sandbox starts.
func (s *Store) MarkWorkerRunning(ctx context.Context, spawnID, containerID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE worker_spawns SET status = 'running', container_id = ? WHERE spawn_id = ?`, containerID, spawnID)
	return err
}

// FinishWorkerSpawn records the terminal outcome of a worker spawn.
func (s *Store) FinishWorkerSpawn(ctx context.Context, spawnID, status, result string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		UPDATE worker_spawns SET status = ?, result = ?, finished_at = ? WHERE spawn_id = ?`, status, result, now, spawnID)
	return err
}

// GetWorkerSpawn returns a spawn record by id.
func (s *Store) GetWorkerSpawn(ctx context.Context, spawnID string) (*WorkerSpawn, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT spawn_id, agent_id, correlation_id, task, status, COALESCE(container_id, ''), created_at, finished_at, COALESCE(result, '')
		FROM worker_spawns WHERE spawn_id = ?`, spawnID)

	var w WorkerSpawn
	var createdAt string
	var finishedAt sql.NullString
	err := row.Scan(&w.SpawnID, &w.AgentID, &w.CorrelationID, &w.Task, &w.Status, &w.ContainerID, &createdAt, &finishedAt, &w.Result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan worker_spawn: %w", err)
	}
	w.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if finishedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, finishedAt.String)
		w.FinishedAt = &t
	}
	return &w, nil
}

// ListActiveWorkerSpawns returns spawns not yet in a terminal state, used by
// the scheduler's health-check job to reconcile against live containers.
func (s *Store) ListActiveWorkerSpawns(ctx context.Context) ([]WorkerSpawn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT spawn_id, agent_id, correlation_id, task, status, COALESCE(container_id, ''), created_at, finished_at, COALESCE(result, '')
		FROM worker_spawns WHERE status IN ('pending', 'running') ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WorkerSpawn
	for rows.Next() {
		var w WorkerSpawn
		var createdAt string
		var finishedAt sql.NullString
		if err := rows.Scan(&w.SpawnID, &w.AgentID, &w.CorrelationID, &w.Task, &w.Status, &w.ContainerID, &createdAt, &finishedAt, &w.Result); err != nil {
			return nil, err
		}
		w.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if finishedAt.Valid {
			t, _ := time.Parse(time.RFC3339Nano, finishedAt.String)
			w.FinishedAt = &t
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
