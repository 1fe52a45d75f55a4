// Package store is the durable store (sqlite-backed) holding agent
// configuration and runtime state, decisions, escalations, events, worker
// spawns, system settings, and quota counters. It is the source of truth
// agents rehydrate from on restart.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentcore/orchestrator/internal/bus"
	_ "github.com/mattn/go-sqlite3"
)

const (
	schemaVersionV1  = 1
	schemaChecksumV1 = "orchestrator-v1-agents-decisions-events"

	schemaVersionV2  = 2
	schemaChecksumV2 = "orchestrator-v2-escalations-quota-settings"

	schemaVersionV3  = 3
	schemaChecksumV3 = "orchestrator-v3-agent-history-embeddings"

	schemaVersionLatest  = schemaVersionV3
	schemaChecksumLatest = schemaChecksumV3
)

// Store wraps the sqlite connection plus an optional event bus used to
// mirror committed state transitions as durable Events.
type Store struct {
	db  *sql.DB
	bus *bus.Bus
}

// DefaultDBPath returns the default sqlite file location under the user's
// home directory.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".agentcore", "orchestrator.db")
}

// Open opens (and migrates) the sqlite database at path. A nil eventBus is
// valid; callers that don't need event mirroring (tests, tools) can skip it.
func Open(path string, eventBus *bus.Bus) (*Store, error) {
	if path == "" {
		path = DefaultDBPath()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, bus: eventBus}
	if err := s.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying connection for tools that need raw access
// (backups, ad hoc inspection).
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

// retryOnBusy retries f when sqlite reports the database as busy or locked,
// using bounded exponential backoff with jitter. Single-writer sqlite under
// concurrent agent loops makes transient BUSY errors routine, not exceptional.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay/2) + 1))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") ||
		strings.Contains(msg, "(6)")
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version   INTEGER PRIMARY KEY,
			checksum  TEXT NOT NULL,
			applied_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	current, err := s.currentSchemaVersion(ctx, tx)
	if err != nil {
		return err
	}

	if current < schemaVersionV1 {
		if err := s.migrateV1(ctx, tx); err != nil {
			return fmt.Errorf("migrate v1: %w", err)
		}
		if err := s.recordSchemaVersion(ctx, tx, schemaVersionV1, schemaChecksumV1); err != nil {
			return err
		}
	}
	if current < schemaVersionV2 {
		if err := s.migrateV2(ctx, tx); err != nil {
			return fmt.Errorf("migrate v2: %w", err)
		}
		if err := s.recordSchemaVersion(ctx, tx, schemaVersionV2, schemaChecksumV2); err != nil {
			return err
		}
	}
	if current < schemaVersionV3 {
		if err := s.migrateV3(ctx, tx); err != nil {
			return fmt.Errorf("migrate v3: %w", err)
		}
		if err := s.recordSchemaVersion(ctx, tx, schemaVersionV3, schemaChecksumV3); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) currentSchemaVersion(ctx context.Context, tx *sql.Tx) (int, error) {
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	var v int
	if err := row.Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

func (s *Store) recordSchemaVersion(ctx context.Context, tx *sql.Tx, version int, checksum string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, checksum, applied_at) VALUES (?, ?, ?)`,
		version, checksum, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *Store) migrateV1(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			agent_id        TEXT PRIMARY KEY,
			role            TEXT NOT NULL,
			display_name    TEXT NOT NULL,
			profile         TEXT NOT NULL,
			loop_interval_s INTEGER NOT NULL,
			status          TEXT NOT NULL,
			provider        TEXT NOT NULL,
			model           TEXT NOT NULL,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS agent_state (
			agent_id    TEXT PRIMARY KEY REFERENCES agents(agent_id),
			phase       TEXT NOT NULL,
			last_run_at TEXT,
			next_run_at TEXT,
			error_count INTEGER NOT NULL DEFAULT 0,
			last_error  TEXT,
			updated_at  TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type     TEXT NOT NULL,
			agent_id       TEXT,
			correlation_id TEXT,
			payload        TEXT NOT NULL,
			created_at     TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_agent ON events(agent_id);`,
		`CREATE INDEX IF NOT EXISTS idx_events_correlation ON events(correlation_id);`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) migrateV2(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS decisions (
			decision_id    TEXT PRIMARY KEY,
			proposer_id    TEXT NOT NULL,
			tier           TEXT NOT NULL,
			subject        TEXT NOT NULL,
			status         TEXT NOT NULL,
			veto_round     INTEGER NOT NULL DEFAULT 0,
			correlation_id TEXT NOT NULL,
			deadline_at    TEXT,
			resolved_at    TEXT,
			resolution     TEXT,
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS decision_votes (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			decision_id TEXT NOT NULL REFERENCES decisions(decision_id),
			agent_id    TEXT NOT NULL,
			vote        TEXT NOT NULL,
			reason      TEXT,
			cast_at     TEXT NOT NULL,
			UNIQUE(decision_id, agent_id)
		);`,
		`CREATE TABLE IF NOT EXISTS escalations (
			escalation_id     TEXT PRIMARY KEY,
			decision_id       TEXT REFERENCES decisions(decision_id),
			correlation_id    TEXT NOT NULL,
			reason            TEXT NOT NULL,
			status            TEXT NOT NULL,
			channels_notified TEXT NOT NULL DEFAULT '[]',
			created_at        TEXT NOT NULL,
			resolved_at       TEXT,
			resolution        TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS system_settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS quota_buckets (
			provider    TEXT NOT NULL,
			window_kind TEXT NOT NULL,
			window_start TEXT NOT NULL,
			prompt_tokens     INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			request_count     INTEGER NOT NULL DEFAULT 0,
			cost_usd          REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (provider, window_kind, window_start)
		);`,
		`CREATE TABLE IF NOT EXISTS worker_spawns (
			spawn_id       TEXT PRIMARY KEY,
			agent_id       TEXT NOT NULL,
			correlation_id TEXT NOT NULL,
			task           TEXT NOT NULL,
			status         TEXT NOT NULL,
			container_id   TEXT,
			created_at     TEXT NOT NULL,
			finished_at    TEXT,
			result         TEXT
		);`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) migrateV3(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agent_history (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id   TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			embedding  BLOB,
			tokens     INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_agent_history_agent ON agent_history(agent_id, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
