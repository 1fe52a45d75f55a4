// Package agent manages the lifecycle of the fixed seven-role agent
// roster (CEO, DAO, CMO, CTO, CFO, COO, CCO): bootstrapping them into the
// store on first run, restoring them on restart, and exposing pause/resume
// controls the scheduler and operators use.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentcore/orchestrator/internal/store"
)

// Role is one of the seven fixed executive roles this platform runs.
type Role string

const (
	RoleCEO Role = "CEO"
	RoleDAO Role = "DAO"
	RoleCMO Role = "CMO"
	RoleCTO Role = "CTO"
	RoleCFO Role = "CFO"
	RoleCOO Role = "COO"
	RoleCCO Role = "CCO"
)

// AllRoles is the fixed roster in canonical order.
var AllRoles = []Role{RoleCEO, RoleDAO, RoleCMO, RoleCTO, RoleCFO, RoleCOO, RoleCCO}

// Profile is the static configuration for one role, supplied at startup
//.
type Profile struct {
	// AgentID is the store's primary key for this agent. When empty, it
	// defaults to the lowercase role name (one agent per role) — set it
	// explicitly to run more than one agent against the same role.
	AgentID      string
	Role         Role
	DisplayName  string
	SystemPrompt string
	Provider     string
	Model        string
	LoopInterval time.Duration
}

// Registry tracks the roster's persisted state and provides lifecycle
// operations. It does not itself run deliberation loops — the scheduler
// calls back into the agent loop package for that — but it is the
// authority on which agents exist and whether they're active.
type Registry struct {
	mu    sync.RWMutex
	store *store.Store
}

// NewRegistry creates a Registry bound to the durable store.
func NewRegistry(s *store.Store) *Registry {
	return &Registry{store: s}
}

// Bootstrap ensures every role in profiles has a corresponding agent row,
// creating any that are missing. Existing agents are left untouched so
// operator edits (status, model overrides) survive restarts.
func (r *Registry) Bootstrap(ctx context.Context, profiles []Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.store.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, a := range existing {
		have[a.AgentID] = true
	}

	for _, p := range profiles {
		agentID := p.AgentID
		if agentID == "" {
			agentID = roleAgentID(p.Role)
		}
		if have[agentID] {
			continue
		}
		a := store.Agent{
			AgentID:      agentID,
			Role:         roleAgentID(p.Role), // lowercase role key, matching router/decision's convention
			DisplayName:  p.DisplayName,
			Profile:      p.SystemPrompt,
			LoopInterval: p.LoopInterval,
			Status:       "active",
			Provider:     p.Provider,
			Model:        p.Model,
		}
		if err := r.store.CreateAgent(ctx, a); err != nil {
			return fmt.Errorf("bootstrap agent %q: %w", agentID, err)
		}
		slog.Info("agent bootstrapped", "agent_id", agentID, "role", p.Role)
	}
	return nil
}

func roleAgentID(r Role) string {
	switch r {
	case RoleCEO:
		return "ceo"
	case RoleDAO:
		return "dao"
	case RoleCMO:
		return "cmo"
	case RoleCTO:
		return "cto"
	case RoleCFO:
		return "cfo"
	case RoleCOO:
		return "coo"
	case RoleCCO:
		return "cco"
	default:
		return string(r)
	}
}

// List returns the full persisted roster.
func (r *Registry) List(ctx context.Context) ([]store.Agent, error) {
	return r.store.ListAgents(ctx)
}

// Get returns a single agent by id.
func (r *Registry) Get(ctx context.Context, agentID string) (*store.Agent, error) {
	return r.store.GetAgent(ctx, agentID)
}

// Pause stops an agent's loop from being scheduled (human override, or the
// health-check job reacting to repeated failures).
func (r *Registry) Pause(ctx context.Context, agentID string) error {
	return r.store.SetAgentStatus(ctx, agentID, "paused")
}

// Resume reactivates a paused agent.
func (r *Registry) Resume(ctx context.Context, agentID string) error {
	if err := r.store.SetAgentStatus(ctx, agentID, "active"); err != nil {
		return err
	}
	return r.store.ClearAgentErrors(ctx, agentID)
}

// Stop marks an agent permanently stopped. Unlike Pause, Stop is not
// expected to be reversed by the scheduler's health-check job.
func (r *Registry) Stop(ctx context.Context, agentID string) error {
	return r.store.SetAgentStatus(ctx, agentID, "stopped")
}
