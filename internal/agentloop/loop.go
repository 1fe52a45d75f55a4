// Package agentloop implements the per-agent deliberation loop: load essential state, assemble a bounded-size prompt, execute
// against the session pool with bounded retries, parse the structured
// action list the model returns, and dispatch each action to the
// collaborator that owns it.
//
// Run's signature matches scheduler.LoopRunner exactly, so a Runner is
// wired into scheduler.Config.RunLoop directly — the scheduler already
// owns per-agent concurrency (one in-flight loop per agent) and error-count
// bookkeeping (RecordAgentError/ClearAgentErrors), so this package focuses
// purely on one loop's content.
package agentloop

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentcore/orchestrator/internal/bus"
	"github.com/agentcore/orchestrator/internal/datacache"
	"github.com/agentcore/orchestrator/internal/decision"
	"github.com/agentcore/orchestrator/internal/router"
	"github.com/agentcore/orchestrator/internal/sessionpool"
	"github.com/agentcore/orchestrator/internal/store"
	"github.com/agentcore/orchestrator/internal/tokenutil"
)

const (
	historyRecallK     = 8
	historyTokenBudget = 250
	maxSendRetries     = 3
	loopTimeout        = 90 * time.Second
)

// Runner owns every collaborator a deliberation loop needs to read context
// from and dispatch actions to.
type Runner struct {
	Store     *store.Store
	Bus       *bus.Bus
	Pool      *sessionpool.Pool
	Router    *router.Router // optional: used as a last-resort fallback provider
	Decisions *decision.Engine
	DataCache *datacache.Cache
	Validator *Validator
	Launcher  ContainerLauncher // optional: starts the container behind a spawn_worker action
	Logger    *slog.Logger
}

// ContainerLauncher starts the container a spawn_worker action requests.
// Satisfied by *container.Manager; kept as an interface here so agentloop
// doesn't import the docker client directly.
type ContainerLauncher interface {
	Start(ctx context.Context, spawnID, cmd string) (containerID string, err error)
}

// New builds a Runner with sane defaults for optional fields.
func New(s *store.Store, b *bus.Bus, pool *sessionpool.Pool, r *router.Router, d *decision.Engine, dc *datacache.Cache, logger *slog.Logger) (*Runner, error) {
	v, err := NewValidator(0)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{Store: s, Bus: b, Pool: pool, Router: r, Decisions: d, DataCache: dc, Validator: v, Logger: logger}, nil
}

// Run executes one deliberation loop for agentID. It matches
// scheduler.LoopRunner's signature.
func (r *Runner) Run(ctx context.Context, agentID string) error {
	loopCtx, cancel := context.WithTimeout(ctx, loopTimeout)
	defer cancel()

	agent, err := r.Store.GetAgent(loopCtx, agentID)
	if err != nil {
		return fmt.Errorf("agentloop: load agent: %w", err)
	}
	state, err := r.Store.GetAgentState(loopCtx, agentID)
	if err != nil {
		return fmt.Errorf("agentloop: load agent state: %w", err)
	}

	promptCtx, err := r.buildContext(loopCtx, agent)
	if err != nil {
		return fmt.Errorf("agentloop: assemble context: %w", err)
	}
	prompt := renderPrompt(agent, state, promptCtx)

	if err := r.Store.AppendHistory(loopCtx, agentID, "user", prompt, nil, len(prompt)/4); err != nil {
		r.Logger.Warn("agentloop: append prompt history failed", "agent_id", agentID, "error", err)
	}

	reply, provider, err := r.execute(loopCtx, agent, prompt)
	if err != nil {
		_ = r.Store.AppendHistory(loopCtx, agentID, "system", "loop failed: "+err.Error(), nil, 0)
		return fmt.Errorf("agentloop: execute: %w", err)
	}

	result, err := r.Validator.Parse(reply)
	if err != nil {
		_ = r.Store.AppendHistory(loopCtx, agentID, "assistant", reply, nil, len(reply)/4)
		return fmt.Errorf("agentloop: parse result: %w", err)
	}

	for _, action := range result.Actions {
		if derr := r.dispatch(loopCtx, agent, action); derr != nil {
			r.Logger.Warn("agentloop: action dispatch failed", "agent_id", agentID, "action_type", action.Type, "error", derr)
		}
	}

	summary := result.Summary
	if provider != "" {
		summary = fmt.Sprintf("[%s] %s", provider, summary)
	}
	if err := r.Store.AppendHistory(loopCtx, agentID, "assistant", summary, nil, len(reply)/4); err != nil {
		r.Logger.Warn("agentloop: append result history failed", "agent_id", agentID, "error", err)
	}
	return nil
}

// promptContext holds everything rendered into the prompt body.
type promptContext struct {
	DataBlock        string
	RecentHistory    []store.HistoryItem
	PendingDecisions []store.Decision
	ActiveSpawns     []store.WorkerSpawn
	KanbanCounts     map[string]int
}

func (r *Runner) buildContext(ctx context.Context, agent *store.Agent) (promptContext, error) {
	var pc promptContext

	if r.DataCache != nil {
		pc.DataBlock = r.DataCache.BuildDataContext()
	}

	history, err := r.Store.RecallHistory(ctx, agent.AgentID, nil, historyRecallK)
	if err != nil {
		return pc, err
	}
	pc.RecentHistory = truncateHistory(history, historyTokenBudget)

	if r.Decisions != nil {
		pending, err := r.Decisions.PendingForRole(ctx, agent.Role)
		if err != nil {
			return pc, err
		}
		pc.PendingDecisions = pending
	}

	spawns, err := r.Store.ListActiveWorkerSpawns(ctx)
	if err != nil {
		return pc, err
	}
	pc.KanbanCounts = make(map[string]int)
	for _, sp := range spawns {
		pc.KanbanCounts[sp.Status]++
		if sp.AgentID == agent.AgentID {
			pc.ActiveSpawns = append(pc.ActiveSpawns, sp)
		}
	}

	return pc, nil
}

// truncateHistory keeps the most recent items first, within a total
// estimated-token budget, so the RAG section never blows the prompt past
// the provider's context window.
func truncateHistory(items []store.HistoryItem, budget int) []store.HistoryItem {
	var out []store.HistoryItem
	used := 0
	for i := len(items) - 1; i >= 0; i-- {
		l := tokenutil.EstimateTokens(items[i].Content)
		if used+l > budget && len(out) > 0 {
			break
		}
		out = append([]store.HistoryItem{items[i]}, out...)
		used += l
	}
	return out
}

func renderPrompt(agent *store.Agent, state *store.AgentState, pc promptContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Trigger\nscheduled loop for %s (%s)\n\n", agent.DisplayName, agent.Role)

	fmt.Fprintf(&b, "## Current State\nphase: %s\n", state.Phase)
	if state.LastRunAt != nil {
		fmt.Fprintf(&b, "last run: %s\n", state.LastRunAt.Format(time.RFC3339))
	}
	if state.ErrorCount > 0 {
		fmt.Fprintf(&b, "recent error count: %d (%s)\n", state.ErrorCount, state.LastError)
	}
	b.WriteString("\n")

	if pc.DataBlock != "" {
		b.WriteString("## Market Data\n")
		b.WriteString(pc.DataBlock)
		b.WriteString("\n")
	}

	if len(pc.RecentHistory) > 0 {
		b.WriteString("## Relevant History\n")
		for _, h := range pc.RecentHistory {
			fmt.Fprintf(&b, "- [%s] %s\n", h.Role, h.Content)
		}
		b.WriteString("\n")
	}

	if len(pc.ActiveSpawns) > 0 {
		b.WriteString("## Pending Tasks\n")
		for _, sp := range pc.ActiveSpawns {
			fmt.Fprintf(&b, "- %s: %s (%s)\n", sp.SpawnID, sp.Task, sp.Status)
		}
		b.WriteString("\n")
	}

	if len(pc.PendingDecisions) > 0 {
		b.WriteString("## Pending Decisions Needing Your Vote\n")
		for _, d := range pc.PendingDecisions {
			fmt.Fprintf(&b, "- %s [%s]: %s\n", d.DecisionID, d.Tier, d.Subject)
		}
		b.WriteString("\n")
	}

	if len(pc.KanbanCounts) > 0 {
		b.WriteString("## Kanban Status\n")
		for status, n := range pc.KanbanCounts {
			fmt.Fprintf(&b, "- %s: %d\n", status, n)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Date/Time\n%s\n\n", time.Now().UTC().Format(time.RFC3339))

	b.WriteString("## Instructions\n")
	b.WriteString("Review the context above and respond with a JSON object of the form ")
	b.WriteString(`{"actions": [...], "summary": "..."}. `)
	b.WriteString("Each action has a \"type\" field (create_task, propose_decision, vote, spawn_worker, alert) ")
	b.WriteString("plus whatever fields that type needs. Omit actions you have no reason to take.\n")

	return b.String()
}

// execute sends the prompt through the session pool with bounded retries
// on retryable failures, falling back to a router-selected provider only
// once the session pool's own retries are exhausted.
func (r *Runner) execute(ctx context.Context, agent *store.Agent, prompt string) (reply, provider string, err error) {
	var lastErr error
	for attempt := 0; attempt < maxSendRetries; attempt++ {
		reply, lastErr = r.Pool.SendMessage(ctx, agent.AgentID, agent.Profile, prompt, 60)
		if lastErr == nil {
			return reply, agent.Provider, nil
		}
		class := sessionpool.ClassifyError(lastErr)
		if !retryable(class) {
			break
		}
		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}

	if r.Router != nil {
		taskCtx := router.TaskContext{AgentType: agent.Role, TaskType: "loop"}
		reply, chosen, _, rerr := r.Router.Execute(ctx, taskCtx, agent.Profile, prompt)
		if rerr == nil {
			return reply, chosen, nil
		}
		return "", "", fmt.Errorf("primary failed (%w), fallback also failed: %v", lastErr, rerr)
	}
	return "", "", lastErr
}

func retryable(class sessionpool.ErrorClass) bool {
	switch class {
	case sessionpool.ErrorClassTimeout, sessionpool.ErrorClassRateLimit, sessionpool.ErrorClassUnknown:
		return true
	default:
		return false
	}
}

func backoff(attempt int) time.Duration {
	base := time.Duration(1<<attempt) * 500 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(base) + 1))
	return base + jitter
}

// dispatch routes one parsed action to the collaborator that owns it.
// Unknown action types are dropped with a log line.
func (r *Runner) dispatch(ctx context.Context, agent *store.Agent, a Action) error {
	switch a.Type {
	case "create_task":
		r.Bus.PublishMessage(bus.ChannelForAgent(targetOr(a.AgentID, agent.AgentID)), bus.Message{
			ID:       uuid.NewString(),
			Type:     bus.MessageTypeTaskQueued,
			From:     agent.AgentID,
			To:       targetOr(a.AgentID, agent.AgentID),
			Payload:  map[string]string{"task": a.Task},
			Priority: priorityOr(a.Priority),
		})
		return nil

	case "propose_decision":
		tier := store.DecisionTier(a.Tier)
		return r.Decisions.Propose(ctx, uuid.NewString(), agent.AgentID, tier, a.Subject, a.DecisionID)

	case "vote":
		return r.Decisions.CastVote(ctx, a.DecisionID, agent.Role, a.Vote, a.Reason)

	case "spawn_worker":
		spawnID := uuid.NewString()
		if err := r.Store.CreateWorkerSpawn(ctx, store.WorkerSpawn{
			SpawnID:       spawnID,
			AgentID:       agent.AgentID,
			CorrelationID: a.DecisionID,
			Task:          a.Task,
		}); err != nil {
			return err
		}
		if r.Launcher == nil {
			return nil
		}
		containerID, err := r.Launcher.Start(ctx, spawnID, a.Task)
		if err != nil {
			return r.Store.FinishWorkerSpawn(ctx, spawnID, "failed", err.Error())
		}
		return r.Store.MarkWorkerRunning(ctx, spawnID, containerID)

	case "alert":
		r.Bus.PublishMessage(bus.ChannelBroadcast, bus.Message{
			ID:       uuid.NewString(),
			Type:     bus.MessageTypeAlert,
			From:     agent.AgentID,
			To:       "all",
			Payload:  map[string]string{"message": a.Message},
			Priority: priorityOr(a.Priority),
		})
		return nil

	default:
		r.Logger.Info("agentloop: dropping unknown action type", "agent_id", agent.AgentID, "action_type", a.Type)
		return nil
	}
}

func targetOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func priorityOr(v string) bus.Priority {
	if v == "" {
		return bus.PriorityNormal
	}
	return bus.Priority(v)
}
