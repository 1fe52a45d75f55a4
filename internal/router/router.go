// Package router selects which provider (claude, gemini, openai) should
// handle a given deliberation turn, and drives execution against that
// provider with circuit-breaker-protected fallback.
//
// Routing is a pure decision: Route(strategy, ctx) never touches a
// provider. Execute runs the decision against live Adapters, falling back
// on quota exhaustion or a retryable failure.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/agentcore/orchestrator/internal/pricing"
	"github.com/agentcore/orchestrator/internal/sessionpool"
)

// Strategy names a routing strategy, selectable at runtime via
// systemSettings.llm.routing_strategy.
type Strategy string

const (
	StrategyClaudeOnly   Strategy = "claude-only"
	StrategyTaskType     Strategy = "task-type"
	StrategyAgentRole    Strategy = "agent-role"
	StrategyGeminiPrefer Strategy = "gemini-prefer"
	StrategyLoadBalance  Strategy = "load-balance"
)

const (
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// TaskContext carries the routing inputs a strategy can key off of. All
// fields are optional; zero values mean "no context".
type TaskContext struct {
	AgentType           string
	TaskType            string
	Priority            string
	RequiresReasoning   bool
	EstimatedComplexity pricing.Complexity
}

// Decision is the outcome of a routing strategy: which provider to try
// first, which to fall back to, and why.
type Decision struct {
	Primary  string
	Fallback string
	Reason   string
}

// Route applies strategy to ctx and returns the provider decision. It
// never calls a provider; availability only affects load-balance, which
// is defined in terms of it.
func Route(strategy Strategy, ctx TaskContext, available map[string]bool) Decision {
	switch strategy {
	case StrategyClaudeOnly:
		return Decision{Primary: ProviderClaude, Fallback: ProviderClaude, Reason: "claude-only strategy"}

	case StrategyAgentRole:
		if isClaudeRole(ctx.AgentType) {
			return Decision{Primary: ProviderClaude, Fallback: ProviderGemini, Reason: fmt.Sprintf("agent-role: %s routes to claude", ctx.AgentType)}
		}
		return Decision{Primary: ProviderGemini, Fallback: ProviderClaude, Reason: fmt.Sprintf("agent-role: %s routes to gemini", ctx.AgentType)}

	case StrategyGeminiPrefer:
		if ctx.Priority == "critical" {
			return Decision{Primary: ProviderClaude, Fallback: ProviderGemini, Reason: "gemini-prefer: critical priority overrides to claude"}
		}
		if ctx.RequiresReasoning {
			return Decision{Primary: ProviderClaude, Fallback: ProviderGemini, Reason: "gemini-prefer: reasoning required overrides to claude"}
		}
		return Decision{Primary: ProviderGemini, Fallback: ProviderClaude, Reason: "gemini-prefer: default"}

	case StrategyLoadBalance:
		return routeLoadBalance(available)

	case StrategyTaskType:
		return routeTaskType(ctx)

	default:
		return routeTaskType(ctx)
	}
}

func isClaudeRole(agentType string) bool {
	switch agentType {
	case "ceo", "dao", "cto":
		return true
	default:
		return false
	}
}

func routeLoadBalance(available map[string]bool) Decision {
	order := []string{ProviderClaude, ProviderGemini, ProviderOpenAI}
	primary := order[0]
	for _, p := range order {
		if available == nil || available[p] {
			primary = p
			break
		}
	}
	fallback := ProviderClaude
	if primary == ProviderClaude {
		fallback = ProviderGemini
	}
	return Decision{Primary: primary, Fallback: fallback, Reason: "load-balance: first available provider"}
}

func routeTaskType(ctx TaskContext) Decision {
	decide := func(primary, reason string) Decision {
		fallback := ProviderGemini
		if primary == ProviderGemini {
			fallback = ProviderClaude
		}
		d := Decision{Primary: primary, Fallback: fallback, Reason: reason}
		if ctx.Priority == "critical" && d.Primary != ProviderClaude {
			return Decision{Primary: ProviderClaude, Fallback: ProviderGemini, Reason: "task-type: critical priority overrides to claude"}
		}
		return d
	}

	if ctx.AgentType == "" && ctx.TaskType == "" {
		return decide(ProviderClaude, "task-type: no context, defaulting to claude")
	}
	if ctx.RequiresReasoning {
		return decide(ProviderClaude, "task-type: reasoning required")
	}
	switch ctx.TaskType {
	case "spawn_worker", "operational", "create_task", "alert":
		return decide(ProviderGemini, fmt.Sprintf("task-type: %s is a routine task", ctx.TaskType))
	case "propose_decision", "vote":
		return decide(ProviderClaude, fmt.Sprintf("task-type: %s requires deliberation", ctx.TaskType))
	case "loop":
		if ctx.EstimatedComplexity == pricing.ComplexityComplex {
			return decide(ProviderClaude, "task-type: complex loop")
		}
		return decide(ProviderGemini, "task-type: non-complex loop")
	default:
		return decide(ProviderClaude, "task-type: unrecognized task type, defaulting to claude")
	}
}

// SettingsStore is the subset of the durable store used to persist circuit
// breaker state across restarts, keyed like any other system setting.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// CircuitBreaker tracks consecutive failures for one provider.
type CircuitBreaker struct {
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure"`
	Tripped     bool      `json:"tripped"`
}

// QuotaChecker reports whether a provider's quota is exhausted, checked
// before a send so the router can skip straight to fallback.
type QuotaChecker func(ctx context.Context, provider string) (exhausted bool, err error)

// Router drives execution of a routing Decision against live Adapters,
// generalizing a failover-brain pattern (fanning out over a pluggable
// interface on repeated failure) to sessionpool.Adapter.
type Router struct {
	Strategy       Strategy
	EnableFallback bool

	adapters map[string]sessionpool.Adapter

	mu             sync.Mutex
	breakers       map[string]*CircuitBreaker
	threshold      int
	cooldownPeriod time.Duration

	settings   SettingsStore
	quotaCheck QuotaChecker
}

// NewRouter builds a Router over the given provider adapters (keyed by
// "claude"/"gemini"/"openai"). threshold<=0 defaults to 5 consecutive
// failures; cooldown<=0 defaults to 5 minutes.
func NewRouter(strategy Strategy, adapters map[string]sessionpool.Adapter, threshold int, cooldown time.Duration) *Router {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	breakers := make(map[string]*CircuitBreaker, len(adapters))
	for name := range adapters {
		breakers[name] = &CircuitBreaker{}
	}
	return &Router{
		Strategy:       strategy,
		EnableFallback: true,
		adapters:       adapters,
		breakers:       breakers,
		threshold:      threshold,
		cooldownPeriod: cooldown,
	}
}

// SetSettingsStore enables circuit breaker state persistence across restarts.
func (r *Router) SetSettingsStore(s SettingsStore) { r.settings = s }

// SetQuotaChecker wires a callback consulted before sending to a provider.
func (r *Router) SetQuotaChecker(c QuotaChecker) { r.quotaCheck = c }

// SelectModel returns the concrete model id for a provider at a given
// complexity.
func (r *Router) SelectModel(provider string, complexity pricing.Complexity) string {
	return pricing.ModelFor(provider, complexity)
}

func (r *Router) availability() map[string]bool {
	out := make(map[string]bool, len(r.adapters))
	for name, a := range r.adapters {
		out[name] = a.IsAvailable()
	}
	return out
}

// Execute routes ctx, then runs the primary adapter, falling back to the
// decision's fallback provider on quota exhaustion or a retryable failure.
// Returns the reply, the provider that actually served it, and the routing
// reason.
func (r *Router) Execute(ctx context.Context, taskCtx TaskContext, systemPrompt, prompt string) (reply, provider, reason string, err error) {
	decision := Route(r.Strategy, taskCtx, r.availability())

	candidates := []string{decision.Primary}
	if r.EnableFallback && decision.Fallback != "" && decision.Fallback != decision.Primary {
		candidates = append(candidates, decision.Fallback)
	}

	var lastErr error
	var skips []string // e.g. "quota exhausted for gemini", in candidate order
	reasonFor := func(served string) string {
		if served == decision.Primary || len(skips) == 0 {
			return decision.Reason
		}
		return fmt.Sprintf("%s, fell back to %s", strings.Join(skips, "; "), served)
	}

	for _, name := range candidates {
		adapter, ok := r.adapters[name]
		if !ok || !adapter.IsAvailable() {
			skips = append(skips, fmt.Sprintf("%s unavailable", name))
			continue
		}
		if r.isTripped(name) {
			slog.Info("router: skipping tripped provider", "provider", name)
			skips = append(skips, fmt.Sprintf("circuit open for %s", name))
			continue
		}
		if r.quotaCheck != nil {
			exhausted, qerr := r.quotaCheck(ctx, name)
			if qerr == nil && exhausted {
				slog.Info("router: skipping provider, quota exhausted", "provider", name)
				skips = append(skips, fmt.Sprintf("quota exhausted for %s", name))
				continue
			}
		}

		text, _, genErr := adapter.Generate(ctx, systemPrompt, prompt)
		if genErr == nil {
			r.recordSuccess(name)
			return text, name, reasonFor(name), nil
		}

		lastErr = genErr
		r.recordFailure(name)
		ec := sessionpool.ClassifyError(genErr)
		slog.Warn("router: provider failed", "provider", name, "error_class", string(ec), "error", genErr)
		if ec == sessionpool.ErrorClassContextOverflow {
			return "", name, reasonFor(name), fmt.Errorf("router: context overflow from %s: %w", name, genErr)
		}
	}

	if lastErr == nil {
		return "", "", decision.Reason, fmt.Errorf("router: no available provider for strategy %s", r.Strategy)
	}
	return "", "", decision.Reason, fmt.Errorf("router: all providers failed, last error: %w", lastErr)
}

func (r *Router) isTripped(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[name]
	if !ok || !cb.Tripped {
		return false
	}
	if time.Since(cb.LastFailure) >= r.cooldownPeriod {
		cb.Tripped = false
		cb.Failures = 0
		slog.Info("router: circuit breaker reset after cooldown", "provider", name)
		return false
	}
	return true
}

func (r *Router) recordFailure(name string) {
	r.mu.Lock()
	cb, ok := r.breakers[name]
	if !ok {
		cb = &CircuitBreaker{}
		r.breakers[name] = cb
	}
	cb.Failures++
	cb.LastFailure = time.Now().UTC()
	if cb.Failures >= r.threshold {
		cb.Tripped = true
		slog.Warn("router: circuit breaker tripped", "provider", name, "failures", cb.Failures)
	}
	snapshot := *cb
	r.mu.Unlock()
	r.persistBreakerState(name, snapshot)
}

func (r *Router) recordSuccess(name string) {
	r.mu.Lock()
	cb, ok := r.breakers[name]
	if !ok {
		r.mu.Unlock()
		return
	}
	cb.Failures = 0
	cb.Tripped = false
	snapshot := *cb
	r.mu.Unlock()
	r.persistBreakerState(name, snapshot)
}

func (r *Router) persistBreakerState(name string, cb CircuitBreaker) {
	if r.settings == nil {
		return
	}
	data, err := json.Marshal(cb)
	if err != nil {
		return
	}
	_ = r.settings.SetSetting(context.Background(), "router.breaker."+name, string(data))
}

// LoadBreakerState restores circuit breaker state from the settings store,
// called once at startup.
func (r *Router) LoadBreakerState(ctx context.Context) {
	if r.settings == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, cb := range r.breakers {
		val, err := r.settings.GetSetting(ctx, "router.breaker."+name)
		if err != nil || val == "" {
			continue
		}
		var restored CircuitBreaker
		if err := json.Unmarshal([]byte(val), &restored); err != nil {
			continue
		}
		*cb = restored
	}
}
