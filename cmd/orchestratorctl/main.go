// Command orchestratorctl runs the agent orchestration platform: it
// bootstraps the seven-role agent roster, starts the scheduler that fires
// their deliberation loops on cadence, and serves the system jobs (health
// check, escalation sweep, daily digest) that keep the platform
// self-healing. Without a subcommand it runs the daemon. Three one-shot
// admin subcommands operate against the store without starting the
// scheduler: "status" prints the roster and quota snapshot, "decide"
// casts a vote on a pending decision, and "replay" prints an agent's
// recent deliberation history.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/agentcore/orchestrator/internal/agent"
	"github.com/agentcore/orchestrator/internal/agentloop"
	"github.com/agentcore/orchestrator/internal/audit"
	"github.com/agentcore/orchestrator/internal/bus"
	"github.com/agentcore/orchestrator/internal/config"
	"github.com/agentcore/orchestrator/internal/container"
	"github.com/agentcore/orchestrator/internal/datacache"
	"github.com/agentcore/orchestrator/internal/decision"
	"github.com/agentcore/orchestrator/internal/escalation"
	otelint "github.com/agentcore/orchestrator/internal/otel"
	"github.com/agentcore/orchestrator/internal/quota"
	"github.com/agentcore/orchestrator/internal/router"
	"github.com/agentcore/orchestrator/internal/scheduler"
	"github.com/agentcore/orchestrator/internal/sessionpool"
	"github.com/agentcore/orchestrator/internal/settings"
	"github.com/agentcore/orchestrator/internal/store"
	"github.com/agentcore/orchestrator/internal/telemetry"
)

func main() {
	subcommand := "run"
	if len(os.Args) > 1 {
		subcommand = os.Args[1]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	switch subcommand {
	case "status":
		runStatus(ctx, cfg)
		return
	case "decide":
		runDecide(ctx, cfg, os.Args[2:])
		return
	case "replay":
		runReplay(ctx, cfg, os.Args[2:])
		return
	case "run":
		// falls through to the daemon below
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q (expected \"run\", \"status\", \"decide\", or \"replay\")\n", subcommand)
		os.Exit(1)
	}

	if err := audit.Init(cfg.HomeDir); err != nil {
		fatalStartup(nil, "E_AUDIT_INIT", err)
	}
	defer func() { _ = audit.Close() }()

	logger, logCloser, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "needs_genesis", cfg.NeedsGenesis)

	if cfg.NeedsGenesis {
		if err := cfg.Save(); err != nil {
			logger.Warn("failed to persist genesis config.yaml", "error", err)
		} else {
			logger.Info("wrote seeded config.yaml", "path", config.ConfigPath(cfg.HomeDir))
		}
	}

	otelProvider, err := otelint.Init(ctx, otelConfigFromEnv())
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer func() { _ = otelProvider.Shutdown(context.Background()) }()
	metrics, err := otelint.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_OTEL_METRICS", err)
	}

	eventBus := bus.New()

	dbPath := cfg.StorePath
	if cfg.HomeDir != "" && dbPath != ":memory:" {
		dbPath = cfg.HomeDir + "/" + cfg.StorePath
	}
	db, err := store.Open(dbPath, eventBus)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer db.Close()
	logger.Info("startup phase", "phase", "schema_migrated")

	settingsReader := settings.NewReader(db, 0)

	registry := agent.NewRegistry(db)
	if err := registry.Bootstrap(ctx, profilesFromConfig(cfg.Agents)); err != nil {
		fatalStartup(logger, "E_AGENT_BOOTSTRAP", err)
	}
	logger.Info("startup phase", "phase", "agents_bootstrapped", "count", len(cfg.Agents))

	adapters := buildAdapters(ctx, cfg)

	strategy := router.Strategy(settingsReader.Get(ctx, settings.KeyRoutingStrategy, string(cfg.LLM.RoutingStrategy)))
	r := router.NewRouter(strategy, adapters, cfg.LLM.FailoverThreshold, time.Duration(cfg.LLM.FailoverCooldownSeconds)*time.Second)
	r.SetSettingsStore(db)
	r.LoadBreakerState(ctx)

	quotaMgr := quota.NewManager(db, eventBus, cfg.MonthlyTokenQuota, logger)
	r.SetQuotaChecker(func(ctx context.Context, provider string) (bool, error) {
		ok, err := quotaMgr.HasAvailableQuota(ctx, provider, 0)
		return !ok, err
	})

	var channels []escalation.Channel
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		channels = append(channels, escalation.NewTelegramChannel(cfg.Channels.Telegram.Token, cfg.Channels.Telegram.AllowedIDs, db, logger, eventBus))
	}
	if cfg.Channels.EmailEnabled {
		channels = append(channels, escalation.NewEmailChannel(db, logger, eventBus))
	}
	if cfg.Channels.DashboardEnabled {
		channels = append(channels, escalation.NewDashboardChannel(db, logger, eventBus))
	}
	channelNames := make([]string, len(channels))
	for i, c := range channels {
		channelNames[i] = c.Name()
	}

	decisionEngine := decision.NewEngine(db, eventBus, cfg.DecisionMaxVetoRounds, logger, channelNames)

	dataCache := datacache.New(nil, logger)
	dataCache.Start(ctx)

	sessionFactory := func(ctx context.Context, agentID string) (sessionpool.Adapter, error) {
		entry := findAgentEntry(cfg.Agents, agentID)
		if entry == nil {
			return nil, fmt.Errorf("no agent config entry for %q", agentID)
		}
		if a, ok := adapters[entry.Provider]; ok && a.IsAvailable() {
			return a, nil
		}
		return sessionpool.NewGenkitAdapter(ctx, entry.Provider, entry.Model), nil
	}
	pool := sessionpool.NewPool(sessionFactory, cfg.SessionPool.MaxLoopsPerSession, cfg.SessionPool.Enabled)

	var launcher *container.Manager
	if mgr, err := container.NewManager(cfg.Container.Image, cfg.Container.MemoryMB, cfg.Container.NetworkMode, cfg.Container.Workspace); err != nil {
		logger.Warn("container manager unavailable, spawn_worker actions will not launch containers", "error", err)
	} else {
		launcher = mgr
		defer launcher.Close()
	}

	runner, err := agentloop.New(db, eventBus, pool, r, decisionEngine, dataCache, logger)
	if err != nil {
		fatalStartup(logger, "E_AGENTLOOP_INIT", err)
	}
	if launcher != nil {
		runner.Launcher = launcher
	}

	sched := scheduler.New(scheduler.Config{
		Store:             db,
		Logger:            logger,
		HardTimeout:       time.Duration(cfg.Scheduler.HardTimeoutSeconds) * time.Second,
		RunLoop:           instrumentedRunLoop(runner.Run, metrics),
		HealthCheck:       healthCheckJob(db, launcher, logger),
		HealthCheckCron:   cfg.Scheduler.HealthCheckCron,
		EscalationTimeout: escalationTimeoutJob(decisionEngine),
		EscalationCron:    cfg.Scheduler.EscalationTimeoutCron,
		DailyDigest:       dailyDigestJob(registry, quotaMgr, eventBus, logger),
		DailyDigestCron:   cfg.Scheduler.DailyDigestCron,
	})
	sched.Start(ctx)
	defer sched.Stop()
	logger.Info("startup phase", "phase", "scheduler_started")

	for _, ch := range channels {
		go func(c escalation.Channel) {
			if err := c.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("escalation channel stopped with error", "channel", c.Name(), "error", err)
			}
		}(ch)
	}

	confWatcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := confWatcher.Start(ctx); err != nil {
		logger.Warn("config watcher failed to start", "error", err)
	} else {
		go func() {
			for ev := range confWatcher.Events() {
				logger.Info("config.yaml changed on disk", "path", ev.Path, "op", ev.Op.String())
				settingsReader.Invalidate(settings.KeyRoutingStrategy)
				settingsReader.Invalidate(settings.KeyEnableFallback)
			}
		}()
	}

	logger.Info("agentcore running", "fingerprint", cfg.Fingerprint())
	<-ctx.Done()
	logger.Info("shutdown signal received")
}

// runStatus opens the store read-only and prints one line per agent plus
// its monthly quota usage, without starting the scheduler or any provider
// adapters. Intended for operators checking platform state from a shell.
func runStatus(ctx context.Context, cfg config.Config) {
	dbPath := cfg.StorePath
	if cfg.HomeDir != "" && dbPath != ":memory:" {
		dbPath = cfg.HomeDir + "/" + cfg.StorePath
	}
	db, err := store.Open(dbPath, bus.New())
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: open store: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	quotaMgr := quota.NewManager(db, bus.New(), cfg.MonthlyTokenQuota, slog.Default())

	agents, err := db.ListAgents(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: list agents: %v\n", err)
		os.Exit(1)
	}
	for _, a := range agents {
		view, err := quotaMgr.GetProviderQuota(ctx, a.Provider)
		used := int64(0)
		quotaStr := "unbounded"
		if err == nil {
			used = view.Monthly.PromptTokens + view.Monthly.CompletionTokens
			if view.MonthlyQuota > 0 {
				quotaStr = fmt.Sprintf("%d/%d", used, view.MonthlyQuota)
			}
		}
		fmt.Printf("%-8s role=%-4s status=%-8s provider=%-8s model=%-28s quota=%s\n",
			a.AgentID, a.Role, a.Status, a.Provider, a.Model, quotaStr)
	}
}

// openAdminStore opens the store at cfg's configured path for a one-shot
// admin subcommand. Callers are responsible for closing the returned store.
func openAdminStore(cfg config.Config) *store.Store {
	dbPath := cfg.StorePath
	if cfg.HomeDir != "" && dbPath != ":memory:" {
		dbPath = cfg.HomeDir + "/" + cfg.StorePath
	}
	db, err := store.Open(dbPath, bus.New())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	return db
}

// runDecide casts a single vote on a pending decision and prints the
// decision's resulting status, without starting the scheduler or any
// agent loops. Usage: orchestratorctl decide <decision-id> <agent-id> <vote> [reason]
func runDecide(ctx context.Context, cfg config.Config, args []string) {
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: orchestratorctl decide <decision-id> <agent-id> <vote> [reason]")
		os.Exit(1)
	}
	decisionID, agentID, vote := args[0], args[1], args[2]
	reason := ""
	if len(args) > 3 {
		reason = strings.Join(args[3:], " ")
	}

	db := openAdminStore(cfg)
	defer db.Close()

	eng := decision.NewEngine(db, bus.New(), cfg.DecisionMaxVetoRounds, slog.Default(), nil)
	if err := eng.CastVote(ctx, decisionID, agentID, vote, reason); err != nil {
		fmt.Fprintf(os.Stderr, "decide: %v\n", err)
		os.Exit(1)
	}

	d, err := db.GetDecision(ctx, decisionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "decide: reload decision: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("decision=%s tier=%s status=%s veto_round=%d resolution=%q\n",
		d.DecisionID, d.Tier, d.Status, d.VetoRound, d.Resolution)
}

// runReplay prints an agent's recent deliberation history, oldest first.
// Usage: orchestratorctl replay <agent-id> [n]
func runReplay(ctx context.Context, cfg config.Config, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: orchestratorctl replay <agent-id> [n]")
		os.Exit(1)
	}
	agentID := args[0]
	n := 20
	if len(args) > 1 {
		if v, err := strconv.Atoi(args[1]); err == nil && v > 0 {
			n = v
		}
	}

	db := openAdminStore(cfg)
	defer db.Close()

	items, err := db.RecentHistory(ctx, agentID, n)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(1)
	}
	if len(items) == 0 {
		fmt.Printf("no history recorded for %s\n", agentID)
		return
	}
	for _, item := range items {
		fmt.Printf("[%s] %-9s %s\n", item.CreatedAt.Format("2006-01-02T15:04:05Z"), item.Role, item.Content)
	}
}

func profilesFromConfig(entries []config.AgentConfigEntry) []agent.Profile {
	out := make([]agent.Profile, 0, len(entries))
	for _, e := range entries {
		out = append(out, agent.Profile{
			AgentID:      e.AgentID,
			Role:         agent.Role(roleUpper(e.Role)),
			DisplayName:  e.DisplayName,
			SystemPrompt: e.Profile,
			Provider:     e.Provider,
			Model:        e.Model,
			LoopInterval: time.Duration(e.LoopIntervalSeconds) * time.Second,
		})
	}
	return out
}

func roleUpper(role string) string {
	switch role {
	case "ceo":
		return string(agent.RoleCEO)
	case "dao":
		return string(agent.RoleDAO)
	case "cmo":
		return string(agent.RoleCMO)
	case "cto":
		return string(agent.RoleCTO)
	case "cfo":
		return string(agent.RoleCFO)
	case "coo":
		return string(agent.RoleCOO)
	case "cco":
		return string(agent.RoleCCO)
	default:
		return role
	}
}

func findAgentEntry(entries []config.AgentConfigEntry, agentID string) *config.AgentConfigEntry {
	for i := range entries {
		if entries[i].AgentID == agentID {
			return &entries[i]
		}
	}
	return nil
}

func buildAdapters(ctx context.Context, cfg config.Config) map[string]sessionpool.Adapter {
	providers := []string{router.ProviderClaude, router.ProviderGemini, router.ProviderOpenAI}
	out := make(map[string]sessionpool.Adapter, len(providers))
	for _, p := range providers {
		if os.Getenv("LLM_TRANSPORT") == "subprocess" {
			if cmd := os.Getenv(strings.ToUpper(p) + "_SUBPROCESS_COMMAND"); cmd != "" {
				out[p] = sessionpool.NewStreamAdapter(p, cmd, nil)
				continue
			}
		}
		out[p] = sessionpool.NewGenkitAdapter(ctx, p, defaultModelFor(p))
	}
	return out
}

func defaultModelFor(provider string) string {
	switch provider {
	case router.ProviderClaude:
		return "claude-sonnet-4-5-20250929"
	case router.ProviderGemini:
		return "gemini-2.5-pro"
	case router.ProviderOpenAI:
		return "gpt-4o"
	default:
		return ""
	}
}

func otelConfigFromEnv() otelint.Config {
	exporter := os.Getenv("AGENTCORE_OTEL_EXPORTER")
	enabled := exporter != "" && exporter != "none"
	if exporter == "" {
		exporter = "none"
	}
	return otelint.Config{
		Enabled:     enabled,
		Exporter:    exporter,
		Endpoint:    os.Getenv("AGENTCORE_OTEL_ENDPOINT"),
		ServiceName: "agentcore",
		SampleRate:  1.0,
	}
}

func instrumentedRunLoop(run scheduler.LoopRunner, metrics *otelint.Metrics) scheduler.LoopRunner {
	return func(ctx context.Context, agentID string) error {
		metrics.ActiveLoops.Add(ctx, 1)
		defer metrics.ActiveLoops.Add(ctx, -1)
		start := time.Now()
		err := run(ctx, agentID)
		metrics.LoopDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(otelint.AttrAgentID.String(agentID)))
		metrics.LoopStepsTotal.Add(ctx, 1, metric.WithAttributes(otelint.AttrAgentID.String(agentID)))
		return err
	}
}

func healthCheckJob(db *store.Store, launcher *container.Manager, logger *slog.Logger) scheduler.SystemJob {
	return func(ctx context.Context) error {
		if launcher == nil {
			return nil
		}
		unhealthy, err := launcher.ListUnhealthy(ctx)
		if err != nil {
			return err
		}
		for _, spawnID := range unhealthy {
			logger.Warn("worker container unhealthy", "spawn_id", spawnID)
			if err := db.FinishWorkerSpawn(ctx, spawnID, "failed", "container not running"); err != nil {
				logger.Error("failed to mark unhealthy spawn failed", "spawn_id", spawnID, "error", err)
			}
		}
		return nil
	}
}

func escalationTimeoutJob(eng *decision.Engine) scheduler.SystemJob {
	return func(ctx context.Context) error {
		if err := eng.CheckDecisionTimeouts(ctx); err != nil {
			return err
		}
		return eng.CheckEscalationRetries(ctx)
	}
}

func dailyDigestJob(reg *agent.Registry, quotaMgr *quota.Manager, eventBus *bus.Bus, logger *slog.Logger) scheduler.SystemJob {
	return func(ctx context.Context) error {
		agents, err := reg.List(ctx)
		if err != nil {
			return err
		}
		for _, a := range agents {
			view, err := quotaMgr.GetProviderQuota(ctx, a.Provider)
			if err != nil {
				logger.Warn("daily digest: quota lookup failed", "provider", a.Provider, "error", err)
				continue
			}
			used := view.Monthly.PromptTokens + view.Monthly.CompletionTokens
			eventBus.Publish(bus.ChannelStatusFeed, map[string]any{
				"agent_id":      a.AgentID,
				"provider":      a.Provider,
				"monthly_used":  used,
				"monthly_quota": view.MonthlyQuota,
			})
		}
		return nil
	}
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	audit.Record("fatal", "runtime.startup", reasonCode, "", message)
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(os.Stderr, "startup failure [%s]: %s\n", reasonCode, message)
	}
	os.Exit(1)
}
