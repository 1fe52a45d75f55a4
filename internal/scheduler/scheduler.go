// Package scheduler fires agent deliberation loops on their configured
// cadence and runs the platform's periodic system jobs (health check,
// escalation timeout sweep, daily digest).
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/agentcore/orchestrator/internal/store"
)

// LoopRunner executes one deliberation cycle for an agent. Implemented by
// the agent loop package; the scheduler only knows when to call it.
type LoopRunner func(ctx context.Context, agentID string) error

// SystemJob is one of the platform's periodic maintenance tasks.
type SystemJob func(ctx context.Context) error

// Config holds the scheduler's dependencies.
type Config struct {
	Store    *store.Store
	Logger   *slog.Logger
	Interval time.Duration // agent due-check tick interval; defaults to 10s
	HardTimeout time.Duration // per-loop-run hard cancellation; defaults to 5 minutes

	RunLoop LoopRunner

	HealthCheck        SystemJob
	HealthCheckCron    string // default "*/5 * * * *"
	EscalationTimeout  SystemJob
	EscalationCron     string // default "* * * * *"
	DailyDigest        SystemJob
	DailyDigestCron    string // default "0 6 * * *"
}

// Scheduler fires agent loops on cadence and runs system jobs on cron
// schedules, with per-agent concurrency limited to one in-flight run and a
// hard timeout that cancels a run that overstays its welcome.
type Scheduler struct {
	store       *store.Store
	logger      *slog.Logger
	interval    time.Duration
	hardTimeout time.Duration
	runLoop     LoopRunner

	cron *cronlib.Cron

	cancel context.CancelFunc
	wg     sync.WaitGroup

	semMu sync.Mutex
	sems  map[string]chan struct{} // per-agent 1-slot semaphore
}

// New creates a Scheduler with the given config, registering its three
// system jobs on a robfig/cron runner.
func New(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	hardTimeout := cfg.HardTimeout
	if hardTimeout <= 0 {
		hardTimeout = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		store:       cfg.Store,
		logger:      logger,
		interval:    interval,
		hardTimeout: hardTimeout,
		runLoop:     cfg.RunLoop,
		sems:        make(map[string]chan struct{}),
		cron:        cronlib.New(),
	}

	healthCron := cfg.HealthCheckCron
	if healthCron == "" {
		healthCron = "*/5 * * * *"
	}
	escCron := cfg.EscalationCron
	if escCron == "" {
		escCron = "* * * * *"
	}
	digestCron := cfg.DailyDigestCron
	if digestCron == "" {
		digestCron = "0 6 * * *"
	}

	if cfg.HealthCheck != nil {
		s.addSystemJob(healthCron, "health_check", cfg.HealthCheck)
	}
	if cfg.EscalationTimeout != nil {
		s.addSystemJob(escCron, "escalation_timeout", cfg.EscalationTimeout)
	}
	if cfg.DailyDigest != nil {
		s.addSystemJob(digestCron, "daily_digest", cfg.DailyDigest)
	}

	return s
}

func (s *Scheduler) addSystemJob(cronExpr, name string, job SystemJob) {
	_, err := s.cron.AddFunc(cronExpr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.hardTimeout)
		defer cancel()
		if err := job(ctx); err != nil {
			s.logger.Error("system job failed", "job", name, "error", err)
		}
	})
	if err != nil {
		s.logger.Error("failed to register system job", "job", name, "cron", cronExpr, "error", err)
	}
}

// Start begins the agent due-check loop and the system-job cron runner.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.cron.Start()
	s.logger.Info("scheduler started", "interval", s.interval)
}

// Stop cancels the due-check loop and the cron runner, waiting for
// in-flight work to settle.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		s.logger.Error("scheduler: failed to list agents", "error", err)
		return
	}
	now := time.Now().UTC()
	for _, a := range agents {
		if a.Status != "active" {
			continue
		}
		state, err := s.store.GetAgentState(ctx, a.AgentID)
		if err != nil {
			s.logger.Error("scheduler: failed to get agent state", "agent_id", a.AgentID, "error", err)
			continue
		}
		if state.Phase == "running" {
			continue // already in flight; single-in-flight per agent
		}
		if state.NextRunAt != nil && state.NextRunAt.After(now) {
			continue
		}
		s.fire(ctx, a.AgentID, a.LoopInterval)
	}
}

// fire launches one loop run for agentID if its semaphore isn't held,
// enforcing the hard timeout and recording the next scheduled run.
func (s *Scheduler) fire(ctx context.Context, agentID string, interval time.Duration) {
	sem := s.semFor(agentID)
	select {
	case sem <- struct{}{}:
	default:
		return // a run is already in flight for this agent
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-sem }()

		runCtx, cancel := context.WithTimeout(ctx, s.hardTimeout)
		defer cancel()

		next := time.Now().UTC().Add(interval)
		if err := s.store.UpdateAgentState(runCtx, agentID, "running", nil); err != nil {
			s.logger.Error("scheduler: failed to mark agent running", "agent_id", agentID, "error", err)
			return
		}

		err := s.runLoop(runCtx, agentID)

		if err != nil {
			s.logger.Error("scheduler: agent loop failed", "agent_id", agentID, "error", err)
			if recErr := s.store.RecordAgentError(context.Background(), agentID, err.Error()); recErr != nil {
				s.logger.Error("scheduler: failed to record agent error", "agent_id", agentID, "error", recErr)
			}
		} else {
			_ = s.store.ClearAgentErrors(context.Background(), agentID)
		}

		if stErr := s.store.UpdateAgentState(context.Background(), agentID, "idle", &next); stErr != nil {
			s.logger.Error("scheduler: failed to mark agent idle", "agent_id", agentID, "error", stErr)
		}
	}()
}

func (s *Scheduler) semFor(agentID string) chan struct{} {
	s.semMu.Lock()
	defer s.semMu.Unlock()
	sem, ok := s.sems[agentID]
	if !ok {
		sem = make(chan struct{}, 1)
		s.sems[agentID] = sem
	}
	return sem
}
