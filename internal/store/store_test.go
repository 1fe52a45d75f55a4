package store

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_MigratesSchema(t *testing.T) {
	s := newTestStore(t)
	var version int
	if err := s.db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		t.Fatalf("query schema version: %v", err)
	}
	if version != schemaVersionLatest {
		t.Fatalf("schema version = %d, want %d", version, schemaVersionLatest)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.initSchema(context.Background()); err != nil {
		t.Fatalf("re-running initSchema should be a no-op, got: %v", err)
	}
}

func TestRetryOnBusy_SucceedsOnFirstTry(t *testing.T) {
	calls := 0
	err := retryOnBusy(context.Background(), 3, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestIsSQLiteBusy(t *testing.T) {
	cases := map[string]bool{
		"database is locked":       true,
		"SQL logic error (1)":      false,
		"database table is locked": true,
	}
	for msg, want := range cases {
		if got := isSQLiteBusy(errFromString(msg)); got != want {
			t.Errorf("isSQLiteBusy(%q) = %v, want %v", msg, got, want)
		}
	}
}

type stringError string

func (e stringError) Error() string { return string(e) }
func errFromString(s string) error  { return stringError(s) }

func TestCreateAndGetAgent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := Agent{
		AgentID:      "ceo",
		Role:         "CEO",
		DisplayName:  "Chief Executive",
		Profile:      "sets strategic direction",
		LoopInterval: 15 * time.Minute,
		Status:       "active",
		Provider:     "claude",
		Model:        "claude-sonnet-4-5-20250929",
	}
	if err := s.CreateAgent(ctx, a); err != nil {
		t.Fatalf("create agent: %v", err)
	}

	got, err := s.GetAgent(ctx, "ceo")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if got.Role != "CEO" || got.LoopInterval != 15*time.Minute {
		t.Fatalf("unexpected agent: %+v", got)
	}

	state, err := s.GetAgentState(ctx, "ceo")
	if err != nil {
		t.Fatalf("get agent state: %v", err)
	}
	if state.Phase != "idle" {
		t.Fatalf("expected idle initial phase, got %q", state.Phase)
	}
}

func TestGetAgent_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetAgent(context.Background(), "nope")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAgentState_ErrorTracking(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateAgent(t, s, "cto")

	if err := s.RecordAgentError(ctx, "cto", "provider timeout"); err != nil {
		t.Fatalf("record error: %v", err)
	}
	st, err := s.GetAgentState(ctx, "cto")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if st.ErrorCount != 1 || st.Phase != "error" {
		t.Fatalf("unexpected state: %+v", st)
	}

	if err := s.ClearAgentErrors(ctx, "cto"); err != nil {
		t.Fatalf("clear errors: %v", err)
	}
	st, _ = s.GetAgentState(ctx, "cto")
	if st.ErrorCount != 0 {
		t.Fatalf("expected error count reset, got %d", st.ErrorCount)
	}
}

func mustCreateAgent(t *testing.T, s *Store, id string) {
	t.Helper()
	err := s.CreateAgent(context.Background(), Agent{
		AgentID: id, Role: id, DisplayName: id, Profile: "x",
		LoopInterval: time.Minute, Status: "active", Provider: "claude", Model: "m",
	})
	if err != nil {
		t.Fatalf("create agent %s: %v", id, err)
	}
}

func TestDecisionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateAgent(t, s, "cfo")

	d := Decision{
		DecisionID: "dec-1", ProposerID: "cfo", Tier: TierMajor,
		Subject: "raise burn rate cap", Status: DecisionProposed, CorrelationID: "corr-1",
	}
	if err := s.CreateDecision(ctx, d); err != nil {
		t.Fatalf("create decision: %v", err)
	}

	if err := s.TransitionDecision(ctx, "dec-1", DecisionVoting, ""); err != nil {
		t.Fatalf("transition to voting: %v", err)
	}
	if err := s.CastVote(ctx, Vote{DecisionID: "dec-1", AgentID: "ceo", Vote: "approve"}); err != nil {
		t.Fatalf("cast vote: %v", err)
	}
	votes, err := s.ListVotes(ctx, "dec-1")
	if err != nil || len(votes) != 1 {
		t.Fatalf("expected 1 vote, got %d err=%v", len(votes), err)
	}

	if err := s.TransitionDecision(ctx, "dec-1", DecisionApproved, "quorum reached"); err != nil {
		t.Fatalf("transition to approved: %v", err)
	}
	got, err := s.GetDecision(ctx, "dec-1")
	if err != nil {
		t.Fatalf("get decision: %v", err)
	}
	if got.Status != DecisionApproved || got.Resolution != "quorum reached" || got.ResolvedAt == nil {
		t.Fatalf("unexpected decision state: %+v", got)
	}
}

func TestDecision_InvalidTransitionRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateAgent(t, s, "coo")

	d := Decision{DecisionID: "dec-2", ProposerID: "coo", Tier: TierMinor, Subject: "x", Status: DecisionProposed, CorrelationID: "c"}
	if err := s.CreateDecision(ctx, d); err != nil {
		t.Fatalf("create decision: %v", err)
	}
	if err := s.TransitionDecision(ctx, "dec-2", DecisionRejected, ""); err == nil {
		t.Fatal("expected error transitioning proposed -> rejected directly")
	}
}

func TestBumpVetoRound_ClearsVotes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateAgent(t, s, "dao")

	d := Decision{DecisionID: "dec-3", ProposerID: "dao", Tier: TierCritical, Subject: "x", Status: DecisionProposed, CorrelationID: "c"}
	if err := s.CreateDecision(ctx, d); err != nil {
		t.Fatalf("create decision: %v", err)
	}
	if err := s.TransitionDecision(ctx, "dec-3", DecisionVoting, ""); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := s.CastVote(ctx, Vote{DecisionID: "dec-3", AgentID: "ceo", Vote: "veto"}); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if err := s.BumpVetoRound(ctx, "dec-3"); err != nil {
		t.Fatalf("bump round: %v", err)
	}
	votes, _ := s.ListVotes(ctx, "dec-3")
	if len(votes) != 0 {
		t.Fatalf("expected votes cleared after veto round bump, got %d", len(votes))
	}
	got, _ := s.GetDecision(ctx, "dec-3")
	if got.VetoRound != 1 {
		t.Fatalf("expected veto_round 1, got %d", got.VetoRound)
	}
}

func TestEscalationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := Escalation{EscalationID: "esc-1", DecisionID: "dec-1", CorrelationID: "corr-1", Reason: "timeout", ChannelsNotified: []string{"telegram"}}
	if err := s.CreateEscalation(ctx, e); err != nil {
		t.Fatalf("create escalation: %v", err)
	}
	open, err := s.ListOpenEscalations(ctx)
	if err != nil || len(open) != 1 {
		t.Fatalf("expected 1 open escalation, got %d err=%v", len(open), err)
	}
	if len(open) == 1 && (len(open[0].ChannelsNotified) != 1 || open[0].ChannelsNotified[0] != "telegram") {
		t.Fatalf("expected channels_notified=[telegram], got %v", open[0].ChannelsNotified)
	}

	if err := s.ResolveEscalation(ctx, "esc-1", "approved"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	open, _ = s.ListOpenEscalations(ctx)
	if len(open) != 0 {
		t.Fatalf("expected no open escalations after resolve, got %d", len(open))
	}
}

func TestResolveEscalation_AlreadyResolved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := Escalation{EscalationID: "esc-2", CorrelationID: "c", Reason: "r", ChannelsNotified: []string{"telegram"}}
	if err := s.CreateEscalation(ctx, e); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.ResolveEscalation(ctx, "esc-2", "ack"); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if err := s.ResolveEscalation(ctx, "esc-2", "ack"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound resolving twice, got %v", err)
	}
}

func TestQuotaUsage_Accumulates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	windowStart := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	if err := s.RecordUsage(ctx, "claude", "monthly", windowStart, 1000, 500, 0.01); err != nil {
		t.Fatalf("record usage: %v", err)
	}
	if err := s.RecordUsage(ctx, "claude", "monthly", windowStart, 2000, 500, 0.02); err != nil {
		t.Fatalf("record usage 2: %v", err)
	}
	qb, err := s.GetUsage(ctx, "claude", "monthly", windowStart)
	if err != nil {
		t.Fatalf("get usage: %v", err)
	}
	if qb.PromptTokens != 3000 || qb.RequestCount != 2 {
		t.Fatalf("unexpected accumulated usage: %+v", qb)
	}
}

func TestSystemSettings_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.SetSetting(ctx, "queue.delay_normal", "120000"); err != nil {
		t.Fatalf("set setting: %v", err)
	}
	got, err := s.GetSetting(ctx, "queue.delay_normal")
	if err != nil || got != "120000" {
		t.Fatalf("got %q err=%v", got, err)
	}
	if err := s.SetSetting(ctx, "queue.delay_normal", "60000"); err != nil {
		t.Fatalf("update setting: %v", err)
	}
	got, _ = s.GetSetting(ctx, "queue.delay_normal")
	if got != "60000" {
		t.Fatalf("expected updated value, got %q", got)
	}
}

func TestAgentHistory_RecencyFallback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := s.AppendHistory(ctx, "cmo", "assistant", "turn", nil, 10); err != nil {
			t.Fatalf("append history: %v", err)
		}
	}
	items, err := s.RecallHistory(ctx, "cmo", nil, 2)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
}

func TestAgentHistory_EmbeddingRecall(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.AppendHistory(ctx, "cfo", "assistant", "about budgets", []float32{1, 0, 0}, 10)
	_ = s.AppendHistory(ctx, "cfo", "assistant", "about marketing", []float32{0, 1, 0}, 10)

	items, err := s.RecallHistory(ctx, "cfo", []float32{1, 0, 0}, 1)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(items) != 1 || items[0].Content != "about budgets" {
		t.Fatalf("expected closest match 'about budgets', got %+v", items)
	}
}

func TestWorkerSpawnLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := WorkerSpawn{SpawnID: "spawn-1", AgentID: "cto", CorrelationID: "corr-1", Task: "run tests"}
	if err := s.CreateWorkerSpawn(ctx, w); err != nil {
		t.Fatalf("create spawn: %v", err)
	}
	if err := s.MarkWorkerRunning(ctx, "spawn-1", "container-abc"); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	active, err := s.ListActiveWorkerSpawns(ctx)
	if err != nil || len(active) != 1 {
		t.Fatalf("expected 1 active spawn, got %d err=%v", len(active), err)
	}
	if err := s.FinishWorkerSpawn(ctx, "spawn-1", "succeeded", "all tests passed"); err != nil {
		t.Fatalf("finish: %v", err)
	}
	got, err := s.GetWorkerSpawn(ctx, "spawn-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "succeeded" || got.FinishedAt == nil {
		t.Fatalf("unexpected spawn state: %+v", got)
	}
	active, _ = s.ListActiveWorkerSpawns(ctx)
	if len(active) != 0 {
		t.Fatalf("expected no active spawns after finish, got %d", len(active))
	}
}

func TestRunRetention_PurgesOldRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateAgent(t, s, "coo2")

	old := time.Now().UTC().AddDate(0, 0, -100).Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, `INSERT INTO events (event_type, agent_id, payload, created_at) VALUES ('agent_started', 'coo2', '{}', ?)`, old); err != nil {
		t.Fatalf("seed old event: %v", err)
	}

	res, err := s.RunRetention(ctx, 30, 30, 30)
	if err != nil {
		t.Fatalf("run retention: %v", err)
	}
	if res.EventsDeleted < 1 {
		t.Fatalf("expected at least 1 event purged, got %d", res.EventsDeleted)
	}
}

func TestListEventsByCorrelation_OrderedByCreation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateAgent(t, s, "cco")

	d := Decision{DecisionID: "dec-4", ProposerID: "cco", Tier: TierOperational, Subject: "x", Status: DecisionProposed, CorrelationID: "corr-99"}
	if err := s.CreateDecision(ctx, d); err != nil {
		t.Fatalf("create decision: %v", err)
	}
	if err := s.TransitionDecision(ctx, "dec-4", DecisionApproved, "auto"); err != nil {
		t.Fatalf("transition: %v", err)
	}
	events, err := s.ListEventsByCorrelation(ctx, "corr-99")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) < 2 {
		t.Fatalf("expected at least proposed+resolved events, got %d", len(events))
	}
	if events[0].EventType != "decision_proposed" {
		t.Fatalf("expected first event decision_proposed, got %s", events[0].EventType)
	}
}
