package agentloop

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/agentcore/orchestrator/internal/bus"
	"github.com/agentcore/orchestrator/internal/decision"
	"github.com/agentcore/orchestrator/internal/sessionpool"
	"github.com/agentcore/orchestrator/internal/store"
)

type fakeAdapter struct {
	name      string
	replies   []string
	errs      []error
	calls     int
	available bool
}

func (f *fakeAdapter) Name() string      { return f.name }
func (f *fakeAdapter) IsAvailable() bool { return f.available }
func (f *fakeAdapter) Generate(ctx context.Context, systemPrompt, prompt string) (string, float64, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", 0, f.errs[i]
	}
	if i < len(f.replies) {
		return f.replies[i], 0, nil
	}
	return f.replies[len(f.replies)-1], 0, nil
}

func newTestRunner(t *testing.T, adapter sessionpool.Adapter) (*Runner, *store.Store) {
	t.Helper()
	b := bus.New()
	s, err := store.Open(":memory:", b)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	factory := func(ctx context.Context, agentType string) (sessionpool.Adapter, error) {
		return adapter, nil
	}
	pool := sessionpool.NewPool(factory, 50, true)
	eng := decision.NewEngine(s, b, 3, nil, nil)

	r, err := New(s, b, pool, nil, eng, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return r, s
}

func mustCreateAgent(t *testing.T, s *store.Store, agentID, role string) {
	t.Helper()
	if err := s.CreateAgent(context.Background(), store.Agent{
		AgentID:     agentID,
		Role:        role,
		DisplayName: role,
		Profile:     "you are the " + role,
		Status:      "active",
		Provider:    "claude",
		Model:       "claude-test",
	}); err != nil {
		t.Fatalf("create agent: %v", err)
	}
}

func TestRun_HappyPath_AppendsHistoryAndDispatchesAlert(t *testing.T) {
	adapter := &fakeAdapter{
		name:      "claude",
		available: true,
		replies:   []string{`{"actions": [{"type": "alert", "message": "heads up"}], "summary": "all clear"}`},
	}
	r, s := newTestRunner(t, adapter)
	mustCreateAgent(t, s, "coo-1", "coo")

	sub := r.Bus.Subscribe(bus.ChannelBroadcast)
	defer r.Bus.Unsubscribe(sub)

	if err := r.Run(context.Background(), "coo-1"); err != nil {
		t.Fatal(err)
	}

	hist, err := s.RecentHistory(context.Background(), "coo-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected a user+assistant history pair, got %d", len(hist))
	}

	select {
	case ev := <-sub.Ch():
		msg, ok := ev.Payload.(bus.Message)
		if !ok || msg.Type != bus.MessageTypeAlert {
			t.Fatalf("expected an alert message, got %+v", ev.Payload)
		}
	default:
		t.Fatal("expected the alert action to publish a message")
	}
}

func TestRun_UnknownActionTypeIsDroppedNotFatal(t *testing.T) {
	adapter := &fakeAdapter{
		name:      "claude",
		available: true,
		replies:   []string{`{"actions": [{"type": "do_a_backflip"}], "summary": "tried something new"}`},
	}
	r, s := newTestRunner(t, adapter)
	mustCreateAgent(t, s, "cmo-1", "cmo")

	if err := r.Run(context.Background(), "cmo-1"); err != nil {
		t.Fatalf("unknown action types must not fail the loop: %v", err)
	}
}

func TestRun_RetriesOnTimeoutThenSucceeds(t *testing.T) {
	adapter := &fakeAdapter{
		name:      "claude",
		available: true,
		errs:      []error{errors.New("request timeout exceeded"), nil},
		replies:   []string{"", `{"actions": [], "summary": "recovered"}`},
	}
	r, s := newTestRunner(t, adapter)
	mustCreateAgent(t, s, "cto-1", "cto")

	if err := r.Run(context.Background(), "cto-1"); err != nil {
		t.Fatal(err)
	}
	if adapter.calls != 2 {
		t.Fatalf("expected exactly one retry (2 calls), got %d", adapter.calls)
	}
}

func TestRun_VoteActionCastsVoteUnderAgentRole(t *testing.T) {
	adapter := &fakeAdapter{
		name:      "claude",
		available: true,
		replies:   []string{`{"actions": [{"type": "vote", "decision_id": "dx", "vote": "approve"}], "summary": "voted"}`},
	}
	r, s := newTestRunner(t, adapter)
	mustCreateAgent(t, s, "ceo-1", "ceo")

	eng := decision.NewEngine(s, r.Bus, 3, nil, nil)
	if err := eng.Propose(context.Background(), "dx", "cmo-1", store.TierMinor, "spend more on ads", "corr-1"); err != nil {
		t.Fatal(err)
	}

	if err := r.Run(context.Background(), "ceo-1"); err != nil {
		t.Fatal(err)
	}

	d, err := s.GetDecision(context.Background(), "dx")
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != store.DecisionApproved {
		t.Fatalf("expected CEO approve vote to resolve a minor decision, got %s", d.Status)
	}
}

type fakeLauncher struct {
	containerID string
	err         error
	lastSpawnID string
	lastCmd     string
}

func (f *fakeLauncher) Start(ctx context.Context, spawnID, cmd string) (string, error) {
	f.lastSpawnID = spawnID
	f.lastCmd = cmd
	if f.err != nil {
		return "", f.err
	}
	return f.containerID, nil
}

func TestRun_SpawnWorkerLaunchesContainerAndMarksRunning(t *testing.T) {
	adapter := &fakeAdapter{
		name:      "claude",
		available: true,
		replies:   []string{`{"actions": [{"type": "spawn_worker", "task": "run the nightly report"}], "summary": "spawned a worker"}`},
	}
	r, s := newTestRunner(t, adapter)
	mustCreateAgent(t, s, "coo-2", "coo")

	launcher := &fakeLauncher{containerID: "c-123"}
	r.Launcher = launcher

	if err := r.Run(context.Background(), "coo-2"); err != nil {
		t.Fatal(err)
	}

	spawns, err := s.ListActiveWorkerSpawns(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(spawns) != 1 {
		t.Fatalf("expected exactly one active spawn, got %d", len(spawns))
	}
	if spawns[0].Status != "running" || spawns[0].ContainerID != "c-123" {
		t.Fatalf("expected spawn marked running with container id, got %+v", spawns[0])
	}
	if launcher.lastCmd != "run the nightly report" {
		t.Fatalf("unexpected launcher cmd: %q", launcher.lastCmd)
	}
}

func TestRun_SpawnWorkerLaunchFailureMarksFailed(t *testing.T) {
	adapter := &fakeAdapter{
		name:      "claude",
		available: true,
		replies:   []string{`{"actions": [{"type": "spawn_worker", "task": "do something"}], "summary": "spawned"}`},
	}
	r, s := newTestRunner(t, adapter)
	mustCreateAgent(t, s, "coo-3", "coo")

	r.Launcher = &fakeLauncher{err: errors.New("docker daemon unreachable")}

	if err := r.Run(context.Background(), "coo-3"); err != nil {
		t.Fatal(err)
	}

	spawns, err := s.ListActiveWorkerSpawns(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(spawns) != 0 {
		t.Fatalf("expected the failed spawn to no longer be active, got %d", len(spawns))
	}
}

func TestTruncateHistory_RespectsTokenBudget(t *testing.T) {
	// No whitespace, so EstimateTokens falls back to len/4 per item (~340 tokens each).
	item := strings.Repeat("a", 1360)
	items := []store.HistoryItem{
		{Content: item},
		{Content: item},
		{Content: item},
	}
	out := truncateHistory(items, 1000)
	if len(out) != 2 {
		t.Fatalf("expected budget to keep only the 2 most recent items, got %d", len(out))
	}
}
