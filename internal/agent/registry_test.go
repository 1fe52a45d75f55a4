package agent

import (
	"context"
	"testing"
	"time"

	"github.com/agentcore/orchestrator/internal/store"
)

func setupTestRegistry(t *testing.T) (*Registry, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	return NewRegistry(s), s
}

func testProfiles() []Profile {
	var out []Profile
	for _, r := range AllRoles {
		out = append(out, Profile{
			Role:         r,
			DisplayName:  string(r),
			SystemPrompt: "you are the " + string(r),
			Provider:     "claude",
			Model:        "claude-sonnet-4-5-20250929",
			LoopInterval: 15 * time.Minute,
		})
	}
	return out
}

func TestBootstrap_CreatesAllRoles(t *testing.T) {
	reg, _ := setupTestRegistry(t)
	ctx := context.Background()

	if err := reg.Bootstrap(ctx, testProfiles()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	agents, err := reg.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(agents) != len(AllRoles) {
		t.Fatalf("expected %d agents, got %d", len(AllRoles), len(agents))
	}
}

func TestBootstrap_IdempotentAcrossRestarts(t *testing.T) {
	reg, _ := setupTestRegistry(t)
	ctx := context.Background()

	if err := reg.Bootstrap(ctx, testProfiles()); err != nil {
		t.Fatalf("first bootstrap: %v", err)
	}
	if err := reg.Pause(ctx, "ceo"); err != nil {
		t.Fatalf("pause: %v", err)
	}

	if err := reg.Bootstrap(ctx, testProfiles()); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}

	got, err := reg.Get(ctx, "ceo")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "paused" {
		t.Fatalf("expected bootstrap to preserve operator-set status, got %q", got.Status)
	}
}

func TestPauseAndResume(t *testing.T) {
	reg, _ := setupTestRegistry(t)
	ctx := context.Background()
	if err := reg.Bootstrap(ctx, testProfiles()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	if err := reg.Pause(ctx, "cto"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	got, _ := reg.Get(ctx, "cto")
	if got.Status != "paused" {
		t.Fatalf("expected paused, got %q", got.Status)
	}

	if err := reg.Resume(ctx, "cto"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	got, _ = reg.Get(ctx, "cto")
	if got.Status != "active" {
		t.Fatalf("expected active after resume, got %q", got.Status)
	}
}

func TestBootstrap_ExplicitAgentIDAllowsMultipleAgentsPerRole(t *testing.T) {
	reg, _ := setupTestRegistry(t)
	ctx := context.Background()

	profiles := []Profile{
		{AgentID: "coo-1", Role: RoleCOO, DisplayName: "COO 1", Provider: "claude", Model: "claude-sonnet-4-5-20250929", LoopInterval: 15 * time.Minute},
		{AgentID: "coo-2", Role: RoleCOO, DisplayName: "COO 2", Provider: "gemini", Model: "gemini-2.5-pro", LoopInterval: 15 * time.Minute},
		{AgentID: "coo-3", Role: RoleCOO, DisplayName: "COO 3", Provider: "openai", Model: "gpt-4o", LoopInterval: 15 * time.Minute},
	}
	if err := reg.Bootstrap(ctx, profiles); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	agents, err := reg.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(agents) != 3 {
		t.Fatalf("expected 3 distinct coo agents, got %d", len(agents))
	}
	for _, id := range []string{"coo-1", "coo-2", "coo-3"} {
		got, err := reg.Get(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if got.Role != "coo" {
			t.Fatalf("expected role coo for %s, got %q", id, got.Role)
		}
	}
}

func TestStop_IsDistinctFromPause(t *testing.T) {
	reg, _ := setupTestRegistry(t)
	ctx := context.Background()
	if err := reg.Bootstrap(ctx, testProfiles()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	if err := reg.Stop(ctx, "coo"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	got, _ := reg.Get(ctx, "coo")
	if got.Status != "stopped" {
		t.Fatalf("expected stopped, got %q", got.Status)
	}
}
