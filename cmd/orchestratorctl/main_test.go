package main

import (
	"context"
	"testing"
	"time"

	"github.com/agentcore/orchestrator/internal/agent"
	"github.com/agentcore/orchestrator/internal/config"
	"github.com/agentcore/orchestrator/internal/router"
)

func TestProfilesFromConfig_MapsRoleAndAgentID(t *testing.T) {
	entries := []config.AgentConfigEntry{
		{AgentID: "ceo-1", Role: "ceo", DisplayName: "CEO", Provider: "claude", Model: "claude-sonnet-4-5-20250929", LoopIntervalSeconds: 900},
		{AgentID: "coo-2", Role: "coo", DisplayName: "COO 2", Provider: "gemini", Model: "gemini-2.5-pro", LoopIntervalSeconds: 1800},
	}

	profiles := profilesFromConfig(entries)
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	if profiles[0].AgentID != "ceo-1" || profiles[0].Role != agent.RoleCEO {
		t.Fatalf("unexpected profile[0]: %+v", profiles[0])
	}
	if profiles[1].AgentID != "coo-2" || profiles[1].Role != agent.RoleCOO {
		t.Fatalf("unexpected profile[1]: %+v", profiles[1])
	}
	if profiles[0].LoopInterval != 900*time.Second {
		t.Fatalf("expected 900s loop interval, got %s", profiles[0].LoopInterval)
	}
}

func TestFindAgentEntry_MatchesByAgentIDNotRole(t *testing.T) {
	entries := []config.AgentConfigEntry{
		{AgentID: "coo-1", Role: "coo", Provider: "claude"},
		{AgentID: "coo-2", Role: "coo", Provider: "gemini"},
	}

	got := findAgentEntry(entries, "coo-2")
	if got == nil || got.Provider != "gemini" {
		t.Fatalf("expected coo-2's gemini entry, got %+v", got)
	}
	if findAgentEntry(entries, "coo-3") != nil {
		t.Fatal("expected nil for an agent id with no entry")
	}
}

func TestDefaultModelFor_KnownProviders(t *testing.T) {
	cases := map[string]string{
		router.ProviderClaude: "claude-sonnet-4-5-20250929",
		router.ProviderGemini: "gemini-2.5-pro",
		router.ProviderOpenAI: "gpt-4o",
		"unknown":             "",
	}
	for provider, want := range cases {
		if got := defaultModelFor(provider); got != want {
			t.Errorf("defaultModelFor(%q) = %q, want %q", provider, got, want)
		}
	}
}

func TestOtelConfigFromEnv_DisabledWithoutExporter(t *testing.T) {
	t.Setenv("AGENTCORE_OTEL_EXPORTER", "")
	cfg := otelConfigFromEnv()
	if cfg.Enabled {
		t.Fatal("expected Enabled false when no exporter is configured")
	}
	if cfg.Exporter != "none" {
		t.Fatalf("expected exporter none, got %s", cfg.Exporter)
	}
}

func TestOtelConfigFromEnv_EnabledWithExporter(t *testing.T) {
	t.Setenv("AGENTCORE_OTEL_EXPORTER", "stdout")
	t.Setenv("AGENTCORE_OTEL_ENDPOINT", "")
	cfg := otelConfigFromEnv()
	if !cfg.Enabled {
		t.Fatal("expected Enabled true when an exporter is configured")
	}
	if cfg.Exporter != "stdout" {
		t.Fatalf("expected exporter stdout, got %s", cfg.Exporter)
	}
}

func TestBuildAdapters_DefaultsToGenkitWithoutSubprocessEnv(t *testing.T) {
	t.Setenv("LLM_TRANSPORT", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	adapters := buildAdapters(context.Background(), config.Config{})
	for _, p := range []string{router.ProviderClaude, router.ProviderGemini, router.ProviderOpenAI} {
		a, ok := adapters[p]
		if !ok {
			t.Fatalf("expected an adapter for provider %s", p)
		}
		if a.Name() != p {
			t.Fatalf("expected adapter name %s, got %s", p, a.Name())
		}
	}
}

func TestBuildAdapters_SubprocessTransportUsesStreamAdapter(t *testing.T) {
	t.Setenv("LLM_TRANSPORT", "subprocess")
	t.Setenv("CLAUDE_SUBPROCESS_COMMAND", "claude-cli")
	t.Setenv("GEMINI_SUBPROCESS_COMMAND", "")
	t.Setenv("OPENAI_SUBPROCESS_COMMAND", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	adapters := buildAdapters(context.Background(), config.Config{})
	claude := adapters[router.ProviderClaude]
	if !claude.IsAvailable() {
		t.Fatal("expected the subprocess-backed claude adapter to report available")
	}
	gemini := adapters[router.ProviderGemini]
	if gemini.Name() != router.ProviderGemini {
		t.Fatalf("expected gemini to fall back to the genkit adapter, got %s", gemini.Name())
	}
}
