package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agentcore/orchestrator/internal/config"
)

func TestLoad_FromAgentcoreHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("AGENTCORE_HOME", home)
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	yamlBody := `
store_path: custom.db
log_level: debug
llm:
  routing_strategy: agent-role
  enable_fallback: true
agents:
  - agent_id: ceo-1
    role: ceo
    display_name: CEO
    provider: claude
    model: claude-opus-4-1
    profile: "lead the company"
`
	if err := os.WriteFile(config.ConfigPath(home), []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write config.yaml: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NeedsGenesis {
		t.Fatal("expected NeedsGenesis false when config.yaml exists")
	}
	if cfg.StorePath != "custom.db" {
		t.Fatalf("expected custom.db, got %s", cfg.StorePath)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected debug, got %s", cfg.LogLevel)
	}
	if len(cfg.Agents) != 1 || cfg.Agents[0].Role != "ceo" {
		t.Fatalf("expected the single configured ceo agent, got %+v", cfg.Agents)
	}
}

func TestLoad_MissingConfigSetsNeedsGenesisAndSeedsRoster(t *testing.T) {
	home := t.TempDir()
	t.Setenv("AGENTCORE_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.NeedsGenesis {
		t.Fatal("expected NeedsGenesis true when config.yaml is absent")
	}
	if len(cfg.Agents) != 7 {
		t.Fatalf("expected the starter seven-role roster, got %d agents", len(cfg.Agents))
	}
}

func TestSave_GenesisRoundTripsThroughYAML(t *testing.T) {
	home := t.TempDir()
	t.Setenv("AGENTCORE_HOME", home)
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	seeded, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !seeded.NeedsGenesis {
		t.Fatal("expected NeedsGenesis true before Save")
	}

	if err := seeded.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(config.ConfigPath(home)); err != nil {
		t.Fatalf("expected config.yaml to exist after Save: %v", err)
	}

	reloaded, err := config.Load()
	if err != nil {
		t.Fatalf("reload after Save: %v", err)
	}
	if reloaded.NeedsGenesis {
		t.Fatal("expected NeedsGenesis false once a seeded config.yaml has been persisted")
	}
	if len(reloaded.Agents) != len(seeded.Agents) {
		t.Fatalf("expected the persisted roster to round-trip, got %d agents, want %d", len(reloaded.Agents), len(seeded.Agents))
	}
	for i, a := range seeded.Agents {
		if reloaded.Agents[i].AgentID != a.AgentID || reloaded.Agents[i].Role != a.Role {
			t.Fatalf("agent %d mismatch after round-trip: got %+v, want %+v", i, reloaded.Agents[i], a)
		}
	}
	if reloaded.StorePath != seeded.StorePath {
		t.Fatalf("expected StorePath to round-trip, got %s, want %s", reloaded.StorePath, seeded.StorePath)
	}
}

func TestLoad_EnvOverridesTakePrecedenceOverFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("AGENTCORE_HOME", home)
	t.Setenv("AGENTCORE_LOG_LEVEL", "warn")
	t.Setenv("AGENTCORE_ROUTING_STRATEGY", "load-balance")

	if err := os.WriteFile(config.ConfigPath(home), []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatalf("write config.yaml: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("expected env override to win, got %s", cfg.LogLevel)
	}
	if cfg.LLM.RoutingStrategy != "load-balance" {
		t.Fatalf("expected env routing strategy override, got %s", cfg.LLM.RoutingStrategy)
	}
}

func TestLoad_ProviderAPIKeyEnvOverrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv("AGENTCORE_HOME", home)
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-claude")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ProviderAPIKey("claude") != "sk-test-claude" {
		t.Fatalf("expected claude key from env, got %q", cfg.ProviderAPIKey("claude"))
	}
}

func TestLoad_TelegramTokenEnvEnablesChannel(t *testing.T) {
	home := t.TempDir()
	t.Setenv("AGENTCORE_HOME", home)
	t.Setenv("TELEGRAM_TOKEN", "tg-token")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Channels.Telegram.Enabled || cfg.Channels.Telegram.Token != "tg-token" {
		t.Fatalf("expected telegram enabled with token from env, got %+v", cfg.Channels.Telegram)
	}
}

func TestLoad_DefaultsFillMissingSections(t *testing.T) {
	home := t.TempDir()
	t.Setenv("AGENTCORE_HOME", home)

	if err := os.WriteFile(config.ConfigPath(home), []byte("store_path: x.db\n"), 0o644); err != nil {
		t.Fatalf("write config.yaml: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.HardTimeoutSeconds != 120 {
		t.Fatalf("expected default scheduler hard timeout, got %d", cfg.Scheduler.HardTimeoutSeconds)
	}
	if cfg.SessionPool.MaxLoopsPerSession != 25 {
		t.Fatalf("expected default max loops per session, got %d", cfg.SessionPool.MaxLoopsPerSession)
	}
	if cfg.Container.Image != "golang:alpine" {
		t.Fatalf("expected default container image, got %s", cfg.Container.Image)
	}
	if cfg.DecisionMaxVetoRounds != 3 {
		t.Fatalf("expected default decision veto rounds, got %d", cfg.DecisionMaxVetoRounds)
	}
}

func TestLoad_AgentProfileFileIsResolvedRelativeToHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("AGENTCORE_HOME", home)

	profilePath := filepath.Join(home, "ceo-profile.txt")
	if err := os.WriteFile(profilePath, []byte("lead boldly"), 0o644); err != nil {
		t.Fatalf("write profile file: %v", err)
	}

	yamlBody := `
agents:
  - agent_id: ceo-1
    role: ceo
    profile_file: ceo-profile.txt
`
	if err := os.WriteFile(config.ConfigPath(home), []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write config.yaml: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agents[0].Profile != "lead boldly" {
		t.Fatalf("expected profile loaded from file, got %q", cfg.Agents[0].Profile)
	}
}

func TestFingerprint_ChangesWhenConfigChanges(t *testing.T) {
	a := config.Config{StorePath: "a.db", LogLevel: "info"}
	b := config.Config{StorePath: "b.db", LogLevel: "info"}
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("expected differing store paths to produce differing fingerprints")
	}
}
