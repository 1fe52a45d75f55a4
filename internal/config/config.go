// Package config loads the bootstrap YAML configuration (agent roster,
// provider credentials, scheduler/session-pool/container defaults) that
// seeds the durable store on first run. Anything tunable at runtime
// afterward lives in the store's systemSettings table instead —
// see internal/settings for that TTL-cached layer.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ProviderConfig holds per-provider credentials/endpoint overrides.
// Keyed by the router's provider ids: "claude", "gemini", "openai".
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// LLMConfig seeds the router's strategy and circuit-breaker defaults
//; the running value is re-readable at runtime from
// systemSettings (llm.routing_strategy, llm.enable_fallback).
type LLMConfig struct {
	RoutingStrategy         string `yaml:"routing_strategy"`
	EnableFallback          bool   `yaml:"enable_fallback"`
	FailoverThreshold       int    `yaml:"failover_threshold"`
	FailoverCooldownSeconds int    `yaml:"failover_cooldown_seconds"`
}

// AgentConfigEntry defines one of the roster's agents: one of the seven
// fixed role-specialized agents, or an operational extension of them
// (multiple agents sharing a role, distinguished by AgentID).
type AgentConfigEntry struct {
	AgentID             string `yaml:"agent_id"`
	Role                string `yaml:"role"` // ceo | dao | cmo | cto | cfo | coo | cco
	DisplayName         string `yaml:"display_name"`
	Provider            string `yaml:"provider"`
	Model               string `yaml:"model"`
	Profile             string `yaml:"profile"`      // inline system prompt / persona text
	ProfileFile         string `yaml:"profile_file"`  // alternative: load profile from a file under HomeDir
	LoopIntervalSeconds int    `yaml:"loop_interval_seconds"`
}

// SchedulerConfig seeds scheduler.Config's system-job cadences.
type SchedulerConfig struct {
	HardTimeoutSeconds    int    `yaml:"hard_timeout_seconds"`
	HealthCheckCron       string `yaml:"health_check_cron"`
	EscalationTimeoutCron string `yaml:"escalation_timeout_cron"`
	DailyDigestCron       string `yaml:"daily_digest_cron"`
}

// SessionPoolConfig seeds sessionpool.Pool.
type SessionPoolConfig struct {
	Enabled            bool `yaml:"enabled"`
	MaxLoopsPerSession int  `yaml:"max_loops_per_session"`
}

// ContainerConfig seeds container.Manager's image/resource defaults
//.
type ContainerConfig struct {
	Image       string `yaml:"image"`
	MemoryMB    int64  `yaml:"memory_mb"`
	NetworkMode string `yaml:"network_mode"`
	Workspace   string `yaml:"workspace"`
}

// TelegramConfig configures the Telegram escalation channel.
type TelegramConfig struct {
	Token      string  `yaml:"token"`
	AllowedIDs []int64 `yaml:"allowed_ids"`
	Enabled    bool    `yaml:"enabled"`
}

// ChannelsConfig lists the escalation notification channels.
// Email and dashboard are log-only stubs; their Enabled flags exist purely
// so the engine's channel list is never special-cased.
type ChannelsConfig struct {
	Telegram         TelegramConfig `yaml:"telegram"`
	EmailEnabled     bool           `yaml:"email_enabled"`
	DashboardEnabled bool           `yaml:"dashboard_enabled"`
}

// Config is the full bootstrap configuration.
type Config struct {
	HomeDir string `yaml:"-"`

	StorePath string `yaml:"store_path"`
	LogLevel  string `yaml:"log_level"`

	LLM       LLMConfig                 `yaml:"llm"`
	Providers map[string]ProviderConfig `yaml:"providers"`

	Agents []AgentConfigEntry `yaml:"agents"`

	// MonthlyTokenQuota is the per-provider monthly token budget fed into
	// the quota manager. An absent/zero entry disables
	// threshold warnings for that provider.
	MonthlyTokenQuota map[string]int64 `yaml:"monthly_token_quota"`

	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	SessionPool SessionPoolConfig `yaml:"session_pool"`
	Container   ContainerConfig   `yaml:"container"`
	Channels    ChannelsConfig    `yaml:"channels"`

	DecisionMaxVetoRounds int `yaml:"decision_max_veto_rounds"`

	NeedsGenesis bool `yaml:"-"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Save writes the config back to config.yaml under HomeDir. Called once
// after a genesis Load (NeedsGenesis) so the seeded starter roster and
// defaults are visible to an operator editing the file by hand, and so
// subsequent restarts don't silently reseed from scratch.
func (c Config) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(ConfigPath(c.HomeDir), data, 0o644)
}

// Fingerprint returns a stable hash of the active config, useful for
// detecting whether a reload actually changed anything meaningful.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "store=%s|log=%s|strategy=%s|fallback=%v|agents=%d",
		c.StorePath, c.LogLevel, c.LLM.RoutingStrategy, c.LLM.EnableFallback, len(c.Agents))
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

// ProviderAPIKey returns the API key for the given provider ("claude",
// "gemini", "openai"), checking env overrides first.
func (c Config) ProviderAPIKey(provider string) string {
	envMap := map[string]string{
		"claude": "ANTHROPIC_API_KEY",
		"gemini": "GOOGLE_API_KEY",
		"openai": "OPENAI_API_KEY",
	}
	if envVar, ok := envMap[provider]; ok {
		if v := os.Getenv(envVar); v != "" {
			return v
		}
	}
	if c.Providers != nil {
		if p, ok := c.Providers[provider]; ok {
			return p.APIKey
		}
	}
	return ""
}

func defaultConfig() Config {
	return Config{
		LogLevel:  "info",
		StorePath: "agentcore.db",
		LLM: LLMConfig{
			RoutingStrategy:         "task-type",
			EnableFallback:          true,
			FailoverThreshold:       5,
			FailoverCooldownSeconds: 300,
		},
		Scheduler: SchedulerConfig{
			HardTimeoutSeconds:    120,
			HealthCheckCron:       "*/5 * * * *",
			EscalationTimeoutCron: "*/10 * * * *",
			DailyDigestCron:       "0 8 * * *",
		},
		SessionPool: SessionPoolConfig{
			Enabled:            true,
			MaxLoopsPerSession: 25,
		},
		Container: ContainerConfig{
			Image:       "golang:alpine",
			MemoryMB:    512,
			NetworkMode: "none",
		},
		DecisionMaxVetoRounds: 3,
	}
}

// HomeDir returns the orchestrator's home directory, overridable via
// AGENTCORE_HOME, defaulting to ~/.agentcore.
func HomeDir() string {
	if override := os.Getenv("AGENTCORE_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".agentcore")
}

// Load reads config.yaml from HomeDir, applies env overrides, fills in
// defaults, and seeds a starter agent roster if none is configured.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create agentcore home: %w", err)
	}

	configPath := ConfigPath(cfg.HomeDir)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsGenesis = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	loadProfileFiles(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.StorePath == "" {
		cfg.StorePath = "agentcore.db"
	}
	if cfg.LLM.RoutingStrategy == "" {
		cfg.LLM.RoutingStrategy = "task-type"
	}
	if cfg.LLM.FailoverThreshold <= 0 {
		cfg.LLM.FailoverThreshold = 5
	}
	if cfg.LLM.FailoverCooldownSeconds <= 0 {
		cfg.LLM.FailoverCooldownSeconds = 300
	}
	if cfg.Scheduler.HardTimeoutSeconds <= 0 {
		cfg.Scheduler.HardTimeoutSeconds = 120
	}
	if cfg.SessionPool.MaxLoopsPerSession <= 0 {
		cfg.SessionPool.MaxLoopsPerSession = 25
	}
	if cfg.Container.Image == "" {
		cfg.Container.Image = "golang:alpine"
	}
	if cfg.Container.MemoryMB <= 0 {
		cfg.Container.MemoryMB = 512
	}
	if cfg.Container.NetworkMode == "" {
		cfg.Container.NetworkMode = "none"
	}
	if cfg.DecisionMaxVetoRounds <= 0 {
		cfg.DecisionMaxVetoRounds = 3
	}
	if len(cfg.Agents) == 0 {
		cfg.Agents = StarterAgents()
	}
	for i := range cfg.Agents {
		if cfg.Agents[i].LoopIntervalSeconds <= 0 {
			cfg.Agents[i].LoopIntervalSeconds = 1800
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("AGENTCORE_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("AGENTCORE_STORE_PATH"); raw != "" {
		cfg.StorePath = raw
	}
	if raw := os.Getenv("AGENTCORE_ROUTING_STRATEGY"); raw != "" {
		cfg.LLM.RoutingStrategy = raw
	}
	if raw := os.Getenv("AGENTCORE_FAILOVER_THRESHOLD"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.LLM.FailoverThreshold = v
		}
	}
	if raw := os.Getenv("TELEGRAM_TOKEN"); raw != "" {
		cfg.Channels.Telegram.Token = raw
		cfg.Channels.Telegram.Enabled = true
	}
	for provider, envVar := range map[string]string{
		"claude": "ANTHROPIC_API_KEY",
		"gemini": "GOOGLE_API_KEY",
		"openai": "OPENAI_API_KEY",
	} {
		if raw := os.Getenv(envVar); raw != "" {
			if cfg.Providers == nil {
				cfg.Providers = make(map[string]ProviderConfig)
			}
			p := cfg.Providers[provider]
			p.APIKey = raw
			cfg.Providers[provider] = p
		}
	}
}

// loadProfileFiles resolves each agent's ProfileFile (relative to HomeDir)
// into Profile when Profile itself wasn't set inline.
func loadProfileFiles(cfg *Config) {
	for i, a := range cfg.Agents {
		if a.Profile != "" || a.ProfileFile == "" {
			continue
		}
		path := a.ProfileFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.HomeDir, path)
		}
		if b, err := os.ReadFile(path); err == nil {
			cfg.Agents[i].Profile = string(b)
		}
	}
}
