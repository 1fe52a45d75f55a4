package sessionpool

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
)

// Adapter is a provider integration the router and session pool drive
// duck-typed: IsAvailable reports whether credentials are
// configured, Generate runs one turn.
type Adapter interface {
	Name() string
	IsAvailable() bool
	Generate(ctx context.Context, systemPrompt, prompt string) (reply string, costUSD float64, err error)
}

// GenkitAdapter wraps a firebase/genkit/go instance configured for one
// provider. Three concrete providers are supported: claude (anthropic),
// gemini (googlegenai), openai (compat_oai) — the common in-process case.
// The subprocess CLI protocol has a separate adapter (StreamAdapter) used
// only under LLM_TRANSPORT=subprocess.
type GenkitAdapter struct {
	name      string
	g         *genkit.Genkit
	modelName string
	available bool
}

// NewGenkitAdapter initializes Genkit with the named provider's plugin.
// provider is one of "claude", "gemini", "openai". model is the concrete
// model id (see internal/pricing for the complexity→model table).
func NewGenkitAdapter(ctx context.Context, provider, model string) *GenkitAdapter {
	switch strings.ToLower(provider) {
	case "claude":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return &GenkitAdapter{name: provider}
		}
		plugin := &anthropic.Anthropic{APIKey: apiKey, BaseURL: os.Getenv("ANTHROPIC_BASE_URL")}
		g := genkit.Init(ctx, genkit.WithPlugins(plugin))
		return &GenkitAdapter{name: provider, g: g, modelName: "anthropic/" + model, available: true}

	case "gemini":
		apiKey := os.Getenv("GEMINI_API_KEY")
		if apiKey == "" {
			apiKey = os.Getenv("GOOGLE_API_KEY")
		}
		if apiKey == "" {
			return &GenkitAdapter{name: provider}
		}
		_ = os.Setenv("GEMINI_API_KEY", apiKey)
		g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		return &GenkitAdapter{name: provider, g: g, modelName: "googleai/" + model, available: true}

	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return &GenkitAdapter{name: provider}
		}
		plugin := &compat_oai.OpenAICompatible{Provider: "openai", APIKey: apiKey, BaseURL: os.Getenv("OPENAI_BASE_URL")}
		g := genkit.Init(ctx, genkit.WithPlugins(plugin))
		return &GenkitAdapter{name: provider, g: g, modelName: "openai/" + model, available: true}

	default:
		return &GenkitAdapter{name: provider}
	}
}

func (a *GenkitAdapter) Name() string      { return a.name }
func (a *GenkitAdapter) IsAvailable() bool { return a.available }

// Generate runs one turn against the configured model. There is no tool
// registry or skill system here — a deliberation loop's entire contract
// is "system prompt in, JSON action list out".
func (a *GenkitAdapter) Generate(ctx context.Context, systemPrompt, prompt string) (string, float64, error) {
	if !a.available {
		return "", 0, fmt.Errorf("sessionpool: provider %s not configured", a.name)
	}
	resp, err := genkit.Generate(ctx, a.g,
		ai.WithModelName(a.modelName),
		ai.WithSystem(systemPrompt),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		return "", 0, fmt.Errorf("genkit generate: %w", err)
	}
	return resp.Text(), 0, nil
}
