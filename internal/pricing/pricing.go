// Package pricing provides per-model cost estimation for token usage,
// consumed by the quota manager when recording LLM usage.
package pricing

// ModelPricing holds per-million-token costs in USD.
type ModelPricing struct {
	PromptPer1M     float64
	CompletionPer1M float64
}

// Known model pricing. Add new models as providers are onboarded.
var knownModels = map[string]ModelPricing{
	// Gemini (provider "gemini")
	"gemini-2.5-pro":        {1.25, 5.00},
	"gemini-2.5-flash":      {0.075, 0.30},
	"gemini-2.5-flash-lite": {0.0375, 0.15},
	// Anthropic (provider "claude")
	"claude-opus-4-1":            {15.00, 75.00},
	"claude-sonnet-4-5-20250929": {3.00, 15.00},
	"claude-haiku-4-5-20251001":  {0.80, 4.00},
	// OpenAI (provider "openai")
	"gpt-4o":      {2.50, 10.00},
	"gpt-4o-mini": {0.15, 0.60},
	"o4-mini":     {1.10, 4.40},
}

// EstimateCost returns the estimated USD cost for the given token counts.
// Returns 0.0 for unknown models (safe default — never blocks usage recording).
func EstimateCost(model string, promptTokens, completionTokens int) float64 {
	p, ok := knownModels[model]
	if !ok {
		return 0.0
	}
	return (float64(promptTokens)/1_000_000)*p.PromptPer1M +
		(float64(completionTokens)/1_000_000)*p.CompletionPer1M
}

// Complexity selects a model tier within a provider for the router's
// model-selection step.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityNormal  Complexity = "normal"
	ComplexityComplex Complexity = "complex"
)

// modelByComplexity maps provider+complexity to a concrete model id.
var modelByComplexity = map[string]map[Complexity]string{
	"claude": {
		ComplexitySimple:  "claude-haiku-4-5-20251001",
		ComplexityNormal:  "claude-sonnet-4-5-20250929",
		ComplexityComplex: "claude-opus-4-1",
	},
	"gemini": {
		ComplexitySimple:  "gemini-2.5-flash-lite",
		ComplexityNormal:  "gemini-2.5-flash",
		ComplexityComplex: "gemini-2.5-pro",
	},
	"openai": {
		ComplexitySimple:  "gpt-4o-mini",
		ComplexityNormal:  "gpt-4o-mini",
		ComplexityComplex: "o4-mini",
	},
}

// ModelFor returns the concrete model id for a provider at a given
// complexity. Falls back to ComplexityNormal's model, then "" if the
// provider is unknown.
func ModelFor(provider string, complexity Complexity) string {
	tiers, ok := modelByComplexity[provider]
	if !ok {
		return ""
	}
	if m, ok := tiers[complexity]; ok {
		return m
	}
	return tiers[ComplexityNormal]
}
