package config

import "os"

// AvailableModels returns the models reachable given the API keys present
// in the environment, mirroring internal/pricing's known model table.
func AvailableModels() []string {
	var models []string
	if os.Getenv("GOOGLE_API_KEY") != "" {
		models = append(models, "gemini-2.5-pro", "gemini-2.5-flash", "gemini-2.5-flash-lite")
	}
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		models = append(models, "claude-opus-4-1", "claude-sonnet-4-5-20250929", "claude-haiku-4-5-20251001")
	}
	if os.Getenv("OPENAI_API_KEY") != "" {
		models = append(models, "gpt-4o", "gpt-4o-mini", "o4-mini")
	}
	if len(models) == 0 {
		models = []string{"default"}
	}
	return models
}
