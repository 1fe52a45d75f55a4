package agentloop

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Action is one directive emitted by an agent's deliberation turn. Fields
// beyond Type are interpreted per-type; unknown types are logged and
// dropped by the caller.
type Action struct {
	Type string `json:"type"`

	AgentID    string `json:"agent_id,omitempty"`
	Message    string `json:"message,omitempty"`
	Priority   string `json:"priority,omitempty"`
	Tier       string `json:"tier,omitempty"`
	Subject    string `json:"subject,omitempty"`
	DecisionID string `json:"decision_id,omitempty"`
	Vote       string `json:"vote,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Task       string `json:"task,omitempty"`
}

// LoopResult is the JSON object a deliberation turn must produce.
type LoopResult struct {
	Actions []Action `json:"actions"`
	Summary string   `json:"summary"`
}

const resultSchemaJSON = `{
	"type": "object",
	"required": ["actions", "summary"],
	"properties": {
		"actions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["type"],
				"properties": {"type": {"type": "string"}}
			}
		},
		"summary": {"type": "string"}
	}
}`

// Validator extracts and schema-validates a loop's JSON result from free
// text, the same way a structured-output validator checks a tool-call
// response against its schema (internal/engine/structured.go-style) —
// generalized here to the fixed {actions, summary} shape instead of a
// per-tool schema.
type Validator struct {
	schema     *jsonschema.Schema
	maxRetries int
}

// NewValidator compiles the loop result schema. maxRetries<=0 defaults to 2.
func NewValidator(maxRetries int) (*Validator, error) {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(resultSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("agentloop: unmarshal result schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("loop-result.json", doc); err != nil {
		return nil, fmt.Errorf("agentloop: add schema resource: %w", err)
	}
	schema, err := c.Compile("loop-result.json")
	if err != nil {
		return nil, fmt.Errorf("agentloop: compile schema: %w", err)
	}
	return &Validator{schema: schema, maxRetries: maxRetries}, nil
}

// MaxRetries returns the configured retry-with-feedback budget.
func (v *Validator) MaxRetries() int { return v.maxRetries }

// Parse extracts a JSON object from responseText and validates it against
// the loop result schema, returning the typed LoopResult on success.
func (v *Validator) Parse(responseText string) (*LoopResult, error) {
	jsonStr := extractJSON(responseText)
	if jsonStr == "" {
		return nil, fmt.Errorf("agentloop: no JSON object found in response")
	}

	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(jsonStr))
	if err != nil {
		return nil, fmt.Errorf("agentloop: invalid JSON: %w", err)
	}
	if err := v.schema.Validate(parsed); err != nil {
		return nil, fmt.Errorf("agentloop: schema validation failed: %w", err)
	}

	var result LoopResult
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return nil, fmt.Errorf("agentloop: decode result: %w", err)
	}
	return &result, nil
}

// extractJSON finds a JSON object in free text: fenced ```json block,
// generic fenced block, or the first balanced {...} run.
func extractJSON(text string) string {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		start := idx + len("```json")
		if start < len(text) && text[start] == '\n' {
			start++
		}
		if end := strings.Index(text[start:], "```"); end >= 0 {
			if candidate := strings.TrimSpace(text[start : start+end]); candidate != "" {
				return candidate
			}
		}
	}
	if idx := strings.Index(text, "```\n"); idx >= 0 {
		start := idx + 4
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if isJSON(candidate) {
				return candidate
			}
		}
	}
	for i := 0; i < len(text); i++ {
		if text[i] == '{' {
			if candidate := extractBalanced(text[i:]); candidate != "" && isJSON(candidate) {
				return candidate
			}
		}
	}
	return ""
}

func isJSON(s string) bool {
	var v any
	return json.Unmarshal([]byte(s), &v) == nil
}

func extractBalanced(s string) string {
	if len(s) == 0 || s[0] != '{' {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		if ch == '{' {
			depth++
		} else if ch == '}' {
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}
