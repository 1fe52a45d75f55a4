package shared

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}
type runKey struct{}
type agentKey struct{}
type correlationKey struct{}

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID generates a new trace_id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithRunID attaches a run_id (one agent loop invocation) to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runKey{}, runID)
}

// RunID extracts run_id from context. Returns "-" if absent.
func RunID(ctx context.Context) string {
	if v, ok := ctx.Value(runKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewRunID generates a new run_id.
func NewRunID() string {
	return uuid.NewString()
}

// WithAgentID attaches the acting agent's id to the context.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentKey{}, agentID)
}

// AgentID extracts agent_id from context. Returns "-" if absent.
func AgentID(ctx context.Context) string {
	if v, ok := ctx.Value(agentKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// WithCorrelationID attaches a correlation id to the context. Correlation
// ids join a decision, its escalation (if any), and any worker spawns it
// triggers across the store, bus, and logs.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationKey{}, correlationID)
}

// CorrelationID extracts the correlation id from context. Returns "" if absent.
func CorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(correlationKey{}).(string)
	return v
}

// NewCorrelationID generates a new correlation id.
func NewCorrelationID() string {
	return uuid.NewString()
}
