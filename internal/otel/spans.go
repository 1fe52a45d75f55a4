package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for orchestrator spans.
var (
	AttrAgentID      = attribute.Key("agentcore.agent.id")
	AttrRole         = attribute.Key("agentcore.agent.role")
	AttrProvider     = attribute.Key("agentcore.llm.provider")
	AttrModel        = attribute.Key("agentcore.llm.model")
	AttrTokensInput  = attribute.Key("agentcore.llm.tokens.input")
	AttrTokensOutput = attribute.Key("agentcore.llm.tokens.output")
	AttrLoopID       = attribute.Key("agentcore.loop.id")
	AttrDecisionID   = attribute.Key("agentcore.decision.id")
	AttrSessionID    = attribute.Key("agentcore.session.id")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartClientSpan starts a span for an outbound call (LLM provider API).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
