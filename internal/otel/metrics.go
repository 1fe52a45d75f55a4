package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds the orchestrator's metrics instruments.
type Metrics struct {
	LoopDuration     metric.Float64Histogram
	LoopStepsTotal   metric.Int64Counter
	ActiveLoops      metric.Int64UpDownCounter
	LLMCallDuration  metric.Float64Histogram
	TokensUsed       metric.Int64Counter
	DecisionDuration metric.Float64Histogram
	QuotaWarnings    metric.Int64Counter
	RouterFailovers  metric.Int64Counter
	EscalationsOpen  metric.Int64UpDownCounter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.LoopDuration, err = meter.Float64Histogram("agentcore.loop.duration",
		metric.WithDescription("Agent deliberation loop duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.LoopStepsTotal, err = meter.Int64Counter("agentcore.loop.runs",
		metric.WithDescription("Total agent loop runs executed"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveLoops, err = meter.Int64UpDownCounter("agentcore.loop.active",
		metric.WithDescription("Number of currently running agent loops"),
	)
	if err != nil {
		return nil, err
	}

	m.LLMCallDuration, err = meter.Float64Histogram("agentcore.llm.duration",
		metric.WithDescription("LLM API call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TokensUsed, err = meter.Int64Counter("agentcore.llm.tokens",
		metric.WithDescription("Total tokens consumed across providers"),
	)
	if err != nil {
		return nil, err
	}

	m.DecisionDuration, err = meter.Float64Histogram("agentcore.decision.duration",
		metric.WithDescription("Time from proposal to resolution for a decision"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.QuotaWarnings, err = meter.Int64Counter("agentcore.quota.warnings",
		metric.WithDescription("Quota threshold warnings published"),
	)
	if err != nil {
		return nil, err
	}

	m.RouterFailovers, err = meter.Int64Counter("agentcore.router.failovers",
		metric.WithDescription("Provider failovers triggered by the circuit breaker"),
	)
	if err != nil {
		return nil, err
	}

	m.EscalationsOpen, err = meter.Int64UpDownCounter("agentcore.escalations.open",
		metric.WithDescription("Escalations currently awaiting human sign-off"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
