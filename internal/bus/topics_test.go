package bus

import "testing"

func TestPriorityConstants_AllHaveDefaultDelays(t *testing.T) {
	for _, p := range []Priority{
		PriorityLow, PriorityNormal, PriorityHigh,
		PriorityUrgent, PriorityCritical, PriorityOperational,
	} {
		if _, ok := DefaultDelays[p]; !ok {
			t.Fatalf("priority %q missing from DefaultDelays", p)
		}
	}
}

func TestDefaultDelays_CriticalIsImmediate(t *testing.T) {
	if DefaultDelays[PriorityCritical] != 0 {
		t.Fatalf("expected critical delay 0, got %d", DefaultDelays[PriorityCritical])
	}
}

func TestDefaultDelays_MonotonicByUrgency(t *testing.T) {
	order := []Priority{
		PriorityCritical, PriorityUrgent, PriorityHigh,
		PriorityNormal, PriorityLow, PriorityOperational,
	}
	for i := 1; i < len(order); i++ {
		if DefaultDelays[order[i-1]] > DefaultDelays[order[i]] {
			t.Fatalf("expected %s delay <= %s delay, got %d > %d",
				order[i-1], order[i], DefaultDelays[order[i-1]], DefaultDelays[order[i]])
		}
	}
}

func TestChannelForAgent(t *testing.T) {
	got := ChannelForAgent("ceo")
	want := "channel:agent:ceo"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestWellKnownChannels_Unique(t *testing.T) {
	channels := []string{
		ChannelBroadcast, ChannelOrchestrator, ChannelWorkerLogs,
		ChannelQuotaWarning, ChannelStatusFeed,
	}
	seen := make(map[string]bool)
	for _, c := range channels {
		if seen[c] {
			t.Fatalf("duplicate channel constant %q", c)
		}
		seen[c] = true
	}
}

func TestMessageTypes_NonEmpty(t *testing.T) {
	for _, mt := range []MessageType{
		MessageTypeTask, MessageTypeTaskQueued, MessageTypeStatusRequest,
		MessageTypeStatusResponse, MessageTypeDecision, MessageTypeVote,
		MessageTypeAlert, MessageTypeBroadcast, MessageTypeDirect,
		MessageTypeWorkerResult, MessageTypePRApprovedByRAG,
		MessageTypePRRejected, MessageTypePRReviewRequested,
	} {
		if mt == "" {
			t.Fatal("message type constant is empty")
		}
	}
}

func TestEventTypes_NonEmpty(t *testing.T) {
	for _, et := range []EventType{
		EventAgentStarted, EventAgentStopped, EventAgentError,
		EventTaskCreated, EventTaskCompleted, EventDecisionProposed,
		EventDecisionVoted, EventDecisionResolved, EventEscalationCreated,
		EventEscalationResolved, EventStatusRequest, EventStatusResponse,
		EventBroadcast, EventHumanMessage, EventInitiativeCreated,
	} {
		if et == "" {
			t.Fatal("event type constant is empty")
		}
	}
}
