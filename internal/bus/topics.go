package bus

import "fmt"

// Priority is the urgency class carried by a Message.
type Priority string

const (
	PriorityLow         Priority = "low"
	PriorityNormal      Priority = "normal"
	PriorityHigh        Priority = "high"
	PriorityUrgent      Priority = "urgent"
	PriorityCritical    Priority = "critical"
	PriorityOperational Priority = "operational"
)

// DefaultDelays are the default per-priority publish delays in milliseconds
//. Overridable at runtime via systemSettings "queue.delay_<priority>".
var DefaultDelays = map[Priority]int64{
	PriorityCritical:    0,
	PriorityUrgent:      5_000,
	PriorityHigh:        30_000,
	PriorityNormal:      120_000,
	PriorityLow:         300_000,
	PriorityOperational: 600_000,
}

// MessageType is the closed set of message types carried on the bus.
type MessageType string

const (
	MessageTypeTask              MessageType = "task"
	MessageTypeTaskQueued        MessageType = "task_queued"
	MessageTypeStatusRequest     MessageType = "status_request"
	MessageTypeStatusResponse    MessageType = "status_response"
	MessageTypeDecision          MessageType = "decision"
	MessageTypeVote              MessageType = "vote"
	MessageTypeAlert             MessageType = "alert"
	MessageTypeBroadcast         MessageType = "broadcast"
	MessageTypeDirect            MessageType = "direct"
	MessageTypeWorkerResult      MessageType = "worker_result"
	MessageTypePRApprovedByRAG   MessageType = "pr_approved_by_rag"
	MessageTypePRRejected        MessageType = "pr_rejected"
	MessageTypePRReviewRequested MessageType = "pr_review_requested"
)

// EventType is the closed set of durable event types.
type EventType string

const (
	EventAgentStarted       EventType = "agent_started"
	EventAgentStopped       EventType = "agent_stopped"
	EventAgentError         EventType = "agent_error"
	EventTaskCreated        EventType = "task_created"
	EventTaskCompleted      EventType = "task_completed"
	EventDecisionProposed   EventType = "decision_proposed"
	EventDecisionVoted      EventType = "decision_voted"
	EventDecisionResolved   EventType = "decision_resolved"
	EventEscalationCreated  EventType = "escalation_created"
	EventEscalationResolved EventType = "escalation_resolved"
	EventStatusRequest      EventType = "status_request"
	EventStatusResponse     EventType = "status_response"
	EventBroadcast          EventType = "broadcast"
	EventHumanMessage       EventType = "human_message"
	EventInitiativeCreated  EventType = "initiative_created"
)

// Well-known channel names.
const (
	ChannelBroadcast    = "channel:broadcast"
	ChannelOrchestrator = "channel:orchestrator"
	ChannelWorkerLogs   = "channel:worker:logs"
	ChannelQuotaWarning = "channel:quota:warning"
	ChannelStatusFeed   = "channel:status-feed"
)

// ChannelForAgent returns the well-known per-agent channel name.
func ChannelForAgent(agentID string) string {
	return fmt.Sprintf("channel:agent:%s", agentID)
}
