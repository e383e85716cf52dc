package types

import "time"

// Event types pushed to dashboards and the broker
const (
	EventAssignmentCreated     = "assignment_created"
	EventAssignmentMoved       = "assignment_moved"
	EventAssignmentRemoved     = "assignment_removed"
	EventDistributionCompleted = "distribution_completed"
	EventAgentSummaries        = "agent_summaries"
)

// AssignmentEvent is emitted after every committed engine mutation
type AssignmentEvent struct {
	Type            string           `json:"type"`
	CourseID        string           `json:"courseId,omitempty"`
	AgentID         string           `json:"agentId,omitempty"`
	PreviousAgentID string           `json:"previousAgentId,omitempty"`
	LeadIDs         []string         `json:"leadIds,omitempty"`
	Count           int              `json:"count"`
	Method          AssignmentMethod `json:"method,omitempty"`
	RunID           string           `json:"runId,omitempty"`
	Timestamp       time.Time        `json:"timestamp"`
}

// SummariesMessage carries a freshly computed set of agent summaries
type SummariesMessage struct {
	Type      string         `json:"type"` // "agent_summaries"
	Summaries []AgentSummary `json:"summaries"`
	Timestamp time.Time      `json:"timestamp"`
}

// TargetsAgent reports whether an agent-scoped subscriber should receive the event
func (e AssignmentEvent) TargetsAgent(agentID string) bool {
	return agentID != "" && (e.AgentID == agentID || e.PreviousAgentID == agentID)
}
