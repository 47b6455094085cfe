package orchestrator

import (
	"time"
)

// EventType represents the type of session event.
type EventType string

const (
	// EventTaskReady indicates a task became eligible for assignment.
	EventTaskReady EventType = "task.ready"
	// EventTaskAssigned indicates an agent took a task.
	EventTaskAssigned EventType = "task.assigned"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task.completed"
	// EventTaskFailed indicates a task failed permanently, directly or by cascade.
	EventTaskFailed EventType = "task.failed"
	// EventTaskRequeued indicates a task went back to ready after a retryable
	// failure or the loss of its agent.
	EventTaskRequeued EventType = "task.requeued"
	// EventAgentStatus indicates an agent changed status.
	EventAgentStatus EventType = "agent.status"
	// EventSessionStatus indicates the session changed status.
	EventSessionStatus EventType = "session.status"
	// EventStateChanged indicates a shared state key was written.
	EventStateChanged EventType = "state.changed"
)

// Event is published on the session's bus topic.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	TaskID    string    `json:"task_id,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	// Status is the new task, agent or session status.
	Status string `json:"status,omitempty"`
	// Key is the shared state key for state.changed events.
	Key     string  `json:"key,omitempty"`
	Message string  `json:"message,omitempty"`
	Error   string  `json:"error,omitempty"`
	Cost    float64 `json:"cost,omitempty"`
	// Version is the state entry version for state.changed events.
	Version   uint64    `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
