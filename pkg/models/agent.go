package models

// AgentRole is the kind of work an agent performs.
type AgentRole string

const (
	// RolePlanner breaks work down and records plans in shared state.
	RolePlanner AgentRole = "planner"
	// RoleCoder implements tasks.
	RoleCoder AgentRole = "coder"
	// RoleTester writes and runs tests for completed work.
	RoleTester AgentRole = "tester"
	// RoleBrowser drives browser automation.
	RoleBrowser AgentRole = "browser"
	// RoleVerifier reviews results. Never allocated at session creation.
	RoleVerifier AgentRole = "verifier"
)

// Valid returns true if the role is a known value.
func (r AgentRole) Valid() bool {
	switch r {
	case RolePlanner, RoleCoder, RoleTester, RoleBrowser, RoleVerifier:
		return true
	default:
		return false
	}
}

// AllRoles lists every role in a stable order.
func AllRoles() []AgentRole {
	return []AgentRole{RolePlanner, RoleCoder, RoleTester, RoleBrowser, RoleVerifier}
}

// ModelPreference selects the backend an agent executes tasks with.
type ModelPreference string

const (
	// ModelGPT51 is used for fast planning.
	ModelGPT51 ModelPreference = "gpt-5.1"
	// ModelClaudeOpus45 is used for complex coding.
	ModelClaudeOpus45 ModelPreference = "claude-opus-4.5"
	// ModelGemini3Pro is used for test generation.
	ModelGemini3Pro ModelPreference = "gemini-3-pro"
	// ModelNone means no language model; used by browser automation.
	ModelNone ModelPreference = "none"
)

// Valid returns true if the preference is a known value.
func (m ModelPreference) Valid() bool {
	switch m {
	case ModelGPT51, ModelClaudeOpus45, ModelGemini3Pro, ModelNone:
		return true
	default:
		return false
	}
}

// DefaultModelFor returns the model preference a role is spawned with.
func DefaultModelFor(role AgentRole) ModelPreference {
	switch role {
	case RolePlanner:
		return ModelGPT51
	case RoleCoder, RoleVerifier:
		return ModelClaudeOpus45
	case RoleTester:
		return ModelGemini3Pro
	case RoleBrowser:
		return ModelNone
	default:
		return ModelClaudeOpus45
	}
}

// AgentStatus represents the current state of an agent.
type AgentStatus string

const (
	// AgentStatusIdle indicates the agent is waiting for a task.
	AgentStatusIdle AgentStatus = "idle"
	// AgentStatusWorking indicates the agent is executing a task.
	AgentStatusWorking AgentStatus = "working"
	// AgentStatusBlocked indicates the agent waits on a resource that is not yet available.
	AgentStatusBlocked AgentStatus = "blocked"
	// AgentStatusFailed indicates an unrecoverable error. Terminal.
	AgentStatusFailed AgentStatus = "failed"
	// AgentStatusTerminated indicates the agent was stopped explicitly. Terminal.
	AgentStatusTerminated AgentStatus = "terminated"
)

// Valid returns true if the status is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusIdle, AgentStatusWorking, AgentStatusBlocked,
		AgentStatusFailed, AgentStatusTerminated:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further task may be assigned in this status.
func (s AgentStatus) Terminal() bool {
	return s == AgentStatusFailed || s == AgentStatusTerminated
}

// AgentHandle is a point-in-time view of an agent.
type AgentHandle struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// SessionID is the session the agent belongs to for its whole lifetime.
	SessionID string `json:"session_id"`
	// Role is the kind of work the agent performs.
	Role AgentRole `json:"role"`
	// Model is the backend preference the agent executes with.
	Model ModelPreference `json:"model"`
	// Status is the current state of the agent.
	Status AgentStatus `json:"status"`
	// TaskID is the task currently being executed, if any.
	TaskID string `json:"task_id,omitempty"`
	// TasksCompleted counts tasks this agent finished successfully.
	TasksCompleted int `json:"tasks_completed"`
	// Cost is the total cost in dollars incurred by this agent.
	Cost float64 `json:"cost"`
}
