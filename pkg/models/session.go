package models

import "time"

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	SessionInitializing SessionStatus = "initializing"
	SessionActive       SessionStatus = "active"
	SessionPaused       SessionStatus = "paused"
	SessionCompleted    SessionStatus = "completed"
	SessionFailed       SessionStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionInitializing, SessionActive, SessionPaused, SessionCompleted, SessionFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true for completed and failed sessions.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// ParallelizationMode selects the base agent count of a session.
type ParallelizationMode string

const (
	ParallelSequential ParallelizationMode = "sequential"
	ParallelBatch10    ParallelizationMode = "batch10"
	ParallelBatch100   ParallelizationMode = "batch100"
	// ParallelTurbo scales with the replication count: ten agents per replica.
	ParallelTurbo ParallelizationMode = "turbo"
)

// Complexity is the estimated size of a project.
type Complexity string

const (
	ComplexitySmall  Complexity = "small"
	ComplexityMedium Complexity = "medium"
	ComplexityLarge  Complexity = "large"
	ComplexityXLarge Complexity = "xlarge"
)

// Fraction returns the share of the base agent count allocated to coders.
func (c Complexity) Fraction() float64 {
	switch c {
	case ComplexitySmall:
		return 0.25
	case ComplexityMedium:
		return 0.5
	case ComplexityLarge:
		return 0.75
	case ComplexityXLarge:
		return 1.0
	default:
		return 0
	}
}

// TemplateType names the kind of project being executed.
type TemplateType string

const (
	TemplateHospitalIntegration TemplateType = "hospital_integration"
	TemplateResearchSprint      TemplateType = "research_sprint"
	TemplateSoftwareDev         TemplateType = "software_dev"
	TemplateManufacturing       TemplateType = "manufacturing"
)

// ProjectSpec describes the job a session executes and drives agent sizing.
type ProjectSpec struct {
	Name             string              `json:"name" yaml:"name"`
	Template         TemplateType        `json:"template,omitempty" yaml:"template" validate:"omitempty,oneof=hospital_integration research_sprint software_dev manufacturing"`
	ReplicationCount int                 `json:"replication_count" yaml:"replication_count" validate:"min=1,max=10000"`
	Parallelization  ParallelizationMode `json:"parallelization" yaml:"parallelization" validate:"required,oneof=sequential batch10 batch100 turbo"`
	RequiresBrowser  bool                `json:"requires_browser" yaml:"requires_browser"`
	Complexity       Complexity          `json:"estimated_complexity" yaml:"estimated_complexity" validate:"required,oneof=small medium large xlarge"`
	// CostBudget caps total backend spend in dollars. Zero means unlimited.
	CostBudget float64 `json:"cost_budget,omitempty" yaml:"cost_budget" validate:"gte=0"`
}

// SizingPlan is the agent mix computed for a session.
type SizingPlan struct {
	Base     int  `json:"base"`
	Planners int  `json:"planners"`
	Coders   int  `json:"coders"`
	Testers  int  `json:"testers"`
	Browsers int  `json:"browsers"`
	Capped   bool `json:"capped,omitempty"`
}

// Total returns the number of agents in the plan.
func (p SizingPlan) Total() int {
	return p.Planners + p.Coders + p.Testers + p.Browsers
}

// SessionMetrics aggregates a session's progress.
type SessionMetrics struct {
	TasksAssigned  int     `json:"tasks_assigned"`
	TasksCompleted int     `json:"tasks_completed"`
	TasksFailed    int     `json:"tasks_failed"`
	TasksRequeued  int     `json:"tasks_requeued"`
	InProgress     int     `json:"in_progress"`
	TotalCost      float64 `json:"total_cost"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	AgentsSpawned  int     `json:"agents_spawned"`
}

// StatusReport is returned by a status query.
type StatusReport struct {
	SessionID       string         `json:"session_id"`
	UserID          string         `json:"user_id"`
	Status          SessionStatus  `json:"status"`
	Metrics         SessionMetrics `json:"metrics"`
	AgentCount      int            `json:"agent_count"`
	AgentsIdle      int            `json:"agents_idle"`
	AgentsWorking   int            `json:"agents_working"`
	AgentsBlocked   int            `json:"agents_blocked"`
	AgentsFailed    int            `json:"agents_failed"`
	TasksTotal      int            `json:"tasks_total"`
	TasksPending    int            `json:"tasks_pending"`
	TasksReady      int            `json:"tasks_ready"`
	BudgetExhausted bool           `json:"budget_exhausted,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// StateEntry is one key of a shared state space together with its write clock.
type StateEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	// Version is the per-key write counter assigned at write time.
	Version uint64 `json:"version"`
	// Writer is the identity of the last writer; breaks version ties.
	Writer    string    `json:"writer"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Supersedes reports whether e wins over other under last-writer-wins ordering.
func (e StateEntry) Supersedes(other StateEntry) bool {
	if e.Version != other.Version {
		return e.Version > other.Version
	}
	return e.Writer > other.Writer
}
