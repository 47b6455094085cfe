package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates at least one dependency is not yet completed.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusReady indicates every dependency is completed and the task may be assigned.
	TaskStatusReady TaskStatus = "ready"
	// TaskStatusAssigned indicates an agent holds the task.
	TaskStatusAssigned TaskStatus = "assigned"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed or can never run.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusReady, TaskStatusAssigned, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true for completed and failed tasks.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task represents a unit of work in a session.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id" yaml:"id"`
	// Title is the short description of the task.
	Title string `json:"title,omitempty" yaml:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty" yaml:"description"`
	// EstimatedMinutes is the expected execution time.
	EstimatedMinutes float64 `json:"estimated_minutes,omitempty" yaml:"estimated_minutes"`
	// DependsOn lists task IDs that must complete before this task.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on"`
	// Role restricts the task to agents of this role. Empty means any agent.
	Role AgentRole `json:"role,omitempty" yaml:"role"`
	// Inputs lists shared state keys the task reads. An agent blocks until they exist.
	Inputs []string `json:"inputs,omitempty" yaml:"inputs"`
	// Priority orders ready tasks; higher runs first.
	Priority int `json:"priority,omitempty" yaml:"priority"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status" yaml:"-"`
	// AssignedTo is the ID of the agent working on this task.
	AssignedTo string `json:"assigned_to,omitempty" yaml:"-"`
	// RetryCount is the number of times this task has been returned to ready after a failure.
	RetryCount int `json:"retry_count,omitempty" yaml:"-"`
	// Error contains the error message if the task failed.
	Error string `json:"error,omitempty" yaml:"-"`
	// Seq is the enqueue order, used to break priority ties.
	Seq uint64 `json:"seq" yaml:"-"`
	// CreatedAt is when the task was enqueued.
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	// CompletedAt is when the task reached a terminal status, if applicable.
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"-"`
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.DependsOn != nil {
		c.DependsOn = append([]string(nil), t.DependsOn...)
	}
	if t.Inputs != nil {
		c.Inputs = append([]string(nil), t.Inputs...)
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// AcceptsRole reports whether an agent of the given role may run the task.
func (t *Task) AcceptsRole(role AgentRole) bool {
	return t.Role == "" || t.Role == role
}
