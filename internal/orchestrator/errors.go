package orchestrator

import (
	"errors"
	"fmt"

	"github.com/ShayCichocki/turboswarm/internal/graph"
)

var (
	// ErrSessionNotFound is returned for operations on an unknown session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrAgentSpawnFailed is returned when the pool is at capacity or no
	// backend serves the agent's model preference.
	ErrAgentSpawnFailed = errors.New("agent spawn failed")
	// ErrInvalidSpec is returned for a malformed project spec.
	ErrInvalidSpec = errors.New("invalid project spec")
	// ErrCyclicDependency is returned when an enqueue would create a cycle.
	ErrCyclicDependency = errors.New("cyclic dependency")
	// ErrUnknownDependency is returned when a task depends on a task that
	// is neither queued nor part of the same batch.
	ErrUnknownDependency = errors.New("unknown dependency")
	// ErrDuplicateTask is returned when a task ID is already queued.
	ErrDuplicateTask = errors.New("duplicate task")
	// ErrTaskNotFound is returned for reports about an unknown task.
	ErrTaskNotFound = errors.New("task not found")
	// ErrNotAssigned is returned when an agent reports on a task it does not hold.
	ErrNotAssigned = errors.New("task not assigned to agent")
	// ErrSessionTerminal is returned when pausing or resuming a completed or failed session.
	ErrSessionTerminal = errors.New("session is terminal")
	// ErrAgentNotFound is returned for operations on an unknown agent.
	ErrAgentNotFound = errors.New("agent not found")
)

// graphError maps graph validation errors onto the orchestrator taxonomy.
// The original error stays in the chain.
func graphError(err error) error {
	switch {
	case errors.Is(err, graph.ErrCycleDetected):
		return fmt.Errorf("%w: %w", ErrCyclicDependency, err)
	case errors.Is(err, graph.ErrUnknownDependency):
		return fmt.Errorf("%w: %w", ErrUnknownDependency, err)
	case errors.Is(err, graph.ErrDuplicateTask):
		return fmt.Errorf("%w: %w", ErrDuplicateTask, err)
	default:
		return err
	}
}
