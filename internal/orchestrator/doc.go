// Package orchestrator coordinates sessions of concurrent agents working
// through a dependency graph of tasks.
//
// The package provides:
//   - SessionManager: creates, pauses, resumes, checkpoints and destroys sessions
//   - TaskQueue: dependency-gated, priority-ordered assignment of tasks to agents
//   - AgentPool: spawns agents, runs their execution loops and terminates them
//   - ComputeSizing: derives the agent mix of a session from its project spec
//
// Each session owns one TaskQueue, one AgentPool and one shared state space.
// Agents never reference each other; all coordination goes through the queue
// and the state space.
//
// Example usage:
//
//	mgr := orchestrator.NewSessionManager(backend.NewSimulatedRegistry(0))
//	id, err := mgr.CreateSession(ctx, "user-1", spec)
//	_ = mgr.AddTasks(id, tasks...)
//	report, err := mgr.Wait(ctx, id)
package orchestrator
