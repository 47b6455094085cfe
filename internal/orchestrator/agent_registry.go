package orchestrator

import (
	"context"
	"sort"
	"sync"

	"github.com/ShayCichocki/turboswarm/internal/agent"
	"github.com/ShayCichocki/turboswarm/internal/metrics"
	"github.com/ShayCichocki/turboswarm/pkg/models"
)

// agentEntry is the pool's record of one running agent.
type agentEntry struct {
	handle   models.AgentHandle
	behavior agent.Behavior
	notify   <-chan struct{}
	cancel   context.CancelFunc
	// done is closed when the agent's loop has returned.
	done  chan struct{}
	order uint64
}

// AgentRegistry holds the agents of one pool. Handles are only changed
// through the registry so status counts stay consistent with the metrics.
type AgentRegistry struct {
	agents map[string]*agentEntry
	// terminated remembers removed agents so termination stays idempotent.
	terminated map[string]struct{}
	next       uint64
	mu         sync.RWMutex
}

// NewAgentRegistry creates a new AgentRegistry.
func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{
		agents:     make(map[string]*agentEntry),
		terminated: make(map[string]struct{}),
	}
}

// Register adds an agent to the registry.
func (r *AgentRegistry) Register(e *agentEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	e.order = r.next
	r.agents[e.handle.ID] = e
	metrics.RecordAgentTransition("", string(e.handle.Status))
}

func (r *AgentRegistry) entry(agentID string) *agentEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[agentID]
}

// WasTerminated reports whether agentID was registered and later removed.
func (r *AgentRegistry) WasTerminated(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.terminated[agentID]
	return ok
}

// GetAgent returns a copy of an agent's handle.
func (r *AgentRegistry) GetAgent(agentID string) (models.AgentHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[agentID]
	if !ok {
		return models.AgentHandle{}, false
	}
	return e.handle, true
}

// SetStatus moves an agent to status with the given current task. Terminal
// statuses are never left. It returns the previous status and whether the
// status changed.
func (r *AgentRegistry) SetStatus(agentID string, status models.AgentStatus, taskID string) (models.AgentStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[agentID]
	if !ok {
		return "", false
	}
	prev := e.handle.Status
	if prev.Terminal() {
		return prev, false
	}
	e.handle.Status = status
	e.handle.TaskID = taskID
	metrics.RecordAgentTransition(string(prev), string(status))
	return prev, prev != status
}

// Update applies fn to an agent's handle.
func (r *AgentRegistry) Update(agentID string, fn func(h *models.AgentHandle)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.agents[agentID]; ok {
		fn(&e.handle)
	}
}

// Remove drops an agent and remembers it as terminated. It returns false if
// the agent was not registered.
func (r *AgentRegistry) Remove(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[agentID]
	if !ok {
		return false
	}
	delete(r.agents, agentID)
	r.terminated[agentID] = struct{}{}
	metrics.RecordAgentTransition(string(e.handle.Status), "")
	return true
}

// AllAgents returns copies of every handle in spawn order.
func (r *AgentRegistry) AllAgents() []models.AgentHandle {
	r.mu.RLock()
	entries := make([]*agentEntry, 0, len(r.agents))
	for _, e := range r.agents {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].order < entries[j].order })
	out := make([]models.AgentHandle, len(entries))
	for i, e := range entries {
		out[i] = e.handle
	}
	r.mu.RUnlock()
	return out
}

// IDs returns the IDs of every registered agent.
func (r *AgentRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	return ids
}

// Counts returns the number of agents per status.
func (r *AgentRegistry) Counts() map[models.AgentStatus]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[models.AgentStatus]int)
	for _, e := range r.agents {
		counts[e.handle.Status]++
	}
	return counts
}

// Live returns the number of agents not in a terminal status.
func (r *AgentRegistry) Live() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.agents {
		if !e.handle.Status.Terminal() {
			n++
		}
	}
	return n
}
