package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/turboswarm/internal/agent"
	"github.com/ShayCichocki/turboswarm/internal/backend"
	"github.com/ShayCichocki/turboswarm/internal/metrics"
	"github.com/ShayCichocki/turboswarm/internal/statespace"
	"github.com/ShayCichocki/turboswarm/pkg/models"
)

// PoolConfig contains configuration options for an AgentPool.
type PoolConfig struct {
	// MaxAgents caps live agents. Zero or values above the system ceiling
	// use MaxAgents.
	MaxAgents int
	// TransientRetries is how many times an agent retries a task locally
	// after a transient backend error before reporting it. Zero uses the
	// default; a negative value disables local retries.
	TransientRetries int
	// TaskTimeout bounds one backend execution.
	TaskTimeout time.Duration
	// IdleBackoffMin and IdleBackoffMax bound how long an idle agent waits
	// for a wake-up before asking the queue again.
	IdleBackoffMin time.Duration
	IdleBackoffMax time.Duration
	// RetryDelay is the pause before a local transient retry.
	RetryDelay time.Duration
	// TerminateGrace bounds how long termination waits for a loop to return.
	TerminateGrace time.Duration
	// ReplaceFailed spawns a fresh agent of the same role when one fails.
	ReplaceFailed bool
}

// DefaultPoolConfig returns the default pool settings.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxAgents:        MaxAgents,
		TransientRetries: 2,
		TaskTimeout:      10 * time.Minute,
		IdleBackoffMin:   50 * time.Millisecond,
		IdleBackoffMax:   2 * time.Second,
		RetryDelay:       200 * time.Millisecond,
		TerminateGrace:   5 * time.Second,
	}
}

func (c PoolConfig) withDefaults() PoolConfig {
	d := DefaultPoolConfig()
	if c.MaxAgents <= 0 || c.MaxAgents > MaxAgents {
		c.MaxAgents = d.MaxAgents
	}
	switch {
	case c.TransientRetries == 0:
		c.TransientRetries = d.TransientRetries
	case c.TransientRetries < 0:
		c.TransientRetries = 0
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = d.TaskTimeout
	}
	if c.IdleBackoffMin <= 0 {
		c.IdleBackoffMin = d.IdleBackoffMin
	}
	if c.IdleBackoffMax < c.IdleBackoffMin {
		c.IdleBackoffMax = max(d.IdleBackoffMax, c.IdleBackoffMin)
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.TerminateGrace <= 0 {
		c.TerminateGrace = d.TerminateGrace
	}
	return c
}

// AgentPool runs the agents of one session. Each agent has its own
// goroutine; agents coordinate only through the queue and the state space.
type AgentPool struct {
	sessionID string
	cfg       PoolConfig
	queue     *TaskQueue
	space     *statespace.Space
	backends  *backend.Registry
	pause     *PauseController
	budget    *CostBudget
	registry  *AgentRegistry

	emit          func(Event)
	onAgentFailed func(models.AgentHandle)

	ctx     context.Context
	cancel  context.CancelFunc
	spawnMu sync.Mutex
	spawned atomic.Int64
}

// NewAgentPool creates a pool. The pause controller and budget may be nil.
func NewAgentPool(sessionID string, cfg PoolConfig, queue *TaskQueue, space *statespace.Space,
	backends *backend.Registry, pause *PauseController, budget *CostBudget) *AgentPool {
	if pause == nil {
		pause = NewPauseController()
	}
	if budget == nil {
		budget = NewCostBudget(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AgentPool{
		sessionID: sessionID,
		cfg:       cfg.withDefaults(),
		queue:     queue,
		space:     space,
		backends:  backends,
		pause:     pause,
		budget:    budget,
		registry:  NewAgentRegistry(),
		emit:      func(Event) {},
		ctx:       ctx,
		cancel:    cancel,
	}
}

// OnEvent registers the receiver of agent status events.
func (p *AgentPool) OnEvent(fn func(Event)) {
	p.emit = fn
}

// OnAgentFailed registers fn to run after an agent transitions to failed.
// It runs on the failed agent's goroutine.
func (p *AgentPool) OnAgentFailed(fn func(models.AgentHandle)) {
	p.onAgentFailed = fn
}

// Spawn starts a new agent of role executing through the backend for pref.
// An empty pref uses the role's default. Fails with ErrAgentSpawnFailed if
// the pool is at capacity, closed, or no backend serves pref.
func (p *AgentPool) Spawn(role models.AgentRole, pref models.ModelPreference) (models.AgentHandle, error) {
	if !role.Valid() {
		return models.AgentHandle{}, fmt.Errorf("%w: unknown role %q", ErrAgentSpawnFailed, role)
	}
	if pref == "" {
		pref = models.DefaultModelFor(role)
	}
	if !pref.Valid() {
		return models.AgentHandle{}, fmt.Errorf("%w: unknown model preference %q", ErrAgentSpawnFailed, pref)
	}

	p.spawnMu.Lock()
	defer p.spawnMu.Unlock()

	if p.ctx.Err() != nil {
		return models.AgentHandle{}, fmt.Errorf("%w: pool is shut down", ErrAgentSpawnFailed)
	}
	if live := p.registry.Live(); live >= p.cfg.MaxAgents {
		return models.AgentHandle{}, fmt.Errorf("%w: pool at capacity (%d agents)", ErrAgentSpawnFailed, live)
	}
	b, err := p.backends.Get(pref)
	if err != nil {
		return models.AgentHandle{}, fmt.Errorf("%w: %w", ErrAgentSpawnFailed, err)
	}
	behavior, err := agent.New(role, b)
	if err != nil {
		return models.AgentHandle{}, fmt.Errorf("%w: %w", ErrAgentSpawnFailed, err)
	}

	id := fmt.Sprintf("%s-%s", role, uuid.New().String()[:8])
	ctx, cancel := context.WithCancel(p.ctx)
	e := &agentEntry{
		handle: models.AgentHandle{
			ID:        id,
			SessionID: p.sessionID,
			Role:      role,
			Model:     pref,
			Status:    models.AgentStatusIdle,
		},
		behavior: behavior,
		notify:   p.queue.Subscribe(id, role),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	p.registry.Register(e)
	p.spawned.Add(1)
	metrics.RecordAgentSpawned(string(role))
	debugLog("[pool] spawned %s (%s via %s)", id, role, b.Name())

	go p.run(ctx, e)

	p.emit(Event{Type: EventAgentStatus, AgentID: id, Status: string(models.AgentStatusIdle), Message: "spawned"})
	return e.handle, nil
}

// Terminate stops an agent, requeues any task it holds and removes it.
// Terminating an agent that was already terminated succeeds.
func (p *AgentPool) Terminate(agentID string) error {
	e := p.registry.entry(agentID)
	if e == nil {
		if p.registry.WasTerminated(agentID) {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}

	e.cancel()
	timer := time.NewTimer(p.cfg.TerminateGrace)
	select {
	case <-e.done:
	case <-timer.C:
		log.Printf("[pool] agent %s did not stop within %s; releasing its tasks anyway", agentID, p.cfg.TerminateGrace)
	}
	timer.Stop()

	if ids := p.queue.ReleaseAgent(agentID); len(ids) > 0 {
		debugLog("[pool] %s released %v on termination", agentID, ids)
	}
	p.queue.Unsubscribe(agentID)
	if p.registry.Remove(agentID) {
		p.emit(Event{Type: EventAgentStatus, AgentID: agentID, Status: string(models.AgentStatusTerminated)})
	}
	return nil
}

// TerminateAll stops every agent concurrently and closes the pool to new spawns.
func (p *AgentPool) TerminateAll(ctx context.Context) error {
	p.spawnMu.Lock()
	p.cancel()
	p.spawnMu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(256)
	for _, id := range p.registry.IDs() {
		g.Go(func() error {
			return p.Terminate(id)
		})
	}
	return g.Wait()
}

// Get returns an agent's handle.
func (p *AgentPool) Get(agentID string) (models.AgentHandle, bool) {
	return p.registry.GetAgent(agentID)
}

// List returns every agent in spawn order.
func (p *AgentPool) List() []models.AgentHandle {
	return p.registry.AllAgents()
}

// Counts returns the number of agents per status.
func (p *AgentPool) Counts() map[models.AgentStatus]int {
	return p.registry.Counts()
}

// Live returns the number of agents that can still take tasks.
func (p *AgentPool) Live() int {
	return p.registry.Live()
}

// Spawned returns how many agents this pool has ever spawned.
func (p *AgentPool) Spawned() int {
	return int(p.spawned.Load())
}

// addSpawned seeds the spawn counter, used when restoring a session.
func (p *AgentPool) addSpawned(n int) {
	p.spawned.Add(int64(n))
}

// AllFailed reports whether the pool has agents and every one of them failed.
func (p *AgentPool) AllFailed() bool {
	counts := p.registry.Counts()
	total := 0
	for _, n := range counts {
		total += n
	}
	return total > 0 && counts[models.AgentStatusFailed] == total
}

// setStatus updates an agent's status and publishes the change. It returns
// the previous status.
func (p *AgentPool) setStatus(e *agentEntry, status models.AgentStatus, taskID string) models.AgentStatus {
	prev, changed := p.registry.SetStatus(e.handle.ID, status, taskID)
	if changed {
		p.emit(Event{Type: EventAgentStatus, AgentID: e.handle.ID, TaskID: taskID, Status: string(status)})
	}
	return prev
}

func (p *AgentPool) fail(e *agentEntry, err error) {
	p.setStatus(e, models.AgentStatusFailed, "")
	log.Printf("[pool] agent %s failed: %v", e.handle.ID, err)

	if p.onAgentFailed != nil {
		if h, ok := p.registry.GetAgent(e.handle.ID); ok {
			p.onAgentFailed(h)
		}
	}
}

func (p *AgentPool) recordCost(e *agentEntry, cost float64) {
	if cost <= 0 {
		return
	}
	p.registry.Update(e.handle.ID, func(h *models.AgentHandle) { h.Cost += cost })
	metrics.RecordCost(string(e.handle.Model), cost)
	p.budget.Add(cost)
}
