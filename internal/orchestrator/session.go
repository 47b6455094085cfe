package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/turboswarm/internal/backend"
	"github.com/ShayCichocki/turboswarm/internal/bus"
	"github.com/ShayCichocki/turboswarm/internal/metrics"
	"github.com/ShayCichocki/turboswarm/internal/state"
	"github.com/ShayCichocki/turboswarm/internal/statespace"
	"github.com/ShayCichocki/turboswarm/pkg/models"
)

// Session is one logical job: its agents, its tasks and its state space.
type Session struct {
	ID        string
	UserID    string
	Spec      models.ProjectSpec
	Plan      models.SizingPlan
	CreatedAt time.Time

	space  *statespace.Space
	queue  *TaskQueue
	pool   *AgentPool
	pause  *PauseController
	budget *CostBudget
	events *EventEmitter

	mu         sync.Mutex
	status     models.SessionStatus
	finishedAt time.Time
	// finished is closed when the session reaches a terminal status.
	finished chan struct{}
	// closed is closed when the session is destroyed.
	closed    chan struct{}
	closeOnce sync.Once
}

// Status returns the session's current status.
func (s *Session) Status() models.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// transition moves the session to status. If from is given, the move only
// happens from one of those statuses. Terminal sessions never move.
func (s *Session) transition(to models.SessionStatus, from ...models.SessionStatus) bool {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return false
	}
	if len(from) > 0 {
		allowed := false
		for _, f := range from {
			if s.status == f {
				allowed = true
				break
			}
		}
		if !allowed {
			s.mu.Unlock()
			return false
		}
	}
	if s.status == to {
		s.mu.Unlock()
		return false
	}
	s.status = to
	if to.Terminal() {
		s.finishedAt = time.Now()
		close(s.finished)
	}
	s.mu.Unlock()

	s.events.Emit(Event{Type: EventSessionStatus, Status: string(to)})
	return true
}

func (s *Session) elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finishedAt.IsZero() {
		return s.finishedAt.Sub(s.CreatedAt)
	}
	return time.Since(s.CreatedAt)
}

func (s *Session) sessionMetrics() models.SessionMetrics {
	stats := s.queue.Stats()
	return models.SessionMetrics{
		TasksAssigned:  stats.AssignedTotal,
		TasksCompleted: stats.Completed,
		TasksFailed:    stats.Failed,
		TasksRequeued:  stats.Requeued,
		InProgress:     stats.Assigned,
		TotalCost:      s.budget.Spent(),
		ElapsedSeconds: s.elapsed().Seconds(),
		AgentsSpawned:  s.pool.Spawned(),
	}
}

func (s *Session) report() *models.StatusReport {
	stats := s.queue.Stats()
	counts := s.pool.Counts()
	total := 0
	for _, n := range counts {
		total += n
	}
	return &models.StatusReport{
		SessionID:       s.ID,
		UserID:          s.UserID,
		Status:          s.Status(),
		Metrics:         s.sessionMetrics(),
		AgentCount:      total,
		AgentsIdle:      counts[models.AgentStatusIdle],
		AgentsWorking:   counts[models.AgentStatusWorking],
		AgentsBlocked:   counts[models.AgentStatusBlocked],
		AgentsFailed:    counts[models.AgentStatusFailed],
		TasksTotal:      stats.Total,
		TasksPending:    stats.Pending,
		TasksReady:      stats.Ready,
		BudgetExhausted: !s.budget.CanStartNew(),
		CreatedAt:       s.CreatedAt,
	}
}

func (s *Session) snapshot() *state.Snapshot {
	return &state.Snapshot{
		SessionID: s.ID,
		UserID:    s.UserID,
		Status:    s.Status(),
		Spec:      s.Spec,
		Plan:      s.Plan,
		Metrics:   s.sessionMetrics(),
		Tasks:     s.queue.List(),
		State:     s.space.Snapshot(),
		Agents:    s.pool.List(),
		CreatedAt: s.CreatedAt,
		SavedAt:   time.Now(),
	}
}

// SessionManager owns every live session. All session operations go
// through it.
type SessionManager struct {
	backends *backend.Registry
	spaces   *statespace.Manager
	opts     *managerOptions
	bus      bus.Bus
	ownsBus  bool

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionManager creates a manager executing agents through backends.
func NewSessionManager(backends *backend.Registry, opts ...Option) *SessionManager {
	o := defaultManagerOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.logger != nil {
		SetDebugLogger(o.logger)
	}

	m := &SessionManager{
		backends: backends,
		spaces:   statespace.NewManager(),
		opts:     o,
		bus:      o.bus,
		sessions: make(map[string]*Session),
	}
	if m.bus == nil {
		m.bus = bus.NewMemoryBus(o.eventBuffer)
		m.ownsBus = true
	}
	return m
}

func (m *SessionManager) get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s, nil
}

// build wires the components of a session without spawning agents.
func (m *SessionManager) build(id, userID string, spec models.ProjectSpec, plan models.SizingPlan, createdAt time.Time) (*Session, error) {
	space, err := m.spaces.Create(id)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:        id,
		UserID:    userID,
		Spec:      spec,
		Plan:      plan,
		CreatedAt: createdAt,
		space:     space,
		pause:     NewPauseController(),
		budget:    NewCostBudget(spec.CostBudget),
		events:    NewEventEmitter(id, m.bus, m.opts.eventBuffer),
		status:    models.SessionInitializing,
		finished:  make(chan struct{}),
		closed:    make(chan struct{}),
	}

	s.queue = NewTaskQueue(m.opts.queueConfig)
	s.queue.SetGate(func() bool {
		return !s.pause.IsPaused() && s.budget.CanStartNew()
	})
	s.queue.OnEvent(s.events.Emit)
	s.queue.OnSettled(func(allCompleted bool) {
		m.settle(s, allCompleted)
	})

	poolCfg := m.opts.poolConfig
	if poolCfg.MaxAgents <= 0 || poolCfg.MaxAgents > plan.Total() {
		poolCfg.MaxAgents = plan.Total()
	}
	s.pool = NewAgentPool(id, poolCfg, s.queue, space, m.backends, s.pause, s.budget)
	s.pool.OnEvent(s.events.Emit)
	s.pool.OnAgentFailed(func(h models.AgentHandle) {
		m.agentFailed(s, h)
	})

	s.budget.OnExhausted(func() {
		log.Printf("[session] %s cost budget of $%.2f exhausted; no new tasks will start", id, spec.CostBudget)
		s.events.Emit(Event{Type: EventSessionStatus, Status: string(s.Status()), Message: "cost budget exhausted"})
		s.queue.Abandon("cost budget exhausted")
	})

	space.OnWrite(func(e models.StateEntry) {
		s.events.Emit(Event{Type: EventStateChanged, Key: e.Key, AgentID: e.Writer, Version: e.Version})
	})
	return s, nil
}

// spawnPlan starts every agent of the sizing plan.
func (m *SessionManager) spawnPlan(s *Session) error {
	mix := []struct {
		role  models.AgentRole
		count int
	}{
		{models.RolePlanner, s.Plan.Planners},
		{models.RoleCoder, s.Plan.Coders},
		{models.RoleTester, s.Plan.Testers},
		{models.RoleBrowser, s.Plan.Browsers},
	}
	for _, r := range mix {
		for i := 0; i < r.count; i++ {
			if _, err := s.pool.Spawn(r.role, models.DefaultModelFor(r.role)); err != nil {
				return err
			}
		}
	}
	return nil
}

// teardown stops a session that was never registered.
func (m *SessionManager) teardown(ctx context.Context, s *Session) {
	s.pause.Stop()
	if err := s.pool.TerminateAll(ctx); err != nil {
		log.Printf("[session] %s terminate agents: %v", s.ID, err)
	}
	m.spaces.Destroy(s.ID)
	s.events.Close()
	s.closeOnce.Do(func() { close(s.closed) })
}

// CreateSession sizes, builds and starts a session for userID. It fails
// with ErrInvalidSpec for a malformed spec and ErrAgentSpawnFailed if the
// planned agents cannot all be started.
func (m *SessionManager) CreateSession(ctx context.Context, userID string, spec models.ProjectSpec) (string, error) {
	plan, err := ComputeSizing(spec)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	s, err := m.build(id, userID, spec, plan, time.Now())
	if err != nil {
		return "", err
	}
	if err := m.spawnPlan(s); err != nil {
		m.teardown(ctx, s)
		return "", err
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	s.transition(models.SessionActive)
	metrics.SessionOpened()
	log.Printf("[session] %s created for %s: %d agents (planners=%d coders=%d testers=%d browsers=%d capped=%v)",
		id, userID, plan.Total(), plan.Planners, plan.Coders, plan.Testers, plan.Browsers, plan.Capped)
	return id, nil
}

// settle finishes a session once its queue has no unresolved tasks.
func (m *SessionManager) settle(s *Session, allCompleted bool) {
	to := models.SessionCompleted
	if !allCompleted {
		to = models.SessionFailed
	}
	if !s.transition(to) {
		return
	}
	metrics.RecordSessionFinished(string(to))
	log.Printf("[session] %s %s", s.ID, to)
	if m.opts.checkpointOnFinish {
		m.checkpoint(context.Background(), s)
	}
}

// agentFailed replaces a failed agent if configured and fails the session
// when no agent is left to resolve outstanding work.
func (m *SessionManager) agentFailed(s *Session, h models.AgentHandle) {
	if m.opts.poolConfig.ReplaceFailed && !s.Status().Terminal() {
		if nh, err := s.pool.Spawn(h.Role, h.Model); err != nil {
			log.Printf("[session] %s could not replace agent %s: %v", s.ID, h.ID, err)
		} else {
			log.Printf("[session] %s replaced agent %s with %s", s.ID, h.ID, nh.ID)
		}
	}
	if s.pool.AllFailed() && s.queue.Stats().Unresolved() > 0 {
		if s.transition(models.SessionFailed) {
			metrics.RecordSessionFinished(string(models.SessionFailed))
			log.Printf("[session] %s failed: every agent failed with work outstanding", s.ID)
		}
	}
}

// GetStatus returns a report of a session's status, metrics and agents.
func (m *SessionManager) GetStatus(sessionID string) (*models.StatusReport, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}
	return s.report(), nil
}

// PauseSession stops new task assignment. Tasks already running finish.
// Pausing a paused session is a no-op.
func (m *SessionManager) PauseSession(ctx context.Context, sessionID string) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}
	if s.Status().Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrSessionTerminal, sessionID, s.Status())
	}
	s.pause.Pause()
	if s.transition(models.SessionPaused, models.SessionActive) {
		log.Printf("[session] %s paused", sessionID)
		if err := m.checkpoint(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// ResumeSession re-enables task assignment and wakes idle agents.
func (m *SessionManager) ResumeSession(ctx context.Context, sessionID string) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}
	if s.Status().Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrSessionTerminal, sessionID, s.Status())
	}
	s.pause.Resume()
	if s.transition(models.SessionActive, models.SessionPaused) {
		log.Printf("[session] %s resumed", sessionID)
	}
	s.queue.WakeAll()
	return nil
}

// DestroySession terminates every agent, requeueing the tasks they held,
// releases the state space and removes the session. It returns the final
// metrics. With a store configured, a final checkpoint is written first.
func (m *SessionManager) DestroySession(ctx context.Context, sessionID string) (models.SessionMetrics, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return models.SessionMetrics{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	s.pause.Stop()
	if err := s.pool.TerminateAll(ctx); err != nil {
		log.Printf("[session] %s terminate agents: %v", sessionID, err)
	}
	final := s.sessionMetrics()
	if err := m.checkpoint(ctx, s); err != nil {
		log.Printf("[session] %s final checkpoint: %v", sessionID, err)
	}

	m.spaces.Destroy(sessionID)
	s.events.Close()
	s.closeOnce.Do(func() { close(s.closed) })
	metrics.SessionClosed()
	log.Printf("[session] %s destroyed: %d completed, %d failed, $%.4f",
		sessionID, final.TasksCompleted, final.TasksFailed, final.TotalCost)
	return final, nil
}

// AddTasks enqueues tasks atomically. It fails with ErrCyclicDependency,
// ErrUnknownDependency or ErrDuplicateTask without enqueueing anything.
func (m *SessionManager) AddTasks(sessionID string, tasks ...*models.Task) ([]*models.Task, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status().Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrSessionTerminal, sessionID, s.Status())
	}
	return s.queue.EnqueueBatch(tasks...)
}

// ListTasks returns every task of a session in enqueue order.
func (m *SessionManager) ListTasks(sessionID string) ([]*models.Task, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}
	return s.queue.List(), nil
}

// GetTask returns one task.
func (m *SessionManager) GetTask(sessionID, taskID string) (*models.Task, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}
	t, ok := s.queue.Get(taskID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return t, nil
}

// GetState returns one shared state entry.
func (m *SessionManager) GetState(sessionID, key string) (models.StateEntry, bool, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return models.StateEntry{}, false, err
	}
	e, ok := s.space.Entry(key)
	return e, ok, nil
}

// SetState writes a shared state key on behalf of writer, typically to
// seed inputs that tasks await. An empty writer writes as the session's user.
func (m *SessionManager) SetState(sessionID, writer, key, value string) (models.StateEntry, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return models.StateEntry{}, err
	}
	if writer == "" {
		writer = "user:" + s.UserID
	}
	return s.space.Set(writer, key, value)
}

// StateSnapshot returns every shared state entry of a session.
func (m *SessionManager) StateSnapshot(sessionID string) ([]models.StateEntry, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}
	return s.space.Snapshot(), nil
}

// SpawnAgent adds an agent to a running session, within the session's
// sizing cap. This is the only way to obtain a verifier.
func (m *SessionManager) SpawnAgent(sessionID string, role models.AgentRole, pref models.ModelPreference) (models.AgentHandle, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return models.AgentHandle{}, err
	}
	if s.Status().Terminal() {
		return models.AgentHandle{}, fmt.Errorf("%w: %s is %s", ErrSessionTerminal, sessionID, s.Status())
	}
	return s.pool.Spawn(role, pref)
}

// TerminateAgent stops one agent and requeues its task.
func (m *SessionManager) TerminateAgent(sessionID, agentID string) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}
	return s.pool.Terminate(agentID)
}

// ListAgents returns every agent of a session in spawn order.
func (m *SessionManager) ListAgents(sessionID string) ([]models.AgentHandle, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}
	return s.pool.List(), nil
}

// Subscribe streams a session's events until ctx is done or the session is
// destroyed.
func (m *SessionManager) Subscribe(ctx context.Context, sessionID string) (<-chan Event, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}
	subCtx, cancel := context.WithCancel(ctx)
	raw, err := m.bus.Subscribe(subCtx, bus.SessionTopic(sessionID))
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan Event, bus.DefaultBufferSize)
	forward := func(payload []byte) bool {
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return true
		}
		select {
		case out <- ev:
			return true
		case <-subCtx.Done():
			return false
		}
	}

	go func() {
		defer close(out)
		defer cancel()
		for {
			select {
			case payload, ok := <-raw:
				if !ok || !forward(payload) {
					return
				}
			case <-s.closed:
				for {
					select {
					case payload, ok := <-raw:
						if !ok || !forward(payload) {
							return
						}
					default:
						return
					}
				}
			case <-subCtx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Wait blocks until the session completes or fails and returns its report.
func (m *SessionManager) Wait(ctx context.Context, sessionID string) (*models.StatusReport, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}
	select {
	case <-s.finished:
		return s.report(), nil
	case <-s.closed:
		return nil, fmt.Errorf("%w: %s was destroyed", ErrSessionNotFound, sessionID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *SessionManager) checkpoint(ctx context.Context, s *Session) error {
	if m.opts.store == nil {
		return nil
	}
	if err := m.opts.store.Save(ctx, s.snapshot()); err != nil {
		return fmt.Errorf("checkpoint %s: %w", s.ID, err)
	}
	debugLog("[session] checkpointed %s", s.ID)
	return nil
}

// Checkpoint saves a session to the store. Without a store it does nothing.
func (m *SessionManager) Checkpoint(ctx context.Context, sessionID string) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}
	return m.checkpoint(ctx, s)
}

// RestoreSession rebuilds a session from its stored snapshot under the same
// ID. Tasks that were assigned are re-validated, a fresh set of agents is
// spawned from the stored plan and the state space is restored. A paused
// session comes back paused; a terminal one comes back without agents.
func (m *SessionManager) RestoreSession(ctx context.Context, sessionID string) error {
	if m.opts.store == nil {
		return errors.New("restore session: no store configured")
	}
	snap, err := m.opts.store.Load(ctx, sessionID)
	if err != nil {
		return err
	}

	m.mu.RLock()
	_, live := m.sessions[sessionID]
	m.mu.RUnlock()
	if live {
		return fmt.Errorf("restore session: %s is already running", sessionID)
	}

	s, err := m.build(snap.SessionID, snap.UserID, snap.Spec, snap.Plan, snap.CreatedAt)
	if err != nil {
		return err
	}
	fail := func(err error) error {
		m.teardown(ctx, s)
		return err
	}

	if err := s.space.Restore(snap.State); err != nil {
		return fail(fmt.Errorf("restore state: %w", err))
	}
	s.budget.Restore(snap.Metrics.TotalCost)
	s.pool.addSpawned(snap.Metrics.AgentsSpawned)

	switch {
	case snap.Status.Terminal():
		s.transition(snap.Status)
		if err := s.queue.Restore(snap.Tasks, QueueStats{AssignedTotal: snap.Metrics.TasksAssigned, Requeued: snap.Metrics.TasksRequeued}); err != nil {
			return fail(err)
		}
	default:
		if snap.Status == models.SessionPaused {
			s.pause.Pause()
		}
		if err := m.spawnPlan(s); err != nil {
			return fail(err)
		}
		if err := s.queue.Restore(snap.Tasks, QueueStats{AssignedTotal: snap.Metrics.TasksAssigned, Requeued: snap.Metrics.TasksRequeued}); err != nil {
			return fail(err)
		}
		if snap.Status == models.SessionPaused {
			s.transition(models.SessionPaused)
		} else {
			s.transition(models.SessionActive)
		}
		s.queue.WakeAll()
	}

	m.mu.Lock()
	m.sessions[sessionID] = s
	m.mu.Unlock()
	metrics.SessionOpened()
	log.Printf("[session] %s restored (%s, %d tasks)", sessionID, s.Status(), len(snap.Tasks))
	return nil
}

// ListSessions returns a report for every live session, oldest first.
func (m *SessionManager) ListSessions() []*models.StatusReport {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	out := make([]*models.StatusReport, len(sessions))
	for i, s := range sessions {
		out[i] = s.report()
	}
	return out
}

// StoredSessions lists the sessions in the store.
func (m *SessionManager) StoredSessions(ctx context.Context) ([]state.Summary, error) {
	if m.opts.store == nil {
		return nil, nil
	}
	return m.opts.store.List(ctx)
}

// Close destroys every live session.
func (m *SessionManager) Close(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if _, err := m.DestroySession(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	if m.ownsBus {
		errs = append(errs, m.bus.Close())
	}
	return errors.Join(errs...)
}
