package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ShayCichocki/turboswarm/internal/agent"
	"github.com/ShayCichocki/turboswarm/internal/backend"
	"github.com/ShayCichocki/turboswarm/internal/metrics"
	"github.com/ShayCichocki/turboswarm/pkg/models"
)

// run is the execution loop of one agent. It returns when the agent's
// context is cancelled, the session stops, or the agent fails.
func (p *AgentPool) run(ctx context.Context, e *agentEntry) {
	defer close(e.done)
	defer func() {
		if r := recover(); r != nil {
			p.queue.ReleaseAgent(e.handle.ID)
			p.fail(e, fmt.Errorf("panic: %v", r))
		}
	}()

	backoff := p.cfg.IdleBackoffMin
	timer := time.NewTimer(backoff)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		if err := p.pause.WaitIfPaused(ctx); err != nil {
			return
		}

		task := p.queue.NextReadyFor(e.handle.ID, e.handle.Role)
		if task == nil {
			p.setStatus(e, models.AgentStatusIdle, "")
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(backoff)
			select {
			case <-ctx.Done():
				return
			case <-e.notify:
				backoff = p.cfg.IdleBackoffMin
			case <-timer.C:
				backoff = min(backoff*2, p.cfg.IdleBackoffMax)
			}
			continue
		}

		backoff = p.cfg.IdleBackoffMin
		if !p.execute(ctx, e, task) {
			return
		}
	}
}

// execute runs one task and reports the result. It returns false when the
// loop should stop.
func (p *AgentPool) execute(ctx context.Context, e *agentEntry, task *models.Task) bool {
	id, role, model := e.handle.ID, e.handle.Role, e.handle.Model
	p.setStatus(e, models.AgentStatusWorking, task.ID)
	state := &agentState{pool: p, entry: e, taskID: task.ID}

	start := time.Now()
	var err error
	for attempt := 0; ; attempt++ {
		taskCtx, cancel := context.WithTimeout(ctx, p.cfg.TaskTimeout)
		var out *agent.Outcome
		out, err = e.behavior.Execute(taskCtx, task, state)
		cancel()
		if out != nil {
			p.recordCost(e, out.Cost)
		}

		if err == nil || ctx.Err() != nil || errors.Is(err, agent.ErrRejected) {
			break
		}
		kind := backend.Classify(err)
		metrics.RecordBackendError(string(model), kind.String())
		if kind == backend.Fatal || attempt >= p.cfg.TransientRetries {
			break
		}
		debugLog("[agent %s] transient error on %s (attempt %d): %v", id, task.ID, attempt+1, err)
		if !sleepCtx(ctx, p.cfg.RetryDelay*time.Duration(attempt+1)) {
			break
		}
	}
	metrics.RecordTaskDuration(string(role), string(model), time.Since(start).Seconds())

	if ctx.Err() != nil {
		// Terminated mid-task; Terminate requeues whatever we hold.
		return false
	}

	keepRunning := err == nil || errors.Is(err, agent.ErrRejected) || backend.Classify(err) != backend.Fatal
	if keepRunning {
		// Idle before reporting: a pause taken after this task finds no work here.
		p.setStatus(e, models.AgentStatusIdle, "")
	}

	var reportErr error
	switch {
	case err == nil:
		p.registry.Update(id, func(h *models.AgentHandle) { h.TasksCompleted++ })
		reportErr = p.queue.ReportCompletion(task.ID, id)
	case errors.Is(err, agent.ErrRejected), !keepRunning:
		reportErr = p.queue.ReportFailure(task.ID, id, false, err.Error())
	default:
		reportErr = p.queue.ReportFailure(task.ID, id, true, err.Error())
	}
	if reportErr != nil {
		// The task was taken back while we ran, e.g. after a slow termination.
		log.Printf("[pool] agent %s could not report %s: %v", id, task.ID, reportErr)
	}

	if !keepRunning {
		p.fail(e, err)
		return false
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// agentState is an agent's StateHandle onto the session's state space.
type agentState struct {
	pool   *AgentPool
	entry  *agentEntry
	taskID string
}

func (s *agentState) AgentID() string   { return s.entry.handle.ID }
func (s *agentState) SessionID() string { return s.pool.sessionID }

func (s *agentState) Get(key string) (string, bool) {
	return s.pool.space.Get(key)
}

func (s *agentState) Set(key, value string) error {
	_, err := s.pool.space.Set(s.entry.handle.ID, key, value)
	return err
}

// Await returns the value of key, blocking while it is absent. The agent is
// shown as blocked for the duration of the wait.
func (s *agentState) Await(ctx context.Context, key string) (string, error) {
	if v, ok := s.pool.space.Get(key); ok {
		return v, nil
	}
	prev := s.pool.setStatus(s.entry, models.AgentStatusBlocked, s.taskID)
	defer func() {
		if prev != "" && !prev.Terminal() {
			s.pool.setStatus(s.entry, prev, s.taskID)
		}
	}()
	return s.pool.space.Await(ctx, key)
}

var _ agent.StateHandle = (*agentState)(nil)
