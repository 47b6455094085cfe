package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ShayCichocki/turboswarm/internal/agent"
	"github.com/ShayCichocki/turboswarm/internal/backend"
	"github.com/ShayCichocki/turboswarm/internal/state"
	"github.com/ShayCichocki/turboswarm/pkg/models"
)

var smallSpec = models.ProjectSpec{
	Name:             "small",
	ReplicationCount: 1,
	Parallelization:  models.ParallelSequential,
	Complexity:       models.ComplexitySmall,
}

func newTestManager(t *testing.T, reg *backend.Registry, opts ...Option) *SessionManager {
	t.Helper()
	m := NewSessionManager(reg, opts...)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

func waitFor(t *testing.T, m *SessionManager, id string) *models.StatusReport {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	report, err := m.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return report
}

// blockingRegistry serves coders with a backend that runs until cancelled.
func blockingRegistry() *backend.Registry {
	reg := backend.NewSimulatedRegistry(0)
	reg.Register(models.ModelClaudeOpus45, backend.Func(func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	return reg
}

func TestSessionManager_CreateSession(t *testing.T) {
	m := newTestManager(t, backend.NewSimulatedRegistry(0))

	id, err := m.CreateSession(context.Background(), "user-1", smallSpec)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	report, err := m.GetStatus(id)
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != models.SessionActive || report.UserID != "user-1" {
		t.Errorf("report = %+v", report)
	}
	if report.AgentCount != 3 || report.Metrics.AgentsSpawned != 3 {
		t.Errorf("agents = %d (spawned %d), want 3", report.AgentCount, report.Metrics.AgentsSpawned)
	}

	agents, _ := m.ListAgents(id)
	roles := map[models.AgentRole]int{}
	for _, a := range agents {
		roles[a.Role]++
		if a.SessionID != id {
			t.Errorf("agent %s belongs to %s", a.ID, a.SessionID)
		}
	}
	if roles[models.RolePlanner] != 1 || roles[models.RoleCoder] != 1 || roles[models.RoleTester] != 1 {
		t.Errorf("roles = %v", roles)
	}
}

func TestSessionManager_CreateSessionErrors(t *testing.T) {
	m := newTestManager(t, backend.NewSimulatedRegistry(0))
	if _, err := m.CreateSession(context.Background(), "u", models.ProjectSpec{}); !errors.Is(err, ErrInvalidSpec) {
		t.Errorf("invalid spec: err = %v", err)
	}

	reg := backend.NewRegistry()
	reg.Register(models.ModelGPT51, &backend.Simulated{Pref: models.ModelGPT51})
	m2 := newTestManager(t, reg)
	if _, err := m2.CreateSession(context.Background(), "u", smallSpec); !errors.Is(err, ErrAgentSpawnFailed) {
		t.Errorf("missing backend: err = %v", err)
	}
	if n := len(m2.ListSessions()); n != 0 {
		t.Errorf("%d sessions left after failed create", n)
	}
}

func TestSessionManager_UnknownSession(t *testing.T) {
	m := newTestManager(t, backend.NewSimulatedRegistry(0))
	if _, err := m.GetStatus("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("GetStatus: err = %v", err)
	}
	if _, err := m.DestroySession(context.Background(), "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("DestroySession: err = %v", err)
	}
	if err := m.PauseSession(context.Background(), "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("PauseSession: err = %v", err)
	}
	if _, err := m.AddTasks("nope", task("A")); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("AddTasks: err = %v", err)
	}
}

func TestSession_RunsDependencyGraph(t *testing.T) {
	m := newTestManager(t, backend.NewSimulatedRegistry(0))
	id, err := m.CreateSession(context.Background(), "u", smallSpec)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddTasks(id, task("A"), task("B", "A"), task("C", "A")); err != nil {
		t.Fatal(err)
	}

	report := waitFor(t, m, id)
	if report.Status != models.SessionCompleted {
		t.Fatalf("status = %s, want completed", report.Status)
	}
	if report.Metrics.TasksCompleted != 3 || report.Metrics.TasksFailed != 0 {
		t.Errorf("metrics = %+v", report.Metrics)
	}
	for _, id2 := range []string{"A", "B", "C"} {
		if _, ok, _ := m.GetState(id, agent.ResultKey(id2)); !ok {
			t.Errorf("no result for %s", id2)
		}
	}

	if _, err := m.AddTasks(id, task("D")); !errors.Is(err, ErrSessionTerminal) {
		t.Errorf("AddTasks after completion: err = %v", err)
	}
	if err := m.PauseSession(context.Background(), id); !errors.Is(err, ErrSessionTerminal) {
		t.Errorf("PauseSession after completion: err = %v", err)
	}
}

func TestSession_RejectsCyclicBatch(t *testing.T) {
	m := newTestManager(t, backend.NewSimulatedRegistry(0))
	id, err := m.CreateSession(context.Background(), "u", smallSpec)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddTasks(id, task("X", "Y"), task("Y", "X")); !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("err = %v, want ErrCyclicDependency", err)
	}
	tasks, _ := m.ListTasks(id)
	if len(tasks) != 0 {
		t.Errorf("%d tasks enqueued from a rejected batch", len(tasks))
	}
	if _, err := m.GetTask(id, "X"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("GetTask: err = %v", err)
	}
}

func TestSession_PauseAndResume(t *testing.T) {
	m := newTestManager(t, backend.NewSimulatedRegistry(0))
	id, err := m.CreateSession(context.Background(), "u", smallSpec)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.PauseSession(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	if err := m.PauseSession(context.Background(), id); err != nil {
		t.Errorf("second pause: %v", err)
	}
	if _, err := m.AddTasks(id, task("A")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	report, _ := m.GetStatus(id)
	if report.Status != models.SessionPaused {
		t.Errorf("status = %s, want paused", report.Status)
	}
	if got, _ := m.GetTask(id, "A"); got.Status != models.TaskStatusReady {
		t.Errorf("A = %s while paused, want ready", got.Status)
	}

	if err := m.ResumeSession(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	if report := waitFor(t, m, id); report.Status != models.SessionCompleted {
		t.Errorf("status = %s, want completed", report.Status)
	}
}

// gatedRegistry serves coders with a backend that returns once release is
// closed. started receives one value per call.
func gatedRegistry(started chan<- struct{}, release <-chan struct{}) *backend.Registry {
	reg := backend.NewSimulatedRegistry(0)
	reg.Register(models.ModelClaudeOpus45, backend.Func(func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
		started <- struct{}{}
		select {
		case <-release:
			return &backend.Response{Text: "done"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))
	return reg
}

func TestSession_AgentIdleAfterTaskFinishesWhilePaused(t *testing.T) {
	started := make(chan struct{}, 4)
	release := make(chan struct{})
	m := newTestManager(t, gatedRegistry(started, release))
	id, err := m.CreateSession(context.Background(), "u", smallSpec)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddTasks(id,
		&models.Task{ID: "A", Role: models.RoleCoder},
		&models.Task{ID: "B", Role: models.RoleCoder, DependsOn: []string{"A"}},
	); err != nil {
		t.Fatal(err)
	}

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("A was never started")
	}
	if err := m.PauseSession(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	close(release)
	eventually(t, 5*time.Second, func() bool {
		a, _ := m.GetTask(id, "A")
		return a.Status == models.TaskStatusCompleted
	}, "A to complete")

	report, _ := m.GetStatus(id)
	if report.Status != models.SessionPaused {
		t.Errorf("status = %s, want paused", report.Status)
	}
	if report.Metrics.InProgress != 0 || report.AgentsWorking != 0 {
		t.Errorf("in_progress = %d, agents_working = %d while paused, want 0 and 0",
			report.Metrics.InProgress, report.AgentsWorking)
	}
	if b, _ := m.GetTask(id, "B"); b.Status != models.TaskStatusReady {
		t.Errorf("B = %s while paused, want ready", b.Status)
	}

	if err := m.ResumeSession(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	if report := waitFor(t, m, id); report.Status != models.SessionCompleted {
		t.Errorf("status = %s, want completed", report.Status)
	}
}

func TestSession_PausedSessionSettlesWhenLastTaskDrains(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	m := newTestManager(t, gatedRegistry(started, release))
	id, err := m.CreateSession(context.Background(), "u", smallSpec)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddTasks(id, &models.Task{ID: "A", Role: models.RoleCoder}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("A was never started")
	}
	if err := m.PauseSession(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	close(release)

	if report := waitFor(t, m, id); report.Status != models.SessionCompleted {
		t.Errorf("status = %s, want completed", report.Status)
	}
	if err := m.ResumeSession(context.Background(), id); !errors.Is(err, ErrSessionTerminal) {
		t.Errorf("ResumeSession after settle: err = %v, want ErrSessionTerminal", err)
	}
}

func TestSession_DestroyRequeuesInFlightWork(t *testing.T) {
	m := newTestManager(t, blockingRegistry())
	id, err := m.CreateSession(context.Background(), "u", smallSpec)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddTasks(id, &models.Task{ID: "A", Role: models.RoleCoder}); err != nil {
		t.Fatal(err)
	}
	eventually(t, 5*time.Second, func() bool {
		r, _ := m.GetStatus(id)
		return r.Metrics.InProgress == 1
	}, "A to be assigned")

	final, err := m.DestroySession(context.Background(), id)
	if err != nil {
		t.Fatalf("DestroySession: %v", err)
	}
	if final.AgentsSpawned != 3 || final.InProgress != 0 || final.TasksRequeued != 1 {
		t.Errorf("final metrics = %+v", final)
	}
	if _, err := m.GetStatus(id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("GetStatus after destroy: err = %v", err)
	}
}

func TestSession_BudgetExhaustionFailsRemainingWork(t *testing.T) {
	reg := backend.NewSimulatedRegistry(0)
	reg.Register(models.ModelClaudeOpus45, backend.Func(func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
		return &backend.Response{Text: "done", Cost: 1}, nil
	}))
	m := newTestManager(t, reg)

	spec := smallSpec
	spec.CostBudget = 1.5
	id, err := m.CreateSession(context.Background(), "u", spec)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.PauseSession(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	tasks := make([]*models.Task, 5)
	for i := range tasks {
		tasks[i] = &models.Task{Role: models.RoleCoder}
	}
	if _, err := m.AddTasks(id, tasks...); err != nil {
		t.Fatal(err)
	}
	if err := m.ResumeSession(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	report := waitFor(t, m, id)
	if report.Status != models.SessionFailed || !report.BudgetExhausted {
		t.Errorf("report = %+v, want failed with budget exhausted", report)
	}
	if report.Metrics.TasksCompleted != 2 || report.Metrics.TasksFailed != 3 {
		t.Errorf("metrics = %+v, want 2 completed and 3 failed", report.Metrics)
	}
	if report.Metrics.TotalCost != 2 {
		t.Errorf("TotalCost = %v, want 2", report.Metrics.TotalCost)
	}
}

func TestSession_FatalErrorFailsAgentAndSession(t *testing.T) {
	reg := backend.NewSimulatedRegistry(0)
	reg.Register(models.ModelClaudeOpus45, backend.Func(func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
		return nil, backend.NewFatal(errors.New("invalid api key"))
	}))
	m := newTestManager(t, reg)
	id, err := m.CreateSession(context.Background(), "u", smallSpec)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddTasks(id, &models.Task{ID: "A", Role: models.RoleCoder}); err != nil {
		t.Fatal(err)
	}

	report := waitFor(t, m, id)
	if report.Status != models.SessionFailed {
		t.Fatalf("status = %s, want failed", report.Status)
	}
	got, _ := m.GetTask(id, "A")
	if got.RetryCount != 0 || got.Error == "" {
		t.Errorf("A = %+v, want failed without retry", got)
	}
	eventually(t, 5*time.Second, func() bool {
		r, _ := m.GetStatus(id)
		return r.AgentsFailed == 1
	}, "coder to be marked failed")
}

func TestSession_ReplacesFailedAgents(t *testing.T) {
	var calls atomic.Int32
	reg := backend.NewSimulatedRegistry(0)
	reg.Register(models.ModelClaudeOpus45, backend.Func(func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
		if calls.Add(1) == 1 {
			return nil, backend.NewFatal(errors.New("403 forbidden"))
		}
		return &backend.Response{Text: "done"}, nil
	}))
	cfg := DefaultPoolConfig()
	cfg.ReplaceFailed = true
	m := newTestManager(t, reg, WithPoolConfig(cfg))

	id, err := m.CreateSession(context.Background(), "u", smallSpec)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddTasks(id,
		&models.Task{ID: "first", Role: models.RoleCoder, Priority: 1},
		&models.Task{ID: "second", Role: models.RoleCoder},
	); err != nil {
		t.Fatal(err)
	}

	report := waitFor(t, m, id)
	if report.Metrics.TasksCompleted != 1 || report.Metrics.TasksFailed != 1 {
		t.Errorf("metrics = %+v", report.Metrics)
	}
	if report.Metrics.AgentsSpawned != 4 {
		t.Errorf("AgentsSpawned = %d, want 4", report.Metrics.AgentsSpawned)
	}
	if got, _ := m.GetTask(id, "second"); got.Status != models.TaskStatusCompleted {
		t.Errorf("second = %s, want completed by the replacement", got.Status)
	}
}

func TestSession_SpawnAgentWithinCap(t *testing.T) {
	m := newTestManager(t, backend.NewSimulatedRegistry(0))
	id, err := m.CreateSession(context.Background(), "u", smallSpec)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.SpawnAgent(id, models.RoleVerifier, ""); !errors.Is(err, ErrAgentSpawnFailed) {
		t.Fatalf("spawn over cap: err = %v", err)
	}

	agents, _ := m.ListAgents(id)
	var tester string
	for _, a := range agents {
		if a.Role == models.RoleTester {
			tester = a.ID
		}
	}
	if err := m.TerminateAgent(id, tester); err != nil {
		t.Fatal(err)
	}
	if err := m.TerminateAgent(id, tester); err != nil {
		t.Errorf("repeat terminate: %v", err)
	}
	if err := m.TerminateAgent(id, "ghost"); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("unknown agent: err = %v", err)
	}

	v, err := m.SpawnAgent(id, models.RoleVerifier, "")
	if err != nil {
		t.Fatalf("SpawnAgent: %v", err)
	}
	if v.Role != models.RoleVerifier || v.Model != models.ModelClaudeOpus45 {
		t.Errorf("verifier = %+v", v)
	}
	report, _ := m.GetStatus(id)
	if report.AgentCount != 3 || report.Metrics.AgentsSpawned != 4 {
		t.Errorf("AgentCount = %d, spawned = %d", report.AgentCount, report.Metrics.AgentsSpawned)
	}
}

func TestSession_SetStateUnblocksAwaitingTask(t *testing.T) {
	m := newTestManager(t, backend.NewSimulatedRegistry(0))
	id, err := m.CreateSession(context.Background(), "u", smallSpec)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddTasks(id, &models.Task{ID: "A", Role: models.RoleCoder, Inputs: []string{"input/requirements"}}); err != nil {
		t.Fatal(err)
	}
	eventually(t, 5*time.Second, func() bool {
		r, _ := m.GetStatus(id)
		return r.AgentsBlocked == 1
	}, "coder to block")

	e, err := m.SetState(id, "", "input/requirements", "ship it")
	if err != nil {
		t.Fatal(err)
	}
	if e.Writer != "user:u" || e.Version != 1 {
		t.Errorf("entry = %+v", e)
	}
	if report := waitFor(t, m, id); report.Status != models.SessionCompleted {
		t.Errorf("status = %s", report.Status)
	}
}

func TestSession_SubscribeStreamsEvents(t *testing.T) {
	m := newTestManager(t, backend.NewSimulatedRegistry(0))
	id, err := m.CreateSession(context.Background(), "u", smallSpec)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	events, err := m.Subscribe(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddTasks(id, task("A")); err != nil {
		t.Fatal(err)
	}

	seen := map[EventType]bool{}
	for ev := range events {
		if ev.SessionID != id {
			t.Errorf("event for session %s", ev.SessionID)
		}
		seen[ev.Type] = true
		if ev.Type == EventSessionStatus && ev.Status == string(models.SessionCompleted) {
			break
		}
	}
	for _, typ := range []EventType{EventTaskReady, EventTaskAssigned, EventTaskCompleted, EventStateChanged} {
		if !seen[typ] {
			t.Errorf("no %s event", typ)
		}
	}
}

func TestSession_CheckpointAndRestore(t *testing.T) {
	store, err := state.OpenBadger("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	m := newTestManager(t, backend.NewSimulatedRegistry(0), WithStore(store))
	id, err := m.CreateSession(ctx, "u", smallSpec)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.PauseSession(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddTasks(id, task("A"), task("B", "A")); err != nil {
		t.Fatal(err)
	}
	if _, err := m.SetState(id, "", "input/seed", "42"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.DestroySession(ctx, id); err != nil {
		t.Fatal(err)
	}

	stored, err := m.StoredSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 || stored[0].SessionID != id || stored[0].Status != models.SessionPaused {
		t.Fatalf("stored = %+v", stored)
	}

	if err := m.RestoreSession(ctx, id); err != nil {
		t.Fatalf("RestoreSession: %v", err)
	}
	if err := m.RestoreSession(ctx, id); err == nil {
		t.Error("restoring a live session should fail")
	}

	report, _ := m.GetStatus(id)
	if report.Status != models.SessionPaused || report.AgentCount != 3 || report.Metrics.AgentsSpawned != 6 {
		t.Errorf("restored report = %+v", report)
	}
	if e, ok, _ := m.GetState(id, "input/seed"); !ok || e.Value != "42" {
		t.Errorf("input/seed = %+v, %v", e, ok)
	}
	if got, _ := m.GetTask(id, "B"); got.Status != models.TaskStatusPending {
		t.Errorf("B = %s, want pending", got.Status)
	}

	if err := m.ResumeSession(ctx, id); err != nil {
		t.Fatal(err)
	}
	if report := waitFor(t, m, id); report.Status != models.SessionCompleted {
		t.Errorf("status = %s, want completed", report.Status)
	}
}

func TestSessionManager_ListSessions(t *testing.T) {
	m := newTestManager(t, backend.NewSimulatedRegistry(0))
	first, err := m.CreateSession(context.Background(), "a", smallSpec)
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.CreateSession(context.Background(), "b", smallSpec)
	if err != nil {
		t.Fatal(err)
	}

	list := m.ListSessions()
	if len(list) != 2 || list[0].SessionID != first || list[1].SessionID != second {
		t.Errorf("ListSessions order wrong: %+v", list)
	}
}
