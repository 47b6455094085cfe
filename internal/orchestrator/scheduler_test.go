package orchestrator

import (
	"errors"
	"sync"
	"testing"

	"github.com/ShayCichocki/turboswarm/pkg/models"
)

func task(id string, deps ...string) *models.Task {
	return &models.Task{ID: id, Title: "task " + id, DependsOn: deps}
}

func mustEnqueue(t *testing.T, q *TaskQueue, tasks ...*models.Task) {
	t.Helper()
	if _, err := q.EnqueueBatch(tasks...); err != nil {
		t.Fatalf("EnqueueBatch: %v", err)
	}
}

func status(t *testing.T, q *TaskQueue, id string) models.TaskStatus {
	t.Helper()
	got, ok := q.Get(id)
	if !ok {
		t.Fatalf("task %s not found", id)
	}
	return got.Status
}

func TestTaskQueue_DependencyOrder(t *testing.T) {
	q := NewTaskQueue(QueueConfig{})
	mustEnqueue(t, q, task("A"), task("B", "A"), task("C", "A"))

	if s := status(t, q, "A"); s != models.TaskStatusReady {
		t.Errorf("A = %s, want ready", s)
	}
	for _, id := range []string{"B", "C"} {
		if s := status(t, q, id); s != models.TaskStatusPending {
			t.Errorf("%s = %s, want pending", id, s)
		}
	}

	got := q.NextReadyFor("coder-1", models.RoleCoder)
	if got == nil || got.ID != "A" {
		t.Fatalf("NextReadyFor = %v, want A", got)
	}
	if next := q.NextReadyFor("coder-2", models.RoleCoder); next != nil {
		t.Fatalf("second agent got %s while A runs", next.ID)
	}

	if err := q.ReportCompletion("A", "coder-1"); err != nil {
		t.Fatalf("ReportCompletion: %v", err)
	}
	for _, id := range []string{"B", "C"} {
		if s := status(t, q, id); s != models.TaskStatusReady {
			t.Errorf("%s = %s, want ready", id, s)
		}
	}

	b := q.NextReadyFor("coder-1", models.RoleCoder)
	c := q.NextReadyFor("coder-2", models.RoleCoder)
	if b == nil || c == nil || b.ID == c.ID {
		t.Fatalf("expected B and C on different agents, got %v and %v", b, c)
	}
	stats := q.Stats()
	if stats.Assigned != 2 || stats.Completed != 1 || stats.AssignedTotal != 3 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestTaskQueue_RejectsCycleAtomically(t *testing.T) {
	q := NewTaskQueue(QueueConfig{})
	mustEnqueue(t, q, task("A"))

	_, err := q.EnqueueBatch(task("X", "Y"), task("Y", "X"))
	if !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("err = %v, want ErrCyclicDependency", err)
	}
	if n := q.Stats().Total; n != 1 {
		t.Errorf("Total = %d after rejected batch, want 1", n)
	}
	if _, ok := q.Get("X"); ok {
		t.Error("X should not have been enqueued")
	}
}

func TestTaskQueue_RejectsUnknownAndDuplicate(t *testing.T) {
	q := NewTaskQueue(QueueConfig{})
	mustEnqueue(t, q, task("A"))

	if _, err := q.EnqueueBatch(task("B", "missing")); !errors.Is(err, ErrUnknownDependency) {
		t.Errorf("unknown dependency: err = %v", err)
	}
	if _, err := q.EnqueueBatch(task("A")); !errors.Is(err, ErrDuplicateTask) {
		t.Errorf("duplicate: err = %v", err)
	}
	if _, err := q.EnqueueBatch(&models.Task{ID: "R", Role: "janitor"}); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestTaskQueue_AssignsGeneratedIDs(t *testing.T) {
	q := NewTaskQueue(QueueConfig{})
	out, err := q.EnqueueBatch(&models.Task{Title: "anonymous"})
	if err != nil {
		t.Fatal(err)
	}
	if out[0].ID == "" {
		t.Error("expected generated ID")
	}
}

func TestTaskQueue_ExactlyOnceUnderContention(t *testing.T) {
	q := NewTaskQueue(QueueConfig{})
	const n = 200
	tasks := make([]*models.Task, n)
	for i := range tasks {
		tasks[i] = &models.Task{}
	}
	mustEnqueue(t, q, tasks...)

	var mu sync.Mutex
	seen := make(map[string]string)
	var wg sync.WaitGroup
	for a := 0; a < 16; a++ {
		agentID := "agent-" + string(rune('a'+a))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				got := q.NextReadyFor(agentID, models.RoleCoder)
				if got == nil {
					return
				}
				mu.Lock()
				if prev, dup := seen[got.ID]; dup {
					t.Errorf("task %s assigned to %s and %s", got.ID, prev, agentID)
				}
				seen[got.ID] = agentID
				mu.Unlock()
				if err := q.ReportCompletion(got.ID, agentID); err != nil {
					t.Errorf("ReportCompletion: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Errorf("assigned %d tasks, want %d", len(seen), n)
	}
	if s := q.Stats(); s.Completed != n || s.AssignedTotal != n {
		t.Errorf("stats = %+v", s)
	}
}

func TestTaskQueue_PriorityThenFIFO(t *testing.T) {
	q := NewTaskQueue(QueueConfig{})
	mustEnqueue(t, q,
		&models.Task{ID: "low-1"},
		&models.Task{ID: "high", Priority: 5},
		&models.Task{ID: "low-2"},
		&models.Task{ID: "mid", Priority: 1},
	)

	want := []string{"high", "mid", "low-1", "low-2"}
	for _, id := range want {
		got := q.NextReadyFor("a", models.RoleCoder)
		if got == nil || got.ID != id {
			t.Fatalf("got %v, want %s", got, id)
		}
	}
}

func TestTaskQueue_RoleAffinity(t *testing.T) {
	q := NewTaskQueue(QueueConfig{})
	mustEnqueue(t, q, &models.Task{ID: "test-it", Role: models.RoleTester})

	if got := q.NextReadyFor("coder-1", models.RoleCoder); got != nil {
		t.Fatalf("coder took tester task %s", got.ID)
	}
	got := q.NextReadyFor("tester-1", models.RoleTester)
	if got == nil || got.ID != "test-it" {
		t.Fatalf("tester got %v", got)
	}
}

func TestTaskQueue_RetryBudget(t *testing.T) {
	q := NewTaskQueue(QueueConfig{RetryBudget: 2})
	mustEnqueue(t, q, task("A"), task("B", "A"))

	for attempt := 0; attempt < 2; attempt++ {
		got := q.NextReadyFor("a", models.RoleCoder)
		if got == nil {
			t.Fatalf("attempt %d: nothing ready", attempt)
		}
		if err := q.ReportFailure("A", "a", true, "timeout"); err != nil {
			t.Fatal(err)
		}
		if s := status(t, q, "A"); s != models.TaskStatusReady {
			t.Fatalf("attempt %d: A = %s, want ready", attempt, s)
		}
	}

	q.NextReadyFor("a", models.RoleCoder)
	if err := q.ReportFailure("A", "a", true, "timeout"); err != nil {
		t.Fatal(err)
	}
	a, _ := q.Get("A")
	if a.Status != models.TaskStatusFailed || a.RetryCount != 2 {
		t.Errorf("A = %s after %d retries, want failed after 2", a.Status, a.RetryCount)
	}
	if s := status(t, q, "B"); s != models.TaskStatusFailed {
		t.Errorf("B = %s, want failed by cascade", s)
	}
	if r := q.Stats().Requeued; r != 2 {
		t.Errorf("Requeued = %d, want 2", r)
	}
}

func TestTaskQueue_CascadeIsTransitive(t *testing.T) {
	q := NewTaskQueue(QueueConfig{})
	mustEnqueue(t, q, task("A"), task("B", "A"), task("C", "B"), task("D"))

	var settled []bool
	q.OnSettled(func(ok bool) { settled = append(settled, ok) })

	q.NextReadyFor("a", models.RoleCoder)
	if err := q.ReportFailure("A", "a", false, "bad request"); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"A", "B", "C"} {
		if s := status(t, q, id); s != models.TaskStatusFailed {
			t.Errorf("%s = %s, want failed", id, s)
		}
	}
	if s := status(t, q, "D"); s != models.TaskStatusReady {
		t.Errorf("D = %s, want ready", s)
	}
	if len(settled) != 0 {
		t.Fatal("queue settled while D is unresolved")
	}

	q.NextReadyFor("a", models.RoleCoder)
	if err := q.ReportCompletion("D", "a"); err != nil {
		t.Fatal(err)
	}
	if len(settled) != 1 || settled[0] {
		t.Errorf("settled = %v, want one unsuccessful settle", settled)
	}

	mustEnqueue(t, q, task("E", "C"))
	if s := status(t, q, "E"); s != models.TaskStatusFailed {
		t.Errorf("E = %s, want failed on enqueue", s)
	}
}

func TestTaskQueue_ReleaseAgentRequeuesOnce(t *testing.T) {
	q := NewTaskQueue(QueueConfig{})
	mustEnqueue(t, q, task("A"))

	q.NextReadyFor("a", models.RoleCoder)
	ids := q.ReleaseAgent("a")
	if len(ids) != 1 || ids[0] != "A" {
		t.Fatalf("ReleaseAgent = %v", ids)
	}
	if again := q.ReleaseAgent("a"); len(again) != 0 {
		t.Errorf("second release returned %v", again)
	}

	a, _ := q.Get("A")
	if a.Status != models.TaskStatusReady || a.RetryCount != 0 || a.AssignedTo != "" {
		t.Errorf("A = %+v, want ready without retry", a)
	}
	if r := q.Stats().Requeued; r != 1 {
		t.Errorf("Requeued = %d, want 1", r)
	}
	if err := q.ReportCompletion("A", "a"); !errors.Is(err, ErrNotAssigned) {
		t.Errorf("late report: err = %v, want ErrNotAssigned", err)
	}
}

func TestTaskQueue_GateBlocksAssignment(t *testing.T) {
	q := NewTaskQueue(QueueConfig{})
	open := false
	q.SetGate(func() bool { return open })
	mustEnqueue(t, q, task("A"))

	wake := q.Subscribe("a", models.RoleCoder)
	if got := q.NextReadyFor("a", models.RoleCoder); got != nil {
		t.Fatal("gate closed but task assigned")
	}

	open = true
	q.WakeAll()
	select {
	case <-wake:
	default:
		t.Fatal("WakeAll did not signal subscriber")
	}
	if got := q.NextReadyFor("a", models.RoleCoder); got == nil {
		t.Fatal("gate open but nothing assigned")
	}
}

func TestTaskQueue_WakesIdleAgentOnReady(t *testing.T) {
	q := NewTaskQueue(QueueConfig{})
	wake := q.Subscribe("a", models.RoleCoder)
	if got := q.NextReadyFor("a", models.RoleCoder); got != nil {
		t.Fatal("empty queue assigned a task")
	}

	mustEnqueue(t, q, task("A"))
	select {
	case <-wake:
	default:
		t.Fatal("idle agent not woken")
	}
}

func TestTaskQueue_Abandon(t *testing.T) {
	q := NewTaskQueue(QueueConfig{})
	mustEnqueue(t, q, task("A"), task("B"), task("C", "A"))

	q.NextReadyFor("a", models.RoleCoder)
	q.Abandon("cost budget exhausted")

	for _, id := range []string{"B", "C"} {
		if s := status(t, q, id); s != models.TaskStatusFailed {
			t.Errorf("%s = %s, want failed", id, s)
		}
	}
	if err := q.ReportFailure("A", "a", true, "timeout"); err != nil {
		t.Fatal(err)
	}
	if s := status(t, q, "A"); s != models.TaskStatusFailed {
		t.Errorf("A = %s, want failed since retries are refused", s)
	}
	if _, err := q.EnqueueBatch(task("D")); !errors.Is(err, ErrBudgetExhausted) {
		t.Errorf("enqueue after abandon: err = %v", err)
	}
}

func TestTaskQueue_Restore(t *testing.T) {
	src := NewTaskQueue(QueueConfig{})
	mustEnqueue(t, src, task("A"), task("B", "A"), task("C", "B"))
	src.NextReadyFor("a", models.RoleCoder)
	if err := src.ReportCompletion("A", "a"); err != nil {
		t.Fatal(err)
	}
	src.NextReadyFor("a", models.RoleCoder)

	dst := NewTaskQueue(QueueConfig{})
	if err := dst.Restore(src.List(), src.Stats()); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	want := map[string]models.TaskStatus{
		"A": models.TaskStatusCompleted,
		"B": models.TaskStatusReady,
		"C": models.TaskStatusPending,
	}
	for id, s := range want {
		if got := status(t, dst, id); got != s {
			t.Errorf("%s = %s, want %s", id, got, s)
		}
	}
	if s := dst.Stats(); s.AssignedTotal != 2 || s.Assigned != 0 {
		t.Errorf("stats = %+v", s)
	}
	if err := dst.Restore(src.List(), QueueStats{}); err == nil {
		t.Error("expected error restoring into a non-empty queue")
	}
}
