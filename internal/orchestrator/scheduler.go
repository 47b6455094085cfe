package orchestrator

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/turboswarm/internal/graph"
	"github.com/ShayCichocki/turboswarm/internal/metrics"
	"github.com/ShayCichocki/turboswarm/pkg/models"
)

// DefaultRetryBudget is how many times a task may return to ready after a
// retryable failure before it fails for good.
const DefaultRetryBudget = 3

// ErrBudgetExhausted is returned when enqueueing into a queue that stopped
// accepting work because the session's cost budget ran out.
var ErrBudgetExhausted = errors.New("cost budget exhausted")

// QueueConfig tunes a TaskQueue.
type QueueConfig struct {
	// RetryBudget bounds retryable failures per task. Zero uses DefaultRetryBudget;
	// negative disables retries.
	RetryBudget int
}

// QueueStats is a point-in-time view of a queue.
type QueueStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Ready     int `json:"ready"`
	Assigned  int `json:"assigned"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	// AssignedTotal counts every assignment ever made, including retries.
	AssignedTotal int `json:"assigned_total"`
	// Requeued counts tasks returned to ready, by retry or agent loss.
	Requeued int `json:"requeued"`
}

// Unresolved returns the number of tasks that are not yet terminal.
func (s QueueStats) Unresolved() int {
	return s.Pending + s.Ready + s.Assigned
}

// readyHeap orders ready tasks by priority, highest first, then by enqueue order.
type readyHeap []*models.Task

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	return before(h[i], h[j])
}
func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x any)   { *h = append(*h, x.(*models.Task)) }
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

func before(a, b *models.Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.Seq < b.Seq
}

// TaskQueue holds a session's tasks and hands them to agents in dependency
// order. All state changes happen under one mutex and never block on I/O;
// events and settle notifications are delivered after the lock is released.
type TaskQueue struct {
	mu          sync.Mutex
	graph       *graph.DependencyGraph
	tasks       map[string]*models.Task
	ready       map[models.AgentRole]*readyHeap
	counts      map[models.TaskStatus]int
	assigned    map[string]map[string]struct{}
	retryBudget int
	seq         uint64
	// abandoned is set once the queue stops taking new work.
	abandoned string

	assignedTotal int
	requeued      int

	// notify is the wake channel of each subscribed agent, keyed by agent ID.
	notify map[string]chan struct{}
	roles  map[string]models.AgentRole
	// idle holds agents that asked for work and got none, by role.
	idle map[models.AgentRole]map[string]struct{}

	gate      func() bool
	onEvent   func(Event)
	onSettled func(allCompleted bool)
}

// NewTaskQueue creates an empty queue.
func NewTaskQueue(cfg QueueConfig) *TaskQueue {
	budget := cfg.RetryBudget
	if budget == 0 {
		budget = DefaultRetryBudget
	}
	if budget < 0 {
		budget = 0
	}
	g := graph.New()
	g.SetDebugLog(debugLog)
	return &TaskQueue{
		graph:       g,
		tasks:       make(map[string]*models.Task),
		ready:       make(map[models.AgentRole]*readyHeap),
		counts:      make(map[models.TaskStatus]int),
		assigned:    make(map[string]map[string]struct{}),
		retryBudget: budget,
		notify:      make(map[string]chan struct{}),
		roles:       make(map[string]models.AgentRole),
		idle:        make(map[models.AgentRole]map[string]struct{}),
	}
}

// SetGate installs a check consulted before every assignment. When it
// returns false no task is handed out.
func (q *TaskQueue) SetGate(fn func() bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.gate = fn
}

// OnEvent registers the receiver of task events.
func (q *TaskQueue) OnEvent(fn func(Event)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onEvent = fn
}

// OnSettled registers fn to run whenever the queue has tasks and none of
// them is pending, ready or assigned.
func (q *TaskQueue) OnSettled(fn func(allCompleted bool)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onSettled = fn
}

// outcome collects what must happen once the lock is released.
type outcome struct {
	events  []Event
	settled bool
	allOK   bool
}

func (q *TaskQueue) deliver(out *outcome) {
	q.mu.Lock()
	onEvent, onSettled := q.onEvent, q.onSettled
	q.mu.Unlock()

	if onEvent != nil {
		for _, ev := range out.events {
			onEvent(ev)
		}
	}
	if out.settled && onSettled != nil {
		onSettled(out.allOK)
	}
}

func (q *TaskQueue) setStatusLocked(t *models.Task, status models.TaskStatus) {
	if t.Status != "" {
		q.counts[t.Status]--
	}
	t.Status = status
	q.counts[status]++
	if status.Terminal() {
		now := time.Now()
		t.CompletedAt = &now
	}
}

func (q *TaskQueue) checkSettledLocked(out *outcome) {
	if len(q.tasks) == 0 {
		return
	}
	if q.counts[models.TaskStatusPending]+q.counts[models.TaskStatusReady]+q.counts[models.TaskStatusAssigned] > 0 {
		return
	}
	out.settled = true
	out.allOK = q.counts[models.TaskStatusFailed] == 0
}

// makeReadyLocked moves t to ready, queues it and wakes one idle agent able
// to run it.
func (q *TaskQueue) makeReadyLocked(t *models.Task, out *outcome) {
	t.AssignedTo = ""
	q.setStatusLocked(t, models.TaskStatusReady)
	h, ok := q.ready[t.Role]
	if !ok {
		h = &readyHeap{}
		q.ready[t.Role] = h
	}
	heap.Push(h, t)
	q.wakeOneLocked(t.Role)
	out.events = append(out.events, Event{Type: EventTaskReady, TaskID: t.ID, Status: string(models.TaskStatusReady)})
}

func (q *TaskQueue) failLocked(t *models.Task, reason string, out *outcome) {
	t.AssignedTo = ""
	t.Error = reason
	q.setStatusLocked(t, models.TaskStatusFailed)
	out.events = append(out.events, Event{Type: EventTaskFailed, TaskID: t.ID, Status: string(models.TaskStatusFailed), Error: reason})
}

// cascadeLocked fails every task that transitively depends on id.
func (q *TaskQueue) cascadeLocked(id string, out *outcome) {
	for _, depID := range q.graph.TransitiveDependents(id) {
		d := q.tasks[depID]
		if d == nil || d.Status.Terminal() {
			continue
		}
		q.failLocked(d, fmt.Sprintf("dependency %s failed", id), out)
		metrics.RecordTaskOutcome(string(d.Role), "cascaded")
	}
}

// Subscribe registers an agent and returns the channel it is woken on when
// a task it can run becomes ready.
func (q *TaskQueue) Subscribe(agentID string, role models.AgentRole) <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch := make(chan struct{}, 1)
	q.notify[agentID] = ch
	q.roles[agentID] = role
	return ch
}

// Unsubscribe forgets an agent. Tasks it holds are not touched; use
// ReleaseAgent for that.
func (q *TaskQueue) Unsubscribe(agentID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if role, ok := q.roles[agentID]; ok {
		delete(q.idle[role], agentID)
	}
	delete(q.notify, agentID)
	delete(q.roles, agentID)
}

func (q *TaskQueue) wakeLocked(agentID string) {
	if role, ok := q.roles[agentID]; ok {
		delete(q.idle[role], agentID)
	}
	select {
	case q.notify[agentID] <- struct{}{}:
	default:
	}
}

// wakeOneLocked wakes one idle agent able to run a task with the given
// role affinity.
func (q *TaskQueue) wakeOneLocked(role models.AgentRole) {
	if role != "" {
		for id := range q.idle[role] {
			q.wakeLocked(id)
			return
		}
		return
	}
	for _, agents := range q.idle {
		for id := range agents {
			q.wakeLocked(id)
			return
		}
	}
}

// WakeAll wakes every subscribed agent, e.g. after a resume.
func (q *TaskQueue) WakeAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id := range q.notify {
		q.wakeLocked(id)
	}
}

// EnqueueBatch validates and inserts tasks atomically: if any task is
// rejected, none is inserted. Tasks without an ID get one. A task whose
// dependencies are all completed starts ready; a task depending on a
// failed task starts failed. The stored copies are returned.
func (q *TaskQueue) EnqueueBatch(tasks ...*models.Task) ([]*models.Task, error) {
	if len(tasks) == 0 {
		return nil, nil
	}

	q.mu.Lock()
	if q.abandoned != "" {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrBudgetExhausted, q.abandoned)
	}

	now := time.Now()
	batch := make([]*models.Task, len(tasks))
	for i, in := range tasks {
		if in == nil {
			q.mu.Unlock()
			return nil, fmt.Errorf("%w: nil task", graph.ErrInvalidTask)
		}
		if in.Role != "" && !in.Role.Valid() {
			q.mu.Unlock()
			return nil, fmt.Errorf("%w: task %s has unknown role %q", graph.ErrInvalidTask, in.ID, in.Role)
		}
		t := in.Clone()
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		t.Status = ""
		t.AssignedTo = ""
		t.RetryCount = 0
		t.Error = ""
		t.CompletedAt = nil
		t.Seq = q.seq + uint64(i) + 1
		t.CreatedAt = now
		batch[i] = t
	}

	if err := q.graph.Add(batch...); err != nil {
		q.mu.Unlock()
		debugLog("[queue] rejected batch of %d: %v", len(batch), err)
		return nil, graphError(err)
	}
	q.seq += uint64(len(batch))

	inBatch := make(map[string]*models.Task, len(batch))
	for _, t := range batch {
		inBatch[t.ID] = t
		q.tasks[t.ID] = t
	}

	// Batch members may depend on each other; resolve in dependency order.
	memo := make(map[string]models.TaskStatus)
	var resolve func(id string) models.TaskStatus
	resolve = func(id string) models.TaskStatus {
		if t, ok := inBatch[id]; !ok {
			return q.tasks[id].Status
		} else if s, ok := memo[id]; ok {
			return s
		} else {
			status := models.TaskStatusReady
			for _, dep := range t.DependsOn {
				switch resolve(dep) {
				case models.TaskStatusCompleted:
				case models.TaskStatusFailed:
					status = models.TaskStatusFailed
				default:
					if status != models.TaskStatusFailed {
						status = models.TaskStatusPending
					}
				}
			}
			memo[id] = status
			return status
		}
	}

	out := &outcome{}
	for _, t := range batch {
		metrics.RecordEnqueued(string(t.Role))
		switch resolve(t.ID) {
		case models.TaskStatusReady:
			q.makeReadyLocked(t, out)
		case models.TaskStatusFailed:
			q.failLocked(t, "dependency failed before enqueue", out)
		default:
			q.setStatusLocked(t, models.TaskStatusPending)
		}
	}
	debugLog("[queue] enqueued %d tasks (total %d)", len(batch), len(q.tasks))
	q.checkSettledLocked(out)

	result := make([]*models.Task, len(batch))
	for i, t := range batch {
		result[i] = t.Clone()
	}
	q.mu.Unlock()

	q.deliver(out)
	return result, nil
}

// Enqueue inserts a single task.
func (q *TaskQueue) Enqueue(task *models.Task) (*models.Task, error) {
	out, err := q.EnqueueBatch(task)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// peekLocked returns the best ready task in h, discarding stale entries.
func peekLocked(h *readyHeap) *models.Task {
	for h != nil && h.Len() > 0 {
		top := (*h)[0]
		if top.Status == models.TaskStatusReady && top.AssignedTo == "" {
			return top
		}
		heap.Pop(h)
	}
	return nil
}

// NextReadyFor atomically assigns the best ready task the agent's role may
// run to agentID and returns a copy. Tasks with the agent's role affinity
// compete with tasks open to any role on priority, then enqueue order. If
// nothing is available the agent is recorded as idle and will be woken on
// its subscription channel; nil is returned.
func (q *TaskQueue) NextReadyFor(agentID string, role models.AgentRole) *models.Task {
	q.mu.Lock()

	markIdle := func() {
		if _, ok := q.notify[agentID]; !ok {
			return
		}
		if q.idle[role] == nil {
			q.idle[role] = make(map[string]struct{})
		}
		q.idle[role][agentID] = struct{}{}
	}

	if q.gate != nil && !q.gate() {
		markIdle()
		q.mu.Unlock()
		return nil
	}

	own := peekLocked(q.ready[role])
	anyRole := peekLocked(q.ready[""])
	var pick *models.Task
	var from *readyHeap
	switch {
	case own != nil && (anyRole == nil || before(own, anyRole)):
		pick, from = own, q.ready[role]
	case anyRole != nil:
		pick, from = anyRole, q.ready[""]
	}
	if pick == nil {
		markIdle()
		q.mu.Unlock()
		return nil
	}

	heap.Pop(from)
	delete(q.idle[role], agentID)
	pick.AssignedTo = agentID
	q.setStatusLocked(pick, models.TaskStatusAssigned)
	if q.assigned[agentID] == nil {
		q.assigned[agentID] = make(map[string]struct{})
	}
	q.assigned[agentID][pick.ID] = struct{}{}
	q.assignedTotal++
	debugLog("[queue] assigned %s (priority %d) to %s", pick.ID, pick.Priority, agentID)

	task := pick.Clone()
	out := &outcome{events: []Event{{Type: EventTaskAssigned, TaskID: pick.ID, AgentID: agentID, Status: string(models.TaskStatusAssigned)}}}
	q.mu.Unlock()

	q.deliver(out)
	return task
}

// heldLocked returns the task if agentID holds it.
func (q *TaskQueue) heldLocked(taskID, agentID string) (*models.Task, error) {
	t, ok := q.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if t.Status != models.TaskStatusAssigned || t.AssignedTo != agentID {
		return nil, fmt.Errorf("%w: task %s is %s (assigned to %q), reported by %s",
			ErrNotAssigned, taskID, t.Status, t.AssignedTo, agentID)
	}
	return t, nil
}

func (q *TaskQueue) unassignLocked(taskID, agentID string) {
	delete(q.assigned[agentID], taskID)
	if len(q.assigned[agentID]) == 0 {
		delete(q.assigned, agentID)
	}
}

// ReportCompletion marks a task completed and makes ready every dependent
// whose dependencies are now all completed. The newly ready tasks are
// visible to NextReadyFor as soon as this returns.
func (q *TaskQueue) ReportCompletion(taskID, agentID string) error {
	q.mu.Lock()
	t, err := q.heldLocked(taskID, agentID)
	if err != nil {
		q.mu.Unlock()
		return err
	}

	q.unassignLocked(taskID, agentID)
	q.setStatusLocked(t, models.TaskStatusCompleted)
	q.graph.MarkComplete(taskID)
	metrics.RecordTaskOutcome(string(q.roles[agentID]), "completed")

	out := &outcome{events: []Event{{Type: EventTaskCompleted, TaskID: taskID, AgentID: agentID, Status: string(models.TaskStatusCompleted)}}}
	for _, depID := range q.graph.GetDependents(taskID) {
		d := q.tasks[depID]
		if d.Status == models.TaskStatusPending && q.graph.DependenciesComplete(depID) {
			q.makeReadyLocked(d, out)
		}
	}
	debugLog("[queue] %s completed by %s", taskID, agentID)
	q.checkSettledLocked(out)
	q.mu.Unlock()

	q.deliver(out)
	return nil
}

// ReportFailure records a failed attempt. A retryable failure within the
// retry budget returns the task to ready; otherwise the task fails and every
// task depending on it, directly or transitively, fails with it.
func (q *TaskQueue) ReportFailure(taskID, agentID string, retryable bool, reason string) error {
	q.mu.Lock()
	t, err := q.heldLocked(taskID, agentID)
	if err != nil {
		q.mu.Unlock()
		return err
	}

	q.unassignLocked(taskID, agentID)
	role := string(q.roles[agentID])
	out := &outcome{}
	if retryable && t.RetryCount < q.retryBudget && q.abandoned == "" {
		t.RetryCount++
		t.Error = reason
		q.requeued++
		q.makeReadyLocked(t, out)
		out.events = append(out.events, Event{Type: EventTaskRequeued, TaskID: taskID, AgentID: agentID, Error: reason})
		metrics.RecordTaskOutcome(role, "retried")
		debugLog("[queue] %s retry %d/%d after: %s", taskID, t.RetryCount, q.retryBudget, reason)
	} else {
		q.failLocked(t, reason, out)
		out.events[len(out.events)-1].AgentID = agentID
		metrics.RecordTaskOutcome(role, "failed")
		q.cascadeLocked(taskID, out)
		debugLog("[queue] %s failed: %s", taskID, reason)
	}
	q.checkSettledLocked(out)
	q.mu.Unlock()

	q.deliver(out)
	return nil
}

// ReleaseAgent returns every task held by agentID to ready without using a
// retry, and returns their IDs. It is called when an agent stops for any
// reason other than finishing its work.
func (q *TaskQueue) ReleaseAgent(agentID string) []string {
	q.mu.Lock()
	held := q.assigned[agentID]
	if len(held) == 0 {
		q.mu.Unlock()
		return nil
	}
	delete(q.assigned, agentID)

	out := &outcome{}
	ids := make([]string, 0, len(held))
	for id := range held {
		t := q.tasks[id]
		if t.Status != models.TaskStatusAssigned || t.AssignedTo != agentID {
			continue
		}
		ids = append(ids, id)
		q.requeued++
		if q.abandoned != "" {
			q.failLocked(t, q.abandoned, out)
			continue
		}
		q.makeReadyLocked(t, out)
		out.events = append(out.events, Event{Type: EventTaskRequeued, TaskID: id, AgentID: agentID, Message: "agent released"})
		metrics.RecordTaskOutcome(string(q.roles[agentID]), "requeued")
	}
	debugLog("[queue] released %d tasks held by %s", len(ids), agentID)
	q.checkSettledLocked(out)
	q.mu.Unlock()

	q.deliver(out)
	return ids
}

// Abandon stops the queue taking new work: every pending or ready task
// fails with reason and later retries are refused. Assigned tasks are left
// to finish.
func (q *TaskQueue) Abandon(reason string) {
	q.mu.Lock()
	if q.abandoned != "" {
		q.mu.Unlock()
		return
	}
	q.abandoned = reason
	out := &outcome{}
	for _, t := range q.graph.Tasks() {
		if t.Status == models.TaskStatusPending || t.Status == models.TaskStatusReady {
			q.failLocked(t, reason, out)
		}
	}
	q.checkSettledLocked(out)
	q.mu.Unlock()

	q.deliver(out)
}

// Get returns a copy of a task.
func (q *TaskQueue) Get(taskID string) (*models.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[taskID]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// List returns copies of every task in enqueue order.
func (q *TaskQueue) List() []*models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	all := q.graph.Tasks()
	out := make([]*models.Task, len(all))
	for i, t := range all {
		out[i] = t.Clone()
	}
	return out
}

// Stats returns current counts.
func (q *TaskQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Total:         len(q.tasks),
		Pending:       q.counts[models.TaskStatusPending],
		Ready:         q.counts[models.TaskStatusReady],
		Assigned:      q.counts[models.TaskStatusAssigned],
		Completed:     q.counts[models.TaskStatusCompleted],
		Failed:        q.counts[models.TaskStatusFailed],
		AssignedTotal: q.assignedTotal,
		Requeued:      q.requeued,
	}
}

// Restore loads tasks from a snapshot into an empty queue. Completed and
// failed tasks keep their status. Every other task is re-validated: ready if
// its dependencies are all completed, failed if one of them failed, pending
// otherwise. Assignments are dropped since their agents no longer exist.
func (q *TaskQueue) Restore(tasks []*models.Task, counters QueueStats) error {
	q.mu.Lock()
	if len(q.tasks) > 0 {
		q.mu.Unlock()
		return errors.New("restore into a non-empty queue")
	}

	batch := make([]*models.Task, len(tasks))
	for i, t := range tasks {
		batch[i] = t.Clone()
	}
	if err := q.graph.Add(batch...); err != nil {
		q.mu.Unlock()
		return graphError(err)
	}

	for _, t := range batch {
		q.tasks[t.ID] = t
		q.seq = max(q.seq, t.Seq)
		if t.Status == models.TaskStatusCompleted {
			q.graph.MarkComplete(t.ID)
		}
	}

	out := &outcome{}
	ordered, _ := q.graph.TopologicalSort()
	for _, id := range ordered {
		t := q.tasks[id]
		prev := t.Status
		t.Status = ""
		t.AssignedTo = ""
		switch prev {
		case models.TaskStatusCompleted, models.TaskStatusFailed:
			q.counts[prev]++
			t.Status = prev
			continue
		}
		status := models.TaskStatusReady
		for _, dep := range t.DependsOn {
			switch q.tasks[dep].Status {
			case models.TaskStatusCompleted:
			case models.TaskStatusFailed:
				status = models.TaskStatusFailed
			default:
				if status != models.TaskStatusFailed {
					status = models.TaskStatusPending
				}
			}
		}
		switch status {
		case models.TaskStatusReady:
			q.makeReadyLocked(t, out)
		case models.TaskStatusFailed:
			q.failLocked(t, "dependency failed", out)
		default:
			q.setStatusLocked(t, models.TaskStatusPending)
		}
	}

	q.assignedTotal = counters.AssignedTotal
	q.requeued = counters.Requeued
	debugLog("[queue] restored %d tasks", len(batch))
	q.checkSettledLocked(out)
	q.mu.Unlock()

	q.deliver(out)
	return nil
}
