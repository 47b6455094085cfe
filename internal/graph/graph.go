// Package graph provides a dependency graph for task scheduling.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ShayCichocki/turboswarm/pkg/models"
)

var (
	// ErrCycleDetected indicates a circular dependency was found in the task graph.
	ErrCycleDetected = errors.New("circular dependency detected")
	// ErrUnknownDependency indicates a task depends on a task that is not in the graph.
	ErrUnknownDependency = errors.New("unknown dependency")
	// ErrDuplicateTask indicates a task ID is already present in the graph.
	ErrDuplicateTask = errors.New("duplicate task")
	// ErrInvalidTask indicates a task without an ID.
	ErrInvalidTask = errors.New("invalid task")
)

// DependencyGraph represents a directed acyclic graph of task dependencies.
// Tasks are nodes, and edges represent "blocked by" relationships.
type DependencyGraph struct {
	mu sync.RWMutex
	// nodes maps task ID to the task itself.
	nodes map[string]*models.Task
	// edges maps task ID to IDs of tasks it depends on (is blocked by).
	edges map[string][]string
	// dependents maps task ID to IDs of tasks blocked by it.
	dependents map[string][]string
	// completed tracks which tasks have been marked complete.
	completed map[string]bool
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:      make(map[string]*models.Task),
		edges:      make(map[string][]string),
		dependents: make(map[string][]string),
		completed:  make(map[string]bool),
		debugLog:   func(format string, args ...interface{}) {}, // no-op by default
	}
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Add inserts a batch of tasks. Dependencies may reference tasks already in
// the graph or tasks in the same batch. The batch is validated as a whole
// before anything is inserted, so a rejected batch leaves the graph unchanged.
func (g *DependencyGraph) Add(tasks ...*models.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.Add] validating batch of %d tasks", len(tasks))

	batch := make(map[string]*models.Task, len(tasks))
	for _, task := range tasks {
		if task == nil || task.ID == "" {
			return fmt.Errorf("%w: empty task id", ErrInvalidTask)
		}
		if _, exists := g.nodes[task.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateTask, task.ID)
		}
		if _, exists := batch[task.ID]; exists {
			return fmt.Errorf("%w: %s appears twice in batch", ErrDuplicateTask, task.ID)
		}
		batch[task.ID] = task
	}

	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			if depID == task.ID {
				return fmt.Errorf("%w: task %s depends on itself", ErrCycleDetected, task.ID)
			}
			_, inGraph := g.nodes[depID]
			_, inBatch := batch[depID]
			if !inGraph && !inBatch {
				return fmt.Errorf("%w: task %s depends on %s", ErrUnknownDependency, task.ID, depID)
			}
		}
	}

	// Existing nodes never depend on new ones, so a cycle must pass through
	// the batch. For each new task, walk from its dependencies and see
	// whether the walk comes back to it.
	depsOf := func(id string) []string {
		if t, ok := batch[id]; ok {
			return t.DependsOn
		}
		return g.edges[id]
	}
	for _, task := range tasks {
		if reaches(task.DependsOn, task.ID, depsOf) {
			return fmt.Errorf("%w: task %s reaches itself", ErrCycleDetected, task.ID)
		}
	}

	for _, task := range tasks {
		g.nodes[task.ID] = task
		g.edges[task.ID] = dedupe(task.DependsOn)
	}
	for _, task := range tasks {
		for _, depID := range g.edges[task.ID] {
			g.dependents[depID] = append(g.dependents[depID], task.ID)
		}
	}

	g.debugLog("[graph.Add] graph now has %d nodes", len(g.nodes))
	return nil
}

// reaches reports whether target is reachable from any of start by following
// dependency edges.
func reaches(start []string, target string, depsOf func(string) []string) bool {
	visited := make(map[string]bool)
	stack := append([]string(nil), start...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == target {
			return true
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		stack = append(stack, depsOf(id)...)
	}
	return false
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// hasCycleLocked runs a colored depth-first search for back edges. The lock
// must be held.
func (g *DependencyGraph) hasCycleLocked() bool {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1

		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}

		colors[id] = 2
		return false
	}

	for id := range g.nodes {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}

// TopologicalSort returns task IDs in an order where all dependencies
// come before the tasks that depend on them. Ties follow enqueue order.
// Returns an error if the graph contains a cycle.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.hasCycleLocked() {
		return nil, ErrCycleDetected
	}

	visited := make(map[string]bool, len(g.nodes))
	result := make([]string, 0, len(g.nodes))

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, depID := range g.edges[id] {
			visit(depID)
		}
		result = append(result, id)
	}

	for _, id := range g.orderedIDsLocked() {
		visit(id)
	}
	return result, nil
}

func (g *DependencyGraph) orderedIDsLocked() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := g.nodes[ids[i]], g.nodes[ids[j]]
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return ids[i] < ids[j]
	})
	return ids
}

// MarkComplete marks a task as completed in the graph.
func (g *DependencyGraph) MarkComplete(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.MarkComplete] marking task %s as complete", taskID)
	g.completed[taskID] = true
}

// DependenciesComplete reports whether every dependency of the task is complete.
func (g *DependencyGraph) DependenciesComplete(taskID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, depID := range g.edges[taskID] {
		if !g.completed[depID] {
			return false
		}
	}
	return true
}

// GetTask returns the task for a given ID, or nil if not found.
func (g *DependencyGraph) GetTask(taskID string) *models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[taskID]
}

// Tasks returns all tasks in enqueue order.
func (g *DependencyGraph) Tasks() []*models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := g.orderedIDsLocked()
	tasks := make([]*models.Task, len(ids))
	for i, id := range ids {
		tasks[i] = g.nodes[id]
	}
	return tasks
}

// Size returns the number of tasks in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// GetDependents returns the IDs of tasks that directly depend on the given task.
func (g *DependencyGraph) GetDependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.dependents[taskID]...)
}

// TransitiveDependents returns every task that depends on the given task,
// directly or through other tasks, in breadth-first order.
func (g *DependencyGraph) TransitiveDependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var result []string
	seen := map[string]bool{taskID: true}
	queue := append([]string(nil), g.dependents[taskID]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		result = append(result, id)
		queue = append(queue, g.dependents[id]...)
	}
	return result
}
