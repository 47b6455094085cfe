package graph

import (
	"errors"
	"sort"
	"testing"

	"github.com/ShayCichocki/turboswarm/pkg/models"
)

func TestNew(t *testing.T) {
	g := New()
	if g == nil {
		t.Fatal("expected non-nil graph")
	}
	if g.Size() != 0 {
		t.Errorf("expected empty graph, got size %d", g.Size())
	}
}

func TestAddWithDependencies(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		{ID: "task-1", Seq: 1},
		{ID: "task-2", Seq: 2, DependsOn: []string{"task-1"}},
		{ID: "task-3", Seq: 3, DependsOn: []string{"task-1", "task-2"}},
	}

	if err := g.Add(tasks...); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	g.MarkComplete("task-1")
	if g.DependenciesComplete("task-3") {
		t.Error("task-3 should still wait on task-2")
	}
	g.MarkComplete("task-2")
	if !g.DependenciesComplete("task-3") {
		t.Error("task-3 dependencies should be complete")
	}

	dependents := g.GetDependents("task-1")
	sort.Strings(dependents)
	if len(dependents) != 2 || dependents[0] != "task-2" || dependents[1] != "task-3" {
		t.Errorf("unexpected dependents for task-1: %v", dependents)
	}
}

func TestAddUnknownDependency(t *testing.T) {
	g := New()
	err := g.Add(&models.Task{ID: "a", DependsOn: []string{"missing"}})
	if !errors.Is(err, ErrUnknownDependency) {
		t.Fatalf("expected ErrUnknownDependency, got %v", err)
	}
	if g.Size() != 0 {
		t.Errorf("graph should be unchanged, size %d", g.Size())
	}
}

func TestAddDuplicate(t *testing.T) {
	g := New()
	if err := g.Add(&models.Task{ID: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := g.Add(&models.Task{ID: "a"}); !errors.Is(err, ErrDuplicateTask) {
		t.Errorf("expected ErrDuplicateTask for existing id, got %v", err)
	}
	if err := g.Add(&models.Task{ID: "b"}, &models.Task{ID: "b"}); !errors.Is(err, ErrDuplicateTask) {
		t.Errorf("expected ErrDuplicateTask within batch, got %v", err)
	}
	if err := g.Add(&models.Task{}); !errors.Is(err, ErrInvalidTask) {
		t.Errorf("expected ErrInvalidTask, got %v", err)
	}
}

func TestAddRejectsCycles(t *testing.T) {
	tests := []struct {
		name  string
		batch []*models.Task
	}{
		{
			name:  "self dependency",
			batch: []*models.Task{{ID: "x", DependsOn: []string{"x"}}},
		},
		{
			name: "two node cycle in batch",
			batch: []*models.Task{
				{ID: "x", DependsOn: []string{"y"}},
				{ID: "y", DependsOn: []string{"x"}},
			},
		},
		{
			name: "three node cycle through existing node",
			batch: []*models.Task{
				{ID: "x", DependsOn: []string{"base", "z"}},
				{ID: "y", DependsOn: []string{"x"}},
				{ID: "z", DependsOn: []string{"y"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New()
			if err := g.Add(&models.Task{ID: "base"}); err != nil {
				t.Fatal(err)
			}

			err := g.Add(tt.batch...)
			if !errors.Is(err, ErrCycleDetected) {
				t.Fatalf("expected ErrCycleDetected, got %v", err)
			}
			if g.Size() != 1 {
				t.Errorf("graph changed after rejection: size %d", g.Size())
			}
			if len(g.GetDependents("base")) != 0 {
				t.Errorf("dependents changed after rejection")
			}
		})
	}
}

func TestAddBatchReferencingLaterTask(t *testing.T) {
	g := New()
	err := g.Add(
		&models.Task{ID: "b", DependsOn: []string{"a"}},
		&models.Task{ID: "a"},
	)
	if err != nil {
		t.Fatalf("forward reference within batch should be accepted: %v", err)
	}
	if _, err := g.TopologicalSort(); err != nil {
		t.Errorf("graph should be acyclic: %v", err)
	}
}

func TestTopologicalSort(t *testing.T) {
	g := New()
	err := g.Add([]*models.Task{
		{ID: "d", Seq: 4, DependsOn: []string{"b", "c"}},
		{ID: "c", Seq: 3, DependsOn: []string{"a"}},
		{ID: "b", Seq: 2, DependsOn: []string{"a"}},
		{ID: "a", Seq: 1},
	}...)
	if err != nil {
		t.Fatal(err)
	}

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatal(err)
	}

	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	if pos["a"] > pos["b"] || pos["a"] > pos["c"] || pos["b"] > pos["d"] || pos["c"] > pos["d"] {
		t.Errorf("order violates dependencies: %v", order)
	}
}

func TestDependenciesComplete(t *testing.T) {
	g := New()
	if err := g.Add([]*models.Task{
		{ID: "a"},
		{ID: "b"},
		{ID: "c", DependsOn: []string{"a", "b"}},
	}...); err != nil {
		t.Fatal(err)
	}

	if g.DependenciesComplete("c") {
		t.Error("c should not be satisfied yet")
	}
	g.MarkComplete("a")
	if g.DependenciesComplete("c") {
		t.Error("c should still wait on b")
	}
	g.MarkComplete("b")
	if !g.DependenciesComplete("c") {
		t.Error("c should be satisfied")
	}
	if !g.DependenciesComplete("a") {
		t.Error("task without dependencies is always satisfied")
	}
}

func TestTransitiveDependents(t *testing.T) {
	g := New()
	if err := g.Add([]*models.Task{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"b"}},
		{ID: "d", DependsOn: []string{"b", "c"}},
		{ID: "e"},
	}...); err != nil {
		t.Fatal(err)
	}

	got := g.TransitiveDependents("a")
	sort.Strings(got)
	want := []string{"b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("TransitiveDependents(a) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("TransitiveDependents(a) = %v, want %v", got, want)
		}
	}
	if len(g.TransitiveDependents("e")) != 0 {
		t.Error("e has no dependents")
	}
}

func TestTasksInEnqueueOrder(t *testing.T) {
	g := New()
	if err := g.Add([]*models.Task{
		{ID: "z", Seq: 1},
		{ID: "a", Seq: 2},
		{ID: "m", Seq: 3},
	}...); err != nil {
		t.Fatal(err)
	}

	tasks := g.Tasks()
	if tasks[0].ID != "z" || tasks[1].ID != "a" || tasks[2].ID != "m" {
		t.Errorf("unexpected order: %s %s %s", tasks[0].ID, tasks[1].ID, tasks[2].ID)
	}
}
