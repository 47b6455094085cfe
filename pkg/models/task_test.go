package models

import (
	"testing"
	"time"
)

func TestTaskStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status TaskStatus
		want   bool
	}{
		{"pending is valid", TaskStatusPending, true},
		{"ready is valid", TaskStatusReady, true},
		{"assigned is valid", TaskStatusAssigned, true},
		{"completed is valid", TaskStatusCompleted, true},
		{"failed is valid", TaskStatusFailed, true},
		{"empty string is invalid", TaskStatus(""), false},
		{"unknown status is invalid", TaskStatus("in_progress"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("TaskStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	for _, s := range []TaskStatus{TaskStatusPending, TaskStatusReady, TaskStatusAssigned} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []TaskStatus{TaskStatusCompleted, TaskStatusFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestTask_Clone(t *testing.T) {
	done := time.Now()
	orig := &Task{ID: "a", DependsOn: []string{"x", "y"}, CompletedAt: &done}
	c := orig.Clone()

	c.DependsOn[0] = "changed"
	*c.CompletedAt = done.Add(time.Hour)

	if orig.DependsOn[0] != "x" {
		t.Errorf("clone shares DependsOn with original")
	}
	if !orig.CompletedAt.Equal(done) {
		t.Errorf("clone shares CompletedAt with original")
	}
	if (*Task)(nil).Clone() != nil {
		t.Errorf("nil clone should be nil")
	}
}

func TestTask_AcceptsRole(t *testing.T) {
	anyRole := &Task{ID: "a"}
	coderOnly := &Task{ID: "b", Role: RoleCoder}

	if !anyRole.AcceptsRole(RoleTester) {
		t.Errorf("task without affinity should accept any role")
	}
	if !coderOnly.AcceptsRole(RoleCoder) {
		t.Errorf("coder task should accept coder")
	}
	if coderOnly.AcceptsRole(RolePlanner) {
		t.Errorf("coder task should not accept planner")
	}
}
