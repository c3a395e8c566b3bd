package model

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to TaskStatus
		want     bool
	}{
		{TaskStatusQueued, TaskStatusInProgress, true},
		{TaskStatusQueued, TaskStatusCompleted, true},
		{TaskStatusInProgress, TaskStatusInProgress, true},
		{TaskStatusInProgress, TaskStatusQueued, false},
		{TaskStatusCompleted, TaskStatusFailed, false},
		{TaskStatusCancelled, TaskStatusCancelled, false},
		{TaskStatusQueued, TaskStatus("paused"), false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestApplyStatus_OutputGuards(t *testing.T) {
	now := time.Unix(100, 0)
	r := NewTaskRecord("J", "R", "")
	long, short := "Hello, wo", "Hel"

	if !r.ApplyStatus(StatusUpdate{Status: TaskStatusInProgress, Output: &long}, now) {
		t.Fatal("first transition should change the record")
	}
	r.ApplyStatus(StatusUpdate{Status: TaskStatusInProgress, Output: &short}, now)
	if r.PartialOutput != long {
		t.Fatalf("active output shrank to %q", r.PartialOutput)
	}

	final := "Hi"
	r.ApplyStatus(StatusUpdate{Status: TaskStatusFailed, Output: &final, Error: "boom"}, now)
	if r.PartialOutput != final || r.Error != "boom" {
		t.Fatalf("terminal update not applied: %+v", r)
	}
	if r.ApplyStatus(StatusUpdate{Status: TaskStatusCompleted, Error: "other"}, now) {
		t.Fatal("terminal record changed")
	}
}

func TestApplyCheckpoint(t *testing.T) {
	now := time.Unix(100, 0)
	r := NewTaskRecord("J", "R", "owner")
	if !r.ApplyCheckpoint(5, "abc", now) {
		t.Fatal("checkpoint rejected")
	}
	if r.ApplyCheckpoint(4, "abcdef", now) {
		t.Fatal("stale checkpoint accepted")
	}
	r.ApplyStatus(StatusUpdate{Status: TaskStatusCompleted}, now)
	if r.ApplyCheckpoint(9, "abcdefgh", now) {
		t.Fatal("checkpoint on terminal record accepted")
	}
	if r.Cursor != 5 || r.PartialOutput != "abc" {
		t.Fatalf("record = %+v", r)
	}
}

func TestOwnedBy(t *testing.T) {
	if !NewTaskRecord("J", "R", "").OwnedBy("anyone") {
		t.Error("ownerless record should be addressable by job id")
	}
	owned := NewTaskRecord("J", "R", "alice")
	if owned.OwnedBy("bob") || owned.OwnedBy("") || !owned.OwnedBy("alice") {
		t.Error("owned record access mismatch")
	}
}
