package domain

import (
	"reflect"
	"testing"
)

func sampleTasks() []Task {
	return []Task{
		{ID: "1", Username: "alice", Title: "buy milk", Completed: false},
		{ID: "2", Username: "alice", Title: "ship release", Completed: true},
		{ID: "3", Username: "alice", Title: "water plants", Completed: false},
		{ID: "4", Username: "alice", Title: "file taxes", Completed: true},
	}
}

func TestFilterAllIsIdentity(t *testing.T) {
	tasks := sampleTasks()
	got := Filter(tasks, FilterAll)
	if !reflect.DeepEqual(got, tasks) {
		t.Fatalf("expected identical slice, got %+v", got)
	}
}

func TestFilterPartitionsTasks(t *testing.T) {
	tasks := sampleTasks()
	completed := Filter(tasks, FilterCompleted)
	ongoing := Filter(tasks, FilterOngoing)

	for _, task := range completed {
		if !task.Completed {
			t.Fatalf("ongoing task %s in completed view", task.ID)
		}
	}
	for _, task := range ongoing {
		if task.Completed {
			t.Fatalf("completed task %s in ongoing view", task.ID)
		}
	}
	if len(completed)+len(ongoing) != len(tasks) {
		t.Fatalf("partition lost tasks: %d + %d != %d", len(completed), len(ongoing), len(tasks))
	}
	seen := map[string]bool{}
	for _, task := range append(completed, ongoing...) {
		if seen[task.ID] {
			t.Fatalf("task %s appears in both views", task.ID)
		}
		seen[task.ID] = true
	}
}

func TestFilterSingleton(t *testing.T) {
	done := Task{ID: "d", Completed: true}
	open := Task{ID: "o", Completed: false}

	if got := Filter([]Task{done}, FilterCompleted); len(got) != 1 || got[0].ID != "d" {
		t.Fatalf("expected completed singleton, got %+v", got)
	}
	if got := Filter([]Task{done}, FilterOngoing); len(got) != 0 {
		t.Fatalf("expected empty ongoing view, got %+v", got)
	}
	if got := Filter([]Task{open}, FilterOngoing); len(got) != 1 || got[0].ID != "o" {
		t.Fatalf("expected ongoing singleton, got %+v", got)
	}
	if got := Filter([]Task{open}, FilterCompleted); len(got) != 0 {
		t.Fatalf("expected empty completed view, got %+v", got)
	}
}

func TestFilterPreservesOrder(t *testing.T) {
	tasks := sampleTasks()
	got := Filter(tasks, FilterCompleted)
	if len(got) != 2 || got[0].ID != "2" || got[1].ID != "4" {
		t.Fatalf("expected snapshot order preserved, got %+v", got)
	}
}

func TestParseFilterMode(t *testing.T) {
	cases := []struct {
		in   string
		want FilterMode
	}{
		{"", FilterAll},
		{"all", FilterAll},
		{"completed", FilterCompleted},
		{"ongoing", FilterOngoing},
	}
	for _, c := range cases {
		got, err := ParseFilterMode(c.in)
		if err != nil {
			t.Fatalf("parse %q: %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("parse %q: expected %v, got %v", c.in, c.want, got)
		}
	}
	if _, err := ParseFilterMode("bogus"); err == nil {
		t.Fatal("expected error for unknown filter")
	}
}
