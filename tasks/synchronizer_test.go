package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"notepad-api/domain"
	"notepad-api/storage"
)

func nextSnapshot(t *testing.T, snaps <-chan []domain.Task) []domain.Task {
	t.Helper()
	select {
	case snap, ok := <-snaps:
		if !ok {
			t.Fatal("snapshot channel closed")
		}
		return snap
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return nil
}

// waitFor reads snapshots until cond holds or the timeout elapses.
func waitFor(t *testing.T, snaps <-chan []domain.Task, cond func([]domain.Task) bool) []domain.Task {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case snap, ok := <-snaps:
			if !ok {
				t.Fatal("snapshot channel closed")
			}
			if cond(snap) {
				return snap
			}
		case <-deadline:
			t.Fatal("condition not reached")
		}
	}
}

func TestCreateAppearsInSnapshot(t *testing.T) {
	store := storage.NewMemoryStore()
	s := New(store)
	defer s.Close()

	snaps, _, err := s.Subscribe(context.Background(), "alice")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if snap := nextSnapshot(t, snaps); len(snap) != 0 {
		t.Fatalf("expected empty initial snapshot, got %+v", snap)
	}

	if err := s.Create(context.Background(), "Buy milk", "", false); err != nil {
		t.Fatalf("create: %v", err)
	}
	snap := waitFor(t, snaps, func(ts []domain.Task) bool { return len(ts) == 1 })
	got := snap[0]
	if got.Title != "Buy milk" || got.Completed || got.Description != "" {
		t.Fatalf("unexpected task %+v", got)
	}
	if got.ID == "" {
		t.Fatal("expected store-assigned id")
	}
	if got.Username != "alice" {
		t.Fatalf("expected owner alice, got %q", got.Username)
	}
}

func TestToggleCompleteRoundTrip(t *testing.T) {
	store := storage.NewMemoryStore()
	s := New(store)
	defer s.Close()

	snaps, _, err := s.Subscribe(context.Background(), "alice")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	nextSnapshot(t, snaps)

	if err := s.Create(context.Background(), "Buy milk", "semi-skimmed", false); err != nil {
		t.Fatalf("create: %v", err)
	}
	snap := waitFor(t, snaps, func(ts []domain.Task) bool { return len(ts) == 1 })
	id := snap[0].ID

	if err := s.ToggleComplete(context.Background(), id); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	snap = waitFor(t, snaps, func(ts []domain.Task) bool { return len(ts) == 1 && ts[0].Completed })
	got := snap[0]
	if got.ID != id || got.Title != "Buy milk" || got.Description != "semi-skimmed" || got.Username != "alice" {
		t.Fatalf("toggle changed unrelated fields: %+v", got)
	}
}

func TestDeleteRemovesFromSnapshot(t *testing.T) {
	store := storage.NewMemoryStore()
	s := New(store)
	defer s.Close()

	snaps, _, err := s.Subscribe(context.Background(), "alice")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	nextSnapshot(t, snaps)

	if err := s.Create(context.Background(), "Buy milk", "", false); err != nil {
		t.Fatalf("create: %v", err)
	}
	snap := waitFor(t, snaps, func(ts []domain.Task) bool { return len(ts) == 1 })
	id := snap[0].ID

	if err := s.Delete(context.Background(), id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	waitFor(t, snaps, func(ts []domain.Task) bool {
		for _, task := range ts {
			if task.ID == id {
				return false
			}
		}
		return true
	})
}

func TestUpdateReplacesRecord(t *testing.T) {
	store := storage.NewMemoryStore()
	s := New(store)
	defer s.Close()

	snaps, _, err := s.Subscribe(context.Background(), "alice")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	nextSnapshot(t, snaps)

	if err := s.Create(context.Background(), "Draft", "v1", false); err != nil {
		t.Fatalf("create: %v", err)
	}
	snap := waitFor(t, snaps, func(ts []domain.Task) bool { return len(ts) == 1 })
	id := snap[0].ID

	if err := s.Update(context.Background(), id, "Final", "v2", true); err != nil {
		t.Fatalf("update: %v", err)
	}
	snap = waitFor(t, snaps, func(ts []domain.Task) bool { return len(ts) == 1 && ts[0].Title == "Final" })
	got := snap[0]
	if got.Description != "v2" || !got.Completed || got.Username != "alice" || got.ID != id {
		t.Fatalf("unexpected task after update: %+v", got)
	}
}

func TestBlankIDIsRejected(t *testing.T) {
	s := New(storage.NewMemoryStore())
	defer s.Close()
	ctx := context.Background()
	if _, _, err := s.Subscribe(ctx, "alice"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := s.Update(ctx, "", "t", "d", false); !errors.Is(err, ErrMissingTaskID) {
		t.Fatalf("expected ErrMissingTaskID from update, got %v", err)
	}
	if err := s.Delete(ctx, ""); !errors.Is(err, ErrMissingTaskID) {
		t.Fatalf("expected ErrMissingTaskID from delete, got %v", err)
	}
	if err := s.ToggleComplete(ctx, ""); !errors.Is(err, ErrMissingTaskID) {
		t.Fatalf("expected ErrMissingTaskID from toggle, got %v", err)
	}
}

func TestToggleUnknownID(t *testing.T) {
	s := New(storage.NewMemoryStore())
	defer s.Close()
	if _, _, err := s.Subscribe(context.Background(), "alice"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := s.ToggleComplete(context.Background(), "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestOperationsRequireSubscription(t *testing.T) {
	s := New(storage.NewMemoryStore())
	if err := s.Create(context.Background(), "t", "", false); !errors.Is(err, ErrNotSubscribed) {
		t.Fatalf("expected ErrNotSubscribed, got %v", err)
	}
}

func TestResubscribeSwitchesUser(t *testing.T) {
	store := storage.NewMemoryStore()
	s := New(store)
	defer s.Close()
	ctx := context.Background()

	aliceSnaps, _, err := s.Subscribe(ctx, "alice")
	if err != nil {
		t.Fatalf("subscribe alice: %v", err)
	}
	nextSnapshot(t, aliceSnaps)
	if err := s.Create(ctx, "alice's task", "", false); err != nil {
		t.Fatalf("create: %v", err)
	}
	waitFor(t, aliceSnaps, func(ts []domain.Task) bool { return len(ts) == 1 })

	bobSnaps, _, err := s.Subscribe(ctx, "bob")
	if err != nil {
		t.Fatalf("subscribe bob: %v", err)
	}
	if snap := nextSnapshot(t, bobSnaps); len(snap) != 0 {
		t.Fatalf("bob sees alice's tasks: %+v", snap)
	}
	if s.Username() != "bob" {
		t.Fatalf("expected bob, got %q", s.Username())
	}

	// a write to alice's collection must not leak into bob's mirror
	if _, err := store.Push(ctx, "Tasks/alice", domain.Task{Username: "alice", Title: "late"}); err != nil {
		t.Fatalf("push: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := s.Tasks(); len(got) != 0 {
		t.Fatalf("stale subscription mutated mirror: %+v", got)
	}

	// the old snapshot channel is closed by the teardown
	for {
		select {
		case _, ok := <-aliceSnaps:
			if !ok {
				return
			}
		case <-time.After(time.Second):
			t.Fatal("previous subscription channel not closed")
		}
	}
}

type erroringSub struct{}

func (erroringSub) GetOnce(ctx context.Context, path string) (json.RawMessage, error) {
	return nil, nil
}
func (erroringSub) Write(ctx context.Context, path string, record any) error { return nil }
func (erroringSub) Push(ctx context.Context, path string, record any) (string, error) {
	return "", nil
}
func (erroringSub) Remove(ctx context.Context, path string) error { return nil }
func (erroringSub) Subscribe(ctx context.Context, path string) (*storage.Subscription, error) {
	snaps := make(chan storage.Snapshot)
	errs := make(chan error, 1)
	errs <- fmt.Errorf("%w: backend gone", storage.ErrSubscriptionFailed)
	close(errs)
	close(snaps)
	return &storage.Subscription{Snapshots: snaps, Errs: errs}, nil
}

func TestSubscriptionErrorIsForwardedThenStalls(t *testing.T) {
	s := New(erroringSub{})
	defer s.Close()
	snaps, errs, err := s.Subscribe(context.Background(), "alice")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	select {
	case got := <-errs:
		if !errors.Is(got, storage.ErrSubscriptionFailed) {
			t.Fatalf("expected subscription failure, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("subscription error not forwarded")
	}
	if _, ok := <-snaps; ok {
		t.Fatal("expected stalled (closed) snapshot stream")
	}
}

func TestWatchSignalsOnSnapshot(t *testing.T) {
	store := storage.NewMemoryStore()
	s := New(store)
	defer s.Close()
	snaps, _, err := s.Subscribe(context.Background(), "alice")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	nextSnapshot(t, snaps)

	ch, stop := s.Watch()
	defer stop()
	if err := s.Create(context.Background(), "task", "", false); err != nil {
		t.Fatalf("create: %v", err)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("watcher not signaled")
	}
	if got := s.Tasks(); len(got) != 1 || got[0].Title != "task" {
		t.Fatalf("unexpected mirror %+v", got)
	}
}
