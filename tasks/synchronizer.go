// Package tasks keeps a local mirror of one user's task collection in
// step with the remote store and issues the write-through task intents.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"notepad-api/domain"
	"notepad-api/storage"
)

var (
	// ErrMissingTaskID guards update/delete against a blank id, which
	// would otherwise address an undefined store path.
	ErrMissingTaskID = errors.New("task id is required")
	ErrTaskNotFound  = errors.New("task not found")
	ErrNotSubscribed = errors.New("no active task subscription")
)

// Synchronizer owns the in-memory task mirror for one signed-in user.
// The mirror is updated only from store snapshots; callers read copies
// and issue intents, they never mutate it directly.
type Synchronizer struct {
	store storage.Client

	mu       sync.RWMutex
	username string
	mirror   []domain.Task
	sub      *storage.Subscription
	gen      int

	watchMu  sync.Mutex
	watchers map[chan struct{}]struct{}
}

func New(store storage.Client) *Synchronizer {
	return &Synchronizer{store: store, watchers: make(map[chan struct{}]struct{})}
}

func tasksPath(username string) string { return "Tasks/" + username }

// Subscribe starts mirroring the user's task collection. Any previous
// subscription is torn down first so a stale watch cannot keep mutating
// state that now belongs to a different user. The returned channels carry
// decoded snapshots (latest wins when the consumer lags) and at most one
// terminal subscription error, after which the stream stalls.
func (s *Synchronizer) Subscribe(ctx context.Context, username string) (<-chan []domain.Task, <-chan error, error) {
	s.Close()

	sub, err := s.store.Subscribe(ctx, tasksPath(username))
	if err != nil {
		log.WithField("user", username).Errorf("subscribe: %v", err)
		return nil, nil, err
	}

	s.mu.Lock()
	s.username = username
	s.mirror = nil
	s.sub = sub
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	out := make(chan []domain.Task, 1)
	errs := make(chan error, 1)
	go s.run(sub, username, gen, out, errs)
	return out, errs, nil
}

func (s *Synchronizer) run(sub *storage.Subscription, username string, gen int, out chan []domain.Task, errs chan error) {
	defer close(out)
	defer close(errs)
	for snap := range sub.Snapshots {
		tasks := decodeSnapshot(snap, username)
		if !s.apply(gen, tasks) {
			return
		}
		// latest snapshot wins when the consumer is behind
		select {
		case <-out:
		default:
		}
		select {
		case out <- tasks:
		default:
		}
		s.notifyWatchers()
	}
	select {
	case err, ok := <-sub.Errs:
		if ok && err != nil {
			log.WithField("user", username).Errorf("subscription: %v", err)
			errs <- err
		}
	default:
	}
}

// apply installs the snapshot unless the synchronizer has moved on to a
// newer subscription.
func (s *Synchronizer) apply(gen int, tasks []domain.Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	s.mirror = tasks
	return true
}

func decodeSnapshot(snap storage.Snapshot, username string) []domain.Task {
	tasks := make([]domain.Task, 0, len(snap))
	for _, child := range snap {
		var t domain.Task
		if err := json.Unmarshal(child.Data, &t); err != nil {
			log.WithField("user", username).Warnf("skipping undecodable task %s: %v", child.Key, err)
			continue
		}
		t.ID = child.Key
		tasks = append(tasks, t)
	}
	return tasks
}

// Close tears down the active subscription, if any.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.gen++
	s.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

// Username returns the user the synchronizer is currently scoped to.
func (s *Synchronizer) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// Tasks returns a copy of the current mirror.
func (s *Synchronizer) Tasks() []domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Task, len(s.mirror))
	copy(out, s.mirror)
	return out
}

// Watch registers a change signal channel for view-layer fan-out.
// Signals coalesce; callers re-read Tasks() on each signal.
func (s *Synchronizer) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.watchMu.Lock()
	s.watchers[ch] = struct{}{}
	s.watchMu.Unlock()
	return ch, func() {
		s.watchMu.Lock()
		delete(s.watchers, ch)
		s.watchMu.Unlock()
	}
}

func (s *Synchronizer) notifyWatchers() {
	s.watchMu.Lock()
	for ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.watchMu.Unlock()
}

// Create appends a new task for the subscribed user. The mirror picks the
// task up when the store echoes the change back; there is no optimistic
// local insert.
func (s *Synchronizer) Create(ctx context.Context, title, description string, completed bool) error {
	username := s.Username()
	if username == "" {
		return ErrNotSubscribed
	}
	task := domain.Task{
		Username:    username,
		Title:       title,
		Description: description,
		Completed:   completed,
	}
	if _, err := s.store.Push(ctx, tasksPath(username), task); err != nil {
		log.WithField("user", username).Errorf("create task: %v", err)
		return err
	}
	return nil
}

// Update replaces the stored task, preserving ownership.
func (s *Synchronizer) Update(ctx context.Context, id, title, description string, completed bool) error {
	if id == "" {
		return ErrMissingTaskID
	}
	username := s.Username()
	if username == "" {
		return ErrNotSubscribed
	}
	task := domain.Task{
		ID:          id,
		Username:    username,
		Title:       title,
		Description: description,
		Completed:   completed,
	}
	if err := s.store.Write(ctx, tasksPath(username)+"/"+id, task); err != nil {
		log.WithFields(log.Fields{"user": username, "task": id}).Errorf("update task: %v", err)
		return err
	}
	return nil
}

// ToggleComplete writes the mirror's copy of the task back with its
// completed flag negated. Last writer wins: a remote change since the
// previous snapshot is overwritten.
func (s *Synchronizer) ToggleComplete(ctx context.Context, id string) error {
	if id == "" {
		return ErrMissingTaskID
	}
	s.mu.RLock()
	username := s.username
	var current *domain.Task
	for i := range s.mirror {
		if s.mirror[i].ID == id {
			t := s.mirror[i]
			current = &t
			break
		}
	}
	s.mu.RUnlock()
	if username == "" {
		return ErrNotSubscribed
	}
	if current == nil {
		return ErrTaskNotFound
	}
	current.Completed = !current.Completed
	if err := s.store.Write(ctx, tasksPath(username)+"/"+id, *current); err != nil {
		log.WithFields(log.Fields{"user": username, "task": id}).Errorf("toggle task: %v", err)
		return err
	}
	return nil
}

// Delete removes the task permanently.
func (s *Synchronizer) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrMissingTaskID
	}
	username := s.Username()
	if username == "" {
		return ErrNotSubscribed
	}
	if err := s.store.Remove(ctx, tasksPath(username)+"/"+id); err != nil {
		log.WithFields(log.Fields{"user": username, "task": id}).Errorf("delete task: %v", err)
		return err
	}
	return nil
}
