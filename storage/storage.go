package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Client is the remote document store consumed by the credential service
// and the task synchronizer. Records live under slash-delimited paths; the
// last segment is the child key and the leading segments name the
// collection, e.g. Users/{username} and Tasks/{username}/{taskId}.
type Client interface {
	// GetOnce reads the record at path once. A missing record yields
	// (nil, nil).
	GetOnce(ctx context.Context, path string) (json.RawMessage, error)
	// Write replaces the record at path.
	Write(ctx context.Context, path string, record any) error
	// Push appends record under a store-generated child key and returns
	// that key.
	Push(ctx context.Context, path string, record any) (string, error)
	// Remove deletes the record at path. Removing an absent record is not
	// an error.
	Remove(ctx context.Context, path string) error
	// Subscribe watches the collection at path. The subscription delivers
	// an initial snapshot and a fresh full snapshot after every change
	// until it is canceled or fails.
	Subscribe(ctx context.Context, path string) (*Subscription, error)
}

// Child is one record of a collection snapshot, tagged with its key.
type Child struct {
	Key  string
	Data json.RawMessage
}

// Snapshot is the full set of a collection's children at one point in time.
type Snapshot []Child

// Sentinel error classes. Driver failures are wrapped so callers can
// classify with errors.Is while keeping the underlying message.
var (
	ErrReadFailed         = errors.New("store read failed")
	ErrWriteFailed        = errors.New("store write failed")
	ErrSubscriptionFailed = errors.New("store subscription failed")
	ErrInvalidPath        = errors.New("invalid store path")
)

// Subscription is a live collection watch. Snapshots carries full
// collection states; Errs carries at most one terminal error, after which
// the stream stalls. Both channels are closed when the watch ends.
type Subscription struct {
	Snapshots <-chan Snapshot
	Errs      <-chan error

	cancel context.CancelFunc
}

// Cancel detaches the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// runWatch drives a subscription: one snapshot up front, then a re-fetch
// per change signal. Drivers supply the fetch function and the change
// channel; stop releases driver resources when the watch ends.
func runWatch(ctx context.Context, fetch func(context.Context) (Snapshot, error), changes <-chan struct{}, stop func()) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	snapshots := make(chan Snapshot, 1)
	errs := make(chan error, 1)
	sub := &Subscription{Snapshots: snapshots, Errs: errs, cancel: cancel}

	go func() {
		defer close(snapshots)
		defer close(errs)
		defer stop()
		for {
			snap, err := fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				errs <- fmt.Errorf("%w: %v", ErrSubscriptionFailed, err)
				return
			}
			select {
			case snapshots <- snap:
			case <-ctx.Done():
				return
			}
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
			}
		}
	}()
	return sub
}
