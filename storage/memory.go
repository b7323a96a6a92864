package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Client used for tests and local
// development (STORE_DRIVER=memory). Children are kept in insertion
// order, matching the snapshot order a real backend would deliver for
// generated keys.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]json.RawMessage
	order       map[string][]string

	brokerMu sync.Mutex
	brokers  map[string]*changeBroker
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]json.RawMessage),
		order:       make(map[string][]string),
		brokers:     make(map[string]*changeBroker),
	}
}

func (m *MemoryStore) GetOnce(ctx context.Context, path string) (json.RawMessage, error) {
	collection, key, err := splitRecordPath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadFailed, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.collections[collection][key]
	if !ok {
		return nil, nil
	}
	out := make(json.RawMessage, len(rec))
	copy(out, rec)
	return out, nil
}

func (m *MemoryStore) Write(ctx context.Context, path string, record any) error {
	collection, key, err := splitRecordPath(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	m.put(collection, key, data)
	m.notify(collection)
	return nil
}

func (m *MemoryStore) Push(ctx context.Context, path string, record any) (string, error) {
	segs, err := splitPath(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	collection := joinSegments(segs)
	key := uuid.NewString()
	m.put(collection, key, data)
	m.notify(collection)
	return key, nil
}

func (m *MemoryStore) Remove(ctx context.Context, path string) error {
	collection, key, err := splitRecordPath(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	m.mu.Lock()
	if children, ok := m.collections[collection]; ok {
		delete(children, key)
		keys := m.order[collection]
		for i, k := range keys {
			if k == key {
				m.order[collection] = append(keys[:i], keys[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()
	m.notify(collection)
	return nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, path string) (*Subscription, error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubscriptionFailed, err)
	}
	collection := joinSegments(segs)
	broker := m.broker(collection)
	ch := broker.subscribe()
	fetch := func(context.Context) (Snapshot, error) {
		return m.snapshot(collection), nil
	}
	return runWatch(ctx, fetch, ch, func() { broker.unsubscribe(ch) }), nil
}

func (m *MemoryStore) put(collection, key string, data json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	children, ok := m.collections[collection]
	if !ok {
		children = make(map[string]json.RawMessage)
		m.collections[collection] = children
	}
	if _, exists := children[key]; !exists {
		m.order[collection] = append(m.order[collection], key)
	}
	children[key] = data
}

func (m *MemoryStore) snapshot(collection string) Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	children := m.collections[collection]
	snap := make(Snapshot, 0, len(children))
	for _, key := range m.order[collection] {
		data := make(json.RawMessage, len(children[key]))
		copy(data, children[key])
		snap = append(snap, Child{Key: key, Data: data})
	}
	return snap
}

func (m *MemoryStore) broker(collection string) *changeBroker {
	m.brokerMu.Lock()
	defer m.brokerMu.Unlock()
	b, ok := m.brokers[collection]
	if !ok {
		b = newChangeBroker()
		m.brokers[collection] = b
	}
	return b
}

func (m *MemoryStore) notify(collection string) {
	m.brokerMu.Lock()
	b := m.brokers[collection]
	m.brokerMu.Unlock()
	if b != nil {
		b.notify()
	}
}

func joinSegments(segs []string) string {
	out := segs[0]
	for _, s := range segs[1:] {
		out += "/" + s
	}
	return out
}

// changeBroker fans a change signal out to collection subscribers.
// Signals are coalesced: a subscriber that has a pending signal does not
// accumulate more.
type changeBroker struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func newChangeBroker() *changeBroker {
	return &changeBroker{subs: make(map[chan struct{}]struct{})}
}

func (b *changeBroker) subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *changeBroker) unsubscribe(ch chan struct{}) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

func (b *changeBroker) notify() {
	b.mu.Lock()
	for ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()
}
