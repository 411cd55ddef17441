package eventflow

import (
	"context"
	"sync"
)

// ---- Test Stubs ----

type stubEvent struct {
	ID   string
	Data string
}

func (e *stubEvent) AggregateID() string   { return e.ID }
func (e *stubEvent) AggregateType() string { return "StubAggregate" }
func (e *stubEvent) EventType() string     { return "StubEvent" }

type otherEvent struct {
	ID string
}

func (e *otherEvent) AggregateID() string   { return e.ID }
func (e *otherEvent) AggregateType() string { return "StubAggregate" }
func (e *otherEvent) EventType() string     { return "OtherEvent" }

type stubCmd struct {
	ID   string
	Data string
}

func (c *stubCmd) AggregateID() string { return c.ID }
func (c *stubCmd) CommandType() string { return "StubCmd" }

type otherCmd struct {
	ID string
}

func (c *otherCmd) AggregateID() string { return c.ID }
func (c *otherCmd) CommandType() string { return "OtherCmd" }

// stubAggregate raises a stubEvent per mutation.
type stubAggregate struct {
	*AggregateBase

	Applied []string
}

func newStubAggregate(id string) *stubAggregate {
	return &stubAggregate{AggregateBase: NewAggregateBase(id)}
}

func (a *stubAggregate) Apply(data string) {
	a.Applied = append(a.Applied, data)
	a.Raise(&stubEvent{ID: a.EntityID(), Data: data})
}

// stubStore is a minimal SnapshotStore with the strict version check.
type stubStore struct {
	mu    sync.Mutex
	snaps map[string]Snapshot

	loadErr error
	saveErr error
}

func newStubStore() *stubStore {
	return &stubStore{snaps: make(map[string]Snapshot)}
}

func (s *stubStore) Load(ctx context.Context, aggregateType, id string) (*Snapshot, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snaps[aggregateType+"/"+id]
	if !ok {
		return nil, ErrNotFound
	}
	return &snap, nil
}

func (s *stubStore) Save(ctx context.Context, snap Snapshot, expected uint64) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := snap.AggregateType + "/" + snap.AggregateID
	var actual uint64
	if current, ok := s.snaps[key]; ok {
		actual = current.Version
	}
	if actual != expected {
		return &ConcurrencyConflictError{
			AggregateID:     snap.AggregateID,
			ExpectedVersion: expected,
			ActualVersion:   actual,
		}
	}
	snap.Version = expected + 1
	s.snaps[key] = snap
	return nil
}

func (s *stubStore) Close() error { return nil }

// stubBus records published envelopes and can fail after a set number of
// publishes.
type stubBus struct {
	mu        sync.Mutex
	published []Envelope

	failAfter int // -1 = never fail
	publishes int
	err       error
}

func newStubBus() *stubBus {
	return &stubBus{failAfter: -1}
}

func (b *stubBus) Publish(ctx context.Context, env Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.publishes++
	if b.failAfter >= 0 && b.publishes > b.failAfter {
		return b.err
	}
	b.published = append(b.published, env)
	return nil
}

func (b *stubBus) Subscribe(ctx context.Context, name string, handler EventHandler, options ...SubscriberOption) error {
	return nil
}

func (b *stubBus) Errors() <-chan error { return nil }
func (b *stubBus) Close() error         { return nil }

// resetRegistries empties both type registries between tests.
func resetRegistries() {
	registryMu.Lock()
	eventRegistry = map[string]func() Event{}
	commandRegistry = map[string]func() Command{}
	registryMu.Unlock()
}
