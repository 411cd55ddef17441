package fixtures

import (
	"context"
	"sync"

	es "github.com/commercekit/eventflow"
)

// StoreSpy is a configurable mock SnapshotStore for testing.
// It tracks calls and allows injecting custom behavior or failures.
type StoreSpy struct {
	mu sync.Mutex

	// Function overrides for custom behavior
	LoadFn  func(ctx context.Context, aggregateType, aggregateID string) (*es.Snapshot, error)
	SaveFn  func(ctx context.Context, snap es.Snapshot, expectedVersion uint64) error
	CloseFn func() error

	// Call tracking
	LoadCalls  int
	SaveCalls  int
	CloseCalls int

	// Captured arguments from last call
	LastSaved       es.Snapshot
	LastExpectedVer uint64
	LastLoadedID    string

	// Pre-configured data
	snapshots map[string]es.Snapshot // aggregateType/aggregateID -> snapshot

	// Error injection
	loadErr error
	saveErr error
}

// NewStoreSpy creates a new StoreSpy with default behavior.
func NewStoreSpy() *StoreSpy {
	return &StoreSpy{
		snapshots: make(map[string]es.Snapshot),
	}
}

// WithSnapshot pre-populates the store.
func (s *StoreSpy) WithSnapshot(snap es.Snapshot) *StoreSpy {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.AggregateType+"/"+snap.AggregateID] = snap
	return s
}

// FailOnLoad configures the store to return an error on Load.
func (s *StoreSpy) FailOnLoad(err error) *StoreSpy {
	s.loadErr = err
	return s
}

// FailOnSave configures the store to return an error on Save.
func (s *StoreSpy) FailOnSave(err error) *StoreSpy {
	s.saveErr = err
	return s
}

// Load implements SnapshotStore.Load.
func (s *StoreSpy) Load(ctx context.Context, aggregateType, aggregateID string) (*es.Snapshot, error) {
	s.mu.Lock()
	s.LoadCalls++
	s.LastLoadedID = aggregateID
	s.mu.Unlock()

	if s.LoadFn != nil {
		return s.LoadFn(ctx, aggregateType, aggregateID)
	}
	if s.loadErr != nil {
		return nil, s.loadErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[aggregateType+"/"+aggregateID]
	if !ok {
		return nil, es.ErrNotFound
	}
	return &snap, nil
}

// Save implements SnapshotStore.Save with the same strict version check the
// real stores enforce.
func (s *StoreSpy) Save(ctx context.Context, snap es.Snapshot, expectedVersion uint64) error {
	s.mu.Lock()
	s.SaveCalls++
	s.LastSaved = snap
	s.LastExpectedVer = expectedVersion
	s.mu.Unlock()

	if s.SaveFn != nil {
		return s.SaveFn(ctx, snap, expectedVersion)
	}
	if s.saveErr != nil {
		return s.saveErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := snap.AggregateType + "/" + snap.AggregateID
	current, exists := s.snapshots[key]

	var actual uint64
	if exists {
		actual = current.Version
	}
	if actual != expectedVersion {
		return &es.ConcurrencyConflictError{
			AggregateID:     snap.AggregateID,
			ExpectedVersion: expectedVersion,
			ActualVersion:   actual,
		}
	}

	snap.Version = expectedVersion + 1
	s.snapshots[key] = snap
	return nil
}

// Close implements SnapshotStore.Close.
func (s *StoreSpy) Close() error {
	s.mu.Lock()
	s.CloseCalls++
	s.mu.Unlock()

	if s.CloseFn != nil {
		return s.CloseFn()
	}
	return nil
}

// Version returns the stored version for an aggregate, or 0 when absent.
func (s *StoreSpy) Version(aggregateType, aggregateID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots[aggregateType+"/"+aggregateID].Version
}
