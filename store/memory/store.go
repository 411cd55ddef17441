// Package memory provides an in-memory SnapshotStore. It backs tests and
// single-binary deployments; the optimistic concurrency semantics are
// identical to a durable implementation.
package memory

import (
	"context"
	"sync"

	cqrs "github.com/commercekit/eventflow"
)

type storeKey struct {
	aggregateType string
	id            string
}

// SnapshotStore keeps aggregate snapshots in a map guarded by a RWMutex.
// Save enforces strict version equality under the write lock, which makes the
// compare-and-swap atomic for concurrent writers.
type SnapshotStore struct {
	mu    sync.RWMutex
	snaps map[storeKey]cqrs.Snapshot
}

// NewSnapshotStore creates an empty store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		snaps: make(map[storeKey]cqrs.Snapshot),
	}
}

// Load returns a copy of the current snapshot or ErrNotFound.
func (s *SnapshotStore) Load(ctx context.Context, aggregateType, id string) (*cqrs.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snaps[storeKey{aggregateType: aggregateType, id: id}]
	if !ok {
		return nil, cqrs.ErrNotFound
	}

	// Copy so callers never observe a shared State slice.
	out := snap
	out.State = append([]byte(nil), snap.State...)
	return &out, nil
}

// Save writes the snapshot when the stored version equals expected. An
// expected version of 0 is an insert: the aggregate must not exist yet.
// On mismatch it fails with a ConcurrencyConflictError; strict equality,
// never greater-than-or-equal.
func (s *SnapshotStore) Save(ctx context.Context, snap cqrs.Snapshot, expected uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey{aggregateType: snap.AggregateType, id: snap.AggregateID}

	var actual uint64
	if stored, ok := s.snaps[key]; ok {
		actual = stored.Version
	}

	if actual != expected {
		return &cqrs.ConcurrencyConflictError{
			AggregateID:     snap.AggregateID,
			ExpectedVersion: expected,
			ActualVersion:   actual,
		}
	}

	snap.Version = expected + 1
	snap.State = append([]byte(nil), snap.State...)
	s.snaps[key] = snap
	return nil
}

// Close clears the store. It is safe to call more than once.
func (s *SnapshotStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = make(map[storeKey]cqrs.Snapshot)
	return nil
}
