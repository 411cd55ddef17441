package eventflow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v4"
)

func newStubRepository(store SnapshotStore, bus EventBus) *Repository[*stubAggregate] {
	return NewRepository(store, bus, "StubAggregate",
		func(a *stubAggregate) ([]byte, error) {
			return json.Marshal(a.Applied)
		},
		func(snap *Snapshot) (*stubAggregate, error) {
			a := newStubAggregate(snap.AggregateID)
			a.SetAggregateVersion(snap.Version)
			if err := json.Unmarshal(snap.State, &a.Applied); err != nil {
				return nil, err
			}
			return a, nil
		},
		WithPublishBackoff(func() backoff.BackOff {
			return &backoff.StopBackOff{}
		}),
	)
}

func TestRepository_SaveAndFind(t *testing.T) {
	ctx := context.Background()
	repo := newStubRepository(newStubStore(), newStubBus())

	agg := newStubAggregate("agg-1")
	agg.Apply("created")

	if err := repo.Save(ctx, agg); err != nil {
		t.Fatal(err)
	}

	loaded, err := repo.FindByID(ctx, "agg-1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.AggregateVersion() != 1 {
		t.Fatalf("expected version 1, got %d", loaded.AggregateVersion())
	}
	if len(loaded.Applied) != 1 || loaded.Applied[0] != "created" {
		t.Fatalf("unexpected state %v", loaded.Applied)
	}
}

func TestRepository_FindMissing(t *testing.T) {
	repo := newStubRepository(newStubStore(), newStubBus())

	_, err := repo.FindByID(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// Saving twice with the same expected version succeeds once and conflicts
// the second time.
func TestRepository_IdempotentSave(t *testing.T) {
	ctx := context.Background()
	repo := newStubRepository(newStubStore(), newStubBus())

	agg := newStubAggregate("agg-1")
	agg.Apply("created")
	if err := repo.Save(ctx, agg); err != nil {
		t.Fatal(err)
	}

	// The in-memory instance is stale: same expected version again.
	agg.Apply("again")
	err := repo.Save(ctx, agg)

	var conflict *ConcurrencyConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConcurrencyConflictError, got %v", err)
	}
	if conflict.AggregateID != "agg-1" {
		t.Fatalf("wrong aggregate id %q", conflict.AggregateID)
	}
	if conflict.ExpectedVersion != 0 || conflict.ActualVersion != 1 {
		t.Fatalf("expected versions (0, 1), got (%d, %d)", conflict.ExpectedVersion, conflict.ActualVersion)
	}
}

// Published events match the raised events in count and order; nothing is
// published when the version check fails.
func TestRepository_EventAfterState(t *testing.T) {
	ctx := context.Background()
	bus := newStubBus()
	repo := newStubRepository(newStubStore(), bus)

	agg := newStubAggregate("agg-1")
	agg.Apply("a")
	agg.Apply("b")
	agg.Apply("c")

	if err := repo.Save(ctx, agg); err != nil {
		t.Fatal(err)
	}
	if len(bus.published) != 3 {
		t.Fatalf("expected 3 published events, got %d", len(bus.published))
	}
	for i, want := range []string{"a", "b", "c"} {
		if got := bus.published[i].Event.(*stubEvent).Data; got != want {
			t.Fatalf("publish %d: expected %q, got %q", i, want, got)
		}
	}
	if len(agg.UncommittedEvents()) != 0 {
		t.Fatal("expected uncommitted events cleared after save")
	}

	// Conflicting save publishes nothing further.
	agg.Apply("d")
	if err := repo.Save(ctx, agg); err == nil {
		t.Fatal("expected conflict")
	}
	if len(bus.published) != 3 {
		t.Fatalf("expected no publishes on conflict, got %d", len(bus.published))
	}
}

func TestRepository_PublishFailureKeepsTail(t *testing.T) {
	ctx := context.Background()
	bus := newStubBus()
	bus.failAfter = 1
	bus.err = errors.New("broker down")
	repo := newStubRepository(newStubStore(), bus)

	agg := newStubAggregate("agg-1")
	agg.Apply("a")
	agg.Apply("b")
	agg.Apply("c")

	err := repo.Save(ctx, agg)

	var transport *TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("expected TransportError, got %v", err)
	}

	// State is durable, first event went out, the rest stayed behind.
	if len(bus.published) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(bus.published))
	}
	rest := agg.UncommittedEvents()
	if len(rest) != 2 {
		t.Fatalf("expected 2 retained events, got %d", len(rest))
	}
	if rest[0].Event.(*stubEvent).Data != "b" || rest[1].Event.(*stubEvent).Data != "c" {
		t.Fatalf("retained wrong events: %v", rest)
	}

	loaded, err := repo.FindByID(ctx, "agg-1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.AggregateVersion() != 1 {
		t.Fatalf("expected durable version 1, got %d", loaded.AggregateVersion())
	}
}

func TestRepository_Exists(t *testing.T) {
	ctx := context.Background()
	repo := newStubRepository(newStubStore(), newStubBus())

	ok, err := repo.Exists(ctx, "agg-1")
	if err != nil || ok {
		t.Fatalf("expected (false, nil), got (%v, %v)", ok, err)
	}

	agg := newStubAggregate("agg-1")
	agg.Apply("created")
	if err := repo.Save(ctx, agg); err != nil {
		t.Fatal(err)
	}

	ok, err = repo.Exists(ctx, "agg-1")
	if err != nil || !ok {
		t.Fatalf("expected (true, nil), got (%v, %v)", ok, err)
	}
}
