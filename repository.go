package eventflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Snapshot is the durable record of an aggregate: its identity, the version
// counting successfully persisted mutations, and the serialized state.
type Snapshot struct {
	AggregateID   string
	AggregateType string
	Version       uint64
	State         []byte
	UpdatedAt     time.Time
}

// SnapshotStore is the contract for versioned aggregate persistence. A store
// persists full aggregate state keyed by (aggregate type, id) and enforces
// optimistic concurrency: a write succeeds only when the caller's expected
// version equals the stored version exactly.
//
// Implementations must guarantee:
//   - Load never returns a partially-written snapshot.
//   - Save checks strict version equality, not greater-than-or-equal.
//   - The state write and the version increment are atomic.
type SnapshotStore interface {
	// Load returns the current snapshot for the aggregate or ErrNotFound.
	Load(ctx context.Context, aggregateType, id string) (*Snapshot, error)

	// Save persists the snapshot when the stored version equals expected;
	// expected 0 means the aggregate must not exist yet (insert). On
	// mismatch it fails with a ConcurrencyConflictError carrying the
	// aggregate id, the expected version and the actual stored version.
	// The written snapshot has Version expected+1.
	Save(ctx context.Context, snap Snapshot, expected uint64) error

	// Close releases resources held by the store. Implementations should
	// make Close idempotent.
	Close() error
}

// RepositoryOption configures a Repository.
type RepositoryOption func(cfg *repositoryOptions)

type repositoryOptions struct {
	// PublishBackoff produces the retry strategy used when publishing the
	// uncommitted events after a successful state write.
	PublishBackoff func() backoff.BackOff
}

// WithPublishBackoff overrides the retry strategy for post-save publishing.
//
// Usage:
//
//	repo := NewRepository(..., WithPublishBackoff(func() backoff.BackOff {
//	    return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), 5)
//	}))
func WithPublishBackoff(fn func() backoff.BackOff) RepositoryOption {
	return func(cfg *repositoryOptions) { cfg.PublishBackoff = fn }
}

// Repository persists aggregates of type T and publishes their uncommitted
// events on successful save. It is the only place optimistic concurrency is
// enforced: concurrent writers race, the loser receives a
// ConcurrencyConflictError and must reload before retrying.
type Repository[T Aggregate] struct {
	store         SnapshotStore
	bus           EventBus
	aggregateType string
	encode        func(T) ([]byte, error)
	decode        func(snap *Snapshot) (T, error)
	opts          repositoryOptions
}

// NewRepository creates a repository for a concrete aggregate type.
//
// Parameters:
//   - store: the versioned snapshot store backing the aggregate.
//   - bus: the event bus uncommitted events are published to after a save.
//   - aggregateType: the routing tag shared by all aggregates of this type.
//   - encode: serializes the aggregate state for storage.
//   - decode: reconstructs the aggregate from a stored snapshot, including
//     its version. It must never yield a partially-initialized aggregate.
func NewRepository[T Aggregate](
	store SnapshotStore,
	bus EventBus,
	aggregateType string,
	encode func(T) ([]byte, error),
	decode func(snap *Snapshot) (T, error),
	opts ...RepositoryOption,
) *Repository[T] {
	cfg := repositoryOptions{
		PublishBackoff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
		},
	}
	for _, o := range opts {
		o(&cfg)
	}

	return &Repository[T]{
		store:         store,
		bus:           bus,
		aggregateType: aggregateType,
		encode:        encode,
		decode:        decode,
		opts:          cfg,
	}
}

// FindByID returns the current state of the aggregate or ErrNotFound.
func (r *Repository[T]) FindByID(ctx context.Context, id string) (T, error) {
	var zero T

	snap, err := r.store.Load(ctx, r.aggregateType, id)
	if err != nil {
		return zero, fmt.Errorf("find %s %q: %w", r.aggregateType, id, err)
	}

	agg, err := r.decode(snap)
	if err != nil {
		return zero, fmt.Errorf("find %s %q: decode snapshot: %w", r.aggregateType, id, err)
	}
	return agg, nil
}

// Save persists the aggregate and publishes its uncommitted events.
//
// The aggregate's version is the expected version: the save succeeds only if
// the stored version still equals it. On a mismatch Save fails with a
// ConcurrencyConflictError and publishes nothing; the conflict is never
// silently resolved here — reload, re-derive, retry is the caller's job.
//
// On a successful write every uncommitted event is published in raise order
// and the uncommitted list is cleared. A publish failure after the state
// write is a recognized failure mode: the state stays durable, the remaining
// events stay on the aggregate, and Save returns a TransportError. The
// design accepts at-least-once event delivery; downstream consumers must be
// idempotent on (aggregate id, event id).
//
// The saved instance is stale in memory afterwards (its version still holds
// the pre-save value). Reload through FindByID before the next mutation.
func (r *Repository[T]) Save(ctx context.Context, aggregate T) error {
	expected := aggregate.AggregateVersion()

	state, err := r.encode(aggregate)
	if err != nil {
		return fmt.Errorf("save %s %q: encode state: %w", r.aggregateType, aggregate.EntityID(), err)
	}

	snap := Snapshot{
		AggregateID:   aggregate.EntityID(),
		AggregateType: r.aggregateType,
		Version:       expected + 1,
		State:         state,
		UpdatedAt:     now(),
	}

	if err := r.store.Save(ctx, snap, expected); err != nil {
		return err
	}

	events := aggregate.UncommittedEvents()
	for i := range events {
		env := events[i]
		if env.CorrelationID == "" {
			env.CorrelationID = CorrelationIDFromContext(ctx)
		}
		if env.CausationID == "" {
			env.CausationID = CommandIDFromContext(ctx)
		}
		if env.TenantID == "" {
			env.TenantID = TenantIDFromContext(ctx)
		}

		publish := func() error {
			return r.bus.Publish(ctx, env)
		}
		if err := backoff.Retry(publish, backoff.WithContext(r.opts.PublishBackoff(), ctx)); err != nil {
			// State is already durable; the unpublished tail stays on the
			// aggregate so the caller can re-publish.
			aggregate.ClearUncommittedEvents()
			for _, rest := range events[i:] {
				aggregate.Raise(rest.Event, func(e *Envelope) { *e = rest })
			}
			return &TransportError{Op: "publish " + env.EventType, Err: err}
		}
	}

	aggregate.ClearUncommittedEvents()
	return nil
}

// Exists reports whether an aggregate with the given id has been saved.
func (r *Repository[T]) Exists(ctx context.Context, id string) (bool, error) {
	_, err := r.store.Load(ctx, r.aggregateType, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}
