// Package checkout orchestrates the checkout saga: it resolves the cart,
// prices its products, validates and deducts stock, creates the order and
// clears the cart, driving the whole flow with commands and observed events
// under a single correlation id.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	cqrs "github.com/commercekit/eventflow"
	"github.com/commercekit/eventflow/order"
	"github.com/commercekit/eventflow/product"
)

// Step is the saga's current position in the checkout flow.
type Step string

// Saga steps. Failed is reachable from every non-terminal step; Completed
// and Failed are terminal.
const (
	StepStarted                  Step = "started"
	StepAwaitingCartSnapshot     Step = "awaiting-cart-snapshot"
	StepAwaitingProductSnapshots Step = "awaiting-product-snapshots"
	StepAwaitingStockValidation  Step = "awaiting-stock-validation"
	StepAwaitingStockDeduction   Step = "awaiting-stock-deduction"
	StepAwaitingOrderCreation    Step = "awaiting-order-creation"
	StepAwaitingCartClear        Step = "awaiting-cart-clear"
	StepCompleted                Step = "completed"
	StepFailed                   Step = "failed"
)

// Terminal reports whether the step admits no further transitions.
func (s Step) Terminal() bool {
	return s == StepCompleted || s == StepFailed
}

// Instance is the persisted state of one checkout run, keyed by correlation
// id. It carries everything needed to resume after a process restart.
type Instance struct {
	CorrelationID  string                     `json:"correlationId"`
	OrderID        string                     `json:"orderId"`
	GuestToken     string                     `json:"guestToken"`
	IdempotencyKey string                     `json:"idempotencyKey"`
	Customer       order.CustomerInfo         `json:"customer"`
	Address        order.ShippingAddress      `json:"address"`
	Items          map[string]int             `json:"items,omitempty"`    // productID -> quantity
	Products       map[string]product.Details `json:"products,omitempty"` // productID -> details
	Pending        map[string]int             `json:"pending,omitempty"`  // deductions not yet confirmed
	Step           Step                       `json:"step"`
	FailureReason  string                     `json:"failureReason,omitempty"`
	StartedAt      time.Time                  `json:"startedAt"`
	UpdatedAt      time.Time                  `json:"updatedAt"`

	// Deadline is the integrator's extension point for expiring stalled
	// instances. The saga itself never times out.
	Deadline *time.Time `json:"deadline,omitempty"`
}

// InstanceStore persists saga instances keyed by correlation id, so a saga
// survives a restart of the orchestrating process.
type InstanceStore interface {
	// Load returns the instance for the correlation id or ErrNotFound.
	Load(ctx context.Context, correlationID string) (*Instance, error)

	// Save persists the instance, overwriting any previous state.
	Save(ctx context.Context, inst *Instance) error

	// Close releases resources held by the store.
	Close() error
}

// MemoryInstanceStore is an in-memory InstanceStore for tests and
// single-binary deployments.
type MemoryInstanceStore struct {
	mu        sync.RWMutex
	instances map[string][]byte
}

// NewMemoryInstanceStore creates an empty in-memory instance store.
func NewMemoryInstanceStore() *MemoryInstanceStore {
	return &MemoryInstanceStore{instances: make(map[string][]byte)}
}

// Load implements InstanceStore.Load.
func (s *MemoryInstanceStore) Load(ctx context.Context, correlationID string) (*Instance, error) {
	s.mu.RLock()
	raw, ok := s.instances[correlationID]
	s.mu.RUnlock()

	if !ok {
		return nil, cqrs.ErrNotFound
	}

	var inst Instance
	if err := json.Unmarshal(raw, &inst); err != nil {
		return nil, fmt.Errorf("decode saga instance %q: %w", correlationID, err)
	}
	return &inst, nil
}

// Save implements InstanceStore.Save. Instances are stored serialized so a
// caller mutating its copy after Save cannot corrupt the stored state.
func (s *MemoryInstanceStore) Save(ctx context.Context, inst *Instance) error {
	raw, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("encode saga instance %q: %w", inst.CorrelationID, err)
	}

	s.mu.Lock()
	s.instances[inst.CorrelationID] = raw
	s.mu.Unlock()
	return nil
}

// Close implements InstanceStore.Close.
func (s *MemoryInstanceStore) Close() error {
	s.mu.Lock()
	s.instances = make(map[string][]byte)
	s.mu.Unlock()
	return nil
}

// RedisInstanceStore is a Redis-backed InstanceStore. Terminal instances
// expire with the retention period; in-flight ones are refreshed on every
// save.
type RedisInstanceStore struct {
	client    *redis.Client
	keyPrefix string
	retention time.Duration
}

// NewRedisInstanceStore creates a Redis-backed instance store.
func NewRedisInstanceStore(client *redis.Client, retention time.Duration) *RedisInstanceStore {
	return &RedisInstanceStore{
		client:    client,
		keyPrefix: "checkout:saga:",
		retention: retention,
	}
}

// Load implements InstanceStore.Load.
func (s *RedisInstanceStore) Load(ctx context.Context, correlationID string) (*Instance, error) {
	raw, err := s.client.Get(ctx, s.keyPrefix+correlationID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cqrs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load saga instance %q: %w", correlationID, err)
	}

	var inst Instance
	if err := json.Unmarshal(raw, &inst); err != nil {
		return nil, fmt.Errorf("decode saga instance %q: %w", correlationID, err)
	}
	return &inst, nil
}

// Save implements InstanceStore.Save.
func (s *RedisInstanceStore) Save(ctx context.Context, inst *Instance) error {
	raw, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("encode saga instance %q: %w", inst.CorrelationID, err)
	}

	if err := s.client.Set(ctx, s.keyPrefix+inst.CorrelationID, raw, s.retention).Err(); err != nil {
		return fmt.Errorf("save saga instance %q: %w", inst.CorrelationID, err)
	}
	return nil
}

// Close implements InstanceStore.Close.
func (s *RedisInstanceStore) Close() error {
	return s.client.Close()
}
