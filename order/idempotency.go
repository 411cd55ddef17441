package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	cqrs "github.com/commercekit/eventflow"
)

// IdempotencyIndex maps idempotency keys to the order id they produced. A
// key is claimed exactly once; replays of the same key find the original
// order id instead of creating a second order.
type IdempotencyIndex interface {
	// Get returns the order id recorded for the key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Put records the order id for the key. Re-putting the same pair is a
	// no-op; putting a different order id for a held key is an error.
	Put(ctx context.Context, key, orderID string) error

	// Close releases resources held by the index.
	Close() error
}

// MemoryIdempotencyIndex is an in-memory IdempotencyIndex.
type MemoryIdempotencyIndex struct {
	mu     sync.Mutex
	orders map[string]string // key -> orderID
}

// NewMemoryIdempotencyIndex creates an empty in-memory index.
func NewMemoryIdempotencyIndex() *MemoryIdempotencyIndex {
	return &MemoryIdempotencyIndex{orders: make(map[string]string)}
}

// Get implements IdempotencyIndex.Get.
func (i *MemoryIdempotencyIndex) Get(ctx context.Context, key string) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	orderID, ok := i.orders[key]
	if !ok {
		return "", cqrs.ErrNotFound
	}
	return orderID, nil
}

// Put implements IdempotencyIndex.Put.
func (i *MemoryIdempotencyIndex) Put(ctx context.Context, key, orderID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if existing, ok := i.orders[key]; ok && existing != orderID {
		return fmt.Errorf("idempotency key %q already bound to order %q", key, existing)
	}
	i.orders[key] = orderID
	return nil
}

// Close implements IdempotencyIndex.Close.
func (i *MemoryIdempotencyIndex) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.orders = make(map[string]string)
	return nil
}

// RedisIdempotencyIndex is a Redis-backed IdempotencyIndex. Entries expire
// after the retention period; a key is only meaningful while its request can
// still be retried.
type RedisIdempotencyIndex struct {
	client    *redis.Client
	keyPrefix string
	retention time.Duration
}

// NewRedisIdempotencyIndex creates a Redis-backed index.
func NewRedisIdempotencyIndex(client *redis.Client, retention time.Duration) *RedisIdempotencyIndex {
	return &RedisIdempotencyIndex{
		client:    client,
		keyPrefix: "order:idempotency:",
		retention: retention,
	}
}

// Get implements IdempotencyIndex.Get.
func (i *RedisIdempotencyIndex) Get(ctx context.Context, key string) (string, error) {
	orderID, err := i.client.Get(ctx, i.keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", cqrs.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("idempotency lookup %q: %w", key, err)
	}
	return orderID, nil
}

// Put implements IdempotencyIndex.Put. SETNX keeps the first writer's order
// id under concurrent claims of the same key.
func (i *RedisIdempotencyIndex) Put(ctx context.Context, key, orderID string) error {
	set, err := i.client.SetNX(ctx, i.keyPrefix+key, orderID, i.retention).Result()
	if err != nil {
		return fmt.Errorf("idempotency claim %q: %w", key, err)
	}
	if set {
		return nil
	}

	existing, err := i.Get(ctx, key)
	if err != nil {
		return err
	}
	if existing != orderID {
		return fmt.Errorf("idempotency key %q already bound to order %q", key, existing)
	}
	return nil
}

// Close implements IdempotencyIndex.Close.
func (i *RedisIdempotencyIndex) Close() error {
	return i.client.Close()
}
