// Package memory provides in-process transports implementing the eventflow
// bus contracts. They are used by tests and single-binary deployments; the
// delivery semantics mirror the broker-backed transports, including
// dead-lettering, so handler code behaves identically on either.
package memory

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	cqrs "github.com/commercekit/eventflow"
)

type subscriber struct {
	name    string
	filter  func(cqrs.Envelope) bool
	handler cqrs.EventHandler
	events  chan cqrs.Envelope
	cancel  context.CancelFunc
}

type eventBus struct {
	mu         sync.RWMutex
	subs       map[string]*subscriber
	closed     bool
	errs       chan error
	dead       chan cqrs.DeadLetter
	wg         sync.WaitGroup
	bufferSize int
}

// NewEventBus constructs an in-memory event bus with a given subscriber
// buffer size. Publishing fans out to every subscriber whose filter matches;
// a handler failure moves the message to the dead-letter channel and
// consumption continues.
func NewEventBus(bufferSize int) cqrs.EventBus {
	return &eventBus{
		subs:       make(map[string]*subscriber),
		errs:       make(chan error, 64),
		dead:       make(chan cqrs.DeadLetter, 64),
		bufferSize: bufferSize,
	}
}

type eventSubscriberConfig struct {
	eventTypes map[string]struct{}
}

// WithEventTypes restricts a subscription to the named event types. Without
// it the subscriber receives every published event.
func WithEventTypes(names ...string) cqrs.SubscriberOption {
	return func(cfg any) {
		c, ok := cfg.(*eventSubscriberConfig)
		if !ok {
			panic(fmt.Sprintf("WithEventTypes: expected *eventSubscriberConfig, got %T", cfg))
		}
		if c.eventTypes == nil {
			c.eventTypes = make(map[string]struct{}, len(names))
		}
		for _, n := range names {
			c.eventTypes[n] = struct{}{}
		}
	}
}

// Subscribe registers a handler under a unique name.
func (b *eventBus) Subscribe(ctx context.Context, name string, handler cqrs.EventHandler, opts ...cqrs.SubscriberOption) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	cfg := &eventSubscriberConfig{}
	for _, o := range opts {
		o(cfg)
	}

	filter := func(cqrs.Envelope) bool { return true }
	if cfg.eventTypes != nil {
		types := cfg.eventTypes
		filter = func(env cqrs.Envelope) bool {
			_, ok := types[env.EventType]
			return ok
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New("eventbus is closed")
	}

	if _, exists := b.subs[name]; exists {
		return fmt.Errorf("handler with name %q already registered", name)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	s := &subscriber{
		name:    name,
		filter:  filter,
		handler: handler,
		events:  make(chan cqrs.Envelope, b.bufferSize),
		cancel:  cancel,
	}

	b.subs[name] = s

	// Start worker
	b.wg.Add(1)
	go b.runSubscriber(workerCtx, s)

	// Automatically remove when the caller's ctx finishes
	go func() {
		<-ctx.Done()
		b.removeSubscriber(name)
	}()

	return nil
}

// Publish sends the envelope to all matching subscribers. It returns once
// the message is accepted into every matching subscriber queue; processing
// is asynchronous.
func (b *eventBus) Publish(ctx context.Context, env cqrs.Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return &cqrs.TransportError{Op: "publish event", Err: errors.New("eventbus is closed")}
	}

	for _, s := range b.subs {
		if !s.filter(env) {
			continue
		}
		select {
		case s.events <- env:
		case <-ctx.Done():
			return &cqrs.TransportError{Op: "publish event", Err: ctx.Err()}
		}
	}
	return nil
}

func (b *eventBus) Errors() <-chan error {
	return b.errs
}

// DeadLetters exposes the dead-letter channel for inspection in tests and
// for draining by a supervising process.
func (b *eventBus) DeadLetters() <-chan cqrs.DeadLetter {
	return b.dead
}

// Close shuts down the bus and waits for all workers.
func (b *eventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	for name, s := range b.subs {
		s.cancel()
		close(s.events)
		delete(b.subs, name)
	}
	b.mu.Unlock()

	b.wg.Wait()

	close(b.errs)
	close(b.dead)

	return nil
}

// runSubscriber processes events for a single handler.
func (b *eventBus) runSubscriber(ctx context.Context, s *subscriber) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case env, ok := <-s.events:
			if !ok {
				return
			}

			err := s.handler.Handle(ctx, env)
			if err == nil {
				continue
			}

			var skipped *cqrs.ErrSkippedEvent
			if errors.As(err, &skipped) {
				// Wrong type for this handler; not a failure.
				continue
			}

			b.deadLetter(s.name, env, err)

			select {
			case b.errs <- fmt.Errorf("handler %q: %w", s.name, err):
			default:
				// Drop error if channel full
			}
		}
	}
}

func (b *eventBus) deadLetter(source string, env cqrs.Envelope, cause error) {
	body, err := cqrs.MarshalEnvelope(env)
	if err != nil {
		body = []byte(fmt.Sprintf("%+v", env))
	}

	dl := cqrs.DeadLetter{
		Source: source,
		Reason: cause.Error(),
		Headers: map[string]string{
			cqrs.HeaderEventType:     env.EventType,
			cqrs.HeaderAggregateType: env.AggregateType,
			cqrs.HeaderCorrelationID: env.CorrelationID,
			cqrs.HeaderCausationID:   env.CausationID,
		},
		Body:     body,
		MovedAt:  env.OccurredAt,
		Attempts: 1,
	}

	select {
	case b.dead <- dl:
	default:
		// Dead-letter channel full; the error channel still carries the cause.
	}
}

func (b *eventBus) removeSubscriber(name string) {
	b.mu.Lock()
	s, ok := b.subs[name]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.subs, name)
	b.mu.Unlock()

	s.cancel()
	close(s.events)
}

// queuedCommand is a command in flight on a queue shard, together with the
// channel the publisher waits on for the enqueue acknowledgment.
type queuedCommand struct {
	ctx context.Context
	env cqrs.CommandEnvelope
}

type commandQueue struct {
	name       string
	processor  cqrs.CommandProcessor
	shards     []chan queuedCommand
	shardCount int
}

// commandBus is the in-memory command transport. Each queue runs a fixed set
// of shard workers; commands are sharded by aggregate id so that commands
// touching the same aggregate are handled in arrival order while distinct
// aggregates proceed concurrently.
type commandBus struct {
	mu         sync.RWMutex
	queues     map[string]*commandQueue
	errs       chan error
	dead       chan cqrs.DeadLetter
	closed     bool
	wg         sync.WaitGroup
	bufferSize int
	shardCount int
}

// NewCommandBus creates an in-memory command bus.
//
// Parameters:
//   - bufferSize: capacity of each shard queue.
//   - shardCount: number of concurrent workers per subscribed queue.
func NewCommandBus(bufferSize int, shardCount int) cqrs.CommandBus {
	if shardCount <= 0 {
		shardCount = 1
	}
	return &commandBus{
		queues:     make(map[string]*commandQueue),
		errs:       make(chan error, 64),
		dead:       make(chan cqrs.DeadLetter, 64),
		bufferSize: bufferSize,
		shardCount: shardCount,
	}
}

// Publish delivers the envelope to the named queue. It returns once the
// message is accepted into the shard queue — receipt, not processing.
// Publishing to a queue nobody subscribed to fails immediately; the caller
// decides retry and backoff.
func (b *commandBus) Publish(ctx context.Context, queue string, env cqrs.CommandEnvelope) error {
	b.mu.RLock()
	q, ok := b.queues[queue]
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return &cqrs.TransportError{Op: "publish command", Err: errors.New("command bus is closed")}
	}
	if !ok {
		return &cqrs.TransportError{Op: "publish command", Err: fmt.Errorf("no consumer for queue %q", queue)}
	}

	shard := q.shardFor(env.Command.AggregateID())

	select {
	case q.shards[shard] <- queuedCommand{ctx: ctx, env: env}:
		return nil
	case <-ctx.Done():
		return &cqrs.TransportError{Op: "publish command", Err: ctx.Err()}
	}
}

// Subscribe attaches the processor to the named queue and starts its shard
// workers.
func (b *commandBus) Subscribe(ctx context.Context, queue string, processor cqrs.CommandProcessor, _ ...cqrs.SubscriberOption) error {
	if processor == nil {
		return errors.New("processor cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New("command bus is closed")
	}
	if _, exists := b.queues[queue]; exists {
		return fmt.Errorf("queue %q already has a consumer", queue)
	}

	q := &commandQueue{
		name:       queue,
		processor:  processor,
		shards:     make([]chan queuedCommand, b.shardCount),
		shardCount: b.shardCount,
	}
	for i := 0; i < b.shardCount; i++ {
		q.shards[i] = make(chan queuedCommand, b.bufferSize)
		b.wg.Add(1)
		go b.runShard(q, q.shards[i])
	}

	b.queues[queue] = q
	return nil
}

// runShard processes commands from a single shard queue. A processor failure
// or panic moves the command to dead-letter; the shard keeps consuming.
func (b *commandBus) runShard(q *commandQueue, shard chan queuedCommand) {
	defer b.wg.Done()

	for cmd := range shard {
		err := b.process(q, cmd)
		if err == nil {
			continue
		}

		b.deadLetterCommand(q.name, cmd.env, err)

		select {
		case b.errs <- fmt.Errorf("queue %q: %w", q.name, err):
		default:
		}
	}
}

func (b *commandBus) process(q *commandQueue, cmd queuedCommand) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in processor: %v", r)
		}
	}()
	return q.processor.Process(cmd.ctx, cmd.env)
}

func (b *commandBus) deadLetterCommand(queue string, env cqrs.CommandEnvelope, cause error) {
	body, err := cqrs.MarshalCommandEnvelope(env)
	if err != nil {
		body = []byte(fmt.Sprintf("%+v", env))
	}

	dl := cqrs.DeadLetter{
		Source: queue,
		Reason: cause.Error(),
		Headers: map[string]string{
			cqrs.HeaderCommandType:   env.Command.CommandType(),
			cqrs.HeaderCorrelationID: env.CorrelationID,
			cqrs.HeaderCausationID:   env.CausationID,
		},
		Body:     body,
		MovedAt:  env.OccurredAt,
		Attempts: 1,
	}

	select {
	case b.dead <- dl:
	default:
	}
}

func (b *commandBus) Errors() <-chan error {
	return b.errs
}

// DeadLetters exposes the dead-letter channel.
func (b *commandBus) DeadLetters() <-chan cqrs.DeadLetter {
	return b.dead
}

// Close shuts down the bus and waits for in-flight commands to finish.
func (b *commandBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	for _, q := range b.queues {
		for _, shard := range q.shards {
			close(shard)
		}
	}
	b.mu.Unlock()

	b.wg.Wait()

	close(b.errs)
	close(b.dead)
	return nil
}

func (q *commandQueue) shardFor(aggregateID string) int {
	hash := fnv.New32a()
	hash.Write([]byte(aggregateID))
	return int(hash.Sum32()) % q.shardCount
}
