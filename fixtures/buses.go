package fixtures

import (
	"context"
	"sync"

	es "github.com/commercekit/eventflow"
)

// EventBusSpy is a configurable mock EventBus for testing.
// It records published envelopes and subscriptions and allows injecting
// custom behavior and failures.
type EventBusSpy struct {
	mu sync.Mutex

	// Function overrides
	PublishFn   func(ctx context.Context, env es.Envelope) error
	SubscribeFn func(ctx context.Context, name string, handler es.EventHandler, options ...es.SubscriberOption) error
	CloseFn     func() error

	// Call tracking
	PublishCalls   int
	SubscribeCalls int
	CloseCalls     int

	// Captured data
	Published     []es.Envelope
	Subscriptions []Subscription

	// Error injection
	publishErr   error
	subscribeErr error
	errChan      chan error
	closed       bool
}

// Subscription captures details of a Subscribe call.
type Subscription struct {
	Name    string
	Handler es.EventHandler
}

// NewEventBusSpy creates a new EventBusSpy.
func NewEventBusSpy() *EventBusSpy {
	return &EventBusSpy{
		errChan: make(chan error, 10),
	}
}

// FailOnPublish configures the bus to return an error on Publish.
func (b *EventBusSpy) FailOnPublish(err error) *EventBusSpy {
	b.publishErr = err
	return b
}

// FailOnSubscribe configures the bus to return an error on Subscribe.
func (b *EventBusSpy) FailOnSubscribe(err error) *EventBusSpy {
	b.subscribeErr = err
	return b
}

// Publish implements EventBus.Publish.
func (b *EventBusSpy) Publish(ctx context.Context, env es.Envelope) error {
	b.mu.Lock()
	b.PublishCalls++
	if b.publishErr == nil {
		b.Published = append(b.Published, env)
	}
	b.mu.Unlock()

	if b.PublishFn != nil {
		return b.PublishFn(ctx, env)
	}
	return b.publishErr
}

// Subscribe implements EventBus.Subscribe.
func (b *EventBusSpy) Subscribe(ctx context.Context, name string, handler es.EventHandler, options ...es.SubscriberOption) error {
	b.mu.Lock()
	b.SubscribeCalls++
	b.Subscriptions = append(b.Subscriptions, Subscription{
		Name:    name,
		Handler: handler,
	})
	b.mu.Unlock()

	if b.SubscribeFn != nil {
		return b.SubscribeFn(ctx, name, handler, options...)
	}
	return b.subscribeErr
}

// Errors implements EventBus.Errors.
func (b *EventBusSpy) Errors() <-chan error {
	return b.errChan
}

// Close implements EventBus.Close.
func (b *EventBusSpy) Close() error {
	b.mu.Lock()
	b.CloseCalls++
	if !b.closed {
		b.closed = true
		close(b.errChan)
	}
	b.mu.Unlock()

	if b.CloseFn != nil {
		return b.CloseFn()
	}
	return nil
}

// PublishedTypes returns the event types published so far, in order.
func (b *EventBusSpy) PublishedTypes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, len(b.Published))
	for _, env := range b.Published {
		out = append(out, env.EventType)
	}
	return out
}

// Deliver routes an envelope to every recorded subscription, simulating
// broker fan-out. ErrSkippedEvent returns are ignored.
func (b *EventBusSpy) Deliver(ctx context.Context, env es.Envelope) error {
	b.mu.Lock()
	subs := append([]Subscription(nil), b.Subscriptions...)
	b.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Handler.Handle(ctx, env); err != nil {
			if _, skipped := err.(*es.ErrSkippedEvent); skipped {
				continue
			}
			return err
		}
	}
	return nil
}

// HasSubscription checks if a subscription with the given name exists.
func (b *EventBusSpy) HasSubscription(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.Subscriptions {
		if sub.Name == name {
			return true
		}
	}
	return false
}

// CommandBusSpy is a configurable mock CommandBus for testing.
// It records every published command per queue.
type CommandBusSpy struct {
	mu sync.Mutex

	// Function overrides
	PublishFn func(ctx context.Context, queue string, env es.CommandEnvelope) error

	// Call tracking
	PublishCalls int

	// Captured data
	Published  map[string][]es.CommandEnvelope // queue -> envelopes
	Processors map[string]es.CommandProcessor  // queue -> processor

	delivered  map[string]int // queue -> count handed to its processor
	publishErr error
	errChan    chan error
	closed     bool
}

// NewCommandBusSpy creates a new CommandBusSpy.
func NewCommandBusSpy() *CommandBusSpy {
	return &CommandBusSpy{
		Published:  make(map[string][]es.CommandEnvelope),
		Processors: make(map[string]es.CommandProcessor),
		delivered:  make(map[string]int),
		errChan:    make(chan error, 10),
	}
}

// FailOnPublish configures the bus to return an error on Publish.
func (b *CommandBusSpy) FailOnPublish(err error) *CommandBusSpy {
	b.publishErr = err
	return b
}

// Publish implements CommandBus.Publish.
func (b *CommandBusSpy) Publish(ctx context.Context, queue string, env es.CommandEnvelope) error {
	b.mu.Lock()
	b.PublishCalls++
	if b.publishErr == nil {
		b.Published[queue] = append(b.Published[queue], env)
	}
	b.mu.Unlock()

	if b.PublishFn != nil {
		return b.PublishFn(ctx, queue, env)
	}
	return b.publishErr
}

// Subscribe implements CommandBus.Subscribe.
func (b *CommandBusSpy) Subscribe(ctx context.Context, queue string, processor es.CommandProcessor, options ...es.SubscriberOption) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Processors[queue] = processor
	return nil
}

// Errors implements CommandBus.Errors.
func (b *CommandBusSpy) Errors() <-chan error {
	return b.errChan
}

// Close implements CommandBus.Close.
func (b *CommandBusSpy) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.errChan)
	}
	return nil
}

// LastPublished returns the most recent envelope published to the queue, or
// false when the queue saw no traffic.
func (b *CommandBusSpy) LastPublished(queue string) (es.CommandEnvelope, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	envs := b.Published[queue]
	if len(envs) == 0 {
		return es.CommandEnvelope{}, false
	}
	return envs[len(envs)-1], true
}

// Dispatch routes every published-but-undelivered command to the processor
// subscribed on its queue, draining the spy. Each envelope is delivered at
// most once across all Dispatch calls; the loop runs until the processors
// stop publishing new commands, which lets tests drive a full saga
// conversation in one call.
func (b *CommandBusSpy) Dispatch(ctx context.Context) error {
	for {
		progressed := false

		b.mu.Lock()
		pending := make(map[string][]es.CommandEnvelope)
		for queue, envs := range b.Published {
			if b.delivered[queue] < len(envs) {
				pending[queue] = append([]es.CommandEnvelope(nil), envs[b.delivered[queue]:]...)
				b.delivered[queue] = len(envs)
			}
		}
		b.mu.Unlock()

		for queue, envs := range pending {
			proc := b.Processors[queue]
			if proc == nil {
				continue
			}
			for _, env := range envs {
				if err := proc.Process(ctx, env); err != nil {
					if _, skipped := err.(*es.ErrSkippedCommand); skipped {
						continue
					}
					return err
				}
				progressed = true
			}
		}

		if !progressed {
			return nil
		}
	}
}
