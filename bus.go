package eventflow

import (
	"context"
	"time"
)

// SubscriberOption configures a subscription on a transport.
type SubscriberOption func(cfg any)

// EventBus transports domain events between processes. Publishing fans out to
// every subscriber interested in the event type (topic semantics). Delivery
// is at-least-once: consumers must be idempotent with respect to
// (aggregate id, event id), treating re-delivery of an applied event as a
// no-op.
//
// No ordering is guaranteed across different aggregate instances. Ordering
// within a single aggregate's stream is the producer's responsibility and is
// preserved by publishing in raise order.
type EventBus interface {
	// Publish sends an event envelope to all current subscribers of its
	// event type. It returns once the transport has acknowledged receipt,
	// not processing.
	Publish(ctx context.Context, env Envelope) error

	// Subscribe adds a handler under a unique subscription name. Returns an
	// error if the handler is nil, the name is already taken, or the
	// transport could not set up the subscription.
	Subscribe(ctx context.Context, name string, handler EventHandler, options ...SubscriberOption) error

	// Errors returns an error channel where async handling errors are sent.
	Errors() <-chan error

	// Close closes the bus and waits for all handlers to finish.
	Close() error
}

// CommandBus transports commands to bounded contexts. Each command is
// delivered to exactly the queue it was published to; one queue per bounded
// context.
type CommandBus interface {
	// Publish sends a command envelope to the named queue. It returns once
	// the transport has acknowledged receipt of the message, not its
	// processing.
	Publish(ctx context.Context, queue string, env CommandEnvelope) error

	// Subscribe attaches a handler to a queue. A queue has at most one
	// handler per process; commands for the same aggregate id are handled
	// in arrival order.
	Subscribe(ctx context.Context, queue string, handler CommandProcessor, options ...SubscriberOption) error

	// Errors returns an error channel where async handling errors are sent.
	Errors() <-chan error

	// Close closes the bus and waits for in-flight commands to finish.
	Close() error
}

// CommandProcessor handles a consumed command envelope. A failure routes the
// message to dead-letter; it is not requeued indefinitely.
type CommandProcessor interface {
	Process(ctx context.Context, env CommandEnvelope) error
}

// NewCommandProcessorFunc creates a CommandProcessor from a plain function.
func NewCommandProcessorFunc(fn func(ctx context.Context, env CommandEnvelope) error) CommandProcessor {
	return commandProcessorFunc(fn)
}

type commandProcessorFunc func(ctx context.Context, env CommandEnvelope) error

func (f commandProcessorFunc) Process(ctx context.Context, env CommandEnvelope) error {
	return f(ctx, env)
}

// DeadLetter records a message that a consumer could not process, together
// with the reason. Dead-lettering keeps a poison message from blocking the
// queue it arrived on.
type DeadLetter struct {
	Source   string
	Reason   string
	Headers  map[string]string
	Body     []byte
	MovedAt  time.Time
	Attempts int
}
