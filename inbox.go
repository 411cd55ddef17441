package eventflow

import (
	"context"
	"fmt"
)

// Inbox records command ids a consumer has fully processed. It backs the
// at-most-once side-effect guarantee for commands under at-least-once
// delivery: a redelivered command id is acknowledged without re-running the
// handler.
type Inbox interface {
	// Seen reports whether the consumer already processed the command id.
	Seen(ctx context.Context, consumer, commandID string) (bool, error)

	// Mark records the command id as processed for the consumer.
	Mark(ctx context.Context, consumer, commandID string) error

	// Close releases resources held by the inbox.
	Close() error
}

// WithIdempotency wraps a CommandProcessor so each command id takes effect at
// most once per consumer. The id is marked only after the processor succeeds;
// a crash between effect and mark re-runs the handler, which is the
// at-least-once trade-off the rest of the system already assumes.
func WithIdempotency(inbox Inbox, consumer string, next CommandProcessor) CommandProcessor {
	return NewCommandProcessorFunc(func(ctx context.Context, env CommandEnvelope) error {
		seen, err := inbox.Seen(ctx, consumer, env.CommandID)
		if err != nil {
			return fmt.Errorf("inbox lookup for %q: %w", env.CommandID, err)
		}
		if seen {
			return nil
		}

		if err := next.Process(ctx, env); err != nil {
			return err
		}

		if err := inbox.Mark(ctx, consumer, env.CommandID); err != nil {
			return fmt.Errorf("inbox mark for %q: %w", env.CommandID, err)
		}
		return nil
	})
}
