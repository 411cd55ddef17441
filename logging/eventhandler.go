package logging

import (
	"context"
	"errors"
	"log/slog"

	cqrs "github.com/commercekit/eventflow"
)

// WithLoggingMiddleware wraps an EventHandler so every processed envelope is
// logged with its correlation metadata from the context carriers.
func WithLoggingMiddleware(logger *slog.Logger, next cqrs.EventHandler) cqrs.EventHandler {
	return cqrs.NewEventHandlerFunc(func(ctx context.Context, env cqrs.Envelope) error {
		l := logger.With(
			"event-type", env.EventType,
			"event-id", env.EventID.String(),
			"correlation", env.CorrelationID,
			"causation", env.CausationID,
			"aggregateId", env.AggregateID,
		)

		l.DebugContext(ctx, "event processing started")

		err := next.Handle(ctx, env)

		var skipped *cqrs.ErrSkippedEvent
		if errors.As(err, &skipped) {
			l.DebugContext(ctx, "event skipped")
		} else if err != nil {
			l.ErrorContext(ctx, "error processing event", "error", err)
		} else {
			l.DebugContext(ctx, "event processed successfully")
		}

		return err
	})
}
