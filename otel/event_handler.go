package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	cqrs "github.com/commercekit/eventflow"
)

// WithEventTelemetry wraps an EventHandler with OpenTelemetry tracing and
// metrics. Skipped events keep an Ok span status.
func WithEventTelemetry(next cqrs.EventHandler) cqrs.EventHandler {

	return cqrs.NewEventHandlerFunc(func(ctx context.Context, env cqrs.Envelope) error {

		attr := []attribute.KeyValue{
			AttrEventType.String(env.EventType),
			AttrEventID.String(env.EventID.String()),
			AttrAggregateID.String(env.AggregateID),
			AttrAggregateType.String(env.AggregateType),
			AttrCorrelationID.String(env.CorrelationID),
		}

		ctx, span := tracer.Start(ctx, fmt.Sprintf("events.handle %s", env.EventType),
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(attr...),
		)
		defer span.End()

		startTime := time.Now()
		err := next.Handle(ctx, env)

		EventBusHandled.Add(ctx, 1, metric.WithAttributes(AttrEventType.String(env.EventType)))
		EventBusDuration.Record(ctx,
			float64(time.Since(startTime).Milliseconds()),
			metric.WithAttributes(AttrEventType.String(env.EventType)),
		)

		if err != nil {
			var skipped *cqrs.ErrSkippedEvent
			if errors.As(err, &skipped) {
				span.SetStatus(codes.Ok, "event skipped")
			} else {
				span.SetStatus(codes.Error, err.Error())
				span.RecordError(err)
			}
			return err
		}
		span.SetStatus(codes.Ok, "")
		return nil
	})
}
