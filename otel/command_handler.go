package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	cqrs "github.com/commercekit/eventflow"
)

// WithCommandTelemetry wraps a CommandHandler with OpenTelemetry tracing and
// metrics.
//
// Each execution opens an internal span named after the command type,
// tracks in-flight and duration metrics, and classifies the outcome:
// concurrency conflicts and business rule violations are recorded as span
// events with an Ok status (the operation itself executed), while transport
// and unexpected failures mark the span as errored.
func WithCommandTelemetry[C cqrs.Command](next cqrs.CommandHandler[C]) cqrs.CommandHandler[C] {
	var zero C
	commandType := fmt.Sprintf("%T", zero)

	return func(ctx context.Context, cmd C) error {
		attr := []trace.SpanStartOption{
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(
				AttrCommandType.String(commandType),
				AttrAggregateID.String(cmd.AggregateID()),
				AttrCommandID.String(cqrs.CommandIDFromContext(ctx)),
				AttrCorrelationID.String(cqrs.CorrelationIDFromContext(ctx)),
			),
		}

		ctx, span := tracer.Start(ctx, fmt.Sprintf("command.handle %s", commandType), attr...)
		defer span.End()

		CommandsInFlight.Add(ctx, 1, metric.WithAttributes(AttrCommandType.String(commandType)))
		defer CommandsInFlight.Add(ctx, -1, metric.WithAttributes(AttrCommandType.String(commandType)))

		startTime := time.Now()
		err := next(ctx, cmd)

		CommandsDuration.Record(ctx, float64(time.Since(startTime).Milliseconds()), metric.WithAttributes(AttrCommandType.String(commandType)))

		if err != nil {
			var conflict *cqrs.ConcurrencyConflictError
			if errors.As(err, &conflict) {
				ConcurrencyConflicts.Add(ctx, 1, metric.WithAttributes(AttrCommandType.String(commandType)))
				// Span is still considered successful (operation executed)
				span.SetStatus(codes.Ok, "concurrency conflict")
				span.AddEvent("concurrency_conflict", trace.WithAttributes(
					AttrAggregateID.String(conflict.AggregateID),
				))
				CommandsFailed.Add(ctx, 1, metric.WithAttributes(AttrCommandType.String(commandType)))
				return err
			}

			var rule *cqrs.BusinessRuleError
			if errors.As(err, &rule) {
				span.SetStatus(codes.Ok, fmt.Sprintf("business rule violation: %v", err))
				span.AddEvent("business_rule_violation", trace.WithAttributes(
					AttrCommandType.String(commandType),
					AttrAggregateID.String(cmd.AggregateID()),
					AttrErrorType.String(rule.Code),
				))
				CommandsFailed.Add(ctx, 1, metric.WithAttributes(AttrCommandType.String(commandType)))
				return err
			}

			// Real system error
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
			CommandsFailed.Add(ctx, 1, metric.WithAttributes(AttrCommandType.String(commandType)))
			return err
		}

		span.SetStatus(codes.Ok, "")
		CommandsHandled.Add(ctx, 1, metric.WithAttributes(AttrCommandType.String(commandType)))

		return nil
	}
}
