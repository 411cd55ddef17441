package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	cqrs "github.com/commercekit/eventflow"
)

const (
	instrumentationName = "github.com/commercekit/eventflow"
)

// Semantic attribute keys following OpenTelemetry conventions
const (
	// Command attributes
	AttrCommandType = attribute.Key("eventflow.command.type")
	AttrCommandID   = attribute.Key("eventflow.command.id")
	AttrAggregateID = attribute.Key("eventflow.aggregate.id")

	// Event attributes
	AttrEventType     = attribute.Key("eventflow.event.type")
	AttrEventID       = attribute.Key("eventflow.event.id")
	AttrAggregateType = attribute.Key("eventflow.aggregate.type")
	AttrCorrelationID = attribute.Key("eventflow.correlation.id")

	// Error attributes
	AttrErrorType  = attribute.Key("eventflow.error.type")
	AttrRetryCount = attribute.Key("eventflow.retry.count")
)

var (
	meter  = otel.Meter(instrumentationName, metric.WithInstrumentationVersion(cqrs.InstrumentationVersion))
	tracer = otel.Tracer(instrumentationName, trace.WithInstrumentationVersion(cqrs.InstrumentationVersion))

	// Command metrics
	CommandsHandled, _ = meter.Int64Counter(
		"eventflow.commands.handled",
		metric.WithDescription("Total number of commands handled"),
		metric.WithUnit("{command}"),
	)

	CommandsDuration, _ = meter.Float64Histogram(
		"eventflow.commands.duration",
		metric.WithDescription("Command handling duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000),
	)

	CommandsInFlight, _ = meter.Int64UpDownCounter(
		"eventflow.commands.in_flight",
		metric.WithDescription("Number of commands currently being processed"),
		metric.WithUnit("{command}"),
	)

	CommandsFailed, _ = meter.Int64Counter(
		"eventflow.commands.failed",
		metric.WithDescription("Number of failed commands"),
		metric.WithUnit("{command}"),
	)

	// EventBus metrics
	EventBusHandled, _ = meter.Int64Counter(
		"eventflow.eventbus.handled",
		metric.WithDescription("Number of events handled by subscribers"),
		metric.WithUnit("{event}"),
	)

	EventBusDuration, _ = meter.Float64Histogram(
		"eventflow.eventbus.duration",
		metric.WithDescription("Event bus handler duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)

	// System metrics
	ConcurrencyConflicts, _ = meter.Int64Counter(
		"eventflow.concurrency.conflicts",
		metric.WithDescription("Number of concurrency conflicts"),
		metric.WithUnit("{conflict}"),
	)
)
