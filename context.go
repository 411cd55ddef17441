package eventflow

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ctxKey string

// Define constants for context keys
const (
	aggregateIDKey   ctxKey = "aggregateID"
	aggregateTypeKey ctxKey = "aggregateType"
	eventIDKey       ctxKey = "eventID"
	commandIDKey     ctxKey = "commandID"
	correlationIDKey ctxKey = "correlationID"
	causationIDKey   ctxKey = "causationID"
	tenantIDKey      ctxKey = "tenantID"
	occurredAtKey    ctxKey = "occurredAt"
)

// WithEnvelope adds the metadata of an event envelope to the context. Typed
// handlers receive a context decorated this way, so logging and tracing
// decorators can correlate without access to the envelope itself.
func WithEnvelope(ctx context.Context, env *Envelope) context.Context {
	ctx = context.WithValue(ctx, aggregateIDKey, env.AggregateID)
	ctx = context.WithValue(ctx, aggregateTypeKey, env.AggregateType)
	ctx = context.WithValue(ctx, eventIDKey, env.EventID)
	ctx = context.WithValue(ctx, correlationIDKey, env.CorrelationID)
	ctx = context.WithValue(ctx, causationIDKey, env.CausationID)
	ctx = context.WithValue(ctx, tenantIDKey, env.TenantID)
	ctx = context.WithValue(ctx, occurredAtKey, env.OccurredAt)
	return ctx
}

// WithCommandEnvelope adds the metadata of a command envelope to the context.
func WithCommandEnvelope(ctx context.Context, env *CommandEnvelope) context.Context {
	ctx = context.WithValue(ctx, aggregateIDKey, env.Command.AggregateID())
	ctx = context.WithValue(ctx, commandIDKey, env.CommandID)
	ctx = context.WithValue(ctx, correlationIDKey, env.CorrelationID)
	ctx = context.WithValue(ctx, causationIDKey, env.CausationID)
	ctx = context.WithValue(ctx, tenantIDKey, env.TenantID)
	ctx = context.WithValue(ctx, occurredAtKey, env.OccurredAt)
	return ctx
}

// AggregateIDFromContext returns the aggregate id or "" if not present.
func AggregateIDFromContext(ctx context.Context) string {
	if v := ctx.Value(aggregateIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// AggregateTypeFromContext returns the aggregate type or "" if not present.
func AggregateTypeFromContext(ctx context.Context) string {
	if v := ctx.Value(aggregateTypeKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// EventIDFromContext returns the event id or uuid.Nil if not present.
func EventIDFromContext(ctx context.Context) uuid.UUID {
	if v := ctx.Value(eventIDKey); v != nil {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}

// CommandIDFromContext returns the command id or "" if not present.
func CommandIDFromContext(ctx context.Context) string {
	if v := ctx.Value(commandIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// CorrelationIDFromContext returns the correlation id or "" if not present.
func CorrelationIDFromContext(ctx context.Context) string {
	if v := ctx.Value(correlationIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// CausationFromContext returns the causation id or "" if not present.
func CausationFromContext(ctx context.Context) string {
	if v := ctx.Value(causationIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// TenantIDFromContext returns the tenant id or "" if not present.
func TenantIDFromContext(ctx context.Context) string {
	if v := ctx.Value(tenantIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// OccurredAtFromContext returns the message timestamp or the zero time.
func OccurredAtFromContext(ctx context.Context) time.Time {
	if v := ctx.Value(occurredAtKey); v != nil {
		if t, ok := v.(time.Time); ok {
			return t
		}
	}
	return time.Time{}
}
