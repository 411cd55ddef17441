package eventflow

import (
	"time"

	"github.com/google/uuid"
)

var now = time.Now

// Event is a domain event describing a change that has happened to an aggregate.
// Events are immutable facts: once raised they must never be mutated.
type Event interface {
	AggregateID() string
	AggregateType() string
	EventType() string
}

// Envelope wraps an Event with the cross-cutting metadata carried on the wire:
// identity, routing tags, correlation and causation, and the moment the fact
// occurred. The bus never inspects the event body, only the envelope.
type Envelope struct {
	EventID       uuid.UUID
	AggregateID   string
	AggregateType string
	EventType     string
	CorrelationID string
	CausationID   string
	TenantID      string
	OccurredAt    time.Time
	Event         Event
}

// EventOption mutates an Envelope at raise time.
type EventOption func(env *Envelope)

// WithCorrelationID stamps the envelope with the saga/request correlation id.
func WithCorrelationID(id string) EventOption {
	return func(env *Envelope) { env.CorrelationID = id }
}

// WithCausationID records the command or event that triggered this one.
func WithCausationID(id string) EventOption {
	return func(env *Envelope) { env.CausationID = id }
}

// WithTenantID attaches an optional tenant id for multi-tenant routing.
func WithTenantID(id string) EventOption {
	return func(env *Envelope) { env.TenantID = id }
}

// NewEnvelope wraps an event, assigning a fresh event id and timestamp.
// The routing tags are derived from the event itself.
func NewEnvelope(event Event, options ...EventOption) Envelope {
	env := Envelope{
		EventID:       uuid.New(),
		AggregateID:   event.AggregateID(),
		AggregateType: event.AggregateType(),
		EventType:     event.EventType(),
		OccurredAt:    now(),
		Event:         event,
	}

	for _, option := range options {
		option(&env)
	}

	return env
}
