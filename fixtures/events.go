package fixtures

import (
	"fmt"

	es "github.com/commercekit/eventflow"
)

// TestEvent is a configurable test event implementing the Event interface.
type TestEvent struct {
	ID      string
	AggType string
	Type    string
	Data    string
}

func (e *TestEvent) AggregateID() string   { return e.ID }
func (e *TestEvent) AggregateType() string { return e.AggType }
func (e *TestEvent) EventType() string     { return e.Type }

// TestEventBuilder provides a fluent API for constructing test events.
type TestEventBuilder struct {
	id      string
	aggType string
	typ     string
	data    string
}

// NewTestEvent creates a new TestEventBuilder with sensible defaults.
func NewTestEvent() *TestEventBuilder {
	return &TestEventBuilder{
		id:      "aggregate-1",
		aggType: "TestAggregate",
		typ:     "TestEvent",
		data:    "",
	}
}

// WithID sets the aggregate ID.
func (b *TestEventBuilder) WithID(id string) *TestEventBuilder {
	b.id = id
	return b
}

// WithAggregateType sets the aggregate type.
func (b *TestEventBuilder) WithAggregateType(typ string) *TestEventBuilder {
	b.aggType = typ
	return b
}

// WithType sets the event type.
func (b *TestEventBuilder) WithType(typ string) *TestEventBuilder {
	b.typ = typ
	return b
}

// WithData sets custom data on the event.
func (b *TestEventBuilder) WithData(data string) *TestEventBuilder {
	b.data = data
	return b
}

// Build constructs the TestEvent.
func (b *TestEventBuilder) Build() *TestEvent {
	return &TestEvent{
		ID:      b.id,
		AggType: b.aggType,
		Type:    b.typ,
		Data:    b.data,
	}
}

// BuildN creates n events with sequential data.
func (b *TestEventBuilder) BuildN(n int) []es.Event {
	events := make([]es.Event, n)
	for i := 0; i < n; i++ {
		events[i] = &TestEvent{
			ID:      b.id,
			AggType: b.aggType,
			Type:    b.typ,
			Data:    fmt.Sprintf("%s-%d", b.data, i+1),
		}
	}
	return events
}

// EnvelopesFromEvents wraps events into ready-to-publish envelopes.
func EnvelopesFromEvents(events ...es.Event) []es.Envelope {
	out := make([]es.Envelope, 0, len(events))
	for _, ev := range events {
		out = append(out, es.NewEnvelope(ev))
	}
	return out
}
