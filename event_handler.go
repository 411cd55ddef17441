package eventflow

import (
	"fmt"
	"sort"

	"context"
)

// EventHandler represents a generic event handler that can handle a consumed
// event Envelope.
type EventHandler interface {
	// Handle processes the given envelope within the provided context.
	Handle(ctx context.Context, env Envelope) error
}

// NewEventHandlerFunc creates an EventHandler from a plain function.
//
// This is a helper for quickly creating an EventHandler without defining a
// separate struct. There is no type filtering: the function receives every
// envelope the subscription delivers. For type safety, use OnEvent instead.
func NewEventHandlerFunc(fn func(ctx context.Context, env Envelope) error) EventHandler {
	return eventHandlerFunc(fn)
}

// eventHandlerFunc is a function type that implements EventHandler.
type eventHandlerFunc func(ctx context.Context, env Envelope) error

func (h eventHandlerFunc) Handle(ctx context.Context, env Envelope) error {
	return h(ctx, env)
}

// typedEventHandler is a strongly typed event handler for a specific Event type T.
type typedEventHandler[T Event] func(ctx context.Context, ev T) error

// EventName returns the declared wire tag of the event type T.
// It is used internally by EventGroupProcessor for routing, and must match
// the EventType carried on incoming envelopes.
func (h typedEventHandler[T]) EventName() string {
	var zero T
	return zero.EventType()
}

// Handle processes the envelope if its event matches the type T.
// Returns ErrSkippedEvent if the event is of the wrong type. The envelope
// metadata is placed on the context so handlers and decorators can read the
// event id, correlation id and causation id without widening the signature.
func (h typedEventHandler[T]) Handle(ctx context.Context, env Envelope) error {
	ev, ok := env.Event.(T)
	if !ok {
		return &ErrSkippedEvent{Event: env.Event}
	}
	return h(WithEnvelope(ctx, &env), ev)
}

// OnEvent creates a strongly-typed EventHandler for a specific event type.
//
// When called via EventGroupProcessor.Handle, the handler only receives
// events of type T; any other type yields ErrSkippedEvent. The routing name
// is the EventType() tag of T, the same key envelopes carry on the wire.
//
// Example Usage:
//
//	handler := OnEvent(func(ctx context.Context, ev OrderCreated) error {
//	    fmt.Println("order created:", ev.OrderID)
//	    return nil
//	})
func OnEvent[T Event](fn func(ctx context.Context, ev T) error) EventHandler {
	return typedEventHandler[T](fn)
}

// EventGroupProcessor is a collection of typed event handlers. It routes each
// incoming envelope to the handler registered for its event type.
type EventGroupProcessor struct {
	handlers map[string]EventHandler // key = EventName()
}

// NewEventGroupProcessor creates a group of typed event handlers.
//
// Every handler must expose an EventName() (as produced by OnEvent); the
// processor builds a routing map from those names. Panics on handlers without
// EventName() and on duplicate registrations for the same event type.
//
// Example Usage:
//
//	group := NewEventGroupProcessor(
//	    OnEvent(saga.onStockValidated),
//	    OnEvent(saga.onStockDeducted),
//	)
func NewEventGroupProcessor(handlers ...EventHandler) *EventGroupProcessor {
	m := make(map[string]EventHandler, len(handlers))
	for _, h := range handlers {

		u, ok := h.(interface{ EventName() string })
		if !ok {
			panic(fmt.Errorf("handler %T does not have a function `EventName()`", h))
		}

		name := u.EventName()
		if _, exists := m[name]; exists {
			panic(fmt.Errorf("duplicate handler for event %s: %w", name, ErrDuplicateHandler))
		}
		m[name] = h
	}

	return &EventGroupProcessor{
		handlers: m,
	}
}

// Handle routes the given envelope to the correct typed handler.
// Returns ErrSkippedEvent if no handler exists for the event type; a
// subscription that spans many event types simply skips the rest.
func (p *EventGroupProcessor) Handle(ctx context.Context, env Envelope) error {
	h, ok := p.handlers[env.EventType]

	if !ok {
		return &ErrSkippedEvent{Event: env.Event}
	}
	return h.Handle(ctx, env)
}

// StreamFilter returns a sorted list of all event names handled by this group.
// Useful for subscribing to topics or listing registered handlers.
func (p *EventGroupProcessor) StreamFilter() []string {
	out := make([]string, 0, len(p.handlers))
	for name := range p.handlers {
		out = append(out, name)
	}
	sort.Strings(out) // deterministic order
	return out
}
