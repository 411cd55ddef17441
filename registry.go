package eventflow

import (
	"fmt"
	"sync"
)

// The registries map wire type tags to factory functions so that a consumer
// can reconstruct the concrete Event or Command subtype from its tag. They
// are populated explicitly at startup; nothing on the consume path discovers
// types dynamically.

var (
	// eventRegistry maps event type tags to their factory functions.
	// Each factory must return a new instance of a concrete Event type.
	eventRegistry = map[string]func() Event{}

	// commandRegistry maps command type tags to their factory functions.
	commandRegistry = map[string]func() Command{}

	// registryMu protects both registries for concurrent operations.
	registryMu sync.RWMutex
)

// RegisterEvent registers a new Event type under its own EventType tag.
//
// The factory must return a fresh, addressable instance on every call; the
// codec unmarshals payload bytes into it.
//
// Panics:
//   - If the factory function is nil or returns nil.
//   - If an event with the same type tag is already registered.
//
// Example Usage:
//
//	RegisterEvent(func() Event { return &StockSet{} })
func RegisterEvent(fn func() Event) {
	if fn == nil {
		panic("cannot register nil event factory")
	}
	ev := fn()
	if ev == nil {
		panic("event factory returned nil")
	}
	RegisterEventNamed(ev.EventType(), fn)
}

// RegisterEventNamed registers a new Event type under a custom tag,
// independent of EventType(). Used when the wire tag must stay stable across
// a rename.
func RegisterEventNamed(name string, fn func() Event) {
	if fn == nil {
		panic("cannot register nil event factory")
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := eventRegistry[name]; exists {
		panic(fmt.Sprintf("event already registered: %s", name))
	}

	ev := fn()
	if ev == nil {
		panic(fmt.Sprintf("factory returned nil for event: %s", name))
	}

	eventRegistry[name] = fn
}

// NewEventByName creates a new instance of a registered Event by its type tag.
//
// Returns an error if the tag is not registered or the factory returned nil.
// Consumers route a message to dead-letter when this fails; an unknown tag is
// a poison message, not a crash.
func NewEventByName(name string) (Event, error) {
	registryMu.RLock()
	factory, ok := eventRegistry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("event not registered: %s", name)
	}
	ev := factory()
	if ev == nil {
		return nil, fmt.Errorf("factory returned nil for event: %s", name)
	}
	return ev, nil
}

// RegisterCommand registers a new Command type under its own CommandType tag.
//
// Panics on nil factories, factories returning nil, and duplicate tags,
// mirroring RegisterEvent.
//
// Example Usage:
//
//	RegisterCommand(func() Command { return &DeductStockForOrder{} })
func RegisterCommand(fn func() Command) {
	if fn == nil {
		panic("cannot register nil command factory")
	}
	cmd := fn()
	if cmd == nil {
		panic("command factory returned nil")
	}

	name := cmd.CommandType()

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := commandRegistry[name]; exists {
		panic(fmt.Sprintf("command already registered: %s", name))
	}

	commandRegistry[name] = fn
}

// NewCommandByName creates a new instance of a registered Command by its tag.
func NewCommandByName(name string) (Command, error) {
	registryMu.RLock()
	factory, ok := commandRegistry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("command not registered: %s", name)
	}
	cmd := factory()
	if cmd == nil {
		return nil, fmt.Errorf("factory returned nil for command: %s", name)
	}
	return cmd, nil
}
