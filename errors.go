package eventflow

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an aggregate does not exist in the store.
var ErrNotFound = errors.New("aggregate not found")

// ErrDuplicateHandler is returned when two handlers are registered for the
// same event or command type.
var ErrDuplicateHandler = errors.New("duplicate handler")

// ConcurrencyConflictError reports a version mismatch on aggregate save.
// It is always surfaced to the caller and never auto-retried by the
// repository: the caller must reload the aggregate and re-derive the change.
type ConcurrencyConflictError struct {
	AggregateID     string
	ExpectedVersion uint64
	ActualVersion   uint64
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict for aggregate %q: expected version %d but found %d",
		e.AggregateID, e.ExpectedVersion, e.ActualVersion)
}

// ValidationError reports a malformed command or request payload. It is
// raised before any aggregate mutation; no side effects have occurred.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %q: %s", e.Field, e.Reason)
}

// BusinessRuleError reports a domain rule violation raised by a command
// handler before mutation, such as insufficient stock or a duplicate SKU.
// The Code is a stable machine-readable identifier for boundary translation.
type BusinessRuleError struct {
	Code   string
	Reason string
}

func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("business rule violated (%s): %s", e.Code, e.Reason)
}

// TransportError reports a broker failure: unreachable on publish, or an
// acknowledgment timeout. It is caller-visible and eligible for caller-driven
// retry with backoff.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ErrSkippedEvent is returned when a handler cannot handle the event type.
type ErrSkippedEvent struct {
	Event Event
}

func (e *ErrSkippedEvent) Error() string {
	return fmt.Sprintf("skipped event of type %T", e.Event)
}

// ErrSkippedCommand is returned when a processor has no handler for the
// command type.
type ErrSkippedCommand struct {
	Command Command
}

func (e *ErrSkippedCommand) Error() string {
	return fmt.Sprintf("skipped command of type %T", e.Command)
}
