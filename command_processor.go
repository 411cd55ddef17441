package eventflow

import (
	"context"
	"fmt"
	"sort"
)

// CommandHandler defines a function type for handling commands of a specific
// type.
//
// C represents the concrete command type implementing the Command interface.
//
// A CommandHandler implements the business logic associated with a command:
// validation, loading the target aggregate through its repository, mutating
// it, and saving. Any domain failure is returned as an error; the processor
// decides whether the message is retried or dead-lettered.
type CommandHandler[C Command] func(ctx context.Context, command C) error

// typedCommandHandler adapts a CommandHandler[C] to the untyped
// CommandProcessor contract used by transports.
type typedCommandHandler[C Command] func(ctx context.Context, command C) error

// CommandName returns the declared wire tag of the command type C.
// It is used internally by CommandGroupProcessor for routing, and must match
// CommandType() on incoming envelopes.
func (h typedCommandHandler[C]) CommandName() string {
	var zero C
	return zero.CommandType()
}

// Process handles the envelope if its command matches the type C.
// Returns ErrSkippedCommand when it does not. The envelope metadata is placed
// on the context so handlers can read command id, correlation and causation.
func (h typedCommandHandler[C]) Process(ctx context.Context, env CommandEnvelope) error {
	cmd, ok := env.Command.(C)
	if !ok {
		return &ErrSkippedCommand{Command: env.Command}
	}
	return h(WithCommandEnvelope(ctx, &env), cmd)
}

// OnCommand creates a strongly-typed CommandProcessor for a specific command
// type.
//
// Example Usage:
//
//	proc := OnCommand(func(ctx context.Context, cmd DeductStockForOrder) error {
//	    return handlers.DeductStock(ctx, cmd)
//	})
func OnCommand[C Command](fn CommandHandler[C]) CommandProcessor {
	return typedCommandHandler[C](fn)
}

// CommandGroupProcessor routes consumed command envelopes to the handler
// registered for their command type. One group is attached per bounded
// context queue.
type CommandGroupProcessor struct {
	handlers map[string]CommandProcessor // key = CommandName()
}

// NewCommandGroupProcessor creates a group of typed command processors.
//
// Panics if a processor does not expose CommandName() (use OnCommand) or if
// two processors claim the same command type.
func NewCommandGroupProcessor(processors ...CommandProcessor) *CommandGroupProcessor {
	m := make(map[string]CommandProcessor, len(processors))
	for _, p := range processors {

		u, ok := p.(interface{ CommandName() string })
		if !ok {
			panic(fmt.Errorf("processor %T does not have a function `CommandName()`", p))
		}

		name := u.CommandName()
		if _, exists := m[name]; exists {
			panic(fmt.Errorf("duplicate handler for command %s: %w", name, ErrDuplicateHandler))
		}
		m[name] = p
	}

	return &CommandGroupProcessor{
		handlers: m,
	}
}

// Process routes the given envelope to the correct typed processor.
// Returns ErrSkippedCommand if no processor exists for the command type; the
// transport treats that as a poison message for this queue.
func (p *CommandGroupProcessor) Process(ctx context.Context, env CommandEnvelope) error {
	h, ok := p.handlers[env.Command.CommandType()]

	if !ok {
		return &ErrSkippedCommand{Command: env.Command}
	}
	return h.Process(ctx, env)
}

// CommandFilter returns a sorted list of all command names handled by this
// group.
func (p *CommandGroupProcessor) CommandFilter() []string {
	out := make([]string, 0, len(p.handlers))
	for name := range p.handlers {
		out = append(out, name)
	}
	sort.Strings(out) // deterministic order
	return out
}
