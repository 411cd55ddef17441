package eventflow

import (
	"time"

	"github.com/google/uuid"
)

// Command is an imperative request addressed to a single bounded context.
// At most one aggregate mutation is expected per command.
type Command interface {
	AggregateID() string
	CommandType() string
}

// CommandEnvelope wraps a Command with cross-cutting metadata. The command id
// is the idempotency unit: a bounded context must apply the side effect of a
// given command id at most once, regardless of redelivery.
type CommandEnvelope struct {
	CommandID     string
	CorrelationID string
	CausationID   string
	TenantID      string
	OccurredAt    time.Time
	Command       Command
}

// CommandOption mutates a CommandEnvelope at construction time.
type CommandOption func(env *CommandEnvelope)

// WithCommandCorrelationID ties the command to a saga instance. Every command
// a saga issues carries the same correlation id as the command that started it.
func WithCommandCorrelationID(id string) CommandOption {
	return func(env *CommandEnvelope) { env.CorrelationID = id }
}

// WithCommandCausationID records the event or command that triggered this one.
func WithCommandCausationID(id string) CommandOption {
	return func(env *CommandEnvelope) { env.CausationID = id }
}

// WithCommandTenantID attaches an optional tenant id.
func WithCommandTenantID(id string) CommandOption {
	return func(env *CommandEnvelope) { env.TenantID = id }
}

// NewCommandEnvelope wraps a command, assigning a fresh command id and
// timestamp. When no correlation id is supplied the command id doubles as the
// correlation id, so a chain started by this command stays traceable.
func NewCommandEnvelope(command Command, options ...CommandOption) CommandEnvelope {
	env := CommandEnvelope{
		CommandID:  uuid.New().String(),
		OccurredAt: now(),
		Command:    command,
	}

	for _, option := range options {
		option(&env)
	}

	if env.CorrelationID == "" {
		env.CorrelationID = env.CommandID
	}

	return env
}
