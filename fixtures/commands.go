package fixtures

// TestCommand is a configurable test command implementing the Command interface.
type TestCommand struct {
	ID   string
	Type string
	Data string
}

func (c *TestCommand) AggregateID() string { return c.ID }
func (c *TestCommand) CommandType() string { return c.Type }

// TestCommandBuilder provides a fluent API for constructing test commands.
type TestCommandBuilder struct {
	id   string
	typ  string
	data string
}

// NewTestCommand creates a new TestCommandBuilder with sensible defaults.
func NewTestCommand() *TestCommandBuilder {
	return &TestCommandBuilder{
		id:  "aggregate-1",
		typ: "TestCommand",
	}
}

// WithID sets the aggregate ID.
func (b *TestCommandBuilder) WithID(id string) *TestCommandBuilder {
	b.id = id
	return b
}

// WithType sets the command type.
func (b *TestCommandBuilder) WithType(typ string) *TestCommandBuilder {
	b.typ = typ
	return b
}

// WithData sets custom data on the command.
func (b *TestCommandBuilder) WithData(data string) *TestCommandBuilder {
	b.data = data
	return b
}

// Build constructs the TestCommand.
func (b *TestCommandBuilder) Build() *TestCommand {
	return &TestCommand{
		ID:   b.id,
		Type: b.typ,
		Data: b.data,
	}
}
