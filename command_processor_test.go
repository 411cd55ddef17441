package eventflow

import (
	"context"
	"errors"
	"testing"
)

func TestOnCommand_ProcessesMatchingType(t *testing.T) {
	var got *stubCmd
	proc := OnCommand(func(ctx context.Context, cmd *stubCmd) error {
		got = cmd
		return nil
	})

	env := NewCommandEnvelope(&stubCmd{ID: "agg-1", Data: "do it"})
	if err := proc.Process(context.Background(), env); err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Data != "do it" {
		t.Fatalf("processor did not receive command, got %v", got)
	}
}

func TestOnCommand_SkipsOtherTypes(t *testing.T) {
	proc := OnCommand(func(ctx context.Context, cmd *stubCmd) error {
		t.Fatal("processor must not run for other command types")
		return nil
	})

	err := proc.Process(context.Background(), NewCommandEnvelope(&otherCmd{ID: "agg-1"}))

	var skipped *ErrSkippedCommand
	if !errors.As(err, &skipped) {
		t.Fatalf("expected ErrSkippedCommand, got %v", err)
	}
}

func TestOnCommand_ContextCarriesEnvelopeMetadata(t *testing.T) {
	var commandID, corr string
	proc := OnCommand(func(ctx context.Context, cmd *stubCmd) error {
		commandID = CommandIDFromContext(ctx)
		corr = CorrelationIDFromContext(ctx)
		return nil
	})

	env := NewCommandEnvelope(&stubCmd{ID: "agg-1"}, WithCommandCorrelationID("corr-1"))
	if err := proc.Process(context.Background(), env); err != nil {
		t.Fatal(err)
	}
	if commandID != env.CommandID {
		t.Fatalf("expected command id %q on context, got %q", env.CommandID, commandID)
	}
	if corr != "corr-1" {
		t.Fatalf("expected correlation corr-1 on context, got %q", corr)
	}
}

func TestNewCommandEnvelope_CorrelationDefaultsToCommandID(t *testing.T) {
	env := NewCommandEnvelope(&stubCmd{ID: "agg-1"})
	if env.CorrelationID != env.CommandID {
		t.Fatalf("expected correlation %q to default to command id %q", env.CorrelationID, env.CommandID)
	}
}

func TestCommandGroupProcessor_RoutesByType(t *testing.T) {
	var gotStub, gotOther int
	group := NewCommandGroupProcessor(
		OnCommand(func(ctx context.Context, cmd *stubCmd) error {
			gotStub++
			return nil
		}),
		OnCommand(func(ctx context.Context, cmd *otherCmd) error {
			gotOther++
			return nil
		}),
	)

	ctx := context.Background()
	if err := group.Process(ctx, NewCommandEnvelope(&stubCmd{ID: "a"})); err != nil {
		t.Fatal(err)
	}
	if err := group.Process(ctx, NewCommandEnvelope(&otherCmd{ID: "b"})); err != nil {
		t.Fatal(err)
	}
	if gotStub != 1 || gotOther != 1 {
		t.Fatalf("expected one call each, got stub=%d other=%d", gotStub, gotOther)
	}
}

func TestCommandGroupProcessor_SkipsUnknownType(t *testing.T) {
	group := NewCommandGroupProcessor(
		OnCommand(func(ctx context.Context, cmd *stubCmd) error { return nil }),
	)

	err := group.Process(context.Background(), NewCommandEnvelope(&otherCmd{ID: "b"}))

	var skipped *ErrSkippedCommand
	if !errors.As(err, &skipped) {
		t.Fatalf("expected ErrSkippedCommand, got %v", err)
	}
}

func TestCommandGroupProcessor_PanicsOnDuplicate(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on duplicate command processor")
		}
	}()

	NewCommandGroupProcessor(
		OnCommand(func(ctx context.Context, cmd *stubCmd) error { return nil }),
		OnCommand(func(ctx context.Context, cmd *stubCmd) error { return nil }),
	)
}

type renamedCmd struct{ ID string }

func (c *renamedCmd) AggregateID() string { return c.ID }
func (c *renamedCmd) CommandType() string { return "legacy.set-stock.v2" }

func TestCommandGroupProcessor_RoutesByDeclaredTag(t *testing.T) {
	var got int
	group := NewCommandGroupProcessor(
		OnCommand(func(ctx context.Context, cmd *renamedCmd) error {
			got++
			return nil
		}),
	)

	if filter := group.CommandFilter(); len(filter) != 1 || filter[0] != "legacy.set-stock.v2" {
		t.Fatalf("expected filter keyed by declared tag, got %v", filter)
	}
	if err := group.Process(context.Background(), NewCommandEnvelope(&renamedCmd{ID: "a"})); err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Fatalf("expected processor to run once, got %d", got)
	}
}

func TestCommandGroupProcessor_CommandFilterSorted(t *testing.T) {
	group := NewCommandGroupProcessor(
		OnCommand(func(ctx context.Context, cmd *stubCmd) error { return nil }),
		OnCommand(func(ctx context.Context, cmd *otherCmd) error { return nil }),
	)

	filter := group.CommandFilter()
	if len(filter) != 2 || filter[0] != "OtherCmd" || filter[1] != "StubCmd" {
		t.Fatalf("unexpected filter %v", filter)
	}
}
