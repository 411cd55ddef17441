package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	cqrs "github.com/commercekit/eventflow"
)

type pingEvent struct {
	ID string
	N  int
}

func (e *pingEvent) AggregateID() string   { return e.ID }
func (e *pingEvent) AggregateType() string { return "Ping" }
func (e *pingEvent) EventType() string     { return "PingEvent" }

type pongEvent struct {
	ID string
}

func (e *pongEvent) AggregateID() string   { return e.ID }
func (e *pongEvent) AggregateType() string { return "Ping" }
func (e *pongEvent) EventType() string     { return "PongEvent" }

type pingCommand struct {
	ID string
	N  int
}

func (c *pingCommand) AggregateID() string { return c.ID }
func (c *pingCommand) CommandType() string { return "PingCommand" }

func collectEvents(ch chan cqrs.Envelope) cqrs.EventHandler {
	return cqrs.NewEventHandlerFunc(func(ctx context.Context, env cqrs.Envelope) error {
		ch <- env
		return nil
	})
}

func waitEnvelope(t *testing.T, ch chan cqrs.Envelope) cqrs.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return cqrs.Envelope{}
	}
}

func deadLetters(t *testing.T, bus any) <-chan cqrs.DeadLetter {
	t.Helper()
	d, ok := bus.(interface{ DeadLetters() <-chan cqrs.DeadLetter })
	if !ok {
		t.Fatalf("%T does not expose dead letters", bus)
	}
	return d.DeadLetters()
}

func TestEventBus_FanOut(t *testing.T) {
	bus := NewEventBus(8)
	defer bus.Close()
	ctx := context.Background()

	first := make(chan cqrs.Envelope, 1)
	second := make(chan cqrs.Envelope, 1)
	if err := bus.Subscribe(ctx, "first", collectEvents(first)); err != nil {
		t.Fatal(err)
	}
	if err := bus.Subscribe(ctx, "second", collectEvents(second)); err != nil {
		t.Fatal(err)
	}

	if err := bus.Publish(ctx, cqrs.NewEnvelope(&pingEvent{ID: "a"})); err != nil {
		t.Fatal(err)
	}

	if got := waitEnvelope(t, first); got.EventType != "PingEvent" {
		t.Fatalf("first subscriber got %s", got.EventType)
	}
	if got := waitEnvelope(t, second); got.EventType != "PingEvent" {
		t.Fatalf("second subscriber got %s", got.EventType)
	}
}

func TestEventBus_WithEventTypesFilter(t *testing.T) {
	bus := NewEventBus(8)
	defer bus.Close()
	ctx := context.Background()

	got := make(chan cqrs.Envelope, 2)
	err := bus.Subscribe(ctx, "pongs-only", collectEvents(got), WithEventTypes("PongEvent"))
	if err != nil {
		t.Fatal(err)
	}

	if err := bus.Publish(ctx, cqrs.NewEnvelope(&pingEvent{ID: "a"})); err != nil {
		t.Fatal(err)
	}
	if err := bus.Publish(ctx, cqrs.NewEnvelope(&pongEvent{ID: "a"})); err != nil {
		t.Fatal(err)
	}

	if env := waitEnvelope(t, got); env.EventType != "PongEvent" {
		t.Fatalf("filter leaked %s", env.EventType)
	}
	select {
	case env := <-got:
		t.Fatalf("unexpected extra delivery: %s", env.EventType)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBus_DuplicateSubscriberName(t *testing.T) {
	bus := NewEventBus(8)
	defer bus.Close()
	ctx := context.Background()

	h := collectEvents(make(chan cqrs.Envelope, 1))
	if err := bus.Subscribe(ctx, "dup", h); err != nil {
		t.Fatal(err)
	}
	if err := bus.Subscribe(ctx, "dup", h); err == nil {
		t.Fatal("expected error on duplicate subscriber name")
	}
}

func TestEventBus_HandlerFailureDeadLettersAndContinues(t *testing.T) {
	bus := NewEventBus(8)
	defer bus.Close()
	ctx := context.Background()

	delivered := make(chan cqrs.Envelope, 2)
	handler := cqrs.NewEventHandlerFunc(func(ctx context.Context, env cqrs.Envelope) error {
		ev := env.Event.(*pingEvent)
		if ev.N == 1 {
			return errors.New("boom")
		}
		delivered <- env
		return nil
	})
	if err := bus.Subscribe(ctx, "flaky", handler); err != nil {
		t.Fatal(err)
	}

	if err := bus.Publish(ctx, cqrs.NewEnvelope(&pingEvent{ID: "a", N: 1})); err != nil {
		t.Fatal(err)
	}
	if err := bus.Publish(ctx, cqrs.NewEnvelope(&pingEvent{ID: "a", N: 2})); err != nil {
		t.Fatal(err)
	}

	// The second event still arrives; the first moved to dead-letter.
	if env := waitEnvelope(t, delivered); env.Event.(*pingEvent).N != 2 {
		t.Fatalf("wrong event delivered: %+v", env.Event)
	}

	select {
	case dl := <-deadLetters(t, bus):
		if dl.Source != "flaky" || dl.Reason != "boom" {
			t.Fatalf("unexpected dead letter: %+v", dl)
		}
		if dl.Headers[cqrs.HeaderEventType] != "PingEvent" {
			t.Fatalf("dead letter missing event type header: %+v", dl.Headers)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dead letter")
	}
}

func TestEventBus_SkippedEventIsNotDeadLettered(t *testing.T) {
	bus := NewEventBus(8)
	defer bus.Close()
	ctx := context.Background()

	handled := make(chan struct{}, 1)
	handler := cqrs.NewEventHandlerFunc(func(ctx context.Context, env cqrs.Envelope) error {
		defer func() { handled <- struct{}{} }()
		return &cqrs.ErrSkippedEvent{Event: env.Event}
	})
	if err := bus.Subscribe(ctx, "typed", handler); err != nil {
		t.Fatal(err)
	}

	if err := bus.Publish(ctx, cqrs.NewEnvelope(&pingEvent{ID: "a"})); err != nil {
		t.Fatal(err)
	}

	<-handled
	select {
	case dl := <-deadLetters(t, bus):
		t.Fatalf("skip must not dead-letter: %+v", dl)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBus_PublishAfterClose(t *testing.T) {
	bus := NewEventBus(8)
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}

	err := bus.Publish(context.Background(), cqrs.NewEnvelope(&pingEvent{ID: "a"}))

	var transport *cqrs.TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestCommandBus_NoConsumerFailsPublish(t *testing.T) {
	bus := NewCommandBus(8, 2)
	defer bus.Close()

	err := bus.Publish(context.Background(), "inventory.commands",
		cqrs.NewCommandEnvelope(&pingCommand{ID: "a"}))

	var transport *cqrs.TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestCommandBus_DeliversToConsumer(t *testing.T) {
	bus := NewCommandBus(8, 2)
	defer bus.Close()
	ctx := context.Background()

	got := make(chan cqrs.CommandEnvelope, 1)
	proc := cqrs.NewCommandProcessorFunc(func(ctx context.Context, env cqrs.CommandEnvelope) error {
		got <- env
		return nil
	})
	if err := bus.Subscribe(ctx, "inventory.commands", proc); err != nil {
		t.Fatal(err)
	}

	env := cqrs.NewCommandEnvelope(&pingCommand{ID: "a"})
	if err := bus.Publish(ctx, "inventory.commands", env); err != nil {
		t.Fatal(err)
	}

	select {
	case delivered := <-got:
		if delivered.CommandID != env.CommandID {
			t.Fatalf("wrong command delivered: %s", delivered.CommandID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for command")
	}
}

func TestCommandBus_SameAggregateInOrder(t *testing.T) {
	bus := NewCommandBus(64, 4)
	defer bus.Close()
	ctx := context.Background()

	const total = 20
	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	proc := cqrs.NewCommandProcessorFunc(func(ctx context.Context, env cqrs.CommandEnvelope) error {
		cmd := env.Command.(*pingCommand)
		mu.Lock()
		order = append(order, cmd.N)
		if len(order) == total {
			close(done)
		}
		mu.Unlock()
		return nil
	})
	if err := bus.Subscribe(ctx, "inventory.commands", proc); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < total; i++ {
		env := cqrs.NewCommandEnvelope(&pingCommand{ID: "same-aggregate", N: i})
		if err := bus.Publish(ctx, "inventory.commands", env); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for commands")
	}

	for i, n := range order {
		if n != i {
			t.Fatalf("commands for one aggregate arrived out of order: %v", order)
		}
	}
}

func TestCommandBus_ProcessorPanicDeadLetters(t *testing.T) {
	bus := NewCommandBus(8, 1)
	defer bus.Close()
	ctx := context.Background()

	calls := make(chan int, 2)
	proc := cqrs.NewCommandProcessorFunc(func(ctx context.Context, env cqrs.CommandEnvelope) error {
		cmd := env.Command.(*pingCommand)
		calls <- cmd.N
		if cmd.N == 1 {
			panic("bad handler")
		}
		return nil
	})
	if err := bus.Subscribe(ctx, "inventory.commands", proc); err != nil {
		t.Fatal(err)
	}

	if err := bus.Publish(ctx, "inventory.commands", cqrs.NewCommandEnvelope(&pingCommand{ID: "a", N: 1})); err != nil {
		t.Fatal(err)
	}
	if err := bus.Publish(ctx, "inventory.commands", cqrs.NewCommandEnvelope(&pingCommand{ID: "a", N: 2})); err != nil {
		t.Fatal(err)
	}

	for want := 1; want <= 2; want++ {
		select {
		case n := <-calls:
			if n != want {
				t.Fatalf("call order broken: got %d want %d", n, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("shard stopped after panic")
		}
	}

	select {
	case dl := <-deadLetters(t, bus):
		if dl.Source != "inventory.commands" {
			t.Fatalf("unexpected dead letter source: %s", dl.Source)
		}
		if dl.Headers[cqrs.HeaderCommandType] != "PingCommand" {
			t.Fatalf("dead letter missing command type header: %+v", dl.Headers)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dead letter")
	}
}

func TestCommandBus_ProcessorErrorReported(t *testing.T) {
	bus := NewCommandBus(8, 1)
	defer bus.Close()
	ctx := context.Background()

	proc := cqrs.NewCommandProcessorFunc(func(ctx context.Context, env cqrs.CommandEnvelope) error {
		return fmt.Errorf("handler rejected %s", env.CommandID)
	})
	if err := bus.Subscribe(ctx, "inventory.commands", proc); err != nil {
		t.Fatal(err)
	}

	if err := bus.Publish(ctx, "inventory.commands", cqrs.NewCommandEnvelope(&pingCommand{ID: "a"})); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-bus.Errors():
		if err == nil {
			t.Fatal("nil error on the error channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reported error")
	}
}
