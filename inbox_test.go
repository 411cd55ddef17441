package eventflow

import (
	"context"
	"errors"
	"testing"
)

type memInbox struct {
	seen map[string]struct{}

	seenErr error
	markErr error
}

func newMemInbox() *memInbox {
	return &memInbox{seen: make(map[string]struct{})}
}

func (i *memInbox) Seen(ctx context.Context, consumer, commandID string) (bool, error) {
	if i.seenErr != nil {
		return false, i.seenErr
	}
	_, ok := i.seen[consumer+"/"+commandID]
	return ok, nil
}

func (i *memInbox) Mark(ctx context.Context, consumer, commandID string) error {
	if i.markErr != nil {
		return i.markErr
	}
	i.seen[consumer+"/"+commandID] = struct{}{}
	return nil
}

func (i *memInbox) Close() error { return nil }

func TestWithIdempotency_RunsOncePerCommandID(t *testing.T) {
	inbox := newMemInbox()
	calls := 0
	proc := WithIdempotency(inbox, "inventory.commands", NewCommandProcessorFunc(
		func(ctx context.Context, env CommandEnvelope) error {
			calls++
			return nil
		}))

	env := NewCommandEnvelope(&stubCmd{ID: "agg-1"})
	ctx := context.Background()

	if err := proc.Process(ctx, env); err != nil {
		t.Fatal(err)
	}
	// A broker redelivery carries the same command id.
	if err := proc.Process(ctx, env); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected one effect, got %d", calls)
	}
}

func TestWithIdempotency_DistinctIDsBothRun(t *testing.T) {
	inbox := newMemInbox()
	calls := 0
	proc := WithIdempotency(inbox, "inventory.commands", NewCommandProcessorFunc(
		func(ctx context.Context, env CommandEnvelope) error {
			calls++
			return nil
		}))

	ctx := context.Background()
	if err := proc.Process(ctx, NewCommandEnvelope(&stubCmd{ID: "agg-1"})); err != nil {
		t.Fatal(err)
	}
	if err := proc.Process(ctx, NewCommandEnvelope(&stubCmd{ID: "agg-1"})); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("expected two effects, got %d", calls)
	}
}

func TestWithIdempotency_FailureIsNotMarked(t *testing.T) {
	inbox := newMemInbox()
	boom := errors.New("handler failed")
	calls := 0
	proc := WithIdempotency(inbox, "inventory.commands", NewCommandProcessorFunc(
		func(ctx context.Context, env CommandEnvelope) error {
			calls++
			if calls == 1 {
				return boom
			}
			return nil
		}))

	env := NewCommandEnvelope(&stubCmd{ID: "agg-1"})
	ctx := context.Background()

	if err := proc.Process(ctx, env); !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
	// Redelivery after a failure must re-run the handler.
	if err := proc.Process(ctx, env); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("expected retry to run the handler, got %d calls", calls)
	}
}

func TestWithIdempotency_ScopedPerConsumer(t *testing.T) {
	inbox := newMemInbox()
	calls := 0
	handler := NewCommandProcessorFunc(func(ctx context.Context, env CommandEnvelope) error {
		calls++
		return nil
	})
	inventory := WithIdempotency(inbox, "inventory.commands", handler)
	cart := WithIdempotency(inbox, "cart.commands", handler)

	env := NewCommandEnvelope(&stubCmd{ID: "agg-1"})
	ctx := context.Background()

	if err := inventory.Process(ctx, env); err != nil {
		t.Fatal(err)
	}
	if err := cart.Process(ctx, env); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("consumers must not share marks, got %d calls", calls)
	}
}

func TestWithIdempotency_LookupErrorSurfaces(t *testing.T) {
	inbox := newMemInbox()
	inbox.seenErr = errors.New("store down")
	proc := WithIdempotency(inbox, "inventory.commands", NewCommandProcessorFunc(
		func(ctx context.Context, env CommandEnvelope) error {
			t.Fatal("handler must not run when the inbox lookup fails")
			return nil
		}))

	err := proc.Process(context.Background(), NewCommandEnvelope(&stubCmd{ID: "agg-1"}))
	if !errors.Is(err, inbox.seenErr) {
		t.Fatalf("expected lookup error, got %v", err)
	}
}
