package eventflow

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestEnvelopeCodec_RoundTrip(t *testing.T) {
	resetRegistries()
	RegisterEvent(func() Event { return &stubEvent{} })

	env := NewEnvelope(&stubEvent{ID: "agg-1", Data: "payload"},
		WithCorrelationID("corr-1"),
		WithCausationID("cause-1"),
		WithTenantID("tenant-1"),
	)

	data, err := MarshalEnvelope(env)
	if err != nil {
		t.Fatal(err)
	}

	got, err := UnmarshalEnvelope(data)
	if err != nil {
		t.Fatal(err)
	}

	if got.EventID != env.EventID {
		t.Fatalf("event id changed: %s != %s", got.EventID, env.EventID)
	}
	if got.AggregateID != "agg-1" || got.AggregateType != "StubAggregate" || got.EventType != "StubEvent" {
		t.Fatalf("routing tags changed: %+v", got)
	}
	if got.CorrelationID != "corr-1" || got.CausationID != "cause-1" || got.TenantID != "tenant-1" {
		t.Fatalf("metadata changed: %+v", got)
	}
	if !got.OccurredAt.Equal(env.OccurredAt) {
		t.Fatalf("timestamp changed: %s != %s", got.OccurredAt, env.OccurredAt)
	}

	ev, ok := got.Event.(*stubEvent)
	if !ok {
		t.Fatalf("expected *stubEvent, got %T", got.Event)
	}
	if ev.Data != "payload" {
		t.Fatalf("payload changed: %q", ev.Data)
	}
}

func TestUnmarshalEnvelope_UnknownTypeTag(t *testing.T) {
	resetRegistries()
	RegisterEvent(func() Event { return &stubEvent{} })

	env := NewEnvelope(&stubEvent{ID: "agg-1"})
	data, err := MarshalEnvelope(env)
	if err != nil {
		t.Fatal(err)
	}

	resetRegistries()
	_, err = UnmarshalEnvelope(data)
	if err == nil || !strings.Contains(err.Error(), "not registered") {
		t.Fatalf("expected unknown-tag error, got %v", err)
	}
}

func TestUnmarshalEnvelope_MalformedBytes(t *testing.T) {
	if _, err := UnmarshalEnvelope([]byte("{not json")); err == nil {
		t.Fatal("expected error for malformed bytes")
	}
}

func TestCommandEnvelopeCodec_RoundTrip(t *testing.T) {
	resetRegistries()
	RegisterCommand(func() Command { return &stubCmd{} })

	env := NewCommandEnvelope(&stubCmd{ID: "agg-1", Data: "do it"},
		WithCommandCorrelationID("corr-1"),
		WithCommandCausationID("cause-1"),
	)

	data, err := MarshalCommandEnvelope(env)
	if err != nil {
		t.Fatal(err)
	}

	got, err := UnmarshalCommandEnvelope(data)
	if err != nil {
		t.Fatal(err)
	}

	if got.CommandID != env.CommandID || got.CorrelationID != "corr-1" || got.CausationID != "cause-1" {
		t.Fatalf("metadata changed: %+v", got)
	}

	cmd, ok := got.Command.(*stubCmd)
	if !ok {
		t.Fatalf("expected *stubCmd, got %T", got.Command)
	}
	if cmd.ID != "agg-1" || cmd.Data != "do it" {
		t.Fatalf("payload changed: %+v", cmd)
	}
}

func TestUnmarshalCommandEnvelope_UnknownTypeTag(t *testing.T) {
	resetRegistries()
	RegisterCommand(func() Command { return &stubCmd{} })

	data, err := MarshalCommandEnvelope(NewCommandEnvelope(&stubCmd{ID: "agg-1"}))
	if err != nil {
		t.Fatal(err)
	}

	resetRegistries()
	_, err = UnmarshalCommandEnvelope(data)
	if err == nil || !strings.Contains(err.Error(), "not registered") {
		t.Fatalf("expected unknown-tag error, got %v", err)
	}
}

// The codec is the unit the transports share; a round trip through it must
// preserve the metadata the context carriers later expose to handlers.
func TestCodecThenContext(t *testing.T) {
	resetRegistries()
	RegisterEvent(func() Event { return &stubEvent{} })

	env := NewEnvelope(&stubEvent{ID: "agg-1"}, WithCorrelationID("corr-7"))
	data, err := MarshalEnvelope(env)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalEnvelope(data)
	if err != nil {
		t.Fatal(err)
	}

	ctx := WithEnvelope(context.Background(), &got)
	if CorrelationIDFromContext(ctx) != "corr-7" {
		t.Fatalf("correlation lost across codec: %q", CorrelationIDFromContext(ctx))
	}
	if OccurredAtFromContext(ctx).IsZero() {
		t.Fatal("occurred-at lost across codec")
	}
	if time.Since(OccurredAtFromContext(ctx)) > time.Minute {
		t.Fatal("occurred-at implausibly old")
	}
}
