package eventflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// The wire codec translates between envelopes and their JSON wire shapes.
// Payload type information travels as an explicit type tag resolved against
// the registries, so a consumer can reconstruct the concrete subtype without
// reflection over unknown bytes.

// eventWire is the serialized form of an event envelope.
type eventWire struct {
	EventID       string          `json:"eventId"`
	AggregateID   string          `json:"aggregateId"`
	AggregateType string          `json:"aggregateType"`
	EventType     string          `json:"eventType"`
	CorrelationID string          `json:"correlationId,omitempty"`
	CausationID   string          `json:"causationId,omitempty"`
	TenantID      string          `json:"tenantId,omitempty"`
	OccurredAt    time.Time       `json:"occurredAt"`
	Payload       json.RawMessage `json:"payload"`
}

// commandWire is the serialized form of a command envelope.
type commandWire struct {
	CommandID     string          `json:"commandId"`
	CorrelationID string          `json:"correlationId"`
	CausationID   string          `json:"causationId,omitempty"`
	TenantID      string          `json:"tenantId,omitempty"`
	Type          string          `json:"type"`
	OccurredAt    time.Time       `json:"occurredAt"`
	Payload       json.RawMessage `json:"payload"`
}

// MarshalEnvelope serializes an event envelope to its wire shape.
func MarshalEnvelope(env Envelope) ([]byte, error) {
	payload, err := json.Marshal(env.Event)
	if err != nil {
		return nil, fmt.Errorf("marshal event %q: %w", env.EventType, err)
	}

	return json.Marshal(eventWire{
		EventID:       env.EventID.String(),
		AggregateID:   env.AggregateID,
		AggregateType: env.AggregateType,
		EventType:     env.EventType,
		CorrelationID: env.CorrelationID,
		CausationID:   env.CausationID,
		TenantID:      env.TenantID,
		OccurredAt:    env.OccurredAt,
		Payload:       payload,
	})
}

// UnmarshalEnvelope reconstructs an event envelope from wire bytes. The
// concrete event type is created through the event registry; an unknown type
// tag or malformed payload is an error the consumer routes to dead-letter.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var wire eventWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal event envelope: %w", err)
	}

	eventID, err := uuid.Parse(wire.EventID)
	if err != nil {
		return Envelope{}, fmt.Errorf("unmarshal event envelope: bad event id %q: %w", wire.EventID, err)
	}

	event, err := NewEventByName(wire.EventType)
	if err != nil {
		return Envelope{}, err
	}

	if err := json.Unmarshal(wire.Payload, event); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal event %q payload: %w", wire.EventType, err)
	}

	return Envelope{
		EventID:       eventID,
		AggregateID:   wire.AggregateID,
		AggregateType: wire.AggregateType,
		EventType:     wire.EventType,
		CorrelationID: wire.CorrelationID,
		CausationID:   wire.CausationID,
		TenantID:      wire.TenantID,
		OccurredAt:    wire.OccurredAt,
		Event:         event,
	}, nil
}

// MarshalCommandEnvelope serializes a command envelope to its wire shape.
func MarshalCommandEnvelope(env CommandEnvelope) ([]byte, error) {
	payload, err := json.Marshal(env.Command)
	if err != nil {
		return nil, fmt.Errorf("marshal command %q: %w", env.Command.CommandType(), err)
	}

	return json.Marshal(commandWire{
		CommandID:     env.CommandID,
		CorrelationID: env.CorrelationID,
		CausationID:   env.CausationID,
		TenantID:      env.TenantID,
		Type:          env.Command.CommandType(),
		OccurredAt:    env.OccurredAt,
		Payload:       payload,
	})
}

// UnmarshalCommandEnvelope reconstructs a command envelope from wire bytes
// using the command registry.
func UnmarshalCommandEnvelope(data []byte) (CommandEnvelope, error) {
	var wire commandWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return CommandEnvelope{}, fmt.Errorf("unmarshal command envelope: %w", err)
	}

	command, err := NewCommandByName(wire.Type)
	if err != nil {
		return CommandEnvelope{}, err
	}

	if err := json.Unmarshal(wire.Payload, command); err != nil {
		return CommandEnvelope{}, fmt.Errorf("unmarshal command %q payload: %w", wire.Type, err)
	}

	return CommandEnvelope{
		CommandID:     wire.CommandID,
		CorrelationID: wire.CorrelationID,
		CausationID:   wire.CausationID,
		TenantID:      wire.TenantID,
		OccurredAt:    wire.OccurredAt,
		Command:       command,
	}, nil
}
