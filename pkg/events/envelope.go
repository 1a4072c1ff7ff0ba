// Package events provides the generic envelope infrastructure for trace
// event emission. It defines the Envelope type wrapping event payloads with
// consistent metadata and the EventSink interface for event delivery.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the envelope schema version stamped on every event.
const SchemaVersion = "1.0.0"

// Envelope wraps trace events with consistent metadata so downstream
// consumers can route, filter, and evolve schemas without parsing payloads.
type Envelope struct {
	// ID uniquely identifies this event instance.
	ID string `json:"id"`

	// Type identifies the event for routing and processing.
	// Examples: "evaluation.started", "evaluation.completed"
	Type string `json:"type"`

	// Source identifies the component that emitted this event.
	Source string `json:"source"`

	// Version enables schema evolution and backward compatibility.
	Version string `json:"version"`

	// Timestamp records when the event was emitted.
	Timestamp time.Time `json:"timestamp"`

	// Payload contains the event data as JSON. Schema varies by Type.
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope stamps a payload with a fresh event id and the standard
// metadata fields. The payload must be JSON-marshalable.
func NewEnvelope(eventType, source string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal event payload: %w", err)
	}
	return Envelope{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Version:   SchemaVersion,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}, nil
}

// EventSink delivers envelopes to downstream consumers. Implementations are
// best-effort: delivery failures must never break the emitting evaluation.
type EventSink interface {
	// Append delivers one event with best-effort semantics. Implementations
	// should return quickly; callers never fail their primary operation on
	// a sink error.
	Append(ctx context.Context, envelope Envelope) error
}

// NoOpEventSink is a null EventSink for testing or when emission is
// disabled. All Append calls succeed immediately without side effects.
type NoOpEventSink struct{}

// Append implements EventSink with no-op behavior.
func (n *NoOpEventSink) Append(_ context.Context, _ Envelope) error { return nil }

// NewNoOpEventSink creates a new no-op event sink.
func NewNoOpEventSink() EventSink { return &NoOpEventSink{} }
