package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidEvent is returned when an event lacks the fields needed to ingest it.
var ErrInvalidEvent = errors.New("invalid ingest event")

// IngestEvent announces an upstream work item that should land in an inbox.
// Events carrying a SourceID are delivered idempotently: redelivery refreshes
// the existing task instead of creating a second one.
type IngestEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// InboxID names the inbox that receives the task
	InboxID string `json:"inbox_id"`

	// SourceID is the upstream identity of the work item, if any
	SourceID string `json:"source_id,omitempty"`

	// Type is the task type handlers are registered under
	Type string `json:"type"`

	Title    string `json:"title,omitempty"`
	Priority int    `json:"priority"`

	// Payload contains the task-specific data serialized as JSON
	Payload json.RawMessage `json:"payload,omitempty"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks that the event names an inbox and a task type.
func (e *IngestEvent) Validate() error {
	switch {
	case e == nil:
		return ErrInvalidEvent
	case e.InboxID == "":
		return errors.Join(ErrInvalidEvent, errors.New("inbox ID cannot be empty"))
	case e.Type == "":
		return errors.Join(ErrInvalidEvent, errors.New("type cannot be empty"))
	case len(e.Payload) > 0 && !json.Valid(e.Payload):
		return errors.Join(ErrInvalidEvent, errors.New("payload must be valid JSON"))
	}
	return nil
}

// UnmarshalPayload decodes the event payload into the provided structure.
func (e *IngestEvent) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// NewIngestEvent creates an event for inboxID with payload serialized to JSON.
// sourceID may be empty for items without an upstream identity.
func NewIngestEvent(inboxID, sourceID, taskType string, payload any) (*IngestEvent, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &IngestEvent{
		ID:        uuid.New(),
		InboxID:   inboxID,
		SourceID:  sourceID,
		Type:      taskType,
		Payload:   payloadBytes,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	HandleEvent(ctx context.Context, event *IngestEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows producers to publish work without knowing how it is stored.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *IngestEvent) error
}

// HandlerFunc adapts a function to the EventHandler interface.
type HandlerFunc func(ctx context.Context, event *IngestEvent) error

// HandleEvent calls f(ctx, event).
func (f HandlerFunc) HandleEvent(ctx context.Context, event *IngestEvent) error {
	return f(ctx, event)
}
