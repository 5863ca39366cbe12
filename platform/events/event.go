// Package events is the in-process publish/subscribe fabric the feature
// modules communicate over: routing decisions go out as events, and inbound
// lead events trigger routing. The platform layer only moves events; the
// typed payloads live with the modules that emit them.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is implemented by every published payload.
type Event interface {
	// EventName identifies the event type; subscriptions key on it.
	EventName() string
	// EventID is unique per published event, for log correlation.
	EventID() uuid.UUID
	// OccurredAt returns when the event was produced.
	OccurredAt() time.Time
}

// BaseEvent carries the identity fields; payload types embed it and supply
// EventName themselves.
type BaseEvent struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) EventID() uuid.UUID { return e.ID }

func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }

// NewBaseEvent stamps a fresh event identity.
func NewBaseEvent() BaseEvent {
	return BaseEvent{ID: uuid.New(), Timestamp: time.Now()}
}

// Handler processes events of one name.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts an ordinary function into a Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus publishes and subscribes domain events.
type Bus interface {
	// Publish dispatches the event to every handler subscribed to its name.
	// Dispatch is asynchronous; publishers never block on consumers.
	Publish(ctx context.Context, event Event)

	// PublishSync dispatches inline and returns the first handler error.
	PublishSync(ctx context.Context, event Event) error

	// Subscribe registers a handler for the given event name.
	Subscribe(eventName string, handler Handler)
}
