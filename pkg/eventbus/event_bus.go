// Package eventbus carries domain events into the scheduler and lifecycle
// notifications out of the engine.
package eventbus

import (
	"context"

	"github.com/dukex/missionflow/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

// EventPublisher publishes an event under key. Events sharing a key, such as
// one domain or one run, are delivered in publish order.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventSubscriber routes decoded events to the handler registered for their
// type. Handle must be called before Subscribe.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives a pointer to the concrete event, e.g. *events.DomainEvent.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
