package port

import (
	"context"
	"loan-upload/internal/core/domain"
)

// EventSink receives lifecycle and progress events
type EventSink interface {
	Emit(event domain.Event)
}

// Listener is called synchronously for each published event
type Listener func(event domain.Event)

// EventPublisher forwards events to an external broker
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
	Close() error
}
