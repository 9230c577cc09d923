// Package broadcast defines the port for publishing sync events to listeners.
package broadcast

import (
	"context"

	"github.com/Strob0t/DocSync/internal/domain/event"
)

// Broadcaster delivers an event to everything listening on ev.Channel.
type Broadcaster interface {
	Publish(ctx context.Context, ev event.Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, event.Event) {}
