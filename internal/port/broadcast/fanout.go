package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/DocSync/internal/domain/event"
	"github.com/Strob0t/DocSync/internal/port/messagequeue"
)

const busPublishTimeout = 5 * time.Second

// Fanout delivers each event to the local channel registry synchronously
// and forwards it to the external bus from a background worker, so a slow
// or unreachable bus never stalls a sync operation. Events that overflow the
// forward buffer are dropped with a warning.
type Fanout struct {
	local Broadcaster
	bus   messagequeue.Publisher

	queue chan event.Event
	done  chan struct{}
	once  sync.Once
	mu    sync.RWMutex
	stop  bool
}

// NewFanout starts the forwarder. A nil bus makes Fanout a plain pass-through.
func NewFanout(local Broadcaster, bus messagequeue.Publisher, buffer int) *Fanout {
	if buffer < 1 {
		buffer = 256
	}
	f := &Fanout{local: local, bus: bus, queue: make(chan event.Event, buffer), done: make(chan struct{})}
	go f.forward()
	return f
}

func (f *Fanout) Publish(ctx context.Context, ev event.Event) {
	f.local.Publish(ctx, ev)
	if f.bus == nil {
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.stop {
		return
	}
	select {
	case f.queue <- ev:
	default:
		slog.WarnContext(ctx, "event bus buffer full, dropping event", "channel", ev.Channel, "type", ev.Type)
	}
}

func (f *Fanout) forward() {
	defer close(f.done)
	for ev := range f.queue {
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Error("event marshal failed", "type", ev.Type, "error", err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), busPublishTimeout)
		subject := messagequeue.EventSubject(ev.Channel, string(ev.Type))
		if err := f.bus.Publish(ctx, subject, data); err != nil {
			slog.Warn("event bus publish failed", "subject", subject, "error", err)
		}
		cancel()
	}
}

// Close stops accepting bus events and waits for queued ones to be forwarded
// or for ctx to end.
func (f *Fanout) Close(ctx context.Context) error {
	f.once.Do(func() {
		f.mu.Lock()
		f.stop = true
		close(f.queue)
		f.mu.Unlock()
	})
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
