// Package channel is the process-wide publish-subscribe registry behind the
// presence/event channel. Channels are keyed "owner/repo". Delivery is
// synchronous to the subscribers present at publish time; nothing is queued
// for absent subscribers.
package channel

import (
	"context"
	"sort"
	"sync"

	"github.com/Strob0t/DocSync/internal/domain/event"
	"github.com/Strob0t/DocSync/internal/port/broadcast"
)

// Handler receives events. It runs on the publisher's goroutine and must not
// block; slow consumers buffer and drop on their own side.
type Handler func(ctx context.Context, ev event.Event)

// Registry maps channel keys to their current subscribers.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]map[uint64]Handler
	next uint64
}

var _ broadcast.Broadcaster = (*Registry)(nil)

// New creates an empty registry.
func New() *Registry {
	return &Registry{subs: make(map[string]map[uint64]Handler)}
}

// Subscribe adds h to channel. The returned unsubscribe function is safe to
// call any number of times from any goroutine; only the first call acts.
func (r *Registry) Subscribe(channel string, h Handler) (unsubscribe func()) {
	r.mu.Lock()
	r.next++
	id := r.next
	set, ok := r.subs[channel]
	if !ok {
		set = make(map[uint64]Handler)
		r.subs[channel] = set
	}
	set[id] = h
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(channel, id) })
	}
}

func (r *Registry) remove(channel string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.subs[channel]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(r.subs, channel)
	}
}

// Publish delivers ev to every current subscriber of ev.Channel, in
// subscription order, before returning.
func (r *Registry) Publish(ctx context.Context, ev event.Event) {
	r.mu.RLock()
	set := r.subs[ev.Channel]
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, set[id])
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, ev)
	}
}

// Count returns the number of subscribers on channel.
func (r *Registry) Count(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[channel])
}

// Channels lists channels with at least one subscriber.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.subs))
	for k := range r.subs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
