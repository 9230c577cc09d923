package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Strob0t/DocSync/internal/domain/event"
	"github.com/Strob0t/DocSync/internal/domain/repo"
)

// sseBuffer is how many events a slow SSE client may lag before events are
// dropped for it.
const sseBuffer = 64

// channelKey validates the {owner}/{repo} URL parameters.
func channelKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	ref, err := repo.ParseRef(urlParam(r, "owner") + "/" + urlParam(r, "repo"))
	if err != nil {
		writeDomainError(w, err, "repository not found")
		return "", false
	}
	return ref.Key(), true
}

// StreamEvents handles GET /api/v1/channels/{owner}/{repo}/events as a
// server-sent event stream. Each event is one "data:" frame carrying the
// JSON envelope; ": keepalive" comment frames hold idle connections open.
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	ch, ok := channelKey(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	out := make(chan event.Event, sseBuffer)
	unsubscribe := h.Channels.Subscribe(ch, func(_ context.Context, ev event.Event) {
		select {
		case out <- ev:
		default:
			slog.Debug("sse buffer full, dropping event", "channel", ch, "type", ev.Type)
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	var tick <-chan time.Time
	if h.Heartbeat > 0 {
		t := time.NewTicker(h.Heartbeat)
		defer t.Stop()
		tick = t.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-out:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data); err != nil {
				return
			}
			flusher.Flush()
		case <-tick:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// ServeWebSocket handles GET /api/v1/channels/{owner}/{repo}/ws
func (h *Handlers) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	ch, ok := channelKey(w, r)
	if !ok {
		return
	}
	h.WebSocket.ServeChannel(w, r, ch)
}
