// Package ws serves the presence/event channel over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/DocSync/internal/adapter/channel"
	"github.com/Strob0t/DocSync/internal/domain/event"
)

// sendBuffer is how many events a slow connection may lag before events
// are dropped for it.
const sendBuffer = 64

const writeTimeout = 10 * time.Second

// Subscriber is the part of the channel registry the handler needs.
type Subscriber interface {
	Subscribe(channel string, h channel.Handler) (unsubscribe func())
}

// Handler upgrades requests to WebSocket connections subscribed to one channel.
type Handler struct {
	subs      Subscriber
	heartbeat time.Duration
	origins   []string
	conns     atomic.Int64
}

// NewHandler creates a handler. heartbeat is the ping interval; zero disables
// pings. origins are accepted Origin patterns; none means any origin (CORS
// is enforced by middleware).
func NewHandler(subs Subscriber, heartbeat time.Duration, origins ...string) *Handler {
	return &Handler{subs: subs, heartbeat: heartbeat, origins: origins}
}

// ConnectionCount returns the number of open connections.
func (h *Handler) ConnectionCount() int { return int(h.conns.Load()) }

// ServeChannel upgrades the request and streams events on ch until the
// client goes away. Keepalive uses WebSocket ping control frames, which
// clients never see as messages.
func (h *Handler) ServeChannel(w http.ResponseWriter, r *http.Request, ch string) {
	opts := &websocket.AcceptOptions{OriginPatterns: h.origins}
	if len(h.origins) == 0 {
		opts.InsecureSkipVerify = true
	}
	c, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.WarnContext(r.Context(), "websocket accept failed", "channel", ch, "error", err)
		return
	}
	h.conns.Add(1)
	defer h.conns.Add(-1)

	// Inbound messages are not part of the contract; CloseRead discards
	// them and cancels ctx when the peer disconnects.
	ctx := c.CloseRead(r.Context())

	out := make(chan []byte, sendBuffer)
	unsubscribe := h.subs.Subscribe(ch, func(_ context.Context, ev event.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		select {
		case out <- data:
		default:
			slog.Debug("websocket send buffer full, dropping event", "channel", ch, "type", ev.Type)
		}
	})
	defer unsubscribe()

	slog.InfoContext(ctx, "websocket connected", "channel", ch, "remote", r.RemoteAddr)
	if err := h.pump(ctx, c, out); websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
		slog.DebugContext(ctx, "websocket write failed", "channel", ch, "error", err)
	}
	_ = c.Close(websocket.StatusNormalClosure, "")
	slog.InfoContext(ctx, "websocket disconnected", "channel", ch)
}

func (h *Handler) pump(ctx context.Context, c *websocket.Conn, out <-chan []byte) error {
	var tick <-chan time.Time
	if h.heartbeat > 0 {
		t := time.NewTicker(h.heartbeat)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		case <-tick:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Ping(pctx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
