package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Strob0t/DocSync/internal/clock"
	"github.com/Strob0t/DocSync/internal/domain/user"
)

// maxTrackedClients bounds the bucket map. New clients beyond it are
// rejected until cleanup frees room.
const maxTrackedClients = 100_000

// RateLimiter throttles requests with one token bucket per verified user,
// or per client IP when the request carries no identity. Mount it after
// Identity.
type RateLimiter struct {
	rate  float64 // tokens per second
	burst float64
	clock clock.Clock

	mu      sync.Mutex
	clients map[string]*bucket
}

type bucket struct {
	tokens float64
	at     time.Time // last refill
}

// take refills b up to now and spends one token. It returns the tokens
// left, or how long until the next token when none is available.
func (b *bucket) take(now time.Time, rate, burst float64) (left float64, wait time.Duration, ok bool) {
	b.tokens = math.Min(burst, b.tokens+now.Sub(b.at).Seconds()*rate)
	b.at = now
	if b.tokens < 1 {
		return 0, time.Duration((1 - b.tokens) / rate * float64(time.Second)), false
	}
	b.tokens--
	return b.tokens, 0, true
}

// NewRateLimiter creates a limiter allowing rate requests per second per
// client with bursts of up to burst.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		rate:    rate,
		burst:   float64(max(burst, 1)),
		clock:   clock.Real{},
		clients: make(map[string]*bucket),
	}
}

// Handler enforces the limit. Rejected requests get 429 with Retry-After
// in whole seconds.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		left, wait, ok := rl.take(clientKey(r))
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(int(rl.burst)))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(int(left)))
		if !ok {
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) take(key string) (float64, time.Duration, bool) {
	now := rl.clock.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.clients[key]
	if !ok {
		if len(rl.clients) >= maxTrackedClients {
			return 0, time.Second, false
		}
		b = &bucket{tokens: rl.burst, at: now}
		rl.clients[key] = b
	}
	return b.take(now, rl.rate, rl.burst)
}

// StartCleanup forgets clients idle for longer than maxIdle, checking every
// interval. The returned func stops it.
func (rl *RateLimiter) StartCleanup(interval, maxIdle time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.cleanup(maxIdle)
			}
		}
	}()
	return cancel
}

func (rl *RateLimiter) cleanup(maxIdle time.Duration) {
	cutoff := rl.clock.Now().Add(-maxIdle)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.clients {
		if b.at.Before(cutoff) {
			delete(rl.clients, key)
		}
	}
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func clientKey(r *http.Request) string {
	if who, ok := user.FromContext(r.Context()); ok && who.ID != "" {
		return "user:" + who.ID
	}
	// RemoteAddr only; forwarded headers are client-controlled.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
