package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Strob0t/DocSync/internal/clock"
	"github.com/Strob0t/DocSync/internal/domain/user"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestAs(userID, remote string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/workspaces", http.NoBody)
	req.RemoteAddr = remote
	if userID != "" {
		ctx := user.WithIdentity(context.Background(), user.Identity{ID: userID}, user.Credential{})
		req = req.WithContext(ctx)
	}
	return req
}

func TestRateLimiterBurstThenReject(t *testing.T) {
	rl := NewRateLimiter(10, 5)
	handler := rl.Handler(okHandler())

	for i := range 5 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestAs("u-1", "192.168.1.1:4000"))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
		if rec.Header().Get("X-RateLimit-Remaining") == "" {
			t.Fatal("expected X-RateLimit-Remaining header")
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestAs("u-1", "192.168.1.1:4000"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestRateLimiterKeysByUser(t *testing.T) {
	rl := NewRateLimiter(10, 2)
	handler := rl.Handler(okHandler())

	// Two users behind the same proxy address get separate buckets.
	for range 2 {
		handler.ServeHTTP(httptest.NewRecorder(), requestAs("u-1", "10.0.0.1:1"))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestAs("u-1", "10.0.0.1:1"))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("u-1: expected 429, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, requestAs("u-2", "10.0.0.1:1"))
	if rec.Code != http.StatusOK {
		t.Errorf("u-2: expected 200, got %d", rec.Code)
	}
}

func TestRateLimiterFallsBackToIP(t *testing.T) {
	rl := NewRateLimiter(10, 1)
	handler := rl.Handler(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), requestAs("", "10.0.0.1:1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestAs("", "10.0.0.1:2"))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("same IP: expected 429, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, requestAs("", "10.0.0.2:1"))
	if rec.Code != http.StatusOK {
		t.Errorf("other IP: expected 200, got %d", rec.Code)
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(10, 10)
	handler := rl.Handler(okHandler())
	handler.ServeHTTP(httptest.NewRecorder(), requestAs("u-1", "10.0.0.1:1"))
	handler.ServeHTTP(httptest.NewRecorder(), requestAs("u-2", "10.0.0.1:1"))
	if rl.Len() != 2 {
		t.Fatalf("expected 2 buckets, got %d", rl.Len())
	}

	rl.cleanup(-time.Second)
	if rl.Len() != 0 {
		t.Errorf("expected idle buckets to be removed, got %d", rl.Len())
	}
}

func TestRateLimiterRefills(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	rl := NewRateLimiter(2, 1)
	rl.clock = clk
	handler := rl.Handler(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), requestAs("u-1", "10.0.0.1:1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestAs("u-1", "10.0.0.1:1"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Errorf("expected Retry-After 1, got %q", got)
	}

	clk.Advance(500 * time.Millisecond)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, requestAs("u-1", "10.0.0.1:1"))
	if rec.Code != http.StatusOK {
		t.Errorf("after refill: expected 200, got %d", rec.Code)
	}
}
