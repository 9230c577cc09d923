package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Strob0t/DocSync/internal/domain/user"
)

func TestIdentityAttachesUserAndCredential(t *testing.T) {
	var got user.Identity
	var token string
	handler := Identity(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got, _ = user.FromContext(r.Context())
		token = user.CredentialFromContext(r.Context()).Reveal()
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workspaces", http.NoBody)
	req.Header.Set("X-User-ID", "u-1")
	req.Header.Set("X-User-Name", "Dana")
	req.Header.Set("Authorization", "Bearer ghp_secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got.ID != "u-1" || got.DisplayName != "Dana" {
		t.Errorf("unexpected identity %+v", got)
	}
	if token != "ghp_secret" {
		t.Errorf("expected credential to be attached, got %q", token)
	}
}

func TestIdentityRejections(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		auth   string
	}{
		{"missing user", "", "Bearer tok"},
		{"basic auth", "u-1", "Basic dXNlcjpwYXNz"},
		{"empty bearer", "u-1", "Bearer "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Identity(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Error("handler must not run")
			}))
			req := httptest.NewRequest(http.MethodGet, "/api/v1/workspaces", http.NoBody)
			if tt.userID != "" {
				req.Header.Set("X-User-ID", tt.userID)
			}
			req.Header.Set("Authorization", tt.auth)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestIdentityWithoutCredential(t *testing.T) {
	var empty bool
	handler := Identity(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		empty = user.CredentialFromContext(r.Context()).Empty()
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/workspaces", http.NoBody)
	req.Header.Set("X-User-ID", "u-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if !empty {
		t.Error("expected an empty credential")
	}
}

func TestIdentityWebSocketQueryParam(t *testing.T) {
	var got user.Identity
	handler := Identity(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got, _ = user.FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/channels/acme/docs/ws?user_id=u-7", http.NoBody)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got.ID != "u-7" {
		t.Errorf("expected u-7 from query, got %q", got.ID)
	}

	// The query fallback only applies to the WebSocket route.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/workspaces?user_id=u-7", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestIdentityPublicPath(t *testing.T) {
	called := false
	handler := Identity(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	if !called {
		t.Error("expected /health to bypass identity")
	}
}
