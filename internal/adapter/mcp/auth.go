package mcp

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/Strob0t/DocSync/internal/domain/user"
)

// AuthMiddleware checks the X-API-Key header against apiKey. The
// Authorization header is left alone: it carries the caller's remote
// credential. If apiKey is empty, all requests pass through.
func AuthMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			http.Error(w, "missing api key", http.StatusUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
			http.Error(w, "invalid credentials", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// identityContext carries the upstream-verified user and the bearer
// credential of the request into tool calls.
func identityContext(ctx context.Context, r *http.Request) context.Context {
	id := r.Header.Get("X-User-ID")
	if id == "" {
		return ctx
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		token = ""
	}
	return user.WithIdentity(ctx, user.Identity{ID: id, DisplayName: r.Header.Get("X-User-Name")}, user.NewCredential(token))
}
