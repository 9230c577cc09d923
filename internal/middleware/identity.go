package middleware

import (
	"net/http"
	"strings"

	"github.com/Strob0t/DocSync/internal/domain/user"
)

const (
	headerUserID   = "X-User-ID"
	headerUserName = "X-User-Name"
)

// publicPaths are exempt from identity checks.
var publicPaths = map[string]bool{
	"/health":       true,
	"/health/ready": true,
}

// Identity returns middleware that attaches the upstream-verified user and
// the remote credential to the request context. The identity provider in
// front of DocSync sets X-User-ID (and optionally X-User-Name); the
// credential travels as "Authorization: Bearer <token>".
//
// Browsers cannot set headers on a WebSocket handshake, so paths ending in
// "/ws" also accept the user ID from the user_id query parameter.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		id := r.Header.Get(headerUserID)
		if id == "" && strings.HasSuffix(r.URL.Path, "/ws") {
			id = r.URL.Query().Get("user_id")
		}
		if id == "" {
			http.Error(w, `{"error":"user identity required"}`, http.StatusUnauthorized)
			return
		}

		var cred user.Credential
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				http.Error(w, `{"error":"invalid authorization header"}`, http.StatusUnauthorized)
				return
			}
			cred = user.NewCredential(token)
		}

		who := user.Identity{ID: id, DisplayName: r.Header.Get(headerUserName)}
		next.ServeHTTP(w, r.WithContext(user.WithIdentity(r.Context(), who, cred)))
	})
}
