package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWebhookHMAC(t *testing.T) {
	const secret = "s3cret"
	payload := `{"ref":"refs/heads/main"}`

	tests := []struct {
		name      string
		secret    string
		signature string
		want      int
	}{
		{"valid", secret, SignPayload([]byte(payload), secret), http.StatusOK},
		{"valid without prefix", secret, strings.TrimPrefix(SignPayload([]byte(payload), secret), "sha256="), http.StatusOK},
		{"wrong secret", secret, SignPayload([]byte(payload), "other"), http.StatusForbidden},
		{"not hex", secret, "sha256=zz", http.StatusForbidden},
		{"missing", secret, "", http.StatusUnauthorized},
		{"unconfigured", "", SignPayload([]byte(payload), secret), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body string
			handler := WebhookHMAC(StaticSecret(tt.secret), "X-Hub-Signature-256")(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					data, _ := io.ReadAll(r.Body)
					body = string(data)
					w.WriteHeader(http.StatusOK)
				}))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/github", strings.NewReader(payload))
			if tt.signature != "" {
				req.Header.Set("X-Hub-Signature-256", tt.signature)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
			if tt.want == http.StatusOK && body != payload {
				t.Errorf("handler saw body %q, want %q", body, payload)
			}
		})
	}
}

func TestWebhookHMACReadsSecretPerRequest(t *testing.T) {
	current := "old"
	handler := WebhookHMAC(func() string { return current }, "X-Hub-Signature-256")(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))

	send := func(secret string) int {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}"))
		req.Header.Set("X-Hub-Signature-256", SignPayload([]byte("{}"), secret))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send("old"); code != http.StatusOK {
		t.Fatalf("expected 200 with old secret, got %d", code)
	}
	current = "new"
	if code := send("old"); code != http.StatusForbidden {
		t.Errorf("expected 403 after rotation, got %d", code)
	}
	if code := send("new"); code != http.StatusOK {
		t.Errorf("expected 200 with new secret, got %d", code)
	}
}
