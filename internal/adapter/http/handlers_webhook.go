package http

import (
	"io"
	"log/slog"
	"net/http"
)

// HandleGitHubWebhook handles POST /api/v1/webhooks/github. The signature
// has already been verified by middleware.WebhookHMAC.
func (h *Handlers) HandleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	ctx := r.Context()
	switch kind := r.Header.Get("X-GitHub-Event"); kind {
	case "ping":
		writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
	case "push":
		ev, err := h.Webhooks.HandleGitHubPush(ctx, body)
		if err != nil {
			writeDomainError(w, err, "repository not found")
			return
		}
		writeJSON(w, http.StatusAccepted, ev)
	case "pull_request":
		ev, err := h.Webhooks.HandleGitHubPullRequest(ctx, body)
		if err != nil {
			writeDomainError(w, err, "repository not found")
			return
		}
		writeJSON(w, http.StatusAccepted, ev)
	default:
		slog.DebugContext(ctx, "ignoring github webhook", "event", kind, "delivery", r.Header.Get("X-GitHub-Delivery"))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	}
}
