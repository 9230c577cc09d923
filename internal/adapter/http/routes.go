package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	cfotel "github.com/Strob0t/DocSync/internal/adapter/otel"
	"github.com/Strob0t/DocSync/internal/middleware"
	"github.com/Strob0t/DocSync/internal/port/cache"
)

// commandTimeout bounds one workspace request. Streams are not subject to it.
const commandTimeout = 60 * time.Second

// RouteOptions configures the middleware around the API routes.
type RouteOptions struct {
	CORSOrigin  string
	ServiceName string
	// WebhookSecret returns the current GitHub webhook secret.
	WebhookSecret func() string
	// RateLimiter limits workspace commands per user; nil disables it.
	RateLimiter *middleware.RateLimiter
	// Idempotency remembers successful command responses; nil disables it.
	Idempotency    cache.Cache
	IdempotencyTTL time.Duration
	// Health answers /health; nil reports a bare "ok".
	Health http.HandlerFunc
}

// NewRouter builds the complete HTTP handler: global middleware, health, the
// webhook endpoint and the /api/v1 routes.
func NewRouter(h *Handlers, opts RouteOptions) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(Logger)
	r.Use(chimw.Recoverer)
	r.Use(SecurityHeaders)
	if opts.CORSOrigin != "" {
		r.Use(CORS(opts.CORSOrigin))
	}
	if opts.ServiceName != "" {
		r.Use(cfotel.HTTPMiddleware(opts.ServiceName))
	}

	health := opts.Health
	if health == nil {
		health = func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		}
	}
	r.Get("/health", health)
	r.Get("/health/ready", health)

	MountRoutes(r, h, opts)
	return r
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, opts RouteOptions) {
	secret := opts.WebhookSecret
	if secret == nil {
		secret = middleware.StaticSecret("")
	}

	// VCS webhooks (outside identity, use HMAC verification)
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.With(middleware.WebhookHMAC(secret, "X-Hub-Signature-256")).
			Post("/github", h.HandleGitHubWebhook)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": h.Version})
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Identity)

			// Event channel streams are long-lived and skip the command limits.
			r.Get("/channels/{owner}/{repo}/events", h.StreamEvents)
			r.Get("/channels/{owner}/{repo}/ws", h.ServeWebSocket)

			r.Group(func(r chi.Router) {
				if opts.RateLimiter != nil {
					r.Use(opts.RateLimiter.Handler)
				}
				if opts.Idempotency != nil {
					r.Use(middleware.Idempotency(opts.Idempotency, opts.IdempotencyTTL))
				}
				r.Use(chimw.Timeout(commandTimeout))
				mountWorkspaceRoutes(r, h)
			})
		})
	})
}

func mountWorkspaceRoutes(r chi.Router, h *Handlers) {
	r.Post("/workspaces", h.StartWorkspace)
	r.Get("/workspaces", h.ListWorkspaces)

	r.Route("/workspaces/{id}", func(r chi.Router) {
		r.Get("/", h.GetWorkspace)
		r.Delete("/", h.EndWorkspace)

		// Files and queued operations
		r.Get("/files", h.OpenFile)
		r.Put("/files", h.EditFile)
		r.Delete("/files", h.CloseFile)
		r.Post("/files/patch", h.PatchFile)
		r.Post("/files/presence", h.UpdatePresence)
		r.Post("/operations", h.EnqueueOperation)

		// Sync commands
		r.Post("/commit", h.Commit)
		r.Post("/push", h.Push)
		r.Post("/pull", h.Pull)
		r.Post("/retry", h.Retry)
		r.Post("/discard", h.Discard)
		r.Post("/refresh", h.Refresh)
		r.Post("/conflicts/resolve", h.ResolveConflict)

		// Branches
		r.Post("/branch", h.SwitchBranch)
		r.Get("/branches", h.ListBranches)
		r.Post("/branches", h.CreateBranch)

		// History, collaborators and review
		r.Get("/commits", h.ListCommits)
		r.Get("/collaborators", h.ListCollaborators)
		r.Get("/pulls", h.ListPullRequests)
		r.Post("/pulls", h.CreatePullRequest)
		r.Get("/pulls/{number}/reviews", h.ListReviewThreads)
		r.Post("/pulls/{number}/comments/{commentID}/replies", h.ReplyToComment)
		r.Post("/threads/{threadID}/resolve", h.ResolveThread)
		r.Post("/threads/{threadID}/unresolve", h.UnresolveThread)

		// Tab state
		r.Get("/tabs", h.GetTabs)
		r.Put("/tabs", h.SaveTabs)
	})
}
