package http

import (
	"net/http"
	"time"

	"github.com/Strob0t/DocSync/internal/adapter/channel"
	"github.com/Strob0t/DocSync/internal/adapter/ws"
	"github.com/Strob0t/DocSync/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Workspaces *service.Manager
	Webhooks   *service.VCSWebhookService
	Channels   *channel.Registry
	WebSocket  *ws.Handler
	// Heartbeat is the SSE keepalive interval; zero disables keepalives.
	Heartbeat time.Duration
	Version   string
}

// startWorkspaceRequest opens a workspace. AutoSaveMS overrides the
// configured debounce; 0 selects manual mode.
type startWorkspaceRequest struct {
	service.StartRequest
	AutoSaveMS *int64 `json:"autosave_ms,omitempty"`
}

// StartWorkspace handles POST /api/v1/workspaces
func (h *Handlers) StartWorkspace(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[startWorkspaceRequest](w, r)
	if !ok {
		return
	}
	if req.AutoSaveMS != nil {
		d := time.Duration(*req.AutoSaveMS) * time.Millisecond
		req.AutoSaveDelay = &d
	}
	ws, err := h.Workspaces.Start(r.Context(), req.StartRequest)
	if err != nil {
		writeDomainError(w, err, "repository or branch not found")
		return
	}
	writeJSON(w, http.StatusCreated, ws.State())
}

// ListWorkspaces handles GET /api/v1/workspaces
func (h *Handlers) ListWorkspaces(w http.ResponseWriter, r *http.Request) {
	list := h.Workspaces.List(r.Context())
	states := make([]service.WorkspaceState, 0, len(list))
	for _, ws := range list {
		states = append(states, ws.State())
	}
	writeJSON(w, http.StatusOK, states)
}

// GetWorkspace handles GET /api/v1/workspaces/{id}
func (h *Handlers) GetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ws.State())
}

// EndWorkspace handles DELETE /api/v1/workspaces/{id}. Pending changes are
// flushed first; ?discard=true drops whatever could not be pushed.
func (h *Handlers) EndWorkspace(w http.ResponseWriter, r *http.Request) {
	discard := r.URL.Query().Get("discard") == "true"
	if err := h.Workspaces.End(r.Context(), urlParam(r, "id"), discard); err != nil {
		writeDomainError(w, err, "workspace not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// workspace resolves the {id} URL parameter to a workspace of the caller.
func (h *Handlers) workspace(w http.ResponseWriter, r *http.Request) (*service.Workspace, bool) {
	ws, err := h.Workspaces.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "workspace not found")
		return nil, false
	}
	return ws, true
}
