package http

import (
	"net/http"
)

type commitRequest struct {
	Message     string `json:"message"`
	Description string `json:"description,omitempty"`
}

type switchBranchRequest struct {
	Branch         string `json:"branch"`
	ConfirmDiscard bool   `json:"confirm_discard,omitempty"`
}

type createBranchRequest struct {
	Name string `json:"name"`
}

type resolveConflictRequest struct {
	Path string `json:"path"`
	// Keep is "local" or "remote".
	Keep string `json:"keep"`
}

type tabsRequest struct {
	OpenTabs   []string `json:"open_tabs"`
	ActivePath string   `json:"active_path"`
}

// Commit handles POST /api/v1/workspaces/{id}/commit
func (h *Handlers) Commit(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[commitRequest](w, r)
	if !ok {
		return
	}
	if err := ws.Coordinator.Commit(r.Context(), req.Message, req.Description); err != nil {
		writeDomainError(w, err, "branch not found")
		return
	}
	writeJSON(w, http.StatusOK, ws.State())
}

// Push handles POST /api/v1/workspaces/{id}/push with the auto-save message.
func (h *Handlers) Push(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	if err := ws.Coordinator.Push(r.Context()); err != nil {
		writeDomainError(w, err, "branch not found")
		return
	}
	writeJSON(w, http.StatusOK, ws.State())
}

// Pull handles POST /api/v1/workspaces/{id}/pull
func (h *Handlers) Pull(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	if err := ws.Coordinator.Pull(r.Context()); err != nil {
		writeDomainError(w, err, "branch not found")
		return
	}
	writeJSON(w, http.StatusOK, ws.State())
}

// Retry handles POST /api/v1/workspaces/{id}/retry
func (h *Handlers) Retry(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	if err := ws.Coordinator.Retry(r.Context()); err != nil {
		writeDomainError(w, err, "branch not found")
		return
	}
	writeJSON(w, http.StatusOK, ws.State())
}

// Discard handles POST /api/v1/workspaces/{id}/discard
func (h *Handlers) Discard(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	reverted, err := ws.Coordinator.Discard(r.Context())
	if err != nil {
		writeDomainError(w, err, "workspace not found")
		return
	}
	if reverted == nil {
		reverted = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reverted": reverted, "state": ws.State()})
}

// Refresh handles POST /api/v1/workspaces/{id}/refresh
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	res, err := ws.Coordinator.Refresh(r.Context())
	if err != nil {
		writeDomainError(w, err, "branch not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SwitchBranch handles POST /api/v1/workspaces/{id}/branch. Without
// confirm_discard a workspace with local changes answers 409 and lists them.
func (h *Handlers) SwitchBranch(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[switchBranchRequest](w, r)
	if !ok {
		return
	}
	if req.Branch == "" {
		writeError(w, http.StatusBadRequest, "branch is required")
		return
	}
	if err := ws.Coordinator.SwitchBranch(r.Context(), req.Branch, req.ConfirmDiscard); err != nil {
		writeDomainError(w, err, "branch not found")
		return
	}
	writeJSON(w, http.StatusOK, ws.State())
}

// CreateBranch handles POST /api/v1/workspaces/{id}/branches
func (h *Handlers) CreateBranch(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[createBranchRequest](w, r)
	if !ok {
		return
	}
	b, err := ws.Coordinator.CreateBranch(r.Context(), req.Name)
	if err != nil {
		writeDomainError(w, err, "base revision not found")
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// ResolveConflict handles POST /api/v1/workspaces/{id}/conflicts/resolve
func (h *Handlers) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[resolveConflictRequest](w, r)
	if !ok {
		return
	}
	if req.Keep != "local" && req.Keep != "remote" {
		writeError(w, http.StatusBadRequest, "keep must be local or remote")
		return
	}
	if err := ws.Coordinator.ResolveConflict(r.Context(), req.Path, req.Keep == "local"); err != nil {
		writeDomainError(w, err, "conflict not found")
		return
	}
	writeJSON(w, http.StatusOK, ws.State())
}

// GetTabs handles GET /api/v1/workspaces/{id}/tabs
func (h *Handlers) GetTabs(w http.ResponseWriter, r *http.Request) {
	tabs, err := h.Workspaces.Tabs(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "workspace not found")
		return
	}
	writeJSON(w, http.StatusOK, tabs)
}

// SaveTabs handles PUT /api/v1/workspaces/{id}/tabs. Writes are debounced,
// so the response does not wait for the store.
func (h *Handlers) SaveTabs(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[tabsRequest](w, r)
	if !ok {
		return
	}
	if err := h.Workspaces.SaveTabs(r.Context(), urlParam(r, "id"), req.OpenTabs, req.ActivePath); err != nil {
		writeDomainError(w, err, "workspace not found")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
