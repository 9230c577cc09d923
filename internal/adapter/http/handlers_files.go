package http

import (
	"net/http"

	"github.com/Strob0t/DocSync/internal/domain/user"
	"github.com/Strob0t/DocSync/internal/domain/workspace"
	"github.com/Strob0t/DocSync/internal/port/mergeengine"
)

type fileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type patchRequest struct {
	Path  string `json:"path"`
	Patch string `json:"patch"`
}

type presenceRequest struct {
	Path string `json:"path"`
	// Action is "join", "heartbeat" or "leave".
	Action      string `json:"action"`
	Color       string `json:"color,omitempty"`
	Cursor      int    `json:"cursor"`
	SelectionTo int    `json:"selection_to,omitempty"`
}

// OpenFile handles GET /api/v1/workspaces/{id}/files?path=...
func (h *Handlers) OpenFile(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	entry, err := ws.Coordinator.OpenFile(r.Context(), path)
	if err != nil {
		writeDomainError(w, err, "file not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// EditFile handles PUT /api/v1/workspaces/{id}/files
func (h *Handlers) EditFile(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[fileRequest](w, r)
	if !ok {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if err := ws.Coordinator.Edit(r.Context(), req.Path, req.Content); err != nil {
		writeDomainError(w, err, "file not found")
		return
	}
	writeJSON(w, http.StatusOK, ws.State())
}

// CloseFile handles DELETE /api/v1/workspaces/{id}/files?path=...
// Dirty files stay tracked; the response says whether the file was dropped.
func (h *Handlers) CloseFile(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"closed": ws.Coordinator.CloseFile(path)})
}

// PatchFile handles POST /api/v1/workspaces/{id}/files/patch. The caller's
// user ID identifies the peer in the shared document.
func (h *Handlers) PatchFile(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[patchRequest](w, r)
	if !ok {
		return
	}
	if req.Path == "" || req.Patch == "" {
		writeError(w, http.StatusBadRequest, "path and patch are required")
		return
	}
	who, _ := user.FromContext(r.Context())
	change, err := ws.Coordinator.ApplyPatch(r.Context(), req.Path, who.ID, req.Patch)
	if err != nil {
		writeDomainError(w, err, "file not found")
		return
	}
	writeJSON(w, http.StatusOK, change)
}

// UpdatePresence handles POST /api/v1/workspaces/{id}/files/presence
func (h *Handlers) UpdatePresence(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[presenceRequest](w, r)
	if !ok {
		return
	}
	p, ok := ws.Coordinator.Presence(req.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "file is not open")
		return
	}
	who, _ := user.FromContext(r.Context())
	switch req.Action {
	case "join":
		p.Join(mergeengine.Peer{
			ID:          who.ID,
			DisplayName: who.DisplayName,
			Color:       req.Color,
			Cursor:      req.Cursor,
			SelectionTo: req.SelectionTo,
		})
	case "heartbeat":
		if !p.Heartbeat(who.ID, req.Cursor, req.SelectionTo) {
			writeError(w, http.StatusNotFound, "peer has not joined")
			return
		}
	case "leave":
		p.Leave(who.ID)
	default:
		writeError(w, http.StatusBadRequest, "action must be join, heartbeat or leave")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EnqueueOperation handles POST /api/v1/workspaces/{id}/operations
func (h *Handlers) EnqueueOperation(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	op, ok := readJSON[workspace.Operation](w, r)
	if !ok {
		return
	}
	queued, err := ws.Coordinator.EnqueueOperation(r.Context(), op)
	if err != nil {
		writeDomainError(w, err, "file not found")
		return
	}
	writeJSON(w, http.StatusAccepted, queued)
}
