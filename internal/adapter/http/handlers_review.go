package http

import (
	"net/http"
	"strconv"
)

type createPullRequestRequest struct {
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
	Base  string `json:"base,omitempty"`
}

type replyRequest struct {
	Body string `json:"body"`
}

// ListBranches handles GET /api/v1/workspaces/{id}/branches
func (h *Handlers) ListBranches(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	branches, err := ws.Coordinator.Branches(r.Context())
	if err != nil {
		writeDomainError(w, err, "repository not found")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(branches))
}

// ListCommits handles GET /api/v1/workspaces/{id}/commits?limit=N
func (h *Handlers) ListCommits(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	limit, ok := queryInt(r, "limit", 20)
	if !ok || limit > 100 {
		writeError(w, http.StatusBadRequest, "limit must be between 0 and 100")
		return
	}
	commits, err := ws.Coordinator.Commits(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err, "branch not found")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(commits))
}

// ListCollaborators handles GET /api/v1/workspaces/{id}/collaborators
func (h *Handlers) ListCollaborators(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	list, err := ws.Coordinator.Collaborators(r.Context())
	if err != nil {
		writeDomainError(w, err, "repository not found")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

// ListPullRequests handles GET /api/v1/workspaces/{id}/pulls
func (h *Handlers) ListPullRequests(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	prs, err := ws.Coordinator.PullRequests(r.Context())
	if err != nil {
		writeDomainError(w, err, "repository not found")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(prs))
}

// CreatePullRequest handles POST /api/v1/workspaces/{id}/pulls
func (h *Handlers) CreatePullRequest(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[createPullRequestRequest](w, r)
	if !ok {
		return
	}
	pr, err := ws.Coordinator.CreatePullRequest(r.Context(), req.Title, req.Body, req.Base)
	if err != nil {
		writeDomainError(w, err, "branch not found")
		return
	}
	writeJSON(w, http.StatusCreated, pr)
}

// ListReviewThreads handles GET /api/v1/workspaces/{id}/pulls/{number}/reviews
func (h *Handlers) ListReviewThreads(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	number, ok := prNumber(w, r)
	if !ok {
		return
	}
	threads, err := ws.Coordinator.RefreshReviews(r.Context(), number)
	if err != nil {
		writeDomainError(w, err, "pull request not found")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(threads))
}

// ReplyToComment handles POST /api/v1/workspaces/{id}/pulls/{number}/comments/{commentID}/replies
func (h *Handlers) ReplyToComment(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	number, ok := prNumber(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[replyRequest](w, r)
	if !ok {
		return
	}
	cm, err := ws.Coordinator.ReplyToComment(r.Context(), number, urlParam(r, "commentID"), req.Body)
	if err != nil {
		writeDomainError(w, err, "comment not found")
		return
	}
	writeJSON(w, http.StatusCreated, cm)
}

// ResolveThread handles POST /api/v1/workspaces/{id}/threads/{threadID}/resolve
func (h *Handlers) ResolveThread(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	if err := ws.Coordinator.ResolveThread(r.Context(), urlParam(r, "threadID")); err != nil {
		writeDomainError(w, err, "review thread not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnresolveThread handles POST /api/v1/workspaces/{id}/threads/{threadID}/unresolve
func (h *Handlers) UnresolveThread(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	if err := ws.Coordinator.UnresolveThread(r.Context(), urlParam(r, "threadID")); err != nil {
		writeDomainError(w, err, "review thread not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func prNumber(w http.ResponseWriter, r *http.Request) (int, bool) {
	n, err := strconv.Atoi(urlParam(r, "number"))
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, "invalid pull request number")
		return 0, false
	}
	return n, true
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
