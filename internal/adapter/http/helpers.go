package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/DocSync/internal/domain"
)

// maxRequestBodySize bounds JSON bodies; file content travels in them.
const maxRequestBodySize = 8 << 20

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// urlParam returns a chi URL parameter.
func urlParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}

// queryInt parses an integer query parameter, returning def when it is
// absent. ok is false when the value is present but malformed.
func queryInt(r *http.Request, key string, def int) (n int, ok bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

type errorResponse struct {
	Error string `json:"error"`
}

// confirmationResponse lists what a confirmed request would discard.
type confirmationResponse struct {
	Error      string   `json:"error"`
	Action     string   `json:"action"`
	DirtyFiles []string `json:"dirty_files"`
	PendingOps int      `json:"pending_ops"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeDomainError maps the sync error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error, fallbackMsg string) {
	var confirm *domain.ConfirmationError
	var limited *domain.RateLimitError
	switch {
	case errors.As(err, &confirm):
		writeJSON(w, http.StatusConflict, confirmationResponse{
			Error:      domain.ErrConfirmationRequired.Error(),
			Action:     confirm.Action,
			DirtyFiles: confirm.Paths,
			PendingOps: confirm.PendingOps,
		})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, fallbackMsg)
	case errors.Is(err, domain.ErrValidation):
		msg := strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
		writeError(w, http.StatusBadRequest, msg)
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "remote credential missing or rejected")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrSyncInProgress):
		writeError(w, http.StatusLocked, domain.ErrSyncInProgress.Error())
	case errors.Is(err, domain.ErrSuperseded):
		writeError(w, http.StatusConflict, domain.ErrSuperseded.Error())
	case errors.Is(err, domain.ErrStaleBase):
		writeError(w, http.StatusConflict, "remote changed; pull and retry")
	case errors.As(err, &limited):
		if limited.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(limited.RetryAfter.Seconds()))))
		}
		writeError(w, http.StatusTooManyRequests, "remote rate limit reached")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "remote rate limit reached")
	case errors.Is(err, domain.ErrNetwork):
		slog.Warn("remote unavailable", "error", err)
		writeError(w, http.StatusBadGateway, "remote repository unavailable")
	default:
		writeInternalError(w, err)
	}
}

// writeInternalError logs the actual error server-side and returns a generic message to the client.
func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
