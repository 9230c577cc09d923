package github

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Strob0t/DocSync/internal/domain"
)

// apiMessage is the error body GitHub returns on 4xx/5xx.
type apiMessage struct {
	Message string `json:"message"`
}

// normalize maps a non-2xx response onto the domain taxonomy.
func normalize(method, path string, status int, header http.Header, body []byte) error {
	var msg apiMessage
	_ = json.Unmarshal(body, &msg)
	text := msg.Message
	if text == "" {
		text = strings.TrimSpace(string(body))
		if len(text) > 200 {
			text = text[:200]
		}
	}
	lower := strings.ToLower(text)
	where := fmt.Sprintf("github %s %s: %d %s", method, path, status, text)

	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusForbidden && (header.Get("X-RateLimit-Remaining") == "0" || strings.Contains(lower, "rate limit")):
		return fmt.Errorf("%s: %w", where, &domain.RateLimitError{RetryAfter: retryAfter(header, time.Now())})
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, where)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, where)
	case status == http.StatusConflict:
		return fmt.Errorf("%s: %w", where, &domain.StaleBaseError{Ref: path})
	case status == http.StatusUnprocessableEntity && isStaleMessage(lower):
		return fmt.Errorf("%s: %w", where, &domain.StaleBaseError{Ref: path})
	case status >= 500:
		return fmt.Errorf("%w: %s", domain.ErrNetwork, where)
	default:
		return fmt.Errorf("%w: %s", domain.ErrValidation, where)
	}
}

func isStaleMessage(lower string) bool {
	return strings.Contains(lower, "fast forward") ||
		strings.Contains(lower, "does not match") ||
		strings.Contains(lower, "sha wasn't supplied")
}

// retryAfter reads Retry-After (seconds or HTTP date), falling back to the
// X-RateLimit-Reset epoch.
func retryAfter(header http.Header, now time.Time) time.Duration {
	if v := header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Duration(secs) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil {
			return t.Sub(now)
		}
	}
	if v := header.Get("X-RateLimit-Reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Unix(epoch, 0).Sub(now); d > 0 {
				return d
			}
		}
	}
	return 0
}
