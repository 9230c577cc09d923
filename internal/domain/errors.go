// Package domain provides shared domain-level sentinel errors.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Remote taxonomy. Remote adapters normalize every transport failure into
// one of these before it reaches the sync coordinator.
var (
	// ErrUnauthorized indicates a missing or expired remote credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound indicates the requested entity (path, branch, ref) does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStaleBase indicates an optimistic-concurrency precondition failed.
	ErrStaleBase = errors.New("stale base")

	// ErrRateLimited indicates the remote throttled the request.
	ErrRateLimited = errors.New("rate limited")

	// ErrNetwork indicates a transient transport failure.
	ErrNetwork = errors.New("network error")

	// ErrValidation indicates a malformed request.
	ErrValidation = errors.New("validation error")
)

// Coordinator errors.
var (
	// ErrConflict indicates local and remote changes overlap and require explicit resolution.
	ErrConflict = errors.New("conflict: local and remote changes overlap")

	// ErrSyncInProgress is returned when another sync operation holds the workspace.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrSuperseded is returned when an operation's epoch was invalidated while it awaited the remote.
	ErrSuperseded = errors.New("operation superseded")

	// ErrConfirmationRequired is returned when an action would discard local changes.
	ErrConfirmationRequired = errors.New("confirmation required: local changes would be discarded")
)

// StaleBaseError is the failure of a compare-and-swap write. It carries the
// value the remote currently holds so the caller can refetch without a
// second round trip.
type StaleBaseError struct {
	Ref      string
	Expected string
	Current  string
}

func (e *StaleBaseError) Error() string {
	return fmt.Sprintf("stale base for %s: expected %s, remote has %s", e.Ref, short(e.Expected), short(e.Current))
}

// Is reports ErrStaleBase equivalence.
func (e *StaleBaseError) Is(target error) bool { return target == ErrStaleBase }

// RateLimitError carries the server-advised wait before the next attempt.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// Is reports ErrRateLimited equivalence.
func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// ConfirmationError lists what would be lost if the action proceeded.
type ConfirmationError struct {
	Action     string
	Paths      []string
	PendingOps int
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("%s would discard %d dirty file(s) [%s] and %d pending operation(s)",
		e.Action, len(e.Paths), strings.Join(e.Paths, ", "), e.PendingOps)
}

// Is reports ErrConfirmationRequired equivalence.
func (e *ConfirmationError) Is(target error) bool { return target == ErrConfirmationRequired }

// Retryable reports whether err belongs to the transient part of the taxonomy.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrNetwork)
}

func short(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	if sha == "" {
		return "<none>"
	}
	return sha
}
