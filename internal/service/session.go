package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Strob0t/DocSync/internal/domain/repo"
	"github.com/Strob0t/DocSync/internal/domain/user"
	"github.com/Strob0t/DocSync/internal/domain/workspace"
)

// Session is one user's editing session against one repository. It owns the
// session branch of the auto-branch strategy.
type Session struct {
	ID        string
	Ref       repo.Ref
	User      user.Identity
	Strategy  workspace.Strategy
	StartedAt time.Time

	prefix string

	mu            sync.Mutex
	sessionBranch string
	// generation counts session branches forgotten by ResetSessionBranch.
	generation int
}

// NewSession creates a session. prefix is prepended to session branch names.
func NewSession(id string, ref repo.Ref, who user.Identity, strategy workspace.Strategy, prefix string, startedAt time.Time) *Session {
	return &Session{ID: id, Ref: ref, User: who, Strategy: strategy, StartedAt: startedAt, prefix: prefix}
}

// SessionBranch returns the cached session branch, or "".
func (s *Session) SessionBranch() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionBranch
}

// SessionBranchName is the deterministic name of the session branch the
// next save creates. After a reset the name carries a sequence suffix so it
// never collides with a branch the session created earlier.
func (s *Session) SessionBranchName() string {
	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()
	return s.branchName(gen)
}

func (s *Session) branchName(gen int) string {
	id := s.ID
	if len(id) > 8 {
		id = id[:8]
	}
	name := fmt.Sprintf("%s%s-%s", s.prefix, s.StartedAt.UTC().Format("20060102-150405"), strings.ToLower(id))
	if gen > 0 {
		name = fmt.Sprintf("%s-%d", name, gen+1)
	}
	return name
}

// EnsureSessionBranch returns the session branch, creating it from fromSHA
// with create on first use. Later calls return the cached name without
// touching the remote. Callers are serialized by the workspace slot.
func (s *Session) EnsureSessionBranch(ctx context.Context, fromSHA string, create func(ctx context.Context, name, fromSHA string) (repo.Branch, error)) (name string, created bool, err error) {
	s.mu.Lock()
	cached := s.sessionBranch
	s.mu.Unlock()
	if cached != "" {
		return cached, false, nil
	}

	name = s.SessionBranchName()
	if _, err := create(ctx, name, fromSHA); err != nil {
		return "", false, fmt.Errorf("create session branch %s: %w", name, err)
	}
	s.mu.Lock()
	s.sessionBranch = name
	s.mu.Unlock()
	return name, true, nil
}

// ResetSessionBranch forgets the session branch. The remote branch is kept,
// and the next EnsureSessionBranch creates a new one under a fresh name.
func (s *Session) ResetSessionBranch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionBranch != "" {
		s.generation++
	}
	s.sessionBranch = ""
}
