// Package remote defines the Remote Repository Client port.
//
// Adapters normalize every transport failure into the domain taxonomy
// (domain.ErrUnauthorized, ErrNotFound, ErrStaleBase, ErrRateLimited,
// ErrNetwork, ErrValidation) before returning it. Callers never see
// transport status codes.
package remote

import (
	"context"

	"github.com/Strob0t/DocSync/internal/domain/repo"
)

// Provider is a process-wide connection to a hosting platform. It owns the
// shared transport state (rate limiting, circuit breaker) and hands out
// Clients bound to one repository and one credential.
type Provider interface {
	// Name returns the unique identifier for this provider (e.g. "github", "memory").
	Name() string

	// Open returns a Client for ref authenticated with token. The token is
	// held in memory only.
	Open(ctx context.Context, ref repo.Ref, token string) (Client, error)
}

// Client wraps every remote read and write for one repository.
type Client interface {
	// Repository returns the repository reference with its default branch filled in.
	Repository(ctx context.Context) (repo.Ref, error)

	GetBranch(ctx context.Context, name string) (repo.Branch, error)
	ListBranches(ctx context.Context) ([]repo.Branch, error)
	CreateBranch(ctx context.Context, name, fromSHA string) (repo.Branch, error)

	// GetTree returns the recursive blob listing at ref (a branch name or commit SHA).
	GetTree(ctx context.Context, ref string) (repo.Tree, error)
	GetFileContent(ctx context.Context, path, ref string) (repo.File, error)

	// UpdateFile writes one file with baseSHA as the blob precondition.
	UpdateFile(ctx context.Context, path, content, message, baseSHA, branch string) (repo.CommitResult, error)
	CreateFile(ctx context.Context, path, content, message, branch string) (repo.CommitResult, error)
	DeleteFile(ctx context.Context, path, sha, message, branch string) (repo.CommitResult, error)

	// MultiFileCommit builds one tree from the current head of req.Branch and
	// creates exactly one commit. When req.ExpectedHead is set and the branch
	// head differs, it returns *domain.StaleBaseError without writing.
	MultiFileCommit(ctx context.Context, req repo.CommitRequest) (repo.CommitResult, error)

	Compare(ctx context.Context, base, head string) (repo.Comparison, error)
	ListCommits(ctx context.Context, branch string, limit int) ([]repo.Commit, error)
	ListCollaborators(ctx context.Context) ([]repo.Collaborator, error)

	ListOpenPullRequests(ctx context.Context) ([]repo.PullRequest, error)
	CreatePullRequest(ctx context.Context, title, body, head, base string) (repo.PullRequest, error)
	ListReviewComments(ctx context.Context, pr int) ([]repo.ReviewThread, error)
	ReplyToReviewComment(ctx context.Context, pr int, commentID, body string) (repo.ReviewComment, error)
	ResolveThread(ctx context.Context, threadID string) error
	UnresolveThread(ctx context.Context, threadID string) error
}
