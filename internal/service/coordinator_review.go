package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Strob0t/DocSync/internal/domain"
	"github.com/Strob0t/DocSync/internal/domain/event"
	"github.com/Strob0t/DocSync/internal/domain/repo"
)

// RefreshResult is what Refresh learned about the remote.
type RefreshResult struct {
	RemoteAhead bool              `json:"remote_ahead"`
	HeadSHA     string            `json:"head_sha"`
	PullRequest *repo.PullRequest `json:"pull_request,omitempty"`
}

// Refresh compares the remote head of the active branch with the store and
// looks for an open pull request from it. It never changes file content.
func (c *Coordinator) Refresh(ctx context.Context) (RefreshResult, error) {
	branch := c.Branch()
	b, err := c.client.GetBranch(ctx, branch)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("refresh %s: %w", branch, err)
	}
	res := RefreshResult{HeadSHA: b.HeadSHA}

	c.mu.Lock()
	if c.branch == branch && b.HeadSHA != c.store.Head() {
		c.remoteAhead = true
	}
	res.RemoteAhead = c.remoteAhead
	c.mu.Unlock()

	prs, err := c.pullRequests(ctx)
	if err != nil {
		return res, fmt.Errorf("refresh pull requests: %w", err)
	}
	for i := range prs {
		if prs[i].Head == branch {
			res.PullRequest = &prs[i]
			c.announcePR(ctx, prs[i])
			break
		}
	}
	c.publishStatus(ctx)
	return res, nil
}

func (c *Coordinator) pullRequests(ctx context.Context) ([]repo.PullRequest, error) {
	if c.reads != nil {
		return c.reads.PullRequests(ctx)
	}
	return c.client.ListOpenPullRequests(ctx)
}

// announcePR emits pr:detected the first time a pull request is seen.
func (c *Coordinator) announcePR(ctx context.Context, pr repo.PullRequest) {
	c.mu.Lock()
	seen := c.seenPRs[pr.Number]
	c.seenPRs[pr.Number] = true
	c.mu.Unlock()
	if seen {
		return
	}
	c.publish(ctx, event.TypePRDetected, event.PRDetected{Number: pr.Number, Title: pr.Title, Head: pr.Head, Base: pr.Base, URL: pr.URL})
}

// NotifyRemotePush records that branch moved to after outside this
// workspace. A clean workspace pulls right away; a busy one keeps the flag
// for the next pull.
func (c *Coordinator) NotifyRemotePush(ctx context.Context, branch, after string) {
	c.mu.Lock()
	if branch != c.branch || after == c.store.Head() {
		c.mu.Unlock()
		return
	}
	c.remoteAhead = true
	c.mu.Unlock()
	if c.reads != nil {
		c.reads.InvalidateCommits()
	}
	c.publishStatus(ctx)

	if c.store.HasLocalChanges() {
		return
	}
	if err := c.Pull(ctx); err != nil && !errors.Is(err, domain.ErrSyncInProgress) {
		slog.Warn("pull after remote push failed", "workspace_id", c.sess.ID, "branch", branch, "error", err)
	}
}

// NotifyPullRequest handles a pull request opened or updated elsewhere.
func (c *Coordinator) NotifyPullRequest(ctx context.Context, pr repo.PullRequest) {
	if c.reads != nil {
		c.reads.InvalidatePullRequests()
	}
	c.announcePR(ctx, pr)
}

// CreatePullRequest opens a pull request from the active branch into base
// (the default branch when empty).
func (c *Coordinator) CreatePullRequest(ctx context.Context, title, body, base string) (repo.PullRequest, error) {
	if title == "" {
		return repo.PullRequest{}, fmt.Errorf("%w: pull request title is required", domain.ErrValidation)
	}
	if base == "" {
		base = c.sess.Ref.DefaultBranch
	}
	head := c.Branch()
	if head == base {
		return repo.PullRequest{}, fmt.Errorf("%w: head and base are both %s", domain.ErrValidation, head)
	}
	pr, err := c.client.CreatePullRequest(ctx, title, body, head, base)
	if err != nil {
		return repo.PullRequest{}, err
	}
	if c.reads != nil {
		c.reads.InvalidatePullRequests()
	}
	slog.Info("pull request created", "workspace_id", c.sess.ID, "number", pr.Number, "head", head, "base", base)
	c.announcePR(ctx, pr)
	return pr, nil
}

// RefreshReviews lists the review threads of pr. Comments not seen by an
// earlier call emit comment:added; the first call only records them.
func (c *Coordinator) RefreshReviews(ctx context.Context, pr int) ([]repo.ReviewThread, error) {
	threads, err := c.client.ListReviewComments(ctx, pr)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	seen, known := c.seenReviews[pr]
	if !known {
		seen = make(map[string]bool)
		c.seenReviews[pr] = seen
	}
	var added []event.CommentAdded
	for _, th := range threads {
		for _, cm := range th.Comments {
			if seen[cm.ID] {
				continue
			}
			seen[cm.ID] = true
			if known {
				added = append(added, event.CommentAdded{
					PullRequest: pr, ThreadID: th.ID, CommentID: cm.ID, Path: th.Path, Author: cm.Author, Body: cm.Body,
				})
			}
		}
	}
	c.mu.Unlock()

	for _, a := range added {
		c.publish(ctx, event.TypeCommentAdded, a)
	}
	return threads, nil
}

// ReplyToComment answers a review comment.
func (c *Coordinator) ReplyToComment(ctx context.Context, pr int, commentID, body string) (repo.ReviewComment, error) {
	if body == "" {
		return repo.ReviewComment{}, fmt.Errorf("%w: reply body is required", domain.ErrValidation)
	}
	cm, err := c.client.ReplyToReviewComment(ctx, pr, commentID, body)
	if err != nil {
		return repo.ReviewComment{}, err
	}
	c.mu.Lock()
	if c.seenReviews[pr] == nil {
		c.seenReviews[pr] = make(map[string]bool)
	}
	c.seenReviews[pr][cm.ID] = true
	c.mu.Unlock()
	c.publish(ctx, event.TypeCommentAdded, event.CommentAdded{PullRequest: pr, CommentID: cm.ID, Author: cm.Author, Body: cm.Body})
	return cm, nil
}

func (c *Coordinator) ResolveThread(ctx context.Context, threadID string) error {
	return c.client.ResolveThread(ctx, threadID)
}

func (c *Coordinator) UnresolveThread(ctx context.Context, threadID string) error {
	return c.client.UnresolveThread(ctx, threadID)
}

// Commits lists recent commits of the active branch.
func (c *Coordinator) Commits(ctx context.Context, limit int) ([]repo.Commit, error) {
	if limit < 1 {
		limit = 20
	}
	if c.reads != nil {
		return c.reads.Commits(ctx, c.Branch(), limit)
	}
	return c.client.ListCommits(ctx, c.Branch(), limit)
}

// Branches lists the repository branches.
func (c *Coordinator) Branches(ctx context.Context) ([]repo.Branch, error) {
	if c.reads != nil {
		return c.reads.Branches(ctx)
	}
	return c.client.ListBranches(ctx)
}

// Collaborators lists the repository collaborators.
func (c *Coordinator) Collaborators(ctx context.Context) ([]repo.Collaborator, error) {
	if c.reads != nil {
		return c.reads.Collaborators(ctx)
	}
	return c.client.ListCollaborators(ctx)
}

// PullRequests lists the open pull requests.
func (c *Coordinator) PullRequests(ctx context.Context) ([]repo.PullRequest, error) {
	return c.pullRequests(ctx)
}
