package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	cfotel "github.com/Strob0t/DocSync/internal/adapter/otel"
	"github.com/Strob0t/DocSync/internal/domain"
	"github.com/Strob0t/DocSync/internal/domain/repo"
	"github.com/Strob0t/DocSync/internal/domain/webhook"
)

// RepoWorkspaces finds the running workspaces of a repository.
type RepoWorkspaces interface {
	ForRepo(owner, name string) []*Workspace
}

// VCSWebhookService turns GitHub webhook deliveries into workspace
// notifications. Signature verification happens in the HTTP layer.
type VCSWebhookService struct {
	workspaces RepoWorkspaces
}

// NewVCSWebhookService creates a new VCSWebhookService.
func NewVCSWebhookService(workspaces RepoWorkspaces) *VCSWebhookService {
	return &VCSWebhookService{workspaces: workspaces}
}

type ghRepository struct {
	FullName string `json:"full_name"`
}

type ghSender struct {
	Login string `json:"login"`
}

// HandleGitHubPush marks the pushed branch as ahead in every workspace on
// it; clean workspaces pull right away.
func (s *VCSWebhookService) HandleGitHubPush(ctx context.Context, data []byte) (*webhook.VCSPushEvent, error) {
	var raw struct {
		Ref        string       `json:"ref"`
		Before     string       `json:"before"`
		After      string       `json:"after"`
		Forced     bool         `json:"forced"`
		Deleted    bool         `json:"deleted"`
		Repository ghRepository `json:"repository"`
		Sender     ghSender     `json:"sender"`
		Commits    []struct {
			ID      string `json:"id"`
			Message string `json:"message"`
			Author  struct {
				Name string `json:"name"`
			} `json:"author"`
			Added    []string `json:"added"`
			Modified []string `json:"modified"`
			Removed  []string `json:"removed"`
		} `json:"commits"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse github push: %w", domain.ErrValidation, err)
	}
	ref, err := repo.ParseRef(raw.Repository.FullName)
	if err != nil {
		return nil, err
	}

	ctx, span := cfotel.StartWebhookSpan(ctx, "github", string(webhook.VCSEventPush), ref.Key())
	defer span.End()

	branch, isBranch := strings.CutPrefix(raw.Ref, "refs/heads/")
	ev := &webhook.VCSPushEvent{
		VCSEvent: webhook.VCSEvent{
			Type:       webhook.VCSEventPush,
			Provider:   "github",
			Repository: ref.Key(),
			Branch:     branch,
			Sender:     raw.Sender.Login,
			CommitHash: raw.After,
			ReceivedAt: time.Now().UTC(),
		},
		Before:  raw.Before,
		After:   raw.After,
		Forced:  raw.Forced,
		Deleted: raw.Deleted,
	}
	for _, c := range raw.Commits {
		ev.Commits = append(ev.Commits, webhook.VCSCommit{
			Hash:     c.ID,
			Message:  c.Message,
			Author:   c.Author.Name,
			Added:    c.Added,
			Modified: c.Modified,
			Removed:  c.Removed,
		})
	}
	ev.Paths = touchedPaths(ev.Commits)

	// Tag pushes and branch deletions do not move a workspace head.
	if !isBranch || raw.Deleted {
		slog.Info("github push ignored", "repo", ev.Repository, "ref", raw.Ref, "deleted", raw.Deleted)
		return ev, nil
	}
	for _, ws := range s.workspaces.ForRepo(ref.Owner, ref.Name) {
		if ws.Coordinator.Branch() != branch {
			continue
		}
		ws.Coordinator.NotifyRemotePush(ctx, branch, raw.After)
		ev.Notified++
	}

	slog.Info("github push event", "repo", ev.Repository, "branch", branch, "commits", len(ev.Commits), "workspaces", ev.Notified)
	return ev, nil
}

// HandleGitHubPullRequest announces opened and updated pull requests to the
// repository's workspaces.
func (s *VCSWebhookService) HandleGitHubPullRequest(ctx context.Context, data []byte) (*webhook.VCSPullRequestEvent, error) {
	var raw struct {
		Action      string `json:"action"`
		PullRequest struct {
			Number  int    `json:"number"`
			Title   string `json:"title"`
			Body    string `json:"body"`
			HTMLURL string `json:"html_url"`
			State   string `json:"state"`
			Draft   bool   `json:"draft"`
			Merged  bool   `json:"merged"`
			Head    struct {
				Ref string `json:"ref"`
				SHA string `json:"sha"`
			} `json:"head"`
			Base struct {
				Ref string `json:"ref"`
			} `json:"base"`
		} `json:"pull_request"`
		Repository ghRepository `json:"repository"`
		Sender     ghSender     `json:"sender"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse github pull_request: %w", domain.ErrValidation, err)
	}
	ref, err := repo.ParseRef(raw.Repository.FullName)
	if err != nil {
		return nil, err
	}

	ctx, span := cfotel.StartWebhookSpan(ctx, "github", string(webhook.VCSEventPullRequest), ref.Key())
	defer span.End()

	pr := raw.PullRequest
	ev := &webhook.VCSPullRequestEvent{
		VCSEvent: webhook.VCSEvent{
			Type:       webhook.VCSEventPullRequest,
			Provider:   "github",
			Repository: ref.Key(),
			Branch:     pr.Head.Ref,
			Sender:     raw.Sender.Login,
			CommitHash: pr.Head.SHA,
			ReceivedAt: time.Now().UTC(),
		},
		Action:     raw.Action,
		PRNumber:   pr.Number,
		Title:      pr.Title,
		URL:        pr.HTMLURL,
		BaseBranch: pr.Base.Ref,
		HeadBranch: pr.Head.Ref,
		Draft:      pr.Draft,
		Merged:     pr.Merged,
	}

	detected := repo.PullRequest{
		Number: pr.Number, Title: pr.Title, Body: pr.Body, Head: pr.Head.Ref, Base: pr.Base.Ref,
		URL: pr.HTMLURL, State: pr.State, Draft: pr.Draft,
	}
	for _, ws := range s.workspaces.ForRepo(ref.Owner, ref.Name) {
		switch raw.Action {
		case "opened", "reopened", "ready_for_review", "synchronize", "edited":
			ws.Coordinator.NotifyPullRequest(ctx, detected)
		default:
			if ws.Coordinator.reads != nil {
				ws.Coordinator.reads.InvalidatePullRequests()
			}
		}
	}

	slog.Info("github PR event", "repo", ev.Repository, "action", ev.Action, "pr", ev.PRNumber)
	return ev, nil
}

func touchedPaths(commits []webhook.VCSCommit) []string {
	seen := make(map[string]struct{})
	for _, c := range commits {
		for _, list := range [][]string{c.Added, c.Modified, c.Removed} {
			for _, f := range list {
				seen[f] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
