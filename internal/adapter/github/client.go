package github

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/Strob0t/DocSync/internal/domain"
	"github.com/Strob0t/DocSync/internal/domain/repo"
	"github.com/Strob0t/DocSync/internal/port/remote"
)

// Client implements remote.Client for one repository and one token.
type Client struct {
	p     *Provider
	ref   repo.Ref
	token string
}

var _ remote.Client = (*Client)(nil)

// String never includes the token.
func (c *Client) String() string { return "github.Client{" + c.ref.Key() + "}" }

func (c *Client) url(format string, args ...any) string {
	return fmt.Sprintf("%s/repos/%s/%s", c.p.baseURL, url.PathEscape(c.ref.Owner), url.PathEscape(c.ref.Name)) +
		fmt.Sprintf(format, args...)
}

func (c *Client) get(ctx context.Context, op, u string, out any) error {
	return c.p.call(ctx, op, func(int) error {
		return c.p.do(ctx, c.token, http.MethodGet, u, nil, out)
	})
}

// escapePath escapes each segment of a repository path.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// --- wire types ---

type ghRepo struct {
	DefaultBranch string `json:"default_branch"`
}

type ghBranch struct {
	Name   string `json:"name"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
	Protected bool `json:"protected"`
}

type ghRef struct {
	Ref    string `json:"ref"`
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

type ghCommit struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Name string    `json:"name"`
			Date time.Time `json:"date"`
		} `json:"author"`
		Tree struct {
			SHA string `json:"sha"`
		} `json:"tree"`
	} `json:"commit"`
	Author *struct {
		Login string `json:"login"`
	} `json:"author"`
	Parents []struct {
		SHA string `json:"sha"`
	} `json:"parents"`
	Stats *struct {
		Additions int `json:"additions"`
		Deletions int `json:"deletions"`
		Total     int `json:"total"`
	} `json:"stats"`
}

type ghTree struct {
	SHA  string `json:"sha"`
	Tree []struct {
		Path string `json:"path"`
		Type string `json:"type"`
		SHA  string `json:"sha"`
		Size int64  `json:"size"`
	} `json:"tree"`
	Truncated bool `json:"truncated"`
}

type ghContent struct {
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type ghBlob struct {
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type ghCompare struct {
	Status   string `json:"status"`
	AheadBy  int    `json:"ahead_by"`
	BehindBy int    `json:"behind_by"`
	Files    []struct {
		Filename         string `json:"filename"`
		PreviousFilename string `json:"previous_filename"`
	} `json:"files"`
}

type ghPull struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	HTMLURL string `json:"html_url"`
	State   string `json:"state"`
	Draft   bool   `json:"draft"`
	Head    struct {
		Ref string `json:"ref"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
	} `json:"base"`
}

type ghCollaborator struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
	RoleName  string `json:"role_name"`
}

// --- reads ---

func (c *Client) Repository(ctx context.Context) (repo.Ref, error) {
	var r ghRepo
	if err := c.get(ctx, "Repository", c.url(""), &r); err != nil {
		return repo.Ref{}, err
	}
	ref := c.ref
	ref.DefaultBranch = r.DefaultBranch
	return ref, nil
}

func (c *Client) GetBranch(ctx context.Context, name string) (repo.Branch, error) {
	var b ghBranch
	if err := c.get(ctx, "GetBranch", c.url("/branches/%s", escapePath(name)), &b); err != nil {
		return repo.Branch{}, err
	}
	return repo.Branch{Name: b.Name, HeadSHA: b.Commit.SHA, Protected: b.Protected}, nil
}

const maxPages = 10

func (c *Client) ListBranches(ctx context.Context) ([]repo.Branch, error) {
	var out []repo.Branch
	for page := 1; page <= maxPages; page++ {
		var batch []ghBranch
		if err := c.get(ctx, "ListBranches", c.url("/branches?per_page=100&page=%d", page), &batch); err != nil {
			return nil, err
		}
		for _, b := range batch {
			out = append(out, repo.Branch{Name: b.Name, HeadSHA: b.Commit.SHA, Protected: b.Protected})
		}
		if len(batch) < 100 {
			break
		}
	}
	return out, nil
}

func (c *Client) CreateBranch(ctx context.Context, name, fromSHA string) (repo.Branch, error) {
	in := map[string]string{"ref": "refs/heads/" + name, "sha": fromSHA}
	var out ghRef
	err := c.p.call(ctx, "CreateBranch", func(attempt int) error {
		err := c.p.do(ctx, c.token, http.MethodPost, c.url("/git/refs"), in, &out)
		if err != nil && attempt > 0 && isValidation(err) {
			// A lost response on the first attempt leaves the ref in place.
			if b, gerr := c.GetBranch(ctx, name); gerr == nil && b.HeadSHA == fromSHA {
				out.Object.SHA = b.HeadSHA
				return nil
			}
		}
		return err
	})
	if err != nil {
		return repo.Branch{}, err
	}
	return repo.Branch{Name: name, HeadSHA: out.Object.SHA}, nil
}

func (c *Client) GetTree(ctx context.Context, ref string) (repo.Tree, error) {
	var commit ghCommit
	if err := c.get(ctx, "GetTree", c.url("/commits/%s", escapePath(ref)), &commit); err != nil {
		return repo.Tree{}, err
	}
	var t ghTree
	if err := c.get(ctx, "GetTree", c.url("/git/trees/%s?recursive=1", commit.Commit.Tree.SHA), &t); err != nil {
		return repo.Tree{}, err
	}
	tree := repo.Tree{SHA: t.SHA, CommitSHA: commit.SHA, Truncated: t.Truncated}
	for _, e := range t.Tree {
		if e.Type != "blob" {
			continue
		}
		tree.Entries = append(tree.Entries, repo.TreeEntry{Path: e.Path, SHA: e.SHA, Size: e.Size})
	}
	sort.Slice(tree.Entries, func(i, j int) bool { return tree.Entries[i].Path < tree.Entries[j].Path })
	return tree, nil
}

func (c *Client) GetFileContent(ctx context.Context, path, ref string) (repo.File, error) {
	u := c.url("/contents/%s", escapePath(path))
	if ref != "" {
		u += "?ref=" + url.QueryEscape(ref)
	}
	var fc ghContent
	if err := c.get(ctx, "GetFileContent", u, &fc); err != nil {
		return repo.File{}, err
	}
	content, err := decodeContent(fc.Content, fc.Encoding)
	if err != nil {
		return repo.File{}, err
	}
	// Files over 1 MB come back without inline content.
	if fc.Encoding == "none" || (fc.Content == "" && fc.SHA != "") {
		var b ghBlob
		if err := c.get(ctx, "GetFileContent", c.url("/git/blobs/%s", fc.SHA), &b); err != nil {
			return repo.File{}, err
		}
		if content, err = decodeContent(b.Content, b.Encoding); err != nil {
			return repo.File{}, err
		}
	}
	return repo.File{Path: path, SHA: fc.SHA, Content: content}, nil
}

func decodeContent(content, encoding string) (string, error) {
	if encoding != "base64" {
		return content, nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("%w: decode content: %w", domain.ErrNetwork, err)
	}
	return string(data), nil
}

func (c *Client) Compare(ctx context.Context, base, head string) (repo.Comparison, error) {
	var cmp ghCompare
	u := c.url("/compare/%s...%s", escapePath(base), escapePath(head))
	if err := c.get(ctx, "Compare", u, &cmp); err != nil {
		return repo.Comparison{}, err
	}
	out := repo.Comparison{Base: base, Head: head, Status: cmp.Status, AheadBy: cmp.AheadBy, BehindBy: cmp.BehindBy}
	seen := make(map[string]bool)
	for _, f := range cmp.Files {
		for _, p := range []string{f.Filename, f.PreviousFilename} {
			if p != "" && !seen[p] {
				seen[p] = true
				out.Files = append(out.Files, p)
			}
		}
	}
	sort.Strings(out.Files)
	return out, nil
}

func (c *Client) ListCommits(ctx context.Context, branch string, limit int) ([]repo.Commit, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var raw []ghCommit
	u := c.url("/commits?sha=%s&per_page=%d", url.QueryEscape(branch), limit)
	if err := c.get(ctx, "ListCommits", u, &raw); err != nil {
		return nil, err
	}
	out := make([]repo.Commit, 0, len(raw))
	for i := range raw {
		out = append(out, toCommit(&raw[i]))
	}
	return out, nil
}

func toCommit(g *ghCommit) repo.Commit {
	c := repo.Commit{
		SHA:     g.SHA,
		Message: g.Commit.Message,
		Author:  g.Commit.Author.Name,
		Date:    g.Commit.Author.Date,
	}
	if g.Author != nil && g.Author.Login != "" {
		c.Author = g.Author.Login
	}
	for _, p := range g.Parents {
		c.Parents = append(c.Parents, p.SHA)
	}
	if g.Stats != nil {
		c.Stats = &repo.CommitStats{Additions: g.Stats.Additions, Deletions: g.Stats.Deletions, Total: g.Stats.Total}
	}
	return c
}

func (c *Client) ListCollaborators(ctx context.Context) ([]repo.Collaborator, error) {
	var raw []ghCollaborator
	if err := c.get(ctx, "ListCollaborators", c.url("/collaborators?per_page=100"), &raw); err != nil {
		return nil, err
	}
	out := make([]repo.Collaborator, 0, len(raw))
	for _, r := range raw {
		out = append(out, repo.Collaborator{Login: r.Login, AvatarURL: r.AvatarURL, Role: r.RoleName})
	}
	return out, nil
}

func (c *Client) ListOpenPullRequests(ctx context.Context) ([]repo.PullRequest, error) {
	var raw []ghPull
	if err := c.get(ctx, "ListOpenPullRequests", c.url("/pulls?state=open&per_page=100"), &raw); err != nil {
		return nil, err
	}
	out := make([]repo.PullRequest, 0, len(raw))
	for i := range raw {
		out = append(out, toPull(&raw[i]))
	}
	return out, nil
}

func toPull(g *ghPull) repo.PullRequest {
	return repo.PullRequest{
		Number: g.Number,
		Title:  g.Title,
		Body:   g.Body,
		Head:   g.Head.Ref,
		Base:   g.Base.Ref,
		URL:    g.HTMLURL,
		State:  g.State,
		Draft:  g.Draft,
	}
}

func (c *Client) CreatePullRequest(ctx context.Context, title, body, head, base string) (repo.PullRequest, error) {
	in := map[string]string{"title": title, "body": body, "head": head, "base": base}
	var out ghPull
	err := c.p.call(ctx, "CreatePullRequest", func(attempt int) error {
		err := c.p.do(ctx, c.token, http.MethodPost, c.url("/pulls"), in, &out)
		if err != nil && attempt > 0 && isValidation(err) {
			if pr, ok := c.findOpenPull(ctx, head, base); ok {
				out = pr
				return nil
			}
		}
		return err
	})
	if err != nil {
		return repo.PullRequest{}, err
	}
	return toPull(&out), nil
}

func (c *Client) findOpenPull(ctx context.Context, head, base string) (ghPull, bool) {
	var raw []ghPull
	u := c.url("/pulls?state=open&head=%s&base=%s", url.QueryEscape(c.ref.Owner+":"+head), url.QueryEscape(base))
	if err := c.p.do(ctx, c.token, http.MethodGet, u, nil, &raw); err != nil || len(raw) == 0 {
		return ghPull{}, false
	}
	return raw[0], true
}

func (c *Client) ReplyToReviewComment(ctx context.Context, pr int, commentID, body string) (repo.ReviewComment, error) {
	var out struct {
		ID        int64     `json:"id"`
		Body      string    `json:"body"`
		CreatedAt time.Time `json:"created_at"`
		User      struct {
			Login string `json:"login"`
		} `json:"user"`
	}
	u := c.url("/pulls/%d/comments/%s/replies", pr, url.PathEscape(commentID))
	// Replies are not idempotent: a retry could post twice, so only the
	// first attempt is sent.
	if err := c.p.do(ctx, c.token, http.MethodPost, u, map[string]string{"body": body}, &out); err != nil {
		return repo.ReviewComment{}, err
	}
	return repo.ReviewComment{ID: fmt.Sprint(out.ID), Author: out.User.Login, Body: out.Body, CreatedAt: out.CreatedAt}, nil
}

func isValidation(err error) bool { return errors.Is(err, domain.ErrValidation) }
