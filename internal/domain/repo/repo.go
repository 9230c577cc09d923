// Package repo defines the remote repository domain: refs, branches, trees,
// commits, pull requests and review threads. Everything here is owned by the
// remote and never mutated locally.
package repo

import (
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/DocSync/internal/domain"
)

// Ref identifies a repository. It is immutable once a workspace session starts.
type Ref struct {
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	DefaultBranch string `json:"default_branch"`
}

// Key returns the "owner/name" channel key.
func (r Ref) Key() string { return r.Owner + "/" + r.Name }

func (r Ref) String() string { return r.Key() }

// ParseRef splits "owner/name" into a Ref with no default branch.
func ParseRef(s string) (Ref, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Ref{}, fmt.Errorf("%w: invalid repository %q: expected owner/repo", domain.ErrValidation, s)
	}
	return Ref{Owner: parts[0], Name: parts[1]}, nil
}

// Branch is a mutable pointer to a head commit.
type Branch struct {
	Name      string `json:"name"`
	HeadSHA   string `json:"head_sha"`
	Protected bool   `json:"protected,omitempty"`
}

// TreeEntry is one blob in a recursive tree listing.
type TreeEntry struct {
	Path string `json:"path"`
	SHA  string `json:"sha"`
	Size int64  `json:"size"`
}

// Tree is a recursive listing of blobs at a commit.
type Tree struct {
	SHA       string      `json:"sha"`
	CommitSHA string      `json:"commit_sha"`
	Entries   []TreeEntry `json:"entries"`
	Truncated bool        `json:"truncated,omitempty"`
}

// Index returns a path -> blob SHA map of the tree.
func (t *Tree) Index() map[string]string {
	idx := make(map[string]string, len(t.Entries))
	for _, e := range t.Entries {
		idx[e.Path] = e.SHA
	}
	return idx
}

// File is the content of one blob at a ref.
type File struct {
	Path    string `json:"path"`
	SHA     string `json:"sha"`
	Content string `json:"content"`
}

// FileChange is one path in a multi-file commit. A nil Content deletes the path.
type FileChange struct {
	Path    string  `json:"path"`
	Content *string `json:"content"`
}

// IsDelete reports whether the change removes the path.
func (c FileChange) IsDelete() bool { return c.Content == nil }

// CommitRequest describes a single atomic commit of many files.
// ExpectedHead, when set, is the compare-and-swap precondition on the branch head.
type CommitRequest struct {
	Branch       string       `json:"branch"`
	Message      string       `json:"message"`
	ExpectedHead string       `json:"expected_head,omitempty"`
	Files        []FileChange `json:"files"`
}

// Paths returns the changed paths in request order.
func (r CommitRequest) Paths() []string {
	paths := make([]string, 0, len(r.Files))
	for _, f := range r.Files {
		paths = append(paths, f.Path)
	}
	return paths
}

// CommitResult is what a successful write produced.
type CommitResult struct {
	SHA     string            `json:"sha"`
	TreeSHA string            `json:"tree_sha,omitempty"`
	Blobs   map[string]string `json:"blobs,omitempty"`
}

// Commit is a read-only commit record.
type Commit struct {
	SHA     string       `json:"sha"`
	Message string       `json:"message"`
	Author  string       `json:"author"`
	Date    time.Time    `json:"date"`
	Parents []string     `json:"parents"`
	Stats   *CommitStats `json:"stats,omitempty"`
}

// CommitStats summarizes line changes of a commit.
type CommitStats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
	Total     int `json:"total"`
}

// Comparison is the result of comparing two refs.
type Comparison struct {
	Base     string   `json:"base"`
	Head     string   `json:"head"`
	Status   string   `json:"status"`
	AheadBy  int      `json:"ahead_by"`
	BehindBy int      `json:"behind_by"`
	Files    []string `json:"files"`
}

// Touches returns the subset of paths that the comparison also changed.
func (c *Comparison) Touches(paths []string) []string {
	changed := make(map[string]struct{}, len(c.Files))
	for _, f := range c.Files {
		changed[f] = struct{}{}
	}
	var overlap []string
	for _, p := range paths {
		if _, ok := changed[p]; ok {
			overlap = append(overlap, p)
		}
	}
	return overlap
}

// PullRequest is an open or closed pull request.
type PullRequest struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Head   string `json:"head"`
	Base   string `json:"base"`
	URL    string `json:"url"`
	State  string `json:"state"`
	Draft  bool   `json:"draft,omitempty"`
}

// ReviewThread groups review comments anchored at one location.
type ReviewThread struct {
	ID       string          `json:"id"`
	Path     string          `json:"path"`
	Line     int             `json:"line"`
	Resolved bool            `json:"resolved"`
	Comments []ReviewComment `json:"comments"`
}

// ReviewComment is one comment in a review thread.
type ReviewComment struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Collaborator is a user with access to the repository.
type Collaborator struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Role      string `json:"role,omitempty"`
}
