package memremote

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/Strob0t/DocSync/internal/domain"
	"github.com/Strob0t/DocSync/internal/domain/repo"
	"github.com/Strob0t/DocSync/internal/port/remote"
)

// Client implements remote.Client against a Repository.
type Client struct {
	r *Repository
}

var _ remote.Client = (*Client)(nil)

// NewClient binds a client to r.
func NewClient(r *Repository) *Client { return &Client{r: r} }

func (c *Client) Repository(ctx context.Context) (repo.Ref, error) {
	if err := c.r.begin("Repository"); err != nil {
		return repo.Ref{}, err
	}
	return c.r.ref, ctx.Err()
}

func (c *Client) GetBranch(_ context.Context, name string) (repo.Branch, error) {
	if err := c.r.begin("GetBranch"); err != nil {
		return repo.Branch{}, err
	}
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	sha, err := c.r.branchHead(name)
	if err != nil {
		return repo.Branch{}, err
	}
	if name == "" {
		name = c.r.ref.DefaultBranch
	}
	return repo.Branch{Name: name, HeadSHA: sha, Protected: c.r.protected[name]}, nil
}

func (c *Client) ListBranches(_ context.Context) ([]repo.Branch, error) {
	if err := c.r.begin("ListBranches"); err != nil {
		return nil, err
	}
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	out := make([]repo.Branch, 0, len(c.r.refs))
	for name, sha := range c.r.refs {
		out = append(out, repo.Branch{Name: name, HeadSHA: sha, Protected: c.r.protected[name]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *Client) CreateBranch(_ context.Context, name, fromSHA string) (repo.Branch, error) {
	if err := c.r.begin("CreateBranch"); err != nil {
		return repo.Branch{}, err
	}
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	if name == "" {
		return repo.Branch{}, fmt.Errorf("%w: branch name is required", domain.ErrValidation)
	}
	if _, exists := c.r.refs[name]; exists {
		return repo.Branch{}, fmt.Errorf("%w: reference refs/heads/%s already exists", domain.ErrValidation, name)
	}
	if _, ok := c.r.commits[fromSHA]; !ok {
		return repo.Branch{}, fmt.Errorf("%w: commit %s", domain.ErrNotFound, fromSHA)
	}
	c.r.refs[name] = fromSHA
	return repo.Branch{Name: name, HeadSHA: fromSHA}, nil
}

func (c *Client) GetTree(_ context.Context, ref string) (repo.Tree, error) {
	if err := c.r.begin("GetTree"); err != nil {
		return repo.Tree{}, err
	}
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	commit, err := c.r.resolve(ref)
	if err != nil {
		return repo.Tree{}, err
	}
	entries := c.r.trees[commit.tree]
	tree := repo.Tree{SHA: commit.tree, CommitSHA: commit.sha, Entries: make([]repo.TreeEntry, 0, len(entries))}
	for p, sha := range entries {
		tree.Entries = append(tree.Entries, repo.TreeEntry{Path: p, SHA: sha, Size: int64(len(c.r.blobs[sha]))})
	}
	sort.Slice(tree.Entries, func(i, j int) bool { return tree.Entries[i].Path < tree.Entries[j].Path })
	return tree, nil
}

func (c *Client) GetFileContent(_ context.Context, path, ref string) (repo.File, error) {
	if err := c.r.begin("GetFileContent"); err != nil {
		return repo.File{}, err
	}
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	commit, err := c.r.resolve(ref)
	if err != nil {
		return repo.File{}, err
	}
	sha, ok := c.r.trees[commit.tree][path]
	if !ok {
		return repo.File{}, fmt.Errorf("%w: %s at %s", domain.ErrNotFound, path, ref)
	}
	return repo.File{Path: path, SHA: sha, Content: c.r.blobs[sha]}, nil
}

func (c *Client) UpdateFile(_ context.Context, path, content, message, baseSHA, branch string) (repo.CommitResult, error) {
	if err := c.r.begin("UpdateFile"); err != nil {
		return repo.CommitResult{}, err
	}
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	current, ok, err := c.r.blobAt(branch, path)
	if err != nil {
		return repo.CommitResult{}, err
	}
	if !ok {
		return repo.CommitResult{}, fmt.Errorf("%w: %s", domain.ErrNotFound, path)
	}
	if current != baseSHA {
		return repo.CommitResult{}, &domain.StaleBaseError{Ref: path, Expected: baseSHA, Current: current}
	}
	return c.r.writeOne(branch, message, path, &content)
}

func (c *Client) CreateFile(_ context.Context, path, content, message, branch string) (repo.CommitResult, error) {
	if err := c.r.begin("CreateFile"); err != nil {
		return repo.CommitResult{}, err
	}
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	current, ok, err := c.r.blobAt(branch, path)
	if err != nil {
		return repo.CommitResult{}, err
	}
	if ok {
		return repo.CommitResult{}, &domain.StaleBaseError{Ref: path, Current: current}
	}
	return c.r.writeOne(branch, message, path, &content)
}

func (c *Client) DeleteFile(_ context.Context, path, sha, message, branch string) (repo.CommitResult, error) {
	if err := c.r.begin("DeleteFile"); err != nil {
		return repo.CommitResult{}, err
	}
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	current, ok, err := c.r.blobAt(branch, path)
	if err != nil {
		return repo.CommitResult{}, err
	}
	if !ok {
		return repo.CommitResult{}, fmt.Errorf("%w: %s", domain.ErrNotFound, path)
	}
	if current != sha {
		return repo.CommitResult{}, &domain.StaleBaseError{Ref: path, Expected: sha, Current: current}
	}
	return c.r.writeOne(branch, message, path, nil)
}

func (c *Client) MultiFileCommit(_ context.Context, req repo.CommitRequest) (repo.CommitResult, error) {
	if err := c.r.begin("MultiFileCommit"); err != nil {
		return repo.CommitResult{}, err
	}
	if len(req.Files) == 0 {
		return repo.CommitResult{}, fmt.Errorf("%w: commit has no files", domain.ErrValidation)
	}
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	branch := req.Branch
	if branch == "" {
		branch = c.r.ref.DefaultBranch
	}
	head, err := c.r.branchHead(branch)
	if err != nil {
		return repo.CommitResult{}, err
	}
	if req.ExpectedHead != "" && req.ExpectedHead != head {
		return repo.CommitResult{}, &domain.StaleBaseError{Ref: "refs/heads/" + branch, Expected: req.ExpectedHead, Current: head}
	}

	tree := c.r.copyTree(c.r.commits[head].tree)
	blobs := make(map[string]string, len(req.Files))
	for _, f := range req.Files {
		if f.IsDelete() {
			if _, ok := tree[f.Path]; !ok {
				return repo.CommitResult{}, fmt.Errorf("%w: cannot delete missing path %s", domain.ErrValidation, f.Path)
			}
			delete(tree, f.Path)
			continue
		}
		sha := c.r.putBlob(*f.Content)
		tree[f.Path] = sha
		blobs[f.Path] = sha
	}
	treeSHA := c.r.putTree(tree)
	sha := c.r.putCommit(treeSHA, []string{head}, req.Message, "docsync")
	c.r.refs[branch] = sha
	return repo.CommitResult{SHA: sha, TreeSHA: treeSHA, Blobs: blobs}, nil
}

func (c *Client) Compare(_ context.Context, base, head string) (repo.Comparison, error) {
	if err := c.r.begin("Compare"); err != nil {
		return repo.Comparison{}, err
	}
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	b, err := c.r.resolve(base)
	if err != nil {
		return repo.Comparison{}, err
	}
	h, err := c.r.resolve(head)
	if err != nil {
		return repo.Comparison{}, err
	}
	cmp := repo.Comparison{Base: b.sha, Head: h.sha}
	cmp.AheadBy = c.r.distance(h.sha, b.sha)
	cmp.BehindBy = c.r.distance(b.sha, h.sha)
	switch {
	case b.sha == h.sha:
		cmp.Status = "identical"
	case cmp.BehindBy == 0:
		cmp.Status = "ahead"
	case cmp.AheadBy == 0:
		cmp.Status = "behind"
	default:
		cmp.Status = "diverged"
	}
	cmp.Files = changedPaths(c.r.trees[b.tree], c.r.trees[h.tree])
	return cmp, nil
}

func (c *Client) ListCommits(_ context.Context, branch string, limit int) ([]repo.Commit, error) {
	if err := c.r.begin("ListCommits"); err != nil {
		return nil, err
	}
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	commit, err := c.r.resolve(branch)
	if err != nil {
		return nil, err
	}
	var out []repo.Commit
	for commit != nil && (limit <= 0 || len(out) < limit) {
		out = append(out, c.r.toCommit(commit))
		if len(commit.parents) == 0 {
			break
		}
		commit = c.r.commits[commit.parents[0]]
	}
	return out, nil
}

func (c *Client) ListCollaborators(_ context.Context) ([]repo.Collaborator, error) {
	if err := c.r.begin("ListCollaborators"); err != nil {
		return nil, err
	}
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	return append([]repo.Collaborator(nil), c.r.collaborators...), nil
}

func (c *Client) ListOpenPullRequests(_ context.Context) ([]repo.PullRequest, error) {
	if err := c.r.begin("ListOpenPullRequests"); err != nil {
		return nil, err
	}
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	var out []repo.PullRequest
	for _, pr := range c.r.pulls {
		if pr.State == "open" {
			out = append(out, pr)
		}
	}
	return out, nil
}

func (c *Client) CreatePullRequest(_ context.Context, title, body, head, base string) (repo.PullRequest, error) {
	if err := c.r.begin("CreatePullRequest"); err != nil {
		return repo.PullRequest{}, err
	}
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	if _, err := c.r.branchHead(head); err != nil {
		return repo.PullRequest{}, err
	}
	if _, err := c.r.branchHead(base); err != nil {
		return repo.PullRequest{}, err
	}
	for _, pr := range c.r.pulls {
		if pr.State == "open" && pr.Head == head && pr.Base == base {
			return repo.PullRequest{}, fmt.Errorf("%w: a pull request already exists for %s", domain.ErrValidation, head)
		}
	}
	pr := repo.PullRequest{
		Number: len(c.r.pulls) + 1,
		Title:  title,
		Body:   body,
		Head:   head,
		Base:   base,
		State:  "open",
	}
	pr.URL = fmt.Sprintf("memory://%s/pull/%d", c.r.ref.Key(), pr.Number)
	c.r.pulls = append(c.r.pulls, pr)
	return pr, nil
}

func (c *Client) ListReviewComments(_ context.Context, pr int) ([]repo.ReviewThread, error) {
	if err := c.r.begin("ListReviewComments"); err != nil {
		return nil, err
	}
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	if pr < 1 || pr > len(c.r.pulls) {
		return nil, fmt.Errorf("%w: pull request %d", domain.ErrNotFound, pr)
	}
	threads := c.r.threads[pr]
	out := make([]repo.ReviewThread, len(threads))
	for i, th := range threads {
		th.Comments = append([]repo.ReviewComment(nil), th.Comments...)
		out[i] = th
	}
	return out, nil
}

func (c *Client) ReplyToReviewComment(_ context.Context, pr int, commentID, body string) (repo.ReviewComment, error) {
	if err := c.r.begin("ReplyToReviewComment"); err != nil {
		return repo.ReviewComment{}, err
	}
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	threads := c.r.threads[pr]
	for i := range threads {
		for _, cm := range threads[i].Comments {
			if cm.ID != commentID {
				continue
			}
			c.r.seq++
			reply := repo.ReviewComment{ID: strconv.Itoa(c.r.seq), Author: "docsync", Body: body, CreatedAt: c.r.now().UTC()}
			threads[i].Comments = append(threads[i].Comments, reply)
			return reply, nil
		}
	}
	return repo.ReviewComment{}, fmt.Errorf("%w: review comment %s", domain.ErrNotFound, commentID)
}

func (c *Client) ResolveThread(_ context.Context, threadID string) error {
	if err := c.r.begin("ResolveThread"); err != nil {
		return err
	}
	return c.r.setResolved(threadID, true)
}

func (c *Client) UnresolveThread(_ context.Context, threadID string) error {
	if err := c.r.begin("UnresolveThread"); err != nil {
		return err
	}
	return c.r.setResolved(threadID, false)
}

func (r *Repository) setResolved(threadID string, resolved bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for pr := range r.threads {
		for i := range r.threads[pr] {
			if r.threads[pr][i].ID == threadID {
				r.threads[pr][i].Resolved = resolved
				return nil
			}
		}
	}
	return fmt.Errorf("%w: review thread %s", domain.ErrNotFound, threadID)
}

// blobAt must hold r.mu.
func (r *Repository) blobAt(branch, path string) (string, bool, error) {
	head, err := r.branchHead(branch)
	if err != nil {
		return "", false, err
	}
	sha, ok := r.trees[r.commits[head].tree][path]
	return sha, ok, nil
}

// writeOne commits a single-path change on branch. Must hold r.mu.
func (r *Repository) writeOne(branch, message, path string, content *string) (repo.CommitResult, error) {
	if branch == "" {
		branch = r.ref.DefaultBranch
	}
	head := r.refs[branch]
	tree := r.copyTree(r.commits[head].tree)
	res := repo.CommitResult{}
	if content == nil {
		delete(tree, path)
	} else {
		sha := r.putBlob(*content)
		tree[path] = sha
		res.Blobs = map[string]string{path: sha}
	}
	res.TreeSHA = r.putTree(tree)
	res.SHA = r.putCommit(res.TreeSHA, []string{head}, message, "docsync")
	r.refs[branch] = res.SHA
	return res, nil
}

// distance counts first-parent commits reachable from `from` that are not
// first-parent ancestors of `to`. Must hold r.mu.
func (r *Repository) distance(from, to string) int {
	seen := make(map[string]bool)
	for sha := to; sha != ""; {
		seen[sha] = true
		c := r.commits[sha]
		if len(c.parents) == 0 {
			break
		}
		sha = c.parents[0]
	}
	n := 0
	for sha := from; sha != "" && !seen[sha]; {
		n++
		c := r.commits[sha]
		if len(c.parents) == 0 {
			break
		}
		sha = c.parents[0]
	}
	return n
}
