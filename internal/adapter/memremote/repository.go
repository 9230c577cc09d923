// Package memremote implements the remote port with an in-memory repository.
// Object IDs are real git SHA-1s, ref updates are compare-and-swap, and faults
// can be injected per operation. It backs local development and the sync
// engine's test-suite.
package memremote

import (
	"crypto/sha1" //nolint:gosec // git object ids are SHA-1
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Strob0t/DocSync/internal/domain"
	"github.com/Strob0t/DocSync/internal/domain/repo"
)

type commitObject struct {
	sha     string
	tree    string
	parents []string
	message string
	author  string
	date    time.Time
}

type fault struct {
	err       error
	remaining int
}

// Repository is one in-memory repository. All methods are safe for
// concurrent use.
type Repository struct {
	mu            sync.Mutex
	ref           repo.Ref
	blobs         map[string]string
	trees         map[string]map[string]string
	commits       map[string]*commitObject
	refs          map[string]string
	protected     map[string]bool
	pulls         []repo.PullRequest
	threads       map[int][]repo.ReviewThread
	collaborators []repo.Collaborator
	faults        map[string]*fault
	calls         map[string]int
	hooks         map[string]func()
	seq           int
	now           func() time.Time
}

// NewRepository creates a repository whose default branch holds one initial
// commit with files.
func NewRepository(ref repo.Ref, files map[string]string) *Repository {
	if ref.DefaultBranch == "" {
		ref.DefaultBranch = "main"
	}
	r := &Repository{
		ref:       ref,
		blobs:     make(map[string]string),
		trees:     make(map[string]map[string]string),
		commits:   make(map[string]*commitObject),
		refs:      make(map[string]string),
		protected: make(map[string]bool),
		threads:   make(map[int][]repo.ReviewThread),
		faults:    make(map[string]*fault),
		calls:     make(map[string]int),
		hooks:     make(map[string]func()),
		now:       time.Now,
	}
	tree := make(map[string]string, len(files))
	for p, c := range files {
		tree[p] = r.putBlob(c)
	}
	r.refs[ref.DefaultBranch] = r.putCommit(r.putTree(tree), nil, "Initial commit", "docsync")
	return r
}

// Ref returns the repository reference.
func (r *Repository) Ref() repo.Ref { return r.ref }

// InjectFault makes the next n calls of op fail with err before doing any
// work. op is a Client method name such as "MultiFileCommit".
func (r *Repository) InjectFault(op string, err error, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults[op] = &fault{err: err, remaining: n}
}

// OnCall registers fn to run (outside the repository lock) at the start of
// every call of op, before faults are checked. Tests use it to move the
// remote under an in-flight operation.
func (r *Repository) OnCall(op string, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn == nil {
		delete(r.hooks, op)
		return
	}
	r.hooks[op] = fn
}

// Calls returns how many times op was invoked, including failed calls.
func (r *Repository) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

// CommitCount returns the number of commits reachable from branch.
func (r *Repository) CommitCount(branch string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for sha := r.refs[branch]; sha != ""; {
		n++
		c := r.commits[sha]
		if len(c.parents) == 0 {
			break
		}
		sha = c.parents[0]
	}
	return n
}

// Head returns the head SHA of branch, or "" when it does not exist.
func (r *Repository) Head(branch string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs[branch]
}

// Files returns the path -> content snapshot at the head of branch.
func (r *Repository) Files(branch string) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string)
	head, ok := r.refs[branch]
	if !ok {
		return out
	}
	for p, sha := range r.trees[r.commits[head].tree] {
		out[p] = r.blobs[sha]
	}
	return out
}

// LastCommit returns the head commit of branch.
func (r *Repository) LastCommit(branch string) (repo.Commit, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	head, ok := r.refs[branch]
	if !ok {
		return repo.Commit{}, false
	}
	return r.toCommit(r.commits[head]), true
}

// Advance commits changes to branch as another author, the way a
// collaborator pushing from elsewhere would. A nil content deletes the path.
func (r *Repository) Advance(branch, message string, changes map[string]*string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	head := r.refs[branch]
	tree := r.copyTree(r.commits[head].tree)
	for p, c := range changes {
		if c == nil {
			delete(tree, p)
			continue
		}
		tree[p] = r.putBlob(*c)
	}
	sha := r.putCommit(r.putTree(tree), []string{head}, message, "collaborator")
	r.refs[branch] = sha
	return sha
}

// Protect marks branch as protected.
func (r *Repository) Protect(branch string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.protected[branch] = true
}

// AddCollaborator appends a collaborator.
func (r *Repository) AddCollaborator(c repo.Collaborator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collaborators = append(r.collaborators, c)
}

// AddReviewThread attaches a review thread to pull request pr.
func (r *Repository) AddReviewThread(pr int, th repo.ReviewThread) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads[pr] = append(r.threads[pr], th)
}

// begin records the call, runs its hook and returns any injected fault.
func (r *Repository) begin(op string) error {
	r.mu.Lock()
	r.calls[op]++
	hook := r.hooks[op]
	r.mu.Unlock()

	if hook != nil {
		hook()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.faults[op]; ok && f.remaining > 0 {
		f.remaining--
		return f.err
	}
	return nil
}

// resolve maps a branch name or commit SHA to a commit. Must hold r.mu.
func (r *Repository) resolve(ref string) (*commitObject, error) {
	if ref == "" {
		ref = r.ref.DefaultBranch
	}
	if sha, ok := r.refs[ref]; ok {
		return r.commits[sha], nil
	}
	if c, ok := r.commits[ref]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: ref %q", domain.ErrNotFound, ref)
}

// branchHead must hold r.mu.
func (r *Repository) branchHead(branch string) (string, error) {
	if branch == "" {
		branch = r.ref.DefaultBranch
	}
	sha, ok := r.refs[branch]
	if !ok {
		return "", fmt.Errorf("%w: branch %q", domain.ErrNotFound, branch)
	}
	return sha, nil
}

func (r *Repository) putBlob(content string) string {
	sha := objectID("blob", content)
	r.blobs[sha] = content
	return sha
}

func (r *Repository) putTree(entries map[string]string) string {
	paths := make([]string, 0, len(entries))
	for p := range entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, "100644 %s\x00%s\n", p, entries[p])
	}
	sha := objectID("tree", b.String())
	r.trees[sha] = entries
	return sha
}

func (r *Repository) putCommit(tree string, parents []string, message, author string) string {
	r.seq++
	date := r.now().UTC()
	var b strings.Builder
	fmt.Fprintf(&b, "tree %s\n", tree)
	for _, p := range parents {
		fmt.Fprintf(&b, "parent %s\n", p)
	}
	fmt.Fprintf(&b, "author %s %d %d\n\n%s", author, date.Unix(), r.seq, message)
	sha := objectID("commit", b.String())
	r.commits[sha] = &commitObject{sha: sha, tree: tree, parents: parents, message: message, author: author, date: date}
	return sha
}

func (r *Repository) copyTree(sha string) map[string]string {
	src := r.trees[sha]
	out := make(map[string]string, len(src))
	for p, b := range src {
		out[p] = b
	}
	return out
}

func (r *Repository) toCommit(c *commitObject) repo.Commit {
	return repo.Commit{
		SHA:     c.sha,
		Message: c.message,
		Author:  c.author,
		Date:    c.date,
		Parents: append([]string(nil), c.parents...),
	}
}

// changedPaths lists paths whose blob differs between two trees.
func changedPaths(a, b map[string]string) []string {
	var out []string
	for p, sha := range a {
		if b[p] != sha {
			out = append(out, p)
		}
	}
	for p := range b {
		if _, ok := a[p]; !ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func objectID(kind, content string) string {
	h := sha1.New() //nolint:gosec // git object ids are SHA-1
	fmt.Fprintf(h, "%s %d\x00", kind, len(content))
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}
