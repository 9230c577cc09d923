package memremote

import (
	"context"
	"errors"
	"testing"

	"github.com/Strob0t/DocSync/internal/domain"
	"github.com/Strob0t/DocSync/internal/domain/repo"
)

func strp(s string) *string { return &s }

func newTestRepo(t *testing.T) (*Repository, *Client) {
	t.Helper()
	r := NewRepository(repo.Ref{Owner: "acme", Name: "handbook"}, map[string]string{
		"README.md": "# Handbook\n",
		"old.md":    "stale\n",
	})
	return r, NewClient(r)
}

func TestBlobSHAIsGitObjectID(t *testing.T) {
	// git hash-object of "hello\n"
	if got := objectID("blob", "hello\n"); got != "ce013625030ba8dba906f756967f9e9ca394464a" {
		t.Fatalf("objectID = %s", got)
	}
}

func TestMultiFileCommitIsOneCommit(t *testing.T) {
	r, c := newTestRepo(t)
	ctx := context.Background()
	before := r.CommitCount("main")
	head := r.Head("main")

	res, err := c.MultiFileCommit(ctx, repo.CommitRequest{
		Branch:       "main",
		Message:      "batch",
		ExpectedHead: head,
		Files: []repo.FileChange{
			{Path: "README.md", Content: strp("# New\n")},
			{Path: "docs/x.md", Content: strp("x\n")},
			{Path: "old.md"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.CommitCount("main") != before+1 {
		t.Fatalf("expected exactly one new commit, got %d", r.CommitCount("main")-before)
	}
	if r.Head("main") != res.SHA {
		t.Fatal("branch should point at the new commit")
	}
	files := r.Files("main")
	if files["README.md"] != "# New\n" || files["docs/x.md"] != "x\n" {
		t.Fatalf("unexpected files %v", files)
	}
	if _, ok := files["old.md"]; ok {
		t.Fatal("old.md should be deleted")
	}
	if res.Blobs["docs/x.md"] == "" {
		t.Fatal("expected blob SHA for created file")
	}
}

func TestMultiFileCommitStaleHead(t *testing.T) {
	r, c := newTestRepo(t)
	old := r.Head("main")
	current := r.Advance("main", "elsewhere", map[string]*string{"other.md": strp("o")})

	_, err := c.MultiFileCommit(context.Background(), repo.CommitRequest{
		Branch: "main", Message: "m", ExpectedHead: old,
		Files: []repo.FileChange{{Path: "README.md", Content: strp("x")}},
	})
	var stale *domain.StaleBaseError
	if !errors.As(err, &stale) {
		t.Fatalf("expected StaleBaseError, got %v", err)
	}
	if stale.Current != current || stale.Expected != old {
		t.Fatalf("unexpected stale error %+v", stale)
	}
	if r.Head("main") != current {
		t.Fatal("stale commit must not move the branch")
	}
}

func TestMultiFileCommitDeleteMissingPath(t *testing.T) {
	_, c := newTestRepo(t)
	_, err := c.MultiFileCommit(context.Background(), repo.CommitRequest{
		Branch: "main", Message: "m",
		Files: []repo.FileChange{{Path: "nope.md"}},
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestContentsAPIPreconditions(t *testing.T) {
	r, c := newTestRepo(t)
	ctx := context.Background()
	f, err := c.GetFileContent(ctx, "README.md", "main")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.UpdateFile(ctx, "README.md", "v2", "m", "deadbeef", "main"); !errors.Is(err, domain.ErrStaleBase) {
		t.Fatalf("expected stale base for wrong sha, got %v", err)
	}
	if _, err := c.UpdateFile(ctx, "README.md", "v2", "m", f.SHA, "main"); err != nil {
		t.Fatal(err)
	}
	if r.Files("main")["README.md"] != "v2" {
		t.Fatal("update not applied")
	}
	if _, err := c.CreateFile(ctx, "README.md", "dup", "m", "main"); !errors.Is(err, domain.ErrStaleBase) {
		t.Fatalf("expected stale base for existing path, got %v", err)
	}
	if _, err := c.DeleteFile(ctx, "missing.md", "x", "m", "main"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCompareListsChangedFiles(t *testing.T) {
	r, c := newTestRepo(t)
	base := r.Head("main")
	r.Advance("main", "one", map[string]*string{"a.md": strp("a")})
	head := r.Advance("main", "two", map[string]*string{"old.md": nil})

	cmp, err := c.Compare(context.Background(), base, head)
	if err != nil {
		t.Fatal(err)
	}
	if cmp.AheadBy != 2 || cmp.BehindBy != 0 || cmp.Status != "ahead" {
		t.Fatalf("unexpected comparison %+v", cmp)
	}
	if len(cmp.Files) != 2 || cmp.Files[0] != "a.md" || cmp.Files[1] != "old.md" {
		t.Fatalf("unexpected files %v", cmp.Files)
	}
}

func TestBranchesAndPullRequests(t *testing.T) {
	r, c := newTestRepo(t)
	ctx := context.Background()

	b, err := c.CreateBranch(ctx, "feature", r.Head("main"))
	if err != nil {
		t.Fatal(err)
	}
	if b.HeadSHA != r.Head("main") {
		t.Fatal("branch should start at main head")
	}
	if _, err := c.CreateBranch(ctx, "feature", r.Head("main")); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for duplicate branch, got %v", err)
	}

	pr, err := c.CreatePullRequest(ctx, "Docs", "body", "feature", "main")
	if err != nil {
		t.Fatal(err)
	}
	open, err := c.ListOpenPullRequests(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 || open[0].Number != pr.Number {
		t.Fatalf("unexpected open PRs %+v", open)
	}

	r.AddReviewThread(pr.Number, repo.ReviewThread{ID: "T1", Path: "README.md", Comments: []repo.ReviewComment{{ID: "C1", Body: "typo"}}})
	if _, err := c.ReplyToReviewComment(ctx, pr.Number, "C1", "fixed"); err != nil {
		t.Fatal(err)
	}
	if err := c.ResolveThread(ctx, "T1"); err != nil {
		t.Fatal(err)
	}
	threads, err := c.ListReviewComments(ctx, pr.Number)
	if err != nil {
		t.Fatal(err)
	}
	if !threads[0].Resolved || len(threads[0].Comments) != 2 {
		t.Fatalf("unexpected thread %+v", threads[0])
	}
	if err := c.UnresolveThread(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInjectFaultAndHooks(t *testing.T) {
	r, c := newTestRepo(t)
	r.InjectFault("GetTree", domain.ErrNetwork, 1)

	if _, err := c.GetTree(context.Background(), "main"); !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected injected fault, got %v", err)
	}
	if _, err := c.GetTree(context.Background(), "main"); err != nil {
		t.Fatalf("fault should be consumed, got %v", err)
	}

	hooked := 0
	r.OnCall("GetBranch", func() { hooked++ })
	_, _ = c.GetBranch(context.Background(), "main")
	if hooked != 1 || r.Calls("GetBranch") != 1 || r.Calls("GetTree") != 2 {
		t.Fatalf("hooked=%d calls=%d/%d", hooked, r.Calls("GetBranch"), r.Calls("GetTree"))
	}
}

func TestProviderOpen(t *testing.T) {
	p := NewProvider("")
	if _, err := p.Open(context.Background(), repo.Ref{Owner: "a", Name: "b"}, ""); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized without token, got %v", err)
	}
	c, err := p.Open(context.Background(), repo.Ref{Owner: "a", Name: "b"}, "tok")
	if err != nil {
		t.Fatal(err)
	}
	ref, err := c.Repository(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ref.DefaultBranch != "main" {
		t.Fatalf("expected main default branch, got %q", ref.DefaultBranch)
	}
	if _, ok := p.Get("a/b"); !ok {
		t.Fatal("expected repository to be created on open")
	}
}
