package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Strob0t/DocSync/internal/domain"
	"github.com/Strob0t/DocSync/internal/domain/event"
	"github.com/Strob0t/DocSync/internal/domain/workspace"
)

var seedFiles = map[string]string{
	"a.md": "alpha",
	"b.md": "beta",
	"d.md": "delta",
}

func TestCoordinatorPushIsOneCommit(t *testing.T) {
	f := newFixture(t, seedFiles, workspace.StrategyDirect)
	ctx := context.Background()

	f.edit(t, "a.md", "alpha v2")
	f.edit(t, "b.md", "beta v2")
	if _, err := f.coord.EnqueueOperation(ctx, workspace.Create("c.md", "gamma")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.coord.EnqueueOperation(ctx, workspace.Delete("d.md", "")); err != nil {
		t.Fatal(err)
	}

	if err := f.coord.Push(ctx); err != nil {
		t.Fatalf("push: %v", err)
	}
	if got := f.repo.Calls("MultiFileCommit"); got != 1 {
		t.Fatalf("MultiFileCommit calls = %d, want 1", got)
	}
	if got := f.repo.CommitCount("main"); got != 2 {
		t.Fatalf("commit count = %d, want 2", got)
	}
	files := f.repo.Files("main")
	want := map[string]string{"a.md": "alpha v2", "b.md": "beta v2", "c.md": "gamma"}
	if len(files) != len(want) {
		t.Fatalf("remote files = %v", files)
	}
	for p, c := range want {
		if files[p] != c {
			t.Errorf("%s = %q, want %q", p, files[p], c)
		}
	}
	last, _ := f.repo.LastCommit("main")
	if last.Message != DefaultAutoSaveMessage {
		t.Errorf("message = %q", last.Message)
	}

	st := f.coord.State()
	if st.Status != workspace.StatusSynced || len(st.DirtyFiles) != 0 || len(st.PendingOps) != 0 {
		t.Fatalf("state = %+v", st)
	}
	if st.HeadSHA != f.repo.Head("main") {
		t.Fatalf("head = %s, remote = %s", st.HeadSHA, f.repo.Head("main"))
	}
	if got := len(f.bus.ofType(event.TypeFileChanged)); got < 4 {
		t.Fatalf("file:changed events = %d", got)
	}
}

func TestCoordinatorPushNothingIsNoop(t *testing.T) {
	f := newFixture(t, seedFiles, workspace.StrategyDirect)
	if err := f.coord.Push(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := f.repo.Calls("MultiFileCommit"); got != 0 {
		t.Fatalf("MultiFileCommit calls = %d", got)
	}
}

func TestCoordinatorFailedPushKeepsLocalState(t *testing.T) {
	f := newFixture(t, seedFiles, workspace.StrategyDirect)
	ctx := context.Background()
	f.edit(t, "a.md", "changed")
	if _, err := f.coord.EnqueueOperation(ctx, workspace.Create("new.md", "n")); err != nil {
		t.Fatal(err)
	}
	f.repo.InjectFault("MultiFileCommit", fmt.Errorf("%w: connection reset", domain.ErrNetwork), 1)

	if err := f.coord.Push(ctx); !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	st := f.coord.State()
	if st.Status != workspace.StatusError || st.LastError == "" {
		t.Fatalf("state = %+v", st)
	}
	if len(st.DirtyFiles) != 1 || len(st.PendingOps) != 1 {
		t.Fatalf("local changes lost: %+v", st)
	}
	if got := f.repo.CommitCount("main"); got != 1 {
		t.Fatalf("commit count = %d", got)
	}

	if err := f.coord.Retry(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if st := f.coord.State(); st.Status != workspace.StatusSynced {
		t.Fatalf("status after retry = %s", st.Status)
	}
}

func TestCoordinatorCommitMessage(t *testing.T) {
	f := newFixture(t, seedFiles, workspace.StrategyDirect)
	ctx := context.Background()

	if err := f.coord.Commit(ctx, "Update docs", ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("clean workspace: expected ErrValidation, got %v", err)
	}
	f.edit(t, "a.md", "x")
	if err := f.coord.Commit(ctx, "  ", ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("blank message: expected ErrValidation, got %v", err)
	}
	if err := f.coord.Commit(ctx, "Update docs", "Rewrites the intro."); err != nil {
		t.Fatal(err)
	}
	last, _ := f.repo.LastCommit("main")
	if last.Message != "Update docs\n\nRewrites the intro." {
		t.Fatalf("message = %q", last.Message)
	}
}

func TestCoordinatorExclusiveSlot(t *testing.T) {
	f := newFixture(t, seedFiles, workspace.StrategyDirect)
	ctx := context.Background()
	f.edit(t, "a.md", "changed")

	entered := make(chan struct{})
	release := make(chan struct{})
	f.repo.OnCall("MultiFileCommit", func() {
		close(entered)
		<-release
	})

	done := make(chan error, 1)
	go func() { done <- f.coord.Push(ctx) }()
	<-entered

	if err := f.coord.Push(ctx); !errors.Is(err, domain.ErrSyncInProgress) {
		t.Fatalf("second push: expected ErrSyncInProgress, got %v", err)
	}
	if err := f.coord.Pull(ctx); !errors.Is(err, domain.ErrSyncInProgress) {
		t.Fatalf("pull: expected ErrSyncInProgress, got %v", err)
	}
	if st := f.coord.State(); st.Status != workspace.StatusSyncing {
		t.Fatalf("status = %s, want syncing", st.Status)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first push: %v", err)
	}
	if got := f.repo.CommitCount("main"); got != 2 {
		t.Fatalf("commit count = %d", got)
	}
}

func TestCoordinatorStaleDisjointRetriesOnce(t *testing.T) {
	f := newFixture(t, seedFiles, workspace.StrategyDirect)
	ctx := context.Background()
	f.edit(t, "a.md", "mine")

	moved := false
	f.repo.OnCall("MultiFileCommit", func() {
		if !moved {
			moved = true
			f.repo.Advance("main", "unrelated", map[string]*string{"other.md": strp("theirs")})
		}
	})

	if err := f.coord.Push(ctx); err != nil {
		t.Fatalf("push: %v", err)
	}
	if got := f.repo.Calls("MultiFileCommit"); got != 2 {
		t.Fatalf("MultiFileCommit calls = %d, want 2", got)
	}
	files := f.repo.Files("main")
	if files["a.md"] != "mine" || files["other.md"] != "theirs" {
		t.Fatalf("remote files = %v", files)
	}
	st := f.coord.State()
	if !st.RemoteAhead || st.Status != workspace.StatusRemoteChanges {
		t.Fatalf("state = %+v", st)
	}
}

func TestCoordinatorStaleTwiceIsConflict(t *testing.T) {
	f := newFixture(t, seedFiles, workspace.StrategyDirect)
	ctx := context.Background()
	f.edit(t, "a.md", "mine")

	n := 0
	f.repo.OnCall("MultiFileCommit", func() {
		n++
		f.repo.Advance("main", "busy", map[string]*string{fmt.Sprintf("other-%d.md", n): strp("x")})
	})

	if err := f.coord.Push(ctx); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if got := f.repo.Calls("MultiFileCommit"); got != 2 {
		t.Fatalf("MultiFileCommit calls = %d, want exactly one retry", got)
	}
	if st := f.coord.State(); st.Status != workspace.StatusConflict {
		t.Fatalf("status = %s", st.Status)
	}
}

func TestCoordinatorOverlapNeverOverwrites(t *testing.T) {
	f := newFixture(t, seedFiles, workspace.StrategyDirect)
	ctx := context.Background()
	f.edit(t, "a.md", "mine")

	moved := false
	f.repo.OnCall("MultiFileCommit", func() {
		if !moved {
			moved = true
			f.repo.Advance("main", "collaborator edit", map[string]*string{"a.md": strp("theirs")})
		}
	})

	if err := f.coord.Push(ctx); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if got := f.repo.Calls("MultiFileCommit"); got != 1 {
		t.Fatalf("MultiFileCommit calls = %d, want no retry", got)
	}
	if got := f.repo.Files("main")["a.md"]; got != "theirs" {
		t.Fatalf("remote a.md = %q", got)
	}
	st := f.coord.State()
	if len(st.Conflicts) != 1 || st.Conflicts[0] != "a.md" || len(st.DirtyFiles) != 1 {
		t.Fatalf("state = %+v", st)
	}
	if e, _ := f.store.Entry("a.md"); e.Content != "mine" {
		t.Fatalf("local content = %q", e.Content)
	}

	// Pushing again is refused until the conflict is resolved.
	if err := f.coord.Push(ctx); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if got := f.repo.Calls("MultiFileCommit"); got != 1 {
		t.Fatalf("blocked push reached the remote")
	}

	if err := f.coord.ResolveConflict(ctx, "a.md", true); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := f.coord.Push(ctx); err != nil {
		t.Fatalf("push after resolve: %v", err)
	}
	if got := f.repo.Files("main")["a.md"]; got != "mine" {
		t.Fatalf("remote a.md = %q", got)
	}
}

func TestCoordinatorResolveTakingRemote(t *testing.T) {
	f := newFixture(t, seedFiles, workspace.StrategyDirect)
	ctx := context.Background()
	f.open(t, "b.md")
	f.edit(t, "a.md", "mine")
	f.repo.Advance("main", "remote edits", map[string]*string{"a.md": strp("theirs"), "b.md": strp("beta remote")})

	if err := f.coord.Pull(ctx); err != nil {
		t.Fatal(err)
	}
	if e, _ := f.store.Entry("b.md"); e.Content != "beta remote" {
		t.Fatalf("clean file not updated: %q", e.Content)
	}
	st := f.coord.State()
	if len(st.Conflicts) != 1 || st.Conflicts[0] != "a.md" {
		t.Fatalf("conflicts = %v", st.Conflicts)
	}
	if err := f.coord.ResolveConflict(ctx, "b.md", false); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for a clean path, got %v", err)
	}

	if err := f.coord.ResolveConflict(ctx, "a.md", false); err != nil {
		t.Fatal(err)
	}
	e, _ := f.store.Entry("a.md")
	if e.Content != "theirs" || e.IsDirty {
		t.Fatalf("a.md = %+v", e)
	}
	if st := f.coord.State(); st.Status != workspace.StatusSynced {
		t.Fatalf("status = %s", st.Status)
	}
}

func TestCoordinatorPullRemovesDeletedFiles(t *testing.T) {
	f := newFixture(t, seedFiles, workspace.StrategyDirect)
	f.open(t, "b.md")
	f.repo.Advance("main", "drop b", map[string]*string{"b.md": nil})

	if err := f.coord.Pull(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.store.Entry("b.md"); ok {
		t.Fatal("b.md should be gone")
	}
	var deleted bool
	for _, ev := range f.bus.ofType(event.TypeFileChanged) {
		var fc event.FileChanged
		if err := json.Unmarshal(ev.Payload, &fc); err != nil {
			t.Fatal(err)
		}
		if fc.Path == "b.md" && fc.Delete && fc.Source == "remote" {
			deleted = true
		}
	}
	if !deleted {
		t.Fatal("expected a remote delete event for b.md")
	}
}

func TestCoordinatorSwitchRequiresConfirmation(t *testing.T) {
	f := newFixture(t, seedFiles, workspace.StrategyDirect)
	ctx := context.Background()
	if _, err := f.coord.CreateBranch(ctx, "feature"); err != nil {
		t.Fatal(err)
	}
	f.repo.Advance("feature", "feature work", map[string]*string{"a.md": strp("feature alpha")})
	f.edit(t, "a.md", "unsaved")

	err := f.coord.SwitchBranch(ctx, "feature", false)
	var confirm *domain.ConfirmationError
	if !errors.As(err, &confirm) {
		t.Fatalf("expected ConfirmationError, got %v", err)
	}
	if len(confirm.Paths) != 1 || confirm.Paths[0] != "a.md" {
		t.Fatalf("paths = %v", confirm.Paths)
	}
	if f.coord.Branch() != "main" || len(f.store.DirtyFiles()) != 1 {
		t.Fatal("declined switch changed state")
	}

	if err := f.coord.SwitchBranch(ctx, "missing", true); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if f.coord.Branch() != "main" || len(f.store.DirtyFiles()) != 1 {
		t.Fatal("failed switch changed state")
	}

	if err := f.coord.SwitchBranch(ctx, "feature", true); err != nil {
		t.Fatal(err)
	}
	if f.coord.Branch() != "feature" || len(f.store.DirtyFiles()) != 0 {
		t.Fatalf("state = %+v", f.coord.State())
	}
	if e, _ := f.store.Entry("a.md"); e.Content != "feature alpha" {
		t.Fatalf("open file not reloaded: %q", e.Content)
	}
	if got := len(f.bus.ofType(event.TypeBranchSwitched)); got != 1 {
		t.Fatalf("branch:switched events = %d", got)
	}
}

func TestCoordinatorDiscard(t *testing.T) {
	f := newFixture(t, seedFiles, workspace.StrategyDirect)
	ctx := context.Background()
	f.edit(t, "a.md", "scratch")
	if _, err := f.coord.EnqueueOperation(ctx, workspace.Create("tmp.md", "t")); err != nil {
		t.Fatal(err)
	}

	reverted, err := f.coord.Discard(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(reverted) != 2 {
		t.Fatalf("reverted = %v", reverted)
	}
	if e, _ := f.store.Entry("a.md"); e.Content != "alpha" {
		t.Fatalf("a.md = %q", e.Content)
	}
	if _, ok := f.store.Entry("tmp.md"); ok {
		t.Fatal("created file should be gone")
	}
	if f.docs.Document(f.coord.Session().ID, "a.md", "").Text() != "alpha" {
		t.Fatal("document not reverted")
	}
}

func TestCoordinatorSupersededPush(t *testing.T) {
	f := newFixture(t, seedFiles, workspace.StrategyDirect)
	ctx := context.Background()
	f.edit(t, "a.md", "draft")

	discarded := make(chan error, 1)
	f.repo.OnCall("MultiFileCommit", func() {
		go func() {
			_, err := f.coord.Discard(ctx)
			discarded <- err
		}()
		// Hold the commit until the discard is queued behind it.
		for {
			f.coord.mu.Lock()
			w := f.coord.waiting
			f.coord.mu.Unlock()
			if w > 0 {
				return
			}
			time.Sleep(time.Millisecond)
		}
	})

	if err := f.coord.Push(ctx); !errors.Is(err, domain.ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
	if err := <-discarded; err != nil {
		t.Fatal(err)
	}
	st := f.coord.State()
	if !st.RemoteAhead || st.LastError != "" {
		t.Fatalf("state = %+v", st)
	}
}

func TestCoordinatorAutoBranchCreatedOnce(t *testing.T) {
	f := newFixture(t, seedFiles, workspace.StrategyAutoBranch)
	ctx := context.Background()
	mainHead := f.repo.Head("main")

	f.edit(t, "a.md", "one")
	if err := f.coord.Push(ctx); err != nil {
		t.Fatal(err)
	}
	f.edit(t, "a.md", "two")
	if err := f.coord.Push(ctx); err != nil {
		t.Fatal(err)
	}

	if got := f.repo.Calls("CreateBranch"); got != 1 {
		t.Fatalf("CreateBranch calls = %d, want 1", got)
	}
	branch := f.coord.Session().SessionBranch()
	if branch == "" || f.coord.Branch() != branch {
		t.Fatalf("active branch = %q, session branch = %q", f.coord.Branch(), branch)
	}
	if f.repo.Head("main") != mainHead {
		t.Fatal("auto-branch strategy committed to the default branch")
	}
	if got := f.repo.CommitCount(branch); got != 3 {
		t.Fatalf("commit count on %s = %d", branch, got)
	}
	if got := f.repo.Files(branch)["a.md"]; got != "two" {
		t.Fatalf("a.md = %q", got)
	}
}

func TestCoordinatorAutoBranchAfterManualSwitch(t *testing.T) {
	f := newFixture(t, seedFiles, workspace.StrategyAutoBranch)
	ctx := context.Background()
	mainHead := f.repo.Head("main")

	f.edit(t, "a.md", "one")
	if err := f.coord.Push(ctx); err != nil {
		t.Fatal(err)
	}
	first := f.coord.Session().SessionBranch()

	if err := f.coord.SwitchBranch(ctx, "main", false); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if f.coord.Session().SessionBranch() != "" {
		t.Fatal("switch kept the session branch")
	}

	f.edit(t, "a.md", "again")
	if err := f.coord.Push(ctx); err != nil {
		t.Fatalf("push after switch: %v", err)
	}
	second := f.coord.Session().SessionBranch()
	if second == "" || second == first || f.coord.Branch() != second {
		t.Fatalf("session branches %q then %q, active %q", first, second, f.coord.Branch())
	}
	if got := f.repo.Calls("CreateBranch"); got != 2 {
		t.Fatalf("CreateBranch calls = %d, want 2", got)
	}
	if got := f.repo.Files(second)["a.md"]; got != "again" {
		t.Fatalf("a.md on %s = %q", second, got)
	}
	if got := f.repo.Files(first)["a.md"]; got != "one" {
		t.Fatalf("a.md on %s = %q", first, got)
	}
	if f.repo.Head("main") != mainHead {
		t.Fatal("auto-branch strategy committed to the default branch")
	}
	if st := f.coord.State(); st.Status != workspace.StatusSynced || st.LastError != "" {
		t.Fatalf("state = %+v", st)
	}
}

func TestCoordinatorPullWithDisjointDirtyFiles(t *testing.T) {
	f := newFixture(t, seedFiles, workspace.StrategyDirect)
	ctx := context.Background()
	f.open(t, "b.md")
	f.edit(t, "a.md", "mine")
	f.repo.Advance("main", "remote edit", map[string]*string{"b.md": strp("beta remote")})

	if err := f.coord.Pull(ctx); err != nil {
		t.Fatal(err)
	}
	if e, _ := f.store.Entry("b.md"); e.Content != "beta remote" {
		t.Fatalf("clean file not updated: %q", e.Content)
	}
	if e, _ := f.store.Entry("a.md"); e.Content != "mine" || !e.IsDirty {
		t.Fatalf("dirty file touched: %+v", e)
	}
	st := f.coord.State()
	if st.Status != workspace.StatusRemoteChanges || !st.RemoteMoved || len(st.Conflicts) != 0 {
		t.Fatalf("state = %+v", st)
	}

	// Pulling again at the same head keeps the flag.
	if err := f.coord.Pull(ctx); err != nil {
		t.Fatal(err)
	}
	if st := f.coord.State(); st.Status != workspace.StatusRemoteChanges {
		t.Fatalf("status after second pull = %s", st.Status)
	}

	if err := f.coord.Push(ctx); err != nil {
		t.Fatalf("push: %v", err)
	}
	files := f.repo.Files("main")
	if files["a.md"] != "mine" || files["b.md"] != "beta remote" {
		t.Fatalf("remote files = %v", files)
	}
	if st := f.coord.State(); st.Status != workspace.StatusSynced || st.RemoteMoved {
		t.Fatalf("state after push = %+v", st)
	}
}

func TestCoordinatorRetryWhileBusyKeepsError(t *testing.T) {
	f := newFixture(t, seedFiles, workspace.StrategyDirect)
	ctx := context.Background()
	f.edit(t, "a.md", "changed")
	f.repo.InjectFault("MultiFileCommit", fmt.Errorf("%w: connection reset", domain.ErrNetwork), 1)
	if err := f.coord.Push(ctx); !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	blocked := false
	f.repo.OnCall("GetBranch", func() {
		if !blocked {
			blocked = true
			close(entered)
			<-release
		}
	})
	done := make(chan error, 1)
	go func() { done <- f.coord.Pull(ctx) }()
	<-entered

	if err := f.coord.Retry(ctx); !errors.Is(err, domain.ErrSyncInProgress) {
		t.Fatalf("retry: expected ErrSyncInProgress, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("pull: %v", err)
	}
	if st := f.coord.State(); st.Status != workspace.StatusError || st.LastError == "" {
		t.Fatalf("error indicator lost: %+v", st)
	}

	if err := f.coord.Retry(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if st := f.coord.State(); st.Status != workspace.StatusSynced {
		t.Fatalf("status after retry = %s", st.Status)
	}
}

func TestCoordinatorOpenFile(t *testing.T) {
	f := newFixture(t, seedFiles, workspace.StrategyDirect)
	ctx := context.Background()
	if _, err := f.coord.OpenFile(ctx, "../etc/passwd"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := f.coord.OpenFile(ctx, "missing.md"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	e, err := f.coord.OpenFile(ctx, "a.md")
	if err != nil {
		t.Fatal(err)
	}
	if e.Content != "alpha" || e.SHA() == "" || e.IsDirty {
		t.Fatalf("entry = %+v", e)
	}
	if !f.coord.CloseFile("a.md") {
		t.Fatal("clean file should close")
	}
}

func TestCoordinatorPatchFromPeer(t *testing.T) {
	f := newFixture(t, seedFiles, workspace.StrategyDirect)
	ctx := context.Background()
	f.open(t, "a.md")

	// Another editor types into the shared document.
	f.docs.Document(f.coord.Session().ID, "a.md", "").SetText("alpha, edited by a peer")

	e, _ := f.store.Entry("a.md")
	if e.Content != "alpha, edited by a peer" || !e.IsDirty {
		t.Fatalf("entry = %+v", e)
	}
	if err := f.coord.Push(ctx); err != nil {
		t.Fatal(err)
	}
	if got := f.repo.Files("main")["a.md"]; got != "alpha, edited by a peer" {
		t.Fatalf("remote a.md = %q", got)
	}
}
