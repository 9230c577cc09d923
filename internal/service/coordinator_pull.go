package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	cfotel "github.com/Strob0t/DocSync/internal/adapter/otel"
	"github.com/Strob0t/DocSync/internal/domain"
	"github.com/Strob0t/DocSync/internal/domain/event"
)

// Load reads the head and tree of the active branch into the store. It is
// the first operation of a session.
func (c *Coordinator) Load(ctx context.Context) error {
	op, err := c.begin(ctx, "load", true)
	if err != nil {
		return err
	}
	defer c.end(op)

	b, err := c.client.GetBranch(op.ctx, op.branch)
	if err != nil {
		return c.fail(op, "load", err)
	}
	tree, err := c.client.GetTree(op.ctx, b.HeadSHA)
	if err != nil {
		return c.fail(op, "load", err)
	}
	if err := c.current(op); err != nil {
		return err
	}
	c.store.Reset(b.HeadSHA, tree.Index(), nil)
	c.detachAll()
	slog.Info("workspace loaded", "workspace_id", c.sess.ID, "repo", c.sess.Ref.Key(), "branch", op.branch, "head", b.HeadSHA, "files", len(tree.Entries))
	return nil
}

// Pull moves the store to the remote head of the active branch. Clean files
// take the remote content; dirty files and paths touched by queued
// operations are left alone and reported as conflicts when the remote
// changed them too.
func (c *Coordinator) Pull(ctx context.Context) (err error) {
	op, err := c.begin(ctx, "pull", false)
	if err != nil {
		return err
	}
	defer c.end(op)

	ctx, span := cfotel.StartSyncSpan(op.ctx, "pull", c.sess.ID, c.sess.Ref.Key(), op.branch)
	defer span.End()
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		if c.metrics != nil {
			c.metrics.Pulls.Add(ctx, 1, metric.WithAttributes(
				attribute.String("repo", c.sess.Ref.Key()),
				attribute.String("outcome", outcome(err)),
			))
		}
	}()
	op.ctx = ctx
	return c.pullLocked(op)
}

func (c *Coordinator) pullLocked(op *syncOp) error {
	b, err := c.client.GetBranch(op.ctx, op.branch)
	if err != nil {
		return c.fail(op, "pull", err)
	}
	if err := c.current(op); err != nil {
		return err
	}
	c.mu.Lock()
	ahead := c.remoteAhead
	c.mu.Unlock()
	if b.HeadSHA == c.store.Head() && !ahead {
		return nil
	}

	tree, err := c.client.GetTree(op.ctx, b.HeadSHA)
	if err != nil {
		return c.fail(op, "pull", err)
	}
	index := tree.Index()
	plan := c.store.PlanPull(index)
	contents, err := c.fetch(op.ctx, plan.Fetch, b.HeadSHA)
	if err != nil {
		return c.fail(op, "pull", err)
	}
	if err := c.current(op); err != nil {
		return err
	}

	prev := c.store.Head()
	res := c.store.ApplyRemote(b.HeadSHA, index, contents)
	c.mu.Lock()
	c.remoteAhead = false
	// Local edits kept across a moved head need the user's attention even
	// when no path overlaps.
	c.remoteMoved = c.store.HasLocalChanges() && (prev != b.HeadSHA || c.remoteMoved)
	c.conflicts = res.Conflicts
	c.lastErr = ""
	c.mu.Unlock()
	if c.reads != nil {
		c.reads.InvalidateCommits()
	}

	for _, p := range res.Updated {
		c.syncDoc(p)
		c.publish(op.ctx, event.TypeFileChanged, event.FileChanged{Path: p, Branch: op.branch, SHA: index[p], Source: "remote"})
	}
	for _, p := range res.Removed {
		c.detach(p)
		c.publish(op.ctx, event.TypeFileChanged, event.FileChanged{Path: p, Branch: op.branch, Source: "remote", Delete: true})
	}
	if len(res.Conflicts) > 0 {
		slog.Warn("pull left conflicts", "workspace_id", c.sess.ID, "branch", op.branch, "paths", res.Conflicts)
		if c.metrics != nil {
			c.metrics.Conflicts.Add(op.ctx, 1, metric.WithAttributes(attribute.String("repo", c.sess.Ref.Key())))
		}
	}
	slog.Info("pulled", "workspace_id", c.sess.ID, "branch", op.branch, "head", b.HeadSHA,
		"updated", len(res.Updated), "removed", len(res.Removed), "conflicts", len(res.Conflicts))
	return nil
}

// fetch reads paths at ref concurrently. Paths missing at ref are skipped.
func (c *Coordinator) fetch(ctx context.Context, paths []string, ref string) (map[string]string, error) {
	out := make(map[string]string, len(paths))
	if len(paths) == 0 {
		return out, nil
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.fetchConcurrency)
	for _, p := range paths {
		g.Go(func() error {
			f, err := c.client.GetFileContent(gctx, p, ref)
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("fetch %s: %w", p, err)
			}
			mu.Lock()
			out[p] = f.Content
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// confirmation returns the error listing what action would throw away, or
// nil when the workspace has nothing unpushed.
func (c *Coordinator) confirmation(action string) error {
	dirty := c.store.DirtyFiles()
	ops := len(c.store.PendingOps())
	if len(dirty) == 0 && ops == 0 {
		return nil
	}
	return &domain.ConfirmationError{Action: action, Paths: dirty, PendingOps: ops}
}

// SwitchBranch makes name the active branch. With unpushed local changes
// it returns *domain.ConfirmationError and changes nothing unless
// confirmDiscard is set, in which case the changes are dropped. The open
// files are reloaded from the new branch.
func (c *Coordinator) SwitchBranch(ctx context.Context, name string, confirmDiscard bool) error {
	if name == "" {
		return fmt.Errorf("%w: branch name is required", domain.ErrValidation)
	}
	if !confirmDiscard {
		if err := c.confirmation("switch branch"); err != nil {
			return err
		}
	}

	op, err := c.begin(ctx, "switch", true)
	if err != nil {
		return err
	}
	defer c.end(op)
	if !confirmDiscard {
		// An edit may have landed while waiting for the slot.
		if err := c.confirmation("switch branch"); err != nil {
			return err
		}
	}

	ctx, span := cfotel.StartSyncSpan(op.ctx, "switch", c.sess.ID, c.sess.Ref.Key(), name)
	defer span.End()

	b, err := c.client.GetBranch(ctx, name)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("switch to %s: %w", name, err)
	}
	tree, err := c.client.GetTree(ctx, b.HeadSHA)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("switch to %s: %w", name, err)
	}
	index := tree.Index()
	var open []string
	for _, e := range c.store.Entries() {
		if _, ok := index[e.Path]; ok {
			open = append(open, e.Path)
		}
	}
	contents, err := c.fetch(ctx, open, b.HeadSHA)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("switch to %s: %w", name, err)
	}
	if err := c.current(op); err != nil {
		return err
	}

	from := op.branch
	dropped := c.store.Reset(b.HeadSHA, index, contents)
	c.mu.Lock()
	c.branch = name
	c.conflicts = nil
	c.lastErr = ""
	c.remoteAhead = false
	c.remoteMoved = false
	c.mu.Unlock()
	c.sess.ResetSessionBranch()

	for _, p := range dropped {
		c.detach(p)
	}
	for _, e := range c.store.Entries() {
		c.syncDoc(e.Path)
	}
	slog.Info("branch switched", "workspace_id", c.sess.ID, "from", from, "to", name, "head", b.HeadSHA, "discarded", confirmDiscard)
	c.publish(ctx, event.TypeBranchSwitched, event.BranchSwitched{From: from, To: name, HeadSHA: b.HeadSHA})
	return nil
}

// Discard reverts every dirty file and drops the queue. It supersedes any
// in-flight push or pull.
func (c *Coordinator) Discard(ctx context.Context) ([]string, error) {
	op, err := c.begin(ctx, "discard", true)
	if err != nil {
		return nil, err
	}
	defer c.end(op)

	reverted := c.store.Discard()
	c.mu.Lock()
	c.conflicts = nil
	c.remoteMoved = false
	c.lastErr = ""
	branch := c.branch
	c.mu.Unlock()

	for _, p := range reverted {
		e, ok := c.store.Entry(p)
		if !ok {
			c.detach(p)
			c.publish(op.ctx, event.TypeFileChanged, event.FileChanged{Path: p, Branch: branch, Source: "discard", Delete: true})
			continue
		}
		c.syncDoc(p)
		c.publish(op.ctx, event.TypeFileChanged, event.FileChanged{Path: p, Branch: branch, SHA: e.SHA(), Source: "discard"})
	}
	slog.Info("local changes discarded", "workspace_id", c.sess.ID, "paths", len(reverted))
	return reverted, nil
}

// ResolveConflict settles one conflicted path. keepLocal keeps the local
// content (and queued operations) on top of the remote version; otherwise
// the remote version replaces the local one. The store is first brought to
// the remote head so the next push is based on it.
func (c *Coordinator) ResolveConflict(ctx context.Context, path string, keepLocal bool) error {
	op, err := c.begin(ctx, "resolve", false)
	if err != nil {
		return err
	}
	defer c.end(op)

	c.mu.Lock()
	listed := slices.Contains(c.conflicts, path)
	c.mu.Unlock()
	if !listed {
		return fmt.Errorf("%w: %s is not in conflict", domain.ErrValidation, path)
	}

	if err := c.pullLocked(op); err != nil {
		return err
	}
	c.mu.Lock()
	listed = slices.Contains(c.conflicts, path)
	c.mu.Unlock()
	if !listed {
		return nil
	}

	head := c.store.Head()
	sha, content := "", ""
	f, err := c.client.GetFileContent(op.ctx, path, head)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return c.fail(op, "resolve", err)
	default:
		sha, content = f.SHA, f.Content
	}
	if err := c.current(op); err != nil {
		return err
	}

	if keepLocal {
		if err := c.store.Rebase(path, sha, content); err != nil {
			return err
		}
	} else {
		c.store.Overwrite(path, sha, content)
		if sha == "" {
			c.detach(path)
		} else {
			c.syncDoc(path)
		}
	}
	c.mu.Lock()
	c.conflicts = slices.DeleteFunc(c.conflicts, func(p string) bool { return p == path })
	c.mu.Unlock()

	source := "remote"
	if keepLocal {
		source = "local"
	}
	c.publish(op.ctx, event.TypeFileChanged, event.FileChanged{Path: path, Branch: op.branch, SHA: sha, Source: source, Delete: !keepLocal && sha == ""})
	slog.Info("conflict resolved", "workspace_id", c.sess.ID, "path", path, "keep_local", keepLocal)
	return nil
}
