package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Strob0t/DocSync/internal/domain"
	"github.com/Strob0t/DocSync/internal/domain/event"
	"github.com/Strob0t/DocSync/internal/domain/repo"
	"github.com/Strob0t/DocSync/internal/domain/workspace"
	"github.com/Strob0t/DocSync/internal/port/mergeengine"
)

// OpenFile returns the entry for path, reading it from the store head when
// it is not tracked yet, and attaches the shared document.
func (c *Coordinator) OpenFile(ctx context.Context, path string) (workspace.FileEntry, error) {
	if err := workspace.ValidatePath(path); err != nil {
		return workspace.FileEntry{}, err
	}
	if e, ok := c.store.Entry(path); ok {
		c.attach(path, e.Content)
		return e, nil
	}
	ref := c.store.Head()
	if ref == "" {
		ref = c.Branch()
	}
	f, err := c.client.GetFileContent(ctx, path, ref)
	if err != nil {
		return workspace.FileEntry{}, fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := c.store.Open(path, f.SHA, f.Content); err != nil {
		return workspace.FileEntry{}, err
	}
	e, ok := c.store.Entry(path)
	if !ok {
		return workspace.FileEntry{}, fmt.Errorf("%w: %s is pending deletion", domain.ErrNotFound, path)
	}
	c.attach(path, e.Content)
	return e, nil
}

// CloseFile forgets a clean file. Dirty files stay tracked until pushed.
func (c *Coordinator) CloseFile(path string) bool {
	if !c.store.Close(path) {
		return false
	}
	c.detach(path)
	return true
}

// Edit replaces the content of path, opening it first when needed.
func (c *Coordinator) Edit(ctx context.Context, path, content string) error {
	if _, ok := c.store.Entry(path); !ok {
		if _, err := c.OpenFile(ctx, path); err != nil {
			return err
		}
	}
	if doc := c.document(path); doc != nil {
		doc.SetText(content)
	}
	e, _ := c.store.Entry(path)
	if e.Content == content {
		return nil
	}
	if err := c.store.Edit(path, content); err != nil {
		return err
	}
	c.publish(ctx, event.TypeFileChanged, event.FileChanged{Path: path, Branch: c.Branch(), Source: "local"})
	return nil
}

// ApplyPatch merges a peer's textual delta into the shared document of path.
func (c *Coordinator) ApplyPatch(ctx context.Context, path, peerID, patch string) (mergeengine.Change, error) {
	if _, err := c.OpenFile(ctx, path); err != nil {
		return mergeengine.Change{}, err
	}
	p, ok := c.document(path).(mergeengine.Patcher)
	if !ok {
		return mergeengine.Change{}, fmt.Errorf("%w: document engine does not accept patches", domain.ErrValidation)
	}
	return p.ApplyPatch(peerID, patch)
}

// Presence returns the presence tracker of an open document.
func (c *Coordinator) Presence(path string) (mergeengine.Presence, bool) {
	p, ok := c.document(path).(mergeengine.Presence)
	return p, ok
}

// EnqueueOperation validates op and appends it to the queue. Rename and
// move sources are opened first so their current content travels along.
func (c *Coordinator) EnqueueOperation(ctx context.Context, op workspace.Operation) (workspace.Operation, error) {
	if err := op.Validate(); err != nil {
		return op, err
	}
	if op.Kind == workspace.OpRename || op.Kind == workspace.OpMove {
		if _, err := c.OpenFile(ctx, op.Path); err != nil {
			return op, err
		}
	}
	queued, err := c.store.EnqueueOp(op)
	if err != nil {
		return op, err
	}
	if op.Kind != workspace.OpCreate && op.Kind != workspace.OpDuplicate {
		c.detach(op.Path)
	}
	slog.Info("operation queued", "workspace_id", c.sess.ID, "kind", queued.Kind, "path", queued.Path, "new_path", queued.NewPath)
	c.publishStatus(ctx)
	return queued, nil
}

// CreateBranch creates name from the store head. The active branch is unchanged.
func (c *Coordinator) CreateBranch(ctx context.Context, name string) (repo.Branch, error) {
	if name == "" {
		return repo.Branch{}, fmt.Errorf("%w: branch name is required", domain.ErrValidation)
	}
	from := c.store.Head()
	if from == "" {
		return repo.Branch{}, fmt.Errorf("%w: workspace is not loaded", domain.ErrValidation)
	}
	b, err := c.client.CreateBranch(ctx, name, from)
	if err != nil {
		return repo.Branch{}, err
	}
	if c.reads != nil {
		c.reads.InvalidateBranches()
	}
	return b, nil
}

// --- documents ---

func (c *Coordinator) document(path string) mergeengine.Document {
	c.docMu.Lock()
	defer c.docMu.Unlock()
	return c.attached[path].doc
}

func (c *Coordinator) attach(path, content string) {
	if c.docs == nil {
		return
	}
	c.docMu.Lock()
	defer c.docMu.Unlock()
	if _, ok := c.attached[path]; ok {
		return
	}
	doc := c.docs.Document(c.sess.ID, path, content)
	if doc.Text() != content {
		doc.SetText(content)
	}
	cancel := doc.OnChange(func(ch mergeengine.Change) { c.onDocChange(path, ch) })
	c.attached[path] = attachedDoc{doc: doc, cancel: cancel}
}

func (c *Coordinator) detach(path string) {
	c.docMu.Lock()
	a, ok := c.attached[path]
	delete(c.attached, path)
	c.docMu.Unlock()
	if !ok {
		return
	}
	a.cancel()
	c.docs.Close(c.sess.ID, path)
}

func (c *Coordinator) detachAll() {
	c.docMu.Lock()
	paths := make([]string, 0, len(c.attached))
	for p := range c.attached {
		paths = append(paths, p)
	}
	c.docMu.Unlock()
	for _, p := range paths {
		c.detach(p)
	}
}

// syncDoc pushes the store content of path into its document.
func (c *Coordinator) syncDoc(path string) {
	doc := c.document(path)
	if doc == nil {
		return
	}
	if e, ok := c.store.Entry(path); ok {
		doc.SetText(e.Content)
	}
}

// onDocChange records a document edit in the store. Changes that match the
// store (remote content pushed in by syncDoc) are not local edits.
func (c *Coordinator) onDocChange(path string, ch mergeengine.Change) {
	e, ok := c.store.Entry(path)
	if !ok || e.Content == ch.Text {
		return
	}
	if err := c.store.Edit(path, ch.Text); err != nil {
		slog.Warn("document edit not recorded", "workspace_id", c.sess.ID, "path", path, "error", err)
		return
	}
	c.publish(context.Background(), event.TypeFileChanged, event.FileChanged{
		Path: path, Branch: c.Branch(), Source: "local", Patch: ch.Patch, PeerID: ch.PeerID,
	})
}

// Close releases every attached document.
func (c *Coordinator) Close() {
	c.detachAll()
}
