package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/DocSync/internal/adapter/otel"
	"github.com/Strob0t/DocSync/internal/domain"
	"github.com/Strob0t/DocSync/internal/domain/event"
	"github.com/Strob0t/DocSync/internal/domain/repo"
	"github.com/Strob0t/DocSync/internal/domain/workspace"
	"github.com/Strob0t/DocSync/internal/port/broadcast"
	"github.com/Strob0t/DocSync/internal/port/mergeengine"
	"github.com/Strob0t/DocSync/internal/port/remote"
)

// DefaultAutoSaveMessage is the commit message of scheduler pushes.
const DefaultAutoSaveMessage = "Auto-save from DocSync"

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	// Branch is the initial active branch; defaults to the repository default branch.
	Branch           string
	AutoSaveMessage  string
	FetchConcurrency int
	Docs             mergeengine.Engine
	Bus              broadcast.Broadcaster
	Reads            *ReadCache
	Metrics          *cfotel.Metrics
}

// Coordinator is the per-workspace sync state machine. Push, pull, branch
// switch and discard share one exclusive slot; a second push or pull while
// the slot is held fails fast with domain.ErrSyncInProgress. Switch and
// discard supersede the in-flight operation instead: they bump the epoch,
// cancel its context and wait for the slot. Any result gathered under an
// older epoch is dropped with domain.ErrSuperseded.
type Coordinator struct {
	sess    *Session
	client  remote.Client
	store   *ContentStore
	docs    mergeengine.Engine
	bus     broadcast.Broadcaster
	reads   *ReadCache
	metrics *cfotel.Metrics

	autoSaveMessage  string
	fetchConcurrency int

	slot chan struct{}

	mu          sync.Mutex
	branch      string
	epoch       uint64
	waiting     int
	inFlight    bool
	cancel      context.CancelFunc
	lastErr     string
	remoteAhead bool
	// remoteMoved is set when a pull advanced the head past unpushed local
	// changes. It is cleared by the next successful push.
	remoteMoved bool
	conflicts   []string
	seenPRs     map[int]bool
	seenReviews map[int]map[string]bool

	docMu    sync.Mutex
	attached map[string]attachedDoc
}

type attachedDoc struct {
	doc    mergeengine.Document
	cancel func()
}

// syncOp is one holder of the exclusive slot.
type syncOp struct {
	ctx    context.Context
	cancel context.CancelFunc
	epoch  uint64
	branch string
}

// NewCoordinator creates a coordinator over store for one session.
func NewCoordinator(sess *Session, client remote.Client, store *ContentStore, opts CoordinatorOptions) *Coordinator {
	if opts.Branch == "" {
		opts.Branch = sess.Ref.DefaultBranch
	}
	if opts.AutoSaveMessage == "" {
		opts.AutoSaveMessage = DefaultAutoSaveMessage
	}
	if opts.FetchConcurrency < 1 {
		opts.FetchConcurrency = 4
	}
	if opts.Bus == nil {
		opts.Bus = broadcast.Nop{}
	}
	return &Coordinator{
		sess:             sess,
		client:           client,
		store:            store,
		docs:             opts.Docs,
		bus:              opts.Bus,
		reads:            opts.Reads,
		metrics:          opts.Metrics,
		autoSaveMessage:  opts.AutoSaveMessage,
		fetchConcurrency: opts.FetchConcurrency,
		slot:             make(chan struct{}, 1),
		branch:           opts.Branch,
		seenPRs:          make(map[int]bool),
		seenReviews:      make(map[int]map[string]bool),
		attached:         make(map[string]attachedDoc),
	}
}

// Session returns the session the coordinator serves.
func (c *Coordinator) Session() *Session { return c.sess }

// Store returns the content store.
func (c *Coordinator) Store() *ContentStore { return c.store }

// Branch returns the active branch.
func (c *Coordinator) Branch() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.branch
}

// --- exclusive slot ---

// begin acquires the slot. A superseding begin invalidates the current
// holder and waits; a plain begin fails fast when the slot is taken or a
// superseding operation is queued.
func (c *Coordinator) begin(ctx context.Context, name string, supersede bool) (*syncOp, error) {
	if supersede {
		c.mu.Lock()
		c.waiting++
		c.epoch++
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Unlock()
		defer func() {
			c.mu.Lock()
			c.waiting--
			c.mu.Unlock()
		}()
		select {
		case c.slot <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else {
		select {
		case c.slot <- struct{}{}:
		default:
			return nil, fmt.Errorf("%w: %s", domain.ErrSyncInProgress, name)
		}
	}

	c.mu.Lock()
	if !supersede && c.waiting > 0 {
		c.mu.Unlock()
		<-c.slot
		return nil, fmt.Errorf("%w: %s", domain.ErrSyncInProgress, name)
	}
	opCtx, cancel := context.WithCancel(ctx)
	op := &syncOp{ctx: opCtx, cancel: cancel, epoch: c.epoch, branch: c.branch}
	c.inFlight = true
	c.cancel = cancel
	c.mu.Unlock()

	c.publishStatus(opCtx)
	return op, nil
}

func (c *Coordinator) end(op *syncOp) {
	op.cancel()
	c.mu.Lock()
	c.inFlight = false
	c.cancel = nil
	c.mu.Unlock()
	<-c.slot
	c.publishStatus(context.WithoutCancel(op.ctx))
}

// current reports ErrSuperseded when the epoch or the branch moved after op began.
func (c *Coordinator) current(op *syncOp) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != op.epoch || c.branch != op.branch {
		return domain.ErrSuperseded
	}
	return nil
}

// fail records err as the workspace's last error unless op was superseded.
func (c *Coordinator) fail(op *syncOp, action string, err error) error {
	if serr := c.current(op); serr != nil {
		return serr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrConflict) {
		return err
	}
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
	slog.Warn("sync operation failed", "workspace_id", c.sess.ID, "repo", c.sess.Ref.Key(), "op", action, "error", err)
	return err
}

func (c *Coordinator) setConflicts(paths []string) {
	c.mu.Lock()
	c.conflicts = dedupe(append(c.conflicts, paths...))
	c.mu.Unlock()
}

// --- push ---

// Push commits every dirty file and queued operation in one commit using
// the auto-save message. Nothing to push is a successful no-op.
func (c *Coordinator) Push(ctx context.Context) error {
	return c.push(ctx, c.autoSaveMessage, false)
}

// Commit is a user-initiated push with an explicit message.
func (c *Coordinator) Commit(ctx context.Context, message, description string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return fmt.Errorf("%w: commit message is required", domain.ErrValidation)
	}
	if !c.store.HasLocalChanges() {
		return fmt.Errorf("%w: nothing to commit", domain.ErrValidation)
	}
	if description = strings.TrimSpace(description); description != "" {
		message += "\n\n" + description
	}
	return c.push(ctx, message, false)
}

// Retry clears the last error and pushes again. The error is kept when the
// slot is taken and nothing was retried.
func (c *Coordinator) Retry(ctx context.Context) error {
	return c.push(ctx, c.autoSaveMessage, true)
}

func (c *Coordinator) push(ctx context.Context, message string, retry bool) (err error) {
	op, err := c.begin(ctx, "push", false)
	if err != nil {
		return err
	}
	defer c.end(op)
	if retry {
		c.mu.Lock()
		c.lastErr = ""
		c.mu.Unlock()
	}

	ctx, span := cfotel.StartSyncSpan(op.ctx, "push", c.sess.ID, c.sess.Ref.Key(), op.branch)
	defer span.End()
	start := time.Now()
	defer func() {
		result := outcome(err)
		span.SetAttributes(attribute.String("outcome", result))
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		if c.metrics != nil {
			attrs := metric.WithAttributes(attribute.String("repo", c.sess.Ref.Key()), attribute.String("outcome", result))
			c.metrics.Pushes.Add(ctx, 1, attrs)
			c.metrics.CommitDuration.Record(ctx, time.Since(start).Seconds(), attrs)
			if errors.Is(err, domain.ErrConflict) {
				c.metrics.Conflicts.Add(ctx, 1, attrs)
			}
		}
	}()

	c.mu.Lock()
	blocked := append([]string(nil), c.conflicts...)
	c.mu.Unlock()
	if len(blocked) > 0 {
		return fmt.Errorf("%w: resolve %s first", domain.ErrConflict, strings.Join(blocked, ", "))
	}

	snap := c.store.Snapshot()
	if snap.Empty() {
		return nil
	}

	branch := op.branch
	if c.sess.Strategy == workspace.StrategyAutoBranch {
		name, created, berr := c.sess.EnsureSessionBranch(ctx, snap.Head, c.client.CreateBranch)
		if berr != nil {
			return c.fail(op, "push", berr)
		}
		if err := c.current(op); err != nil {
			return err
		}
		if created && c.reads != nil {
			c.reads.InvalidateBranches()
		}
		if name != branch {
			c.mu.Lock()
			c.branch = name
			c.mu.Unlock()
			op.branch = name
			slog.Info("session branch active", "workspace_id", c.sess.ID, "from", branch, "to", name)
			c.publish(ctx, event.TypeBranchSwitched, event.BranchSwitched{From: branch, To: name, HeadSHA: snap.Head})
			branch = name
		}
	}

	req := repo.CommitRequest{Branch: branch, Message: message, ExpectedHead: snap.Head, Files: snap.Changes()}
	if len(req.Files) == 0 {
		// The queue cancels itself out (e.g. create then delete).
		c.store.ApplyCommit(snap, repo.CommitResult{SHA: snap.Head})
		return nil
	}

	res, err := c.client.MultiFileCommit(ctx, req)
	var stale *domain.StaleBaseError
	if errors.As(err, &stale) {
		res, err = c.retryStale(ctx, op, snap, req, stale)
	}
	if err != nil {
		return c.fail(op, "push", err)
	}
	if err := c.current(op); err != nil {
		// The commit exists remotely; let the next pull pick it up.
		c.mu.Lock()
		c.remoteAhead = true
		c.mu.Unlock()
		return err
	}

	c.store.ApplyCommit(snap, res)
	c.mu.Lock()
	c.lastErr = ""
	c.remoteMoved = false
	c.mu.Unlock()
	if c.reads != nil {
		c.reads.InvalidateCommits()
	}
	slog.Info("pushed", "workspace_id", c.sess.ID, "repo", c.sess.Ref.Key(), "branch", branch, "commit", res.SHA, "files", len(req.Files))
	for _, ch := range req.Files {
		c.publish(ctx, event.TypeFileChanged, event.FileChanged{
			Path: ch.Path, Branch: branch, SHA: res.Blobs[ch.Path], Source: "commit", Delete: ch.IsDelete(),
		})
	}
	return nil
}

// retryStale handles a failed compare-and-swap: it refetches the head once
// and retries exactly once when nothing the push touches changed remotely.
func (c *Coordinator) retryStale(ctx context.Context, op *syncOp, snap *Snapshot, req repo.CommitRequest, stale *domain.StaleBaseError) (repo.CommitResult, error) {
	current := stale.Current
	if current == "" {
		b, err := c.client.GetBranch(ctx, req.Branch)
		if err != nil {
			return repo.CommitResult{}, err
		}
		current = b.HeadSHA
	}
	if err := c.current(op); err != nil {
		return repo.CommitResult{}, err
	}

	cmp, err := c.client.Compare(ctx, req.ExpectedHead, current)
	if err != nil {
		return repo.CommitResult{}, err
	}
	if err := c.current(op); err != nil {
		return repo.CommitResult{}, err
	}
	if overlap := cmp.Touches(snap.Paths()); len(overlap) > 0 {
		c.setConflicts(overlap)
		c.mu.Lock()
		c.remoteAhead = true
		c.mu.Unlock()
		slog.Warn("push conflicts with remote changes", "workspace_id", c.sess.ID, "branch", req.Branch, "paths", overlap)
		return repo.CommitResult{}, fmt.Errorf("%w: %s changed remotely", domain.ErrConflict, strings.Join(overlap, ", "))
	}

	if c.metrics != nil {
		c.metrics.StaleRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("repo", c.sess.Ref.Key())))
	}
	req.ExpectedHead = current
	res, err := c.client.MultiFileCommit(ctx, req)
	if errors.Is(err, domain.ErrStaleBase) {
		c.setConflicts(snap.Paths())
		return repo.CommitResult{}, fmt.Errorf("%w: %s moved again during retry", domain.ErrConflict, req.Branch)
	}
	if err != nil {
		return repo.CommitResult{}, err
	}
	// Files outside the push changed remotely; the store index is behind.
	c.mu.Lock()
	c.remoteAhead = true
	c.mu.Unlock()
	return res, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrSuperseded):
		return "superseded"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

// --- events and state ---

func (c *Coordinator) publish(ctx context.Context, typ event.Type, payload any) {
	ev, err := event.New(typ, c.sess.Ref.Key(), c.sess.ID, payload)
	if err != nil {
		slog.Error("event marshal failed", "type", typ, "error", err)
		return
	}
	ev.ID = uuid.NewString()
	c.bus.Publish(ctx, ev)
}

func (c *Coordinator) publishStatus(ctx context.Context) {
	st := c.State()
	c.publish(ctx, event.TypeSyncStatus, event.SyncStatus{
		Branch:     st.Branch,
		Status:     string(st.Status),
		HeadSHA:    st.HeadSHA,
		DirtyFiles: st.DirtyFiles,
		PendingOps: len(st.PendingOps),
		Error:      st.LastError,
		Conflicts:  st.Conflicts,
	})
}

// WorkspaceState is the query surface of one workspace.
type WorkspaceState struct {
	ID            string                        `json:"id"`
	Owner         string                        `json:"owner"`
	Repo          string                        `json:"repo"`
	Branch        string                        `json:"branch"`
	HeadSHA       string                        `json:"head_sha"`
	SessionBranch string                        `json:"session_branch,omitempty"`
	Strategy      workspace.Strategy            `json:"strategy"`
	AutoSave      SaveMode                      `json:"auto_save,omitempty"`
	Status        workspace.Status              `json:"status"`
	DirtyFiles    []string                      `json:"dirty_files"`
	PendingOps    []workspace.Operation         `json:"pending_ops"`
	LastError     string                        `json:"last_error,omitempty"`
	Conflicts     []string                      `json:"conflicts,omitempty"`
	RemoteAhead   bool                          `json:"remote_ahead,omitempty"`
	RemoteMoved   bool                          `json:"remote_moved,omitempty"`
	ActivePeers   map[string][]mergeengine.Peer `json:"active_peers,omitempty"`
}

// State derives the current workspace state.
func (c *Coordinator) State() WorkspaceState {
	dirty := c.store.DirtyFiles()
	ops := c.store.PendingOps()

	c.mu.Lock()
	remoteChanged := c.remoteAhead || (c.remoteMoved && (len(dirty) > 0 || len(ops) > 0))
	st := WorkspaceState{
		ID:            c.sess.ID,
		Owner:         c.sess.Ref.Owner,
		Repo:          c.sess.Ref.Name,
		Branch:        c.branch,
		HeadSHA:       c.store.Head(),
		SessionBranch: c.sess.SessionBranch(),
		Strategy:      c.sess.Strategy,
		DirtyFiles:    dirty,
		PendingOps:    ops,
		LastError:     c.lastErr,
		Conflicts:     append([]string(nil), c.conflicts...),
		RemoteAhead:   c.remoteAhead,
		RemoteMoved:   remoteChanged && !c.remoteAhead,
	}
	st.Status = workspace.DeriveStatus(workspace.StatusInputs{
		DirtyFiles:  len(dirty),
		PendingOps:  len(ops),
		InFlight:    c.inFlight,
		LastError:   c.lastErr,
		RemoteAhead: remoteChanged,
		Conflicts:   len(c.conflicts),
	})
	c.mu.Unlock()

	c.docMu.Lock()
	for p, a := range c.attached {
		if peers := a.doc.ActivePeers(); len(peers) > 0 {
			if st.ActivePeers == nil {
				st.ActivePeers = make(map[string][]mergeengine.Peer)
			}
			st.ActivePeers[p] = peers
		}
	}
	c.docMu.Unlock()
	return st
}
