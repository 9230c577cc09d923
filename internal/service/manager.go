package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	cfotel "github.com/Strob0t/DocSync/internal/adapter/otel"
	"github.com/Strob0t/DocSync/internal/clock"
	"github.com/Strob0t/DocSync/internal/config"
	"github.com/Strob0t/DocSync/internal/domain"
	"github.com/Strob0t/DocSync/internal/domain/repo"
	"github.com/Strob0t/DocSync/internal/domain/user"
	"github.com/Strob0t/DocSync/internal/domain/workspace"
	"github.com/Strob0t/DocSync/internal/port/broadcast"
	"github.com/Strob0t/DocSync/internal/port/cache"
	"github.com/Strob0t/DocSync/internal/port/mergeengine"
	"github.com/Strob0t/DocSync/internal/port/remote"
)

// ManagerOptions wires a Manager.
type ManagerOptions struct {
	Provider remote.Provider
	Docs     mergeengine.Engine
	Bus      broadcast.Broadcaster
	// Cache backs the per-session read caches; nil disables them.
	Cache   cache.Cache
	TTLs    ReadCacheTTLs
	Tabs    *TabService
	Clock   clock.Clock
	Metrics *cfotel.Metrics
	Sync    config.Sync
}

// Workspace is one running session: its coordinator and auto-save scheduler.
type Workspace struct {
	ID          string
	Coordinator *Coordinator
	Scheduler   *AutoSaveScheduler

	unsubscribe func()
}

// State returns the coordinator state with the auto-save mode filled in.
func (w *Workspace) State() WorkspaceState {
	st := w.Coordinator.State()
	st.AutoSave = w.Scheduler.Mode()
	return st
}

// Manager owns every running workspace of the process.
type Manager struct {
	opts ManagerOptions

	// ctx bounds background pushes; it ends with Shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	workspaces map[string]*Workspace
	byRepo     map[string]map[string]*Workspace
}

// NewManager creates a Manager.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Bus == nil {
		opts.Bus = broadcast.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:       opts,
		ctx:        ctx,
		cancel:     cancel,
		workspaces: make(map[string]*Workspace),
		byRepo:     make(map[string]map[string]*Workspace),
	}
}

// StartRequest opens a workspace.
type StartRequest struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Branch string `json:"branch,omitempty"`
	// Strategy overrides the configured save strategy.
	Strategy string `json:"strategy,omitempty"`
	// AutoSaveDelay overrides the configured debounce; zero selects manual mode.
	AutoSaveDelay *time.Duration `json:"-"`
}

// Start opens a session for the identity and credential carried by ctx:
// it resolves the repository, loads the branch, restores the saved tabs and
// arms auto-save.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*Workspace, error) {
	who, ok := user.FromContext(ctx)
	if !ok || who.ID == "" {
		return nil, fmt.Errorf("%w: no verified user", domain.ErrUnauthorized)
	}
	cred := user.CredentialFromContext(ctx)
	if cred.Empty() {
		return nil, fmt.Errorf("%w: remote credential required", domain.ErrUnauthorized)
	}
	if req.Owner == "" || req.Repo == "" {
		return nil, fmt.Errorf("%w: owner and repo are required", domain.ErrValidation)
	}
	strategyName := req.Strategy
	if strategyName == "" {
		strategyName = m.opts.Sync.Strategy
	}
	strategy, err := workspace.ParseStrategy(strategyName)
	if err != nil {
		return nil, err
	}
	delay := m.opts.Sync.AutoSaveDelay
	if req.AutoSaveDelay != nil {
		delay = *req.AutoSaveDelay
	}
	if delay < 0 {
		return nil, fmt.Errorf("%w: auto-save delay must not be negative", domain.ErrValidation)
	}

	client, err := m.opts.Provider.Open(ctx, repo.Ref{Owner: req.Owner, Name: req.Repo}, cred.Reveal())
	if err != nil {
		return nil, err
	}
	ref, err := client.Repository(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve repository %s/%s: %w", req.Owner, req.Repo, err)
	}

	id := uuid.NewString()
	sess := NewSession(id, ref, who, strategy, m.opts.Sync.BranchPrefix, m.opts.Clock.Now())
	store := NewContentStore(m.opts.Sync.Strict)
	var reads *ReadCache
	if m.opts.Cache != nil {
		reads = NewReadCache(client, m.opts.Cache, ref, m.opts.Clock, m.opts.TTLs)
	}
	coord := NewCoordinator(sess, client, store, CoordinatorOptions{
		Branch:           req.Branch,
		AutoSaveMessage:  m.opts.Sync.AutoSaveMessage,
		FetchConcurrency: m.opts.Sync.FetchConcurrency,
		Docs:             m.opts.Docs,
		Bus:              m.opts.Bus,
		Reads:            reads,
		Metrics:          m.opts.Metrics,
	})
	if err := coord.Load(ctx); err != nil {
		return nil, err
	}
	m.restoreTabs(ctx, coord)

	sched := NewAutoSaveScheduler(m.ctx, m.opts.Clock, delay, coord.Push)
	ws := &Workspace{ID: id, Coordinator: coord, Scheduler: sched}
	ws.unsubscribe = store.Subscribe(sched.Notify)

	m.mu.Lock()
	m.workspaces[id] = ws
	key := ref.Key()
	if m.byRepo[key] == nil {
		m.byRepo[key] = make(map[string]*Workspace)
	}
	m.byRepo[key][id] = ws
	m.mu.Unlock()

	slog.Info("workspace started", "workspace_id", id, "repo", key, "branch", coord.Branch(),
		"user", who.ID, "strategy", strategy, "auto_save", sched.Mode())
	return ws, nil
}

func (m *Manager) restoreTabs(ctx context.Context, coord *Coordinator) {
	if m.opts.Tabs == nil {
		return
	}
	tabs, err := m.opts.Tabs.Load(ctx, coord.sess.Ref)
	if err != nil {
		slog.Warn("tab state not restored", "workspace_id", coord.sess.ID, "error", err)
		return
	}
	for _, p := range tabs.OpenTabs {
		if _, err := coord.OpenFile(ctx, p); err != nil {
			// Files removed since the tabs were saved just drop out.
			slog.Debug("saved tab not reopened", "workspace_id", coord.sess.ID, "path", p, "error", err)
		}
	}
}

// Get returns the workspace id. When ctx carries an identity it must be the
// session's user; other users get domain.ErrNotFound.
func (m *Manager) Get(ctx context.Context, id string) (*Workspace, error) {
	m.mu.RLock()
	ws, ok := m.workspaces[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("workspace %s: %w", id, domain.ErrNotFound)
	}
	if who, ok := user.FromContext(ctx); ok && who.ID != ws.Coordinator.sess.User.ID {
		return nil, fmt.Errorf("workspace %s: %w", id, domain.ErrNotFound)
	}
	return ws, nil
}

// ForRepo returns the workspaces open on owner/name.
func (m *Manager) ForRepo(owner, name string) []*Workspace {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.byRepo[owner+"/"+name]
	out := make([]*Workspace, 0, len(set))
	for _, ws := range set {
		out = append(out, ws)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// List returns the workspaces of the identity in ctx, or all without one.
func (m *Manager) List(ctx context.Context) []*Workspace {
	who, scoped := user.FromContext(ctx)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Workspace, 0, len(m.workspaces))
	for _, ws := range m.workspaces {
		if scoped && ws.Coordinator.sess.User.ID != who.ID {
			continue
		}
		out = append(out, ws)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SaveTabs records the open tabs of a workspace's repository.
func (m *Manager) SaveTabs(ctx context.Context, id string, openTabs []string, active string) error {
	ws, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if m.opts.Tabs == nil {
		return nil
	}
	ref := ws.Coordinator.sess.Ref
	return m.opts.Tabs.Save(ctx, workspace.Tabs{Owner: ref.Owner, Repo: ref.Name, OpenTabs: openTabs, ActivePath: active})
}

// Tabs returns the saved tabs of a workspace's repository.
func (m *Manager) Tabs(ctx context.Context, id string) (workspace.Tabs, error) {
	ws, err := m.Get(ctx, id)
	if err != nil {
		return workspace.Tabs{}, err
	}
	ref := ws.Coordinator.sess.Ref
	if m.opts.Tabs == nil {
		return workspace.Tabs{Owner: ref.Owner, Repo: ref.Name, OpenTabs: []string{}}, nil
	}
	return m.opts.Tabs.Load(ctx, ref)
}

// End closes a workspace. A pending auto-save is pushed first. When local
// changes remain afterwards End refuses with *domain.ConfirmationError
// unless discard is set.
func (m *Manager) End(ctx context.Context, id string, discard bool) error {
	ws, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := ws.Scheduler.Flush(ctx); err != nil && !errors.Is(err, domain.ErrSuperseded) {
		slog.Warn("final auto-save failed", "workspace_id", id, "error", err)
	}
	if !discard {
		if err := ws.Coordinator.confirmation("end session"); err != nil {
			return err
		}
	}
	m.remove(ws)
	m.close(ctx, ws)
	slog.Info("workspace ended", "workspace_id", id, "repo", ws.Coordinator.sess.Ref.Key())
	return nil
}

func (m *Manager) remove(ws *Workspace) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workspaces, ws.ID)
	key := ws.Coordinator.sess.Ref.Key()
	delete(m.byRepo[key], ws.ID)
	if len(m.byRepo[key]) == 0 {
		delete(m.byRepo, key)
	}
}

func (m *Manager) close(ctx context.Context, ws *Workspace) {
	ws.Scheduler.Stop()
	ws.unsubscribe()
	if m.opts.Tabs != nil {
		if err := m.opts.Tabs.Flush(ctx, ws.Coordinator.sess.Ref); err != nil {
			slog.Warn("tab state flush failed", "workspace_id", ws.ID, "error", err)
		}
	}
	ws.Coordinator.sess.ResetSessionBranch()
	ws.Coordinator.Close()
}

// Shutdown pushes every pending auto-save, then closes all workspaces.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	all := make([]*Workspace, 0, len(m.workspaces))
	for _, ws := range m.workspaces {
		all = append(all, ws)
	}
	m.mu.RUnlock()

	var errs []error
	for _, ws := range all {
		if err := ws.Scheduler.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("workspace %s: %w", ws.ID, err))
		}
		m.remove(ws)
		m.close(ctx, ws)
	}
	if m.opts.Tabs != nil {
		if err := m.opts.Tabs.FlushAll(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	m.cancel()
	return errors.Join(errs...)
}
