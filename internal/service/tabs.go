package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Strob0t/DocSync/internal/clock"
	"github.com/Strob0t/DocSync/internal/domain"
	"github.com/Strob0t/DocSync/internal/domain/repo"
	"github.com/Strob0t/DocSync/internal/domain/workspace"
	"github.com/Strob0t/DocSync/internal/port/tabstore"
)

const tabWriteTimeout = 5 * time.Second

// TabService persists open tabs per repository. Saves are debounced: only
// the last state within the window is written.
type TabService struct {
	store    tabstore.Store
	clock    clock.Clock
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]*pendingTabs
}

type pendingTabs struct {
	tabs  workspace.Tabs
	timer clock.Timer
}

// NewTabService creates a TabService. A zero debounce writes synchronously.
func NewTabService(store tabstore.Store, clk clock.Clock, debounce time.Duration) *TabService {
	if clk == nil {
		clk = clock.Real{}
	}
	return &TabService{store: store, clock: clk, debounce: debounce, pending: make(map[string]*pendingTabs)}
}

// Load returns the saved tabs of ref, or empty tabs when none were saved.
// A pending unsaved state wins over the stored one.
func (s *TabService) Load(ctx context.Context, ref repo.Ref) (workspace.Tabs, error) {
	key := ref.Key()
	s.mu.Lock()
	if p, ok := s.pending[key]; ok {
		t := p.tabs
		s.mu.Unlock()
		return t, nil
	}
	s.mu.Unlock()

	t, err := s.store.LoadTabs(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return workspace.Tabs{Owner: ref.Owner, Repo: ref.Name, OpenTabs: []string{}}, nil
	}
	if err != nil {
		return workspace.Tabs{}, err
	}
	return *t, nil
}

// Save validates and schedules a write of tabs.
func (s *TabService) Save(ctx context.Context, tabs workspace.Tabs) error {
	if tabs.Owner == "" || tabs.Repo == "" {
		return fmt.Errorf("%w: tabs need owner and repo", domain.ErrValidation)
	}
	for _, p := range tabs.OpenTabs {
		if err := workspace.ValidatePath(p); err != nil {
			return err
		}
	}
	if tabs.ActivePath != "" && !slices.Contains(tabs.OpenTabs, tabs.ActivePath) {
		return fmt.Errorf("%w: active tab %q is not open", domain.ErrValidation, tabs.ActivePath)
	}
	tabs.OpenTabs = slices.Clone(tabs.OpenTabs)
	tabs.UpdatedAt = s.clock.Now().UTC()

	if s.debounce <= 0 {
		return s.store.SaveTabs(ctx, &tabs)
	}

	key := tabs.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pending[key]; ok {
		p.timer.Stop()
	}
	p := &pendingTabs{tabs: tabs}
	p.timer = s.clock.AfterFunc(s.debounce, func() { s.write(key, p) })
	s.pending[key] = p
	return nil
}

func (s *TabService) write(key string, p *pendingTabs) {
	s.mu.Lock()
	if s.pending[key] != p {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), tabWriteTimeout)
	defer cancel()
	if err := s.store.SaveTabs(ctx, &p.tabs); err != nil {
		slog.Warn("tab state save failed", "repo", key, "error", err)
	}
}

// Flush writes the pending state of ref immediately.
func (s *TabService) Flush(ctx context.Context, ref repo.Ref) error {
	key := ref.Key()
	s.mu.Lock()
	p, ok := s.pending[key]
	if ok {
		p.timer.Stop()
		delete(s.pending, key)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.store.SaveTabs(ctx, &p.tabs)
}

// FlushAll writes every pending state.
func (s *TabService) FlushAll(ctx context.Context) error {
	s.mu.Lock()
	all := s.pending
	s.pending = make(map[string]*pendingTabs)
	s.mu.Unlock()

	var errs []error
	for _, p := range all {
		p.timer.Stop()
		if err := s.store.SaveTabs(ctx, &p.tabs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
