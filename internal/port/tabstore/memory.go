package tabstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/Strob0t/DocSync/internal/domain"
	"github.com/Strob0t/DocSync/internal/domain/workspace"
)

// Memory keeps tab state in process memory. It is used when no database
// is configured.
type Memory struct {
	mu   sync.Mutex
	tabs map[string]workspace.Tabs
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{tabs: make(map[string]workspace.Tabs)}
}

func (m *Memory) LoadTabs(_ context.Context, key string) (*workspace.Tabs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tabs[key]
	if !ok {
		return nil, fmt.Errorf("tabs %s: %w", key, domain.ErrNotFound)
	}
	t.OpenTabs = append([]string(nil), t.OpenTabs...)
	return &t, nil
}

func (m *Memory) SaveTabs(_ context.Context, t *workspace.Tabs) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.tabs[t.Key()]; ok && prev.UpdatedAt.After(t.UpdatedAt) {
		return nil
	}
	cp := *t
	cp.OpenTabs = append([]string(nil), t.OpenTabs...)
	m.tabs[t.Key()] = cp
	return nil
}
