// Package tabstore defines the port for persisted open-tab state.
package tabstore

import (
	"context"

	"github.com/Strob0t/DocSync/internal/domain/workspace"
)

// Store loads and saves the tab state keyed by "owner/repo".
type Store interface {
	// LoadTabs returns domain.ErrNotFound when nothing was saved for key.
	LoadTabs(ctx context.Context, key string) (*workspace.Tabs, error)
	SaveTabs(ctx context.Context, tabs *workspace.Tabs) error
}
