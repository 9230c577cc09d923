package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/DocSync/internal/domain/workspace"
	"github.com/Strob0t/DocSync/internal/port/tabstore"
)

// TabStore persists open-tab state in the workspace_tabs table.
type TabStore struct {
	pool *pgxpool.Pool
}

var _ tabstore.Store = (*TabStore)(nil)

// NewTabStore creates a TabStore backed by pool.
func NewTabStore(pool *pgxpool.Pool) *TabStore {
	return &TabStore{pool: pool}
}

func (s *TabStore) LoadTabs(ctx context.Context, key string) (*workspace.Tabs, error) {
	var t workspace.Tabs
	err := s.pool.QueryRow(ctx,
		`SELECT owner, repo, open_tabs, active_path, updated_at
		 FROM workspace_tabs WHERE repo_key = $1`, key,
	).Scan(&t.Owner, &t.Repo, &t.OpenTabs, &t.ActivePath, &t.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "load tabs %s", key)
	}
	return &t, nil
}

func (s *TabStore) SaveTabs(ctx context.Context, t *workspace.Tabs) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO workspace_tabs (repo_key, owner, repo, open_tabs, active_path, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (repo_key) DO UPDATE
		 SET open_tabs = EXCLUDED.open_tabs, active_path = EXCLUDED.active_path, updated_at = EXCLUDED.updated_at
		 WHERE workspace_tabs.updated_at <= EXCLUDED.updated_at`,
		t.Key(), t.Owner, t.Repo, pgTextArray(t.OpenTabs), t.ActivePath, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save tabs %s: %w", t.Key(), err)
	}
	return nil
}
