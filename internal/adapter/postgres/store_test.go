package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/DocSync/internal/adapter/postgres"
	"github.com/Strob0t/DocSync/internal/config"
	"github.com/Strob0t/DocSync/internal/domain"
	"github.com/Strob0t/DocSync/internal/domain/workspace"
)

// setupStore creates a pgxpool connection, runs all migrations, and returns a
// ready-to-use TabStore. The pool is closed via t.Cleanup.
func setupStore(t *testing.T) *postgres.TabStore {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return postgres.NewTabStore(pool)
}

func TestTabStoreRoundTrip(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	owner := "test-" + uuid.New().String()[:8]

	tabs := &workspace.Tabs{
		Owner:      owner,
		Repo:       "docs",
		OpenTabs:   []string{"README.md", "guide/intro.md"},
		ActivePath: "guide/intro.md",
		UpdatedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := store.SaveTabs(ctx, tabs); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.LoadTabs(ctx, tabs.Key())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ActivePath != "guide/intro.md" || len(got.OpenTabs) != 2 {
		t.Fatalf("unexpected tabs %+v", got)
	}

	// An older write never replaces a newer one.
	older := *tabs
	older.OpenTabs = nil
	older.UpdatedAt = tabs.UpdatedAt.Add(-time.Minute)
	if err := store.SaveTabs(ctx, &older); err != nil {
		t.Fatalf("save older: %v", err)
	}
	got, err = store.LoadTabs(ctx, tabs.Key())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.OpenTabs) != 2 {
		t.Fatalf("older write won: %+v", got)
	}
}

func TestTabStoreMissing(t *testing.T) {
	store := setupStore(t)
	_, err := store.LoadTabs(context.Background(), "nobody/"+uuid.New().String())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNewPoolAndMigrationVersion(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}
	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	v, err := postgres.MigrationVersion(ctx, dsn)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v < 1 {
		t.Fatalf("version = %d, want at least 1", v)
	}

	pool, err := postgres.NewPool(ctx, config.Postgres{DSN: dsn, MaxConns: 2, MaxConnLifetime: time.Hour, MaxConnIdleTime: time.Minute, HealthCheck: time.Minute})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer pool.Close()
	var app string
	if err := pool.QueryRow(ctx, "SELECT current_setting('application_name')").Scan(&app); err != nil {
		t.Fatalf("query: %v", err)
	}
	if app != "docsync" {
		t.Fatalf("application_name = %q", app)
	}
}
