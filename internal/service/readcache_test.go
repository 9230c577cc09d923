package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/DocSync/internal/adapter/memremote"
	"github.com/Strob0t/DocSync/internal/clock"
	"github.com/Strob0t/DocSync/internal/domain/repo"
)

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string][]byte)} }

func (m *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mapCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *mapCache) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func newTestReadCache(t *testing.T) (*ReadCache, *memremote.Repository, *clock.Fake, *mapCache) {
	t.Helper()
	r := memremote.NewRepository(testRef, map[string]string{"a.md": "a"})
	clk := clock.NewFake(testStart)
	backend := newMapCache()
	rc := NewReadCache(memremote.NewClient(r), backend, testRef, clk, ReadCacheTTLs{
		PullRequests:  30 * time.Second,
		Commits:       30 * time.Second,
		Collaborators: 5 * time.Minute,
		Branches:      time.Minute,
	})
	return rc, r, clk, backend
}

func TestReadCacheServesWithinTTL(t *testing.T) {
	rc, r, clk, _ := newTestReadCache(t)
	ctx := context.Background()
	r.AddCollaborator(repo.Collaborator{Login: "octocat"})

	for i := 0; i < 3; i++ {
		got, err := rc.Collaborators(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].Login != "octocat" {
			t.Fatalf("collaborators = %+v", got)
		}
	}
	if n := r.Calls("ListCollaborators"); n != 1 {
		t.Fatalf("ListCollaborators calls = %d, want 1", n)
	}

	clk.Advance(5 * time.Minute)
	if _, err := rc.Collaborators(ctx); err != nil {
		t.Fatal(err)
	}
	if n := r.Calls("ListCollaborators"); n != 2 {
		t.Fatalf("expired entry served: calls = %d", n)
	}
}

func TestReadCacheKeysCommitsByBranchAndLimit(t *testing.T) {
	rc, r, _, _ := newTestReadCache(t)
	ctx := context.Background()
	if _, err := rc.Commits(ctx, "main", 10); err != nil {
		t.Fatal(err)
	}
	if _, err := rc.Commits(ctx, "main", 20); err != nil {
		t.Fatal(err)
	}
	if _, err := rc.Commits(ctx, "main", 10); err != nil {
		t.Fatal(err)
	}
	if n := r.Calls("ListCommits"); n != 2 {
		t.Fatalf("ListCommits calls = %d, want 2", n)
	}
}

func TestReadCacheInvalidate(t *testing.T) {
	rc, r, _, backend := newTestReadCache(t)
	ctx := context.Background()

	if _, err := rc.Commits(ctx, "main", 10); err != nil {
		t.Fatal(err)
	}
	if _, err := rc.Branches(ctx); err != nil {
		t.Fatal(err)
	}
	r.Advance("main", "remote work", map[string]*string{"b.md": strp("b")})
	rc.InvalidateCommits()
	if backend.len() != 1 {
		t.Fatalf("only the branch list should remain cached, have %d keys", backend.len())
	}

	commits, err := rc.Commits(ctx, "main", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 2 || commits[0].Message != "remote work" {
		t.Fatalf("commits = %+v", commits)
	}
	if _, err := rc.Branches(ctx); err != nil {
		t.Fatal(err)
	}
	if n := r.Calls("ListBranches"); n != 1 {
		t.Fatalf("ListBranches calls = %d", n)
	}
}

func TestReadCacheFillRacingInvalidateIsNotStored(t *testing.T) {
	rc, r, _, backend := newTestReadCache(t)
	ctx := context.Background()

	r.OnCall("ListOpenPullRequests", func() { rc.InvalidatePullRequests() })
	if _, err := rc.PullRequests(ctx); err != nil {
		t.Fatal(err)
	}
	r.OnCall("ListOpenPullRequests", nil)
	if backend.len() != 0 {
		t.Fatal("a fill that raced an invalidation was stored")
	}
	if _, err := rc.PullRequests(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := rc.PullRequests(ctx); err != nil {
		t.Fatal(err)
	}
	if n := r.Calls("ListOpenPullRequests"); n != 2 {
		t.Fatalf("ListOpenPullRequests calls = %d", n)
	}
}

func TestReadCacheScopesKeysByRepository(t *testing.T) {
	backend := newMapCache()
	clk := clock.NewFake(testStart)
	ttls := ReadCacheTTLs{Branches: time.Minute}
	other := repo.Ref{Owner: "acme", Name: "handbook", DefaultBranch: "main"}

	r1 := memremote.NewRepository(testRef, nil)
	r2 := memremote.NewRepository(other, nil)
	c1 := NewReadCache(memremote.NewClient(r1), backend, testRef, clk, ttls)
	c2 := NewReadCache(memremote.NewClient(r2), backend, other, clk, ttls)

	ctx := context.Background()
	if _, err := c1.Branches(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c2.Branches(ctx); err != nil {
		t.Fatal(err)
	}
	if r1.Calls("ListBranches") != 1 || r2.Calls("ListBranches") != 1 {
		t.Fatal("repositories shared a cache entry")
	}
	if backend.len() != 2 {
		t.Fatalf("keys = %d", backend.len())
	}
}
