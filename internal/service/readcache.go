package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/DocSync/internal/clock"
	"github.com/Strob0t/DocSync/internal/domain/repo"
	"github.com/Strob0t/DocSync/internal/port/cache"
	"github.com/Strob0t/DocSync/internal/port/remote"
)

// ReadCacheTTLs bounds how long each list is served from cache.
type ReadCacheTTLs struct {
	PullRequests  time.Duration
	Commits       time.Duration
	Collaborators time.Duration
	Branches      time.Duration
}

const (
	kindPulls         = "pulls"
	kindCommits       = "commits"
	kindCollaborators = "collaborators"
	kindBranches      = "branches"
)

// ReadCache serves slow-changing remote lists of one repository. Entries
// carry their store time and are checked against the TTL on read, whatever
// the backend does with expiry. Concurrent misses for one key share a
// single remote call. Branch heads used for writes never come from here.
type ReadCache struct {
	client remote.Client
	cache  cache.Cache
	clock  clock.Clock
	ttls   ReadCacheTTLs
	group  singleflight.Group

	mu   sync.Mutex
	gen  map[string]uint64
	keys map[string]map[string]struct{}
}

type cachedList[T any] struct {
	StoredAt time.Time `json:"stored_at"`
	Items    []T       `json:"items"`
}

// NewReadCache creates a cache for ref on backend. Keys are scoped to the
// repository so sessions of different repositories never share entries.
func NewReadCache(client remote.Client, backend cache.Cache, ref repo.Ref, clk clock.Clock, ttls ReadCacheTTLs) *ReadCache {
	if clk == nil {
		clk = clock.Real{}
	}
	return &ReadCache{
		client: client,
		cache:  cache.Prefixed(backend, "docsync:"+ref.Key()+":"),
		clock:  clk,
		ttls:   ttls,
		gen:    make(map[string]uint64),
		keys:   make(map[string]map[string]struct{}),
	}
}

// PullRequests lists the open pull requests.
func (r *ReadCache) PullRequests(ctx context.Context) ([]repo.PullRequest, error) {
	return readList(ctx, r, kindPulls, kindPulls, r.ttls.PullRequests, r.client.ListOpenPullRequests)
}

// Commits lists up to limit commits of branch, newest first.
func (r *ReadCache) Commits(ctx context.Context, branch string, limit int) ([]repo.Commit, error) {
	key := fmt.Sprintf("%s:%s:%d", kindCommits, branch, limit)
	return readList(ctx, r, kindCommits, key, r.ttls.Commits, func(ctx context.Context) ([]repo.Commit, error) {
		return r.client.ListCommits(ctx, branch, limit)
	})
}

// Collaborators lists the repository collaborators.
func (r *ReadCache) Collaborators(ctx context.Context) ([]repo.Collaborator, error) {
	return readList(ctx, r, kindCollaborators, kindCollaborators, r.ttls.Collaborators, r.client.ListCollaborators)
}

// Branches lists the repository branches.
func (r *ReadCache) Branches(ctx context.Context) ([]repo.Branch, error) {
	return readList(ctx, r, kindBranches, kindBranches, r.ttls.Branches, r.client.ListBranches)
}

func (r *ReadCache) InvalidatePullRequests() { r.invalidate(kindPulls) }
func (r *ReadCache) InvalidateCommits()      { r.invalidate(kindCommits) }
func (r *ReadCache) InvalidateBranches()     { r.invalidate(kindBranches) }

// invalidate drops every key of kind this cache has served. The generation
// bump keeps a fill that started before the call from storing its result.
func (r *ReadCache) invalidate(kind string) {
	r.mu.Lock()
	r.gen[kind]++
	keys := r.keys[kind]
	delete(r.keys, kind)
	r.mu.Unlock()

	ctx := context.Background()
	for key := range keys {
		if err := r.cache.Delete(ctx, key); err != nil {
			slog.Warn("read cache invalidation failed", "key", key, "error", err)
		}
	}
}

func (r *ReadCache) generation(kind string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen[kind]
}

func (r *ReadCache) remember(kind, key string, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen[kind] != gen {
		return false
	}
	if r.keys[kind] == nil {
		r.keys[kind] = make(map[string]struct{})
	}
	r.keys[kind][key] = struct{}{}
	return true
}

func readList[T any](ctx context.Context, r *ReadCache, kind, key string, ttl time.Duration, load func(context.Context) ([]T, error)) ([]T, error) {
	if ttl > 0 {
		var entry cachedList[T]
		ok, err := cache.GetJSON(ctx, r.cache, key, &entry)
		if err != nil {
			slog.Warn("read cache get failed", "key", key, "error", err)
		}
		if ok && r.clock.Now().Sub(entry.StoredAt) < ttl {
			return entry.Items, nil
		}
	}

	gen := r.generation(kind)
	v, err, _ := r.group.Do(key, func() (any, error) {
		items, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if ttl > 0 && r.remember(kind, key, gen) {
			entry := cachedList[T]{StoredAt: r.clock.Now(), Items: items}
			if err := cache.SetJSON(ctx, r.cache, key, entry, ttl); err != nil {
				slog.Warn("read cache set failed", "key", key, "error", err)
			}
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]T), nil
}
