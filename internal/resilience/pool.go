package resilience

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/Strob0t/DocSync/internal/domain"
)

// Pool bounds the number of concurrent requests to one remote host. It is
// shared by every session of a provider so that many open workspaces cannot
// exhaust the host's secondary rate limits.
type Pool struct {
	sem      *semaphore.Weighted
	inFlight atomic.Int64
}

// NewPool creates a Pool that allows at most limit concurrent requests.
func NewPool(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit))}
}

// Run acquires a slot, runs fn and releases the slot. A context cancelled
// while waiting is reported as a network-class error wrapping ctx.Err().
// A nil pool runs fn directly.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: waiting for request slot: %w", domain.ErrNetwork, err)
	}
	p.inFlight.Add(1)
	defer func() {
		p.inFlight.Add(-1)
		p.sem.Release(1)
	}()
	return fn()
}

// InFlight returns the number of requests currently holding a slot.
func (p *Pool) InFlight() int64 {
	if p == nil {
		return 0
	}
	return p.inFlight.Load()
}
