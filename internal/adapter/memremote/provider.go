package memremote

import (
	"context"
	"fmt"
	"sync"

	"github.com/Strob0t/DocSync/internal/domain"
	"github.com/Strob0t/DocSync/internal/domain/repo"
	"github.com/Strob0t/DocSync/internal/port/remote"
)

const providerName = "memory"

func init() {
	remote.Register(providerName, func(config map[string]string) (remote.Provider, error) {
		return NewProvider(config["default_branch"]), nil
	})
}

// Provider hands out clients over a set of in-memory repositories. Unknown
// repositories are created on first Open with a README on the default branch.
type Provider struct {
	mu            sync.Mutex
	defaultBranch string
	repos         map[string]*Repository
}

var _ remote.Provider = (*Provider)(nil)

// NewProvider creates an empty provider.
func NewProvider(defaultBranch string) *Provider {
	if defaultBranch == "" {
		defaultBranch = "main"
	}
	return &Provider{defaultBranch: defaultBranch, repos: make(map[string]*Repository)}
}

func (p *Provider) Name() string { return providerName }

// Add registers a pre-built repository.
func (p *Provider) Add(r *Repository) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.repos[r.ref.Key()] = r
}

// Get returns the repository for "owner/name".
func (p *Provider) Get(key string) (*Repository, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.repos[key]
	return r, ok
}

// Open returns a client for ref. Any non-empty token is accepted.
func (p *Provider) Open(_ context.Context, ref repo.Ref, token string) (remote.Client, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: remote credential required", domain.ErrUnauthorized)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.repos[ref.Key()]
	if !ok {
		if ref.DefaultBranch == "" {
			ref.DefaultBranch = p.defaultBranch
		}
		r = NewRepository(ref, map[string]string{"README.md": "# " + ref.Name + "\n"})
		p.repos[ref.Key()] = r
	}
	return NewClient(r), nil
}
