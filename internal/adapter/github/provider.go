// Package github implements the remote port for GitHub using REST v3 and
// GraphQL v4 over net/http.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Strob0t/DocSync/internal/domain"
	"github.com/Strob0t/DocSync/internal/domain/repo"
	"github.com/Strob0t/DocSync/internal/port/remote"
	"github.com/Strob0t/DocSync/internal/resilience"
)

const providerName = "github"

func init() {
	remote.Register(providerName, func(config map[string]string) (remote.Provider, error) {
		opts := Options{
			BaseURL:    config["base_url"],
			GraphQLURL: config["graphql_url"],
		}
		if v := config["timeout"]; v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("github: timeout: %w", err)
			}
			opts.Timeout = d
		}
		if v := config["max_concurrent"]; v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("github: max_concurrent: %w", err)
			}
			opts.MaxConcurrent = n
		}
		if v := config["breaker_max_failures"]; v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("github: breaker_max_failures: %w", err)
			}
			opts.BreakerMaxFailures = n
		}
		if v := config["breaker_timeout"]; v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("github: breaker_timeout: %w", err)
			}
			opts.BreakerTimeout = d
		}
		retry, err := parseRetry(config)
		if err != nil {
			return nil, err
		}
		opts.Retry = retry
		return NewProvider(opts), nil
	})
}

func parseRetry(config map[string]string) (resilience.Policy, error) {
	p := resilience.DefaultPolicy()
	if v := config["retry_max_attempts"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("github: retry_max_attempts: %w", err)
		}
		p.MaxAttempts = n
	}
	for key, dst := range map[string]*time.Duration{"retry_initial_delay": &p.InitialDelay, "retry_max_delay": &p.MaxDelay} {
		if v := config[key]; v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return p, fmt.Errorf("github: %s: %w", key, err)
			}
			*dst = d
		}
	}
	for key, dst := range map[string]*float64{"retry_multiplier": &p.Multiplier, "retry_jitter": &p.JitterPercent} {
		if v := config[key]; v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return p, fmt.Errorf("github: %s: %w", key, err)
			}
			*dst = f
		}
	}
	return p, nil
}

// Options configures a Provider.
type Options struct {
	BaseURL            string
	GraphQLURL         string
	Timeout            time.Duration
	MaxConcurrent      int
	Retry              resilience.Policy
	BreakerMaxFailures int
	BreakerTimeout     time.Duration
	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
}

// Provider is the process-wide GitHub connection: one HTTP client, one
// request pool and one circuit breaker shared by every session.
type Provider struct {
	baseURL    string
	graphqlURL string
	httpClient *http.Client
	pool       *resilience.Pool
	breaker    *resilience.Breaker
	retry      resilience.Policy
}

var _ remote.Provider = (*Provider)(nil)

// NewProvider creates a GitHub provider.
func NewProvider(opts Options) *Provider {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.github.com"
	}
	if opts.GraphQLURL == "" {
		opts.GraphQLURL = strings.TrimSuffix(opts.BaseURL, "/") + "/graphql"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 8
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry = resilience.DefaultPolicy()
	}
	if opts.BreakerMaxFailures < 1 {
		opts.BreakerMaxFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Provider{
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		graphqlURL: opts.GraphQLURL,
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		pool:    resilience.NewPool(opts.MaxConcurrent),
		breaker: resilience.NewBreaker(opts.BreakerMaxFailures, opts.BreakerTimeout, domain.Retryable),
		retry:   opts.Retry,
	}
}

func (p *Provider) Name() string { return providerName }

// Open returns a client for ref. The token stays in the client's memory.
func (p *Provider) Open(_ context.Context, ref repo.Ref, token string) (remote.Client, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: github token required", domain.ErrUnauthorized)
	}
	if ref.Owner == "" || ref.Name == "" {
		return nil, fmt.Errorf("%w: repository owner and name are required", domain.ErrValidation)
	}
	return &Client{p: p, ref: ref, token: token}, nil
}

// BreakerState exposes the shared circuit state for health reporting.
func (p *Provider) BreakerState() string { return p.breaker.State() }

// do sends one request through the pool and breaker and decodes a 2xx JSON
// body into out (when non-nil). It performs no retries.
func (p *Provider) do(ctx context.Context, token, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: encode request: %w", domain.ErrValidation, err)
		}
		body = bytes.NewReader(data)
	}

	return p.breaker.Execute(func() error {
		return p.pool.Run(ctx, func() error {
			req, err := http.NewRequestWithContext(ctx, method, url, body)
			if err != nil {
				return fmt.Errorf("%w: create request: %w", domain.ErrValidation, err)
			}
			req.Header.Set("Authorization", "Bearer "+token)
			req.Header.Set("Accept", "application/vnd.github+json")
			req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
			if in != nil {
				req.Header.Set("Content-Type", "application/json")
			}

			resp, err := p.httpClient.Do(req) //nolint:gosec // G107: URL is built from the configured base URL
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				return fmt.Errorf("%w: github %s %s: %w", domain.ErrNetwork, method, trimBase(p, url), err)
			}
			defer func() { _ = resp.Body.Close() }()

			respBody, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("%w: read response: %w", domain.ErrNetwork, err)
			}
			if resp.StatusCode >= 400 {
				return normalize(method, trimBase(p, url), resp.StatusCode, resp.Header, respBody)
			}
			if out == nil || len(respBody) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("%w: github parse response: %w", domain.ErrNetwork, err)
			}
			return nil
		})
	})
}

// call runs fn under the retry policy. fn must re-derive its preconditions
// on every attempt.
func (p *Provider) call(ctx context.Context, op string, fn func(attempt int) error) error {
	r := resilience.NewRetrier(p.retry, func(attempt int, delay time.Duration, err error) {
		slog.DebugContext(ctx, "github retry", "op", op, "attempt", attempt, "delay", delay, "error", err)
	})
	return r.Do(ctx, fn)
}

func trimBase(p *Provider, url string) string {
	if s, ok := strings.CutPrefix(url, p.baseURL); ok {
		return s
	}
	return url
}
