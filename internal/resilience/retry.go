package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/Strob0t/DocSync/internal/domain"
)

// Policy bounds the retries of one remote call.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first (1 = no retry).
	MaxAttempts int `yaml:"max_attempts"`

	// InitialDelay is the backoff before the second attempt.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay caps every backoff, including a server-advised Retry-After.
	// A Retry-After beyond it ends the retries.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier grows the delay per attempt (default 2).
	Multiplier float64 `yaml:"multiplier"`

	// JitterPercent spreads each delay by ±JitterPercent.
	JitterPercent float64 `yaml:"jitter_percent"`
}

// DefaultPolicy is used for remote calls when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   4,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		Multiplier:    2,
		JitterPercent: 0.1,
	}
}

// Retrier runs a function under a Policy. Only errors for which
// domain.Retryable reports true are retried.
type Retrier struct {
	policy  Policy
	sleep   func(ctx context.Context, d time.Duration) error
	onRetry func(attempt int, delay time.Duration, err error)
}

// NewRetrier creates a Retrier. onRetry, when non-nil, is called before each
// backoff wait.
func NewRetrier(p Policy, onRetry func(attempt int, delay time.Duration, err error)) *Retrier {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return &Retrier{policy: p, sleep: sleepCtx, onRetry: onRetry}
}

// Do calls fn until it succeeds, returns a non-retryable error, the policy is
// exhausted or ctx is done. fn receives the 0-based attempt number and must
// re-derive any precondition (such as a head SHA) on every attempt.
func (r *Retrier) Do(ctx context.Context, fn func(attempt int) error) error {
	var err error
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		err = fn(attempt)
		if err == nil || !domain.Retryable(err) {
			return err
		}
		if attempt == r.policy.MaxAttempts-1 {
			break
		}

		delay, ok := r.delay(attempt, err)
		if !ok {
			return err
		}
		if r.onRetry != nil {
			r.onRetry(attempt+1, delay, err)
		}
		if werr := r.sleep(ctx, delay); werr != nil {
			return err
		}
	}
	return err
}

// delay returns the wait before attempt+1, or false when a server-advised
// wait exceeds the policy cap.
func (r *Retrier) delay(attempt int, err error) (time.Duration, bool) {
	var rl *domain.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		if r.policy.MaxDelay > 0 && rl.RetryAfter > r.policy.MaxDelay {
			return 0, false
		}
		return rl.RetryAfter, true
	}
	return Backoff(attempt, r.policy), true
}

// maxBackoff bounds an uncapped backoff well inside time.Duration's range.
const maxBackoff = float64(1 << 62)

// Backoff computes initial * multiplier^attempt, capped at MaxDelay, with jitter.
// The product is clamped before conversion so large attempt counts cannot
// overflow into a negative duration.
func Backoff(attempt int, p Policy) time.Duration {
	if p.InitialDelay <= 0 {
		return time.Millisecond
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	limit := maxBackoff
	if p.MaxDelay > 0 {
		limit = float64(p.MaxDelay)
	}
	d := math.Min(float64(p.InitialDelay)*math.Pow(mult, float64(attempt)), limit)
	if p.JitterPercent > 0 {
		d += (rand.Float64()*2 - 1) * d * p.JitterPercent
		d = math.Min(d, maxBackoff)
	}
	if d < float64(time.Millisecond) {
		return time.Millisecond
	}
	return time.Duration(d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
