// Package resilience provides retry and circuit-breaking for remote calls.
package resilience

import (
	"fmt"
	"sync"
	"time"

	"github.com/Strob0t/DocSync/internal/domain"
)

// ErrCircuitOpen is returned when the breaker rejects a call. It is a
// network-class error so callers treat it as transient.
var ErrCircuitOpen = fmt.Errorf("%w: circuit breaker is open", domain.ErrNetwork)

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

func (s state) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker opens after maxFailures consecutive counted failures and rejects
// calls until timeout elapses. While half-open exactly one probe call is let
// through at a time.
type Breaker struct {
	mu          sync.Mutex
	state       state
	failures    int
	maxFailures int
	timeout     time.Duration
	openedAt    time.Time
	probing     bool
	counts      func(error) bool
	now         func() time.Time // for testing
}

// NewBreaker creates a circuit breaker. Only errors for which counts returns
// true are failures; a nil counts treats every error as one. Client-side
// errors such as domain.ErrNotFound should not be counted: the remote
// answered correctly.
func NewBreaker(maxFailures int, timeout time.Duration, counts func(error) bool) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	if counts == nil {
		counts = func(error) bool { return true }
	}
	return &Breaker{
		maxFailures: maxFailures,
		timeout:     timeout,
		counts:      counts,
		now:         time.Now,
	}
}

// Execute runs fn if the circuit admits it. Returns ErrCircuitOpen otherwise.
func (b *Breaker) Execute(fn func() error) error {
	probe, ok := b.admit()
	if !ok {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing = false
	}
	if err != nil && b.counts(err) {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return err
}

// State returns "closed", "open" or "half-open".
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == stateOpen && b.now().Sub(b.openedAt) >= b.timeout {
		return stateHalfOpen.String()
	}
	return b.state.String()
}

func (b *Breaker) admit() (probe, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return false, true
	case stateOpen:
		if b.now().Sub(b.openedAt) < b.timeout {
			return false, false
		}
		b.state = stateHalfOpen
		fallthrough
	case stateHalfOpen:
		if b.probing {
			return false, false
		}
		b.probing = true
		return true, true
	}
	return false, false
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure() {
	b.failures++
	if b.state == stateHalfOpen || b.failures >= b.maxFailures {
		b.state = stateOpen
		b.openedAt = b.now()
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess() {
	b.failures = 0
	b.state = stateClosed
}
