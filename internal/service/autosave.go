package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/DocSync/internal/clock"
	"github.com/Strob0t/DocSync/internal/domain"
)

// SaveMode is how a workspace decides when to push.
type SaveMode string

const (
	// ModeManual never arms a timer; pushes happen only on explicit commit.
	ModeManual SaveMode = "manual"
	// ModeDebounce pushes once edits have been quiet for the configured delay.
	ModeDebounce SaveMode = "debounce"
)

// AutoSaveScheduler debounces content store changes into push calls. Every
// change resets the timer, so a burst of edits yields a single push.
type AutoSaveScheduler struct {
	clock clock.Clock
	delay time.Duration
	mode  SaveMode
	push  func(ctx context.Context) error
	ctx   context.Context

	mu      sync.Mutex
	timer   clock.Timer
	gen     uint64
	stopped bool
}

// NewAutoSaveScheduler creates a scheduler. A zero delay selects ModeManual.
// ctx bounds every push the scheduler starts.
func NewAutoSaveScheduler(ctx context.Context, clk clock.Clock, delay time.Duration, push func(ctx context.Context) error) *AutoSaveScheduler {
	mode := ModeDebounce
	if delay <= 0 {
		mode = ModeManual
	}
	return &AutoSaveScheduler{clock: clk, delay: delay, mode: mode, push: push, ctx: ctx}
}

// Mode returns the configured mode.
func (s *AutoSaveScheduler) Mode() SaveMode { return s.mode }

// Delay returns the debounce delay; zero in ModeManual.
func (s *AutoSaveScheduler) Delay() time.Duration {
	if s.mode == ModeManual {
		return 0
	}
	return s.delay
}

// Notify consumes a content store change. Edits and queued operations
// restart the timer. Other changes that leave unpushed work arm it only if
// nothing is scheduled, and changes that leave the store clean disarm it.
func (s *AutoSaveScheduler) Notify(c StoreChange) {
	if s.mode == ModeManual {
		return
	}
	if !c.Local {
		s.Cancel()
		return
	}
	switch c.Kind {
	case ChangeEdit, ChangeDirty, ChangeOp:
		s.arm()
	default:
		if !s.Pending() {
			s.arm()
		}
	}
}

// Pending reports whether a push is scheduled.
func (s *AutoSaveScheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

func (s *AutoSaveScheduler) arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = s.clock.AfterFunc(s.delay, func() { s.fire(gen) })
}

// Cancel disarms a scheduled push.
func (s *AutoSaveScheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}

func (s *AutoSaveScheduler) fire(gen uint64) {
	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	err := s.push(s.ctx)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrSyncInProgress):
		// Another operation holds the workspace; try again after it.
		s.arm()
	case errors.Is(err, domain.ErrSuperseded), errors.Is(err, context.Canceled):
	default:
		slog.WarnContext(s.ctx, "auto-save push failed", "error", err)
	}
}

// Flush cancels the timer and, if one was pending, pushes immediately.
func (s *AutoSaveScheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	pending := s.timer != nil
	if pending {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.mu.Unlock()
	if !pending {
		return nil
	}
	return s.push(ctx)
}

// Stop disarms the scheduler permanently.
func (s *AutoSaveScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}
