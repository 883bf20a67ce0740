// Package backoff decides how long the relay engine waits before its next call.
//
// Three policies, selected by the classified failure:
//
//   - Rate limited: wait exactly cooldown + buffer; abandon if that exceeds MaxCooldown.
//   - Transient: attempt n (1-indexed) waits BaseDelay * 2^(n-1); abandon after MaxAttempts.
//   - Success: pace the next call by a uniform draw from [MinDelay, MaxDelay].
//
// Permission-denied failures abandon the message; fatal failures abort the run.
package backoff

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/vietddude/chatrelay/internal/core/domain"
)

// Action is the scheduler's verdict after a failed attempt.
type Action int

const (
	// ActionRetry means wait Decision.Wait, then call again.
	ActionRetry Action = iota
	// ActionAbandon means give up on this message and continue the scan.
	ActionAbandon
	// ActionAbort means stop the whole run.
	ActionAbort
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionAbandon:
		return "abandon"
	case ActionAbort:
		return "abort"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Decision is what to do after a failure, and why.
type Decision struct {
	Action Action
	Wait   time.Duration
	Reason string
}

// Scheduler computes waits. Safe for concurrent use by several routes.
type Scheduler struct {
	cfg   Config
	clock Clock

	mu  sync.Mutex
	rnd *rand.Rand
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock used by Wait.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithRand sets the random source for pacing draws.
func WithRand(r *rand.Rand) Option {
	return func(s *Scheduler) { s.rnd = r }
}

// NewScheduler creates a scheduler.
func NewScheduler(cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:   cfg.withDefaults(),
		clock: RealClock(),
		rnd:   rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config { return s.cfg }

// Clock returns the scheduler's clock.
func (s *Scheduler) Clock() Clock { return s.clock }

// Wait suspends for d on the scheduler's clock, honouring cancellation.
func (s *Scheduler) Wait(ctx context.Context, d time.Duration) error {
	return Sleep(ctx, s.clock, d)
}

// RateLimitWait returns cooldown + buffer, and false if that exceeds MaxCooldown.
func (s *Scheduler) RateLimitWait(cooldown time.Duration) (time.Duration, bool) {
	if cooldown < 0 {
		cooldown = 0
	}
	if cooldown > math.MaxInt64-s.cfg.RateLimitBuffer {
		return math.MaxInt64, false
	}
	wait := cooldown + s.cfg.RateLimitBuffer
	return wait, wait <= s.cfg.MaxCooldown
}

// TransientWait returns BaseDelay * 2^(attempt-1) for the 1-indexed retry
// attempt, and false once attempt exceeds MaxAttempts.
func (s *Scheduler) TransientWait(attempt int) (time.Duration, bool) {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > s.cfg.MaxAttempts {
		return 0, false
	}
	return s.cfg.BaseDelay << (attempt - 1), true
}

// PacingDelay draws the post-success delay uniformly from [MinDelay, MaxDelay].
func (s *Scheduler) PacingDelay() time.Duration {
	span := s.cfg.MaxDelay - s.cfg.MinDelay
	if span <= 0 {
		return s.cfg.MinDelay
	}

	s.mu.Lock()
	n := s.rnd.Int64N(int64(span) + 1)
	s.mu.Unlock()

	return s.cfg.MinDelay + time.Duration(n)
}

// Next decides what follows a failure. attempt is the number of retries
// already made for this message plus one, i.e. the retry about to be scheduled.
func (s *Scheduler) Next(f domain.Failure, attempt int) Decision {
	switch f.Kind {
	case domain.FailureRateLimited:
		if attempt > s.cfg.MaxAttempts {
			return Decision{Action: ActionAbandon, Reason: fmt.Sprintf("rate limited after %d retries", s.cfg.MaxAttempts)}
		}
		wait, ok := s.RateLimitWait(f.Cooldown)
		if !ok {
			return Decision{
				Action: ActionAbandon,
				Wait:   wait,
				Reason: fmt.Sprintf("cooldown %s exceeds maximum %s", wait, s.cfg.MaxCooldown),
			}
		}
		return Decision{Action: ActionRetry, Wait: wait, Reason: "rate limited"}

	case domain.FailureTransient:
		wait, ok := s.TransientWait(attempt)
		if !ok {
			return Decision{Action: ActionAbandon, Reason: fmt.Sprintf("failed after %d retries", s.cfg.MaxAttempts)}
		}
		return Decision{Action: ActionRetry, Wait: wait, Reason: "transient error"}

	case domain.FailurePermissionDenied:
		return Decision{Action: ActionAbandon, Reason: "permission denied"}

	default:
		return Decision{Action: ActionAbort, Reason: "fatal error"}
	}
}
