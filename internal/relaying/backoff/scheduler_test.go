package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/vietddude/chatrelay/internal/core/domain"
)

func TestTransientWait_Growth(t *testing.T) {
	s := NewScheduler(Config{BaseDelay: 2 * time.Second, MaxAttempts: 5})

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second}
	for i, w := range want {
		attempt := i + 1
		got, ok := s.TransientWait(attempt)
		if !ok {
			t.Fatalf("attempt %d should be allowed", attempt)
		}
		if got != w {
			t.Errorf("attempt %d: expected %v, got %v", attempt, w, got)
		}
	}

	if _, ok := s.TransientWait(6); ok {
		t.Error("attempt 6 should exceed the limit of 5")
	}
}

func TestRateLimitWait(t *testing.T) {
	s := NewScheduler(Config{RateLimitBuffer: 5 * time.Second, MaxCooldown: time.Hour})

	wait, ok := s.RateLimitWait(5 * time.Second)
	if !ok || wait != 10*time.Second {
		t.Errorf("RateLimitWait(5s) = %v, %v; want 10s, true", wait, ok)
	}

	// 3596 + 5 > 3600
	if _, ok := s.RateLimitWait(3596 * time.Second); ok {
		t.Error("cooldown plus buffer above the maximum should be refused")
	}
	if _, ok := s.RateLimitWait(3595 * time.Second); !ok {
		t.Error("cooldown plus buffer equal to the maximum should be allowed")
	}
}

func TestRateLimitWait_HugeCooldownAbandons(t *testing.T) {
	s := NewScheduler(Config{RateLimitBuffer: 5 * time.Second, MaxCooldown: time.Hour})

	for _, cooldown := range []time.Duration{time.Duration(math.MaxInt64), time.Duration(math.MaxInt64) - time.Second} {
		wait, ok := s.RateLimitWait(cooldown)
		if ok {
			t.Errorf("RateLimitWait(%d) should be refused", cooldown)
		}
		if wait < time.Hour {
			t.Errorf("RateLimitWait(%d) wrapped around to %v", cooldown, wait)
		}
	}

	d := s.Next(domain.Failure{Kind: domain.FailureRateLimited, Cooldown: time.Duration(math.MaxInt64)}, 1)
	if d.Action != ActionAbandon {
		t.Errorf("Next with a saturated cooldown = %s, want abandon", d.Action)
	}
}

func TestPacingDelay_Bounds(t *testing.T) {
	s := NewScheduler(
		Config{MinDelay: 1500 * time.Millisecond, MaxDelay: 3 * time.Second},
		WithRand(rand.New(rand.NewPCG(1, 2))),
	)

	for i := 0; i < 1000; i++ {
		d := s.PacingDelay()
		if d < 1500*time.Millisecond || d > 3*time.Second {
			t.Fatalf("pacing delay %v outside [1.5s, 3s]", d)
		}
	}
}

func TestPacingDelay_FixedWhenBoundsEqual(t *testing.T) {
	s := NewScheduler(Config{MinDelay: time.Second, MaxDelay: time.Second})
	if d := s.PacingDelay(); d != time.Second {
		t.Errorf("expected 1s, got %v", d)
	}
}

func TestNext(t *testing.T) {
	s := NewScheduler(Config{
		RateLimitBuffer: 5 * time.Second,
		MaxCooldown:     time.Hour,
		BaseDelay:       2 * time.Second,
		MaxAttempts:     5,
	})

	tests := []struct {
		name    string
		failure domain.Failure
		attempt int
		action  Action
		wait    time.Duration
	}{
		{"rate limited", domain.Failure{Kind: domain.FailureRateLimited, Cooldown: 5 * time.Second}, 1, ActionRetry, 10 * time.Second},
		{"rate limited too long", domain.Failure{Kind: domain.FailureRateLimited, Cooldown: 2 * time.Hour}, 1, ActionAbandon, 2*time.Hour + 5*time.Second},
		{"rate limited too often", domain.Failure{Kind: domain.FailureRateLimited, Cooldown: time.Second}, 6, ActionAbandon, 0},
		{"transient first", domain.Failure{Kind: domain.FailureTransient}, 1, ActionRetry, 2 * time.Second},
		{"transient third", domain.Failure{Kind: domain.FailureTransient}, 3, ActionRetry, 8 * time.Second},
		{"transient exhausted", domain.Failure{Kind: domain.FailureTransient}, 6, ActionAbandon, 0},
		{"permission denied", domain.Failure{Kind: domain.FailurePermissionDenied}, 1, ActionAbandon, 0},
		{"fatal", domain.Failure{Kind: domain.FailureFatal}, 1, ActionAbort, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := s.Next(tt.failure, tt.attempt)
			if d.Action != tt.action {
				t.Errorf("action = %s, want %s (%s)", d.Action, tt.action, d.Reason)
			}
			if d.Wait != tt.wait {
				t.Errorf("wait = %v, want %v", d.Wait, tt.wait)
			}
		})
	}
}

func TestDefaults(t *testing.T) {
	cfg := NewScheduler(Config{}).Config()
	if cfg.MaxAttempts != 5 || cfg.BaseDelay != 2*time.Second || cfg.MaxCooldown != time.Hour {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := Sleep(ctx, RealClock(), time.Hour); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep should return immediately on a cancelled context")
	}
}

func TestFakeClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)
	s := NewScheduler(Config{}, WithClock(c))

	if err := s.Wait(context.Background(), 3*time.Second); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if err := s.Wait(context.Background(), 0); err != nil {
		t.Fatalf("zero Wait failed: %v", err)
	}

	if got := c.Now().Sub(start); got != 3*time.Second {
		t.Errorf("expected clock to move 3s, moved %v", got)
	}
	if w := c.Waits(); len(w) != 1 || w[0] != 3*time.Second {
		t.Errorf("unexpected waits: %v", w)
	}
}
