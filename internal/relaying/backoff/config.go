package backoff

import "time"

// Config holds the wait policies of the scheduler.
type Config struct {
	// Rate-limit wait: cooldown + RateLimitBuffer, abandoned above MaxCooldown
	RateLimitBuffer time.Duration // default: 5s
	MaxCooldown     time.Duration // default: 1h

	// Transient backoff: attempt n waits BaseDelay * 2^(n-1), abandoned after MaxAttempts retries
	BaseDelay   time.Duration // default: 2s
	MaxAttempts int           // default: 5

	// Steady-state pacing after every success, uniform in [MinDelay, MaxDelay]
	MinDelay time.Duration // default: 1.5s
	MaxDelay time.Duration // default: 3s
}

// DefaultConfig returns the defaults used for user accounts on flood-controlled services.
func DefaultConfig() Config {
	return Config{
		RateLimitBuffer: 5 * time.Second,
		MaxCooldown:     time.Hour,
		BaseDelay:       2 * time.Second,
		MaxAttempts:     5,
		MinDelay:        1500 * time.Millisecond,
		MaxDelay:        3 * time.Second,
	}
}

// withDefaults fills MaxCooldown, BaseDelay and MaxAttempts from DefaultConfig
// when unset and orders the pacing bounds. A zero buffer or zero pacing is kept.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RateLimitBuffer < 0 {
		c.RateLimitBuffer = 0
	}
	if c.MaxCooldown <= 0 {
		c.MaxCooldown = d.MaxCooldown
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.MinDelay < 0 {
		c.MinDelay = 0
	}
	if c.MaxDelay < c.MinDelay {
		c.MaxDelay = c.MinDelay
	}
	return c
}
