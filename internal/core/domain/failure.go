package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConfiguration is returned for a configuration that cannot start a run
	// (no routes, missing credentials). Reported before any network activity.
	ErrConfiguration = errors.New("configuration error")

	// ErrFatal wraps failures that abort the whole run.
	ErrFatal = errors.New("fatal error")

	// ErrUnauthorized is returned by clients when the credentials are rejected.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrPermissionDenied is returned when a source or destination is not accessible.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrCheckpointRegress is returned when an advance would not move the checkpoint forward.
	ErrCheckpointRegress = errors.New("checkpoint would not advance")
)

// RateLimitError is a server-mandated cooldown before Op may be retried.
type RateLimitError struct {
	Op       string
	Cooldown time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("FLOOD_WAIT_%d: %s rate limited, retry in %s",
		int64(e.Cooldown/time.Second), e.Op, e.Cooldown)
}

// FailureKind is the classification of a failed delivery attempt.
type FailureKind string

const (
	FailureNone             FailureKind = ""
	FailureRateLimited      FailureKind = "rate_limited"
	FailurePermissionDenied FailureKind = "permission_denied"
	FailureTransient        FailureKind = "transient"
	FailureFatal            FailureKind = "fatal"
)

// Failure is a classified error. Cooldown is only set for FailureRateLimited.
type Failure struct {
	Kind     FailureKind
	Cooldown time.Duration
	Err      error
}

func (f Failure) Error() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Retryable reports whether the failure kind permits another attempt.
func (f Failure) Retryable() bool {
	return f.Kind == FailureRateLimited || f.Kind == FailureTransient
}
