package classify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/vietddude/chatrelay/internal/core/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		kind     domain.FailureKind
		cooldown time.Duration
	}{
		{"typed rate limit", &domain.RateLimitError{Op: "send", Cooldown: 5 * time.Second}, domain.FailureRateLimited, 5 * time.Second},
		{"wrapped rate limit", fmt.Errorf("deliver: %w", &domain.RateLimitError{Cooldown: time.Minute}), domain.FailureRateLimited, time.Minute},
		{"flood wait marker", errors.New("A wait of 2891 seconds is required (FLOOD_WAIT_2891)"), domain.FailureRateLimited, 2891 * time.Second},
		{"slowmode", errors.New("SLOWMODE_WAIT_10"), domain.FailureRateLimited, 10 * time.Second},
		{"http 429", errors.New("429 Too Many Requests: retry after 7"), domain.FailureRateLimited, 7 * time.Second},
		{"bare 429", errors.New("429 Too Many Requests"), domain.FailureRateLimited, 0},
		{"permission sentinel", fmt.Errorf("chat -100: %w", domain.ErrPermissionDenied), domain.FailurePermissionDenied, 0},
		{"channel private", errors.New("CHANNEL_PRIVATE: The channel specified is private"), domain.FailurePermissionDenied, 0},
		{"admin required", errors.New("CHAT_ADMIN_REQUIRED"), domain.FailurePermissionDenied, 0},
		{"unauthorized sentinel", fmt.Errorf("login: %w", domain.ErrUnauthorized), domain.FailureFatal, 0},
		{"auth key", errors.New("AUTH_KEY_UNREGISTERED"), domain.FailureFatal, 0},
		{"deadline", context.DeadlineExceeded, domain.FailureTransient, 0},
		{"connection reset", errors.New("connection reset by peer"), domain.FailureTransient, 0},
		{"server error", errors.New("500 Internal Server Error"), domain.FailureTransient, 0},
		{"status 401", errors.New("login failed: status 401"), domain.FailureFatal, 0},
		{"http 403", errors.New("HTTP/1.1 403 Forbidden"), domain.FailurePermissionDenied, 0},
		{"status code 429", errors.New("send failed: status code: 429"), domain.FailureRateLimited, 0},
		{"message id containing 401", fmt.Errorf("failed to send message 14012: connection reset by peer"), domain.FailureTransient, 0},
		{"duration containing 403", errors.New("upstream timeout after 4031ms"), domain.FailureTransient, 0},
		{"message id containing 429", errors.New("temporary failure relaying message 74290"), domain.FailureTransient, 0},
		{"port containing 401", errors.New("dial tcp 10.0.0.1:14010: i/o timeout"), domain.FailureTransient, 0},
		{"huge flood wait saturates", errors.New("FLOOD_WAIT_99999999999999999999"), domain.FailureRateLimited, time.Duration(math.MaxInt64)},
		{"flood wait above duration range", errors.New("FLOOD_WAIT_9223372037"), domain.FailureRateLimited, time.Duration(math.MaxInt64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Kind != tt.kind {
				t.Errorf("Classify(%q).Kind = %s, want %s", tt.err, got.Kind, tt.kind)
			}
			if got.Cooldown != tt.cooldown {
				t.Errorf("Classify(%q).Cooldown = %v, want %v", tt.err, got.Cooldown, tt.cooldown)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("Failure should unwrap to the original error")
			}
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	if got := Classify(nil); got.Kind != domain.FailureNone {
		t.Errorf("Classify(nil) = %s, want none", got.Kind)
	}
}
