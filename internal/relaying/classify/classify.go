// Package classify maps delivery errors to the four failure kinds the relay
// engine acts on: rate-limited, permission-denied, transient and fatal.
package classify

import (
	"context"
	"errors"
	"math"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/vietddude/chatrelay/internal/core/domain"
)

// floodWait matches server cooldown markers such as "FLOOD_WAIT_42",
// "SLOWMODE_WAIT_10" or "retry after 30".
var floodWait = regexp.MustCompile(`(?i)(?:flood_wait_|slowmode_wait_|retry after |retry_after[=:" ]+)(\d+)`)

// httpStatus matches an HTTP status code at the start of the message or
// after "status", "code" or "HTTP/x.y", e.g. "429 Too Many Requests" or
// "request failed: status 403". Bare digits elsewhere are not status codes.
var httpStatus = regexp.MustCompile(`(?i)(?:^|\b(?:status(?: code)?|code|http(?:/[\d.]+)?)[ :=]*)(401|403|429)\b`)

// maxCooldown saturates cooldowns too large to represent, so the scheduler
// abandons them instead of overflowing to a short wait.
const maxCooldown = time.Duration(math.MaxInt64)

// Classify determines the failure kind for a delivery error.
// Typed errors win over message inspection; unknown errors are transient.
func Classify(err error) domain.Failure {
	if err == nil {
		return domain.Failure{Kind: domain.FailureNone}
	}

	var rl *domain.RateLimitError
	if errors.As(err, &rl) {
		return domain.Failure{Kind: domain.FailureRateLimited, Cooldown: rl.Cooldown, Err: err}
	}

	switch {
	case errors.Is(err, domain.ErrFatal), errors.Is(err, domain.ErrUnauthorized):
		return domain.Failure{Kind: domain.FailureFatal, Err: err}
	case errors.Is(err, domain.ErrPermissionDenied):
		return domain.Failure{Kind: domain.FailurePermissionDenied, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return domain.Failure{Kind: domain.FailureTransient, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.Failure{Kind: domain.FailureTransient, Err: err}
	}

	return classifyMessage(err)
}

func classifyMessage(err error) domain.Failure {
	s := err.Error()
	sLower := strings.ToLower(s)

	// Rate limited (server cooldown)
	if m := floodWait.FindStringSubmatch(s); m != nil {
		return domain.Failure{
			Kind:     domain.FailureRateLimited,
			Cooldown: parseCooldown(m[1]),
			Err:      err,
		}
	}

	status := ""
	if m := httpStatus.FindStringSubmatch(s); m != nil {
		status = m[1]
	}

	if status == "429" || strings.Contains(sLower, "too many requests") {
		// No cooldown given: honour the smallest possible wait and let the buffer cover it.
		return domain.Failure{Kind: domain.FailureRateLimited, Err: err}
	}

	// Fatal (credentials or session)
	if strings.Contains(s, "AUTH_KEY") || strings.Contains(s, "SESSION_REVOKED") ||
		strings.Contains(s, "API_ID_INVALID") || status == "401" ||
		strings.Contains(sLower, "unauthorized") {
		return domain.Failure{Kind: domain.FailureFatal, Err: err}
	}

	// Permission denied (private chat, missing admin rights)
	if strings.Contains(s, "CHANNEL_PRIVATE") || strings.Contains(s, "CHAT_ADMIN_REQUIRED") ||
		strings.Contains(s, "CHAT_WRITE_FORBIDDEN") || strings.Contains(s, "USER_BANNED_IN_CHANNEL") ||
		status == "403" || strings.Contains(sLower, "forbidden") {
		return domain.Failure{Kind: domain.FailurePermissionDenied, Err: err}
	}

	// Default to Transient (network, timeouts, 5xx, etc)
	return domain.Failure{Kind: domain.FailureTransient, Err: err}
}

// parseCooldown converts a decimal seconds count, saturating on overflow.
func parseCooldown(digits string) time.Duration {
	secs, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || secs > int64(maxCooldown/time.Second) {
		return maxCooldown
	}
	return time.Duration(secs) * time.Second
}
