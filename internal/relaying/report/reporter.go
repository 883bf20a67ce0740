// Package report delivers the end-of-run summary.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/vietddude/chatrelay/internal/core/domain"
	"github.com/vietddude/chatrelay/internal/infra/messaging"
	"github.com/vietddude/chatrelay/internal/relaying/backoff"
	"github.com/vietddude/chatrelay/internal/relaying/classify"
)

// Report is the final artifact of a run.
type Report struct {
	Run        *domain.RunReport
	Text       string             // rendered summary
	Attachment *domain.Attachment // optional, e.g. a configuration backup
}

// New renders r into a Report.
func New(r *domain.RunReport, attachment *domain.Attachment) Report {
	return Report{Run: r, Text: Render(r), Attachment: attachment}
}

// Reporter sends a report somewhere.
type Reporter interface {
	Send(ctx context.Context, rep Report) error
}

// =============================================================================
// Log Reporter
// =============================================================================

// LogReporter writes the totals as a structured log record.
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) Send(ctx context.Context, rep Report) error {
	log := r.Logger
	if log == nil {
		log = slog.Default()
	}

	run := rep.Run
	level := slog.LevelInfo
	if !run.OK() {
		level = slog.LevelWarn
	}
	log.Log(ctx, level, "Relay job finished",
		"run_id", run.RunID,
		"relayed", run.MessagesRelayed,
		"errors", run.ErrorCount,
		"elapsed", run.Elapsed.Round(time.Second),
		"msgs_per_min", fmt.Sprintf("%.1f", run.RatePerMinute()),
	)
	for _, o := range run.PerRoute {
		if o.Err != nil {
			log.Error("Route errored", "route", o.Route.Name, "error", o.Err)
		}
	}
	return nil
}

// =============================================================================
// File Reporter
// =============================================================================

// FileReporter writes the rendered summary to a file.
type FileReporter struct {
	Path string
}

func (r FileReporter) Send(ctx context.Context, rep Report) error {
	if dir := filepath.Dir(r.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report dir: %w", err)
		}
	}
	if err := os.WriteFile(r.Path, []byte(rep.Text), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// =============================================================================
// Conversation Reporter
// =============================================================================

// ConversationReporter posts the attachment and the summary to a conversation,
// retrying rate-limited and transient failures.
type ConversationReporter struct {
	Poster    messaging.Poster
	To        domain.Peer // defaults to the account's own conversation
	Scheduler *backoff.Scheduler
	Logger    *slog.Logger
}

func (r ConversationReporter) Send(ctx context.Context, rep Report) error {
	to := r.To
	if to.IsZero() {
		to = messaging.SelfPeer
	}
	log := r.Logger
	if log == nil {
		log = slog.Default()
	}
	sched := r.Scheduler
	if sched == nil {
		sched = backoff.NewScheduler(backoff.DefaultConfig())
	}

	if rep.Attachment != nil {
		err := retry(ctx, sched, log, func(ctx context.Context) error {
			return r.Poster.Post(ctx, to, rep.Attachment.Caption, rep.Attachment)
		})
		if err != nil {
			// the summary is still worth sending
			log.Warn("Failed to send attachment", "to", to, "name", rep.Attachment.Name, "error", err)
		}
	}

	err := retry(ctx, sched, log, func(ctx context.Context) error {
		return r.Poster.Post(ctx, to, rep.Text, nil)
	})
	if err != nil {
		return fmt.Errorf("failed to send summary to %s: %w", to, err)
	}
	return nil
}

// retry runs op until it succeeds or the scheduler gives up.
func retry(ctx context.Context, sched *backoff.Scheduler, log *slog.Logger, op func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		failure := classify.Classify(err)
		if !failure.Retryable() {
			return err
		}
		decision := sched.Next(failure, attempt)
		if decision.Action != backoff.ActionRetry {
			return err
		}
		log.Warn("Report delivery failed, retrying", "attempt", attempt, "wait", decision.Wait, "error", err)
		if err := sched.Wait(ctx, decision.Wait); err != nil {
			return err
		}
	}
}

// =============================================================================
// Multi Reporter
// =============================================================================

// MultiReporter sends to every reporter, joining their errors.
type MultiReporter []Reporter

func (m MultiReporter) Send(ctx context.Context, rep Report) error {
	var errs []error
	for _, r := range m {
		if err := r.Send(ctx, rep); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
