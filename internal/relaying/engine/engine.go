// Package engine relays one route: it scans the source conversation after
// the checkpoint, delivers each content message through the retry envelope
// and persists the checkpoint after every confirmed delivery.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/chatrelay/internal/core/checkpoint"
	"github.com/vietddude/chatrelay/internal/core/domain"
	"github.com/vietddude/chatrelay/internal/infra/messaging"
	"github.com/vietddude/chatrelay/internal/infra/storage"
	"github.com/vietddude/chatrelay/internal/relaying/backoff"
	"github.com/vietddude/chatrelay/internal/relaying/classify"
	"github.com/vietddude/chatrelay/internal/relaying/metrics"
)

// Config holds engine configuration for one route.
type Config struct {
	Route       domain.Route
	Mode        domain.DeliveryMode
	BatchSize   int
	Source      messaging.Source
	Deliverer   messaging.Deliverer
	Checkpoints checkpoint.Manager
	Abandoned   storage.AbandonedRepository // optional
	Scheduler   *backoff.Scheduler
	Logger      *slog.Logger

	// OnTransition is invoked for every state change.
	OnTransition func(route string, t Transition)
}

// Engine runs the relay state machine for one route.
type Engine struct {
	cfg     Config
	log     *slog.Logger
	clock   backoff.Clock
	running atomic.Bool
	state   atomic.Value // State
}

// New creates an engine.
func New(cfg Config) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Mode == "" {
		cfg.Mode = domain.ModeCopy
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = backoff.NewScheduler(backoff.DefaultConfig())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	e := &Engine{
		cfg:   cfg,
		log:   cfg.Logger.With("route", cfg.Route.Name),
		clock: cfg.Scheduler.Clock(),
	}
	e.state.Store(StateScanning)
	return e
}

// State returns the current state.
func (e *Engine) State() State {
	return e.state.Load().(State)
}

// Run relays the route until the source is exhausted.
//
// Per-message failures are recorded in the outcome. A route-level failure
// (the scan or a checkpoint write failing) ends the route and is returned in
// outcome.Err with a nil error. Only a fatal failure or cancellation is
// returned as error.
func (e *Engine) Run(ctx context.Context) (domain.RouteOutcome, error) {
	outcome := domain.RouteOutcome{Route: e.cfg.Route}
	if !e.running.CompareAndSwap(false, true) {
		return outcome, fmt.Errorf("engine for route %s already running", e.cfg.Route.Name)
	}
	defer e.running.Store(false)

	start := e.clock.Now()
	e.state.Store(StateScanning)
	err := e.run(ctx, &outcome)
	if terr := e.transition(StateComplete, completeReason(err)); terr != nil && err == nil {
		err = terr
	}
	outcome.Elapsed = e.clock.Now().Sub(start)

	if err == nil {
		e.log.Info("Route complete",
			"relayed", outcome.Relayed,
			"skipped", outcome.Skipped,
			"abandoned", len(outcome.Abandoned),
			"checkpoint", outcome.Checkpoint,
		)
		return outcome, nil
	}

	outcome.Err = err
	if errors.Is(err, domain.ErrFatal) || ctx.Err() != nil {
		return outcome, err
	}

	metrics.RouteFailures.WithLabelValues(e.cfg.Route.Name).Inc()
	e.log.Error("Route failed", "error", err, "relayed", outcome.Relayed, "checkpoint", outcome.Checkpoint)
	return outcome, nil
}

func (e *Engine) run(ctx context.Context, outcome *domain.RouteOutcome) error {
	route := e.cfg.Route

	committed, err := e.cfg.Checkpoints.Get(ctx, route)
	if err != nil {
		return err
	}
	outcome.Checkpoint = committed

	e.log.Info("Relaying route",
		"source", route.Source,
		"dest", route.Dest,
		"from", committed,
		"mode", e.cfg.Mode,
	)

	var (
		after   = committed // scan position
		gap     *domain.AbandonedMessage
		pending bool // a delivery succeeded and pacing is owed before the next call
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := e.cfg.Source.FetchAfter(ctx, route.Source, after, e.cfg.BatchSize)
		if err != nil {
			return e.scanError(ctx, err)
		}
		if len(page) == 0 {
			return nil
		}

		for _, msg := range page {
			if msg.ID <= after {
				return fmt.Errorf("source returned message %s out of order after %s", msg.ID, after)
			}
			after = msg.ID

			if msg.Service {
				outcome.Skipped++
				e.log.Debug("Skipping service message", "message_id", msg.ID)
				continue
			}

			if pending {
				if err := e.wait(ctx, e.cfg.Scheduler.PacingDelay(), "pacing"); err != nil {
					return err
				}
				pending = false
			}

			if err := e.transition(StateDelivering, "message "+msg.ID.String()); err != nil {
				return err
			}
			abandoned, err := e.deliver(ctx, msg)
			if err != nil {
				return err
			}

			if abandoned != nil {
				if err := e.transition(StateAbandoned, string(abandoned.Kind)); err != nil {
					return err
				}
				e.recordAbandoned(ctx, abandoned)
				outcome.Abandoned = append(outcome.Abandoned, *abandoned)
				if gap == nil {
					gap = abandoned
					e.log.Warn("Checkpoint held before abandoned message",
						"checkpoint", committed,
						"message_id", abandoned.MessageID,
					)
				}
				if err := e.transition(StateScanning, "next message"); err != nil {
					return err
				}
				continue
			}

			outcome.Relayed++
			metrics.MessagesRelayed.WithLabelValues(route.Name).Inc()

			if gap == nil {
				if err := e.cfg.Checkpoints.Advance(ctx, route.Name, msg.ID); err != nil {
					return fmt.Errorf("failed to persist checkpoint %s: %w", msg.ID, err)
				}
				committed = msg.ID
				outcome.Checkpoint = committed
			}
			if err := e.transition(StateSucceeded, "message "+msg.ID.String()); err != nil {
				return err
			}
			e.log.Info("Message relayed", "message_id", msg.ID, "checkpoint", committed)

			pending = true
			if err := e.transition(StateScanning, "next message"); err != nil {
				return err
			}
		}
	}
}

// deliver runs the retry envelope for one message. It returns a record when
// the message is abandoned, or an error for fatal failures and cancellation.
func (e *Engine) deliver(ctx context.Context, msg domain.Message) (*domain.AbandonedMessage, error) {
	route := e.cfg.Route
	attempt := &domain.RelayAttempt{MessageID: msg.ID}

	for {
		attempt.Attempts++

		started := e.clock.Now()
		err := e.cfg.Deliverer.Deliver(ctx, route.Dest, msg, e.cfg.Mode)
		metrics.DeliveryLatency.WithLabelValues(route.Name).Observe(e.clock.Now().Sub(started).Seconds())
		if err == nil {
			return nil, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		failure := classify.Classify(err)
		attempt.LastErrorKind = failure.Kind
		attempt.LastError = err
		metrics.DeliveryFailures.WithLabelValues(route.Name, string(failure.Kind)).Inc()

		decision := e.cfg.Scheduler.Next(failure, attempt.Attempts)
		switch decision.Action {
		case backoff.ActionAbort:
			e.log.Error("Fatal delivery failure", "message_id", msg.ID, "error", err)
			return nil, fmt.Errorf("%w: route %s message %s: %w", domain.ErrFatal, route.Name, msg.ID, err)

		case backoff.ActionAbandon:
			e.log.Error("Abandoning message",
				"message_id", msg.ID,
				"kind", failure.Kind,
				"attempts", attempt.Attempts,
				"reason", decision.Reason,
				"error", err,
			)
			metrics.MessagesAbandoned.WithLabelValues(route.Name, string(failure.Kind)).Inc()
			return &domain.AbandonedMessage{
				ID:          uuid.NewString(),
				Route:       route.Name,
				MessageID:   msg.ID,
				Kind:        failure.Kind,
				Error:       err.Error(),
				Attempts:    attempt.Attempts,
				AbandonedAt: e.clock.Now(),
			}, nil

		default:
			attempt.NextRetryAt = e.clock.Now().Add(decision.Wait)
			e.log.Warn("Delivery failed, retrying",
				"message_id", msg.ID,
				"kind", failure.Kind,
				"attempt", attempt.Attempts,
				"wait", decision.Wait,
				"error", err,
			)
			if err := e.wait(ctx, decision.Wait, string(failure.Kind)); err != nil {
				return nil, err
			}
		}
	}
}

func (e *Engine) scanError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	failure := classify.Classify(err)
	if failure.Kind == domain.FailureFatal {
		return fmt.Errorf("%w: scanning %s: %w", domain.ErrFatal, e.cfg.Route.Source, err)
	}
	return fmt.Errorf("failed to scan %s (%s): %w", e.cfg.Route.Source, failure.Kind, err)
}

func (e *Engine) wait(ctx context.Context, d time.Duration, reason string) error {
	metrics.WaitSeconds.WithLabelValues(e.cfg.Route.Name, reason).Observe(d.Seconds())
	return e.cfg.Scheduler.Wait(ctx, d)
}

func (e *Engine) recordAbandoned(ctx context.Context, msg *domain.AbandonedMessage) {
	if e.cfg.Abandoned == nil {
		return
	}
	if err := e.cfg.Abandoned.Add(ctx, msg); err != nil {
		e.log.Error("Failed to record abandoned message", "message_id", msg.MessageID, "error", err)
	}
}

// transition moves the route to a new state. An invalid transition leaves the
// state unchanged and ends the route.
func (e *Engine) transition(to State, reason string) error {
	from := e.State()
	if from == to {
		return nil
	}

	t := NewTransition(from, to, reason, e.clock.Now())
	if !t.IsValid() {
		e.log.Error("Invalid state transition", "from", from, "to", to)
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	e.state.Store(to)
	metrics.StateTransitions.WithLabelValues(e.cfg.Route.Name, string(to)).Inc()
	e.log.Debug("State transition", "from", from, "to", to, "state", StateDescription(to), "reason", reason)

	if e.cfg.OnTransition != nil {
		e.cfg.OnTransition(e.cfg.Route.Name, t)
	}
	return nil
}

func completeReason(err error) string {
	if err != nil {
		return err.Error()
	}
	return "source exhausted"
}
