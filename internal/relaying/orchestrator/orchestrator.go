// Package orchestrator runs every configured route and emits the run report.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/chatrelay/internal/core/checkpoint"
	"github.com/vietddude/chatrelay/internal/core/domain"
	"github.com/vietddude/chatrelay/internal/infra/messaging"
	"github.com/vietddude/chatrelay/internal/infra/storage"
	"github.com/vietddude/chatrelay/internal/relaying/backoff"
	"github.com/vietddude/chatrelay/internal/relaying/classify"
	"github.com/vietddude/chatrelay/internal/relaying/engine"
	"github.com/vietddude/chatrelay/internal/relaying/report"
)

// ErrDeclined is returned when the operator does not confirm the run.
var ErrDeclined = errors.New("run declined by operator")

// Config holds orchestrator configuration.
type Config struct {
	Routes      []domain.Route
	Mode        domain.DeliveryMode
	BatchSize   int
	Concurrency int // routes relayed in parallel; 1 runs them in order

	// AutoMode skips Confirm.
	AutoMode bool
	Confirm  func(routes []domain.Route) bool

	// Connect opens a messaging session. One session serves the sequential
	// run and the report; in parallel mode every route opens its own.
	Connect func(ctx context.Context) (messaging.Client, error)

	Checkpoints checkpoint.Manager
	Abandoned   storage.AbandonedRepository
	Scheduler   *backoff.Scheduler

	// Reporter builds the reporter for the run. session is nil when the
	// connection could not be opened.
	Reporter      func(session messaging.Poster) report.Reporter
	Attachment    *domain.Attachment
	ReportTimeout time.Duration

	// OnRoute is called when a route starts.
	OnRoute func(route domain.Route)

	Logger *slog.Logger
}

// Orchestrator runs a relay job.
type Orchestrator struct {
	cfg   Config
	log   *slog.Logger
	clock backoff.Clock
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = backoff.NewScheduler(backoff.DefaultConfig())
	}
	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = 2 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		cfg:   cfg,
		log:   cfg.Logger,
		clock: cfg.Scheduler.Clock(),
	}
}

// Run relays every route and sends the report.
//
// A configuration error or a declined confirmation is returned before any
// connection is opened, with a nil report. Otherwise the report is always
// returned and the summary is always attempted; the error is non-nil only
// when a fatal failure or cancellation ended the run early.
func (o *Orchestrator) Run(ctx context.Context) (*domain.RunReport, error) {
	if len(o.cfg.Routes) == 0 {
		return nil, fmt.Errorf("%w: no routes configured", domain.ErrConfiguration)
	}
	if o.cfg.Connect == nil {
		return nil, fmt.Errorf("%w: no messaging client", domain.ErrConfiguration)
	}
	if !o.cfg.AutoMode && o.cfg.Confirm != nil && !o.cfg.Confirm(o.cfg.Routes) {
		return nil, ErrDeclined
	}

	rep := &domain.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: o.clock.Now(),
	}
	log := o.log.With("run_id", rep.RunID)

	log.Info(strings.Repeat("=", 60))
	log.Info("Relay job started",
		"routes", len(o.cfg.Routes),
		"mode", o.cfg.Mode,
		"concurrency", o.cfg.Concurrency,
	)

	session, err := o.cfg.Connect(ctx)
	if err != nil {
		rep.Err = connectError(err)
		rep.ErrorCount++
		log.Error("Failed to connect", "error", err)
	} else {
		defer func() {
			if err := session.Close(); err != nil {
				log.Warn("Failed to close session", "error", err)
			}
		}()

		if o.cfg.Concurrency > 1 && len(o.cfg.Routes) > 1 {
			rep.Err = o.runParallel(ctx, rep)
		} else {
			rep.Err = o.runSequential(ctx, session, rep)
		}
	}

	rep.Elapsed = o.clock.Now().Sub(rep.StartedAt)

	log.Info(strings.Repeat("=", 60))
	log.Info("Relay job completed",
		"relayed", rep.MessagesRelayed,
		"errors", rep.ErrorCount,
		"elapsed", rep.Elapsed.Round(time.Millisecond),
		"msgs_per_min", fmt.Sprintf("%.2f", rep.RatePerMinute()),
	)

	var poster messaging.Poster
	if session != nil {
		poster = session
	}
	o.sendReport(ctx, poster, rep)

	return rep, rep.Err
}

func (o *Orchestrator) runSequential(ctx context.Context, client messaging.Client, rep *domain.RunReport) error {
	for _, route := range o.cfg.Routes {
		outcome, err := o.runRoute(ctx, client, route)
		rep.Add(outcome)
		if err != nil {
			o.log.Error("Aborting run", "route", route.Name, "error", err)
			return err
		}
	}
	return nil
}

func (o *Orchestrator) runParallel(ctx context.Context, rep *domain.RunReport) error {
	outcomes := make([]*domain.RouteOutcome, len(o.cfg.Routes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)

	for i, route := range o.cfg.Routes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				outcomes[i] = &domain.RouteOutcome{Route: route, Err: fmt.Errorf("route not started: %w", err)}
				return nil
			}

			client, err := o.cfg.Connect(gctx)
			if err != nil {
				outcomes[i] = &domain.RouteOutcome{Route: route, Err: err}
				if f := classify.Classify(err); f.Kind == domain.FailureFatal {
					return connectError(err)
				}
				return nil
			}
			defer func() { _ = client.Close() }()

			outcome, err := o.runRoute(gctx, client, route)
			outcomes[i] = &outcome
			return err
		})
	}

	err := g.Wait()
	for _, outcome := range outcomes {
		if outcome != nil {
			rep.Add(*outcome)
		}
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return err
}

func (o *Orchestrator) runRoute(ctx context.Context, client messaging.Client, route domain.Route) (domain.RouteOutcome, error) {
	if o.cfg.OnRoute != nil {
		o.cfg.OnRoute(route)
	}

	e := engine.New(engine.Config{
		Route:       route,
		Mode:        o.cfg.Mode,
		BatchSize:   o.cfg.BatchSize,
		Source:      client,
		Deliverer:   client,
		Checkpoints: o.cfg.Checkpoints,
		Abandoned:   o.cfg.Abandoned,
		Scheduler:   o.cfg.Scheduler,
		Logger:      o.log,
	})
	outcome, err := e.Run(ctx)

	if m := o.cfg.Checkpoints.GetMetrics(route.Name); m.LastAdvancedAt != nil {
		o.log.Info("Route throughput",
			"route", route.Name,
			"msgs_per_sec", fmt.Sprintf("%.3f", m.MessagesPerSecond),
			"avg_interval", m.AverageInterval.Round(time.Millisecond),
			"last_offset", m.LastOffset,
		)
	}
	return outcome, err
}

func (o *Orchestrator) sendReport(ctx context.Context, poster messaging.Poster, rep *domain.RunReport) {
	if o.cfg.Reporter == nil {
		return
	}
	reporter := o.cfg.Reporter(poster)
	if reporter == nil {
		return
	}

	// the summary is attempted even when the run was cancelled
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ReportTimeout)
	defer cancel()

	if err := reporter.Send(rctx, report.New(rep, o.cfg.Attachment)); err != nil {
		o.log.Warn("Failed to send report", "error", err)
	}
}

func connectError(err error) error {
	if classify.Classify(err).Kind == domain.FailureFatal {
		return fmt.Errorf("%w: connect: %w", domain.ErrFatal, err)
	}
	return fmt.Errorf("connect: %w", err)
}
