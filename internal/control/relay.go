package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/vietddude/chatrelay/internal/core/checkpoint"
	"github.com/vietddude/chatrelay/internal/core/config"
	"github.com/vietddude/chatrelay/internal/core/domain"
	"github.com/vietddude/chatrelay/internal/infra/messaging"
	"github.com/vietddude/chatrelay/internal/infra/messaging/memory"
	pgmessaging "github.com/vietddude/chatrelay/internal/infra/messaging/postgres"
	"github.com/vietddude/chatrelay/internal/relaying/backoff"
	"github.com/vietddude/chatrelay/internal/relaying/metrics"
	"github.com/vietddude/chatrelay/internal/relaying/orchestrator"
	"github.com/vietddude/chatrelay/internal/relaying/report"
)

// Relay is the main application struct that wires a relay job.
type Relay struct {
	cfg          *config.AppConfig
	routes       []domain.Route
	stores       *Stores
	checkpoints  *checkpoint.DefaultManager
	scheduler    *backoff.Scheduler
	metricsSrv   *metrics.Server
	opts         Options
	log          *slog.Logger
	memoryClient *memory.Client
}

// Options holds operator-facing switches.
type Options struct {
	AutoMode bool
	Confirm  func(routes []domain.Route) bool
	Clock    backoff.Clock // defaults to the wall clock
}

// NewRelay validates cfg and opens the storage backend. Configuration errors
// are returned before any connection is attempted.
func NewRelay(ctx context.Context, cfg *config.AppConfig, opts Options) (*Relay, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	routes, err := cfg.DomainRoutes()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}

	stores, err := OpenStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	clock := opts.Clock
	if clock == nil {
		clock = backoff.RealClock()
	}

	r := &Relay{
		cfg:         cfg,
		routes:      routes,
		stores:      stores,
		checkpoints: checkpoint.NewManager(stores.Checkpoints),
		scheduler:   backoff.NewScheduler(cfg.Relay.Backoff(), backoff.WithClock(clock)),
		opts:        opts,
		log:         slog.Default(),
	}
	if cfg.Metrics.Port > 0 {
		r.metricsSrv = metrics.NewServer(cfg.Metrics.Port)
	}
	if cfg.Messaging.Driver == "memory" {
		peers := make([]domain.Peer, 0, 2*len(routes))
		for _, rt := range routes {
			peers = append(peers, rt.Source, rt.Dest)
		}
		r.memoryClient = memory.NewClient(peers, memory.WithClock(clock.Now))
	}
	return r, nil
}

// Run relays every route and sends the report.
func (r *Relay) Run(ctx context.Context) (*domain.RunReport, error) {
	if r.metricsSrv != nil {
		go func() {
			if err := r.metricsSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				r.log.Error("Metrics server failed", "error", err)
			}
		}()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = r.metricsSrv.Stop(stopCtx)
		}()
	}
	if r.stores.DB != nil {
		r.stores.DB.StartMetricsCollector(ctx)
	}

	orch := orchestrator.New(orchestrator.Config{
		Routes:      r.routes,
		Mode:        domain.DeliveryMode(r.cfg.Relay.Mode),
		BatchSize:   r.cfg.Relay.BatchSize,
		Concurrency: r.cfg.Relay.Concurrency,
		AutoMode:    r.opts.AutoMode || r.cfg.Relay.AutoMode,
		Confirm:     r.opts.Confirm,
		Connect:     r.connect,
		Checkpoints: r.checkpoints,
		Abandoned:   r.stores.Abandoned,
		Scheduler:   r.scheduler,
		Reporter:    r.reporter,
		Attachment:  r.attachment(),
		OnRoute: func(route domain.Route) {
			if r.metricsSrv != nil {
				r.metricsSrv.SetRoute(route.Name)
			}
		},
		Logger: r.log,
	})

	rep, err := orch.Run(ctx)
	if rep != nil && r.cfg.Metrics.Pushgateway != "" {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if perr := metrics.Push(pushCtx, r.cfg.Metrics.Pushgateway, "chatrelay", rep.RunID); perr != nil {
			r.log.Warn("Failed to push metrics", "error", perr)
		}
	}
	return rep, err
}

// Checkpoints returns the checkpoint manager.
func (r *Relay) Checkpoints() *checkpoint.DefaultManager {
	return r.checkpoints
}

// MemoryClient returns the in-process client of the memory messaging driver.
func (r *Relay) MemoryClient() *memory.Client {
	return r.memoryClient
}

// CheckConnection opens a messaging session with the configured credentials
// and closes it again.
func (r *Relay) CheckConnection(ctx context.Context) error {
	client, err := r.connect(ctx)
	if err != nil {
		return err
	}
	return client.Close()
}

// Routes returns the validated routes.
func (r *Relay) Routes() []domain.Route {
	return r.routes
}

// Close releases storage connections.
func (r *Relay) Close() error {
	return r.stores.Close()
}

func (r *Relay) connect(ctx context.Context) (messaging.Client, error) {
	if r.memoryClient != nil {
		return r.memoryClient, nil
	}
	return pgmessaging.Connect(ctx, r.stores.DB,
		pgmessaging.Credentials{
			APIID:   r.cfg.Credentials.APIID,
			APIHash: r.cfg.Credentials.APIHash,
		},
		pgmessaging.Config{
			FloodLimit: r.cfg.Messaging.FloodLimit,
			FloodBurst: r.cfg.Messaging.FloodBurst,
		},
	)
}

func (r *Relay) reporter(session messaging.Poster) report.Reporter {
	reporters := report.MultiReporter{report.LogReporter{Logger: r.log}}
	if r.cfg.Report.File != "" {
		reporters = append(reporters, report.FileReporter{Path: r.cfg.Report.File})
	}
	if session != nil && r.cfg.Report.Target != "none" {
		reporters = append(reporters, report.ConversationReporter{
			Poster:    session,
			To:        domain.Peer(r.cfg.Report.Target),
			Scheduler: r.scheduler,
			Logger:    r.log,
		})
	}
	return reporters
}

func (r *Relay) attachment() *domain.Attachment {
	if !r.cfg.Report.AttachConfigFile() || r.cfg.Path == "" {
		return nil
	}
	data, err := os.ReadFile(r.cfg.Path)
	if err != nil {
		r.log.Warn("Failed to read config for backup", "path", r.cfg.Path, "error", err)
		return nil
	}
	return &domain.Attachment{
		Name:    filepath.Base(r.cfg.Path),
		Caption: "✅ Your relay configuration (backup)",
		Data:    data,
	}
}
