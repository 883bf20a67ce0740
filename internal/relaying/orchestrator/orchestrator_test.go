package orchestrator

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/chatrelay/internal/core/checkpoint"
	"github.com/vietddude/chatrelay/internal/core/domain"
	"github.com/vietddude/chatrelay/internal/infra/messaging"
	"github.com/vietddude/chatrelay/internal/infra/messaging/memory"
	memstore "github.com/vietddude/chatrelay/internal/infra/storage/memory"
	"github.com/vietddude/chatrelay/internal/relaying/backoff"
	"github.com/vietddude/chatrelay/internal/relaying/report"
)

// =============================================================================
// Mock Reporter
// =============================================================================

type captureReporter struct {
	mu      sync.Mutex
	reports []report.Report
	poster  messaging.Poster
	ctxErr  error
}

func (c *captureReporter) Send(ctx context.Context, rep report.Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, rep)
	c.ctxErr = ctx.Err()
	return nil
}

// =============================================================================
// Harness
// =============================================================================

type harness struct {
	client   *memory.Client
	store    *memstore.MemoryStorage
	reporter *captureReporter
	connects atomic.Int32
	connErr  error
	cfg      Config
}

func newHarness(routes ...domain.Route) *harness {
	clock := backoff.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	h := &harness{
		client:   memory.NewClient(nil, memory.WithClock(clock.Now)),
		store:    memstore.NewMemoryStorage(),
		reporter: &captureReporter{},
	}
	h.cfg = Config{
		Routes:    routes,
		Mode:      domain.ModeCopy,
		BatchSize: 10,
		AutoMode:  true,
		Connect: func(ctx context.Context) (messaging.Client, error) {
			h.connects.Add(1)
			if h.connErr != nil {
				return nil, h.connErr
			}
			return h.client, nil
		},
		Checkpoints: checkpoint.NewManager(memstore.NewCheckpointRepo(h.store)),
		Abandoned:   memstore.NewAbandonedRepo(h.store),
		Scheduler: backoff.NewScheduler(
			backoff.DefaultConfig(),
			backoff.WithClock(clock),
			backoff.WithRand(rand.New(rand.NewPCG(3, 4))),
		),
		Reporter: func(session messaging.Poster) report.Reporter {
			h.reporter.poster = session
			return h.reporter
		},
	}
	return h
}

func (h *harness) addChats(peers ...domain.Peer) {
	for _, p := range peers {
		h.client.AddMessages(p)
	}
}

func (h *harness) seed(peer domain.Peer, n int) {
	for i := 0; i < n; i++ {
		h.client.AddMessages(peer, domain.Message{Text: "hello"})
	}
}

// =============================================================================
// Tests
// =============================================================================

func TestRun_EmptyRoutesIsConfigurationError(t *testing.T) {
	h := newHarness()

	rep, err := New(h.cfg).Run(context.Background())
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if rep != nil {
		t.Error("no report expected for a configuration error")
	}
	if h.connects.Load() != 0 {
		t.Error("must not connect when no routes are configured")
	}
}

func TestRun_Confirmation(t *testing.T) {
	h := newHarness(domain.Route{Name: "r", Source: "a", Dest: "b"})
	h.addChats("a", "b")

	var asked int
	h.cfg.AutoMode = false
	h.cfg.Confirm = func(routes []domain.Route) bool {
		asked++
		return false
	}

	if _, err := New(h.cfg).Run(context.Background()); !errors.Is(err, ErrDeclined) {
		t.Fatalf("expected ErrDeclined, got %v", err)
	}
	if asked != 1 || h.connects.Load() != 0 {
		t.Errorf("expected one prompt and no connection, got %d prompts, %d connects", asked, h.connects.Load())
	}

	h.cfg.AutoMode = true
	if _, err := New(h.cfg).Run(context.Background()); err != nil {
		t.Fatalf("auto mode run failed: %v", err)
	}
	if asked != 1 {
		t.Error("auto mode must not prompt")
	}
}

func TestRun_RouteIsolation(t *testing.T) {
	h := newHarness(
		domain.Route{Name: "broken", Source: "a", Dest: "b"},
		domain.Route{Name: "good", Source: "c", Dest: "d"},
	)
	h.addChats("a", "b", "c", "d")
	h.seed("c", 3)
	h.client.FailFetch("a", errors.New("connection refused"))

	rep, err := New(h.cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("route failure must not fail the run: %v", err)
	}

	if len(rep.PerRoute) != 2 {
		t.Fatalf("expected 2 route outcomes, got %d", len(rep.PerRoute))
	}
	if rep.PerRoute[0].Err == nil {
		t.Error("broken route should carry its error")
	}
	if rep.PerRoute[1].Relayed != 3 || rep.PerRoute[1].Err != nil {
		t.Errorf("good route should relay 3 messages, got %+v", rep.PerRoute[1])
	}
	if rep.MessagesRelayed != 3 || rep.ErrorCount != 1 {
		t.Errorf("unexpected totals: relayed %d, errors %d", rep.MessagesRelayed, rep.ErrorCount)
	}

	if len(h.reporter.reports) != 1 {
		t.Fatalf("expected the report to be sent once, got %d", len(h.reporter.reports))
	}
	if h.reporter.poster == nil {
		t.Error("reporter should receive the session")
	}
}

func TestRun_FatalStopsRemainingRoutes(t *testing.T) {
	h := newHarness(
		domain.Route{Name: "first", Source: "a", Dest: "b"},
		domain.Route{Name: "second", Source: "c", Dest: "d"},
	)
	h.addChats("a", "b", "c", "d")
	h.seed("a", 2)
	h.seed("c", 2)
	h.client.FailNext("b", domain.ErrUnauthorized)

	rep, err := New(h.cfg).Run(context.Background())
	if !errors.Is(err, domain.ErrFatal) {
		t.Fatalf("expected ErrFatal, got %v", err)
	}
	if len(rep.PerRoute) != 1 {
		t.Errorf("second route must not run after a fatal error, got %d outcomes", len(rep.PerRoute))
	}
	if len(h.client.Deliveries("d")) != 0 {
		t.Error("nothing should be delivered to the second route")
	}
	if len(h.reporter.reports) != 1 {
		t.Error("summary must still be attempted after a fatal error")
	}
}

func TestRun_ConnectFailureStillReports(t *testing.T) {
	h := newHarness(domain.Route{Name: "r", Source: "a", Dest: "b"})
	h.connErr = errors.New("AUTH_KEY_UNREGISTERED")

	rep, err := New(h.cfg).Run(context.Background())
	if !errors.Is(err, domain.ErrFatal) {
		t.Fatalf("expected ErrFatal, got %v", err)
	}
	if rep == nil || rep.OK() {
		t.Fatal("expected a failed report")
	}
	if len(h.reporter.reports) != 1 || h.reporter.poster != nil {
		t.Errorf("report should be sent without a session, got %d reports, poster %v", len(h.reporter.reports), h.reporter.poster)
	}
}

func TestRun_CancelledRunStillReports(t *testing.T) {
	h := newHarness(domain.Route{Name: "r", Source: "a", Dest: "b"})
	h.addChats("a", "b")
	h.seed("a", 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(h.cfg).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(h.reporter.reports) != 1 {
		t.Fatal("report should be attempted after cancellation")
	}
	if h.reporter.ctxErr != nil {
		t.Errorf("report context must outlive the run context, got %v", h.reporter.ctxErr)
	}
}

func TestRun_Parallel(t *testing.T) {
	routes := []domain.Route{
		{Name: "one", Source: "s1", Dest: "d1"},
		{Name: "two", Source: "s2", Dest: "d2"},
		{Name: "three", Source: "s3", Dest: "d3"},
	}
	h := newHarness(routes...)
	h.cfg.Concurrency = 3
	for _, r := range routes {
		h.addChats(r.Source, r.Dest)
		h.seed(r.Source, 4)
	}

	rep, err := New(h.cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rep.MessagesRelayed != 12 {
		t.Errorf("expected 12 relayed, got %d", rep.MessagesRelayed)
	}
	for i, o := range rep.PerRoute {
		if o.Route.Name != routes[i].Name {
			t.Errorf("outcome %d out of order: %s", i, o.Route.Name)
		}
	}
	// one session plus one connection per route
	if got := h.connects.Load(); got != 4 {
		t.Errorf("expected 4 connections, got %d", got)
	}

	all, _ := h.cfg.Checkpoints.List(context.Background())
	for _, r := range routes {
		if all[r.Name] == 0 {
			t.Errorf("route %s has no checkpoint", r.Name)
		}
	}
}

func TestRun_ParallelSkippedRoutesAreReported(t *testing.T) {
	routes := []domain.Route{
		{Name: "one", Source: "s1", Dest: "d1"},
		{Name: "two", Source: "s2", Dest: "d2"},
		{Name: "three", Source: "s3", Dest: "d3"},
	}
	h := newHarness(routes...)
	h.cfg.Concurrency = 2
	for _, r := range routes {
		h.addChats(r.Source, r.Dest)
		h.seed(r.Source, 1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := New(h.cfg).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(rep.PerRoute) != len(routes) {
		t.Fatalf("every configured route should be listed, got %d outcomes", len(rep.PerRoute))
	}
	for i, o := range rep.PerRoute {
		if o.Route.Name != routes[i].Name {
			t.Errorf("outcome %d is %s, want %s", i, o.Route.Name, routes[i].Name)
		}
		if !errors.Is(o.Err, context.Canceled) {
			t.Errorf("route %s should carry the cancellation, got %v", o.Route.Name, o.Err)
		}
	}
	if rep.ErrorCount != len(routes) {
		t.Errorf("expected %d errors, got %d", len(routes), rep.ErrorCount)
	}
}
