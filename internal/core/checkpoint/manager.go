package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/chatrelay/internal/core/domain"
	"github.com/vietddude/chatrelay/internal/infra/storage"
	"github.com/vietddude/chatrelay/internal/relaying/metrics"
)

// Manager handles checkpoint operations with monotonicity enforcement.
type Manager interface {
	// Get returns the offset to resume a route from: the stored checkpoint,
	// or the route's initial offset when nothing is stored yet.
	Get(ctx context.Context, route domain.Route) (domain.Offset, error)

	// Advance persists offset for route. It fails with ErrCheckpointRegress
	// unless offset is greater than the stored checkpoint.
	Advance(ctx context.Context, route string, offset domain.Offset) error

	// Reset overwrites the checkpoint unconditionally (operator rewind/advance).
	Reset(ctx context.Context, route string, offset domain.Offset) error

	// List returns every stored checkpoint.
	List(ctx context.Context) (map[string]domain.Offset, error)

	// GetMetrics returns throughput metrics for a route.
	GetMetrics(route string) Metrics
}

// DefaultManager implements Manager on top of a CheckpointRepository.
type DefaultManager struct {
	repo     storage.CheckpointRepository
	advancer storage.CheckpointAdvancer // nil when the repo cannot compare-and-set

	mu         sync.Mutex
	keyLocks   map[string]*sync.Mutex
	collectors map[string]*MetricsCollector
	now        func() time.Time
}

// NewManager creates a manager. If repo also implements
// storage.CheckpointAdvancer, advances are done server side.
func NewManager(repo storage.CheckpointRepository) *DefaultManager {
	m := &DefaultManager{
		repo:       repo,
		keyLocks:   make(map[string]*sync.Mutex),
		collectors: make(map[string]*MetricsCollector),
		now:        time.Now,
	}
	if adv, ok := repo.(storage.CheckpointAdvancer); ok {
		m.advancer = adv
	}
	return m
}

// Get returns the stored checkpoint, or the route's initial offset when none
// is stored. A stored zero is honoured, so an operator can rewind to the start.
func (m *DefaultManager) Get(ctx context.Context, route domain.Route) (domain.Offset, error) {
	offset, ok, err := m.repo.Lookup(ctx, route.Name)
	if err != nil {
		return 0, fmt.Errorf("failed to get checkpoint for %s: %w", route.Name, err)
	}
	if !ok {
		return route.InitialOffset, nil
	}
	return offset, nil
}

// Advance moves the checkpoint forward after a confirmed delivery.
func (m *DefaultManager) Advance(ctx context.Context, route string, offset domain.Offset) error {
	lock := m.lockFor(route)
	lock.Lock()
	defer lock.Unlock()

	if m.advancer != nil {
		advanced, err := m.advancer.Advance(ctx, route, offset)
		if err != nil {
			return fmt.Errorf("failed to advance checkpoint: %w", err)
		}
		if !advanced {
			current, _ := m.repo.Get(ctx, route)
			return fmt.Errorf("%w: %s at %s, got %s", domain.ErrCheckpointRegress, route, current, offset)
		}
	} else {
		current, err := m.repo.Get(ctx, route)
		if err != nil {
			return fmt.Errorf("failed to get checkpoint: %w", err)
		}
		if offset <= current {
			return fmt.Errorf("%w: %s at %s, got %s", domain.ErrCheckpointRegress, route, current, offset)
		}
		if err := m.repo.Set(ctx, route, offset); err != nil {
			return fmt.Errorf("failed to update checkpoint: %w", err)
		}
	}

	metrics.Checkpoint.WithLabelValues(route).Set(float64(offset))
	m.collector(route).RecordMessage(offset, m.now())
	return nil
}

// Reset overwrites the checkpoint for a route.
func (m *DefaultManager) Reset(ctx context.Context, route string, offset domain.Offset) error {
	if offset < 0 {
		return fmt.Errorf("%w: negative offset %d", domain.ErrConfiguration, offset)
	}

	lock := m.lockFor(route)
	lock.Lock()
	defer lock.Unlock()

	if err := m.repo.Set(ctx, route, offset); err != nil {
		return fmt.Errorf("failed to reset checkpoint: %w", err)
	}
	metrics.Checkpoint.WithLabelValues(route).Set(float64(offset))
	m.collector(route).Reset()
	return nil
}

// List returns every stored checkpoint.
func (m *DefaultManager) List(ctx context.Context) (map[string]domain.Offset, error) {
	return m.repo.List(ctx)
}

// GetMetrics returns throughput metrics for a route.
func (m *DefaultManager) GetMetrics(route string) Metrics {
	return m.collector(route).GetMetrics()
}

func (m *DefaultManager) lockFor(route string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.keyLocks[route]
	if !ok {
		l = &sync.Mutex{}
		m.keyLocks[route] = l
	}
	return l
}

func (m *DefaultManager) collector(route string) *MetricsCollector {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collectors[route]
	if !ok {
		c = NewMetricsCollector(100)
		m.collectors[route] = c
	}
	return c
}
