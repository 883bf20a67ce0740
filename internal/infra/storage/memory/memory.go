package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/vietddude/chatrelay/internal/core/domain"
)

type MemoryStorage struct {
	checkpoints map[string]domain.Offset
	abandoned   []*domain.AbandonedMessage
	mu          sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		checkpoints: make(map[string]domain.Offset),
	}
}

// -----------------------------------------------------------------------------
// Checkpoint Repository
// -----------------------------------------------------------------------------

type CheckpointRepo struct {
	store *MemoryStorage
}

func NewCheckpointRepo(store *MemoryStorage) *CheckpointRepo {
	return &CheckpointRepo{store: store}
}

func (r *CheckpointRepo) Get(ctx context.Context, route string) (domain.Offset, error) {
	off, _, err := r.Lookup(ctx, route)
	return off, err
}

func (r *CheckpointRepo) Lookup(ctx context.Context, route string) (domain.Offset, bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	off, ok := r.store.checkpoints[route]
	return off, ok, nil
}

func (r *CheckpointRepo) Set(ctx context.Context, route string, offset domain.Offset) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.checkpoints[route] = offset
	return nil
}

func (r *CheckpointRepo) List(ctx context.Context) (map[string]domain.Offset, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make(map[string]domain.Offset, len(r.store.checkpoints))
	for k, v := range r.store.checkpoints {
		out[k] = v
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Abandoned Repository
// -----------------------------------------------------------------------------

type AbandonedRepo struct {
	store *MemoryStorage
}

func NewAbandonedRepo(store *MemoryStorage) *AbandonedRepo {
	return &AbandonedRepo{store: store}
}

func (r *AbandonedRepo) Add(ctx context.Context, msg *domain.AbandonedMessage) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c := *msg
	r.store.abandoned = append(r.store.abandoned, &c)
	return nil
}

func (r *AbandonedRepo) List(ctx context.Context, routes ...string) ([]*domain.AbandonedMessage, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.AbandonedMessage
	for _, m := range r.store.abandoned {
		if len(routes) > 0 && !slices.Contains(routes, m.Route) {
			continue
		}
		c := *m
		out = append(out, &c)
	}
	return out, nil
}

func (r *AbandonedRepo) Resolve(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.abandoned = slices.DeleteFunc(r.store.abandoned, func(m *domain.AbandonedMessage) bool {
		return m.ID == id
	})
	return nil
}

func (r *AbandonedRepo) Count(ctx context.Context, route string) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	n := 0
	for _, m := range r.store.abandoned {
		if m.Route == route {
			n++
		}
	}
	return n, nil
}
