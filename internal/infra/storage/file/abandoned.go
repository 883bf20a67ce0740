package file

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/chatrelay/internal/core/domain"
)

// AbandonedRepo implements storage.AbandonedRepository on a YAML file,
// usually kept next to the checkpoint file.
type AbandonedRepo struct {
	path string
	mu   sync.Mutex
}

// NewAbandonedRepo creates a repository backed by path.
func NewAbandonedRepo(path string) *AbandonedRepo {
	return &AbandonedRepo{path: path}
}

func (r *AbandonedRepo) Add(ctx context.Context, m *domain.AbandonedMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.load()
	if err != nil {
		return err
	}
	all = append(all, m)
	return r.write(all)
}

func (r *AbandonedRepo) List(ctx context.Context, routes ...string) ([]*domain.AbandonedMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.load()
	if err != nil {
		return nil, err
	}
	if len(routes) == 0 {
		return all, nil
	}
	return slices.DeleteFunc(all, func(m *domain.AbandonedMessage) bool {
		return !slices.Contains(routes, m.Route)
	}), nil
}

func (r *AbandonedRepo) Resolve(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.load()
	if err != nil {
		return err
	}
	n := len(all)
	all = slices.DeleteFunc(all, func(m *domain.AbandonedMessage) bool { return m.ID == id })
	if len(all) == n {
		return nil
	}
	return r.write(all)
}

func (r *AbandonedRepo) Count(ctx context.Context, route string) (int, error) {
	msgs, err := r.List(ctx, route)
	return len(msgs), err
}

func (r *AbandonedRepo) load() ([]*domain.AbandonedMessage, error) {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read abandoned file: %w", err)
	}

	var all []*domain.AbandonedMessage
	if err := yaml.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("failed to parse abandoned file %s: %w", r.path, err)
	}
	return all, nil
}

func (r *AbandonedRepo) write(all []*domain.AbandonedMessage) error {
	data, err := yaml.Marshal(all)
	if err != nil {
		return fmt.Errorf("failed to encode abandoned messages: %w", err)
	}
	return writeAtomic(r.path, data)
}
