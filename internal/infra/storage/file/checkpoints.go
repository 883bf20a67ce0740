// Package file stores checkpoints in a human-editable YAML file:
//
//	# route: last relayed message id
//	news-archive: "4211"
//	photos: "0"
//
// Operators may edit the file between runs to rewind or advance a route.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/chatrelay/internal/core/domain"
)

// CheckpointRepo implements storage.CheckpointRepository on a single YAML file.
// The whole file is rewritten on every Set, so writes are serialized by one mutex.
type CheckpointRepo struct {
	path string
	mu   sync.Mutex
}

// NewCheckpointRepo creates a repository backed by path. The file is created on first Set.
func NewCheckpointRepo(path string) *CheckpointRepo {
	return &CheckpointRepo{path: path}
}

// Path returns the backing file.
func (r *CheckpointRepo) Path() string { return r.path }

// Get reads the offset for route from disk.
func (r *CheckpointRepo) Get(ctx context.Context, route string) (domain.Offset, error) {
	off, _, err := r.Lookup(ctx, route)
	return off, err
}

// Lookup reads the offset for route and whether the file has an entry for it.
// An entry with an empty value counts as unset.
func (r *CheckpointRepo) Lookup(ctx context.Context, route string) (domain.Offset, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load()
	if err != nil {
		return 0, false, err
	}
	raw, ok := entries[route]
	if !ok || raw == "" {
		return 0, false, nil
	}
	off, err := parseEntry(route, raw)
	if err != nil {
		return 0, false, err
	}
	return off, true, nil
}

// Set rewrites the file with route updated. Returns after the rename is durable.
func (r *CheckpointRepo) Set(ctx context.Context, route string, offset domain.Offset) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load()
	if err != nil {
		return err
	}
	entries[route] = offset.String()
	return r.write(entries)
}

// List returns every route in the file.
func (r *CheckpointRepo) List(ctx context.Context) (map[string]domain.Offset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load()
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.Offset, len(entries))
	for route, raw := range entries {
		off, err := parseEntry(route, raw)
		if err != nil {
			return nil, err
		}
		out[route] = off
	}
	return out, nil
}

func (r *CheckpointRepo) load() (map[string]string, error) {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	entries := make(map[string]string)
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint file %s: %w", r.path, err)
	}
	return entries, nil
}

func (r *CheckpointRepo) write(entries map[string]string) error {
	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoints: %w", err)
	}
	return writeAtomic(r.path, append([]byte("# route: last relayed message id\n"), data...))
}

// writeAtomic replaces path: temp file, fsync, rename, fsync dir.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

func parseEntry(route, raw string) (domain.Offset, error) {
	off, err := domain.ParseOffset(raw)
	if err != nil {
		return 0, fmt.Errorf("checkpoint for route %s: %w", route, err)
	}
	return off, nil
}
