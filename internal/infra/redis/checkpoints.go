package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/chatrelay/internal/core/domain"
)

// advanceScript sets HASH[field] = value only when value is greater than the stored one.
var advanceScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local nxt = tonumber(ARGV[2])
if nxt > cur then
  redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
  return 1
end
return 0
`)

// CheckpointRepo implements storage.CheckpointRepository on a Redis hash
// (field = route, value = decimal offset). HSET is atomic per field.
type CheckpointRepo struct {
	c *Client
}

// NewCheckpointRepo creates a Redis-backed checkpoint repository.
func NewCheckpointRepo(client *Client) *CheckpointRepo {
	return &CheckpointRepo{c: client}
}

// Get returns the offset for route, zero if unset.
func (r *CheckpointRepo) Get(ctx context.Context, route string) (domain.Offset, error) {
	off, _, err := r.Lookup(ctx, route)
	return off, err
}

// Lookup returns the offset for route and whether the field exists.
func (r *CheckpointRepo) Lookup(ctx context.Context, route string) (domain.Offset, bool, error) {
	val, err := r.c.rdb.HGet(ctx, r.c.checkpointsKey(), route).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("hget failed: %w", err)
	}
	off, err := domain.ParseOffset(val)
	if err != nil {
		return 0, false, err
	}
	return off, true, nil
}

// Set writes the offset unconditionally.
func (r *CheckpointRepo) Set(ctx context.Context, route string, offset domain.Offset) error {
	if err := r.c.rdb.HSet(ctx, r.c.checkpointsKey(), route, offset.String()).Err(); err != nil {
		return fmt.Errorf("hset failed: %w", err)
	}
	return nil
}

// Advance writes the offset only if it is greater than the stored one.
func (r *CheckpointRepo) Advance(ctx context.Context, route string, offset domain.Offset) (bool, error) {
	n, err := advanceScript.Run(ctx, r.c.rdb, []string{r.c.checkpointsKey()}, route, offset.String()).Int()
	if err != nil {
		return false, fmt.Errorf("advance script failed: %w", err)
	}
	return n == 1, nil
}

// List returns all stored checkpoints.
func (r *CheckpointRepo) List(ctx context.Context) (map[string]domain.Offset, error) {
	vals, err := r.c.rdb.HGetAll(ctx, r.c.checkpointsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall failed: %w", err)
	}
	out := make(map[string]domain.Offset, len(vals))
	for route, raw := range vals {
		off, err := domain.ParseOffset(raw)
		if err != nil {
			return nil, fmt.Errorf("checkpoint for route %s: %w", route, err)
		}
		out[route] = off
	}
	return out, nil
}
