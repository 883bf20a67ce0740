package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/chatrelay/internal/core/domain"
)

// AbandonedRepo implements storage.AbandonedRepository using Redis.
// Each route has a sorted set of record ids scored by message id; records are JSON blobs.
type AbandonedRepo struct {
	c *Client
}

// NewAbandonedRepo creates a new Redis-backed abandoned message repository.
func NewAbandonedRepo(client *Client) *AbandonedRepo {
	return &AbandonedRepo{c: client}
}

// Add stores the record and indexes it under its route.
func (r *AbandonedRepo) Add(ctx context.Context, m *domain.AbandonedMessage) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal abandoned message: %w", err)
	}

	_, err = r.c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.c.abandonedKey(m.ID), data, 0)
		pipe.ZAdd(ctx, r.c.abandonedQueueKey(m.Route), redis.Z{
			Score:  float64(m.MessageID),
			Member: m.ID,
		})
		pipe.SAdd(ctx, r.c.abandonedRoutesKey(), m.Route)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add abandoned message: %w", err)
	}
	return nil
}

// List returns records ordered by message id within each route.
func (r *AbandonedRepo) List(ctx context.Context, routes ...string) ([]*domain.AbandonedMessage, error) {
	if len(routes) == 0 {
		all, err := r.c.rdb.SMembers(ctx, r.c.abandonedRoutesKey()).Result()
		if err != nil {
			return nil, fmt.Errorf("smembers failed: %w", err)
		}
		routes = all
	}

	var out []*domain.AbandonedMessage
	for _, route := range routes {
		ids, err := r.c.rdb.ZRange(ctx, r.c.abandonedQueueKey(route), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("zrange failed: %w", err)
		}
		for _, id := range ids {
			m, err := r.get(ctx, id)
			if err != nil {
				return nil, err
			}
			if m == nil {
				// Data removed but id still indexed
				r.c.rdb.ZRem(ctx, r.c.abandonedQueueKey(route), id)
				continue
			}
			out = append(out, m)
		}
	}
	return out, nil
}

// Resolve removes a record.
func (r *AbandonedRepo) Resolve(ctx context.Context, id string) error {
	m, err := r.get(ctx, id)
	if err != nil {
		return err
	}
	if m == nil {
		return nil
	}

	_, err = r.c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, r.c.abandonedQueueKey(m.Route), id)
		pipe.Del(ctx, r.c.abandonedKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to resolve abandoned message: %w", err)
	}
	return nil
}

// Count returns the number of records for a route.
func (r *AbandonedRepo) Count(ctx context.Context, route string) (int, error) {
	count, err := r.c.rdb.ZCard(ctx, r.c.abandonedQueueKey(route)).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(count), nil
}

func (r *AbandonedRepo) get(ctx context.Context, id string) (*domain.AbandonedMessage, error) {
	data, err := r.c.rdb.Get(ctx, r.c.abandonedKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get abandoned message: %w", err)
	}

	var m domain.AbandonedMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal abandoned message: %w", err)
	}
	return &m, nil
}
