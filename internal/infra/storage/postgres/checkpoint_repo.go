package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vietddude/chatrelay/internal/core/domain"
)

// CheckpointRepo implements storage.CheckpointRepository using PostgreSQL.
type CheckpointRepo struct {
	db *DB
}

// NewCheckpointRepo creates a new PostgreSQL checkpoint repository.
func NewCheckpointRepo(db *DB) *CheckpointRepo {
	return &CheckpointRepo{db: db}
}

// Get retrieves the checkpoint for a route. Unknown routes return zero.
func (r *CheckpointRepo) Get(ctx context.Context, route string) (domain.Offset, error) {
	off, _, err := r.Lookup(ctx, route)
	return off, err
}

// Lookup retrieves the checkpoint for a route and whether a row exists.
func (r *CheckpointRepo) Lookup(ctx context.Context, route string) (domain.Offset, bool, error) {
	var id int64
	err := r.db.GetContext(ctx, &id, `SELECT message_id FROM checkpoints WHERE route = $1`, route)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return domain.Offset(id), true, nil
}

// Set writes the checkpoint unconditionally (operator override path).
func (r *CheckpointRepo) Set(ctx context.Context, route string, offset domain.Offset) error {
	query := `
		INSERT INTO checkpoints (route, message_id, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (route) DO UPDATE SET message_id = EXCLUDED.message_id, updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query, route, int64(offset)); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Advance writes the checkpoint only if it moves forward.
func (r *CheckpointRepo) Advance(ctx context.Context, route string, offset domain.Offset) (bool, error) {
	query := `
		INSERT INTO checkpoints (route, message_id, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (route) DO UPDATE SET message_id = EXCLUDED.message_id, updated_at = EXCLUDED.updated_at
		WHERE checkpoints.message_id < EXCLUDED.message_id
	`
	res, err := r.db.ExecContext(ctx, query, route, int64(offset))
	if err != nil {
		return false, fmt.Errorf("failed to advance checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to advance checkpoint: %w", err)
	}
	return n > 0, nil
}

// List returns all checkpoints.
func (r *CheckpointRepo) List(ctx context.Context) (map[string]domain.Offset, error) {
	var rows []struct {
		Route     string `db:"route"`
		MessageID int64  `db:"message_id"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT route, message_id FROM checkpoints ORDER BY route`); err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	out := make(map[string]domain.Offset, len(rows))
	for _, row := range rows {
		out[row.Route] = domain.Offset(row.MessageID)
	}
	return out, nil
}
