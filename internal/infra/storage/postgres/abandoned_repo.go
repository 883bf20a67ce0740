package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/chatrelay/internal/core/domain"
)

// AbandonedRepo implements storage.AbandonedRepository using PostgreSQL.
type AbandonedRepo struct {
	db *DB
}

// NewAbandonedRepo creates a new PostgreSQL abandoned message repository.
func NewAbandonedRepo(db *DB) *AbandonedRepo {
	return &AbandonedRepo{db: db}
}

type abandonedRow struct {
	ID          string    `db:"id"`
	Route       string    `db:"route"`
	MessageID   int64     `db:"message_id"`
	Kind        string    `db:"kind"`
	ErrorMsg    string    `db:"error_msg"`
	Attempts    int       `db:"attempts"`
	AbandonedAt time.Time `db:"abandoned_at"`
}

// Add records an abandoned message.
func (r *AbandonedRepo) Add(ctx context.Context, m *domain.AbandonedMessage) error {
	query := `
		INSERT INTO abandoned_messages (id, route, message_id, kind, error_msg, attempts, abandoned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	abandonedAt := m.AbandonedAt
	if abandonedAt.IsZero() {
		abandonedAt = time.Now()
	}

	_, err := r.db.ExecContext(
		ctx,
		query,
		m.ID,
		m.Route,
		int64(m.MessageID),
		string(m.Kind),
		m.Error,
		m.Attempts,
		abandonedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add abandoned message: %w", err)
	}
	return nil
}

// List returns abandoned messages, oldest first, optionally for the given routes only.
func (r *AbandonedRepo) List(ctx context.Context, routes ...string) ([]*domain.AbandonedMessage, error) {
	query := `
		SELECT id, route, message_id, kind, error_msg, attempts, abandoned_at
		FROM abandoned_messages
		WHERE cardinality($1::text[]) = 0 OR route = ANY($1::text[])
		ORDER BY route, message_id
	`

	if routes == nil {
		routes = []string{}
	}

	var rows []abandonedRow
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(routes)); err != nil {
		return nil, fmt.Errorf("failed to list abandoned messages: %w", err)
	}

	out := make([]*domain.AbandonedMessage, 0, len(rows))
	for _, row := range rows {
		out = append(out, &domain.AbandonedMessage{
			ID:          row.ID,
			Route:       row.Route,
			MessageID:   domain.Offset(row.MessageID),
			Kind:        domain.FailureKind(row.Kind),
			Error:       row.ErrorMsg,
			Attempts:    row.Attempts,
			AbandonedAt: row.AbandonedAt,
		})
	}
	return out, nil
}

// Resolve deletes a record.
func (r *AbandonedRepo) Resolve(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM abandoned_messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to resolve abandoned message: %w", err)
	}
	return nil
}

// Count returns the number of abandoned messages for a route.
func (r *AbandonedRepo) Count(ctx context.Context, route string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM abandoned_messages WHERE route = $1`, route)
	if err != nil {
		return 0, fmt.Errorf("failed to count abandoned messages: %w", err)
	}
	return count, nil
}
