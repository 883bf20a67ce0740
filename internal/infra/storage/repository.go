package storage

import (
	"context"

	"github.com/vietddude/chatrelay/internal/core/domain"
)

// CheckpointRepository is the durable route -> offset mapping.
type CheckpointRepository interface {
	// Get returns the stored offset for a route, or zero if none is stored.
	// An unknown route is not an error.
	Get(ctx context.Context, route string) (domain.Offset, error)

	// Lookup is Get that also reports whether an offset is stored, so a
	// stored zero can be told apart from an unset route.
	Lookup(ctx context.Context, route string) (offset domain.Offset, ok bool, err error)

	// Set persists the offset before returning.
	Set(ctx context.Context, route string, offset domain.Offset) error

	// List returns every stored checkpoint.
	List(ctx context.Context) (map[string]domain.Offset, error)
}

// AbandonedRepository records messages given up on by the relay engine.
type AbandonedRepository interface {
	// Add records an abandoned message.
	Add(ctx context.Context, msg *domain.AbandonedMessage) error

	// List returns abandoned messages, optionally filtered to the given routes.
	List(ctx context.Context, routes ...string) ([]*domain.AbandonedMessage, error)

	// Resolve removes a record once the message has been relayed or skipped by hand.
	Resolve(ctx context.Context, id string) error

	// Count returns the number of records for a route.
	Count(ctx context.Context, route string) (int, error)
}

// CheckpointAdvancer is implemented by repositories that can advance a
// checkpoint atomically on the server side: the offset is written only if it
// is greater than the stored one. advanced is false when nothing changed.
type CheckpointAdvancer interface {
	Advance(ctx context.Context, route string, offset domain.Offset) (advanced bool, err error)
}
