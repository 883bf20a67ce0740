// Package messaging defines the remote messaging capability consumed by the
// relay engine and the reporters.
package messaging

import (
	"context"

	"github.com/vietddude/chatrelay/internal/core/domain"
)

// Source reads a conversation in ascending message order.
type Source interface {
	// FetchAfter returns up to limit messages of chat with an id strictly
	// greater than after, in ascending order. An empty slice means the
	// conversation has been read to the end.
	FetchAfter(ctx context.Context, chat domain.Peer, after domain.Offset, limit int) ([]domain.Message, error)
}

// Deliverer relays one message to a destination.
type Deliverer interface {
	// Deliver forwards msg by reference or re-sends its content, depending on
	// mode. Errors are classified by the relay engine.
	Deliver(ctx context.Context, to domain.Peer, msg domain.Message, mode domain.DeliveryMode) error
}

// Poster sends a new text message with an optional attachment.
type Poster interface {
	Post(ctx context.Context, to domain.Peer, text string, attachment *domain.Attachment) error
}

// Client is a connected messaging session.
type Client interface {
	Source
	Deliverer
	Poster
	Close() error
}

// SelfPeer is the symbolic name of the account's own conversation.
const SelfPeer domain.Peer = "me"
