// Package memory is an in-process messaging client with scriptable failures.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/vietddude/chatrelay/internal/core/domain"
	"github.com/vietddude/chatrelay/internal/infra/messaging"
)

// Delivery is a recorded successful Deliver or Post call.
type Delivery struct {
	To       domain.Peer
	Message  domain.Message // the message as stored at the destination
	SourceID domain.Offset  // id of the relayed source message, zero for posts
	Mode     domain.DeliveryMode
	At       time.Time
}

// Call is a recorded Deliver attempt, successful or not.
type Call struct {
	To        domain.Peer
	MessageID domain.Offset
	At        time.Time
	Err       error
}

type chat struct {
	messages []domain.Message
	denied   bool
}

// Client implements messaging.Client in memory.
type Client struct {
	mu         sync.Mutex
	chats      map[domain.Peer]*chat
	failures   map[domain.Peer][]error
	fetchErrs  map[domain.Peer]error
	deliveries []Delivery
	calls      []Call
	nextID     domain.Offset
	now        func() time.Time
	closed     bool
}

// Option configures a Client.
type Option func(*Client)

// WithClock sets the time source used to stamp messages and calls.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a client knowing the given conversations plus "me".
func NewClient(peers []domain.Peer, opts ...Option) *Client {
	c := &Client{
		chats:     make(map[domain.Peer]*chat),
		failures:  make(map[domain.Peer][]error),
		fetchErrs: make(map[domain.Peer]error),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.chats[messaging.SelfPeer] = &chat{}
	for _, p := range peers {
		c.chats[p] = &chat{}
	}
	return c
}

// AddMessages appends messages to a conversation, creating it if needed.
// Messages without an id get the next free one.
func (c *Client) AddMessages(peer domain.Peer, msgs ...domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := c.chatLocked(peer)
	for _, m := range msgs {
		if m.ID == 0 {
			c.nextID++
			m.ID = c.nextID
		} else if m.ID > c.nextID {
			c.nextID = m.ID
		}
		m.Chat = peer
		if m.SentAt.IsZero() {
			m.SentAt = c.now()
		}
		ch.messages = append(ch.messages, m)
	}
	slices.SortFunc(ch.messages, func(a, b domain.Message) int {
		return cmp.Compare(a.ID, b.ID)
	})
}

// Deny makes a conversation inaccessible.
func (c *Client) Deny(peer domain.Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chatLocked(peer).denied = true
}

// FailNext queues errors returned by the next Deliver or Post calls to peer,
// one per call. A nil entry lets that call succeed.
func (c *Client) FailNext(peer domain.Peer, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[peer] = append(c.failures[peer], errs...)
}

// FailFetch makes every FetchAfter on peer return err.
func (c *Client) FailFetch(peer domain.Peer, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchErrs[peer] = err
}

// Deliveries returns the successful deliveries to peer.
func (c *Client) Deliveries(peer domain.Peer) []Delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Delivery
	for _, d := range c.deliveries {
		if d.To == peer {
			out = append(out, d)
		}
	}
	return out
}

// Calls returns every Deliver attempt in order.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.calls)
}

// Messages returns the messages stored in a conversation.
func (c *Client) Messages(peer domain.Peer) []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.chats[peer]
	if !ok {
		return nil
	}
	return slices.Clone(ch.messages)
}

// FetchAfter implements messaging.Source.
func (c *Client) FetchAfter(ctx context.Context, peer domain.Peer, after domain.Offset, limit int) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.fetchErrs[peer]; err != nil {
		return nil, err
	}
	ch, err := c.accessibleLocked(peer)
	if err != nil {
		return nil, err
	}

	var out []domain.Message
	for _, m := range ch.messages {
		if m.ID <= after {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Deliver implements messaging.Deliverer.
func (c *Client) Deliver(ctx context.Context, to domain.Peer, msg domain.Message, mode domain.DeliveryMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.sendLocked(to, msg, msg.ID, mode)
	c.calls = append(c.calls, Call{To: to, MessageID: msg.ID, At: c.now(), Err: err})
	return err
}

// Post implements messaging.Poster.
func (c *Client) Post(ctx context.Context, to domain.Peer, text string, attachment *domain.Attachment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sendLocked(to, domain.Message{Text: text, Media: attachment}, 0, domain.ModeCopy)
}

// Close implements messaging.Client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) sendLocked(to domain.Peer, msg domain.Message, sourceID domain.Offset, mode domain.DeliveryMode) error {
	if q := c.failures[to]; len(q) > 0 {
		c.failures[to] = q[1:]
		if q[0] != nil {
			return q[0]
		}
	}

	ch, err := c.accessibleLocked(to)
	if err != nil {
		return err
	}

	c.nextID++
	stored := domain.Message{
		ID:     c.nextID,
		Chat:   to,
		Text:   msg.Text,
		Media:  msg.Media,
		SentAt: c.now(),
	}
	ch.messages = append(ch.messages, stored)
	c.deliveries = append(c.deliveries, Delivery{
		To:       to,
		Message:  stored,
		SourceID: sourceID,
		Mode:     mode,
		At:       stored.SentAt,
	})
	return nil
}

func (c *Client) accessibleLocked(peer domain.Peer) (*chat, error) {
	ch, ok := c.chats[peer]
	if !ok {
		return nil, fmt.Errorf("%w: unknown chat %s", domain.ErrPermissionDenied, peer)
	}
	if ch.denied {
		return nil, fmt.Errorf("%w: CHANNEL_PRIVATE %s", domain.ErrPermissionDenied, peer)
	}
	return ch, nil
}

func (c *Client) chatLocked(peer domain.Peer) *chat {
	ch, ok := c.chats[peer]
	if !ok {
		ch = &chat{}
		c.chats[peer] = ch
	}
	return ch
}
