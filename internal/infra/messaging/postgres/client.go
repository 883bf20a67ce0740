// Package postgres is a messaging client backed by the relay database.
// Conversations live in the chats and messages tables; server-side flood
// control is emulated with a token bucket per destination.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vietddude/chatrelay/internal/core/domain"
	"github.com/vietddude/chatrelay/internal/infra/messaging"
	pgstore "github.com/vietddude/chatrelay/internal/infra/storage/postgres"
)

// Credentials identify the account the client acts for.
type Credentials struct {
	APIID   string
	APIHash string
}

// Config holds flood-control settings.
type Config struct {
	FloodLimit float64 // sends per second per destination; zero disables
	FloodBurst int
}

// Client implements messaging.Client on PostgreSQL.
type Client struct {
	db   *pgstore.DB
	self domain.Peer
	cfg  Config

	mu       sync.Mutex
	limiters map[domain.Peer]*rate.Limiter
	now      func() time.Time
}

type messageRow struct {
	ID        int64          `db:"id"`
	Chat      string         `db:"chat"`
	Service   bool           `db:"service"`
	Body      string         `db:"body"`
	MediaName sql.NullString `db:"media_name"`
	Media     []byte         `db:"media"`
	SentAt    time.Time      `db:"sent_at"`
}

type chatRow struct {
	Peer     string `db:"peer"`
	Readable bool   `db:"readable"`
	Writable bool   `db:"writable"`
}

// Connect authenticates creds against the accounts table.
func Connect(ctx context.Context, db *pgstore.DB, creds Credentials, cfg Config) (*Client, error) {
	var self string
	err := db.GetContext(ctx, &self,
		`SELECT self_chat FROM accounts WHERE api_id = $1 AND api_hash = $2`,
		creds.APIID, creds.APIHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: API_ID_INVALID %s", domain.ErrUnauthorized, creds.APIID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}

	if cfg.FloodBurst <= 0 {
		cfg.FloodBurst = 1
	}

	return &Client{
		db:       db,
		self:     domain.Peer(self),
		cfg:      cfg,
		limiters: make(map[domain.Peer]*rate.Limiter),
		now:      time.Now,
	}, nil
}

// FetchAfter implements messaging.Source.
func (c *Client) FetchAfter(ctx context.Context, chat domain.Peer, after domain.Offset, limit int) ([]domain.Message, error) {
	peer := c.resolve(chat)
	ch, err := c.chat(ctx, peer)
	if err != nil {
		return nil, err
	}
	if !ch.Readable {
		return nil, fmt.Errorf("%w: CHANNEL_PRIVATE %s", domain.ErrPermissionDenied, peer)
	}
	if limit <= 0 {
		limit = 100
	}

	var rows []messageRow
	query := `
		SELECT id, chat, service, body, media_name, media, sent_at
		FROM messages
		WHERE chat = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3
	`
	if err := c.db.SelectContext(ctx, &rows, query, string(peer), int64(after), limit); err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	out := make([]domain.Message, 0, len(rows))
	for _, r := range rows {
		m := domain.Message{
			ID:      domain.Offset(r.ID),
			Chat:    chat,
			Service: r.Service,
			Text:    r.Body,
			SentAt:  r.SentAt,
		}
		if r.MediaName.Valid {
			m.Media = &domain.Attachment{Name: r.MediaName.String, Data: r.Media}
		}
		out = append(out, m)
	}
	return out, nil
}

// Deliver implements messaging.Deliverer.
func (c *Client) Deliver(ctx context.Context, to domain.Peer, msg domain.Message, mode domain.DeliveryMode) error {
	peer, err := c.writable(ctx, to)
	if err != nil {
		return err
	}
	if err := c.throttle(peer, "send"); err != nil {
		return err
	}

	var fromChat sql.NullString
	var fromID sql.NullInt64
	if mode == domain.ModeForward {
		fromChat = sql.NullString{String: string(c.resolve(msg.Chat)), Valid: true}
		fromID = sql.NullInt64{Int64: int64(msg.ID), Valid: true}
	}
	return c.insert(ctx, peer, msg.Text, msg.Media, fromChat, fromID)
}

// Post implements messaging.Poster.
func (c *Client) Post(ctx context.Context, to domain.Peer, text string, attachment *domain.Attachment) error {
	peer, err := c.writable(ctx, to)
	if err != nil {
		return err
	}
	if err := c.throttle(peer, "post"); err != nil {
		return err
	}
	return c.insert(ctx, peer, text, attachment, sql.NullString{}, sql.NullInt64{})
}

// Close implements messaging.Client. The database is owned by the caller.
func (c *Client) Close() error {
	return nil
}

func (c *Client) insert(
	ctx context.Context,
	peer domain.Peer,
	text string,
	media *domain.Attachment,
	fromChat sql.NullString,
	fromID sql.NullInt64,
) error {
	var mediaName sql.NullString
	var mediaData []byte
	if media != nil {
		mediaName = sql.NullString{String: media.Name, Valid: true}
		mediaData = media.Data
		if text == "" {
			text = media.Caption
		}
	}

	query := `
		INSERT INTO messages (chat, body, media_name, media, forwarded_from_chat, forwarded_from_id, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := c.db.ExecContext(ctx, query, string(peer), text, mediaName, mediaData, fromChat, fromID, c.now())
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (c *Client) resolve(p domain.Peer) domain.Peer {
	if p == messaging.SelfPeer {
		return c.self
	}
	return p
}

func (c *Client) chat(ctx context.Context, peer domain.Peer) (chatRow, error) {
	var ch chatRow
	err := c.db.GetContext(ctx, &ch, `SELECT peer, readable, writable FROM chats WHERE peer = $1`, string(peer))
	if errors.Is(err, sql.ErrNoRows) {
		return ch, fmt.Errorf("%w: unknown chat %s", domain.ErrPermissionDenied, peer)
	}
	if err != nil {
		return ch, fmt.Errorf("failed to resolve chat: %w", err)
	}
	return ch, nil
}

func (c *Client) writable(ctx context.Context, to domain.Peer) (domain.Peer, error) {
	peer := c.resolve(to)
	ch, err := c.chat(ctx, peer)
	if err != nil {
		return "", err
	}
	if !ch.Writable {
		return "", fmt.Errorf("%w: CHAT_WRITE_FORBIDDEN %s", domain.ErrPermissionDenied, peer)
	}
	return peer, nil
}

// throttle takes a token for peer or returns the cooldown until one is free.
func (c *Client) throttle(peer domain.Peer, op string) error {
	if c.cfg.FloodLimit <= 0 {
		return nil
	}

	c.mu.Lock()
	lim, ok := c.limiters[peer]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(c.cfg.FloodLimit), c.cfg.FloodBurst)
		c.limiters[peer] = lim
	}
	c.mu.Unlock()

	now := c.now()
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return &domain.RateLimitError{Op: op, Cooldown: time.Second}
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	r.CancelAt(now)

	secs := math.Ceil(delay.Seconds())
	return &domain.RateLimitError{Op: op, Cooldown: time.Duration(secs) * time.Second}
}
