package domain

import "time"

// Message is one item of a source conversation.
type Message struct {
	ID      Offset
	Chat    Peer
	Service bool // join/pin/title-change and other non-content events
	Text    string
	Media   *Attachment
	SentAt  time.Time
}

// Attachment is an optional file carried by a message or a report.
type Attachment struct {
	Name    string
	Caption string
	Data    []byte
}

// DeliveryMode selects how a message reaches the destination.
type DeliveryMode string

const (
	// ModeCopy re-sends the message content as a new message.
	ModeCopy DeliveryMode = "copy"
	// ModeForward forwards the original message by reference.
	ModeForward DeliveryMode = "forward"
)

// Valid reports whether m is a known delivery mode.
func (m DeliveryMode) Valid() bool {
	return m == ModeCopy || m == ModeForward
}
