package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Peer identifies a conversation: either a numeric chat id or a symbolic name
// (username, invite alias, "me") resolved by the messaging client.
type Peer string

// ChatID returns the numeric id when the peer is numeric.
func (p Peer) ChatID() (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(string(p)), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// IsZero reports whether the peer is empty.
func (p Peer) IsZero() bool {
	return strings.TrimSpace(string(p)) == ""
}

func (p Peer) String() string { return string(p) }

// Offset is the identifier of the last successfully relayed source message.
// Zero means nothing has been relayed yet.
type Offset int64

// String renders the offset as a decimal string, the persisted form.
func (o Offset) String() string {
	return strconv.FormatInt(int64(o), 10)
}

// ParseOffset parses a decimal offset. An empty string is the zero offset.
func ParseOffset(s string) (Offset, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q: %w", s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("invalid offset %q: must not be negative", s)
	}
	return Offset(v), nil
}

// Route is a configured source -> destination relay with its own checkpoint key.
type Route struct {
	Name          string
	Source        Peer
	Dest          Peer
	InitialOffset Offset
}

func (r Route) String() string {
	return fmt.Sprintf("%s (%s -> %s)", r.Name, r.Source, r.Dest)
}
