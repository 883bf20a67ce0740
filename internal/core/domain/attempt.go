package domain

import "time"

// RelayAttempt tracks delivery of one message. It lives only until the message
// is delivered or abandoned.
type RelayAttempt struct {
	MessageID     Offset
	Attempts      int
	LastErrorKind FailureKind
	LastError     error
	NextRetryAt   time.Time
}

// AbandonedMessage is a message given up on without advancing the checkpoint.
type AbandonedMessage struct {
	ID          string      `json:"id"           yaml:"id"`
	Route       string      `json:"route"        yaml:"route"`
	MessageID   Offset      `json:"message_id"   yaml:"message_id"`
	Kind        FailureKind `json:"kind"         yaml:"kind"`
	Error       string      `json:"error_msg"    yaml:"error"`
	Attempts    int         `json:"attempts"     yaml:"attempts"`
	AbandonedAt time.Time   `json:"abandoned_at" yaml:"abandoned_at"`
}
