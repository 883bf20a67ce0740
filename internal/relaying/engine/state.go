package engine

import (
	"errors"
	"slices"
	"time"
)

// State is a position in the per-route relay state machine.
type State string

const (
	StateScanning   State = "scanning"
	StateDelivering State = "delivering"
	StateSucceeded  State = "succeeded"
	StateAbandoned  State = "abandoned"
	StateComplete   State = "complete"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// ValidTransitions defines allowed state transitions.
// Key is the current state, value is the list of valid next states.
var ValidTransitions = map[State][]State{
	StateScanning:   {StateDelivering, StateComplete},
	StateDelivering: {StateSucceeded, StateAbandoned, StateComplete},
	StateSucceeded:  {StateScanning, StateComplete},
	StateAbandoned:  {StateScanning, StateComplete},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	return slices.Contains(ValidTransitions[from], to)
}

// Transition represents a state change with metadata.
type Transition struct {
	From      State
	To        State
	Reason    string
	Timestamp time.Time
}

// NewTransition creates a new transition record.
func NewTransition(from, to State, reason string, at time.Time) Transition {
	return Transition{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: at,
	}
}

// IsValid returns true if this transition is allowed by the state machine.
func (t Transition) IsValid() bool {
	return CanTransition(t.From, t.To)
}

// StateDescription returns a human-readable description of a state.
func StateDescription(s State) string {
	switch s {
	case StateScanning:
		return "Scanning - reading the next source message after the checkpoint"
	case StateDelivering:
		return "Delivering - relaying one message with retries"
	case StateSucceeded:
		return "Succeeded - message delivered, checkpoint persisted"
	case StateAbandoned:
		return "Abandoned - message given up on, checkpoint held"
	case StateComplete:
		return "Complete - route finished"
	default:
		return "Unknown state"
	}
}
