package channelstate

import (
	"errors"
	"time"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// ValidTransitions defines allowed state transitions.
// Key is the current state, value is the list of valid next states.
var ValidTransitions = map[SyncState][]SyncState{
	StateIdle:    {StateRunning},
	StateRunning: {StateDone, StateAborted, StateFailed},
	StateDone:    {StateIdle},
	StateAborted: {StateIdle},
	StateFailed:  {StateIdle},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to SyncState) bool {
	validTargets, ok := ValidTransitions[from]
	if !ok {
		return false
	}

	for _, target := range validTargets {
		if target == to {
			return true
		}
	}
	return false
}

// Transition represents a state change with metadata.
type Transition struct {
	From      SyncState
	To        SyncState
	Reason    string
	Timestamp time.Time
}

// NewTransition creates a new transition record.
func NewTransition(from, to SyncState, reason string) Transition {
	return Transition{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// IsValid returns true if this transition is allowed by the state machine.
func (t Transition) IsValid() bool {
	return CanTransition(t.From, t.To)
}

// StateDescription returns a human-readable description of a state.
func StateDescription(s SyncState) string {
	switch s {
	case StateIdle:
		return "Idle - no operation in flight"
	case StateRunning:
		return "Running - crawl or manual fill in progress"
	case StateDone:
		return "Done - channel fully synced"
	case StateAborted:
		return "Aborted - cancelled between chunks"
	case StateFailed:
		return "Failed - transport or commit error"
	default:
		return "Unknown state"
	}
}
