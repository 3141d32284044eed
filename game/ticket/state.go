package ticket

import (
	"errors"
	"fmt"
)

// State is a ticket lifecycle state.
type State string

const (
	StateAvailable  State = "available"
	StateAccepted   State = "accepted"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFinished   State = "finished"
	StateFailed     State = "failed"
)

// ErrInvalidTransition is returned for any move outside the transition table.
// Reaching it means the caller skipped a state check.
var ErrInvalidTransition = errors.New("ticket: invalid transition")

// transitions is the complete lifecycle. Anything not listed is rejected.
var transitions = map[State][]State{
	StateAvailable:  {StateAccepted},
	StateAccepted:   {StateInProgress, StateFailed},
	StateInProgress: {StateCompleted, StateFailed},
	StateCompleted:  {StateFinished},
}

// CanTransition reports whether from → to is in the table.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool { return s == StateFinished || s == StateFailed }

// Active reports whether s counts against a player's concurrent ticket limit.
func (s State) Active() bool {
	return s == StateAccepted || s == StateInProgress || s == StateCompleted
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateAvailable, StateAccepted, StateInProgress, StateCompleted, StateFinished, StateFailed:
		return true
	}
	return false
}

// BeginPolicy decides when an accepted ticket starts progressing.
type BeginPolicy string

const (
	// BeginImmediate moves a ticket to in_progress as soon as it is accepted.
	BeginImmediate BeginPolicy = "immediate"
	// BeginOnFirstDeposit waits for the first qualifying deposit.
	BeginOnFirstDeposit BeginPolicy = "first_deposit"
)

// ParseBeginPolicy converts a config value. Empty means BeginOnFirstDeposit.
func ParseBeginPolicy(s string) (BeginPolicy, error) {
	switch BeginPolicy(s) {
	case "", BeginOnFirstDeposit:
		return BeginOnFirstDeposit, nil
	case BeginImmediate:
		return BeginImmediate, nil
	}
	return "", fmt.Errorf("ticket: unknown begin policy %q", s)
}
