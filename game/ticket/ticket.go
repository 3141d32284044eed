package ticket

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/bountyboard/game/quest"
)

var (
	// ErrProgressIncomplete guards in_progress → completed.
	ErrProgressIncomplete = errors.New("ticket: progress incomplete")
	// ErrTurnInRejected guards completed → finished.
	ErrTurnInRejected = errors.New("ticket: turn-in check failed")
	// ErrWrongItem is returned when a deposit does not match the required item.
	ErrWrongItem = errors.New("ticket: deposit item does not match")
	// ErrNotDepositable is returned when the ticket cannot take deposits in its state.
	ErrNotDepositable = errors.New("ticket: not accepting deposits")
	// ErrExpired is returned when an open ticket is past its deadline.
	ErrExpired = errors.New("ticket: expired")
)

// Fail reasons recorded on failed tickets.
const (
	ReasonExpired      = "expired"
	ReasonBoardRemoved = "board_removed"
	ReasonCancelled    = "cancelled"
)

// Ticket is a player's stateful claim on one board offer.
type Ticket struct {
	ID         string
	BoardID    string
	OfferID    string
	Def        *quest.Definition
	State      State
	Owner      int64
	Deposited  int
	FailReason string
	AcceptedAt time.Time
	ExpiresAt  time.Time // zero means no expiry
	UpdatedAt  time.Time
}

// New creates an available ticket for offerID on boardID.
func New(def *quest.Definition, boardID, offerID string) *Ticket {
	return &Ticket{
		ID:      uuid.NewString(),
		BoardID: boardID,
		OfferID: offerID,
		Def:     def,
		State:   StateAvailable,
	}
}

// Progress recomputes the ticket's progress view.
func (t *Ticket) Progress() quest.Progress { return t.Def.Progress(t.Deposited) }

// CanComplete is true only once the ticket reached the completed state.
func (t *Ticket) CanComplete() bool { return t.State == StateCompleted }

// Transition moves the ticket to `to` if the table allows it. It applies no guard;
// prefer the named operations below.
func (t *Ticket) Transition(to State, now time.Time) error {
	if err := checkTransition(t.State, to); err != nil {
		return err
	}
	t.State = to
	t.UpdatedAt = now
	return nil
}

// Accept binds the ticket to owner. A positive ttl sets an absolute expiry.
func (t *Ticket) Accept(owner int64, now time.Time, ttl time.Duration, policy BeginPolicy) error {
	if err := t.Transition(StateAccepted, now); err != nil {
		return err
	}
	t.Owner = owner
	t.AcceptedAt = now
	if ttl > 0 {
		t.ExpiresAt = now.Add(ttl)
	}
	if policy == BeginImmediate {
		return t.Begin(now)
	}
	return nil
}

// Begin moves an accepted ticket into progress.
func (t *Ticket) Begin(now time.Time) error {
	return t.Transition(StateInProgress, now)
}

// Deposit adds stack towards the goal and returns how many items were consumed.
// Deposits past the goal are not consumed. Reaching the goal completes the ticket.
// A ticket past its deadline takes nothing, whether or not it was swept yet.
func (t *Ticket) Deposit(stack quest.ItemStack, now time.Time) (int, error) {
	if t.State != StateAccepted && t.State != StateInProgress {
		return 0, fmt.Errorf("%w: state %s", ErrNotDepositable, t.State)
	}
	if t.Expired(now) {
		return 0, fmt.Errorf("%w at %s", ErrExpired, t.ExpiresAt.Format(time.RFC3339))
	}
	if stack.Item != t.Def.RequiredItem() || stack.Qty <= 0 {
		return 0, ErrWrongItem
	}
	if t.State == StateAccepted {
		if err := t.Begin(now); err != nil {
			return 0, err
		}
	}
	used := t.Def.RequiredAmount() - t.Deposited
	if stack.Qty < used {
		used = stack.Qty
	}
	t.Deposited += used
	t.UpdatedAt = now
	if t.Progress().IsComplete() {
		if err := t.Complete(now); err != nil {
			return used, err
		}
	}
	return used, nil
}

// Complete moves an in-progress ticket whose progress reached its goal to completed.
func (t *Ticket) Complete(now time.Time) error {
	if t.State == StateInProgress && !t.Progress().IsComplete() {
		return ErrProgressIncomplete
	}
	return t.Transition(StateCompleted, now)
}

// Finish closes a completed ticket after the turn-in check.
func (t *Ticket) Finish(now time.Time) error {
	if t.State == StateCompleted && !t.Def.Matches(quest.ItemStack{Item: t.Def.RequiredItem(), Qty: t.Deposited}) {
		return ErrTurnInRejected
	}
	return t.Transition(StateFinished, now)
}

// Fail moves an accepted or in-progress ticket to failed.
func (t *Ticket) Fail(reason string, now time.Time) error {
	if err := t.Transition(StateFailed, now); err != nil {
		return err
	}
	t.FailReason = reason
	return nil
}

// Expired reports whether a still-open ticket is past its absolute deadline.
func (t *Ticket) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	if t.State != StateAccepted && t.State != StateInProgress {
		return false
	}
	return !now.Before(t.ExpiresAt)
}
