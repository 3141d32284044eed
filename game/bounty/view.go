package bounty

import (
	"errors"
	"time"

	"github.com/kasuganosora/bountyboard/game/acceptance"
	"github.com/kasuganosora/bountyboard/game/item"
	"github.com/kasuganosora/bountyboard/game/quest"
	"github.com/kasuganosora/bountyboard/game/ticket"
)

// TicketView is the client rendering of a ticket.
type TicketView struct {
	ID         string       `json:"id"`
	BoardID    string       `json:"board_id"`
	OfferID    string       `json:"offer_id"`
	State      ticket.State `json:"state"`
	Quest      quest.Record `json:"quest"`
	Deposited  int          `json:"deposited"`
	Progress   string       `json:"progress"`
	FailReason string       `json:"fail_reason,omitempty"`
	AcceptedAt time.Time    `json:"accepted_at"`
	ExpiresAt  *time.Time   `json:"expires_at,omitempty"`
}

// View renders t.
func View(t *ticket.Ticket) TicketView {
	v := TicketView{
		ID:         t.ID,
		BoardID:    t.BoardID,
		OfferID:    t.OfferID,
		State:      t.State,
		Quest:      t.Def.Record(),
		Deposited:  t.Deposited,
		Progress:   t.Progress().String(),
		FailReason: t.FailReason,
		AcceptedAt: t.AcceptedAt,
	}
	if !t.ExpiresAt.IsZero() {
		exp := t.ExpiresAt
		v.ExpiresAt = &exp
	}
	return v
}

// Views renders a list of tickets.
func Views(ts []*ticket.Ticket) []TicketView {
	out := make([]TicketView, 0, len(ts))
	for _, t := range ts {
		out = append(out, View(t))
	}
	return out
}

// Codes reported for deposit and turn-in failures.
const (
	CodeTicketNotFound = "TICKET_NOT_FOUND"
	CodeNotEnoughItems = "NOT_ENOUGH_ITEMS"
	CodeWrongItem      = "WRONG_ITEM"
	CodeInvalidState   = "INVALID_STATE"
	CodeTurnInRejected = "TURN_IN_REJECTED"
	CodeBadRequest     = "BAD_REQUEST"
	CodeTicketExpired  = "TICKET_EXPIRED"
)

// ErrorCode maps a service error onto the code shown to the player.
func ErrorCode(err error) string {
	var ae *acceptance.Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ae):
		return string(ae.Code)
	case errors.Is(err, ticket.ErrNotFound), errors.Is(err, ErrNotOwner):
		return CodeTicketNotFound
	case errors.Is(err, item.ErrNotEnoughItems):
		return CodeNotEnoughItems
	case errors.Is(err, ticket.ErrWrongItem):
		return CodeWrongItem
	case errors.Is(err, ticket.ErrNotDepositable), errors.Is(err, ticket.ErrInvalidTransition):
		return CodeInvalidState
	case errors.Is(err, ticket.ErrExpired):
		return CodeTicketExpired
	case errors.Is(err, ticket.ErrTurnInRejected):
		return CodeTurnInRejected
	case errors.Is(err, ErrNothingToDeposit):
		return CodeBadRequest
	}
	return string(acceptance.CodeUnknownError)
}

// UserFacing reports whether err is the player's doing rather than a server fault.
func UserFacing(err error) bool {
	switch ErrorCode(err) {
	case "", string(acceptance.CodeUnknownError), string(acceptance.CodeNetworkError), string(acceptance.CodeQuestInvalid):
		return false
	}
	return true
}
