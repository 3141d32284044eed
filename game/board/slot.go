package board

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/bountyboard/game/quest"
)

// ErrSlotOutOfRange is returned by SlotStore for an index outside the store.
var ErrSlotOutOfRange = errors.New("board: slot index out of range")

// SlotKind says what a slot is reserved for.
type SlotKind string

const (
	SlotQuest  SlotKind = "quest"
	SlotDecree SlotKind = "decree"
)

// Offer is one quest instance sitting in a board slot.
type Offer struct {
	ID        string
	Def       *quest.Definition
	OfferedAt time.Time
	ExpiresAt time.Time // zero: never expires
}

func newOffer(def *quest.Definition, now time.Time, ttl time.Duration) *Offer {
	o := &Offer{ID: uuid.NewString(), Def: def, OfferedAt: now}
	if ttl > 0 {
		o.ExpiresAt = now.Add(ttl)
	}
	return o
}

// Expired reports whether the offer's absolute deadline has passed.
func (o *Offer) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && !now.Before(o.ExpiresAt)
}

// Slot is the content of one board slot. Quest slots hold an Offer or nothing;
// decree slots hold a reward item stack or nothing.
type Slot struct {
	Kind   SlotKind
	Offer  *Offer
	Decree quest.ItemStack
}

// Empty reports whether the slot holds neither an offer nor a decree item.
func (s Slot) Empty() bool { return s.Offer == nil && s.Decree.Empty() }

// SlotStore is the addressable container holding a board's slots.
type SlotStore interface {
	Len() int
	Get(i int) (Slot, error)
	Set(i int, s Slot) error
}

// ArrayStore is a fixed-size in-memory SlotStore. It is not safe for concurrent
// use; the owning Board serializes access.
type ArrayStore struct {
	slots []Slot
}

// NewArrayStore creates a store with n empty slots.
func NewArrayStore(n int) *ArrayStore {
	return &ArrayStore{slots: make([]Slot, n)}
}

func (a *ArrayStore) Len() int { return len(a.slots) }

func (a *ArrayStore) Get(i int) (Slot, error) {
	if i < 0 || i >= len(a.slots) {
		return Slot{}, fmt.Errorf("%w: %d", ErrSlotOutOfRange, i)
	}
	return a.slots[i], nil
}

func (a *ArrayStore) Set(i int, s Slot) error {
	if i < 0 || i >= len(a.slots) {
		return fmt.Errorf("%w: %d", ErrSlotOutOfRange, i)
	}
	a.slots[i] = s
	return nil
}
