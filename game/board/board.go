package board

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kasuganosora/bountyboard/game/mask"
	"github.com/kasuganosora/bountyboard/game/quest"
)

var (
	ErrDestroyed      = errors.New("board: destroyed")
	ErrUnknownViewer  = errors.New("board: viewer not attached")
	ErrOfferNotOnSale = errors.New("board: offer not on board")
)

// Close reasons sent to viewers.
const (
	CloseRemoved  = "board_removed"
	CloseReplaced = "session_replaced"
)

// Location anchors a board in the world. At most one board exists per location.
type Location struct {
	World string `json:"world"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Z     int    `json:"z"`
}

// Key is the location's identity string.
func (l Location) Key() string { return fmt.Sprintf("%s/%d/%d/%d", l.World, l.X, l.Y, l.Z) }

// Options sizes a board.
type Options struct {
	QuestSlots  int
	DecreeSlots int
	OfferTTL    time.Duration
	Decree      quest.ItemStack
}

// Viewer is a session with the board screen open. *player.PlayerSession
// implements it. Sends must not block.
type Viewer interface {
	SessionID() string
	SendMask(boardID string, data []byte)
	SendSlots(boardID string, slots []SlotView)
	SendBoardClosed(boardID, reason string)
}

// SlotView is the client-facing rendering of one slot.
type SlotView struct {
	Index     int              `json:"index"`
	Kind      SlotKind         `json:"kind"`
	OfferID   string           `json:"offer_id,omitempty"`
	Quest     *quest.Record    `json:"quest,omitempty"`
	Decree    *quest.ItemStack `json:"decree,omitempty"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
}

type viewer struct {
	v          Viewer
	charID     int64
	profession quest.Profession
	mask       mask.Set
}

// Disposition is what Claim does with the offer after the callback returns.
type Disposition int

const (
	Keep Disposition = iota
	Take
)

// Board is one placed bounty board: authoritative slots plus the mask table of the
// sessions viewing it. All mutations are serialized by mu.
type Board struct {
	id      string
	loc     Location
	variant Variant
	tick    TickFunc
	opts    Options
	catalog *quest.Catalog
	notify  func(boardID string)

	mu        sync.RWMutex
	slots     SlotStore
	viewers   map[string]*viewer
	cursor    int
	destroyed bool
}

// New builds a board and fills its slots. notify, if non-nil, is called after
// every mutation that changes what viewers see; it must not block.
func New(id string, loc Location, v Variant, catalog *quest.Catalog, opts Options, now time.Time, notify func(string)) *Board {
	b := &Board{
		id:      id,
		loc:     loc,
		variant: v,
		tick:    v.Tick,
		opts:    opts,
		catalog: catalog,
		notify:  notify,
		slots:   NewArrayStore(opts.QuestSlots + opts.DecreeSlots),
		viewers: make(map[string]*viewer),
	}
	b.populate(now)
	return b
}

func (b *Board) ID() string         { return b.id }
func (b *Board) Location() Location { return b.loc }
func (b *Board) Variant() Variant   { return b.variant }

func (b *Board) offerTTL() time.Duration {
	if b.tick == nil {
		return 0
	}
	return b.opts.OfferTTL
}

func (b *Board) pool() []*quest.Definition {
	return b.catalog.Filter(b.variant.InPool)
}

func (b *Board) populate(now time.Time) {
	pool := b.pool()
	for i := 0; i < b.opts.QuestSlots; i++ {
		s := Slot{Kind: SlotQuest}
		if def := nextFromPool(pool, &b.cursor); def != nil {
			s.Offer = newOffer(def, now, b.offerTTL())
		}
		_ = b.slots.Set(i, s)
	}
	for i := 0; i < b.opts.DecreeSlots; i++ {
		_ = b.slots.Set(b.opts.QuestSlots+i, Slot{Kind: SlotDecree, Decree: b.opts.Decree})
	}
}

func (b *Board) changed() {
	if b.notify != nil {
		b.notify(b.id)
	}
}

// Destroyed reports whether the board has been removed from the world.
func (b *Board) Destroyed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.destroyed
}

// maskFor computes which slots are hidden from a viewer of profession p.
// Must be called with mu held.
func (b *Board) maskFor(p quest.Profession) mask.Set {
	hidden := mask.Set{}
	for i := 0; i < b.slots.Len(); i++ {
		s, _ := b.slots.Get(i)
		if s.Kind != SlotQuest || s.Offer == nil {
			continue
		}
		if !s.Offer.Def.Profession().Accepts(p) {
			hidden[uint32(i)] = struct{}{}
		}
	}
	return hidden
}

// Slots renders every slot. Must not be called with mu held.
func (b *Board) Slots() []SlotView {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.slotViews()
}

func (b *Board) slotViews() []SlotView {
	out := make([]SlotView, 0, b.slots.Len())
	for i := 0; i < b.slots.Len(); i++ {
		s, _ := b.slots.Get(i)
		sv := SlotView{Index: i, Kind: s.Kind}
		if s.Offer != nil {
			rec := s.Offer.Def.Record()
			sv.OfferID = s.Offer.ID
			sv.Quest = &rec
			if !s.Offer.ExpiresAt.IsZero() {
				exp := s.Offer.ExpiresAt
				sv.ExpiresAt = &exp
			}
		}
		if !s.Decree.Empty() {
			d := s.Decree
			sv.Decree = &d
		}
		out = append(out, sv)
	}
	return out
}

// VisibleTo renders the slots a player of profession p is allowed to see.
func (b *Board) VisibleTo(p quest.Profession) []SlotView {
	b.mu.RLock()
	defer b.mu.RUnlock()
	hidden := b.maskFor(p)
	out := make([]SlotView, 0, b.slots.Len())
	for _, sv := range b.slotViews() {
		if !hidden.Has(uint32(sv.Index)) {
			out = append(out, sv)
		}
	}
	return out
}

// Open attaches v and sends it the slots and its initial mask before returning.
// Opening again with the same session replaces the earlier registration.
func (b *Board) Open(v Viewer, charID int64, p quest.Profession) (mask.Set, error) {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return nil, ErrDestroyed
	}
	m := b.maskFor(p)
	b.viewers[v.SessionID()] = &viewer{v: v, charID: charID, profession: p, mask: m}
	slots := b.slotViews()
	b.mu.Unlock()

	v.SendSlots(b.id, slots)
	v.SendMask(b.id, mask.Encode(m))
	return m, nil
}

// Close detaches a viewer. It reports whether the session was attached.
func (b *Board) Close(sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.viewers[sessionID]
	delete(b.viewers, sessionID)
	return ok
}

// SetViewerProfession recomputes one viewer's mask after its profession changed
// and pushes it.
func (b *Board) SetViewerProfession(sessionID string, p quest.Profession) error {
	b.mu.Lock()
	vw, ok := b.viewers[sessionID]
	if !ok {
		b.mu.Unlock()
		return ErrUnknownViewer
	}
	vw.profession = p
	vw.mask = b.maskFor(p)
	data := mask.Encode(vw.mask)
	b.mu.Unlock()

	vw.v.SendMask(b.id, data)
	return nil
}

// Mask returns the mask last computed for a session.
func (b *Board) Mask(sessionID string) (mask.Set, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	vw, ok := b.viewers[sessionID]
	if !ok {
		return nil, false
	}
	return vw.mask, true
}

// ViewerCount returns the number of attached sessions.
func (b *Board) ViewerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.viewers)
}

type push struct {
	v    Viewer
	data []byte
}

// SyncMasks recomputes every viewer's mask and pushes it along with the current
// slots. Masks are sent whole; clients replace what they had.
func (b *Board) SyncMasks() int {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return 0
	}
	slots := b.slotViews()
	pushes := make([]push, 0, len(b.viewers))
	for _, vw := range b.viewers {
		vw.mask = b.maskFor(vw.profession)
		pushes = append(pushes, push{v: vw.v, data: mask.Encode(vw.mask)})
	}
	b.mu.Unlock()

	for _, p := range pushes {
		p.v.SendSlots(b.id, slots)
		p.v.SendMask(b.id, p.data)
	}
	return len(pushes)
}

// Claim gives fn exclusive access to an offer. fn receives nil when the board no
// longer holds offerID. If fn returns Take, the offer leaves its slot. Claims on
// one board never interleave.
func (b *Board) Claim(offerID string, fn func(*Offer) (Disposition, error)) error {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return ErrDestroyed
	}
	idx, off := b.find(offerID)
	d, err := fn(off)
	taken := false
	if d == Take && off != nil {
		_ = b.slots.Set(idx, Slot{Kind: SlotQuest})
		taken = true
	}
	b.mu.Unlock()

	if taken {
		b.changed()
	}
	return err
}

// Quarantine removes an offer whose data turned out to be unusable.
func (b *Board) Quarantine(offerID string) error {
	found := false
	err := b.Claim(offerID, func(o *Offer) (Disposition, error) {
		found = o != nil
		return Take, nil
	})
	if err == nil && !found {
		return ErrOfferNotOnSale
	}
	return err
}

// Offer returns the offer with the given id, if the board holds it.
func (b *Board) Offer(offerID string) (*Offer, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, off := b.find(offerID)
	return off, off != nil
}

func (b *Board) find(offerID string) (int, *Offer) {
	for i := 0; i < b.opts.QuestSlots; i++ {
		s, err := b.slots.Get(i)
		if err != nil {
			break
		}
		if s.Offer != nil && s.Offer.ID == offerID {
			return i, s.Offer
		}
	}
	return -1, nil
}

// Tick runs the variant's periodic routine, if it has one.
func (b *Board) Tick(now time.Time) bool {
	if b.tick == nil {
		return false
	}
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return false
	}
	changed := b.tick(&TickState{
		Slots:      b.slots,
		QuestSlots: b.opts.QuestSlots,
		Pool:       b.pool(),
		OfferTTL:   b.opts.OfferTTL,
		Cursor:     &b.cursor,
		Now:        now,
	})
	b.mu.Unlock()

	if changed {
		b.changed()
	}
	return changed
}

// destroy marks the board removed, empties it and closes every viewer before
// returning. It reports how many viewers were closed.
func (b *Board) destroy(reason string) int {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return 0
	}
	b.destroyed = true
	viewers := make([]Viewer, 0, len(b.viewers))
	for _, vw := range b.viewers {
		viewers = append(viewers, vw.v)
	}
	b.viewers = map[string]*viewer{}
	for i := 0; i < b.slots.Len(); i++ {
		s, _ := b.slots.Get(i)
		_ = b.slots.Set(i, Slot{Kind: s.Kind})
	}
	b.mu.Unlock()

	for _, v := range viewers {
		v.SendBoardClosed(b.id, reason)
	}
	return len(viewers)
}
