package board

import "github.com/kasuganosora/bountyboard/game/quest"

// RefreshOffers is the class-board routine. Every quest slot that is empty or holds
// an expired offer receives the next definition from the pool. Expiry is judged
// from absolute timestamps, so a skipped or repeated tick has no extra effect.
func RefreshOffers(ts *TickState) bool {
	changed := false
	for i := 0; i < ts.QuestSlots; i++ {
		slot, err := ts.Slots.Get(i)
		if err != nil {
			break
		}
		if slot.Offer != nil && !slot.Offer.Expired(ts.Now) {
			continue
		}
		next := Slot{Kind: SlotQuest}
		if def := nextFromPool(ts.Pool, ts.Cursor); def != nil {
			next.Offer = newOffer(def, ts.Now, ts.OfferTTL)
		} else if slot.Offer == nil {
			continue
		}
		if err := ts.Slots.Set(i, next); err != nil {
			break
		}
		changed = true
	}
	return changed
}

// nextFromPool rotates through pool using cursor.
func nextFromPool(pool []*quest.Definition, cursor *int) *quest.Definition {
	if len(pool) == 0 {
		return nil
	}
	def := pool[*cursor%len(pool)]
	*cursor++
	return def
}
