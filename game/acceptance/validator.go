package acceptance

import "github.com/kasuganosora/bountyboard/game/quest"

// Player is the validator's read-only view of the requesting player.
type Player struct {
	CharID     int64
	Profession quest.Profession
	Level      int
	FreeSlots  int
	// ActiveOffers lists the offer ids of the player's non-terminal tickets.
	ActiveOffers []string
}

// Request names the offer being accepted as the board currently holds it.
type Request struct {
	OfferID string
	// Offered is false once the board no longer holds OfferID.
	Offered bool
	// Def is the board's definition for the offer; nil if absent or unreadable.
	Def *quest.Definition
}

// BoardContext carries the limits of the board serving the request.
type BoardContext struct {
	MaxActive int
	MinLevel  func(tier int) int
}

// Validate decides whether p may accept req. Checks run in a fixed order and the
// first failure wins, so players always see the same reason for the same situation.
// When the offer's definition is missing or malformed, the player-specific checks
// after ALREADY_HAS_QUEST cannot be evaluated and only the availability check runs.
func Validate(p Player, req Request, bc BoardContext) error {
	for _, id := range p.ActiveOffers {
		if id == req.OfferID {
			return Reject(CodeAlreadyHasQuest, nil)
		}
	}

	def := req.Def
	if def != nil && def.Validate() == nil {
		if !def.Profession().Accepts(p.Profession) {
			return Reject(CodeProfessionMismatch, nil)
		}
		if bc.MaxActive > 0 && len(p.ActiveOffers) >= bc.MaxActive {
			return Reject(CodeQuestLimitReached, nil)
		}
		if p.FreeSlots < 1 {
			return Reject(CodeInventoryFull, nil)
		}
		if bc.MinLevel != nil && p.Level < bc.MinLevel(def.Tier()) {
			return Reject(CodePlayerLevelTooLow, nil)
		}
	}

	if !req.Offered {
		return Reject(CodeQuestUnavailable, nil)
	}
	if def == nil {
		return Reject(CodeQuestInvalid, nil)
	}
	if err := def.Validate(); err != nil {
		return Reject(CodeQuestInvalid, err)
	}
	return nil
}
