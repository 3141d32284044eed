package acceptance

import (
	"errors"
	"testing"

	"github.com/kasuganosora/bountyboard/game/quest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func def(t *testing.T, p quest.Profession, tier int) *quest.Definition {
	t.Helper()
	d, err := quest.NewDefinition(p, tier, "bounty:iron_ingot", 4)
	require.NoError(t, err)
	return d
}

func minLevel(tier int) int { return []int{0, 1, 5, 10}[tier] }

func smith() Player {
	return Player{CharID: 1, Profession: quest.ProfessionBlacksmith, Level: 12, FreeSlots: 5}
}

func board() BoardContext { return BoardContext{MaxActive: 2, MinLevel: minLevel} }

func TestValidate_OK(t *testing.T) {
	req := Request{OfferID: "o1", Offered: true, Def: def(t, quest.ProfessionBlacksmith, 3)}
	assert.NoError(t, Validate(smith(), req, board()))

	req.Def = def(t, quest.ProfessionAny, 1)
	assert.NoError(t, Validate(smith(), req, board()))
}

func TestValidate_EachCheck(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(p *Player, r *Request)
		want   Code
	}{
		{"already has", func(p *Player, r *Request) { p.ActiveOffers = []string{"o1"} }, CodeAlreadyHasQuest},
		{"profession", func(p *Player, r *Request) { p.Profession = quest.ProfessionCook }, CodeProfessionMismatch},
		{"limit", func(p *Player, r *Request) { p.ActiveOffers = []string{"a", "b"} }, CodeQuestLimitReached},
		{"inventory", func(p *Player, r *Request) { p.FreeSlots = 0 }, CodeInventoryFull},
		{"level", func(p *Player, r *Request) { p.Level = 9 }, CodePlayerLevelTooLow},
		{"unavailable", func(p *Player, r *Request) { r.Offered = false }, CodeQuestUnavailable},
		{"invalid", func(p *Player, r *Request) { r.Def = nil }, CodeQuestInvalid},
		{"zero value def", func(p *Player, r *Request) { r.Def = &quest.Definition{} }, CodeQuestInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := smith()
			r := Request{OfferID: "o1", Offered: true, Def: def(t, quest.ProfessionBlacksmith, 3)}
			tc.mutate(&p, &r)
			assert.Equal(t, tc.want, CodeOf(Validate(p, r, board())))
		})
	}
}

func TestValidate_AlreadyHasBeatsLimit(t *testing.T) {
	p := smith()
	p.ActiveOffers = []string{"x", "o1", "y"} // holds o1 and is over the limit of 2
	r := Request{OfferID: "o1", Offered: true, Def: def(t, quest.ProfessionBlacksmith, 1)}
	assert.Equal(t, CodeAlreadyHasQuest, CodeOf(Validate(p, r, board())))
}

func TestValidate_OrderIsFirstFailureWins(t *testing.T) {
	p := Player{CharID: 1, Profession: quest.ProfessionCook, Level: 1, FreeSlots: 0, ActiveOffers: []string{"a", "b"}}
	r := Request{OfferID: "o1", Offered: false, Def: def(t, quest.ProfessionWarrior, 3)}
	assert.Equal(t, CodeProfessionMismatch, CodeOf(Validate(p, r, board())))

	p.Profession = quest.ProfessionWarrior
	assert.Equal(t, CodeQuestLimitReached, CodeOf(Validate(p, r, board())))

	p.ActiveOffers = nil
	assert.Equal(t, CodeInventoryFull, CodeOf(Validate(p, r, board())))

	p.FreeSlots = 1
	assert.Equal(t, CodePlayerLevelTooLow, CodeOf(Validate(p, r, board())))

	p.Level = 10
	assert.Equal(t, CodeQuestUnavailable, CodeOf(Validate(p, r, board())))
}

func TestValidate_NoLimitWhenZero(t *testing.T) {
	p := smith()
	p.ActiveOffers = []string{"a", "b", "c", "d"}
	r := Request{OfferID: "o1", Offered: true, Def: def(t, quest.ProfessionAny, 1)}
	assert.NoError(t, Validate(p, r, BoardContext{}))
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil))
	assert.Equal(t, CodeUnknownError, Classify(errors.New("boom")).Code)

	wrapped := Reject(CodeNetworkError, errors.New("db down"))
	assert.Same(t, wrapped, Classify(wrapped))
	assert.True(t, errors.Is(wrapped, Reject(CodeNetworkError, nil)))
	assert.False(t, errors.Is(wrapped, Reject(CodeUnknownError, nil)))
}

func TestCodeKinds(t *testing.T) {
	assert.Equal(t, KindUser, CodeQuestUnavailable.Kind())
	assert.Equal(t, KindUser, CodeAlreadyHasQuest.Kind())
	assert.Equal(t, KindDataIntegrity, CodeQuestInvalid.Kind())
	assert.Equal(t, KindTransport, CodeNetworkError.Kind())
	assert.Equal(t, KindUnclassified, CodeUnknownError.Kind())
	assert.Equal(t, "transport", KindTransport.String())
}
