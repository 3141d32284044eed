package quest

import (
	"errors"
	"fmt"
)

// ErrInvalidDefinition marks a definition whose fields violate the data model.
var ErrInvalidDefinition = errors.New("quest: invalid definition")

// rewardByTier maps a tier to the experience granted on turn-in.
var rewardByTier = map[int]int{
	1: 500,
	2: 1000,
	3: 1500,
}

const defaultReward = 500

// RewardFor returns the experience reward for tier. Unknown tiers yield the tier-1 value.
func RewardFor(tier int) int {
	if r, ok := rewardByTier[tier]; ok {
		return r
	}
	return defaultReward
}

// Definition is an immutable quest description. Construct it with NewDefinition or
// FromRecord; the zero value is not a valid quest.
type Definition struct {
	profession     Profession
	tier           int
	requiredItem   ItemRef
	requiredAmount int
}

// NewDefinition validates the fields and returns a Definition.
func NewDefinition(p Profession, tier int, item ItemRef, amount int) (*Definition, error) {
	d := &Definition{profession: p, tier: tier, requiredItem: item, requiredAmount: amount}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Definition) Profession() Profession { return d.profession }
func (d *Definition) Tier() int              { return d.tier }
func (d *Definition) RequiredItem() ItemRef  { return d.requiredItem }
func (d *Definition) RequiredAmount() int    { return d.requiredAmount }

// RewardExperience is derived from the tier and cannot be set independently.
func (d *Definition) RewardExperience() int { return RewardFor(d.tier) }

// Validate checks the structural invariants of d.
func (d *Definition) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil definition", ErrInvalidDefinition)
	}
	if !d.profession.Valid() {
		return fmt.Errorf("%w: profession %q", ErrInvalidDefinition, d.profession)
	}
	if d.tier < 1 || d.tier > 3 {
		return fmt.Errorf("%w: tier %d", ErrInvalidDefinition, d.tier)
	}
	if d.requiredItem == "" {
		return fmt.Errorf("%w: empty required item", ErrInvalidDefinition)
	}
	if d.requiredAmount <= 0 {
		return fmt.Errorf("%w: required amount %d", ErrInvalidDefinition, d.requiredAmount)
	}
	return nil
}

// Matches reports whether stack satisfies the quest requirement.
func (d *Definition) Matches(stack ItemStack) bool {
	return stack.Item == d.requiredItem && stack.Qty >= d.requiredAmount
}

// Key is a stable identity derived from the definition fields.
func (d *Definition) Key() string {
	return fmt.Sprintf("%s/%d/%s/%d", d.profession, d.tier, d.requiredItem, d.requiredAmount)
}

// Progress builds the progress view for amount deposited so far.
func (d *Definition) Progress(deposited int) Progress {
	return Progress{Current: float64(deposited), Goal: float64(d.requiredAmount)}
}

func (d *Definition) String() string { return d.Key() }
