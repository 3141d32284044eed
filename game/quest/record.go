package quest

import "fmt"

// Record is the structured, serializable form of a Definition.
type Record struct {
	Profession       string `json:"profession"`
	Tier             int    `json:"tier"`
	RequiredItem     string `json:"required_item"`
	RequiredAmount   int    `json:"required_amount"`
	RewardExperience int    `json:"reward_experience"`
}

// Record converts d into its serializable form.
func (d *Definition) Record() Record {
	return Record{
		Profession:       string(d.profession),
		Tier:             d.tier,
		RequiredItem:     string(d.requiredItem),
		RequiredAmount:   d.requiredAmount,
		RewardExperience: d.RewardExperience(),
	}
}

// FromRecord rebuilds a Definition, resolving the item through items.
// The record's reward is ignored and recomputed from the tier.
// An unknown item yields an error wrapping ErrUnknownItem.
func FromRecord(rec Record, items *ItemRegistry) (*Definition, error) {
	prof, err := ParseProfession(rec.Profession)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	item := ItemRef(rec.RequiredItem)
	if items != nil && !items.Has(item) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownItem, rec.RequiredItem)
	}
	return NewDefinition(prof, rec.Tier, item, rec.RequiredAmount)
}
