package quest

import "fmt"

// Profession scopes a quest (and a board) to a class of players.
type Profession string

const (
	ProfessionAny        Profession = "any"
	ProfessionBlacksmith Profession = "blacksmith"
	ProfessionBrewer     Profession = "brewer"
	ProfessionCook       Profession = "cook"
	ProfessionCourier    Profession = "courier"
	ProfessionMiner      Profession = "miner"
	ProfessionWarrior    Profession = "warrior"
)

var knownProfessions = map[Profession]bool{
	ProfessionAny:        true,
	ProfessionBlacksmith: true,
	ProfessionBrewer:     true,
	ProfessionCook:       true,
	ProfessionCourier:    true,
	ProfessionMiner:      true,
	ProfessionWarrior:    true,
}

// Valid reports whether p is one of the known professions.
func (p Profession) Valid() bool { return knownProfessions[p] }

// Accepts reports whether a player of profession player may take work scoped to p.
func (p Profession) Accepts(player Profession) bool {
	return p == ProfessionAny || p == player
}

// ParseProfession converts a raw string into a Profession.
// An empty string is treated as ProfessionAny.
func ParseProfession(s string) (Profession, error) {
	if s == "" {
		return ProfessionAny, nil
	}
	p := Profession(s)
	if !p.Valid() {
		return "", fmt.Errorf("quest: unknown profession %q", s)
	}
	return p, nil
}
