package player

import (
	"context"
	"errors"
	"fmt"

	"github.com/kasuganosora/bountyboard/game/quest"
	"github.com/kasuganosora/bountyboard/model"
	"gorm.io/gorm"
)

// ErrCharacterNotFound is returned when a profile lookup misses.
var ErrCharacterNotFound = errors.New("player: character not found")

const (
	expPerLevel = 1000
	maxLevel    = 99
)

// LevelForExp is the level a character with exp total experience has.
func LevelForExp(exp int64) int {
	lv := 1 + int(exp/expPerLevel)
	if lv > maxLevel {
		lv = maxLevel
	}
	return lv
}

// Profile is the player state the acceptance checks read.
type Profile struct {
	CharID     int64
	Name       string
	Profession quest.Profession
	Level      int
	Exp        int64
	FreeSlots  int
}

// ProfileProvider reads player identity and grants quest rewards.
type ProfileProvider interface {
	Profile(ctx context.Context, charID int64) (Profile, error)
	GrantExperience(ctx context.Context, charID int64, amount int) (Profile, error)
}

// GormProfiles implements ProfileProvider over the characters and inventories tables.
type GormProfiles struct {
	db *gorm.DB
}

// NewGormProfiles creates a GormProfiles.
func NewGormProfiles(db *gorm.DB) *GormProfiles {
	return &GormProfiles{db: db}
}

func (g *GormProfiles) load(tx *gorm.DB, charID int64) (Profile, error) {
	var ch model.Character
	if err := tx.First(&ch, charID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Profile{}, ErrCharacterNotFound
		}
		return Profile{}, fmt.Errorf("player: load character %d: %w", charID, err)
	}
	var used int64
	if err := tx.Model(&model.Inventory{}).Where("char_id = ?", charID).Count(&used).Error; err != nil {
		return Profile{}, fmt.Errorf("player: count inventory %d: %w", charID, err)
	}
	free := ch.BagSlots - int(used)
	if free < 0 {
		free = 0
	}
	prof, err := quest.ParseProfession(ch.Profession)
	if err != nil {
		return Profile{}, fmt.Errorf("player: character %d: %w", charID, err)
	}
	return Profile{
		CharID:     ch.ID,
		Name:       ch.Name,
		Profession: prof,
		Level:      ch.Level,
		Exp:        ch.Exp,
		FreeSlots:  free,
	}, nil
}

// Profile loads the character's current profession, level and free bag slots.
func (g *GormProfiles) Profile(ctx context.Context, charID int64) (Profile, error) {
	return g.load(g.db.WithContext(ctx), charID)
}

// GrantExperience adds amount to the character's experience and levels it up.
func (g *GormProfiles) GrantExperience(ctx context.Context, charID int64, amount int) (Profile, error) {
	var out Profile
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ch model.Character
		if err := tx.First(&ch, charID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCharacterNotFound
			}
			return err
		}
		exp := ch.Exp + int64(amount)
		level := max(ch.Level, LevelForExp(exp))
		if err := tx.Model(&ch).Updates(map[string]any{"exp": exp, "level": level}).Error; err != nil {
			return err
		}
		p, err := g.load(tx, charID)
		out = p
		return err
	})
	if err != nil && !errors.Is(err, ErrCharacterNotFound) {
		return Profile{}, fmt.Errorf("player: grant experience to %d: %w", charID, err)
	}
	return out, err
}
