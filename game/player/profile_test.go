package player

import (
	"context"
	"testing"

	"github.com/kasuganosora/bountyboard/game/quest"
	"github.com/kasuganosora/bountyboard/model"
	"github.com/kasuganosora/bountyboard/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelForExp(t *testing.T) {
	assert.Equal(t, 1, LevelForExp(0))
	assert.Equal(t, 1, LevelForExp(999))
	assert.Equal(t, 2, LevelForExp(1000))
	assert.Equal(t, maxLevel, LevelForExp(1<<40))
}

func TestProfile_FreeSlots(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ch := testutil.CreateCharacter(t, db, "smith", "blacksmith", 4)
	require.NoError(t, db.Create(&model.Inventory{CharID: ch.ID, ItemID: "iron_ingot", Qty: 10}).Error)
	require.NoError(t, db.Create(&model.Inventory{CharID: ch.ID, ItemID: "coal", Qty: 3}).Error)

	p, err := NewGormProfiles(db).Profile(context.Background(), ch.ID)
	require.NoError(t, err)
	assert.Equal(t, quest.ProfessionBlacksmith, p.Profession)
	assert.Equal(t, 4, p.Level)
	assert.Equal(t, 25, p.FreeSlots)
}

func TestProfile_NotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	_, err := NewGormProfiles(db).Profile(context.Background(), 404)
	assert.ErrorIs(t, err, ErrCharacterNotFound)
}

func TestGrantExperience_LevelsUp(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ch := testutil.CreateCharacter(t, db, "cook", "cook", 1)
	profiles := NewGormProfiles(db)

	p, err := profiles.GrantExperience(context.Background(), ch.ID, 1500)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), p.Exp)
	assert.Equal(t, 2, p.Level)

	var stored model.Character
	require.NoError(t, db.First(&stored, ch.ID).Error)
	assert.Equal(t, int64(1500), stored.Exp)
	assert.Equal(t, 2, stored.Level)
}

func TestGrantExperience_NeverLowersLevel(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ch := testutil.CreateCharacter(t, db, "vet", "warrior", 20)

	p, err := NewGormProfiles(db).GrantExperience(context.Background(), ch.ID, 500)
	require.NoError(t, err)
	assert.Equal(t, 20, p.Level)
}
