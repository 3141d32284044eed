package testutil

import (
	"testing"

	"github.com/kasuganosora/bountyboard/cache"
	"github.com/kasuganosora/bountyboard/config"
	dbadapter "github.com/kasuganosora/bountyboard/db"
	"github.com/kasuganosora/bountyboard/model"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// SetupTestDB creates a private in-memory SQLite DB and runs AutoMigrate.
// It requires no external services and is safe to use in parallel tests.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := dbadapter.Open(config.DatabaseConfig{Mode: dbadapter.ModeMemory})
	require.NoError(t, err, "SetupTestDB: Open")
	require.NoError(t, model.AutoMigrate(db), "SetupTestDB: AutoMigrate")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// SetupTestCache creates LocalCache and LocalPubSub (no Redis required).
func SetupTestCache(t *testing.T) (cache.Cache, cache.PubSub) {
	t.Helper()
	cfg := cache.CacheConfig{} // empty RedisAddr → LocalCache
	c, err := cache.NewCache(cfg)
	require.NoError(t, err, "SetupTestCache: NewCache")
	ps, err := cache.NewPubSub(cfg)
	require.NoError(t, err, "SetupTestCache: NewPubSub")
	return c, ps
}

// CreateCharacter inserts an account and a character with the given profession and level.
func CreateCharacter(t *testing.T, db *gorm.DB, name, profession string, level int) *model.Character {
	t.Helper()
	acc := &model.Account{Username: name + "_acc", PasswordHash: "x", Status: 1}
	require.NoError(t, db.Create(acc).Error)
	ch := &model.Character{AccountID: acc.ID, Name: name, Profession: profession, Level: level, BagSlots: 27}
	require.NoError(t, db.Create(ch).Error)
	return ch
}
