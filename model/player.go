package model

import "time"

// Account is a login identity. One account may own several characters.
type Account struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string     `gorm:"uniqueIndex;size:32;not null" json:"username"`
	PasswordHash string     `gorm:"size:64;not null" json:"-"`
	Status       int        `gorm:"default:1" json:"status"` // 0=banned 1=normal
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at"`
}

// Character is a player's in-world persona: the unit that accepts bounties.
type Character struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID  int64     `gorm:"index:idx_account;not null" json:"account_id"`
	Name       string    `gorm:"uniqueIndex;size:32;not null" json:"name"`
	Profession string    `gorm:"size:16;not null;default:any" json:"profession"`
	Level      int       `gorm:"default:1" json:"level"`
	Exp        int64     `gorm:"default:0" json:"exp"`
	BagSlots   int       `gorm:"default:27" json:"bag_slots"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
