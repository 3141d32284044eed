package model

import "time"

// BoardPlacement records where a board stands. The location is unique so placing
// twice at the same spot resolves to the same board.
type BoardPlacement struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	World     string    `gorm:"uniqueIndex:idx_board_loc;size:64;not null" json:"world"`
	X         int       `gorm:"uniqueIndex:idx_board_loc;not null" json:"x"`
	Y         int       `gorm:"uniqueIndex:idx_board_loc;not null" json:"y"`
	Z         int       `gorm:"uniqueIndex:idx_board_loc;not null" json:"z"`
	Variant   string    `gorm:"size:16;not null" json:"variant"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// PendingReward is an experience grant that failed and awaits retry.
type PendingReward struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CharID    int64     `gorm:"index:idx_reward_char;not null" json:"char_id"`
	TicketID  string    `gorm:"uniqueIndex;size:36;not null" json:"ticket_id"`
	Amount    int       `gorm:"not null" json:"amount"`
	Attempts  int       `gorm:"default:0" json:"attempts"`
	LastError string    `gorm:"type:text" json:"last_error"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
