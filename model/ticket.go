package model

import "time"

// QuestTicket persists one player's claim on one board offer.
// The quest definition is denormalized onto the row so a ticket outlives catalog reloads.
type QuestTicket struct {
	ID             string     `gorm:"primaryKey;size:36" json:"id"`
	CharID         int64      `gorm:"index:idx_ticket_char;not null" json:"char_id"`
	BoardID        string     `gorm:"index:idx_ticket_board;size:36;not null" json:"board_id"`
	OfferID        string     `gorm:"size:36;not null" json:"offer_id"`
	Profession     string     `gorm:"size:16;not null" json:"profession"`
	Tier           int        `gorm:"not null" json:"tier"`
	RequiredItem   string     `gorm:"size:64;not null" json:"required_item"`
	RequiredAmount int        `gorm:"not null" json:"required_amount"`
	State          string     `gorm:"size:16;index:idx_ticket_state;not null" json:"state"`
	Deposited      int        `gorm:"default:0" json:"deposited"`
	FailReason     string     `gorm:"size:32" json:"fail_reason,omitempty"`
	AcceptedAt     time.Time  `json:"accepted_at"`
	ExpiresAt      *time.Time `json:"expires_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
