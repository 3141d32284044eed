package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog records board actions taken by players and operators.
type AuditLog struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID    string         `gorm:"index:idx_audit_trace;size:36;not null" json:"trace_id"`
	CharID     *int64         `gorm:"index:idx_audit_char" json:"char_id"`
	BoardID    string         `gorm:"index:idx_audit_board;size:36" json:"board_id"`
	Action     string         `gorm:"size:64;not null" json:"action"`
	Request    datatypes.JSON `json:"request"`
	Outcome    string         `gorm:"size:32" json:"outcome"`
	Error      string         `gorm:"type:text" json:"error"`
	DurationMs int            `json:"duration_ms"`
	CreatedAt  time.Time      `gorm:"index:idx_audit_created;autoCreateTime:milli" json:"created_at"`
}
