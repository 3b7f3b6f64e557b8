package models

import "time"

// OutputLog captures raw terminal output for a session, flushed in batches.
type OutputLog struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"size:64;index"`
	Content   string `gorm:"type:mediumtext"`
	Bytes     int
	CreatedAt time.Time
}
