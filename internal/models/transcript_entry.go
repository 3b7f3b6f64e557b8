package models

import "time"

// TranscriptEntry stores one chat message of a session's transcript.
type TranscriptEntry struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	SessionID  string `gorm:"size:64;not null;index:idx_session_seq"`
	Sequence   int    `gorm:"not null;index:idx_session_seq"`
	Role       string `gorm:"size:16;not null"` // "user", "assistant", "system"
	Content    string `gorm:"type:mediumtext;not null"`
	Hidden     bool   `gorm:"default:false"`
	Generation uint64
	CreatedAt  time.Time
}
