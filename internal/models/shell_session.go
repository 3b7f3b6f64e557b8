package models

import "time"

// ShellSession records one remote shell session driven by Shellyard.
type ShellSession struct {
	ID        string `gorm:"primaryKey;size:64"`
	HostName  string `gorm:"size:64;index"` // name from config hosts, or "adhoc"
	Address   string `gorm:"size:256"`      // host:port
	User      string `gorm:"size:64"`
	Status    string `gorm:"size:16;default:connected;index"` // connected, closed
	CreatedAt time.Time
	ClosedAt  *time.Time

	Entries []TranscriptEntry `gorm:"foreignKey:SessionID"`
}
