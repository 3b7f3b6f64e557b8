package models

import "time"

// Persona is a named system-prompt fragment the operator can switch to.
type Persona struct {
	ID        string `gorm:"primaryKey;size:64"`
	Title     string `gorm:"size:128;not null"`
	Content   string `gorm:"type:text;not null"`
	Builtin   bool   `gorm:"default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
