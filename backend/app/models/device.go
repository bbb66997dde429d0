package models

import "time"

// Device is the durable record of every device that ever logged in. Live
// connection state belongs to the session registry, not here.
type Device struct {
	ID         uint   `gorm:"primaryKey"`
	DeviceID   string `gorm:"uniqueIndex;size:191;not null"`
	Hostname   string `gorm:"size:255"`
	Username   string `gorm:"size:255"`
	OSName     string `gorm:"size:128"`
	OSVersion  string `gorm:"size:128"`
	Arch       string `gorm:"size:64"`
	LastSeenAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
