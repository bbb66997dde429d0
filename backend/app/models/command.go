package models

import "time"

// CommandRecord is the durable mirror of a ledger entry. The in-memory
// ledger stays authoritative while the command is live; the record is what
// the command-log endpoint and post-restart inspection read.
type CommandRecord struct {
	ID          uint   `gorm:"primaryKey"`
	CommandID   string `gorm:"uniqueIndex;size:64;not null"`
	DeviceID    string `gorm:"index;size:191"`
	Type        string `gorm:"size:64"`
	Params      string `gorm:"type:longtext"`
	Status      string `gorm:"size:32;index"`
	Result      string `gorm:"type:longtext"`
	LastError   string `gorm:"size:512"`
	IssuedBy    string `gorm:"size:191"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// CommandEventRecord is one persisted progress line, ordered by Seq within
// a command.
type CommandEventRecord struct {
	ID        uint   `gorm:"primaryKey"`
	CommandID string `gorm:"index;size:64;not null"`
	Seq       int
	Level     string `gorm:"size:16"`
	Message   string `gorm:"size:1024"`
	At        time.Time
}
