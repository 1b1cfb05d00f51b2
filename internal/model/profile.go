package model

import "time"

// Profile holds the authoritative starting balance the client seeds its
// local ledger from at login.
type Profile struct {
	ID        uint64    `gorm:"primaryKey" json:"-"`
	UserID    string    `gorm:"size:64;uniqueIndex;not null" json:"user_id"`
	Balance   Amount    `gorm:"not null;default:0" json:"balance"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"-"`
}

func (Profile) TableName() string { return "user_profile" }
