package model

import "time"

// SettledTransaction is the authority-side record of an accepted upload.
// The unique indexes on TransactionID and TokenID are what makes batch
// resubmission safe: a replayed transaction maps onto its stored verdict.
type SettledTransaction struct {
	ID             uint64    `gorm:"primaryKey"`
	TransactionID  string    `gorm:"size:64;uniqueIndex;not null"`
	TokenID        string    `gorm:"size:64;uniqueIndex;not null"`
	SenderID       string    `gorm:"size:64;not null"`
	ReceiverID     string    `gorm:"size:64;not null"`
	Amount         Amount    `gorm:"not null"`
	InvoiceID      string    `gorm:"size:64"`
	Timestamp      string    `gorm:"size:40;not null"`
	Signature      string    `gorm:"size:128"`
	RiskScore      float64   `gorm:"not null"`
	Classification string    `gorm:"size:32;not null"`
	ReceivedAt     time.Time `gorm:"autoCreateTime"`
}

func (SettledTransaction) TableName() string { return "settled_transaction" }
