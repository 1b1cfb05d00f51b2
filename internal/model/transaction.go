package model

import (
	"time"

	"github.com/google/uuid"
)

// Risk classifications assigned by the remote authority.
const (
	ClassValid          = "Valid"
	ClassHonestConflict = "Likely Honest Conflict"
	ClassSuspicious     = "Suspicious"
	ClassFraud          = "Likely Fraud"
)

// Transaction is the central ledger entity. It is append-only except for
// Synced, RiskScore, Classification and PropagatedToPeers, and those only
// move forward (Synced never reverts to false).
type Transaction struct {
	ID                uint64    `gorm:"primaryKey" json:"-"`
	TransactionID     string    `gorm:"size:64;uniqueIndex;not null" json:"transaction_id"`
	SenderID          string    `gorm:"size:64;not null" json:"sender_id"`
	ReceiverID        string    `gorm:"size:64;not null" json:"receiver_id"`
	MerchantID        string    `gorm:"size:64" json:"merchant_id,omitempty"`
	Amount            Amount    `gorm:"not null" json:"amount"`
	InvoiceID         string    `gorm:"size:64" json:"invoice_id,omitempty"`
	Note              string    `gorm:"size:256" json:"note,omitempty"`
	Timestamp         string    `gorm:"size:40;not null" json:"timestamp"`
	TokenID           string    `gorm:"size:64;uniqueIndex;not null" json:"token_id"`
	Signature         string    `gorm:"size:128" json:"signature"`
	PropagatedToPeers int       `gorm:"not null;default:0" json:"propagated_to_peers"`
	Synced            bool      `gorm:"not null;default:false" json:"synced"`
	RiskScore         *float64  `json:"risk_score,omitempty"`
	Classification    string    `gorm:"size:32" json:"classification,omitempty"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"-"`
}

func (Transaction) TableName() string { return "ledger_transaction" }

// NewTransaction builds an unsynced transaction at creation time.
// TransactionID and TokenID are distinct: the token is the anti-replay key
// the payment rail sees, independent of the ledger identity.
func NewTransaction(senderID, receiverID string, amt Amount, invoiceID, note string) *Transaction {
	return &Transaction{
		TransactionID: "txn_" + uuid.NewString(),
		SenderID:      senderID,
		ReceiverID:    receiverID,
		MerchantID:    receiverID,
		Amount:        amt,
		InvoiceID:     invoiceID,
		Note:          note,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		TokenID:       "tok_" + uuid.NewString(),
	}
}
