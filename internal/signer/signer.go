package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/offpaylabs/offpay/internal/model"
)

// Provider produces a signature over a canonical payload string. Signing is
// never allowed to block a payment: implementations must not fail, and the
// package-level helpers degrade to the simulated form on any problem.
type Provider interface {
	Sign(payload string) string
	Label() string
}

// Simulated stands in when no device key has been provisioned. The marker
// prefix keeps the gap visible to the authority instead of hiding it.
type Simulated struct{}

func (Simulated) Sign(string) string {
	return fmt.Sprintf("simulated_sig_%d", time.Now().Unix())
}

func (Simulated) Label() string { return "simulated" }

// HMAC signs with SHA-256 over the payload using the device key.
type HMAC struct {
	key []byte
}

// NewHMAC returns an HMAC provider, or nil if the key is empty.
func NewHMAC(key string) *HMAC {
	if key == "" {
		return nil
	}
	return &HMAC{key: []byte(key)}
}

func (h *HMAC) Sign(payload string) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (h *HMAC) Label() string { return "hmac-sha256" }

// FromKey picks the real provider when a key exists, simulated otherwise.
func FromKey(key string) Provider {
	if p := NewHMAC(key); p != nil {
		return p
	}
	return Simulated{}
}

// CanonicalPayload joins the identity-bearing transaction fields in a fixed
// order. Both sides of the rail must agree on this exact layout.
func CanonicalPayload(tx *model.Transaction) string {
	return strings.Join([]string{
		tx.TransactionID,
		tx.SenderID,
		tx.ReceiverID,
		tx.Amount.String(),
		tx.Timestamp,
	}, ":")
}

// ForTransaction signs a transaction's canonical payload. A nil provider or
// a panicking implementation falls back to the simulated signature so the
// offline payment path is never blocked.
func ForTransaction(p Provider, tx *model.Transaction) (sig string) {
	defer func() {
		if r := recover(); r != nil {
			sig = Simulated{}.Sign("")
		}
	}()
	if p == nil {
		p = Simulated{}
	}
	return p.Sign(CanonicalPayload(tx))
}
