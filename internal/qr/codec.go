// Package qr implements the QR payment-instruction codec: a versioned
// JSON payload on the encode side, and a layered decoder that copes with
// the many shapes real-world QR producers actually emit.
package qr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/offpaylabs/offpay/internal/model"
	"github.com/offpaylabs/offpay/internal/signer"
)

// Version is the current payload format version.
const Version = 1

// ErrMalformedPayload means no decode strategy produced a usable request.
var ErrMalformedPayload = errors.New("malformed payment payload")

// PaymentRequest is the merchant-side encode input.
type PaymentRequest struct {
	MerchantID  string
	Amount      model.Amount
	InvoiceID   string
	Note        string
	LockAmount  bool
	OfflineMode bool
}

// Payload is the QR wire shape. Top-level fields duplicate data.* for
// consumers that only read the convenience view.
type Payload struct {
	Ver        int          `json:"ver"`
	MerchantID string       `json:"merchant_id"`
	Amount     model.Amount `json:"amount"`
	InvoiceID  string       `json:"invoice_id"`
	Timestamp  int64        `json:"timestamp"`
	Data       Data         `json:"data"`
	Security   Security     `json:"security"`
}

type Data struct {
	Amount     model.Amount `json:"amount"`
	Currency   string       `json:"currency"`
	InvoiceRef string       `json:"invoice_ref"`
	Note       string       `json:"note,omitempty"`
}

type Security struct {
	OfflineMode bool   `json:"offline_mode"`
	Hash        string `json:"hash"`
	LockAmt     bool   `json:"lock_amt"`
}

// String serializes the payload for embedding in a QR symbol.
func (p *Payload) String() string {
	b, _ := json.Marshal(p)
	return string(b)
}

// ScanResult is the structured outcome of decoding scanned text.
type ScanResult struct {
	MerchantID string
	Amount     model.Amount
	InvoiceID  string
	Note       string
}

// Codec encodes and decodes QR payment payloads.
type Codec struct {
	currency string
	sig      signer.Provider
}

// NewCodec builds a codec. The signer provider fills the payload integrity
// hash; a simulated provider leaves the gap visible rather than hidden.
func NewCodec(currency string, sig signer.Provider) *Codec {
	if currency == "" {
		currency = "INR"
	}
	if sig == nil {
		sig = signer.Simulated{}
	}
	return &Codec{currency: currency, sig: sig}
}

// Encode turns a payment intent into the versioned QR payload.
// An empty invoice id is synthesized as INV-<unix_millis>.
func (c *Codec) Encode(req PaymentRequest) (*Payload, error) {
	if req.MerchantID == "" {
		return nil, fmt.Errorf("%w: empty merchant_id", ErrMalformedPayload)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: non-positive amount", ErrMalformedPayload)
	}
	now := time.Now()
	invoice := req.InvoiceID
	if invoice == "" {
		invoice = fmt.Sprintf("INV-%d", now.UnixMilli())
	}
	p := &Payload{
		Ver:        Version,
		MerchantID: req.MerchantID,
		Amount:     req.Amount,
		InvoiceID:  invoice,
		Timestamp:  now.Unix(),
		Data: Data{
			Amount:     req.Amount,
			Currency:   c.currency,
			InvoiceRef: invoice,
			Note:       req.Note,
		},
		Security: Security{
			OfflineMode: req.OfflineMode,
			LockAmt:     req.LockAmount,
		},
	}
	canonical := strings.Join([]string{
		p.MerchantID, p.Amount.String(), p.InvoiceID, fmt.Sprintf("%d", p.Timestamp),
	}, ":")
	p.Security.Hash = c.sig.Sign(canonical)
	return p, nil
}

// wirePayload tolerates partial shapes: some producers only emit the
// top-level view, some only the nested data block.
type wirePayload struct {
	MerchantID string        `json:"merchant_id"`
	Amount     *model.Amount `json:"amount"`
	InvoiceID  string        `json:"invoice_id"`
	Data       *struct {
		Amount     *model.Amount `json:"amount"`
		InvoiceRef string        `json:"invoice_ref"`
		Note       string        `json:"note"`
	} `json:"data"`
}

// Decode normalizes arbitrary scanned text into a payment request.
// Strategies are tried in order: raw JSON, URL-encoded JSON, a URL whose
// query carries the JSON, then key=value fragment extraction. The first
// result with a merchant id and a positive amount wins.
func (c *Codec) Decode(scanned string) (*ScanResult, error) {
	s := strings.TrimSpace(scanned)
	if s == "" {
		return nil, ErrMalformedPayload
	}

	if res := decodeJSON(s); res != nil {
		return res, nil
	}
	if unescaped, err := url.QueryUnescape(s); err == nil && unescaped != s {
		if res := decodeJSON(unescaped); res != nil {
			return res, nil
		}
	}
	if res := decodeURL(s); res != nil {
		return res, nil
	}
	if res := decodeFragments(s); res != nil {
		return res, nil
	}
	return nil, ErrMalformedPayload
}

func decodeJSON(s string) *ScanResult {
	if !strings.HasPrefix(s, "{") {
		return nil
	}
	var w wirePayload
	if err := json.Unmarshal([]byte(s), &w); err != nil {
		return nil
	}
	res := &ScanResult{MerchantID: w.MerchantID, InvoiceID: w.InvoiceID}
	if w.Amount != nil {
		res.Amount = *w.Amount
	}
	if w.Data != nil {
		if res.Amount == 0 && w.Data.Amount != nil {
			res.Amount = *w.Data.Amount
		}
		if res.InvoiceID == "" {
			res.InvoiceID = w.Data.InvoiceRef
		}
		res.Note = w.Data.Note
	}
	if res.MerchantID == "" || res.Amount <= 0 {
		return nil
	}
	return res
}

func decodeURL(s string) *ScanResult {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return nil
	}
	q := u.Query()
	for _, key := range []string{"payload", "data", "qr"} {
		if v := q.Get(key); v != "" {
			if res := decodeJSON(v); res != nil {
				return res
			}
		}
	}
	return nil
}

var (
	merchantRe = regexp.MustCompile(`merchant_id[=:]\s*"?([A-Za-z0-9_.-]+)"?`)
	amountRe   = regexp.MustCompile(`amount[=:]\s*"?([0-9]+(?:\.[0-9]{1,2})?)"?`)
	invoiceRe  = regexp.MustCompile(`invoice_id[=:]\s*"?([A-Za-z0-9_.-]+)"?`)
)

func decodeFragments(s string) *ScanResult {
	mm := merchantRe.FindStringSubmatch(s)
	am := amountRe.FindStringSubmatch(s)
	if mm == nil || am == nil {
		return nil
	}
	amt, err := model.AmountFromString(am[1])
	if err != nil || amt <= 0 {
		return nil
	}
	res := &ScanResult{MerchantID: mm[1], Amount: amt}
	if im := invoiceRe.FindStringSubmatch(s); im != nil {
		res.InvoiceID = im[1]
	}
	return res
}
