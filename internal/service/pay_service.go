// Package service orchestrates the scan-to-pay flow: decode, validate,
// debit, sign, gossip, and either immediate sync or deferred pending state.
package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/offpaylabs/offpay/internal/gossip"
	"github.com/offpaylabs/offpay/internal/ledger"
	"github.com/offpaylabs/offpay/internal/model"
	"github.com/offpaylabs/offpay/internal/qr"
	"github.com/offpaylabs/offpay/internal/signer"
	"github.com/offpaylabs/offpay/internal/syncer"
)

var (
	// ErrNoMerchant means the scanned payload had no merchant identity.
	ErrNoMerchant = errors.New("missing merchant id")
	// ErrInvalidAmount means the amount was absent, zero or negative.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// State is the terminal state of one pay invocation.
type State string

const (
	// StateSettled: debited, uploaded, verdict merged back.
	StateSettled State = "settled"
	// StatePending: debited and durable, waiting for a later sync pass.
	StatePending State = "pending"
)

// Result is what a UI layer renders after a payment.
type Result struct {
	State        State
	Transaction  *model.Transaction
	PeersReached int
	Message      string
}

// PayService wires the codec, ledger, signer, broadcaster and reconciler
// into the payment state machine.
type PayService struct {
	store       *ledger.Store
	codec       *qr.Codec
	sig         signer.Provider
	broadcaster *gossip.Broadcaster
	reconciler  *syncer.Reconciler
	senderID    string
	log         *zap.SugaredLogger
}

// NewPayService returns the orchestrator.
func NewPayService(store *ledger.Store, codec *qr.Codec, sig signer.Provider,
	b *gossip.Broadcaster, r *syncer.Reconciler, senderID string, log *zap.SugaredLogger) *PayService {
	return &PayService{
		store:       store,
		codec:       codec,
		sig:         sig,
		broadcaster: b,
		reconciler:  r,
		senderID:    senderID,
		log:         log,
	}
}

// ScanAndPay runs the full flow for one scanned QR. The debit is a local,
// durable commitment made before any network call; a failed online sync
// afterwards is still a successful payment from the payer's perspective.
func (s *PayService) ScanAndPay(ctx context.Context, scanned string) (*Result, error) {
	// Idle -> Scanned
	req, err := s.codec.Decode(scanned)
	if err != nil {
		return nil, err
	}

	// Scanned -> Validated
	if req.MerchantID == "" {
		return nil, ErrNoMerchant
	}
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	bal, err := s.store.Balance(ctx)
	if err != nil {
		return nil, err
	}
	if req.Amount > bal {
		return nil, fmt.Errorf("%w: need %s, have %s",
			ledger.ErrInsufficientFunds, req.Amount, bal)
	}

	// Validated -> Debited. Signature is attached while the record is
	// assembled so the stored row never changes afterwards; the versioned
	// delta keeps two overlapping scans from spending the same balance.
	txn := model.NewTransaction(s.senderID, req.MerchantID, req.Amount, req.InvoiceID, req.Note)
	txn.Signature = signer.ForTransaction(s.sig, txn)
	if err := s.store.ApplyDelta(ctx, -req.Amount, txn); err != nil {
		return nil, err
	}
	s.log.Infow("debit recorded",
		"transaction_id", txn.TransactionID, "merchant_id", txn.MerchantID,
		"amount", txn.Amount.String())

	// Gossip fires once after the debit on both branches; its outcome
	// never gates the state transition.
	peers := s.broadcaster.Announce(ctx, txn)
	if peers > 0 {
		patch := ledger.Patch{PropagatedToPeers: &peers}
		if err := s.store.UpdateTransaction(ctx, txn.TransactionID, patch); err != nil {
			s.log.Errorw("propagation count not persisted",
				"transaction_id", txn.TransactionID, "err", err)
		} else {
			txn.PropagatedToPeers = peers
		}
	}

	offline, err := s.store.OfflineMode(ctx)
	if err != nil {
		return nil, err
	}
	if offline {
		// Debited -> Pending
		return &Result{
			State:        StatePending,
			Transaction:  txn,
			PeersReached: peers,
			Message:      "payment stored locally; it will sync when you are back online",
		}, nil
	}

	// Debited -> Submitting -> Settled
	if _, err := s.reconciler.Sync(ctx, []model.Transaction{*txn}); err != nil {
		s.log.Warnw("immediate sync failed, payment stays pending",
			"transaction_id", txn.TransactionID, "err", err)
		return &Result{
			State:        StatePending,
			Transaction:  txn,
			PeersReached: peers,
			Message:      "payment saved locally; sync failed and will be retried: " + err.Error(),
		}, nil
	}
	settled, err := s.store.GetTransaction(ctx, txn.TransactionID)
	if err != nil {
		return nil, err
	}
	if settled == nil {
		settled = txn
	}
	return &Result{
		State:        StateSettled,
		Transaction:  settled,
		PeersReached: peers,
		Message:      "payment settled as " + settled.Classification,
	}, nil
}

// SyncPending runs an explicit reconciliation pass over every unsynced
// ledger entry. An already-reconciled ledger yields an empty result set,
// not an error.
func (s *PayService) SyncPending(ctx context.Context) ([]model.SyncResult, error) {
	results, err := s.reconciler.SyncPending(ctx)
	if errors.Is(err, syncer.ErrNothingPending) {
		return nil, nil
	}
	return results, err
}

// RequestPayment builds the merchant-side QR payload for an amount due.
func (s *PayService) RequestPayment(ctx context.Context, amt model.Amount, invoiceID, note string, lock bool) (*qr.Payload, error) {
	offline, err := s.store.OfflineMode(ctx)
	if err != nil {
		return nil, err
	}
	return s.codec.Encode(qr.PaymentRequest{
		MerchantID:  s.senderID,
		Amount:      amt,
		InvoiceID:   invoiceID,
		Note:        note,
		LockAmount:  lock,
		OfflineMode: offline,
	})
}

// SeedBalance installs the authoritative starting balance from the remote
// profile at login.
func (s *PayService) SeedBalance(ctx context.Context, amt model.Amount) error {
	return s.store.SetBalance(ctx, amt)
}
