// Package gossip announces transactions to the mesh relay before they reach
// the central ledger. It is a propagation hint, not a correctness
// requirement: every failure collapses to a zero-peer result.
package gossip

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/offpaylabs/offpay/internal/model"
)

// Broadcaster performs the best-effort announce call.
type Broadcaster struct {
	relayAddr string
	peerID    string
	client    *http.Client
	log       *zap.SugaredLogger
}

// NewBroadcaster builds a broadcaster with a bounded timeout.
func NewBroadcaster(relayAddr, peerID string, timeout time.Duration, log *zap.SugaredLogger) *Broadcaster {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Broadcaster{
		relayAddr: relayAddr,
		peerID:    peerID,
		client:    &http.Client{Timeout: timeout},
		log:       log,
	}
}

// Announce broadcasts a transaction and returns how many peers it reached.
// It never returns an error: network failure, a bad response or a timeout
// all report zero peers, and the payment it describes proceeds regardless.
func (b *Broadcaster) Announce(ctx context.Context, txn *model.Transaction) int {
	if b.relayAddr == "" {
		return 0
	}
	msg := model.GossipMessage{
		MessageID:     "msg_" + uuid.NewString(),
		TransactionID: txn.TransactionID,
		SourcePeerID:  b.peerID,
		Hops:          0,
		Payload: map[string]interface{}{
			"transaction_id": txn.TransactionID,
			"sender_id":      txn.SenderID,
			"receiver_id":    txn.ReceiverID,
			"amount":         txn.Amount.Decimal(),
			"timestamp":      txn.Timestamp,
			"token_id":       txn.TokenID,
		},
	}
	body, err := json.Marshal(msg)
	if err != nil {
		b.log.Warnw("gossip encode failed", "err", err)
		return 0
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.relayAddr+"/v1/gossip", bytes.NewReader(body))
	if err != nil {
		b.log.Warnw("gossip request build failed", "err", err)
		return 0
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := b.client.Do(req)
	if err != nil {
		b.log.Warnw("gossip announce failed", "transaction_id", txn.TransactionID, "err", err)
		return 0
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		b.log.Warnw("gossip relay refused", "status", httpResp.StatusCode)
		return 0
	}
	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<16))
	if err != nil {
		return 0
	}
	var resp model.GossipResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		b.log.Warnw("gossip response malformed", "err", err)
		return 0
	}
	return resp.PeerCount()
}
