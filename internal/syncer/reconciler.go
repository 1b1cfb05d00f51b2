// Package syncer implements the authoritative reconciliation path: upload
// the pending batch to the remote authority and merge its risk verdicts
// back into the local ledger.
package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/offpaylabs/offpay/internal/ledger"
	"github.com/offpaylabs/offpay/internal/model"
)

var (
	// ErrNetworkUnreachable means no candidate address responded at all.
	ErrNetworkUnreachable = errors.New("ledger authority unreachable")
	// ErrTimeout means the last failing candidate timed out. Same recovery
	// path as unreachable, distinguished for user messaging.
	ErrTimeout = errors.New("ledger authority timed out")
	// ErrNothingPending is returned by SyncPending when the ledger holds
	// no unsynced entries.
	ErrNothingPending = errors.New("no pending transactions")
)

// ServerRejectedError is terminal: the authority was reached and said no.
// The detail is surfaced to the user verbatim.
type ServerRejectedError struct {
	Status int
	Detail string
}

func (e *ServerRejectedError) Error() string {
	return fmt.Sprintf("server rejected sync (%d): %s", e.Status, e.Detail)
}

// Resolver returns the ordered candidate base addresses for the current
// environment (resolved LAN address, loopback, emulator-host alias,
// production). Injected so the same client runs everywhere unchanged.
type Resolver func() []string

// StaticResolver wraps a fixed address list.
func StaticResolver(addrs ...string) Resolver {
	return func() []string { return addrs }
}

// Reconciler uploads pending batches and merges verdicts back.
type Reconciler struct {
	store   *ledger.Store
	resolve Resolver
	client  *http.Client
	timeout time.Duration
	log     *zap.SugaredLogger
}

// NewReconciler builds a reconciler with a bounded per-attempt timeout.
func NewReconciler(store *ledger.Store, resolve Resolver, timeout time.Duration, log *zap.SugaredLogger) *Reconciler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Reconciler{
		store:   store,
		resolve: resolve,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		log:     log,
	}
}

// SyncPending uploads every unsynced ledger entry in insertion order.
func (r *Reconciler) SyncPending(ctx context.Context) ([]model.SyncResult, error) {
	pending, err := r.store.PendingTransactions(ctx)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, ErrNothingPending
	}
	return r.Sync(ctx, pending)
}

// Sync submits the batch in one call and applies the per-transaction
// verdicts. On any failure the batch is left untouched so the next pass
// retries the same set.
func (r *Reconciler) Sync(ctx context.Context, batch []model.Transaction) ([]model.SyncResult, error) {
	resp, err := r.submit(ctx, batch)
	if err != nil {
		return nil, err
	}
	for _, res := range resp.Results {
		synced := true
		score := res.RiskScore
		class := res.Classification
		patch := ledger.Patch{Synced: &synced, RiskScore: &score, Classification: &class}
		if err := r.store.UpdateTransaction(ctx, res.TransactionID, patch); err != nil {
			return nil, err
		}
	}
	r.log.Infow("sync complete", "uploaded", len(batch), "results", len(resp.Results))
	return resp.Results, nil
}

// submit walks the candidate list: unreachable or timed-out hosts are
// recoverable (try the next one); an HTTP error response is terminal.
func (r *Reconciler) submit(ctx context.Context, batch []model.Transaction) (*model.SyncResponse, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("encode sync batch: %w", err)
	}

	candidates := r.resolve()
	if len(candidates) == 0 {
		return nil, ErrNetworkUnreachable
	}

	timedOut := false
	for _, base := range candidates {
		resp, err := r.post(ctx, base+"/v1/sync", body)
		if err != nil {
			var rej *ServerRejectedError
			if errors.As(err, &rej) {
				// reached but refused: terminal, later candidates would
				// only re-ask the same authority
				return nil, rej
			}
			if isTimeout(err) {
				timedOut = true
			}
			r.log.Warnw("sync candidate failed", "addr", base, "err", err)
			continue
		}
		return resp, nil
	}
	if timedOut {
		return nil, ErrTimeout
	}
	return nil, ErrNetworkUnreachable
}

func (r *Reconciler) post(ctx context.Context, url string, body []byte) (*model.SyncResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &ServerRejectedError{Status: httpResp.StatusCode, Detail: serverDetail(raw)}
	}
	var resp model.SyncResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode sync response: %w", err)
	}
	return &resp, nil
}

func serverDetail(raw []byte) string {
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Detail != "" {
			return body.Detail
		}
	}
	if len(raw) > 200 {
		raw = raw[:200]
	}
	return string(raw)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
