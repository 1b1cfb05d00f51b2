package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/offpaylabs/offpay/internal/gossip"
	"github.com/offpaylabs/offpay/internal/ledger"
	"github.com/offpaylabs/offpay/internal/logger"
	"github.com/offpaylabs/offpay/internal/model"
	"github.com/offpaylabs/offpay/internal/qr"
	"github.com/offpaylabs/offpay/internal/signer"
	"github.com/offpaylabs/offpay/internal/syncer"
)

type testEnv struct {
	svc       *PayService
	store     *ledger.Store
	authority *httptest.Server
	relay     *httptest.Server
	syncCalls int
}

// newTestEnv wires a full client against stub authority and relay servers.
func newTestEnv(t *testing.T) (*testEnv, context.Context) {
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	assert.NoError(t, err)
	store, err := ledger.NewStore(db, logger.NewNop())
	assert.NoError(t, err)

	env := &testEnv{store: store}
	env.authority = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.syncCalls++
		var batch []model.Transaction
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&batch))
		resp := model.SyncResponse{}
		for _, txn := range batch {
			resp.Results = append(resp.Results, model.SyncResult{
				TransactionID:  txn.TransactionID,
				RiskScore:      0.08,
				Classification: model.ClassValid,
			})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(env.authority.Close)

	env.relay = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"propagated_to_peers":3}`))
	}))
	t.Cleanup(env.relay.Close)

	log := logger.NewNop()
	sig := signer.FromKey("test-device-key")
	codec := qr.NewCodec("INR", sig)
	broadcaster := gossip.NewBroadcaster(env.relay.URL, "peer_test", time.Second, log)
	reconciler := syncer.NewReconciler(store, syncer.StaticResolver(env.authority.URL), time.Second, log)
	env.svc = NewPayService(store, codec, sig, broadcaster, reconciler, "user_1", log)

	return env, context.Background()
}

const scanOnline = `{"merchant_id":"merchant_001","amount":2500,"invoice_id":"INV-1"}`

// Scenario: online scan-to-pay settles immediately with a classification.
func TestScanAndPay_OnlineSettles(t *testing.T) {
	env, ctx := newTestEnv(t)
	assert.NoError(t, env.svc.SeedBalance(ctx, 1000000)) // 10000.00

	res, err := env.svc.ScanAndPay(ctx, scanOnline)
	assert.NoError(t, err)
	assert.Equal(t, StateSettled, res.State)
	assert.Equal(t, 3, res.PeersReached)
	assert.True(t, res.Transaction.Synced)
	assert.Equal(t, model.ClassValid, res.Transaction.Classification)
	assert.Equal(t, 3, res.Transaction.PropagatedToPeers)

	bal, _ := env.store.Balance(ctx)
	assert.Equal(t, model.Amount(750000), bal) // 7500.00

	txs, _ := env.store.Transactions(ctx)
	assert.Len(t, txs, 1)
	assert.Equal(t, "user_1", txs[0].SenderID)
	assert.Equal(t, "merchant_001", txs[0].ReceiverID)
	assert.Equal(t, "merchant_001", txs[0].MerchantID)
	assert.NotEqual(t, txs[0].TransactionID, txs[0].TokenID)
	assert.NotEmpty(t, txs[0].Signature)
}

// Scenario: the same scan in offline mode debits, appends and skips the
// network entirely.
func TestScanAndPay_OfflineStaysPending(t *testing.T) {
	env, ctx := newTestEnv(t)
	assert.NoError(t, env.svc.SeedBalance(ctx, 1000000))
	assert.NoError(t, env.store.SetOfflineMode(ctx, true))

	res, err := env.svc.ScanAndPay(ctx, scanOnline)
	assert.NoError(t, err)
	assert.Equal(t, StatePending, res.State)
	assert.False(t, res.Transaction.Synced)
	assert.Contains(t, res.Message, "stored locally")
	assert.Equal(t, 0, env.syncCalls)

	bal, _ := env.store.Balance(ctx)
	assert.Equal(t, model.Amount(750000), bal)
}

func TestScanAndPay_MalformedScanNoMutation(t *testing.T) {
	env, ctx := newTestEnv(t)
	assert.NoError(t, env.svc.SeedBalance(ctx, 1000))

	_, err := env.svc.ScanAndPay(ctx, "not a payment code")
	assert.ErrorIs(t, err, qr.ErrMalformedPayload)

	bal, _ := env.store.Balance(ctx)
	assert.Equal(t, model.Amount(1000), bal)
	txs, _ := env.store.Transactions(ctx)
	assert.Empty(t, txs)
}

func TestScanAndPay_BoundaryAmounts(t *testing.T) {
	env, ctx := newTestEnv(t)
	assert.NoError(t, env.svc.SeedBalance(ctx, 250000)) // 2500.00

	// one paisa over fails with no mutation
	_, err := env.svc.ScanAndPay(ctx, `{"merchant_id":"m1","amount":2500.01}`)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	txs, _ := env.store.Transactions(ctx)
	assert.Empty(t, txs)

	// exactly the balance succeeds, leaving zero
	res, err := env.svc.ScanAndPay(ctx, `{"merchant_id":"m1","amount":2500}`)
	assert.NoError(t, err)
	assert.Equal(t, StateSettled, res.State)
	bal, _ := env.store.Balance(ctx)
	assert.Equal(t, model.Amount(0), bal)
}

// A failed online sync is not a failed payment: the debit is durable and
// the transaction waits for the next pass.
func TestScanAndPay_SyncFailureLeavesPending(t *testing.T) {
	env, ctx := newTestEnv(t)
	assert.NoError(t, env.svc.SeedBalance(ctx, 1000000))
	env.authority.Close() // authority goes dark

	res, err := env.svc.ScanAndPay(ctx, scanOnline)
	assert.NoError(t, err)
	assert.Equal(t, StatePending, res.State)
	assert.Contains(t, res.Message, "saved locally")

	bal, _ := env.store.Balance(ctx)
	assert.Equal(t, model.Amount(750000), bal)
	pending, _ := env.store.PendingTransactions(ctx)
	assert.Len(t, pending, 1)
}

// Gossip failure must not block or fail the payment.
func TestScanAndPay_GossipFailureIgnored(t *testing.T) {
	env, ctx := newTestEnv(t)
	assert.NoError(t, env.svc.SeedBalance(ctx, 1000000))
	env.relay.Close()

	res, err := env.svc.ScanAndPay(ctx, scanOnline)
	assert.NoError(t, err)
	assert.Equal(t, StateSettled, res.State)
	assert.Equal(t, 0, res.PeersReached)
	assert.Equal(t, 0, res.Transaction.PropagatedToPeers)
}

func TestSyncPending_DrainsBacklog(t *testing.T) {
	env, ctx := newTestEnv(t)
	assert.NoError(t, env.svc.SeedBalance(ctx, 1000000))
	assert.NoError(t, env.store.SetOfflineMode(ctx, true))

	_, err := env.svc.ScanAndPay(ctx, `{"merchant_id":"m1","amount":100}`)
	assert.NoError(t, err)
	_, err = env.svc.ScanAndPay(ctx, `{"merchant_id":"m2","amount":200}`)
	assert.NoError(t, err)

	assert.NoError(t, env.store.SetOfflineMode(ctx, false))
	results, err := env.svc.SyncPending(ctx)
	assert.NoError(t, err)
	assert.Len(t, results, 2)

	pending, _ := env.store.PendingTransactions(ctx)
	assert.Empty(t, pending)
}

// A fully reconciled ledger is not an error condition; no upload happens.
func TestSyncPending_EmptyBacklogIsNoop(t *testing.T) {
	env, ctx := newTestEnv(t)

	results, err := env.svc.SyncPending(ctx)
	assert.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 0, env.syncCalls)
}

func TestRequestPayment_BuildsPayload(t *testing.T) {
	env, ctx := newTestEnv(t)
	assert.NoError(t, env.store.SetOfflineMode(ctx, true))

	p, err := env.svc.RequestPayment(ctx, 50000, "", "lunch", true)
	assert.NoError(t, err)
	assert.Equal(t, "user_1", p.MerchantID)
	assert.True(t, p.Security.OfflineMode)
	assert.True(t, p.Security.LockAmt)
	assert.NotEmpty(t, p.InvoiceID)
}
