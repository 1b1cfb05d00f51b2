package gossip

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/offpaylabs/offpay/internal/logger"
	"github.com/offpaylabs/offpay/internal/model"
)

func sampleTx() *model.Transaction {
	return model.NewTransaction("user_1", "merchant_001", 250000, "INV-1", "")
}

func TestAnnounce_ReportsPeers(t *testing.T) {
	var got model.GossipMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/gossip", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"propagated_to_peers":4}`))
	}))
	defer srv.Close()

	b := NewBroadcaster(srv.URL, "peer_a", time.Second, logger.NewNop())
	txn := sampleTx()
	assert.Equal(t, 4, b.Announce(context.Background(), txn))
	assert.Equal(t, txn.TransactionID, got.TransactionID)
	assert.Equal(t, "peer_a", got.SourcePeerID)
	assert.NotEmpty(t, got.MessageID)
}

func TestAnnounce_AcceptsPeersReachedField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"peers_reached":2}`))
	}))
	defer srv.Close()

	b := NewBroadcaster(srv.URL, "peer_a", time.Second, logger.NewNop())
	assert.Equal(t, 2, b.Announce(context.Background(), sampleTx()))
}

func TestAnnounce_AbsentFieldsMeanZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	b := NewBroadcaster(srv.URL, "peer_a", time.Second, logger.NewNop())
	assert.Equal(t, 0, b.Announce(context.Background(), sampleTx()))
}

// Gossip is an optimization: every failure mode reports zero peers and
// never an error.
func TestAnnounce_FailuresCollapseToZero(t *testing.T) {
	erroring := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer erroring.Close()
	garbled := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer garbled.Close()

	log := logger.NewNop()
	assert.Equal(t, 0, NewBroadcaster(erroring.URL, "p", time.Second, log).Announce(context.Background(), sampleTx()))
	assert.Equal(t, 0, NewBroadcaster(garbled.URL, "p", time.Second, log).Announce(context.Background(), sampleTx()))
	assert.Equal(t, 0, NewBroadcaster("http://127.0.0.1:1", "p", time.Second, log).Announce(context.Background(), sampleTx()))
	assert.Equal(t, 0, NewBroadcaster("", "p", time.Second, log).Announce(context.Background(), sampleTx()))
}

func TestAnnounce_Timeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(`{"propagated_to_peers":9}`))
	}))
	defer slow.Close()

	b := NewBroadcaster(slow.URL, "p", 50*time.Millisecond, logger.NewNop())
	assert.Equal(t, 0, b.Announce(context.Background(), sampleTx()))
}
