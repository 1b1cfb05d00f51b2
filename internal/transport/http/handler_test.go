package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redismock/v8"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/offpaylabs/offpay/internal/config"
	"github.com/offpaylabs/offpay/internal/logger"
	"github.com/offpaylabs/offpay/internal/model"
	"github.com/offpaylabs/offpay/internal/repo"
	"github.com/offpaylabs/offpay/internal/risk"
)

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB, redismock.ClientMock) {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&model.SettledTransaction{}, &model.OutboxEvent{}, &model.Profile{}))

	rdb, mock := redismock.NewClientMock()
	log := logger.NewNop()
	repository := repo.NewRepository(db, rdb, &kafka.Writer{}, &kafka.Writer{}, log)
	handler := NewHandler(repository, risk.NewScorer(), log)
	router := NewRouter(handler, config.RateLimitConfig{RPS: 100, Burst: 100}, log)
	return router, db, mock
}

func postJSON(router *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "10.0.0.1:4321"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func sampleBatch() []model.Transaction {
	return []model.Transaction{
		*model.NewTransaction("user_1", "merchant_001", 250000, "INV-1", ""),
		*model.NewTransaction("user_1", "merchant_002", 90000, "INV-2", ""),
	}
}

func TestSyncBatch_SettlesAndClassifies(t *testing.T) {
	router, db, _ := newTestRouter(t)
	batch := sampleBatch()

	w := postJSON(router, "/v1/sync", batch)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp model.SyncResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Results, 2)
	for i, res := range resp.Results {
		assert.Equal(t, batch[i].TransactionID, res.TransactionID)
		assert.NotEmpty(t, res.Classification)
		assert.GreaterOrEqual(t, res.RiskScore, 0.0)
		assert.LessOrEqual(t, res.RiskScore, 1.0)
	}

	var settled int64
	db.Model(&model.SettledTransaction{}).Count(&settled)
	assert.EqualValues(t, 2, settled)
	var events int64
	db.Model(&model.OutboxEvent{}).Count(&events)
	assert.EqualValues(t, 2, events)
}

// Resubmitting a settled batch returns the stored verdicts without
// creating duplicates.
func TestSyncBatch_ResubmissionIdempotent(t *testing.T) {
	router, db, _ := newTestRouter(t)
	batch := sampleBatch()

	first := postJSON(router, "/v1/sync", batch)
	assert.Equal(t, http.StatusOK, first.Code)
	second := postJSON(router, "/v1/sync", batch)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	var settled int64
	db.Model(&model.SettledTransaction{}).Count(&settled)
	assert.EqualValues(t, 2, settled)
}

// A settlement write that fails after the token claim must release the
// claim, or the client's retry would be misread as a replay.
func TestSyncBatch_SettlementFailureReleasesToken(t *testing.T) {
	router, db, mock := newTestRouter(t)
	batch := sampleBatch()[:1]

	// occupy the token's unique index so the settlement insert fails
	assert.NoError(t, db.Create(&model.SettledTransaction{
		TransactionID:  "txn_other",
		TokenID:        batch[0].TokenID,
		SenderID:       "u9",
		ReceiverID:     "m9",
		Amount:         100,
		Classification: model.ClassValid,
	}).Error)

	mock.ExpectSetNX("token:"+batch[0].TokenID, 1, 72*time.Hour).SetVal(true)
	mock.ExpectDel("token:" + batch[0].TokenID).SetVal(1)

	w := postJSON(router, "/v1/sync", batch)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncBatch_Validation(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := postJSON(router, "/v1/sync", []model.Transaction{})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	bad := sampleBatch()
	bad[0].TransactionID = ""
	w = postJSON(router, "/v1/sync", bad)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	neg := sampleBatch()
	neg[1].Amount = -100
	w = postJSON(router, "/v1/sync", neg)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestRelayGossip_CountsOtherPeers(t *testing.T) {
	router, db, mock := newTestRouter(t)
	mock.ExpectSAdd("gossip:peers", "peer_a").SetVal(1)
	mock.ExpectExpire("gossip:peers", 10*time.Minute).SetVal(true)
	mock.ExpectSMembers("gossip:peers").SetVal([]string{"peer_a", "peer_b", "peer_c"})

	msg := model.GossipMessage{
		MessageID:     "msg_1",
		TransactionID: "txn_1",
		SourcePeerID:  "peer_a",
		Hops:          0,
		Payload:       map[string]interface{}{"amount": "100.00"},
	}
	w := postJSON(router, "/v1/gossip", msg)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp model.GossipResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.PeerCount())

	var events int64
	db.Model(&model.OutboxEvent{}).Where("aggregate = ?", "Gossip").Count(&events)
	assert.EqualValues(t, 1, events)
}

func TestRelayGossip_Validation(t *testing.T) {
	router, _, _ := newTestRouter(t)
	w := postJSON(router, "/v1/gossip", model.GossipMessage{MessageID: "msg_1"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestProfile(t *testing.T) {
	router, db, _ := newTestRouter(t)
	assert.NoError(t, db.Create(&model.Profile{UserID: "user_1", Balance: 1000000}).Error)

	req := httptest.NewRequest(http.MethodGet, "/v1/profile/user_1", nil)
	req.RemoteAddr = "10.0.0.1:4321"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var p model.Profile
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, model.Amount(1000000), p.Balance)

	req = httptest.NewRequest(http.MethodGet, "/v1/profile/nobody", nil)
	req.RemoteAddr = "10.0.0.1:4321"
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
