package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/offpaylabs/offpay/internal/model"
	"github.com/offpaylabs/offpay/internal/repo"
	"github.com/offpaylabs/offpay/internal/risk"
)

// Handler serves the authority endpoints the offline client reconciles
// against.
type Handler struct {
	repo   repo.RepositoryInterface
	scorer *risk.Scorer
	log    *zap.SugaredLogger
}

// NewHandler wires the repository and scorer.
func NewHandler(r repo.RepositoryInterface, s *risk.Scorer, log *zap.SugaredLogger) *Handler {
	return &Handler{repo: r, scorer: s, log: log}
}

// RegisterHandlers mounts the v1 routes.
func RegisterHandlers(r *gin.Engine, h *Handler) {
	v1 := r.Group("/v1")
	{
		v1.POST("/sync", h.syncBatch)
		v1.POST("/gossip", h.relayGossip)
		v1.GET("/profile/:id", h.profile)
	}
}

// syncBatch accepts a batch of client transactions, classifies each and
// returns the per-transaction verdicts. Resubmitting an already-settled
// transaction returns its stored verdict unchanged.
func (h *Handler) syncBatch(c *gin.Context) {
	var batch []model.Transaction
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed batch: " + err.Error()})
		return
	}
	if len(batch) == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "empty batch"})
		return
	}

	results := make([]model.SyncResult, 0, len(batch))
	for i := range batch {
		txn := &batch[i]
		if txn.TransactionID == "" || txn.SenderID == "" || txn.ReceiverID == "" {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "transaction missing identity fields"})
			return
		}
		if txn.Amount <= 0 {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "non-positive amount in batch"})
			return
		}

		existing, err := h.repo.FindSettled(c, txn.TransactionID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if existing != nil {
			results = append(results, model.SyncResult{
				TransactionID:  existing.TransactionID,
				RiskScore:      existing.RiskScore,
				Classification: existing.Classification,
			})
			continue
		}

		fresh, err := h.repo.ClaimToken(c, txn.TokenID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		score, class := h.scorer.Score(txn, !fresh)

		st := &model.SettledTransaction{
			TransactionID:  txn.TransactionID,
			TokenID:        txn.TokenID,
			SenderID:       txn.SenderID,
			ReceiverID:     txn.ReceiverID,
			Amount:         txn.Amount,
			InvoiceID:      txn.InvoiceID,
			Timestamp:      txn.Timestamp,
			Signature:      txn.Signature,
			RiskScore:      score,
			Classification: class,
		}
		if err := h.repo.RecordSettlement(c, st); err != nil {
			// a token claimed for a settlement that never stored would turn
			// the client's retry into a false replay
			if fresh {
				h.repo.ReleaseToken(c, txn.TokenID)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		h.log.Infow("transaction settled",
			"transaction_id", txn.TransactionID, "classification", class, "risk_score", score)
		results = append(results, model.SyncResult{
			TransactionID:  txn.TransactionID,
			RiskScore:      score,
			Classification: class,
		})
	}
	c.JSON(http.StatusOK, model.SyncResponse{Results: results})
}

// relayGossip registers the announcing peer, relays the message and reports
// how many other peers are currently reachable.
func (h *Handler) relayGossip(c *gin.Context) {
	var msg model.GossipMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed gossip message"})
		return
	}
	if msg.TransactionID == "" || msg.SourcePeerID == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "gossip message missing ids"})
		return
	}
	if err := h.repo.RegisterPeer(c, msg.SourcePeerID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	peers, err := h.repo.CountOtherPeers(c, msg.SourcePeerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.repo.RecordGossip(c, &msg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"propagated_to_peers": peers})
}

// profile serves the authoritative starting balance clients seed from.
func (h *Handler) profile(c *gin.Context) {
	p, err := h.repo.Profile(c, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown user"})
		return
	}
	c.JSON(http.StatusOK, p)
}
