// Package repo is the authority-side repository: postgres for the settled
// ledger and outbox, redis for token-replay detection and the gossip peer
// registry, kafka for downstream event publication.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/offpaylabs/offpay/internal/model"
)

const (
	tokenTTL    = 72 * time.Hour
	peerSetKey  = "gossip:peers"
	peerSetTTL  = 10 * time.Minute
	tokenPrefix = "token:"
)

// RepositoryInterface restricts repo methods so handlers can be tested
// against a narrow surface.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB
	FindSettled(ctx context.Context, transactionID string) (*model.SettledTransaction, error)
	RecordSettlement(ctx context.Context, st *model.SettledTransaction) error
	ClaimToken(ctx context.Context, tokenID string) (bool, error)
	ReleaseToken(ctx context.Context, tokenID string)
	RegisterPeer(ctx context.Context, peerID string) error
	CountOtherPeers(ctx context.Context, excludePeerID string) (int, error)
	RecordGossip(ctx context.Context, msg *model.GossipMessage) error
	Profile(ctx context.Context, userID string) (*model.Profile, error)
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error
}

// Repository implements RepositoryInterface.
type Repository struct {
	db           *gorm.DB
	rdb          *redis.Client
	writer       *kafka.Writer
	gossipWriter *kafka.Writer
	log          *zap.SugaredLogger
}

// NewRepository constructs the repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, w, gw *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, gossipWriter: gw, log: logger}
}

// DB returns the underlying *gorm.DB.
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// FindSettled returns the stored verdict for a transaction id, nil if new.
func (r *Repository) FindSettled(ctx context.Context, transactionID string) (*model.SettledTransaction, error) {
	var st model.SettledTransaction
	err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// RecordSettlement persists the verdict and queues the settlement event in
// one transaction: the outbox row commits with the ledger row or not at all.
func (r *Repository) RecordSettlement(ctx context.Context, st *model.SettledTransaction) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(st).Error; err != nil {
			return err
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"transaction_id": st.TransactionID,
			"sender_id":      st.SenderID,
			"receiver_id":    st.ReceiverID,
			"amount":         st.Amount,
			"risk_score":     st.RiskScore,
			"classification": st.Classification,
		})
		evt := &model.OutboxEvent{
			Aggregate:   "Settlement",
			AggregateID: st.TransactionID,
			EventType:   "TransactionSettled",
			Payload:     string(payload),
		}
		return tx.Create(evt).Error
	})
}

// ClaimToken marks a token id as seen. Returns false when the token was
// already claimed (a replay). A redis outage degrades to "fresh" with a
// warning; the database unique index is the backstop.
func (r *Repository) ClaimToken(ctx context.Context, tokenID string) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, tokenPrefix+tokenID, 1, tokenTTL).Result()
	if err != nil {
		r.log.Warnw("token claim degraded, redis unavailable", "err", err)
		return true, nil
	}
	return ok, nil
}

// ReleaseToken drops a fresh claim so a retried submission is not misread
// as a replay. Best effort: the TTL bounds a leaked claim anyway.
func (r *Repository) ReleaseToken(ctx context.Context, tokenID string) {
	if err := r.rdb.Del(ctx, tokenPrefix+tokenID).Err(); err != nil {
		r.log.Warnw("token release failed", "token_id", tokenID, "err", err)
	}
}

// RegisterPeer records a peer as recently active on the mesh.
func (r *Repository) RegisterPeer(ctx context.Context, peerID string) error {
	if err := r.rdb.SAdd(ctx, peerSetKey, peerID).Err(); err != nil {
		return err
	}
	return r.rdb.Expire(ctx, peerSetKey, peerSetTTL).Err()
}

// CountOtherPeers counts active peers excluding the announcing one.
func (r *Repository) CountOtherPeers(ctx context.Context, excludePeerID string) (int, error) {
	members, err := r.rdb.SMembers(ctx, peerSetKey).Result()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range members {
		if m != excludePeerID {
			n++
		}
	}
	return n, nil
}

// RecordGossip queues a relayed announcement for kafka publication.
func (r *Repository) RecordGossip(ctx context.Context, msg *model.GossipMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	evt := &model.OutboxEvent{
		Aggregate:   "Gossip",
		AggregateID: msg.TransactionID,
		EventType:   "AnnouncementRelayed",
		Payload:     string(payload),
	}
	return r.db.WithContext(ctx).Create(evt).Error
}

// Profile fetches a user's authoritative profile, nil if unknown.
func (r *Repository) Profile(ctx context.Context, userID string) (*model.Profile, error) {
	var p model.Profile
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed = ?", false).Order("created_at").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets the processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent routes an outbox event to its kafka topic: gossip relays go
// to the gossip writer, everything else to the settlement writer.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%s:%d", evt.Aggregate, evt.ID)),
		Value: []byte(evt.Payload),
		Time:  time.Now(),
	}
	if evt.Aggregate == "Gossip" && r.gossipWriter != nil {
		return r.gossipWriter.WriteMessages(ctx, msg)
	}
	return r.writer.WriteMessages(ctx, msg)
}
