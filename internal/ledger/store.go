// Package ledger is the durable device-side store: one balance row, the
// offline-mode flag and the append-only transaction history. Every other
// component reads and writes through it; nothing keeps a private copy.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/offpaylabs/offpay/internal/model"
)

var (
	// ErrInsufficientFunds is returned when a debit would drive the
	// balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrDuplicateTransaction is returned when a transaction_id is
	// appended twice.
	ErrDuplicateTransaction = errors.New("duplicate transaction id")
	// ErrConflict means a concurrent writer won the balance update.
	ErrConflict = errors.New("balance version conflict")
)

// balanceRecord is the single scalar balance with an optimistic-lock
// version so two overlapping debits cannot both observe the pre-debit value.
type balanceRecord struct {
	ID        uint64       `gorm:"primaryKey"`
	Balance   model.Amount `gorm:"not null;default:0"`
	Version   uint64       `gorm:"not null;default:0"`
	UpdatedAt time.Time    `gorm:"autoUpdateTime"`
}

func (balanceRecord) TableName() string { return "ledger_balance" }

type setting struct {
	Key   string `gorm:"primaryKey;size:32"`
	Value string `gorm:"size:64"`
}

func (setting) TableName() string { return "ledger_setting" }

const offlineModeKey = "offline_mode"

// Store is the gorm-backed ledger.
type Store struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

// Open opens (or creates) the sqlite ledger at path.
func Open(path string, log *zap.SugaredLogger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	return NewStore(db, log)
}

// NewStore wraps an existing gorm DB (tests use in-memory sqlite).
func NewStore(db *gorm.DB, log *zap.SugaredLogger) (*Store, error) {
	if err := db.AutoMigrate(&balanceRecord{}, &setting{}, &model.Transaction{}); err != nil {
		return nil, fmt.Errorf("ledger: migrate: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// Balance returns the current balance, zero if never seeded.
func (s *Store) Balance(ctx context.Context) (model.Amount, error) {
	var rec balanceRecord
	err := s.db.WithContext(ctx).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: read balance: %w", err)
	}
	return rec.Balance, nil
}

// SetBalance replaces the balance, seeding the row if absent. Used when the
// remote profile supplies the authoritative starting balance on login.
func (s *Store) SetBalance(ctx context.Context, amt model.Amount) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec balanceRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := tx.Create(&balanceRecord{Balance: amt}).Error; err != nil {
				return fmt.Errorf("ledger: seed balance: %w", err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("ledger: read balance: %w", err)
		}
		res := tx.Model(&balanceRecord{}).
			Where("id = ? AND version = ?", rec.ID, rec.Version).
			Updates(map[string]interface{}{
				"balance": amt,
				"version": rec.Version + 1,
			})
		if res.Error != nil {
			return fmt.Errorf("ledger: set balance: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		return nil
	})
}

// ApplyDelta mutates the balance and appends the transaction in one storage
// transaction. This is the only balance mutator payment flows may use: the
// read, the insufficiency check, the versioned write and the append either
// all happen or none do.
func (s *Store) ApplyDelta(ctx context.Context, delta model.Amount, txn *model.Transaction) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec balanceRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			rec = balanceRecord{}
			if err := tx.Create(&rec).Error; err != nil {
				return fmt.Errorf("ledger: seed balance: %w", err)
			}
		} else if err != nil {
			return fmt.Errorf("ledger: read balance: %w", err)
		}
		newBal := rec.Balance + delta
		if newBal < 0 {
			return ErrInsufficientFunds
		}
		res := tx.Model(&balanceRecord{}).
			Where("id = ? AND version = ?", rec.ID, rec.Version).
			Updates(map[string]interface{}{
				"balance": newBal,
				"version": rec.Version + 1,
			})
		if res.Error != nil {
			return fmt.Errorf("ledger: update balance: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		if err := appendTransaction(tx, txn); err != nil {
			return err
		}
		return nil
	})
}

// SaveTransaction appends a transaction without touching the balance.
func (s *Store) SaveTransaction(ctx context.Context, txn *model.Transaction) error {
	return appendTransaction(s.db.WithContext(ctx), txn)
}

func appendTransaction(tx *gorm.DB, txn *model.Transaction) error {
	var count int64
	if err := tx.Model(&model.Transaction{}).
		Where("transaction_id = ?", txn.TransactionID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("ledger: check duplicate: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateTransaction, txn.TransactionID)
	}
	if err := tx.Create(txn).Error; err != nil {
		return fmt.Errorf("ledger: append transaction: %w", err)
	}
	return nil
}

// Transactions returns the full history in insertion order.
func (s *Store) Transactions(ctx context.Context) ([]model.Transaction, error) {
	var txs []model.Transaction
	if err := s.db.WithContext(ctx).Order("id").Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("ledger: list transactions: %w", err)
	}
	return txs, nil
}

// PendingTransactions returns unsynced entries in insertion order; this is
// the batch the reconciler uploads.
func (s *Store) PendingTransactions(ctx context.Context) ([]model.Transaction, error) {
	var txs []model.Transaction
	if err := s.db.WithContext(ctx).
		Where("synced = ?", false).Order("id").Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("ledger: list pending: %w", err)
	}
	return txs, nil
}

// GetTransaction fetches one entry by transaction_id.
func (s *Store) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	var txn model.Transaction
	err := s.db.WithContext(ctx).Where("transaction_id = ?", id).First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get transaction: %w", err)
	}
	return &txn, nil
}

// Patch carries the only post-creation mutations a transaction accepts.
type Patch struct {
	Synced            *bool
	RiskScore         *float64
	Classification    *string
	PropagatedToPeers *int
}

// UpdateTransaction merges a patch into the matching entry. A missing id is
// a silent no-op. Mutations are forward-only: synced never reverts, and the
// verdict of an already-synced entry is never rewritten.
func (s *Store) UpdateTransaction(ctx context.Context, id string, patch Patch) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txn model.Transaction
		err := tx.Where("transaction_id = ?", id).First(&txn).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if s.log != nil {
				s.log.Debugw("update for unknown transaction ignored", "transaction_id", id)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("ledger: load transaction: %w", err)
		}

		updates := map[string]interface{}{}
		if patch.Synced != nil && *patch.Synced && !txn.Synced {
			updates["synced"] = true
		}
		if !txn.Synced {
			if patch.RiskScore != nil {
				updates["risk_score"] = *patch.RiskScore
			}
			if patch.Classification != nil {
				updates["classification"] = *patch.Classification
			}
		}
		if patch.PropagatedToPeers != nil && *patch.PropagatedToPeers > txn.PropagatedToPeers {
			updates["propagated_to_peers"] = *patch.PropagatedToPeers
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&model.Transaction{}).
			Where("transaction_id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("ledger: update transaction: %w", err)
		}
		return nil
	})
}

// OfflineMode reports the user-controlled offline flag.
func (s *Store) OfflineMode(ctx context.Context) (bool, error) {
	var rec setting
	err := s.db.WithContext(ctx).Where("key = ?", offlineModeKey).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger: read offline flag: %w", err)
	}
	return rec.Value == "true", nil
}

// SetOfflineMode toggles the offline flag. It only changes which path the
// pay flow takes after a debit; it does not itself block network calls.
func (s *Store) SetOfflineMode(ctx context.Context, on bool) error {
	val := "false"
	if on {
		val = "true"
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"value": val}),
	}).Create(&setting{Key: offlineModeKey, Value: val}).Error
	if err != nil {
		return fmt.Errorf("ledger: set offline flag: %w", err)
	}
	return nil
}
