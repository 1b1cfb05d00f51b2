// Package risk is the reference classifier the dev authority runs so the
// client's verdict merge-back path works end to end. Production scoring
// lives server-side and is not part of the client contract.
package risk

import (
	"strings"
	"time"

	"github.com/offpaylabs/offpay/internal/model"
	"github.com/shopspring/decimal"
)

// Amount bands in rupees.
var (
	bandLow  = decimal.NewFromInt(1000)
	bandMid  = decimal.NewFromInt(10000)
	bandHigh = decimal.NewFromInt(50000)
)

// Scorer produces a deterministic risk verdict for an uploaded transaction.
type Scorer struct {
	// MaxOfflineAge is how long a transaction may sit unsynced before it
	// starts looking stale.
	MaxOfflineAge time.Duration
}

// NewScorer returns a scorer with the default 48h staleness window.
func NewScorer() *Scorer {
	return &Scorer{MaxOfflineAge: 48 * time.Hour}
}

// Score returns a risk score in [0,1] and a classification. A replayed
// token on an otherwise clean transaction reads as an honest conflict
// (the same offline payment arriving through two paths), not as fraud.
func (s *Scorer) Score(txn *model.Transaction, replayedToken bool) (float64, string) {
	score := bandScore(txn.Amount.Decimal())

	if txn.Signature == "" || strings.HasPrefix(txn.Signature, "simulated_sig_") {
		score += 0.2
	}
	if created, err := time.Parse(time.RFC3339, txn.Timestamp); err != nil {
		score += 0.2
	} else if time.Since(created) > s.MaxOfflineAge {
		score += 0.15
	}
	if score > 1 {
		score = 1
	}

	if replayedToken {
		if score < 0.5 {
			return score, model.ClassHonestConflict
		}
		return score, model.ClassSuspicious
	}
	switch {
	case score >= 0.75:
		return score, model.ClassFraud
	case score >= 0.4:
		return score, model.ClassSuspicious
	default:
		return score, model.ClassValid
	}
}

func bandScore(amt decimal.Decimal) float64 {
	switch {
	case amt.LessThanOrEqual(bandLow):
		return 0.05
	case amt.LessThanOrEqual(bandMid):
		return 0.15
	case amt.LessThanOrEqual(bandHigh):
		return 0.35
	default:
		return 0.6
	}
}
