package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/offpaylabs/offpay/internal/model"
)

func tx(amt model.Amount, sig string, age time.Duration) *model.Transaction {
	return &model.Transaction{
		TransactionID: "txn_1",
		SenderID:      "u1",
		ReceiverID:    "m1",
		Amount:        amt,
		Signature:     sig,
		Timestamp:     time.Now().Add(-age).UTC().Format(time.RFC3339),
	}
}

func TestScore_SmallSignedTransactionIsValid(t *testing.T) {
	s := NewScorer()
	score, class := s.Score(tx(50000, "deadbeefdeadbeefdeadbeefdeadbeef", time.Minute), false)
	assert.Equal(t, model.ClassValid, class)
	assert.Less(t, score, 0.4)
}

func TestScore_LargeAmountEscalates(t *testing.T) {
	s := NewScorer()
	// 60000.00 rupees, simulated signature, stale
	score, class := s.Score(tx(6000000, "simulated_sig_123", 72*time.Hour), false)
	assert.GreaterOrEqual(t, score, 0.75)
	assert.Equal(t, model.ClassFraud, class)
}

func TestScore_SimulatedSignaturePenalized(t *testing.T) {
	s := NewScorer()
	clean, _ := s.Score(tx(50000, "deadbeefdeadbeefdeadbeefdeadbeef", time.Minute), false)
	simulated, _ := s.Score(tx(50000, "simulated_sig_123", time.Minute), false)
	assert.Greater(t, simulated, clean)
}

// A replayed token on a clean transaction is an honest conflict, the same
// offline payment arriving through two paths.
func TestScore_ReplayedToken(t *testing.T) {
	s := NewScorer()
	_, class := s.Score(tx(50000, "deadbeefdeadbeefdeadbeefdeadbeef", time.Minute), true)
	assert.Equal(t, model.ClassHonestConflict, class)

	_, class = s.Score(tx(6000000, "simulated_sig_123", time.Minute), true)
	assert.Equal(t, model.ClassSuspicious, class)
}

func TestScore_UnparseableTimestampPenalized(t *testing.T) {
	s := NewScorer()
	bad := &model.Transaction{Amount: 50000, Signature: "deadbeefdeadbeefdeadbeefdeadbeef", Timestamp: "yesterday"}
	withBad, _ := s.Score(bad, false)
	withGood, _ := s.Score(tx(50000, "deadbeefdeadbeefdeadbeefdeadbeef", time.Minute), false)
	assert.Greater(t, withBad, withGood)
}
