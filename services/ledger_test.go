package services

import (
	"testing"

	"challenge-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestEscrowDebitsBalance(t *testing.T) {
	e := newTestEngine(t)
	e.seedBusiness(t, "biz-a", 1, 1000)

	err := e.db.Transaction(func(tx *gorm.DB) error {
		return e.ledger.Escrow(tx, "biz-a", "ch-1", 100)
	})
	require.NoError(t, err)

	balance, err := e.ledger.Balance("biz-a")
	require.NoError(t, err)
	assert.Equal(t, int64(900), balance)

	audit, err := e.ledger.AuditBalance("biz-a")
	require.NoError(t, err)
	assert.Equal(t, balance, audit, "cached balance must equal the sum of ledger entries")
}

func TestEscrowInsufficientFundsLeavesNothingBehind(t *testing.T) {
	e := newTestEngine(t)
	e.seedBusiness(t, "biz-a", 1, 50)

	err := e.db.Transaction(func(tx *gorm.DB) error {
		return e.ledger.Escrow(tx, "biz-a", "ch-1", 100)
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	balance, err := e.ledger.Balance("biz-a")
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance, "failed escrow must not move the balance")

	var entries int64
	require.NoError(t, e.db.Model(&models.LedgerEntry{}).
		Where("challenge_id = ?", "ch-1").Count(&entries).Error)
	assert.Zero(t, entries, "failed escrow must not leave a ledger entry")
}

func TestPayoutIsIdempotentPerChallenge(t *testing.T) {
	e := newTestEngine(t)
	e.seedBusiness(t, "biz-a", 1, 0)

	for i := 0; i < 3; i++ {
		err := e.db.Transaction(func(tx *gorm.DB) error {
			return e.ledger.Payout(tx, "ch-1", "biz-a", 200)
		})
		require.NoError(t, err)
	}

	balance, err := e.ledger.Balance("biz-a")
	require.NoError(t, err)
	assert.Equal(t, int64(200), balance, "retried payout must credit exactly once")

	var entries int64
	require.NoError(t, e.db.Model(&models.LedgerEntry{}).
		Where("challenge_id = ? AND reason = ?", "ch-1", models.LedgerReasonPayout).
		Count(&entries).Error)
	assert.Equal(t, int64(1), entries)
}

func TestRefundIsIdempotentAndIndependentOfPayout(t *testing.T) {
	e := newTestEngine(t)
	e.seedBusiness(t, "biz-a", 1, 500)

	err := e.db.Transaction(func(tx *gorm.DB) error {
		if err := e.ledger.Escrow(tx, "biz-a", "ch-1", 50); err != nil {
			return err
		}
		if err := e.ledger.Refund(tx, "ch-1", "biz-a", 50); err != nil {
			return err
		}
		return e.ledger.Refund(tx, "ch-1", "biz-a", 50)
	})
	require.NoError(t, err)

	balance, err := e.ledger.Balance("biz-a")
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance, "escrow plus one refund must net to zero")

	movement, err := e.ledger.ChallengeMovement("ch-1")
	require.NoError(t, err)
	assert.Zero(t, movement, "refunded challenge must net to zero ledger movement")
}

func TestBalanceOfUnknownBusinessIsZero(t *testing.T) {
	e := newTestEngine(t)
	balance, err := e.ledger.Balance("never-seen")
	require.NoError(t, err)
	assert.Zero(t, balance)
}
