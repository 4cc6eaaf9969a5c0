package services

import (
	"testing"
	"time"

	"challenge-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expire(t *testing.T, e *testEngine, challengeID string) {
	t.Helper()
	require.NoError(t, e.db.Model(&models.Challenge{}).
		Where("id = ?", challengeID).
		Update("ends_at", time.Now().Add(-time.Minute)).Error)
}

// Level-5 X (25% handicap) wagers 100 against level-10 Y wagering 100 on a
// one-week task sprint. X completes 4 tasks (adjusted 5), Y completes 4
// (adjusted 4): X takes the 200 pool.
func TestSettlementPaysHandicappedWinner(t *testing.T) {
	e := newTestEngine(t)
	e.seedBusiness(t, "biz-x", 5, 1000)
	e.seedBusiness(t, "biz-y", 10, 500)

	ch, err := e.lifecycle.CreateChallenge("biz-x", "Task Sprint", models.ChallengeTaskSprint, models.DurationOneWeek, 100, true, false, nil)
	require.NoError(t, err)
	_, err = e.lifecycle.JoinByCode(ch.InviteCode, "biz-y", 100)
	require.NoError(t, err)

	for _, id := range []string{"x1", "x2", "x3", "x4"} {
		_, err := e.progress.RecordEvent("biz-x", models.EventTaskCompleted, id, 1)
		require.NoError(t, err)
	}
	for _, id := range []string{"y1", "y2", "y3", "y4"} {
		_, err := e.progress.RecordEvent("biz-y", models.EventTaskCompleted, id, 1)
		require.NoError(t, err)
	}

	expire(t, e, ch.ID)
	n, err := e.settlement.SettleDue(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	settled, err := e.store.GetByID(ch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, settled.Status)
	require.NotNil(t, settled.WinnerBusinessID)
	assert.Equal(t, "biz-x", *settled.WinnerBusinessID)

	x := participant(t, e, ch.ID, "biz-x")
	y := participant(t, e, ch.ID, "biz-y")
	assert.Equal(t, int64(100), x.XPWon, "winner gains the pool minus its own wager")
	assert.Zero(t, x.XPLost)
	assert.Equal(t, int64(100), y.XPLost)
	assert.Zero(t, y.XPWon)

	balanceX, err := e.ledger.Balance("biz-x")
	require.NoError(t, err)
	assert.Equal(t, int64(1100), balanceX)
	balanceY, err := e.ledger.Balance("biz-y")
	require.NoError(t, err)
	assert.Equal(t, int64(400), balanceY)
}

func TestSettlementDrawRefundsBothInFull(t *testing.T) {
	e := newTestEngine(t)
	e.seedBusiness(t, "biz-x", 5, 300)
	e.seedBusiness(t, "biz-y", 5, 300)

	ch, err := e.lifecycle.CreateChallenge("biz-x", "Stalemate", models.ChallengeXPRace, models.DurationThreeDays, 80, true, false, nil)
	require.NoError(t, err)
	_, err = e.lifecycle.JoinByCode(ch.InviteCode, "biz-y", 120)
	require.NoError(t, err)

	// Same level, same progress: adjusted counters tie at 2.
	for _, evt := range []struct{ biz, id string }{
		{"biz-x", "x1"}, {"biz-x", "x2"}, {"biz-y", "y1"}, {"biz-y", "y2"},
	} {
		_, err := e.progress.RecordEvent(evt.biz, models.EventXPGained, evt.id, 1)
		require.NoError(t, err)
	}

	expire(t, e, ch.ID)
	_, err = e.settlement.SettleDue(time.Now())
	require.NoError(t, err)

	settled, err := e.store.GetByID(ch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, settled.Status)
	assert.Nil(t, settled.WinnerBusinessID, "a draw has no winner")

	for _, p := range settled.Participants {
		assert.Zero(t, p.XPWon)
		assert.Zero(t, p.XPLost)
	}

	balanceX, err := e.ledger.Balance("biz-x")
	require.NoError(t, err)
	assert.Equal(t, int64(300), balanceX)
	balanceY, err := e.ledger.Balance("biz-y")
	require.NoError(t, err)
	assert.Equal(t, int64(300), balanceY)
}

func TestSettlementIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	e.seedBusiness(t, "biz-x", 5, 1000)
	e.seedBusiness(t, "biz-y", 5, 1000)

	ch, err := e.lifecycle.CreateChallenge("biz-x", "Once Only", models.ChallengeContactCollector, models.DurationOneWeek, 100, true, false, nil)
	require.NoError(t, err)
	_, err = e.lifecycle.JoinByCode(ch.InviteCode, "biz-y", 100)
	require.NoError(t, err)

	_, err = e.progress.RecordEvent("biz-x", models.EventContactAdded, "c1", 1)
	require.NoError(t, err)

	expire(t, e, ch.ID)
	n, err := e.settlement.SettleDue(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// A second sweep (and a direct re-settle) must change nothing.
	n, err = e.settlement.SettleDue(time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = e.settlement.settle(ch.ID, time.Now())
	require.NoError(t, err)

	var payouts int64
	require.NoError(t, e.db.Model(&models.LedgerEntry{}).
		Where("challenge_id = ? AND reason = ?", ch.ID, models.LedgerReasonPayout).
		Count(&payouts).Error)
	assert.Equal(t, int64(1), payouts, "exactly one payout regardless of retries")

	balanceX, err := e.ledger.Balance("biz-x")
	require.NoError(t, err)
	assert.Equal(t, int64(1100), balanceX)
}

func TestSettlementSkipsUnexpiredChallenges(t *testing.T) {
	e := newTestEngine(t)
	e.seedBusiness(t, "biz-x", 5, 1000)
	e.seedBusiness(t, "biz-y", 5, 1000)

	ch, err := e.lifecycle.CreateChallenge("biz-x", "Still Running", models.ChallengeChecklistBlitz, models.DurationOneMonth, 10, true, false, nil)
	require.NoError(t, err)
	_, err = e.lifecycle.JoinByCode(ch.InviteCode, "biz-y", 10)
	require.NoError(t, err)

	n, err := e.settlement.SettleDue(time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	current, err := e.store.GetByID(ch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, current.Status)
}

// Conservation: across a settled challenge, the net ledger movement equals
// xp_won minus xp_lost summed over participants, and total system XP is
// unchanged once no escrow is held.
func TestSettlementConservesTotalXP(t *testing.T) {
	e := newTestEngine(t)
	e.seedBusiness(t, "biz-x", 5, 700)
	e.seedBusiness(t, "biz-y", 8, 900)
	totalBefore := int64(700 + 900)

	ch, err := e.lifecycle.CreateChallenge("biz-x", "Conservation", models.ChallengeDocumentDash, models.DurationOneWeek, 150, true, false, nil)
	require.NoError(t, err)
	_, err = e.lifecycle.JoinByCode(ch.InviteCode, "biz-y", 50)
	require.NoError(t, err)

	_, err = e.progress.RecordEvent("biz-y", models.EventDocumentAdded, "d1", 1)
	require.NoError(t, err)

	expire(t, e, ch.ID)
	_, err = e.settlement.SettleDue(time.Now())
	require.NoError(t, err)

	balanceX, err := e.ledger.Balance("biz-x")
	require.NoError(t, err)
	balanceY, err := e.ledger.Balance("biz-y")
	require.NoError(t, err)
	assert.Equal(t, totalBefore, balanceX+balanceY, "settlement must neither mint nor burn XP")

	movement, err := e.ledger.ChallengeMovement(ch.ID)
	require.NoError(t, err)
	settled, err := e.store.GetByID(ch.ID)
	require.NoError(t, err)
	var won, lost int64
	for _, p := range settled.Participants {
		won += p.XPWon
		lost += p.XPLost
	}
	assert.Equal(t, won-lost, movement, "ledger movement must match recorded win/loss")
}
