package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"challenge-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capturePayloads runs a stub dispatcher and returns the channel its decoded
// request bodies arrive on.
func capturePayloads(t *testing.T) (*httptest.Server, chan map[string]interface{}) {
	t.Helper()
	payloads := make(chan map[string]interface{}, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&p); err == nil {
			payloads <- p
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, payloads
}

func awaitPayload(t *testing.T, payloads chan map[string]interface{}) map[string]interface{} {
	t.Helper()
	select {
	case p := <-payloads:
		return p
	case <-time.After(3 * time.Second):
		t.Fatal("no notification arrived")
		return nil
	}
}

func TestDrawDispatchesDrawNotificationWithoutWinnerFields(t *testing.T) {
	srv, payloads := capturePayloads(t)

	e := newTestEngine(t)
	e.seedBusiness(t, "biz-x", 5, 300)
	e.seedBusiness(t, "biz-y", 5, 300)

	notifier := NewNotifierClient(srv.URL, "test-token")
	settlement := NewSettlementService(e.db, e.store, e.ledger, notifier)

	ch, err := e.lifecycle.CreateChallenge("biz-x", "Tie", models.ChallengeTaskSprint, models.DurationThreeDays, 50, true, false, nil)
	require.NoError(t, err)
	_, err = e.lifecycle.JoinByCode(ch.InviteCode, "biz-y", 50)
	require.NoError(t, err)

	expire(t, e, ch.ID)
	n, err := settlement.SettleDue(time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	p := awaitPayload(t, payloads)
	assert.Equal(t, "challenge_draw", p["event"])
	assert.Equal(t, ch.ID, p["challenge_id"])
	assert.NotContains(t, p, "winner_id", "a draw names no winner")
	assert.NotContains(t, p, "loser_id", "a draw names no loser")
}

func TestDecidedOutcomeDispatchesCompletedNotification(t *testing.T) {
	srv, payloads := capturePayloads(t)

	e := newTestEngine(t)
	e.seedBusiness(t, "biz-x", 5, 300)
	e.seedBusiness(t, "biz-y", 5, 300)

	notifier := NewNotifierClient(srv.URL, "test-token")
	settlement := NewSettlementService(e.db, e.store, e.ledger, notifier)

	ch, err := e.lifecycle.CreateChallenge("biz-x", "Decided", models.ChallengeTaskSprint, models.DurationThreeDays, 50, true, false, nil)
	require.NoError(t, err)
	_, err = e.lifecycle.JoinByCode(ch.InviteCode, "biz-y", 50)
	require.NoError(t, err)

	_, err = e.progress.RecordEvent("biz-x", models.EventTaskCompleted, "evt-win", 1)
	require.NoError(t, err)

	expire(t, e, ch.ID)
	_, err = settlement.SettleDue(time.Now())
	require.NoError(t, err)

	p := awaitPayload(t, payloads)
	assert.Equal(t, "challenge_completed", p["event"])
	assert.Equal(t, "biz-x", p["winner_id"])
	assert.Equal(t, "biz-y", p["loser_id"])
	assert.Equal(t, float64(50), p["xp_delta"])
}
