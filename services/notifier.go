package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// NotifierClient posts challenge events to the notification dispatcher.
// Fire-and-forget: failures are logged and never propagate, a lost
// notification must not roll back a settlement.
type NotifierClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewNotifierClient(baseURL, token string) *NotifierClient {
	return &NotifierClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (n *NotifierClient) post(event string, payload map[string]interface{}) {
	if n == nil || n.BaseURL == "" {
		return // notifier not configured
	}
	payload["event"] = event
	jsonData, _ := json.Marshal(payload)

	req, err := http.NewRequest("POST", fmt.Sprintf("%s/notifications", n.BaseURL), bytes.NewBuffer(jsonData))
	if err != nil {
		log.Printf("[Notifier] failed to build %s request: %v", event, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.Token)

	resp, err := n.Client.Do(req)
	if err != nil {
		log.Printf("[Notifier] %s dispatch failed: %v", event, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("[Notifier] %s dispatch returned %d", event, resp.StatusCode)
	}
}

// ChallengeInvited notifies an opponent of a direct invitation.
func (n *NotifierClient) ChallengeInvited(challengeID, creatorID, opponentID string) {
	go n.post("challenge_invited", map[string]interface{}{
		"challenge_id": challengeID,
		"creator_id":   creatorID,
		"opponent_id":  opponentID,
	})
}

// ChallengeAccepted notifies the creator that the challenge went active.
func (n *NotifierClient) ChallengeAccepted(challengeID, creatorID, opponentID string) {
	go n.post("challenge_accepted", map[string]interface{}{
		"challenge_id": challengeID,
		"creator_id":   creatorID,
		"opponent_id":  opponentID,
	})
}

// ChallengeCompleted notifies both sides of a decided outcome.
func (n *NotifierClient) ChallengeCompleted(challengeID, winnerID, loserID string, xpDelta int64) {
	go n.post("challenge_completed", map[string]interface{}{
		"challenge_id": challengeID,
		"winner_id":    winnerID,
		"loser_id":     loserID,
		"xp_delta":     xpDelta,
	})
}

// ChallengeDraw notifies both sides that the challenge ended in a tie and
// wagers were refunded. Draws carry no winner or loser fields at all.
func (n *NotifierClient) ChallengeDraw(challengeID string) {
	go n.post("challenge_draw", map[string]interface{}{
		"challenge_id": challengeID,
	})
}
