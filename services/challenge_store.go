package services

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"challenge-service/models"

	"gorm.io/gorm"
)

// ChallengeStore owns challenge persistence and the status state machine.
// Legal edges:
//
//	invitation -> active | declined
//	pending    -> active | cancelled
//	active     -> completed   (settlement engine only)
//
// Every transition is a guarded compare-and-swap on the previous status;
// anything outside the table fails with ErrInvalidStateTransition and leaves
// the row unchanged.
type ChallengeStore struct {
	DB *gorm.DB
}

func NewChallengeStore(db *gorm.DB) *ChallengeStore {
	return &ChallengeStore{DB: db}
}

// Invite codes: 8 chars from an alphabet without 0/O/1/I lookalikes.
const inviteCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
const inviteCodeLength = 8

// joinableStatuses are the only states in which a code must stay unique.
var joinableStatuses = []string{models.StatusPending, models.StatusInvitation}

// GenerateInviteCode returns a code that is collision-free among challenges
// that are still joinable. Retries generation on collision.
func (s *ChallengeStore) GenerateInviteCode(tx *gorm.DB) (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		buf := make([]byte, inviteCodeLength)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for i := range buf {
			buf[i] = inviteCodeAlphabet[int(buf[i])%len(inviteCodeAlphabet)]
		}
		code := string(buf)

		var count int64
		if err := tx.Model(&models.Challenge{}).
			Where("invite_code = ? AND status IN ?", code, joinableStatuses).
			Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique invite code after 10 attempts")
}

// GetByID loads a challenge with both participants.
func (s *ChallengeStore) GetByID(id string) (*models.Challenge, error) {
	var ch models.Challenge
	err := s.DB.Preload("Participants").First(&ch, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// GetJoinableByCode resolves an invite code to its still-pending challenge.
// Codes of cancelled, declined or settled challenges never resolve.
func (s *ChallengeStore) GetJoinableByCode(tx *gorm.DB, code string) (*models.Challenge, error) {
	var ch models.Challenge
	err := tx.Where("invite_code = ? AND status = ?", code, models.StatusPending).
		First(&ch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidInviteCode
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// cas performs a guarded status transition. RowsAffected == 0 means someone
// else moved the challenge first (or the caller attempted an illegal edge).
func (s *ChallengeStore) cas(tx *gorm.DB, challengeID, from string, updates map[string]interface{}) (bool, error) {
	res := tx.Model(&models.Challenge{}).
		Where("id = ? AND status = ?", challengeID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Activate flips a joinable challenge to active and stamps its window.
// The single CAS is what makes two simultaneous joins on one code race
// safely: exactly one caller sees RowsAffected == 1.
func (s *ChallengeStore) Activate(tx *gorm.DB, challengeID, from string, now time.Time, window time.Duration) (time.Time, error) {
	endsAt := now.Add(window)
	ok, err := s.cas(tx, challengeID, from, map[string]interface{}{
		"status":     models.StatusActive,
		"started_at": now,
		"ends_at":    endsAt,
	})
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		if from == models.StatusPending {
			return time.Time{}, ErrAlreadyJoined
		}
		return time.Time{}, ErrInvalidStateTransition
	}
	return endsAt, nil
}

// Decline closes a direct invitation without activating it.
func (s *ChallengeStore) Decline(tx *gorm.DB, challengeID string) error {
	ok, err := s.cas(tx, challengeID, models.StatusInvitation, map[string]interface{}{
		"status": models.StatusDeclined,
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidStateTransition
	}
	return nil
}

// Cancel closes a pending, never-joined challenge.
func (s *ChallengeStore) Cancel(tx *gorm.DB, challengeID string) error {
	ok, err := s.cas(tx, challengeID, models.StatusPending, map[string]interface{}{
		"status": models.StatusCancelled,
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidStateTransition
	}
	return nil
}

// Complete is the settlement engine's edge. winner is nil for a draw.
func (s *ChallengeStore) Complete(tx *gorm.DB, challengeID string, winner *string) error {
	ok, err := s.cas(tx, challengeID, models.StatusActive, map[string]interface{}{
		"status":             models.StatusCompleted,
		"winner_business_id": winner,
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidStateTransition
	}
	return nil
}
