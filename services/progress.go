package services

import (
	"log"
	"time"

	"challenge-service/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProgressService ingests domain events from the upstream subsystems (tasks,
// metrics, streaks, quests, checklists, documents, contacts) and advances
// the counters of every matching active challenge for the originating
// business. Events are trusted inputs; only exactly-once delivery is
// enforced here, via the ProcessedEvent dedup window.
type ProgressService struct {
	DB *gorm.DB
}

func NewProgressService(db *gorm.DB) *ProgressService {
	return &ProgressService{DB: db}
}

// RecordEvent applies one upstream event. Redeliveries of the same eventID
// are dropped. Challenges already settled (or past ends_at but not yet
// swept) never gain progress retroactively: the increment is guarded on
// status = active AND ends_at > now inside the same transaction settlement
// uses, so increments are linearizable with respect to settlement.
func (s *ProgressService) RecordEvent(businessID string, kind models.EventKind, eventID string, amount int64) (int, error) {
	ctype, ok := models.ChallengeTypeForEvent(kind)
	if !ok {
		return 0, nil // kinds with no challenge mapping are ignored
	}
	if amount <= 0 {
		amount = 1
	}

	touched := 0
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		// Dedup first: OnConflict DoNothing + RowsAffected tells us whether
		// this event id was seen before.
		dedup := models.ProcessedEvent{
			EventID:    eventID,
			BusinessID: businessID,
			Kind:       kind,
			Amount:     amount,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&dedup)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			log.Printf("[Progress] duplicate event %s dropped", eventID)
			return nil
		}

		var challengeIDs []string
		if err := tx.Model(&models.Challenge{}).
			Where("type = ? AND status = ? AND ends_at > ?", ctype, models.StatusActive, time.Now()).
			Where("id IN (?)", tx.Model(&models.ChallengeParticipant{}).
				Select("challenge_id").
				Where("business_id = ?", businessID)).
			Pluck("id", &challengeIDs).Error; err != nil {
			return err
		}

		for _, id := range challengeIDs {
			var p models.ChallengeParticipant
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("challenge_id = ? AND business_id = ?", id, businessID).
				First(&p).Error; err != nil {
				return err
			}
			raw := p.RawProgress + amount
			if err := tx.Model(&p).Updates(map[string]interface{}{
				"raw_progress":      raw,
				"adjusted_progress": AdjustedProgress(raw, p.HandicapPercent),
			}).Error; err != nil {
				return err
			}
			touched++
		}
		return nil
	})
	return touched, err
}

// RecordEventHandler handles POST /events. Upstream sources deliver
// (business_id, event_kind, event_id) and an optional amount.
func (s *ProgressService) RecordEventHandler(c *fiber.Ctx) error {
	var req struct {
		BusinessID string           `json:"business_id"`
		Kind       models.EventKind `json:"event_kind"`
		EventID    string           `json:"event_id"`
		Amount     int64            `json:"amount"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if req.BusinessID == "" || req.Kind == "" || req.EventID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "business_id, event_kind and event_id are required"})
	}
	touched, err := s.RecordEvent(req.BusinessID, req.Kind, req.EventID, req.Amount)
	if err != nil {
		log.Printf("[Progress] event %s failed: %v", req.EventID, err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to record event"})
	}
	return c.JSON(fiber.Map{"event_id": req.EventID, "challenges_updated": touched})
}
