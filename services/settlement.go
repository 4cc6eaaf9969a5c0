package services

import (
	"fmt"
	"log"
	"time"

	"challenge-service/models"

	"github.com/go-co-op/gocron/v2"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettlementService closes expired active challenges: compares
// handicap-adjusted progress, pays the pool to the strict winner (or refunds
// both on a tie) and flips the challenge to completed — all per challenge in
// one transaction, so a crash mid-settlement can never leave "paid but still
// active" behind. Re-running on a settled challenge is a no-op: the status
// guard stops it before any ledger work, and payout/refund are idempotent
// anyway.
type SettlementService struct {
	DB       *gorm.DB
	Store    *ChallengeStore
	Ledger   *LedgerService
	Notifier *NotifierClient
}

func NewSettlementService(db *gorm.DB, store *ChallengeStore, ledger *LedgerService, notifier *NotifierClient) *SettlementService {
	return &SettlementService{DB: db, Store: store, Ledger: ledger, Notifier: notifier}
}

// settled captures the outcome for notifications, dispatched after commit.
type settled struct {
	challengeID string
	winnerID    string
	loserID     string
	xpDelta     int64
}

// SettleDue settles every active challenge whose deadline has passed.
// Failures on one challenge are logged and do not block the rest; the next
// tick retries them safely.
func (s *SettlementService) SettleDue(now time.Time) (int, error) {
	var dueIDs []string
	if err := s.DB.Model(&models.Challenge{}).
		Where("status = ? AND ends_at <= ?", models.StatusActive, now).
		Pluck("id", &dueIDs).Error; err != nil {
		return 0, err
	}

	count := 0
	for _, id := range dueIDs {
		outcome, err := s.settle(id, now)
		if err != nil {
			log.Printf("[Settlement] challenge %s failed, will retry next tick: %v", id, err)
			continue
		}
		if outcome != nil {
			if outcome.winnerID == "" {
				s.Notifier.ChallengeDraw(outcome.challengeID)
			} else {
				s.Notifier.ChallengeCompleted(outcome.challengeID, outcome.winnerID, outcome.loserID, outcome.xpDelta)
			}
			count++
		}
	}
	return count, nil
}

// settle closes one challenge. The row lock plus the status re-check make
// concurrent settlement triggers (tick + force check) collapse to exactly
// one payout and one completed transition.
func (s *SettlementService) settle(challengeID string, now time.Time) (*settled, error) {
	var outcome *settled
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var ch models.Challenge
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&ch, "id = ?", challengeID).Error; err != nil {
			return err
		}
		if ch.Status != models.StatusActive {
			return nil // settled by a concurrent trigger
		}
		if ch.EndsAt == nil || ch.EndsAt.After(now) {
			return nil
		}

		var participants []models.ChallengeParticipant
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("challenge_id = ?", ch.ID).
			Find(&participants).Error; err != nil {
			return err
		}
		if len(participants) != 2 {
			return fmt.Errorf("challenge %s has %d participants, expected 2", ch.ID, len(participants))
		}

		a, b := &participants[0], &participants[1]
		pool := a.XPWagered + b.XPWagered

		switch {
		case a.AdjustedProgress == b.AdjustedProgress:
			// Draw: both wagers flow back, nobody wins or loses XP.
			if err := s.Ledger.Refund(tx, ch.ID, a.BusinessID, a.XPWagered); err != nil {
				return err
			}
			if err := s.Ledger.Refund(tx, ch.ID, b.BusinessID, b.XPWagered); err != nil {
				return err
			}
			if err := s.Store.Complete(tx, ch.ID, nil); err != nil {
				return err
			}
			outcome = &settled{challengeID: ch.ID}
			return nil
		case b.AdjustedProgress > a.AdjustedProgress:
			a, b = b, a // a is the winner from here on
		}

		if err := s.Ledger.Payout(tx, ch.ID, a.BusinessID, pool); err != nil {
			return err
		}
		if err := tx.Model(a).Update("xp_won", pool-a.XPWagered).Error; err != nil {
			return err
		}
		if err := tx.Model(b).Update("xp_lost", b.XPWagered).Error; err != nil {
			return err
		}
		winnerID := a.BusinessID
		if err := s.Store.Complete(tx, ch.ID, &winnerID); err != nil {
			return err
		}
		outcome = &settled{
			challengeID: ch.ID,
			winnerID:    a.BusinessID,
			loserID:     b.BusinessID,
			xpDelta:     pool - a.XPWagered,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// StartScheduler runs the settlement tick every minute.
func (s *SettlementService) StartScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			n, err := s.SettleDue(time.Now())
			if err != nil {
				log.Printf("[Settlement] tick failed: %v", err)
				return
			}
			if n > 0 {
				log.Printf("[Settlement] settled %d challenge(s)", n)
			}
		}),
	)
}

// ForceCheckHandler handles POST /challenges/settlement/run — an on-demand
// settlement sweep, same semantics as the tick.
func (s *SettlementService) ForceCheckHandler(c *fiber.Ctx) error {
	n, err := s.SettleDue(time.Now())
	if err != nil {
		log.Printf("[Settlement] force check failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "settlement sweep failed"})
	}
	return c.JSON(fiber.Map{"settled": n})
}
