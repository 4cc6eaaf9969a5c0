package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"challenge-service/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerService is the only writer of XP balances. Every mutation locks the
// account row, appends a LedgerEntry and updates the cached balance in one
// transaction — a debit without its entry (or vice versa) is never observable.
type LedgerService struct {
	DB *gorm.DB
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{DB: db}
}

// lockAccount fetches the XPAccount row FOR UPDATE, creating it lazily with a
// zero balance the first time a business touches the ledger.
func lockAccount(tx *gorm.DB, businessID string) (*models.XPAccount, error) {
	var acct models.XPAccount
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ?", businessID).
		First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		acct = models.XPAccount{BusinessID: businessID, Balance: 0}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&acct).Error; err != nil {
			return nil, err
		}
		// Re-read under lock in case a concurrent insert won the race.
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("business_id = ?", businessID).
			First(&acct).Error; err != nil {
			return nil, err
		}
		return &acct, nil
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// Escrow debits a wager from the business balance inside the caller's
// transaction. Fails atomically with ErrInsufficientFunds when the wager
// exceeds the balance.
func (s *LedgerService) Escrow(tx *gorm.DB, businessID, challengeID string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("escrow amount must be non-negative, got %d", amount)
	}
	acct, err := lockAccount(tx, businessID)
	if err != nil {
		return err
	}
	if acct.Balance < amount {
		return ErrInsufficientFunds
	}
	entry := models.LedgerEntry{
		ID:          uuid.NewString(),
		BusinessID:  businessID,
		Delta:       -amount,
		Reason:      models.LedgerReasonEscrow,
		ChallengeID: challengeID,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return err
	}
	return tx.Model(&models.XPAccount{}).
		Where("business_id = ?", businessID).
		Update("balance", acct.Balance-amount).Error
}

// credit is the shared payout/refund path. It is idempotent per
// (challenge_id, business_id, reason): if the entry already exists the whole
// operation is a no-op, balance untouched.
func (s *LedgerService) credit(tx *gorm.DB, challengeID, businessID string, amount int64, reason models.LedgerReason) error {
	if amount < 0 {
		return fmt.Errorf("credit amount must be non-negative, got %d", amount)
	}
	acct, err := lockAccount(tx, businessID)
	if err != nil {
		return err
	}
	var existing int64
	if err := tx.Model(&models.LedgerEntry{}).
		Where("challenge_id = ? AND business_id = ? AND reason = ?", challengeID, businessID, reason).
		Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		log.Printf("[Ledger] %s for challenge %s / business %s already recorded, skipping", reason, challengeID, businessID)
		return nil
	}
	entry := models.LedgerEntry{
		ID:          uuid.NewString(),
		BusinessID:  businessID,
		Delta:       amount,
		Reason:      reason,
		ChallengeID: challengeID,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return err
	}
	return tx.Model(&models.XPAccount{}).
		Where("business_id = ?", businessID).
		Update("balance", acct.Balance+amount).Error
}

// Payout credits a settlement pool to the winner. Idempotent per
// (challenge, business) so a retried settlement never double-pays.
func (s *LedgerService) Payout(tx *gorm.DB, challengeID, businessID string, amount int64) error {
	return s.credit(tx, challengeID, businessID, amount, models.LedgerReasonPayout)
}

// Refund credits back a prior escrow. Idempotent the same way as Payout.
func (s *LedgerService) Refund(tx *gorm.DB, challengeID, businessID string, amount int64) error {
	return s.credit(tx, challengeID, businessID, amount, models.LedgerReasonRefund)
}

// Balance returns the cached balance for a business (0 for unknown accounts).
func (s *LedgerService) Balance(businessID string) (int64, error) {
	var acct models.XPAccount
	err := s.DB.Where("business_id = ?", businessID).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// Seed credits an opening balance outside any challenge. Bootstrap helper
// for provisioning scripts and tests; the sync worker only mirrors profile
// data and never touches balances.
func (s *LedgerService) Seed(businessID string, amount int64) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		acct, err := lockAccount(tx, businessID)
		if err != nil {
			return err
		}
		entry := models.LedgerEntry{
			ID:          uuid.NewString(),
			BusinessID:  businessID,
			Delta:       amount,
			Reason:      models.LedgerReason("opening_balance"),
			ChallengeID: "seed-" + uuid.NewString(),
			CreatedAt:   time.Now(),
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		return tx.Model(&models.XPAccount{}).
			Where("business_id = ?", businessID).
			Update("balance", acct.Balance+amount).Error
	})
}

// AuditBalance recomputes a balance from the append-only entries. The cached
// XPAccount value must always equal this sum.
func (s *LedgerService) AuditBalance(businessID string) (int64, error) {
	var sum *int64
	err := s.DB.Model(&models.LedgerEntry{}).
		Where("business_id = ?", businessID).
		Select("SUM(delta)").
		Scan(&sum).Error
	if err != nil {
		return 0, err
	}
	if sum == nil {
		return 0, nil
	}
	return *sum, nil
}

// ChallengeMovement returns the net ledger movement for one challenge —
// settled challenges must net to exactly the negated sum of xp_lost minus
// xp_won across participants.
func (s *LedgerService) ChallengeMovement(challengeID string) (int64, error) {
	var sum *int64
	err := s.DB.Model(&models.LedgerEntry{}).
		Where("challenge_id = ?", challengeID).
		Select("SUM(delta)").
		Scan(&sum).Error
	if err != nil {
		return 0, err
	}
	if sum == nil {
		return 0, nil
	}
	return *sum, nil
}

// --- HTTP handlers ---

// GetBalance returns the current XP balance for a business.
func (s *LedgerService) GetBalance(c *fiber.Ctx) error {
	businessID := c.Params("id")
	balance, err := s.Balance(businessID)
	if err != nil {
		log.Printf("[Ledger] balance lookup failed for %s: %v", businessID, err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch balance"})
	}
	return c.JSON(fiber.Map{"business_id": businessID, "balance": balance})
}

// GetLedger returns the audit trail for a business, newest first.
func (s *LedgerService) GetLedger(c *fiber.Ctx) error {
	businessID := c.Params("id")
	var entries []models.LedgerEntry
	if err := s.DB.Where("business_id = ?", businessID).
		Order("created_at DESC").
		Limit(200).
		Find(&entries).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch ledger"})
	}
	return c.JSON(fiber.Map{"business_id": businessID, "entries": entries})
}
