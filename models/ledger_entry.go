package models

import "time"

// LedgerReason tags why XP moved.
type LedgerReason string

const (
	LedgerReasonEscrow LedgerReason = "escrow"
	LedgerReasonPayout LedgerReason = "payout"
	LedgerReasonRefund LedgerReason = "refund"
)

// LedgerEntry is an append-only record of every XP movement. Balances are
// reconstructible as SUM(delta) per business; XPAccount is the cached view
// maintained in the same transaction as each entry.
//
// The unique (challenge_id, business_id, reason) index is what makes payout
// and refund idempotent: a retried settlement hits the constraint instead of
// paying twice.
type LedgerEntry struct {
	ID          string       `json:"id" gorm:"primaryKey"`
	BusinessID  string       `json:"business_id" gorm:"not null;index;uniqueIndex:idx_ledger_once,priority:2"`
	Delta       int64        `json:"delta" gorm:"not null"`
	Reason      LedgerReason `json:"reason" gorm:"type:varchar(16);not null;uniqueIndex:idx_ledger_once,priority:3"`
	ChallengeID string       `json:"challenge_id" gorm:"not null;index;uniqueIndex:idx_ledger_once,priority:1"`
	CreatedAt   time.Time    `json:"created_at" gorm:"autoCreateTime"`
}

// TableName keeps the plural table name explicit for the audit queries.
func (LedgerEntry) TableName() string { return "ledger_entries" }
