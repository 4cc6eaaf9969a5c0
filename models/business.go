package models

import (
	"time"
)

// XPAccount holds the cached XP balance for a business. Only the ledger
// service writes it, always in the same transaction as the LedgerEntry that
// explains the movement.
type XPAccount struct {
	BusinessID string    `json:"business_id" gorm:"primaryKey"`
	Balance    int64     `json:"balance" gorm:"not null;default:0"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// BusinessMirror mirrors profile data from the business directory service.
// Level and streak are authoritative upstream; the engine only reads them
// (handicap computation, display). Table name: business_mirror.
type BusinessMirror struct {
	BusinessID    string    `gorm:"primaryKey;type:uuid" json:"business_id"`
	Name          string    `gorm:"type:varchar(128)" json:"name"`
	Level         int       `gorm:"not null;default:1" json:"level"`
	CurrentStreak int       `gorm:"not null;default:0" json:"current_streak"`
	IsActive      bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time `gorm:"not null" json:"updated_at"`
}

func (BusinessMirror) TableName() string { return "business_mirror" }
