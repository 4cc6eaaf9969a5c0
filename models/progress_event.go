package models

import "time"

// ProcessedEvent is the dedup window for progress ingestion. Upstream
// systems may redeliver; the primary key on EventID turns a redelivery into
// a no-op instead of a double count.
type ProcessedEvent struct {
	EventID    string    `json:"event_id" gorm:"primaryKey;type:varchar(64)"`
	BusinessID string    `json:"business_id" gorm:"not null;index"`
	Kind       EventKind `json:"kind" gorm:"type:varchar(32);not null"`
	Amount     int64     `json:"amount" gorm:"default:1"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
}
