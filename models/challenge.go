package models

import (
	"time"
)

// ChallengeType decides which progress events feed a challenge's counters.
type ChallengeType string

const (
	ChallengeTaskSprint       ChallengeType = "task_sprint"
	ChallengeXPRace           ChallengeType = "xp_race"
	ChallengeStreakShowdown   ChallengeType = "streak_showdown"
	ChallengeQuestChampion    ChallengeType = "quest_champion"
	ChallengeChecklistBlitz   ChallengeType = "checklist_blitz"
	ChallengeDocumentDash     ChallengeType = "document_dash"
	ChallengeContactCollector ChallengeType = "contact_collector"
)

// EventKind is the upstream domain event vocabulary (see ProgressService).
type EventKind string

const (
	EventTaskCompleted     EventKind = "task_completed"
	EventXPGained          EventKind = "xp_gained"
	EventStreakAdvanced    EventKind = "streak_advanced"
	EventQuestCompleted    EventKind = "quest_completed"
	EventChecklistItemDone EventKind = "checklist_item_done"
	EventDocumentAdded     EventKind = "document_added"
	EventContactAdded      EventKind = "contact_added"
)

// EventKind returns the single event kind that advances this challenge type.
// The mapping is fixed; adding a challenge type without extending this switch
// yields an empty kind that matches no events.
func (t ChallengeType) EventKind() EventKind {
	switch t {
	case ChallengeTaskSprint:
		return EventTaskCompleted
	case ChallengeXPRace:
		return EventXPGained
	case ChallengeStreakShowdown:
		return EventStreakAdvanced
	case ChallengeQuestChampion:
		return EventQuestCompleted
	case ChallengeChecklistBlitz:
		return EventChecklistItemDone
	case ChallengeDocumentDash:
		return EventDocumentAdded
	case ChallengeContactCollector:
		return EventContactAdded
	}
	return ""
}

// ChallengeTypeForEvent is the inverse mapping used by the tracker.
func ChallengeTypeForEvent(kind EventKind) (ChallengeType, bool) {
	for _, t := range AllChallengeTypes {
		if t.EventKind() == kind {
			return t, true
		}
	}
	return "", false
}

var AllChallengeTypes = []ChallengeType{
	ChallengeTaskSprint,
	ChallengeXPRace,
	ChallengeStreakShowdown,
	ChallengeQuestChampion,
	ChallengeChecklistBlitz,
	ChallengeDocumentDash,
	ChallengeContactCollector,
}

// DurationClass maps to a concrete window once the challenge goes active.
type DurationClass string

const (
	DurationThreeDays DurationClass = "3_days"
	DurationOneWeek   DurationClass = "1_week"
	DurationTwoWeeks  DurationClass = "2_weeks"
	DurationOneMonth  DurationClass = "1_month"
)

// Window returns the active duration for the class (0 for unknown classes).
func (d DurationClass) Window() time.Duration {
	switch d {
	case DurationThreeDays:
		return 3 * 24 * time.Hour
	case DurationOneWeek:
		return 7 * 24 * time.Hour
	case DurationTwoWeeks:
		return 14 * 24 * time.Hour
	case DurationOneMonth:
		return 30 * 24 * time.Hour
	}
	return 0
}

// Challenge lifecycle states. The store is the only writer of Status; every
// transition is a guarded compare-and-swap on the previous state.
const (
	StatusInvitation = "invitation"
	StatusPending    = "pending"
	StatusActive     = "active"
	StatusCompleted  = "completed"
	StatusDeclined   = "declined"
	StatusCancelled  = "cancelled"
)

// Challenge is a 1v1 XP wager between two businesses.
type Challenge struct {
	ID   string `json:"id" gorm:"primaryKey"`
	Slug string `json:"slug" gorm:"index"`
	Name string `json:"name" gorm:"not null"`

	Type          ChallengeType `json:"type" gorm:"type:varchar(32);not null;index"`
	DurationClass DurationClass `json:"duration_class" gorm:"type:varchar(16);not null"`
	Status        string        `json:"status" gorm:"type:varchar(16);default:'pending';index"`

	CreatorBusinessID  string  `json:"creator_business_id" gorm:"not null;index"`
	OpponentBusinessID *string `json:"opponent_business_id,omitempty" gorm:"index"` // set for direct invites

	// InviteCode is only meaningful while the challenge is joinable; lookups
	// always filter on status so codes of settled challenges can never match.
	InviteCode      string `json:"invite_code,omitempty" gorm:"type:varchar(8);index"`
	HandicapEnabled bool   `json:"handicap_enabled" gorm:"default:true"`
	IsPublic        bool   `json:"is_public" gorm:"default:false"`

	StartedAt        *time.Time `json:"started_at,omitempty"`
	EndsAt           *time.Time `json:"ends_at,omitempty" gorm:"index"`
	WinnerBusinessID *string    `json:"winner_business_id,omitempty"`

	Participants []ChallengeParticipant `json:"participants,omitempty" gorm:"foreignKey:ChallengeID"`

	Timestamps
}

// ChallengeParticipant is one side of a challenge. Exactly two rows exist
// once a challenge is active.
type ChallengeParticipant struct {
	ID          string `json:"id" gorm:"primaryKey"`
	ChallengeID string `json:"challenge_id" gorm:"not null;index:idx_challenge_business,unique"`
	BusinessID  string `json:"business_id" gorm:"not null;index:idx_challenge_business,unique"`

	XPWagered       int64 `json:"xp_wagered" gorm:"default:0"`
	HandicapPercent int   `json:"handicap_percent" gorm:"default:0"`

	RawProgress      int64 `json:"raw_progress" gorm:"default:0"`
	AdjustedProgress int64 `json:"adjusted_progress" gorm:"default:0"`

	XPWon  int64 `json:"xp_won" gorm:"default:0"`
	XPLost int64 `json:"xp_lost" gorm:"default:0"`

	Timestamps
}
