package services

import (
	"errors"
	"log"
	"time"

	"challenge-service/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// LifecycleService is the public API of the challenge engine: create,
// invite, join-by-code, accept, decline, cancel, plus the read models.
// Wager escrow and state-machine legality are enforced here; the two
// participants' wagers need not be equal.
type LifecycleService struct {
	DB       *gorm.DB
	Store    *ChallengeStore
	Ledger   *LedgerService
	Notifier *NotifierClient
}

func NewLifecycleService(db *gorm.DB, store *ChallengeStore, ledger *LedgerService, notifier *NotifierClient) *LifecycleService {
	return &LifecycleService{DB: db, Store: store, Ledger: ledger, Notifier: notifier}
}

func validChallengeType(t models.ChallengeType) bool {
	return t.EventKind() != ""
}

// levelOf reads the mirrored directory level for a business. Businesses the
// directory has not synced yet compete at level 1.
func levelOf(tx *gorm.DB, businessID string) int {
	var mirror models.BusinessMirror
	if err := tx.Where("business_id = ?", businessID).First(&mirror).Error; err != nil {
		return 1
	}
	if mirror.Level < 1 {
		return 1
	}
	return mirror.Level
}

// CreateChallenge escrows the creator's wager and persists the challenge in
// its initial state: invitation when a direct opponent is named, pending
// otherwise. Escrow failure aborts before anything is written.
func (s *LifecycleService) CreateChallenge(creatorID, name string, ctype models.ChallengeType, dclass models.DurationClass, wager int64, handicapEnabled, isPublic bool, opponentID *string) (*models.Challenge, error) {
	if !validChallengeType(ctype) {
		return nil, errors.New("unknown challenge type")
	}
	if dclass.Window() == 0 {
		return nil, errors.New("unknown duration class")
	}
	if opponentID != nil && *opponentID == creatorID {
		return nil, errors.New("cannot challenge yourself")
	}

	var ch *models.Challenge
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		code, err := s.Store.GenerateInviteCode(tx)
		if err != nil {
			return err
		}

		status := models.StatusPending
		if opponentID != nil {
			status = models.StatusInvitation
		}

		ch = &models.Challenge{
			ID:                 uuid.NewString(),
			Slug:               slug.Make(name),
			Name:               name,
			Type:               ctype,
			DurationClass:      dclass,
			Status:             status,
			CreatorBusinessID:  creatorID,
			OpponentBusinessID: opponentID,
			InviteCode:         code,
			HandicapEnabled:    handicapEnabled,
			IsPublic:           isPublic,
		}

		if err := s.Ledger.Escrow(tx, creatorID, ch.ID, wager); err != nil {
			return err
		}
		if err := tx.Create(ch).Error; err != nil {
			return err
		}
		participant := models.ChallengeParticipant{
			ID:          uuid.NewString(),
			ChallengeID: ch.ID,
			BusinessID:  creatorID,
			XPWagered:   wager,
		}
		return tx.Create(&participant).Error
	})
	if err != nil {
		return nil, err
	}

	if opponentID != nil {
		s.Notifier.ChallengeInvited(ch.ID, creatorID, *opponentID)
	}
	return s.Store.GetByID(ch.ID)
}

// Invite targets (or re-targets) the opponent of a freshly created
// direct-invite challenge. Only the creator may do this, and only while the
// challenge is still an invitation.
func (s *LifecycleService) Invite(challengeID, creatorID, opponentID string) (*models.Challenge, error) {
	if opponentID == creatorID {
		return nil, errors.New("cannot challenge yourself")
	}
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var ch models.Challenge
		if err := tx.First(&ch, "id = ?", challengeID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrChallengeNotFound
			}
			return err
		}
		if ch.CreatorBusinessID != creatorID {
			return ErrNotParticipant
		}
		if ch.Status != models.StatusInvitation {
			return ErrInvalidStateTransition
		}
		return tx.Model(&ch).Update("opponent_business_id", opponentID).Error
	})
	if err != nil {
		return nil, err
	}
	s.Notifier.ChallengeInvited(challengeID, creatorID, opponentID)
	return s.Store.GetByID(challengeID)
}

// activate escrows the joiner's wager, performs the status CAS and writes
// both sides' handicaps. Runs entirely inside one transaction: if the CAS
// loses a race, the escrow rolls back with it.
func (s *LifecycleService) activate(tx *gorm.DB, ch *models.Challenge, joinerID string, wager int64, from string) error {
	if err := s.Ledger.Escrow(tx, joinerID, ch.ID, wager); err != nil {
		return err
	}
	now := time.Now()
	if _, err := s.Store.Activate(tx, ch.ID, from, now, ch.DurationClass.Window()); err != nil {
		return err
	}

	joiner := models.ChallengeParticipant{
		ID:          uuid.NewString(),
		ChallengeID: ch.ID,
		BusinessID:  joinerID,
		XPWagered:   wager,
	}
	if err := tx.Create(&joiner).Error; err != nil {
		return err
	}

	if !ch.HandicapEnabled {
		return nil
	}
	creatorPct, joinerPct := HandicapPercents(levelOf(tx, ch.CreatorBusinessID), levelOf(tx, joinerID))
	if err := tx.Model(&models.ChallengeParticipant{}).
		Where("challenge_id = ? AND business_id = ?", ch.ID, ch.CreatorBusinessID).
		Update("handicap_percent", creatorPct).Error; err != nil {
		return err
	}
	return tx.Model(&models.ChallengeParticipant{}).
		Where("challenge_id = ? AND business_id = ?", ch.ID, joinerID).
		Update("handicap_percent", joinerPct).Error
}

// JoinByCode looks up a pending challenge by its code and races the CAS to
// active. The loser of a simultaneous join gets ErrAlreadyJoined and its
// escrow rolled back.
func (s *LifecycleService) JoinByCode(code, businessID string, wager int64) (*models.Challenge, error) {
	var challengeID string
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		ch, err := s.Store.GetJoinableByCode(tx, code)
		if err != nil {
			return err
		}
		if ch.CreatorBusinessID == businessID {
			return errors.New("cannot join your own challenge")
		}
		challengeID = ch.ID
		return s.activate(tx, ch, businessID, wager, models.StatusPending)
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.Store.GetByID(challengeID)
	if err != nil {
		return nil, err
	}
	s.Notifier.ChallengeAccepted(challengeID, updated.CreatorBusinessID, businessID)
	return updated, nil
}

// Accept activates a direct invitation. Only the invited opponent may accept.
func (s *LifecycleService) Accept(challengeID, businessID string, wager int64) (*models.Challenge, error) {
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var ch models.Challenge
		if err := tx.First(&ch, "id = ?", challengeID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrChallengeNotFound
			}
			return err
		}
		if ch.OpponentBusinessID == nil || *ch.OpponentBusinessID != businessID {
			return ErrNotParticipant
		}
		return s.activate(tx, &ch, businessID, wager, models.StatusInvitation)
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.Store.GetByID(challengeID)
	if err != nil {
		return nil, err
	}
	s.Notifier.ChallengeAccepted(challengeID, updated.CreatorBusinessID, businessID)
	return updated, nil
}

// refundCreator gives back the creator's escrow when an invitation dies
// before activating. Idempotent via the ledger's (challenge, business,
// refund) key.
func (s *LifecycleService) refundCreator(tx *gorm.DB, ch *models.Challenge) error {
	var creator models.ChallengeParticipant
	if err := tx.Where("challenge_id = ? AND business_id = ?", ch.ID, ch.CreatorBusinessID).
		First(&creator).Error; err != nil {
		return err
	}
	return s.Ledger.Refund(tx, ch.ID, ch.CreatorBusinessID, creator.XPWagered)
}

// Decline lets the invited opponent turn down a direct invitation; the
// creator's wager flows back.
func (s *LifecycleService) Decline(challengeID, businessID string) (*models.Challenge, error) {
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var ch models.Challenge
		if err := tx.First(&ch, "id = ?", challengeID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrChallengeNotFound
			}
			return err
		}
		if ch.OpponentBusinessID == nil || *ch.OpponentBusinessID != businessID {
			return ErrNotParticipant
		}
		if err := s.Store.Decline(tx, ch.ID); err != nil {
			return err
		}
		return s.refundCreator(tx, &ch)
	})
	if err != nil {
		return nil, err
	}
	return s.Store.GetByID(challengeID)
}

// Cancel lets the creator withdraw a pending challenge nobody joined.
// Illegal once active; the invite code dies with the challenge.
func (s *LifecycleService) Cancel(challengeID, businessID string) (*models.Challenge, error) {
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var ch models.Challenge
		if err := tx.First(&ch, "id = ?", challengeID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrChallengeNotFound
			}
			return err
		}
		if ch.CreatorBusinessID != businessID {
			return ErrNotParticipant
		}
		if err := s.Store.Cancel(tx, ch.ID); err != nil {
			return err
		}
		return s.refundCreator(tx, &ch)
	})
	if err != nil {
		return nil, err
	}
	return s.Store.GetByID(challengeID)
}

// ChallengeList is the partitioned read model for one business.
type ChallengeList struct {
	Invitations []models.Challenge `json:"invitations"`
	Pending     []models.Challenge `json:"pending"`
	Active      []models.Challenge `json:"active"`
	Completed   []models.Challenge `json:"completed"`
}

// ListChallenges partitions everything a business is involved in by status.
func (s *LifecycleService) ListChallenges(businessID string) (*ChallengeList, error) {
	var challenges []models.Challenge
	err := s.DB.Preload("Participants").
		Where("creator_business_id = ? OR opponent_business_id = ?", businessID, businessID).
		Or("id IN (?)", s.DB.Model(&models.ChallengeParticipant{}).
			Select("challenge_id").
			Where("business_id = ?", businessID)).
		Order("created_at DESC").
		Find(&challenges).Error
	if err != nil {
		return nil, err
	}

	list := &ChallengeList{
		Invitations: []models.Challenge{},
		Pending:     []models.Challenge{},
		Active:      []models.Challenge{},
		Completed:   []models.Challenge{},
	}
	for _, ch := range challenges {
		switch ch.Status {
		case models.StatusInvitation:
			list.Invitations = append(list.Invitations, ch)
		case models.StatusPending:
			list.Pending = append(list.Pending, ch)
		case models.StatusActive:
			list.Active = append(list.Active, ch)
		case models.StatusCompleted:
			list.Completed = append(list.Completed, ch)
		}
	}
	return list, nil
}

// --- HTTP handlers ---

// statusForError maps the engine's error taxonomy onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrChallengeNotFound), errors.Is(err, ErrInvalidInviteCode):
		return fiber.StatusNotFound
	case errors.Is(err, ErrAlreadyJoined), errors.Is(err, ErrInvalidStateTransition):
		return fiber.StatusConflict
	case errors.Is(err, ErrNotParticipant):
		return fiber.StatusForbidden
	case errors.Is(err, ErrInsufficientFunds):
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}

func respondError(c *fiber.Ctx, err error) error {
	status := statusForError(err)
	if status == fiber.StatusInternalServerError {
		log.Printf("[Lifecycle] internal error: %v", err)
		return c.Status(status).JSON(fiber.Map{"error": "internal error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// actingBusinessID is the caller identity stamped by BusinessContextMiddleware.
// Request bodies never assert who is acting; the gateway header is the only
// source of identity on lifecycle routes.
func actingBusinessID(c *fiber.Ctx) string {
	id, _ := c.Locals("business_id").(string)
	return id
}

// CreateChallengeHandler handles POST /challenges. The authenticated business
// is the creator.
func (s *LifecycleService) CreateChallengeHandler(c *fiber.Ctx) error {
	var req struct {
		Name               string               `json:"name"`
		Type               models.ChallengeType `json:"type"`
		DurationClass      models.DurationClass `json:"duration_class"`
		Wager              int64                `json:"wager"`
		HandicapEnabled    *bool                `json:"handicap_enabled"`
		IsPublic           bool                 `json:"is_public"`
		OpponentBusinessID *string              `json:"opponent_business_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if req.Name == "" {
		return c.Status(400).JSON(fiber.Map{"error": "name is required"})
	}
	if req.Wager < 0 {
		return c.Status(400).JSON(fiber.Map{"error": "wager must be non-negative"})
	}
	handicap := true
	if req.HandicapEnabled != nil {
		handicap = *req.HandicapEnabled
	}
	ch, err := s.CreateChallenge(actingBusinessID(c), req.Name, req.Type, req.DurationClass, req.Wager, handicap, req.IsPublic, req.OpponentBusinessID)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(201).JSON(ch)
}

// InviteHandler handles POST /challenges/:id/invite.
func (s *LifecycleService) InviteHandler(c *fiber.Ctx) error {
	var req struct {
		OpponentBusinessID string `json:"opponent_business_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if req.OpponentBusinessID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "opponent_business_id is required"})
	}
	ch, err := s.Invite(c.Params("id"), actingBusinessID(c), req.OpponentBusinessID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(ch)
}

// JoinByCodeHandler handles POST /challenges/join.
func (s *LifecycleService) JoinByCodeHandler(c *fiber.Ctx) error {
	var req struct {
		Code  string `json:"code"`
		Wager int64  `json:"wager"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if req.Code == "" {
		return c.Status(400).JSON(fiber.Map{"error": "code is required"})
	}
	ch, err := s.JoinByCode(req.Code, actingBusinessID(c), req.Wager)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(ch)
}

// AcceptHandler handles POST /challenges/:id/accept.
func (s *LifecycleService) AcceptHandler(c *fiber.Ctx) error {
	var req struct {
		Wager int64 `json:"wager"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	ch, err := s.Accept(c.Params("id"), actingBusinessID(c), req.Wager)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(ch)
}

// DeclineHandler handles POST /challenges/:id/decline.
func (s *LifecycleService) DeclineHandler(c *fiber.Ctx) error {
	ch, err := s.Decline(c.Params("id"), actingBusinessID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(ch)
}

// CancelHandler handles POST /challenges/:id/cancel.
func (s *LifecycleService) CancelHandler(c *fiber.Ctx) error {
	ch, err := s.Cancel(c.Params("id"), actingBusinessID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(ch)
}

// GetChallengeHandler handles GET /challenges/:id.
func (s *LifecycleService) GetChallengeHandler(c *fiber.Ctx) error {
	ch, err := s.Store.GetByID(c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(ch)
}

// ListChallengesHandler handles GET /businesses/:id/challenges.
func (s *LifecycleService) ListChallengesHandler(c *fiber.Ctx) error {
	list, err := s.ListChallenges(c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(list)
}

// ListOpenChallengesHandler handles GET /challenges/open: public pending
// challenges anyone may browse and join through the normal code path.
func (s *LifecycleService) ListOpenChallengesHandler(c *fiber.Ctx) error {
	var challenges []models.Challenge
	if err := s.DB.Preload("Participants").
		Where("is_public = ? AND status = ?", true, models.StatusPending).
		Order("created_at DESC").
		Limit(100).
		Find(&challenges).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch open challenges"})
	}
	return c.JSON(challenges)
}
