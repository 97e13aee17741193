package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"matchmaking-system/models"
	"matchmaking-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ArbitrationService reconciles result submissions into a final outcome.
// Agreement settles, conflict disputes (never auto-resolved), and a lone
// claim becomes authoritative only after a fixed grace window with the
// opposing side silent. The grace policy is configuration, not caller
// input, so neither side can tune it.
type ArbitrationService struct {
	DB        *gorm.DB
	Cfg       Config
	Lifecycle *LifecycleService
}

func NewArbitrationService(db *gorm.DB, cfg Config, lifecycle *LifecycleService) *ArbitrationService {
	return &ArbitrationService{DB: db, Cfg: cfg, Lifecycle: lifecycle}
}

// SubmitResult records one side's claim. Submitting while the match is
// still in_progress counts as the "match ended" signal first. A repeat
// submission by the same side supersedes its prior one; only the latest
// counts.
func (s *ArbitrationService) SubmitResult(ctx context.Context, matchID, playerID, claimedWinner, evidenceRef string, now time.Time) (*models.ResultSubmission, error) {
	if claimedWinner != models.SideA && claimedWinner != models.SideB {
		return nil, fmt.Errorf("%w: claimed winner must be %s or %s", ErrBadRequest, models.SideA, models.SideB)
	}

	side, err := s.Lifecycle.playerSide(matchID, playerID)
	if err != nil {
		return nil, err
	}

	var m models.Match
	if err := s.DB.First(&m, "id = ?", matchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: match not found", ErrInvalidState)
		}
		return nil, err
	}
	if m.State == models.MatchInProgress {
		if err := s.Lifecycle.finish(matchID, "result_submitted", now); err != nil {
			return nil, err
		}
		m.State = models.MatchAwaitingResult
	}
	if m.State != models.MatchAwaitingResult {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidState, matchID, m.State)
	}

	sub := models.ResultSubmission{
		ID:            uuid.NewString(),
		MatchID:       matchID,
		Side:          side,
		SubmittedBy:   playerID,
		ClaimedWinner: claimedWinner,
		EvidenceRef:   evidenceRef,
		SubmittedAt:   now,
	}
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		// Supersede the side's prior active claim; latest wins. Two
		// racing submissions for one side both pass the update without
		// seeing each other, but the partial unique index on
		// (match_id, side) WHERE NOT superseded fails the second insert,
		// so at most one claim per side is ever active.
		err := tx.Model(&models.ResultSubmission{}).
			Where("match_id = ? AND side = ? AND superseded = ?", matchID, side, false).
			Update("superseded", true).Error
		if err != nil {
			return err
		}
		return tx.Create(&sub).Error
	})
	if err != nil {
		return nil, err
	}

	if err := s.TryResolve(ctx, matchID, now); err != nil {
		log.Printf("[Arbitration] match %s: resolve after submission failed: %v", matchID, err)
	}
	return &sub, nil
}

// TryResolve inspects the active submissions for a match awaiting results
// and applies the arbitration policy. It is safe to call repeatedly.
func (s *ArbitrationService) TryResolve(ctx context.Context, matchID string, now time.Time) error {
	var m models.Match
	if err := s.DB.First(&m, "id = ?", matchID).Error; err != nil {
		return err
	}
	if m.State != models.MatchAwaitingResult {
		return nil
	}

	var active []models.ResultSubmission
	err := s.DB.
		Where("match_id = ? AND superseded = ?", matchID, false).
		Order("side ASC").
		Find(&active).Error
	if err != nil {
		return err
	}

	// Settlement needs one claim from each side; two claims from the same
	// side are never an agreement. Latest submission wins per side.
	bySide := make(map[string]models.ResultSubmission, 2)
	for _, sub := range active {
		prev, seen := bySide[sub.Side]
		if !seen || sub.SubmittedAt.After(prev.SubmittedAt) {
			bySide[sub.Side] = sub
		}
	}
	claimA, hasA := bySide[models.SideA]
	claimB, hasB := bySide[models.SideB]

	switch {
	case hasA && hasB:
		if claimA.ClaimedWinner == claimB.ClaimedWinner {
			return s.Lifecycle.Settle(ctx, matchID, models.MatchAwaitingResult, claimA.ClaimedWinner, "results_agreed")
		}
		return s.Lifecycle.Dispute(matchID)

	case hasA || hasB:
		sub := claimA
		if hasB {
			sub = claimB
		}
		graceOver := !now.Before(sub.SubmittedAt.Add(s.Cfg.LoneClaimGrace))
		deadlinePassed := m.SettleDeadline != nil && !now.Before(*m.SettleDeadline)
		if graceOver || deadlinePassed {
			return s.Lifecycle.Settle(ctx, matchID, models.MatchAwaitingResult, sub.ClaimedWinner, "lone_claim_accepted")
		}
	}
	return nil
}

// Sweep resolves every match awaiting results: lone claims past their
// grace window settle, and matches whose deadline elapsed with zero
// submissions are cancelled with refunds.
func (s *ArbitrationService) Sweep(ctx context.Context, now time.Time) {
	var waiting []models.Match
	err := s.DB.Where("state = ?", models.MatchAwaitingResult).Find(&waiting).Error
	if err != nil {
		log.Printf("[Arbitration] sweep query failed: %v", err)
		return
	}

	for _, m := range waiting {
		if err := s.TryResolve(ctx, m.ID, now); err != nil {
			log.Printf("[Arbitration] match %s: sweep resolve failed: %v", m.ID, err)
			continue
		}

		if m.SettleDeadline == nil || now.Before(*m.SettleDeadline) {
			continue
		}
		var subs int64
		if err := s.DB.Model(&models.ResultSubmission{}).Where("match_id = ?", m.ID).Count(&subs).Error; err != nil {
			log.Printf("[Arbitration] match %s: submission count failed: %v", m.ID, err)
			continue
		}
		if subs == 0 {
			s.Lifecycle.CancelNoShow(ctx, m.ID)
		}
	}
}

// Submit is the fiber handler for POST /s/matches/:id/results.
func (s *ArbitrationService) Submit(c *fiber.Ctx) error {
	type Req struct {
		ClaimedWinner string `json:"claimed_winner"`
		EvidenceRef   string `json:"evidence_ref,omitempty"`
	}
	matchID := c.Params("id")
	userID, _ := c.Locals("user_id").(string)

	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}

	sub, err := s.SubmitResult(c.Context(), matchID, userID, req.ClaimedWinner, req.EvidenceRef, time.Now().UTC())
	if err != nil {
		return c.Status(StatusForError(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(201).JSON(sub)
}

// UploadEvidence is the fiber handler for POST /s/matches/:id/evidence.
// The file lands in object storage and the returned ref goes into the
// result submission.
func (s *ArbitrationService) UploadEvidence(c *fiber.Ctx) error {
	matchID := c.Params("id")
	userID, _ := c.Locals("user_id").(string)

	if _, err := s.Lifecycle.playerSide(matchID, userID); err != nil {
		return c.Status(StatusForError(err)).JSON(fiber.Map{"error": err.Error()})
	}

	fileHeader, err := c.FormFile("evidence")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "evidence file is required"})
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if !acceptableEvidence(contentType) {
		err := fmt.Errorf("%w: unsupported content type %q", ErrEvidenceRejected, contentType)
		return c.Status(StatusForError(err)).JSON(fiber.Map{"error": err.Error()})
	}

	key := fmt.Sprintf("evidence/%s/%s_%s", matchID, uuid.NewString(), fileHeader.Filename)
	ref, err := utils.UploadEvidence(fileHeader, key)
	if err != nil {
		log.Printf("[Arbitration] evidence upload failed for match %s: %v", matchID, err)
		return c.Status(502).JSON(fiber.Map{"error": "evidence storage unavailable"})
	}

	return c.Status(201).JSON(fiber.Map{"evidence_ref": ref})
}

func acceptableEvidence(contentType string) bool {
	return strings.HasPrefix(contentType, "image/") || strings.HasPrefix(contentType, "video/")
}
