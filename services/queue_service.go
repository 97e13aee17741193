package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"matchmaking-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueueService admits parties into the matchmaking queue, supports
// cancellation and sweeps out entries past their maxWaitDuration.
type QueueService struct {
	DB     *gorm.DB
	Cfg    Config
	Ledger PartyLedger
	Events *EventService
}

func NewQueueService(db *gorm.DB, cfg Config, ledger PartyLedger, events *EventService) *QueueService {
	return &QueueService{DB: db, Cfg: cfg, Ledger: ledger, Events: events}
}

// EnqueueRequest is the admission payload. Members[0] must be the caller.
type EnqueueRequest struct {
	Format        string   `json:"format"`
	Stake         float64  `json:"stake"`
	Platform      string   `json:"platform,omitempty"`
	PaymentOption string   `json:"payment_option,omitempty"`
	Members       []string `json:"members"`
}

func (r *EnqueueRequest) validate() error {
	size := models.TeamSize(r.Format)
	if size == 0 {
		return fmt.Errorf("%w: unknown format %q", ErrBadRequest, r.Format)
	}
	if r.Stake <= 0 {
		return fmt.Errorf("%w: stake must be positive", ErrBadRequest)
	}
	n := len(r.Members)
	if n != 1 && n != 2 && n != 4 {
		return fmt.Errorf("%w: party size must be 1, 2 or 4", ErrBadRequest)
	}
	// A party must be combinable into a full team of its format.
	if n > size || size%n != 0 {
		return fmt.Errorf("%w: party of %d cannot fill a %s team", ErrBadRequest, n, r.Format)
	}
	seen := make(map[string]bool, n)
	for _, m := range r.Members {
		if m == "" || seen[m] {
			return fmt.Errorf("%w: duplicate or empty member", ErrBadRequest)
		}
		seen[m] = true
	}
	switch r.PaymentOption {
	case "":
		r.PaymentOption = models.PaymentSplit
	case models.PaymentCaptain, models.PaymentSplit:
	default:
		return fmt.Errorf("%w: unknown payment option %q", ErrBadRequest, r.PaymentOption)
	}
	if n == 1 {
		// Solo parties always split; there is nobody to front for.
		r.PaymentOption = models.PaymentSplit
	}
	return nil
}

// EnqueueParty admits a party. Fails with ErrDuplicatePlayer if any member
// is already queued or in an active match, and with ErrPaymentFailed if
// the stake cannot be charged. The QueueEntry only becomes visible to the
// pairing tick once the charge succeeded (single transaction). Being
// queued is enforced by the QueuedPlayer reservation's primary key, so
// two racing enqueues for one player cannot both commit.
func (s *QueueService) EnqueueParty(ctx context.Context, req EnqueueRequest) (*models.QueueEntry, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var entry models.QueueEntry
	chargedParty := ""

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var active int64
		if err := tx.Table("match_players").
			Joins("JOIN matches ON matches.id = match_players.match_id").
			Where("match_players.player_id IN ? AND matches.state NOT IN ?", req.Members, models.TerminalStates).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return ErrDuplicatePlayer
		}

		party := models.Party{
			ID:            uuid.NewString(),
			Format:        req.Format,
			Stake:         req.Stake,
			Platform:      req.Platform,
			LeaderID:      req.Members[0],
			PaymentOption: req.PaymentOption,
		}
		if err := tx.Create(&party).Error; err != nil {
			return err
		}
		members := make([]models.PartyMember, 0, len(req.Members))
		for i, pid := range req.Members {
			members = append(members, models.PartyMember{
				ID:       uuid.NewString(),
				PartyID:  party.ID,
				PlayerID: pid,
				Slot:     i,
			})
		}
		if err := tx.Create(&members).Error; err != nil {
			return err
		}
		party.Members = members

		reservations := make([]models.QueuedPlayer, 0, len(members))
		for _, m := range members {
			reservations = append(reservations, models.QueuedPlayer{
				PlayerID: m.PlayerID,
				PartyID:  party.ID,
				QueuedAt: now,
			})
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&reservations)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != int64(len(reservations)) {
			return ErrDuplicatePlayer
		}

		if err := s.Ledger.ChargeParty(ctx, &party); err != nil {
			return fmt.Errorf("%w: %v", ErrPaymentFailed, err)
		}
		chargedParty = party.ID

		entry = models.QueueEntry{
			ID:        uuid.NewString(),
			PartyID:   party.ID,
			Format:    party.Format,
			Stake:     party.Stake,
			Platform:  party.Platform,
			Size:      len(members),
			QueuedAt:  now,
			ExpiresAt: now.Add(s.Cfg.MaxWait),
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		return s.Events.PublishTx(tx, req.Members, "", 0, EventQueued, fiber.Map{
			"party_id":   party.ID,
			"format":     party.Format,
			"stake":      party.Stake,
			"expires_at": entry.ExpiresAt,
		})
	})
	if err != nil {
		// The charge lives in the ledger service and survives the
		// rollback of our own rows, so a failure after it must
		// compensate instead of dropping the money.
		if chargedParty != "" {
			if rerr := s.Ledger.RefundParty(ctx, nil, chargedParty); rerr != nil {
				log.Printf("❌ [Queue] compensating refund for party %s failed: %v", chargedParty, rerr)
			}
		}
		return nil, err
	}
	return &entry, nil
}

// CancelQueue removes a waiting party and refunds its charges. Fails with
// ErrNotQueued if the party is absent — including when a concurrent
// pairing tick claimed it first (the claim deletes the entry in its own
// transaction, so exactly one of the two wins).
func (s *QueueService) CancelQueue(ctx context.Context, partyID string) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("party_id = ?", partyID).Delete(&models.QueueEntry{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotQueued
		}
		if err := tx.Where("party_id = ?", partyID).Delete(&models.QueuedPlayer{}).Error; err != nil {
			return err
		}

		if err := s.Ledger.RefundParty(ctx, nil, partyID); err != nil {
			return fmt.Errorf("refund on cancel failed: %w", err)
		}

		players, err := partyPlayerIDs(tx, partyID)
		if err != nil {
			return err
		}
		return s.Events.PublishTx(tx, players, "", 0, EventQueueCancelled, fiber.Map{
			"party_id": partyID,
		})
	})
}

// ExpiredEntries snapshots entries whose expiresAt has passed, oldest
// first. The caller removes them; re-running after a partial sweep just
// returns whatever is still expired.
func (s *QueueService) ExpiredEntries(now time.Time) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	err := s.DB.
		Where("expires_at <= ?", now).
		Order("expires_at ASC, party_id ASC").
		Find(&entries).Error
	return entries, err
}

// SweepExpired removes every expired entry, refunding and notifying the
// affected parties. Each entry is claimed in its own transaction so the
// sweep races safely with cancellation and the pairing tick.
func (s *QueueService) SweepExpired(ctx context.Context, now time.Time) int {
	entries, err := s.ExpiredEntries(now)
	if err != nil {
		log.Printf("[Queue] expiry sweep query failed: %v", err)
		return 0
	}

	removed := 0
	for _, e := range entries {
		err := s.DB.Transaction(func(tx *gorm.DB) error {
			res := tx.Where("id = ?", e.ID).Delete(&models.QueueEntry{})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				// already claimed by pairing or cancelled
				return nil
			}
			if err := tx.Where("party_id = ?", e.PartyID).Delete(&models.QueuedPlayer{}).Error; err != nil {
				return err
			}

			if err := s.Ledger.RefundParty(ctx, nil, e.PartyID); err != nil {
				return fmt.Errorf("refund on queue timeout failed: %w", err)
			}

			players, err := partyPlayerIDs(tx, e.PartyID)
			if err != nil {
				return err
			}
			removed++
			return s.Events.PublishTx(tx, players, "", 0, EventQueueTimeout, fiber.Map{
				"party_id":  e.PartyID,
				"queued_at": e.QueuedAt,
			})
		})
		if err != nil {
			log.Printf("[Queue] failed to expire entry %s: %v", e.ID, err)
		}
	}
	return removed
}

func partyPlayerIDs(tx *gorm.DB, partyID string) ([]string, error) {
	var ids []string
	err := tx.Model(&models.PartyMember{}).
		Where("party_id = ?", partyID).
		Order("slot ASC").
		Pluck("player_id", &ids).Error
	return ids, err
}

// Enqueue is the fiber handler for POST /s/queue.
func (s *QueueService) Enqueue(c *fiber.Ctx) error {
	var req EnqueueRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}

	userID, _ := c.Locals("user_id").(string)
	if len(req.Members) == 0 {
		req.Members = []string{userID}
	}
	if len(req.Members) == 0 || req.Members[0] != userID {
		return c.Status(403).JSON(fiber.Map{"error": "caller must be the party leader"})
	}

	entry, err := s.EnqueueParty(c.Context(), req)
	if err != nil {
		return c.Status(StatusForError(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(201).JSON(entry)
}

// Cancel is the fiber handler for DELETE /s/queue/:party_id.
func (s *QueueService) Cancel(c *fiber.Ctx) error {
	partyID := c.Params("party_id")
	if partyID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "party_id is required"})
	}

	if err := s.CancelQueue(c.Context(), partyID); err != nil {
		return c.Status(StatusForError(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"message": "party removed from queue", "party_id": partyID})
}
