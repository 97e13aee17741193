package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"matchmaking-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// LifecycleService owns the room lifecycle state machine:
//
//	forming → room_assigned → in_progress → awaiting_result
//	                                       → settled | cancelled | disputed
//
// Every transition is a guarded UPDATE (WHERE state = from) plus one row
// appended to the transition log, inside one transaction. Re-applying a
// transition whose target state already holds is a no-op, not an error.
// All timeouts are re-derived from persisted deadlines by SweepDeadlines,
// so a restarted process picks up in-flight matches where they were.
type LifecycleService struct {
	DB     *gorm.DB
	Cfg    Config
	Rooms  RoomAllocator
	Ledger PartyLedger
	Events *EventService
}

func NewLifecycleService(db *gorm.DB, cfg Config, rooms RoomAllocator, ledger PartyLedger, events *EventService) *LifecycleService {
	return &LifecycleService{DB: db, Cfg: cfg, Rooms: rooms, Ledger: ledger, Events: events}
}

// appendTransitionTx assigns the next per-match sequence number and logs
// the transition. Must run inside the transaction doing the state change.
func appendTransitionTx(tx *gorm.DB, matchID, from, to, cause string) (int, error) {
	var last int
	err := tx.Model(&models.MatchTransition{}).
		Where("match_id = ?", matchID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&last).Error
	if err != nil {
		return 0, err
	}
	seq := last + 1
	t := models.MatchTransition{
		MatchID:   matchID,
		Seq:       seq,
		FromState: from,
		ToState:   to,
		Cause:     cause,
	}
	if err := tx.Create(&t).Error; err != nil {
		return 0, err
	}
	return seq, nil
}

// transition moves a match from → to with extra column updates, appends
// the log row and fans out a match_update event, all in one transaction.
// extra runs inside the same transaction after the state change (refunds,
// payouts). Returns nil without side effects if the match already reached
// to (idempotent replay).
func (s *LifecycleService) transition(matchID, from, to, cause string, updates map[string]interface{}, extra func(tx *gorm.DB, m *models.Match) error) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		if updates == nil {
			updates = map[string]interface{}{}
		}
		updates["state"] = to

		res := tx.Model(&models.Match{}).
			Where("id = ? AND state = ?", matchID, from).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var m models.Match
			if err := tx.First(&m, "id = ?", matchID).Error; err != nil {
				return err
			}
			if m.State == to {
				return nil // already applied
			}
			return fmt.Errorf("%w: %s is %s, wanted %s", ErrInvalidState, matchID, m.State, from)
		}

		seq, err := appendTransitionTx(tx, matchID, from, to, cause)
		if err != nil {
			return err
		}
		log.Printf("[Lifecycle] match %s: %s → %s (%s, seq %d)", matchID, from, to, cause, seq)

		var m models.Match
		if err := tx.First(&m, "id = ?", matchID).Error; err != nil {
			return err
		}
		if extra != nil {
			if err := extra(tx, &m); err != nil {
				return err
			}
		}

		players, err := matchPlayerIDs(tx, matchID)
		if err != nil {
			return err
		}
		return s.Events.PublishTx(tx, players, matchID, seq, EventMatchUpdate, fiber.Map{
			"match_id":        m.ID,
			"code":            m.Code,
			"from":            from,
			"state":           m.State,
			"cause":           cause,
			"room_id":         m.RoomID,
			"room_password":   m.RoomPassword,
			"ready_deadline":  m.ReadyDeadline,
			"result_deadline": m.ResultDeadline,
			"settle_deadline": m.SettleDeadline,
			"winner":          m.Winner,
		})
	})
}

// AllocateRooms drives every forming match through room provisioning.
// Allocation is retried with exponential backoff up to RoomRetries
// attempts; exhaustion cancels the match and refunds both sides.
func (s *LifecycleService) AllocateRooms(ctx context.Context, now time.Time) {
	var forming []models.Match
	if err := s.DB.Where("state = ?", models.MatchForming).Find(&forming).Error; err != nil {
		log.Printf("[Lifecycle] allocation query failed: %v", err)
		return
	}

	for _, m := range forming {
		creds, attempts, err := s.allocateWithRetry(ctx, m.ID, m.Format)
		if err != nil {
			log.Printf("[Lifecycle] match %s: room allocation exhausted after %d attempts: %v", m.ID, attempts, err)
			s.cancelWithRefund(ctx, m.ID, models.MatchForming, "RoomAllocationFailed")
			continue
		}

		deadline := now.Add(s.Cfg.ReadyGrace)
		err = s.transition(m.ID, models.MatchForming, models.MatchRoomAssigned, "room_allocated", map[string]interface{}{
			"room_id":        creds.RoomID,
			"room_password":  creds.RoomPassword,
			"room_attempts":  attempts,
			"ready_deadline": deadline,
		}, nil)
		if err != nil {
			log.Printf("[Lifecycle] match %s: room_assigned transition failed: %v", m.ID, err)
		}
	}
}

func (s *LifecycleService) allocateWithRetry(ctx context.Context, matchID, format string) (RoomCredentials, int, error) {
	backoff := s.Cfg.RoomRetryBackoff
	var lastErr error
	for attempt := 1; attempt <= s.Cfg.RoomRetries; attempt++ {
		creds, err := s.Rooms.AllocateRoom(ctx, matchID, format)
		if err == nil {
			return creds, attempt, nil
		}
		lastErr = err
		log.Printf("[Lifecycle] match %s: allocation attempt %d/%d failed: %v", matchID, attempt, s.Cfg.RoomRetries, err)
		if attempt < s.Cfg.RoomRetries {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return RoomCredentials{}, attempt, ctx.Err()
			}
			backoff *= 2
		}
	}
	return RoomCredentials{}, s.Cfg.RoomRetries, fmt.Errorf("%w: %v", ErrRoomAllocationFailed, lastErr)
}

// cancelWithRefund cancels from the given state and refunds every party.
// Refunds run inside the transition transaction: if one fails the
// transition rolls back and the next sweep retries the whole step, which
// is safe because refunds are idempotent per (match, party, player).
func (s *LifecycleService) cancelWithRefund(ctx context.Context, matchID, from, cause string) {
	err := s.transition(matchID, from, models.MatchCancelled, cause, nil, func(tx *gorm.DB, m *models.Match) error {
		return s.refundParties(ctx, tx, matchID)
	})
	if err != nil {
		log.Printf("[Lifecycle] match %s: cancel (%s) failed: %v", matchID, cause, err)
	}
}

func (s *LifecycleService) refundParties(ctx context.Context, tx *gorm.DB, matchID string) error {
	var partyIDs []string
	err := tx.Model(&models.MatchPlayer{}).
		Where("match_id = ?", matchID).
		Distinct().
		Pluck("party_id", &partyIDs).Error
	if err != nil {
		return err
	}
	for _, pid := range partyIDs {
		if err := s.Ledger.RefundParty(ctx, &matchID, pid); err != nil {
			return fmt.Errorf("refund party %s: %w", pid, err)
		}
	}
	return nil
}

// SignalReady records one side's readiness. When both sides are ready the
// match starts; otherwise the readiness grace deadline will presume the
// start. Safe to call twice; returns nil if the match already started.
func (s *LifecycleService) SignalReady(ctx context.Context, matchID, playerID string, now time.Time) error {
	side, err := s.playerSide(matchID, playerID)
	if err != nil {
		return err
	}

	col := "team_a_ready"
	if side == models.SideB {
		col = "team_b_ready"
	}

	var bothReady bool
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Match{}).
			Where("id = ? AND state = ?", matchID, models.MatchRoomAssigned).
			Update(col, true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var m models.Match
			if err := tx.First(&m, "id = ?", matchID).Error; err != nil {
				return err
			}
			if m.State == models.MatchInProgress || m.State == models.MatchAwaitingResult {
				return nil // already started, signal is moot
			}
			return fmt.Errorf("%w: %s is %s", ErrInvalidState, matchID, m.State)
		}

		var m models.Match
		if err := tx.First(&m, "id = ?", matchID).Error; err != nil {
			return err
		}
		bothReady = m.TeamAReady && m.TeamBReady
		return nil
	})
	if err != nil {
		return err
	}

	if bothReady {
		return s.start(matchID, "both_ready", now)
	}
	return nil
}

// SignalFinished is the explicit "match ended" signal from either side.
func (s *LifecycleService) SignalFinished(ctx context.Context, matchID, playerID string, now time.Time) error {
	if _, err := s.playerSide(matchID, playerID); err != nil {
		return err
	}
	return s.finish(matchID, "reported_finished", now)
}

func (s *LifecycleService) start(matchID, cause string, now time.Time) error {
	return s.transition(matchID, models.MatchRoomAssigned, models.MatchInProgress, cause, map[string]interface{}{
		"result_deadline": now.Add(s.Cfg.PlayWindow),
	}, nil)
}

func (s *LifecycleService) finish(matchID, cause string, now time.Time) error {
	return s.transition(matchID, models.MatchInProgress, models.MatchAwaitingResult, cause, map[string]interface{}{
		"settle_deadline": now.Add(s.Cfg.ResultWindow),
	}, nil)
}

// SweepDeadlines applies every wall-clock timeout that has elapsed:
// readiness grace (presume started) and play window (await results).
func (s *LifecycleService) SweepDeadlines(ctx context.Context, now time.Time) {
	var stale []models.Match
	err := s.DB.
		Where("state = ? AND ready_deadline <= ?", models.MatchRoomAssigned, now).
		Find(&stale).Error
	if err != nil {
		log.Printf("[Lifecycle] ready sweep query failed: %v", err)
	} else {
		for _, m := range stale {
			if err := s.start(m.ID, "ready_grace_elapsed", now); err != nil {
				log.Printf("[Lifecycle] match %s: presumed start failed: %v", m.ID, err)
			}
		}
	}

	var playing []models.Match
	err = s.DB.
		Where("state = ? AND result_deadline <= ?", models.MatchInProgress, now).
		Find(&playing).Error
	if err != nil {
		log.Printf("[Lifecycle] play-window sweep query failed: %v", err)
		return
	}
	for _, m := range playing {
		if err := s.finish(m.ID, "play_window_elapsed", now); err != nil {
			log.Printf("[Lifecycle] match %s: play-window close failed: %v", m.ID, err)
		}
	}
}

// Settle resolves a match to a winner and pays out the winning team,
// inside the settling transaction. Each winner receives stake × 2 × (1 −
// rake): their own stake back plus the opposing stake minus the platform
// cut. Payouts are idempotent per (match, player).
func (s *LifecycleService) Settle(ctx context.Context, matchID, from, winner, cause string) error {
	if winner != models.SideA && winner != models.SideB {
		return fmt.Errorf("%w: unknown winner %q", ErrBadRequest, winner)
	}
	return s.transition(matchID, from, models.MatchSettled, cause, map[string]interface{}{
		"winner": winner,
	}, func(tx *gorm.DB, m *models.Match) error {
		var winners []models.MatchPlayer
		if err := tx.Where("match_id = ? AND side = ?", matchID, winner).Find(&winners).Error; err != nil {
			return err
		}
		amount := m.Stake * 2 * (1 - s.Cfg.Rake)
		for _, p := range winners {
			if err := s.Ledger.PayoutPlayer(ctx, matchID, p.PartyID, p.PlayerID, amount); err != nil {
				return fmt.Errorf("payout to %s: %w", p.PlayerID, err)
			}
		}
		return nil
	})
}

// Dispute parks a match for human resolution. No automatic transition
// ever leaves disputed.
func (s *LifecycleService) Dispute(matchID string) error {
	return s.transition(matchID, models.MatchAwaitingResult, models.MatchDisputed, "conflicting_results", nil, nil)
}

// ResolveDispute is the external resolution hook for disputed matches.
func (s *LifecycleService) ResolveDispute(ctx context.Context, matchID, winner string) error {
	return s.Settle(ctx, matchID, models.MatchDisputed, winner, "admin_resolved")
}

// CancelNoShow cancels a match whose result deadline elapsed with zero
// submissions, refunding both sides.
func (s *LifecycleService) CancelNoShow(ctx context.Context, matchID string) {
	s.cancelWithRefund(ctx, matchID, models.MatchAwaitingResult, "no_results")
}

// ReplayState recomputes a match's current state purely from its
// transition log, verifying chain continuity along the way.
func (s *LifecycleService) ReplayState(matchID string) (string, error) {
	var transitions []models.MatchTransition
	err := s.DB.
		Where("match_id = ?", matchID).
		Order("seq ASC").
		Find(&transitions).Error
	if err != nil {
		return "", err
	}
	if len(transitions) == 0 {
		return "", fmt.Errorf("no transitions recorded for match %s", matchID)
	}

	state := ""
	for _, t := range transitions {
		if t.FromState != state {
			return "", fmt.Errorf("broken transition chain for match %s at seq %d: have %q, log says %q", matchID, t.Seq, state, t.FromState)
		}
		state = t.ToState
	}
	return state, nil
}

// RecoverInFlight reconciles every non-terminal match's state column with
// its transition log on startup. The log wins: the column is a cache.
func (s *LifecycleService) RecoverInFlight() error {
	var open []models.Match
	if err := s.DB.Where("state NOT IN ?", models.TerminalStates).Find(&open).Error; err != nil {
		return err
	}
	for _, m := range open {
		replayed, err := s.ReplayState(m.ID)
		if err != nil {
			return err
		}
		if replayed != m.State {
			log.Printf("⚠️  [Lifecycle] match %s: state column %q disagrees with log %q, repairing", m.ID, m.State, replayed)
			if err := s.DB.Model(&models.Match{}).Where("id = ?", m.ID).Update("state", replayed).Error; err != nil {
				return err
			}
		}
	}
	log.Printf("[Lifecycle] recovery checked %d in-flight match(es)", len(open))
	return nil
}

func (s *LifecycleService) playerSide(matchID, playerID string) (string, error) {
	var mp models.MatchPlayer
	err := s.DB.Where("match_id = ? AND player_id = ?", matchID, playerID).First(&mp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotParticipant
	}
	if err != nil {
		return "", err
	}
	return mp.Side, nil
}

func matchPlayerIDs(tx *gorm.DB, matchID string) ([]string, error) {
	var ids []string
	err := tx.Model(&models.MatchPlayer{}).
		Where("match_id = ?", matchID).
		Order("side ASC, slot ASC").
		Pluck("player_id", &ids).Error
	return ids, err
}

// GetMatch is the fiber handler for GET /s/matches/:id. Room credentials
// are only included for participants.
func (s *LifecycleService) GetMatch(c *fiber.Ctx) error {
	matchID := c.Params("id")
	userID, _ := c.Locals("user_id").(string)

	var m models.Match
	if err := s.DB.Preload("Players").First(&m, "id = ?", matchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "match not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}

	participant := false
	for _, p := range m.Players {
		if p.PlayerID == userID {
			participant = true
			break
		}
	}
	if !participant {
		m.RoomID = nil
		m.RoomPassword = nil
	}
	return c.JSON(m)
}

// Ready is the fiber handler for POST /s/matches/:id/ready.
func (s *LifecycleService) Ready(c *fiber.Ctx) error {
	matchID := c.Params("id")
	userID, _ := c.Locals("user_id").(string)

	if err := s.SignalReady(c.Context(), matchID, userID, time.Now().UTC()); err != nil {
		return c.Status(StatusForError(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"message": "ready recorded", "match_id": matchID})
}

// Finish is the fiber handler for POST /s/matches/:id/finish.
func (s *LifecycleService) Finish(c *fiber.Ctx) error {
	matchID := c.Params("id")
	userID, _ := c.Locals("user_id").(string)

	if err := s.SignalFinished(c.Context(), matchID, userID, time.Now().UTC()); err != nil {
		return c.Status(StatusForError(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"message": "finish recorded", "match_id": matchID})
}

// Resolve is the fiber handler for POST /s/admin/matches/:id/resolve.
func (s *LifecycleService) Resolve(c *fiber.Ctx) error {
	type Req struct {
		Winner string `json:"winner"`
	}
	matchID := c.Params("id")
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}

	if err := s.ResolveDispute(c.Context(), matchID, req.Winner); err != nil {
		return c.Status(StatusForError(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"message": "dispute resolved", "match_id": matchID, "winner": req.Winner})
}
