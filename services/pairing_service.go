package services

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"matchmaking-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// PairingService drains the queue on a fixed cadence and forms matches.
// Pairing is strict FIFO by queuedAt with partyId lexical tie-break, so an
// identical queue snapshot always produces the identical pairing.
type PairingService struct {
	DB     *gorm.DB
	Cfg    Config
	Events *EventService
}

func NewPairingService(db *gorm.DB, cfg Config, events *EventService) *PairingService {
	return &PairingService{DB: db, Cfg: cfg, Events: events}
}

type bucketKey struct {
	Format   string
	Stake    float64
	Platform string
}

func (k bucketKey) String() string {
	return fmt.Sprintf("%s/%g/%s", k.Format, k.Stake, k.Platform)
}

// Tick runs one pairing pass over every (format, stake, platform) bucket
// and returns the matches it formed. Buckets are processed in sorted key
// order; leftovers stay queued for the next tick.
func (s *PairingService) Tick(now time.Time) ([]*models.Match, error) {
	var entries []models.QueueEntry
	err := s.DB.
		Order("queued_at ASC, party_id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}

	buckets := make(map[bucketKey][]models.QueueEntry)
	for _, e := range entries {
		k := bucketKey{Format: e.Format, Stake: e.Stake, Platform: e.Platform}
		buckets[k] = append(buckets[k], e)
	}

	keys := make([]bucketKey, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	var formed []*models.Match
	for _, k := range keys {
		waiting := buckets[k]
		teamSize := models.TeamSize(k.Format)
		for {
			teamA, teamB, rest, ok := buildTeams(waiting, teamSize)
			if !ok {
				break
			}
			m, err := s.formMatch(k, teamA, teamB)
			if err != nil {
				// A claimed entry means a racing cancel/expiry won; the
				// rest of the bucket is retried next tick.
				log.Printf("[Pairing] bucket %s: %v", k, err)
				break
			}
			formed = append(formed, m)
			waiting = rest
		}
	}
	return formed, nil
}

// buildTeams fills two teams of exactly teamSize players from the FIFO
// bucket. Parties go to the first team with room for them; parties that
// fit neither stay queued. A small party can hold the last slots of a
// team that an older large party needs; when that leaves a team short
// while a party overflowed, the newest member of the short team is
// requeued and the pass retried, so the misfit is the leftover rather
// than the whole bucket.
func buildTeams(waiting []models.QueueEntry, teamSize int) (teamA, teamB, rest []models.QueueEntry, ok bool) {
	skipped := make(map[string]bool)
	for {
		var a, b, left []models.QueueEntry
		remA, remB := teamSize, teamSize
		overflowed := false
		for _, e := range waiting {
			switch {
			case skipped[e.ID]:
				left = append(left, e)
			case e.Size <= remA:
				a = append(a, e)
				remA -= e.Size
			case e.Size <= remB:
				b = append(b, e)
				remB -= e.Size
			default:
				overflowed = true
				left = append(left, e)
			}
		}
		if remA == 0 && remB == 0 {
			return a, b, left, true
		}
		if !overflowed {
			return nil, nil, waiting, false
		}
		short := b
		if remA != 0 {
			short = a
		}
		if len(short) == 0 {
			return nil, nil, waiting, false
		}
		skipped[short[len(short)-1].ID] = true
	}
}

// formMatch atomically claims both teams' queue entries and creates the
// match. Partial claims roll back: either every party leaves the queue
// into this match, or none does.
func (s *PairingService) formMatch(k bucketKey, teamA, teamB []models.QueueEntry) (*models.Match, error) {
	var match *models.Match

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		claim := make([]string, 0, len(teamA)+len(teamB))
		parties := make([]string, 0, len(teamA)+len(teamB))
		for _, e := range teamA {
			claim = append(claim, e.ID)
			parties = append(parties, e.PartyID)
		}
		for _, e := range teamB {
			claim = append(claim, e.ID)
			parties = append(parties, e.PartyID)
		}

		res := tx.Where("id IN ?", claim).Delete(&models.QueueEntry{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != int64(len(claim)) {
			return fmt.Errorf("claimed %d of %d queue entries, rolling back", res.RowsAffected, len(claim))
		}
		if err := tx.Where("party_id IN ?", parties).Delete(&models.QueuedPlayer{}).Error; err != nil {
			return err
		}

		m := models.Match{
			ID:       uuid.NewString(),
			Format:   k.Format,
			Stake:    k.Stake,
			Platform: k.Platform,
			State:    models.MatchForming,
		}
		m.Code = matchCode(k.Format, k.Stake, m.ID)
		if err := tx.Create(&m).Error; err != nil {
			return err
		}

		var players []models.MatchPlayer
		var playerIDs []string
		for _, side := range []struct {
			name    string
			entries []models.QueueEntry
		}{{models.SideA, teamA}, {models.SideB, teamB}} {
			slot := 0
			for _, e := range side.entries {
				ids, err := partyPlayerIDs(tx, e.PartyID)
				if err != nil {
					return err
				}
				for _, pid := range ids {
					players = append(players, models.MatchPlayer{
						ID:       uuid.NewString(),
						MatchID:  m.ID,
						PartyID:  e.PartyID,
						PlayerID: pid,
						Side:     side.name,
						Slot:     slot,
					})
					playerIDs = append(playerIDs, pid)
					slot++
				}
			}
		}
		if err := tx.Create(&players).Error; err != nil {
			return err
		}

		seq, err := appendTransitionTx(tx, m.ID, "", models.MatchForming, "paired")
		if err != nil {
			return err
		}

		if err := s.Events.PublishTx(tx, playerIDs, m.ID, seq, EventMatchFound, fiber.Map{
			"match_id": m.ID,
			"code":     m.Code,
			"format":   m.Format,
			"stake":    m.Stake,
			"state":    m.State,
		}); err != nil {
			return err
		}

		match = &m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return match, nil
}

// matchCode builds the shareable code players see, e.g. "squad-25-a1b2c3".
func matchCode(format string, stake float64, id string) string {
	short := strings.ReplaceAll(id, "-", "")
	if len(short) > 6 {
		short = short[:6]
	}
	return slug.Make(fmt.Sprintf("%s %g", format, stake)) + "-" + short
}
