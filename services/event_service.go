package services

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"matchmaking-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Event types pushed to clients.
const (
	EventQueued         = "queued"
	EventQueueCancelled = "queue_cancelled"
	EventQueueTimeout   = "queue_timeout"
	EventMatchFound     = "match_found"
	EventMatchUpdate    = "match_update"
)

// EventService fans out state transitions and queue events to the affected
// players. Fan-out rows are written in the same transaction as the change
// they report; the SSE stream polls them by cursor, so delivery is
// at-least-once and survives restarts and reconnects.
type EventService struct {
	DB           *gorm.DB
	PollInterval time.Duration
}

func NewEventService(db *gorm.DB) *EventService {
	return &EventService{DB: db, PollInterval: 2 * time.Second}
}

// PublishTx writes one PlayerEvent per affected player inside tx. matchSeq
// is 0 for queue events that have no match yet.
func (s *EventService) PublishTx(tx *gorm.DB, playerIDs []string, matchID string, matchSeq int, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}

	events := make([]models.PlayerEvent, 0, len(playerIDs))
	for _, pid := range playerIDs {
		events = append(events, models.PlayerEvent{
			PlayerID: pid,
			MatchID:  matchID,
			MatchSeq: matchSeq,
			Type:     eventType,
			Payload:  string(body),
		})
	}
	if len(events) == 0 {
		return nil
	}
	return tx.Create(&events).Error
}

// Stream serves the per-player SSE event stream. Clients resume with
// Last-Event-ID (or ?cursor=) and dedup on (match_id, match_seq).
func (s *EventService) Stream(c *fiber.Ctx) error {
	playerID, _ := c.Locals("user_id").(string)
	if playerID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing user context"})
	}

	cursor := parseCursor(c.Get("Last-Event-ID"), c.Query("cursor"))

	// SSE headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	ctx := c.Context()
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(s.PollInterval)
		defer ticker.Stop()

		// Initial keepalive (comment event)
		w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case <-ticker.C:
				var batch []models.PlayerEvent
				err := s.DB.
					Where("player_id = ? AND id > ?", playerID, cursor).
					Order("id ASC").
					Limit(100).
					Find(&batch).Error
				if err != nil {
					log.Printf("SSE query error for player %s: %v", playerID, err)
					continue
				}

				if len(batch) == 0 {
					// periodic keepalive so proxies don't cut us off
					w.WriteString(":\n\n")
					if err := w.Flush(); err != nil {
						return
					}
					continue
				}

				cursor = batch[len(batch)-1].ID
				for _, ev := range batch {
					fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Payload)
				}
				if err := w.Flush(); err != nil {
					// Client disconnected
					return
				}

			case <-ctx.Done():
				return
			}
		}
	})

	return nil
}

func parseCursor(lastEventID, query string) uint {
	for _, raw := range []string{lastEventID, query} {
		if raw == "" {
			continue
		}
		if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
			return uint(n)
		}
	}
	return 0
}
