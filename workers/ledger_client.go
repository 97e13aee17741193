package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"matchmaking-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerClient talks to the external ledger/payments service and mirrors
// every requested movement as a local LedgerEntry. The remote service is
// idempotent per idempotency key; the mirror row (unique on that key)
// means a replayed transition short-circuits before reaching the wire, so
// charges, refunds and payouts each happen at most once.
type LedgerClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	DB         *gorm.DB
}

func NewLedgerClient(db *gorm.DB) *LedgerClient {
	baseURL := os.Getenv("LEDGER_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("LEDGER_SERVICE_URL environment variable is required")
	}
	token := os.Getenv("LEDGER_SERVICE_TOKEN")
	if token == "" {
		log.Fatal("LEDGER_SERVICE_TOKEN environment variable is required")
	}

	return &LedgerClient{
		BaseURL: baseURL,
		Token:   token,
		DB:      db,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ChargeParty debits the entry stake per the party's payment option:
// split charges every member their own stake, captain charges the leader
// the whole party's stake.
func (c *LedgerClient) ChargeParty(ctx context.Context, party *models.Party) error {
	type debit struct {
		playerID string
		amount   float64
	}
	var debits []debit
	if party.PaymentOption == models.PaymentCaptain {
		debits = []debit{{party.LeaderID, party.Stake * float64(len(party.Members))}}
	} else {
		for _, m := range party.Members {
			debits = append(debits, debit{m.PlayerID, party.Stake})
		}
	}

	for _, d := range debits {
		key := fmt.Sprintf("charge:%s:%s", party.ID, d.playerID)
		if err := c.apply(ctx, "charges", key, models.LedgerEntry{
			ID:             uuid.NewString(),
			PartyID:        party.ID,
			PlayerID:       d.playerID,
			Kind:           models.LedgerCharge,
			Amount:         d.amount,
			IdempotencyKey: key,
		}); err != nil {
			return err
		}
	}
	return nil
}

// RefundParty replays the party's confirmed charges in reverse: same
// payer, same amount, derived refund key. Safe to call any number of
// times.
func (c *LedgerClient) RefundParty(ctx context.Context, matchID *string, partyID string) error {
	var charges []models.LedgerEntry
	err := c.DB.
		Where("party_id = ? AND kind = ?", partyID, models.LedgerCharge).
		Find(&charges).Error
	if err != nil {
		return err
	}

	for _, ch := range charges {
		key := fmt.Sprintf("refund:%s:%s", partyID, ch.PlayerID)
		if err := c.apply(ctx, "refunds", key, models.LedgerEntry{
			ID:             uuid.NewString(),
			MatchID:        matchID,
			PartyID:        partyID,
			PlayerID:       ch.PlayerID,
			Kind:           models.LedgerRefund,
			Amount:         ch.Amount,
			IdempotencyKey: key,
		}); err != nil {
			return err
		}
	}
	return nil
}

// PayoutPlayer credits one winning player their share of the prize pool.
func (c *LedgerClient) PayoutPlayer(ctx context.Context, matchID, partyID, playerID string, amount float64) error {
	key := fmt.Sprintf("payout:%s:%s", matchID, playerID)
	return c.apply(ctx, "payouts", key, models.LedgerEntry{
		ID:             uuid.NewString(),
		MatchID:        &matchID,
		PartyID:        partyID,
		PlayerID:       playerID,
		Kind:           models.LedgerPayout,
		Amount:         amount,
		IdempotencyKey: key,
	})
}

// apply performs one movement: skip if the mirror already has the key,
// otherwise call the ledger and record the entry. The OnConflict guard
// covers the race where two sweeps apply the same movement concurrently.
func (c *LedgerClient) apply(ctx context.Context, endpoint, key string, entry models.LedgerEntry) error {
	var existing int64
	err := c.DB.Model(&models.LedgerEntry{}).
		Where("idempotency_key = ?", key).
		Count(&existing).Error
	if err != nil {
		return err
	}
	if existing > 0 {
		return nil
	}

	if err := c.post(ctx, endpoint, key, entry); err != nil {
		return err
	}

	entry.Status = "confirmed"
	if err := c.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to mirror ledger entry %s: %w", key, err)
	}
	return nil
}

func (c *LedgerClient) post(ctx context.Context, endpoint, key string, entry models.LedgerEntry) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"player_id": entry.PlayerID,
		"party_id":  entry.PartyID,
		"match_id":  entry.MatchID,
		"amount":    entry.Amount,
	})

	req, err := http.NewRequestWithContext(ctx, "POST", fmt.Sprintf("%s/api/v1/%s", c.BaseURL, endpoint), bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.Token)
	req.Header.Set("Idempotency-Key", key)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call ledger service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("ledger service returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
