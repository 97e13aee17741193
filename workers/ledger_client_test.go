package workers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"matchmaking-system/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newLedgerTestClient(t *testing.T, handler http.HandlerFunc) (*LedgerClient, *int64) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.LedgerEntry{}))

	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	return &LedgerClient{
		BaseURL:    srv.URL,
		Token:      "test-token",
		DB:         db,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	}, &calls
}

func ok(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusCreated)
}

func testParty(option string, members ...string) *models.Party {
	p := &models.Party{
		ID:            uuid.NewString(),
		Format:        models.FormatDuo,
		Stake:         25,
		LeaderID:      members[0],
		PaymentOption: option,
	}
	for i, m := range members {
		p.Members = append(p.Members, models.PartyMember{
			ID: uuid.NewString(), PartyID: p.ID, PlayerID: m, Slot: i,
		})
	}
	return p
}

func TestChargePartySplitChargesEachMember(t *testing.T) {
	c, calls := newLedgerTestClient(t, ok)
	party := testParty(models.PaymentSplit, "alice", "bob")

	require.NoError(t, c.ChargeParty(context.Background(), party))

	assert.EqualValues(t, 2, *calls)
	var entries []models.LedgerEntry
	require.NoError(t, c.DB.Order("player_id ASC").Find(&entries).Error)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, models.LedgerCharge, e.Kind)
		assert.Equal(t, 25.0, e.Amount)
		assert.Equal(t, "confirmed", e.Status)
	}
}

func TestChargePartyCaptainChargesLeaderOnly(t *testing.T) {
	c, calls := newLedgerTestClient(t, ok)
	party := testParty(models.PaymentCaptain, "captain", "mate")

	require.NoError(t, c.ChargeParty(context.Background(), party))

	assert.EqualValues(t, 1, *calls)
	var entry models.LedgerEntry
	require.NoError(t, c.DB.First(&entry).Error)
	assert.Equal(t, "captain", entry.PlayerID)
	assert.Equal(t, 50.0, entry.Amount) // stake × party size
}

func TestChargePartyIsIdempotent(t *testing.T) {
	c, calls := newLedgerTestClient(t, ok)
	party := testParty(models.PaymentSplit, "alice", "bob")

	require.NoError(t, c.ChargeParty(context.Background(), party))
	require.NoError(t, c.ChargeParty(context.Background(), party))

	assert.EqualValues(t, 2, *calls)
	var count int64
	require.NoError(t, c.DB.Model(&models.LedgerEntry{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestRefundReplaysConfirmedCharges(t *testing.T) {
	c, calls := newLedgerTestClient(t, ok)
	party := testParty(models.PaymentCaptain, "captain", "mate")
	require.NoError(t, c.ChargeParty(context.Background(), party))

	matchID := uuid.NewString()
	require.NoError(t, c.RefundParty(context.Background(), &matchID, party.ID))

	var refunds []models.LedgerEntry
	require.NoError(t, c.DB.Where("kind = ?", models.LedgerRefund).Find(&refunds).Error)
	require.Len(t, refunds, 1) // captain paid, captain is refunded
	assert.Equal(t, "captain", refunds[0].PlayerID)
	assert.Equal(t, 50.0, refunds[0].Amount)
	require.NotNil(t, refunds[0].MatchID)
	assert.Equal(t, matchID, *refunds[0].MatchID)

	// Replaying the refund neither calls the ledger nor writes rows.
	before := *calls
	require.NoError(t, c.RefundParty(context.Background(), &matchID, party.ID))
	assert.EqualValues(t, before, *calls)
}

func TestPayoutIsIdempotent(t *testing.T) {
	c, calls := newLedgerTestClient(t, ok)
	matchID := uuid.NewString()

	require.NoError(t, c.PayoutPlayer(context.Background(), matchID, "party-1", "winner", 45))
	require.NoError(t, c.PayoutPlayer(context.Background(), matchID, "party-1", "winner", 45))

	assert.EqualValues(t, 1, *calls)
	var entry models.LedgerEntry
	require.NoError(t, c.DB.First(&entry, "kind = ?", models.LedgerPayout).Error)
	assert.Equal(t, 45.0, entry.Amount)
}

func TestRemoteFailureLeavesNoMirrorRow(t *testing.T) {
	c, _ := newLedgerTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "ledger down", http.StatusInternalServerError)
	})
	party := testParty(models.PaymentSplit, "alice")

	require.Error(t, c.ChargeParty(context.Background(), party))

	var count int64
	require.NoError(t, c.DB.Model(&models.LedgerEntry{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}
