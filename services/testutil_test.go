package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"matchmaking-system/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// A single connection keeps every session on the same in-memory DB.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Party{},
		&models.PartyMember{},
		&models.QueueEntry{},
		&models.QueuedPlayer{},
		&models.Match{},
		&models.MatchPlayer{},
		&models.ResultSubmission{},
		&models.MatchTransition{},
		&models.PlayerEvent{},
		&models.LedgerEntry{},
	))
	return db
}

func testConfig() Config {
	return Config{
		PairingInterval:       10 * time.Millisecond,
		ExpirySweepInterval:   10 * time.Millisecond,
		DeadlineSweepInterval: 10 * time.Millisecond,
		MaxWait:               5 * time.Minute,
		ReadyGrace:            5 * time.Minute,
		PlayWindow:            time.Hour,
		ResultWindow:          24 * time.Hour,
		LoneClaimGrace:        12 * time.Hour,
		RoomRetries:           3,
		RoomRetryBackoff:      time.Millisecond,
		Rake:                  0.10,
	}
}

type payout struct {
	PlayerID string
	Amount   float64
}

// fakeLedger records movements in memory instead of calling the payments
// service.
type fakeLedger struct {
	mu         sync.Mutex
	failCharge bool

	charges []string // party IDs
	refunds []string // party IDs
	payouts []payout
}

func (f *fakeLedger) ChargeParty(ctx context.Context, party *models.Party) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCharge {
		return fmt.Errorf("insufficient balance")
	}
	f.charges = append(f.charges, party.ID)
	return nil
}

func (f *fakeLedger) RefundParty(ctx context.Context, matchID *string, partyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.refunds {
		if p == partyID {
			return nil // already refunded, idempotent
		}
	}
	f.refunds = append(f.refunds, partyID)
	return nil
}

func (f *fakeLedger) PayoutPlayer(ctx context.Context, matchID, partyID, playerID string, amount float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payouts {
		if p.PlayerID == playerID {
			return nil
		}
	}
	f.payouts = append(f.payouts, payout{PlayerID: playerID, Amount: amount})
	return nil
}

// fakeRooms fails the first failures allocations, then hands out fixed
// credentials.
type fakeRooms struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *fakeRooms) AllocateRoom(ctx context.Context, matchID, format string) (RoomCredentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return RoomCredentials{}, fmt.Errorf("provider unavailable")
	}
	return RoomCredentials{RoomID: "RPX12345", RoomPassword: "pass123"}, nil
}

type core struct {
	DB          *gorm.DB
	Cfg         Config
	Ledger      *fakeLedger
	Rooms       *fakeRooms
	Events      *EventService
	Queue       *QueueService
	Pairing     *PairingService
	Lifecycle   *LifecycleService
	Arbitration *ArbitrationService
}

func newCore(t *testing.T) *core {
	t.Helper()
	db := newTestDB(t)
	cfg := testConfig()
	ledger := &fakeLedger{}
	rooms := &fakeRooms{}
	events := NewEventService(db)
	lifecycle := NewLifecycleService(db, cfg, rooms, ledger, events)
	return &core{
		DB:          db,
		Cfg:         cfg,
		Ledger:      ledger,
		Rooms:       rooms,
		Events:      events,
		Queue:       NewQueueService(db, cfg, ledger, events),
		Pairing:     NewPairingService(db, cfg, events),
		Lifecycle:   lifecycle,
		Arbitration: NewArbitrationService(db, cfg, lifecycle),
	}
}

func (c *core) enqueueSolo(t *testing.T, player string, stake float64) *models.QueueEntry {
	t.Helper()
	entry, err := c.Queue.EnqueueParty(context.Background(), EnqueueRequest{
		Format:  models.FormatSolo,
		Stake:   stake,
		Members: []string{player},
	})
	require.NoError(t, err)
	return entry
}

// pairSolos queues two solo players at the same stake and runs a pairing
// tick, returning the formed match.
func (c *core) pairSolos(t *testing.T, p1, p2 string, stake float64) *models.Match {
	t.Helper()
	c.enqueueSolo(t, p1, stake)
	c.enqueueSolo(t, p2, stake)
	formed, err := c.Pairing.Tick(time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, formed, 1)
	return formed[0]
}

func (c *core) matchState(t *testing.T, matchID string) string {
	t.Helper()
	var m models.Match
	require.NoError(t, c.DB.First(&m, "id = ?", matchID).Error)
	return m.State
}
