package services

import (
	"context"
	"testing"
	"time"

	"matchmaking-system/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// liveMatch drives two solos all the way into in_progress.
func liveMatch(t *testing.T, c *core) *models.Match {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	m := c.pairSolos(t, "p1", "p2", 25)
	c.Lifecycle.AllocateRooms(ctx, now)
	require.NoError(t, c.Lifecycle.SignalReady(ctx, m.ID, "p1", now))
	require.NoError(t, c.Lifecycle.SignalReady(ctx, m.ID, "p2", now))
	require.Equal(t, models.MatchInProgress, c.matchState(t, m.ID))
	return m
}

func TestSubmitWhileInProgressClosesMatchFirst(t *testing.T) {
	c := newCore(t)
	m := liveMatch(t, c)

	sub, err := c.Arbitration.SubmitResult(context.Background(), m.ID, "p1", models.SideA, "", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, models.SideA, sub.Side)
	assert.Equal(t, models.SideA, sub.ClaimedWinner)

	// One claim alone does not settle; the match waits for the other side.
	assert.Equal(t, models.MatchAwaitingResult, c.matchState(t, m.ID))
}

func TestAgreementSettles(t *testing.T) {
	c := newCore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	m := liveMatch(t, c)

	_, err := c.Arbitration.SubmitResult(ctx, m.ID, "p1", models.SideB, "", now)
	require.NoError(t, err)
	_, err = c.Arbitration.SubmitResult(ctx, m.ID, "p2", models.SideB, "", now)
	require.NoError(t, err)

	var got models.Match
	require.NoError(t, c.DB.First(&got, "id = ?", m.ID).Error)
	assert.Equal(t, models.MatchSettled, got.State)
	require.NotNil(t, got.Winner)
	assert.Equal(t, models.SideB, *got.Winner)
	assert.Len(t, c.Ledger.payouts, 1)
}

func TestConflictDisputesAndStays(t *testing.T) {
	c := newCore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	m := liveMatch(t, c)

	_, err := c.Arbitration.SubmitResult(ctx, m.ID, "p1", models.SideA, "", now)
	require.NoError(t, err)
	_, err = c.Arbitration.SubmitResult(ctx, m.ID, "p2", models.SideB, "", now)
	require.NoError(t, err)

	assert.Equal(t, models.MatchDisputed, c.matchState(t, m.ID))
	assert.Empty(t, c.Ledger.payouts)

	// No sweep ever leaves disputed on its own.
	c.Arbitration.Sweep(ctx, now.Add(c.Cfg.ResultWindow).Add(time.Hour))
	assert.Equal(t, models.MatchDisputed, c.matchState(t, m.ID))

	// Only the explicit resolution hook does.
	require.NoError(t, c.Lifecycle.ResolveDispute(ctx, m.ID, models.SideA))
	assert.Equal(t, models.MatchSettled, c.matchState(t, m.ID))
	assert.Len(t, c.Ledger.payouts, 1)
}

func TestLoneClaimWaitsForGrace(t *testing.T) {
	c := newCore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	m := liveMatch(t, c)

	_, err := c.Arbitration.SubmitResult(ctx, m.ID, "p1", models.SideA, "", now)
	require.NoError(t, err)
	assert.Equal(t, models.MatchAwaitingResult, c.matchState(t, m.ID))

	// Just before the grace window closes, nothing happens.
	c.Arbitration.Sweep(ctx, now.Add(c.Cfg.LoneClaimGrace).Add(-time.Minute))
	assert.Equal(t, models.MatchAwaitingResult, c.matchState(t, m.ID))

	// Past it, the unopposed claim becomes the outcome.
	c.Arbitration.Sweep(ctx, now.Add(c.Cfg.LoneClaimGrace).Add(time.Minute))
	var got models.Match
	require.NoError(t, c.DB.First(&got, "id = ?", m.ID).Error)
	assert.Equal(t, models.MatchSettled, got.State)
	require.NotNil(t, got.Winner)
	assert.Equal(t, models.SideA, *got.Winner)
}

func TestResubmissionSupersedes(t *testing.T) {
	c := newCore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	m := liveMatch(t, c)

	_, err := c.Arbitration.SubmitResult(ctx, m.ID, "p1", models.SideA, "", now)
	require.NoError(t, err)
	_, err = c.Arbitration.SubmitResult(ctx, m.ID, "p1", models.SideB, "", now.Add(time.Minute))
	require.NoError(t, err)

	var active []models.ResultSubmission
	require.NoError(t, c.DB.Where("match_id = ? AND superseded = ?", m.ID, false).Find(&active).Error)
	require.Len(t, active, 1)
	assert.Equal(t, models.SideB, active[0].ClaimedWinner)

	// Two submissions from one side are never an agreement.
	assert.Equal(t, models.MatchAwaitingResult, c.matchState(t, m.ID))
	assert.Empty(t, c.Ledger.payouts)

	// The opposing side agreeing with the latest claim settles it.
	_, err = c.Arbitration.SubmitResult(ctx, m.ID, "p2", models.SideB, "", now.Add(2*time.Minute))
	require.NoError(t, err)
	var got models.Match
	require.NoError(t, c.DB.First(&got, "id = ?", m.ID).Error)
	assert.Equal(t, models.MatchSettled, got.State)
	assert.Equal(t, models.SideB, *got.Winner)
}

func TestSweepCancelsSilentMatch(t *testing.T) {
	c := newCore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	m := liveMatch(t, c)

	require.NoError(t, c.Lifecycle.SignalFinished(ctx, m.ID, "p1", now))
	require.Equal(t, models.MatchAwaitingResult, c.matchState(t, m.ID))

	var got models.Match
	require.NoError(t, c.DB.First(&got, "id = ?", m.ID).Error)
	require.NotNil(t, got.SettleDeadline)

	// Deadline passes with zero submissions: cancel and refund everyone.
	c.Arbitration.Sweep(ctx, got.SettleDeadline.Add(time.Second))
	assert.Equal(t, models.MatchCancelled, c.matchState(t, m.ID))
	assert.Len(t, c.Ledger.refunds, 2)
	assert.Empty(t, c.Ledger.payouts)
}

func TestSubmitRejectsOutsidersAndBadWinners(t *testing.T) {
	c := newCore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	m := liveMatch(t, c)

	_, err := c.Arbitration.SubmitResult(ctx, m.ID, "stranger", models.SideA, "", now)
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = c.Arbitration.SubmitResult(ctx, m.ID, "p1", "teamC", "", now)
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestOneActiveClaimPerSide(t *testing.T) {
	c := newCore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	m := liveMatch(t, c)

	_, err := c.Arbitration.SubmitResult(ctx, m.ID, "p1", models.SideA, "", now)
	require.NoError(t, err)

	// A second active claim for the same side must lose at the schema,
	// even when it arrives on a path that skipped the supersede update.
	err = c.DB.Create(&models.ResultSubmission{
		ID:            uuid.NewString(),
		MatchID:       m.ID,
		Side:          models.SideA,
		SubmittedBy:   "p1",
		ClaimedWinner: models.SideA,
		SubmittedAt:   now.Add(time.Second),
	}).Error
	require.Error(t, err)

	require.NoError(t, c.Arbitration.TryResolve(ctx, m.ID, now))
	assert.Equal(t, models.MatchAwaitingResult, c.matchState(t, m.ID))
	assert.Empty(t, c.Ledger.payouts)
}

func TestAcceptableEvidenceTypes(t *testing.T) {
	assert.True(t, acceptableEvidence("image/png"))
	assert.True(t, acceptableEvidence("video/mp4"))
	assert.False(t, acceptableEvidence("application/pdf"))
	assert.False(t, acceptableEvidence(""))
}
