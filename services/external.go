package services

import (
	"context"

	"matchmaking-system/models"
)

// RoomCredentials is what the provisioning service hands back for a match.
type RoomCredentials struct {
	RoomID       string `json:"room_id"`
	RoomPassword string `json:"room_password"`
}

// RoomAllocator provisions a third-party game room for a match. Calls may
// fail transiently; the lifecycle service retries with bounded backoff.
type RoomAllocator interface {
	AllocateRoom(ctx context.Context, matchID, format string) (RoomCredentials, error)
}

// PartyLedger is the payments collaborator. All operations are idempotent
// on the derived (kind, match/party, player) key, so replaying a
// transition can never double-charge or double-refund.
type PartyLedger interface {
	ChargeParty(ctx context.Context, party *models.Party) error
	RefundParty(ctx context.Context, matchID *string, partyID string) error
	PayoutPlayer(ctx context.Context, matchID, partyID, playerID string, amount float64) error
}
