package models

// Ledger entry kinds.
const (
	LedgerCharge = "charge"
	LedgerRefund = "refund"
	LedgerPayout = "payout"
)

// LedgerEntry mirrors every money movement requested from the external
// ledger service. IdempotencyKey is the same key sent to the ledger, so a
// replayed charge/refund/payout is detectable locally before it ever
// reaches the wire.
type LedgerEntry struct {
	ID             string  `json:"id" gorm:"primaryKey"`
	MatchID        *string `json:"match_id,omitempty" gorm:"index"`
	PartyID        string  `json:"party_id" gorm:"not null;index"`
	PlayerID       string  `json:"player_id" gorm:"not null;index"`
	Kind           string  `json:"kind" gorm:"type:varchar(8);not null"`
	Amount         float64 `json:"amount" gorm:"not null"`
	IdempotencyKey string  `json:"idempotency_key" gorm:"uniqueIndex;not null"`
	Status         string  `json:"status" gorm:"type:varchar(16);default:'confirmed'"`

	Timestamps
}
