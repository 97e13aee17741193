package models

import "time"

// Format is the team-size category a party queues for.
const (
	FormatSolo  = "solo"
	FormatDuo   = "duo"
	FormatSquad = "squad"
)

// Payment options carried over from the lobby flow: "captain" means the
// party leader fronts the whole entry fee, "split" charges every member.
const (
	PaymentCaptain = "captain"
	PaymentSplit   = "split"
)

// TeamSize returns the per-team player count for a format (0 = unknown).
func TeamSize(format string) int {
	switch format {
	case FormatSolo:
		return 1
	case FormatDuo:
		return 2
	case FormatSquad:
		return 4
	}
	return 0
}

// Party is one or more players queuing together as a unit.
type Party struct {
	ID            string  `json:"id" gorm:"primaryKey"`
	Format        string  `json:"format" gorm:"type:varchar(16);not null;index"`
	Stake         float64 `json:"stake" gorm:"not null"`
	Platform      string  `json:"platform,omitempty" gorm:"type:varchar(16)"` // emulator/mobile/mixed/tactical, optional
	LeaderID      string  `json:"leader_id" gorm:"not null"`
	PaymentOption string  `json:"payment_option" gorm:"type:varchar(8);default:'split'"`

	Members []PartyMember `json:"members,omitempty" gorm:"foreignKey:PartyID"`

	Timestamps
}

// PartyMember keeps the ordered membership of a party. Slot preserves the
// order the leader listed the players in.
type PartyMember struct {
	ID       string `json:"id" gorm:"primaryKey"`
	PartyID  string `json:"party_id" gorm:"not null;index"`
	PlayerID string `json:"player_id" gorm:"not null;index"`
	Slot     int    `json:"slot" gorm:"default:0"`
}

// QueuedPlayer reserves a player for exactly one queue entry. The
// primary key makes the admission race lose at the database instead of
// committing a player into two parties; rows are removed in the same
// transaction that claims, cancels or expires the party's entry.
type QueuedPlayer struct {
	PlayerID string    `json:"player_id" gorm:"primaryKey"`
	PartyID  string    `json:"party_id" gorm:"not null;index"`
	QueuedAt time.Time `json:"queued_at" gorm:"not null"`
}

// QueueEntry wraps a waiting party with queue metadata. Exactly one entry
// exists per queued party; the row is deleted the instant the party is
// claimed by pairing or cancels.
type QueueEntry struct {
	ID       string  `json:"id" gorm:"primaryKey"`
	PartyID  string  `json:"party_id" gorm:"uniqueIndex;not null"`
	Format   string  `json:"format" gorm:"type:varchar(16);not null;index:idx_queue_bucket"`
	Stake    float64 `json:"stake" gorm:"not null;index:idx_queue_bucket"`
	Platform string  `json:"platform,omitempty" gorm:"type:varchar(16);index:idx_queue_bucket"`
	Size     int     `json:"size" gorm:"not null"`
	Priority int     `json:"priority" gorm:"default:0"`

	QueuedAt  time.Time `json:"queued_at" gorm:"not null;index"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null;index"`

	Party Party `json:"party,omitempty" gorm:"foreignKey:PartyID"`
}
