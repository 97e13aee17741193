package models

import "time"

// Room lifecycle states. forming → room_assigned → in_progress →
// awaiting_result → settled | cancelled | disputed.
const (
	MatchForming        = "forming"
	MatchRoomAssigned   = "room_assigned"
	MatchInProgress     = "in_progress"
	MatchAwaitingResult = "awaiting_result"
	MatchSettled        = "settled"
	MatchCancelled      = "cancelled"
	MatchDisputed       = "disputed"
)

// Team sides of a match.
const (
	SideA = "teamA"
	SideB = "teamB"
)

// TerminalStates are the states a match never leaves on its own. disputed
// is terminal for the automatic machine; only admin resolution moves it.
var TerminalStates = []string{MatchSettled, MatchCancelled, MatchDisputed}

func IsTerminalState(state string) bool {
	for _, s := range TerminalStates {
		if s == state {
			return true
		}
	}
	return false
}

// Match is the unit of play produced by the pairing engine. Mutated only
// through guarded lifecycle transitions; archived once terminal.
type Match struct {
	ID       string  `json:"id" gorm:"primaryKey"`
	Code     string  `json:"code" gorm:"uniqueIndex;not null"` // shareable, e.g. "squad-25-a1b2c3"
	Format   string  `json:"format" gorm:"type:varchar(16);not null"`
	Stake    float64 `json:"stake" gorm:"not null"`
	Platform string  `json:"platform,omitempty" gorm:"type:varchar(16)"`
	State    string  `json:"state" gorm:"type:varchar(24);not null;index"`

	// Room credentials, nil until room_assigned.
	RoomID       *string `json:"room_id,omitempty"`
	RoomPassword *string `json:"room_password,omitempty"`
	RoomAttempts int     `json:"room_attempts" gorm:"default:0"`

	TeamAReady bool `json:"team_a_ready" gorm:"default:false"`
	TeamBReady bool `json:"team_b_ready" gorm:"default:false"`

	// Wall-clock deadlines, persisted so sweeps re-derive every timeout
	// after a restart. ReadyDeadline bounds the readiness grace period,
	// ResultDeadline ends the play window, SettleDeadline bounds result
	// arbitration.
	ReadyDeadline  *time.Time `json:"ready_deadline,omitempty" gorm:"index"`
	ResultDeadline *time.Time `json:"result_deadline,omitempty" gorm:"index"`
	SettleDeadline *time.Time `json:"settle_deadline,omitempty" gorm:"index"`

	Winner *string `json:"winner,omitempty" gorm:"type:varchar(8)"` // teamA/teamB once settled

	Players []MatchPlayer `json:"players,omitempty" gorm:"foreignKey:MatchID"`

	Timestamps
}

// MatchPlayer assigns one player to one side of a match. PartyID records
// which queued party the player arrived with, for refunds.
type MatchPlayer struct {
	ID       string `json:"id" gorm:"primaryKey"`
	MatchID  string `json:"match_id" gorm:"not null;index"`
	PartyID  string `json:"party_id" gorm:"not null;index"`
	PlayerID string `json:"player_id" gorm:"not null;index"`
	Side     string `json:"side" gorm:"type:varchar(8);not null"` // teamA/teamB
	Slot     int    `json:"slot" gorm:"default:0"`
}
