package models

import "time"

// MatchTransition is one row of the append-only transition log. Seq is
// monotonically increasing per match and is assigned inside the transition
// transaction, so the current state of any match is recomputable from its
// transitions alone.
type MatchTransition struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	MatchID   string    `json:"match_id" gorm:"not null;index;uniqueIndex:idx_match_seq,priority:1"`
	Seq       int       `json:"seq" gorm:"not null;uniqueIndex:idx_match_seq,priority:2"`
	FromState string    `json:"from_state" gorm:"type:varchar(24)"`
	ToState   string    `json:"to_state" gorm:"type:varchar(24);not null"`
	Cause     string    `json:"cause" gorm:"type:varchar(64);not null"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// PlayerEvent is the fan-out row delivered to one player over SSE. Written
// in the same transaction as the state change it reports, so delivery is
// at-least-once: a client that reconnects replays from its last cursor.
// MatchSeq lets clients discard duplicates and out-of-order frames.
type PlayerEvent struct {
	ID       uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	PlayerID string `json:"player_id" gorm:"not null;index"`
	MatchID  string `json:"match_id,omitempty" gorm:"index"`
	MatchSeq int    `json:"match_seq" gorm:"default:0"`
	Type     string `json:"type" gorm:"type:varchar(32);not null"`
	Payload  string `json:"payload" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}
