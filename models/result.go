package models

import "time"

// ResultSubmission is one side's claim about the match outcome. Rows are
// immutable; a re-submission by the same side marks the prior row
// superseded so at most one active submission exists per side. The
// partial unique index enforces that even when two submissions for the
// same side race: the second insert fails instead of leaving two active
// claims.
type ResultSubmission struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	MatchID       string    `json:"match_id" gorm:"not null;index;uniqueIndex:idx_one_active_claim,where:superseded = false,priority:1"`
	Side          string    `json:"side" gorm:"type:varchar(8);not null;uniqueIndex:idx_one_active_claim,priority:2"`
	SubmittedBy   string    `json:"submitted_by" gorm:"not null"`
	ClaimedWinner string    `json:"claimed_winner" gorm:"type:varchar(8);not null"`
	EvidenceRef   string    `json:"evidence_ref,omitempty"`
	Superseded    bool      `json:"superseded" gorm:"default:false;index"`
	SubmittedAt   time.Time `json:"submitted_at" gorm:"not null"`
}
