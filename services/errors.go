package services

import "errors"

// Error taxonomy surfaced by the matchmaking core. Handlers map these to
// HTTP statuses; everything else is a 500.
var (
	ErrDuplicatePlayer      = errors.New("player already queued or in an active match")
	ErrNotQueued            = errors.New("party is not queued")
	ErrRoomAllocationFailed = errors.New("room allocation failed")
	ErrInvalidState         = errors.New("match is not in the expected state")
	ErrPaymentFailed        = errors.New("payment failed")
	ErrEvidenceRejected     = errors.New("evidence rejected")
	ErrNotParticipant       = errors.New("player is not part of this match")
	ErrBadRequest           = errors.New("invalid request")
)

// StatusForError maps a core error to an HTTP status code.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, ErrDuplicatePlayer):
		return 409
	case errors.Is(err, ErrNotQueued):
		return 404
	case errors.Is(err, ErrInvalidState):
		return 409
	case errors.Is(err, ErrPaymentFailed):
		return 402
	case errors.Is(err, ErrEvidenceRejected):
		return 422
	case errors.Is(err, ErrNotParticipant):
		return 403
	case errors.Is(err, ErrBadRequest):
		return 400
	}
	return 500
}
