package consensus

import "errors"

var (
	ErrUnknownValidator = errors.New("vote from address outside the validator set")
	ErrInvalidVote      = errors.New("invalid vote")
	ErrConflictingVote  = errors.New("conflicting vote for the same round")
	ErrInvalidProposal  = errors.New("invalid proposal")
	ErrNotProposer      = errors.New("proposal from a validator that is not this round's proposer")
	ErrAlreadyStarted   = errors.New("engine already started")
	ErrNotStarted       = errors.New("engine not started")
)
