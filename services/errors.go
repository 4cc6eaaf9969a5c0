package services

import "errors"

// Error taxonomy for the challenge engine. Handlers map these to HTTP
// statuses; nothing is swallowed.
var (
	ErrInsufficientFunds      = errors.New("insufficient XP balance for wager")
	ErrInvalidInviteCode      = errors.New("invite code unknown, consumed, or expired")
	ErrAlreadyJoined          = errors.New("challenge no longer available")
	ErrInvalidStateTransition = errors.New("invalid challenge state transition")
	ErrNotParticipant         = errors.New("business is not a participant of this challenge")
	ErrChallengeNotFound      = errors.New("challenge not found")
)
