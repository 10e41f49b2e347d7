package staking

import "errors"

var (
	ErrInvalidAmount       = errors.New("staking: invalid amount")
	ErrAlreadyStaking      = errors.New("staking: deposit already active")
	ErrNoActiveDeposit     = errors.New("staking: no active deposit")
	ErrNotMatured          = errors.New("staking: deposit not matured")
	ErrUnauthorized        = errors.New("staking: caller is not the administrator")
	ErrUnknownTier         = errors.New("staking: unknown duration tier")
	ErrInvalidParams       = errors.New("staking: invalid tier parameters")
	ErrInsufficientReserve = errors.New("staking: reward reserve exhausted")
	ErrNotInitialized      = errors.New("staking: module not initialised")
	ErrAdminMismatch       = errors.New("staking: module initialised with a different administrator")
)
