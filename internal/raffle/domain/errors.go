package domain

import (
	"errors"
	"fmt"
	"math/big"
)

// Errors returned by the raffle.
var (
	ErrNotEnoughFunds        = errors.New("not enough ETH entered")
	ErrRaffleNotOpen         = errors.New("raffle not open")
	ErrUpkeepNotNeeded       = errors.New("upkeep not needed")
	ErrUnknownOrStaleRequest = errors.New("unknown or stale randomness request")
	ErrPayoutFailed          = errors.New("payout to winner failed")
	ErrNoRandomWords         = errors.New("no random words")
	ErrPlayerNotFound        = errors.New("player index out of range")
	ErrInvalidConfig         = errors.New("invalid raffle config")
)

// UpkeepNotNeededError reports the values that made the upkeep predicate
// false. It matches ErrUpkeepNotNeeded with errors.Is.
type UpkeepNotNeededError struct {
	Balance *big.Int
	Players int
	State   State
}

func (e *UpkeepNotNeededError) Error() string {
	return fmt.Sprintf("%s: balance=%s players=%d state=%s", ErrUpkeepNotNeeded, e.Balance, e.Players, e.State)
}

func (e *UpkeepNotNeededError) Unwrap() error {
	return ErrUpkeepNotNeeded
}
