package events

import (
	"math/big"

	"stakevault/core/types"
)

const (
	// TypeDepositCreated is emitted once a deposit has been locked in custody.
	TypeDepositCreated = "staking.depositCreated"
	// TypeDepositWithdrawn is emitted after principal and reward were paid out.
	TypeDepositWithdrawn = "staking.depositWithdrawn"
	// TypeParamsUpdated captures an administrator update of the tier table.
	TypeParamsUpdated = "staking.paramsUpdated"
)

// DepositCreated carries the (account, value, tier) triple observers index on.
type DepositCreated struct {
	Account      [20]byte
	Value        *big.Int
	Tier         uint32
	RewardBps    uint32
	StartTime    uint64
	MaturityTime uint64
}

// EventType satisfies the Event interface.
func (DepositCreated) EventType() string { return TypeDepositCreated }

// Event converts the structured payload into a broadcastable event.
func (e DepositCreated) Event() *types.Event {
	attrs := map[string]string{
		"account":      formatAccount(e.Account),
		"value":        formatAmount(e.Value),
		"tier":         formatUint(uint64(e.Tier)),
		"rewardBps":    formatUint(uint64(e.RewardBps)),
		"startTime":    formatUint(e.StartTime),
		"maturityTime": formatUint(e.MaturityTime),
	}
	return &types.Event{Type: TypeDepositCreated, Attributes: attrs}
}

// DepositWithdrawn captures a matured deposit being paid out.
type DepositWithdrawn struct {
	Account   [20]byte
	Principal *big.Int
	Reward    *big.Int
	Payout    *big.Int
	Tier      uint32
}

// EventType satisfies the Event interface.
func (DepositWithdrawn) EventType() string { return TypeDepositWithdrawn }

// Event converts the structured payload into a broadcastable event.
func (e DepositWithdrawn) Event() *types.Event {
	attrs := map[string]string{
		"account":   formatAccount(e.Account),
		"principal": formatAmount(e.Principal),
		"reward":    formatAmount(e.Reward),
		"payout":    formatAmount(e.Payout),
		"tier":      formatUint(uint64(e.Tier)),
	}
	return &types.Event{Type: TypeDepositWithdrawn, Attributes: attrs}
}

// ParamsUpdated captures a tier table row written by the administrator.
type ParamsUpdated struct {
	Caller        [20]byte
	DurationUnits uint32
	RewardBps     uint32
	Added         bool
}

// EventType satisfies the Event interface.
func (ParamsUpdated) EventType() string { return TypeParamsUpdated }

// Event converts the structured payload into a broadcastable event.
func (e ParamsUpdated) Event() *types.Event {
	attrs := map[string]string{
		"caller":        formatAccount(e.Caller),
		"durationUnits": formatUint(uint64(e.DurationUnits)),
		"rewardBps":     formatUint(uint64(e.RewardBps)),
	}
	if e.Added {
		attrs["added"] = "true"
	}
	return &types.Event{Type: TypeParamsUpdated, Attributes: attrs}
}
