package staking

import "math/big"

// DepositStatus is the lifecycle state of an account's deposit slot. Matured
// is derived from the clock at read time and never stored.
type DepositStatus uint8

const (
	StatusNoDeposit DepositStatus = iota
	StatusActive
	StatusMatured
)

func (s DepositStatus) String() string {
	switch s {
	case StatusNoDeposit:
		return "none"
	case StatusActive:
		return "active"
	case StatusMatured:
		return "matured"
	default:
		return "unknown"
	}
}

// Deposit is the single slot owned by an account. The reward rate and lock
// period are copied from the tier table at creation so later parameter
// updates never change an outstanding deposit.
type Deposit struct {
	Owner        [20]byte
	Principal    *big.Int
	Tier         uint32
	RewardBps    uint32
	StartTime    uint64
	MaturityTime uint64
	Active       bool
}

// Clone returns a deep copy of the deposit so callers can safely mutate the
// copy without affecting the stored instance.
func (d *Deposit) Clone() *Deposit {
	if d == nil {
		return nil
	}
	clone := *d
	if d.Principal != nil {
		clone.Principal = new(big.Int).Set(d.Principal)
	} else {
		clone.Principal = big.NewInt(0)
	}
	return &clone
}

// Matured reports whether the lock elapsed at the supplied unix time.
func (d *Deposit) Matured(now uint64) bool {
	return d != nil && d.Active && now >= d.MaturityTime
}

// DepositInfo is the read model returned for an account slot. An empty slot
// carries the account with zero timestamps and Active=false.
type DepositInfo struct {
	Account      [20]byte
	StartTime    uint64
	MaturityTime uint64
	Principal    *big.Int
	Tier         uint32
	RewardBps    uint32
	Active       bool
	Status       DepositStatus
}

// WithdrawResult captures the payout realised by a withdrawal.
type WithdrawResult struct {
	Account   [20]byte
	Principal *big.Int
	Reward    *big.Int
	Payout    *big.Int
}

// WithdrawPreview describes what a withdrawal would pay at the time of the
// query without mutating anything.
type WithdrawPreview struct {
	WithdrawResult
	MaturityTime uint64
	Matured      bool
}
