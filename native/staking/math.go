package staking

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

var bpsDenominator = uint256.NewInt(BasisPointsDenominator)

// ComputeReward returns floor(principal * rewardBps / 10000). Amounts must
// fit in 256 bits.
func ComputeReward(principal *big.Int, rewardBps uint32) (*big.Int, error) {
	if principal == nil || principal.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	p, overflow := uint256.FromBig(principal)
	if overflow {
		return nil, fmt.Errorf("%w: principal exceeds 256 bits", ErrInvalidAmount)
	}
	reward, overflow := new(uint256.Int).MulDivOverflow(p, uint256.NewInt(uint64(rewardBps)), bpsDenominator)
	if overflow {
		return nil, fmt.Errorf("%w: reward overflow", ErrInvalidAmount)
	}
	return reward.ToBig(), nil
}

// ComputePayout returns the principal, the truncated reward and their sum.
func ComputePayout(principal *big.Int, rewardBps uint32) (*big.Int, *big.Int, error) {
	reward, err := ComputeReward(principal, rewardBps)
	if err != nil {
		return nil, nil, err
	}
	return reward, new(big.Int).Add(principal, reward), nil
}
