package staking

import (
	"fmt"
	"sort"
)

const (
	// BasisPointsDenominator expresses rates as parts per ten thousand.
	BasisPointsDenominator = 10_000
	// MaxRewardBps caps a single tier at a 100% reward.
	MaxRewardBps = BasisPointsDenominator
	// MaxTiers bounds the tier table.
	MaxTiers = 16
)

// DefaultTierDurations are the lock periods, in duration units, seeded from
// the three construction rates.
var DefaultTierDurations = [3]uint32{3, 5, 10}

// DefaultRewardRates are used when no genesis file names construction rates.
var DefaultRewardRates = [3]uint32{1000, 2000, 3000}

// Tier is one row of the reward table. The row is keyed by its lock period.
type Tier struct {
	DurationUnits uint32
	RewardBps     uint32
}

// TierTable maps lock periods to reward rates. Rows are kept sorted by
// duration so the encoded form is deterministic.
type TierTable []Tier

// NewDefaultTierTable builds the short/medium/long table from construction
// rates.
func NewDefaultTierTable(rates [3]uint32) (TierTable, error) {
	table := make(TierTable, 0, len(rates))
	for i, rate := range rates {
		if rate > MaxRewardBps {
			return nil, fmt.Errorf("%w: rate %d exceeds %d bps", ErrInvalidParams, rate, MaxRewardBps)
		}
		table = append(table, Tier{DurationUnits: DefaultTierDurations[i], RewardBps: rate})
	}
	return table, nil
}

// Lookup returns the row for the supplied lock period.
func (t TierTable) Lookup(durationUnits uint32) (Tier, bool) {
	idx := sort.Search(len(t), func(i int) bool { return t[i].DurationUnits >= durationUnits })
	if idx < len(t) && t[idx].DurationUnits == durationUnits {
		return t[idx], true
	}
	return Tier{}, false
}

// RewardRate returns the reward in basis points for the given tier.
func (t TierTable) RewardRate(durationUnits uint32) (uint32, error) {
	row, ok := t.Lookup(durationUnits)
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownTier, durationUnits)
	}
	return row.RewardBps, nil
}

// Upsert writes a row, replacing the rate of an existing lock period or adding
// a new one. The receiver is not modified; the updated table is returned.
func (t TierTable) Upsert(durationUnits, rewardBps uint32) (TierTable, bool, error) {
	if durationUnits == 0 {
		return nil, false, fmt.Errorf("%w: duration must be positive", ErrInvalidParams)
	}
	if rewardBps > MaxRewardBps {
		return nil, false, fmt.Errorf("%w: rate %d exceeds %d bps", ErrInvalidParams, rewardBps, MaxRewardBps)
	}
	next := append(TierTable(nil), t...)
	for i := range next {
		if next[i].DurationUnits == durationUnits {
			next[i].RewardBps = rewardBps
			return next, false, nil
		}
	}
	if len(next) >= MaxTiers {
		return nil, false, fmt.Errorf("%w: tier table full (%d rows)", ErrInvalidParams, MaxTiers)
	}
	next = append(next, Tier{DurationUnits: durationUnits, RewardBps: rewardBps})
	sort.Slice(next, func(i, j int) bool { return next[i].DurationUnits < next[j].DurationUnits })
	return next, true, nil
}

// Validate checks ordering, uniqueness and bounds.
func (t TierTable) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("%w: empty tier table", ErrInvalidParams)
	}
	if len(t) > MaxTiers {
		return fmt.Errorf("%w: %d rows exceeds %d", ErrInvalidParams, len(t), MaxTiers)
	}
	for i, row := range t {
		if row.DurationUnits == 0 {
			return fmt.Errorf("%w: row %d has zero duration", ErrInvalidParams, i)
		}
		if row.RewardBps > MaxRewardBps {
			return fmt.Errorf("%w: row %d rate %d exceeds %d bps", ErrInvalidParams, i, row.RewardBps, MaxRewardBps)
		}
		if i > 0 && t[i-1].DurationUnits >= row.DurationUnits {
			return fmt.Errorf("%w: rows not strictly ordered at %d", ErrInvalidParams, i)
		}
	}
	return nil
}
