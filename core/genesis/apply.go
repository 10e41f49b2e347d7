package genesis

import (
	"fmt"

	"stakevault/core/state"
	"stakevault/native/bank"
	"stakevault/native/staking"
)

var appliedKey = []byte("genesis/applied")

type appliedMarker struct {
	Timestamp uint64
}

// Apply initialises the staking module and, on first run, stages extra tiers
// and mints genesis allocations and the vault reserve in a single transaction. Running Apply
// again against the same state only replays the idempotent module Init.
// fallbackAdmin is used when the genesis file names no administrator. The effective
// administrator is returned.
func Apply(spec *GenesisSpec, mgr *state.Manager, engine *staking.Engine, fallbackAdmin [20]byte) ([20]byte, error) {
	if spec == nil {
		return [20]byte{}, fmt.Errorf("genesis spec must not be nil")
	}
	if mgr == nil || engine == nil {
		return [20]byte{}, fmt.Errorf("genesis: state and engine required")
	}
	admin, ok := spec.Admin()
	if !ok {
		admin = fallbackAdmin
	}
	if err := engine.Init(admin, spec.Rates()); err != nil {
		return admin, fmt.Errorf("genesis: init staking: %w", err)
	}

	applied, err := mgr.KVGet(appliedKey, nil)
	if err != nil {
		return admin, err
	}
	if applied {
		return admin, nil
	}

	tx := mgr.Begin()
	defer tx.Discard()
	if len(spec.Staking.Tiers) > 0 {
		tiers := make([]staking.Tier, len(spec.Staking.Tiers))
		for i, tier := range spec.Staking.Tiers {
			tiers[i] = staking.Tier{DurationUnits: tier.DurationUnits, RewardBps: tier.RewardBps}
		}
		if err := staking.StageTiers(tx, tiers); err != nil {
			return admin, fmt.Errorf("genesis: %w", err)
		}
	}
	ledger := bank.NewLedger(tx)
	for _, alloc := range spec.Allocations() {
		if err := ledger.Credit(alloc.Account, alloc.Amount); err != nil {
			return admin, fmt.Errorf("genesis: credit %x: %w", alloc.Account, err)
		}
	}
	if err := ledger.Credit(engine.VaultAddress(), spec.ReserveAmount()); err != nil {
		return admin, fmt.Errorf("genesis: credit reserve: %w", err)
	}
	ts := spec.GenesisTimestamp().Unix()
	if ts < 0 {
		ts = 0
	}
	if err := tx.KVPut(appliedKey, &appliedMarker{Timestamp: uint64(ts)}); err != nil {
		return admin, err
	}
	if err := tx.Commit(); err != nil {
		return admin, fmt.Errorf("genesis: commit: %w", err)
	}
	return admin, nil
}
