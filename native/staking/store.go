package staking

import (
	"errors"
	"fmt"
	"math/big"

	"stakevault/core/state"
)

var (
	depositPrefix = []byte("staking/deposit/")
	totalsKey     = []byte("staking/totals")
	configKey     = []byte("staking/config")
)

func depositKey(account [20]byte) []byte {
	buf := make([]byte, len(depositPrefix)+len(account))
	copy(buf, depositPrefix)
	copy(buf[len(depositPrefix):], account[:])
	return buf
}

// moduleConfig is the persisted construction state: the administrator fixed
// at Init plus the mutable tier table.
type moduleConfig struct {
	Admin [20]byte
	Tiers TierTable
}

type storedTotals struct {
	Staked *big.Int
}

// DepositStore is plain keyed access to deposit slots and the ledger totals.
// It enforces no business rules.
type DepositStore struct {
	kv state.KV
}

// NewDepositStore binds a store to a committed view or an open transaction.
func NewDepositStore(kv state.KV) *DepositStore {
	return &DepositStore{kv: kv}
}

// Get returns the deposit stored for account and whether one exists.
func (s *DepositStore) Get(account [20]byte) (*Deposit, bool, error) {
	if s == nil || s.kv == nil {
		return nil, false, errors.New("staking: store not initialised")
	}
	var dep Deposit
	ok, err := s.kv.KVGet(depositKey(account), &dep)
	if err != nil {
		return nil, false, fmt.Errorf("staking: load deposit: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return dep.Clone(), true, nil
}

// Put writes the deposit under its owner's slot.
func (s *DepositStore) Put(account [20]byte, dep *Deposit) error {
	if dep == nil {
		return errors.New("staking: nil deposit")
	}
	return s.kv.KVPut(depositKey(account), dep.Clone())
}

// Clear empties the account slot.
func (s *DepositStore) Clear(account [20]byte) error {
	return s.kv.KVDelete(depositKey(account))
}

// Totals returns the sum of principal over all active deposits.
func (s *DepositStore) Totals() (*big.Int, error) {
	var stored storedTotals
	ok, err := s.kv.KVGet(totalsKey, &stored)
	if err != nil {
		return nil, fmt.Errorf("staking: load totals: %w", err)
	}
	if !ok || stored.Staked == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(stored.Staked), nil
}

// SetTotals overwrites the ledger totals.
func (s *DepositStore) SetTotals(total *big.Int) error {
	if total == nil || total.Sign() < 0 {
		return fmt.Errorf("staking: invalid totals %v", total)
	}
	return s.kv.KVPut(totalsKey, &storedTotals{Staked: new(big.Int).Set(total)})
}

func loadConfig(kv state.KV) (*moduleConfig, error) {
	var cfg moduleConfig
	ok, err := kv.KVGet(configKey, &cfg)
	if err != nil {
		return nil, fmt.Errorf("staking: load config: %w", err)
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return &cfg, nil
}

// StageTiers upserts rows into the tier table held by kv without committing.
// Genesis uses it to land extra tiers in the same write set as allocations.
// The module must already be initialised in kv.
func StageTiers(kv state.KV, tiers []Tier) error {
	cfg, err := loadConfig(kv)
	if err != nil {
		return err
	}
	for _, tier := range tiers {
		table, _, err := cfg.Tiers.Upsert(tier.DurationUnits, tier.RewardBps)
		if err != nil {
			return fmt.Errorf("tier %d: %w", tier.DurationUnits, err)
		}
		cfg.Tiers = table
	}
	return storeConfig(kv, cfg)
}

func storeConfig(kv state.KV, cfg *moduleConfig) error {
	if err := cfg.Tiers.Validate(); err != nil {
		return err
	}
	return kv.KVPut(configKey, cfg)
}
