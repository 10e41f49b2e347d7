package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"stakevault/crypto"
	"stakevault/native/staking"
)

// GenesisSpec describes the initial ledger: the staking administrator and
// rates, account allocations and the reward reserve minted into the vault.
type GenesisSpec struct {
	GenesisTime string            `json:"genesisTime" yaml:"genesisTime"`
	Staking     StakingSpec       `json:"staking" yaml:"staking"`
	Alloc       map[string]string `json:"alloc" yaml:"alloc"`
	Reserve     string            `json:"reserve,omitempty" yaml:"reserve,omitempty"`

	genesisTimestamp time.Time
	admin            [20]byte
	hasAdmin         bool
	allocations      []Allocation
	reserve          *big.Int
}

// StakingSpec carries the construction parameters of the staking module.
type StakingSpec struct {
	Admin     string     `json:"admin,omitempty" yaml:"admin,omitempty"`
	ShortBps  uint32     `json:"shortBps" yaml:"shortBps"`
	MediumBps uint32     `json:"mediumBps" yaml:"mediumBps"`
	LongBps   uint32     `json:"longBps" yaml:"longBps"`
	Tiers     []TierSpec `json:"tiers,omitempty" yaml:"tiers,omitempty"`
}

// TierSpec adds or overrides a tier row at genesis.
type TierSpec struct {
	DurationUnits uint32 `json:"durationUnits" yaml:"durationUnits"`
	RewardBps     uint32 `json:"rewardBps" yaml:"rewardBps"`
}

// Allocation is a validated genesis balance.
type Allocation struct {
	Account [20]byte
	Amount  *big.Int
}

// LoadGenesisSpec reads a JSON or YAML genesis file, picked by extension.
// Unknown fields are rejected in both formats.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	var spec GenesisSpec
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&spec); err != nil {
			return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&spec); err != nil {
			return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
		}
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis spec %q: %w", path, err)
	}
	return &spec, nil
}

func (s *GenesisSpec) GenesisTimestamp() time.Time { return s.genesisTimestamp }

// Rates returns the construction rates for the short/medium/long tiers.
func (s *GenesisSpec) Rates() [3]uint32 {
	return [3]uint32{s.Staking.ShortBps, s.Staking.MediumBps, s.Staking.LongBps}
}

// Admin returns the administrator named in the genesis file, if any.
func (s *GenesisSpec) Admin() ([20]byte, bool) { return s.admin, s.hasAdmin }

// Allocations returns balances sorted by account.
func (s *GenesisSpec) Allocations() []Allocation {
	out := make([]Allocation, len(s.allocations))
	for i, alloc := range s.allocations {
		out[i] = Allocation{Account: alloc.Account, Amount: new(big.Int).Set(alloc.Amount)}
	}
	return out
}

// ReserveAmount returns the reward reserve minted into the staking vault.
func (s *GenesisSpec) ReserveAmount() *big.Int {
	if s.reserve == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(s.reserve)
}

func (s *GenesisSpec) validate() error {
	parsedTime, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = parsedTime

	if admin := strings.TrimSpace(s.Staking.Admin); admin != "" {
		addr, err := crypto.ParseAccount(admin)
		if err != nil {
			return fmt.Errorf("staking.admin: %w", err)
		}
		s.admin = addr
		s.hasAdmin = true
	}
	if _, err := staking.NewDefaultTierTable(s.Rates()); err != nil {
		return fmt.Errorf("staking: %w", err)
	}
	seen := make(map[uint32]struct{}, len(s.Staking.Tiers))
	for i, tier := range s.Staking.Tiers {
		if tier.DurationUnits == 0 {
			return fmt.Errorf("staking.tiers[%d]: durationUnits must be positive", i)
		}
		if tier.RewardBps > staking.MaxRewardBps {
			return fmt.Errorf("staking.tiers[%d]: rewardBps must be <= %d", i, staking.MaxRewardBps)
		}
		if _, dup := seen[tier.DurationUnits]; dup {
			return fmt.Errorf("staking.tiers[%d]: duplicate durationUnits %d", i, tier.DurationUnits)
		}
		seen[tier.DurationUnits] = struct{}{}
	}

	s.allocations = s.allocations[:0]
	for addrStr, amountStr := range s.Alloc {
		addr, err := crypto.ParseAccount(addrStr)
		if err != nil {
			return fmt.Errorf("alloc %q: %w", addrStr, err)
		}
		amount, err := parseAmountString(amountStr)
		if err != nil {
			return fmt.Errorf("alloc %q: %w", addrStr, err)
		}
		if amount.Sign() == 0 {
			continue
		}
		s.allocations = append(s.allocations, Allocation{Account: addr, Amount: amount})
	}
	sort.Slice(s.allocations, func(i, j int) bool {
		return bytes.Compare(s.allocations[i].Account[:], s.allocations[j].Account[:]) < 0
	})

	reserve, err := parseAmountString(s.Reserve)
	if err != nil {
		return fmt.Errorf("reserve: %w", err)
	}
	s.reserve = reserve
	return nil
}

func parseAmountString(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	if amount.BitLen() > 256 {
		return nil, fmt.Errorf("amount exceeds 256 bits")
	}
	return amount, nil
}

func parseGenesisTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("genesisTime must be provided")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid genesisTime %q", value)
}
