package staking

import (
	"errors"
	"fmt"
	"math/big"
	"math/bits"
	"sync"
	"time"

	"stakevault/core/events"
	"stakevault/core/state"
	"stakevault/crypto"
	"stakevault/native/bank"
)

// ModuleName identifies the staking module. The custody vault address is
// derived from it.
const ModuleName = "staking"

// DefaultDurationUnit is the wall-clock length of one tier duration unit.
const DefaultDurationUnit = time.Minute

var errNilState = errors.New("staking: state not configured")

type stateBackend interface {
	state.KV
	Begin() *state.Tx
}

// Metrics receives operational signals from the engine. Implementations must
// be safe for concurrent use.
type Metrics interface {
	ObserveDepositCreated(tier uint32, value *big.Int)
	ObserveWithdrawal(tier uint32, principal, reward *big.Int)
	ObserveRejected(op, reason string)
	SetTotalStaked(total *big.Int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveDepositCreated(uint32, *big.Int) {}
func (noopMetrics) ObserveWithdrawal(uint32, *big.Int, *big.Int) {}
func (noopMetrics) ObserveRejected(string, string) {}
func (noopMetrics) SetTotalStaked(*big.Int) {}

// Engine owns the deposit ledger. Every mutating operation runs inside a
// single state transaction and is serialised by the engine mutex, so callers
// observe either the full effect of an operation or none of it.
type Engine struct {
	mu      sync.Mutex
	state   stateBackend
	emitter events.Emitter
	metrics Metrics
	nowFn   func() int64
	unit    time.Duration
	vault   [20]byte
}

// NewEngine creates a staking engine bound to the provided state. The module
// must be initialised with Init before deposits are accepted.
func NewEngine(st stateBackend) *Engine {
	return &Engine{
		state:   st,
		emitter: events.NoopEmitter{},
		metrics: noopMetrics{},
		nowFn:   func() int64 { return time.Now().Unix() },
		unit:    DefaultDurationUnit,
		vault:   crypto.ModuleAddress(ModuleName),
	}
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetMetrics configures the metrics sink. Passing nil disables metrics.
func (e *Engine) SetMetrics(m Metrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m == nil {
		e.metrics = noopMetrics{}
		return
	}
	e.metrics = m
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetDurationUnit configures the wall-clock length of one duration unit.
// Values below one second are rounded up to one second.
func (e *Engine) SetDurationUnit(unit time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if unit < time.Second {
		unit = time.Second
	}
	e.unit = unit
}

// VaultAddress returns the module account holding staked principal and the
// reward reserve.
func (e *Engine) VaultAddress() [20]byte { return e.vault }

func (e *Engine) now() uint64 {
	ts := e.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (e *Engine) unitSeconds() uint64 {
	secs := uint64(e.unit / time.Second)
	if secs == 0 {
		return 1
	}
	return secs
}

// Init records the administrator and the construction rates for the three
// default tiers. Calling Init again with the same administrator is a no-op so
// restarts can replay it; a different administrator is rejected.
func (e *Engine) Init(admin [20]byte, rates [3]uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	existing, err := loadConfig(e.state)
	switch {
	case err == nil:
		if existing.Admin != admin {
			return ErrAdminMismatch
		}
		return nil
	case !errors.Is(err, ErrNotInitialized):
		return err
	}
	table, err := NewDefaultTierTable(rates)
	if err != nil {
		return err
	}
	tx := e.state.Begin()
	defer tx.Discard()
	if err := storeConfig(tx, &moduleConfig{Admin: admin, Tiers: table}); err != nil {
		return err
	}
	return tx.Commit()
}

// Initialized reports whether Init has been committed.
func (e *Engine) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return false
	}
	_, err := loadConfig(e.state)
	return err == nil
}

func (e *Engine) reject(op string, err error) error {
	reason := "internal"
	switch {
	case errors.Is(err, ErrInvalidAmount):
		reason = "invalid_amount"
	case errors.Is(err, ErrAlreadyStaking):
		reason = "already_staking"
	case errors.Is(err, ErrNoActiveDeposit):
		reason = "no_active_deposit"
	case errors.Is(err, ErrNotMatured):
		reason = "not_matured"
	case errors.Is(err, ErrUnauthorized):
		reason = "unauthorized"
	case errors.Is(err, ErrUnknownTier):
		reason = "unknown_tier"
	case errors.Is(err, ErrInvalidParams):
		reason = "invalid_params"
	case errors.Is(err, ErrInsufficientReserve):
		reason = "insufficient_reserve"
	case errors.Is(err, bank.ErrInsufficientBalance):
		reason = "insufficient_balance"
	case errors.Is(err, ErrNotInitialized):
		reason = "not_initialized"
	}
	e.metrics.ObserveRejected(op, reason)
	return err
}

// maturityTime returns start plus the tier period, rejecting periods that
// do not fit in a uint64 timestamp.
func maturityTime(start uint64, durationUnits uint32, unitSeconds uint64) (uint64, error) {
	hi, period := bits.Mul64(uint64(durationUnits), unitSeconds)
	if hi != 0 {
		return 0, fmt.Errorf("%w: tier %d period overflows", ErrInvalidParams, durationUnits)
	}
	maturity, carry := bits.Add64(start, period, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: tier %d maturity overflows", ErrInvalidParams, durationUnits)
	}
	return maturity, nil
}

func validAmount(value *big.Int) bool {
	return value != nil && value.Sign() > 0 && value.BitLen() <= 256
}

// CreateDeposit locks value from account for the tier identified by
// durationUnits. The tier's current rate and period are snapshotted into the
// deposit record.
func (e *Engine) CreateDeposit(account [20]byte, durationUnits uint32, value *big.Int) (*Deposit, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	if !validAmount(value) {
		return nil, e.reject("create", ErrInvalidAmount)
	}
	tx := e.state.Begin()
	defer tx.Discard()

	cfg, err := loadConfig(tx)
	if err != nil {
		return nil, e.reject("create", err)
	}
	rate, err := cfg.Tiers.RewardRate(durationUnits)
	if err != nil {
		return nil, e.reject("create", err)
	}
	start := e.now()
	maturity, err := maturityTime(start, durationUnits, e.unitSeconds())
	if err != nil {
		return nil, e.reject("create", err)
	}
	store := NewDepositStore(tx)
	existing, ok, err := store.Get(account)
	if err != nil {
		return nil, err
	}
	if ok && existing.Active {
		return nil, e.reject("create", ErrAlreadyStaking)
	}
	if err := bank.NewLedger(tx).Transfer(account, e.vault, value); err != nil {
		return nil, e.reject("create", err)
	}

	dep := &Deposit{
		Owner:        account,
		Principal:    new(big.Int).Set(value),
		Tier:         durationUnits,
		RewardBps:    rate,
		StartTime:    start,
		MaturityTime: maturity,
		Active:       true,
	}
	if err := store.Put(account, dep); err != nil {
		return nil, err
	}
	total, err := store.Totals()
	if err != nil {
		return nil, err
	}
	total.Add(total, value)
	if err := store.SetTotals(total); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	e.metrics.ObserveDepositCreated(dep.Tier, dep.Principal)
	e.metrics.SetTotalStaked(total)
	e.emitter.Emit(events.DepositCreated{
		Account:      account,
		Value:        new(big.Int).Set(value),
		Tier:         dep.Tier,
		RewardBps:    dep.RewardBps,
		StartTime:    dep.StartTime,
		MaturityTime: dep.MaturityTime,
	})
	return dep.Clone(), nil
}

// WithdrawDeposit pays principal plus reward back to account once the lock
// elapsed. The slot is cleared and totals reduced before the outbound
// transfer is staged.
func (e *Engine) WithdrawDeposit(account [20]byte) (*WithdrawResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	tx := e.state.Begin()
	defer tx.Discard()

	store := NewDepositStore(tx)
	dep, ok, err := store.Get(account)
	if err != nil {
		return nil, err
	}
	if !ok || !dep.Active {
		return nil, e.reject("withdraw", ErrNoActiveDeposit)
	}
	if !dep.Matured(e.now()) {
		return nil, e.reject("withdraw", ErrNotMatured)
	}
	reward, payout, err := ComputePayout(dep.Principal, dep.RewardBps)
	if err != nil {
		return nil, err
	}
	ledger := bank.NewLedger(tx)
	total, err := store.Totals()
	if err != nil {
		return nil, err
	}
	reserve, err := e.reserve(ledger, total)
	if err != nil {
		return nil, err
	}
	if reward.Cmp(reserve) > 0 {
		return nil, e.reject("withdraw", fmt.Errorf("%w: reward %s exceeds reserve %s", ErrInsufficientReserve, reward, reserve))
	}

	if err := store.Clear(account); err != nil {
		return nil, err
	}
	total.Sub(total, dep.Principal)
	if total.Sign() < 0 {
		return nil, fmt.Errorf("staking: totals underflow for %x", account)
	}
	if err := store.SetTotals(total); err != nil {
		return nil, err
	}
	if err := ledger.Transfer(e.vault, account, payout); err != nil {
		return nil, e.reject("withdraw", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	result := &WithdrawResult{
		Account:   account,
		Principal: new(big.Int).Set(dep.Principal),
		Reward:    reward,
		Payout:    payout,
	}
	e.metrics.ObserveWithdrawal(dep.Tier, dep.Principal, reward)
	e.metrics.SetTotalStaked(total)
	e.emitter.Emit(events.DepositWithdrawn{
		Account:   account,
		Principal: new(big.Int).Set(result.Principal),
		Reward:    new(big.Int).Set(reward),
		Payout:    new(big.Int).Set(payout),
		Tier:      dep.Tier,
	})
	return result, nil
}

// SetParams writes the reward rate for a lock period. Only the administrator
// may call it. Outstanding deposits keep their snapshotted rate.
func (e *Engine) SetParams(caller [20]byte, durationUnits, rewardBps uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	tx := e.state.Begin()
	defer tx.Discard()

	cfg, err := loadConfig(tx)
	if err != nil {
		return e.reject("set_params", err)
	}
	if caller != cfg.Admin {
		return e.reject("set_params", ErrUnauthorized)
	}
	table, added, err := cfg.Tiers.Upsert(durationUnits, rewardBps)
	if err != nil {
		return e.reject("set_params", err)
	}
	cfg.Tiers = table
	if err := storeConfig(tx, cfg); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.emitter.Emit(events.ParamsUpdated{
		Caller:        caller,
		DurationUnits: durationUnits,
		RewardBps:     rewardBps,
		Added:         added,
	})
	return nil
}

// FundReserve moves amount from the funder into the module vault where it
// backs future rewards.
func (e *Engine) FundReserve(from [20]byte, amount *big.Int) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	if !validAmount(amount) {
		return nil, e.reject("fund", ErrInvalidAmount)
	}
	tx := e.state.Begin()
	defer tx.Discard()
	ledger := bank.NewLedger(tx)
	if err := ledger.Transfer(from, e.vault, amount); err != nil {
		return nil, e.reject("fund", err)
	}
	total, err := NewDepositStore(tx).Totals()
	if err != nil {
		return nil, err
	}
	reserve, err := e.reserve(ledger, total)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return reserve, nil
}

func (e *Engine) reserve(ledger *bank.Ledger, total *big.Int) (*big.Int, error) {
	held, err := ledger.Balance(e.vault)
	if err != nil {
		return nil, err
	}
	held.Sub(held, total)
	if held.Sign() < 0 {
		return big.NewInt(0), nil
	}
	return held, nil
}

// Reserve returns the vault balance not owed as principal to depositors.
func (e *Engine) Reserve() (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	total, err := NewDepositStore(e.state).Totals()
	if err != nil {
		return nil, err
	}
	return e.reserve(bank.NewLedger(e.state), total)
}

// DepositInfo returns the account's slot. An empty slot yields zero
// timestamps and Active=false rather than an error.
func (e *Engine) DepositInfo(account [20]byte) (*DepositInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	dep, ok, err := NewDepositStore(e.state).Get(account)
	if err != nil {
		return nil, err
	}
	info := &DepositInfo{Account: account, Principal: big.NewInt(0), Status: StatusNoDeposit}
	if !ok || !dep.Active {
		return info, nil
	}
	info.StartTime = dep.StartTime
	info.MaturityTime = dep.MaturityTime
	info.Principal = new(big.Int).Set(dep.Principal)
	info.Tier = dep.Tier
	info.RewardBps = dep.RewardBps
	info.Active = true
	info.Status = StatusActive
	if dep.Matured(e.now()) {
		info.Status = StatusMatured
	}
	return info, nil
}

// Status returns the lifecycle state of the account slot.
func (e *Engine) Status(account [20]byte) (DepositStatus, error) {
	info, err := e.DepositInfo(account)
	if err != nil {
		return StatusNoDeposit, err
	}
	return info.Status, nil
}

// AllBalanceStaking returns the sum of principal over active deposits.
func (e *Engine) AllBalanceStaking() (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	return NewDepositStore(e.state).Totals()
}

// PublishTotals pushes the persisted staked total to the metrics sink so the
// gauge reflects state recovered from disk before any new deposit arrives.
func (e *Engine) PublishTotals() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	total, err := NewDepositStore(e.state).Totals()
	if err != nil {
		return err
	}
	e.metrics.SetTotalStaked(total)
	return nil
}

// PreviewWithdraw reports what WithdrawDeposit would pay now.
func (e *Engine) PreviewWithdraw(account [20]byte) (*WithdrawPreview, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	dep, ok, err := NewDepositStore(e.state).Get(account)
	if err != nil {
		return nil, err
	}
	if !ok || !dep.Active {
		return nil, ErrNoActiveDeposit
	}
	reward, payout, err := ComputePayout(dep.Principal, dep.RewardBps)
	if err != nil {
		return nil, err
	}
	return &WithdrawPreview{
		WithdrawResult: WithdrawResult{
			Account:   account,
			Principal: new(big.Int).Set(dep.Principal),
			Reward:    reward,
			Payout:    payout,
		},
		MaturityTime: dep.MaturityTime,
		Matured:      dep.Matured(e.now()),
	}, nil
}

// Tiers returns a copy of the current tier table.
func (e *Engine) Tiers() (TierTable, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	cfg, err := loadConfig(e.state)
	if err != nil {
		return nil, err
	}
	return append(TierTable(nil), cfg.Tiers...), nil
}

// RewardRate returns the current rate for the lock period.
func (e *Engine) RewardRate(durationUnits uint32) (uint32, error) {
	table, err := e.Tiers()
	if err != nil {
		return 0, err
	}
	return table.RewardRate(durationUnits)
}

// Admin returns the administrator fixed at Init.
func (e *Engine) Admin() ([20]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return [20]byte{}, errNilState
	}
	cfg, err := loadConfig(e.state)
	if err != nil {
		return [20]byte{}, err
	}
	return cfg.Admin, nil
}
