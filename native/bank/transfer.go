package bank

import (
	"errors"
	"fmt"
	"math/big"

	"stakevault/core/state"
)

var (
	// ErrInsufficientBalance marks transfers exceeding the sender balance.
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	// ErrNegativeAmount rejects transfers and credits below zero.
	ErrNegativeAmount = errors.New("bank: negative amount")
)

var balancePrefix = []byte("bank/balance/")

func balanceKey(addr [20]byte) []byte {
	buf := make([]byte, len(balancePrefix)+len(addr))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], addr[:])
	return buf
}

type storedBalance struct {
	Amount *big.Int
}

// Ledger tracks native balances. It is the value-transfer primitive the
// staking module relies on: a transfer either moves the full amount or
// leaves both balances unchanged.
type Ledger struct {
	kv state.KV
}

// NewLedger binds a ledger to the supplied key/value view. Passing an open
// state transaction scopes every mutation to that transaction.
func NewLedger(kv state.KV) *Ledger {
	return &Ledger{kv: kv}
}

// Balance returns the current balance of addr. Unknown accounts hold zero.
func (l *Ledger) Balance(addr [20]byte) (*big.Int, error) {
	if l == nil || l.kv == nil {
		return nil, errors.New("bank: ledger not initialised")
	}
	var stored storedBalance
	ok, err := l.kv.KVGet(balanceKey(addr), &stored)
	if err != nil {
		return nil, fmt.Errorf("bank: load balance: %w", err)
	}
	if !ok || stored.Amount == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(stored.Amount), nil
}

func (l *Ledger) setBalance(addr [20]byte, amount *big.Int) error {
	if amount.Sign() == 0 {
		return l.kv.KVDelete(balanceKey(addr))
	}
	return l.kv.KVPut(balanceKey(addr), &storedBalance{Amount: new(big.Int).Set(amount)})
}

// Credit mints amount into addr. Only genesis allocation uses it.
func (l *Ledger) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	current, err := l.Balance(addr)
	if err != nil {
		return err
	}
	return l.setBalance(addr, current.Add(current, amount))
}

// Transfer moves amount from one account to another. Zero amounts are a
// no-op. Balances are checked before anything is written so a failed transfer
// never leaves a partial debit behind.
func (l *Ledger) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	fromBal, err := l.Balance(from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBal, amount)
	}
	if from == to {
		return nil
	}
	toBal, err := l.Balance(to)
	if err != nil {
		return err
	}
	if err := l.setBalance(from, fromBal.Sub(fromBal, amount)); err != nil {
		return err
	}
	return l.setBalance(to, toBal.Add(toBal, amount))
}
