package token

import (
	"fmt"
	"math/big"
	"sync"
)

// Bank tracks custody of pooled assets per account. The vault pulls funds
// from caller and escrow accounts and pushes payouts out; its recorded pool
// amount is checked against its bank balance after every increase.
type Bank interface {
	Credit(asset, account string, amount *big.Int) error
	Transfer(asset, from, to string, amount *big.Int) error
	Balance(asset, account string) *big.Int
}

type bankKey struct {
	asset   string
	account string
}

// MemoryBank is the in-process Bank implementation.
type MemoryBank struct {
	mu       sync.RWMutex
	balances map[bankKey]*big.Int
}

func NewMemoryBank() *MemoryBank {
	return &MemoryBank{balances: make(map[bankKey]*big.Int)}
}

// Credit adds externally sourced funds to an account. It models an inbound
// token transfer from outside the system (a depositor funding their wallet,
// the settlement engine funding escrow).
func (b *MemoryBank) Credit(asset, account string, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.add(bankKey{asset, account}, amount)
	return nil
}

// Transfer moves funds between two accounts, failing without mutation when
// the source balance cannot cover the amount.
func (b *MemoryBank) Transfer(asset, from, to string, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	src := b.balances[bankKey{asset, from}]
	if src == nil || src.Cmp(amount) < 0 {
		return fmt.Errorf("%w: transfer %s %s from %s", ErrInsufficientBalance, amount, asset, from)
	}
	src.Sub(src, amount)
	b.add(bankKey{asset, to}, amount)
	return nil
}

func (b *MemoryBank) Balance(asset, account string) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if bal, ok := b.balances[bankKey{asset, account}]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

func (b *MemoryBank) add(key bankKey, amount *big.Int) {
	bal, ok := b.balances[key]
	if !ok {
		bal = new(big.Int)
		b.balances[key] = bal
	}
	bal.Add(bal, amount)
}
