// Package token provides the in-process token collaborators: mintable supply
// ledgers for the debt token (USDW) and the share token (WLP), and a custody
// bank tracking who holds how much of each pooled asset. Amounts are raw
// fixed-point integers in each token's own decimals.
package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
)

var (
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	ErrNegativeAmount      = errors.New("token: negative amount")
)

// Supply is the mint/burn surface the ledger core depends on. The vault is
// the sole minter of USDW; the share accountant is the sole minter of WLP.
type Supply interface {
	Mint(to string, amount *big.Int) error
	Burn(from string, amount *big.Int) error
	TotalSupply() *big.Int
	BalanceOf(account string) *big.Int
}

// SupplyLedger is a map-backed Supply with a running total.
type SupplyLedger struct {
	mu       sync.RWMutex
	symbol   string
	balances map[string]*big.Int
	total    *big.Int
}

func NewSupplyLedger(symbol string) *SupplyLedger {
	return &SupplyLedger{
		symbol:   symbol,
		balances: make(map[string]*big.Int),
		total:    new(big.Int),
	}
}

func (l *SupplyLedger) Mint(to string, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	bal, ok := l.balances[to]
	if !ok {
		bal = new(big.Int)
		l.balances[to] = bal
	}
	bal.Add(bal, amount)
	l.total.Add(l.total, amount)
	return nil
}

func (l *SupplyLedger) Burn(from string, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	bal, ok := l.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: burn %s %s from %s", ErrInsufficientBalance, amount, l.symbol, from)
	}
	bal.Sub(bal, amount)
	l.total.Sub(l.total, amount)
	return nil
}

func (l *SupplyLedger) TotalSupply() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.total)
}

func (l *SupplyLedger) BalanceOf(account string) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if bal, ok := l.balances[account]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}
