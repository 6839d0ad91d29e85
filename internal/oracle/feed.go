// Package oracle defines the price feed surface the ledger depends on and a
// cached feed fed by the price ingestion stream. Prices are USD per whole
// token at 10^30 scale. A zero or missing price aborts the calling operation;
// the ledger never substitutes a default.
package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/rs/zerolog"
)

var (
	ErrPriceUnavailable = errors.New("oracle: no price for asset")
	ErrZeroPrice        = errors.New("oracle: zero price for asset")
)

// PriceFeed supplies the two price bounds. MinPrice is used to value incoming
// assets, MaxPrice outgoing ones, so pricing always favors the pool.
type PriceFeed interface {
	MinPrice(asset string) (*big.Int, error)
	MaxPrice(asset string) (*big.Int, error)
}

type quote struct {
	min      *big.Int
	max      *big.Int
	sequence uint64
}

// CachedFeed holds the latest quote per asset, updated from the price stream.
// Updates carry a per-asset sequence; stale or replayed updates are dropped,
// gaps are tolerated since only the newest quote matters.
type CachedFeed struct {
	mu     sync.RWMutex
	quotes map[string]quote
	logger zerolog.Logger
}

func NewCachedFeed(logger zerolog.Logger) *CachedFeed {
	return &CachedFeed{
		quotes: make(map[string]quote),
		logger: logger.With().Str("component", "price_feed").Logger(),
	}
}

// Update installs a new quote. Returns false when the update is stale.
func (f *CachedFeed) Update(asset string, minPrice, maxPrice *big.Int, sequence uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if prev, ok := f.quotes[asset]; ok && sequence <= prev.sequence {
		f.logger.Debug().
			Str("asset", asset).
			Uint64("sequence", sequence).
			Uint64("latest", prev.sequence).
			Msg("dropping stale price update")
		return false
	}
	f.quotes[asset] = quote{
		min:      new(big.Int).Set(minPrice),
		max:      new(big.Int).Set(maxPrice),
		sequence: sequence,
	}
	return true
}

func (f *CachedFeed) MinPrice(asset string) (*big.Int, error) {
	return f.price(asset, false)
}

func (f *CachedFeed) MaxPrice(asset string) (*big.Int, error) {
	return f.price(asset, true)
}

func (f *CachedFeed) price(asset string, max bool) (*big.Int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	q, ok := f.quotes[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, asset)
	}
	p := q.min
	if max {
		p = q.max
	}
	if p.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrZeroPrice, asset)
	}
	return new(big.Int).Set(p), nil
}

// StaticFeed is a fixed-price PriceFeed for tests and local runs.
type StaticFeed struct {
	mu     sync.RWMutex
	quotes map[string][2]*big.Int // min, max
}

func NewStaticFeed() *StaticFeed {
	return &StaticFeed{quotes: make(map[string][2]*big.Int)}
}

// Set installs identical min and max prices for an asset.
func (f *StaticFeed) Set(asset string, price *big.Int) {
	f.SetBounds(asset, price, price)
}

func (f *StaticFeed) SetBounds(asset string, minPrice, maxPrice *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[asset] = [2]*big.Int{
		new(big.Int).Set(minPrice),
		new(big.Int).Set(maxPrice),
	}
}

func (f *StaticFeed) MinPrice(asset string) (*big.Int, error) {
	return f.lookup(asset, 0)
}

func (f *StaticFeed) MaxPrice(asset string) (*big.Int, error) {
	return f.lookup(asset, 1)
}

func (f *StaticFeed) lookup(asset string, idx int) (*big.Int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	q, ok := f.quotes[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, asset)
	}
	if q[idx].Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrZeroPrice, asset)
	}
	return new(big.Int).Set(q[idx]), nil
}
