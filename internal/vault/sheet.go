package vault

import "math/big"

// assetSheet is one asset's balance sheet. Pool and fee reserves carry the
// asset's own decimals; debt carries the debt token's 18. Sheets survive
// whitelist removal: clearing an asset's config leaves its balances in place.
type assetSheet struct {
	pool            *big.Int
	debt            *big.Int
	buffer          *big.Int // configured floor for withdraw/swap decreases
	breakerFloor    *big.Int // configured circuit-breaker threshold, zero = off
	swapFeeReserve  *big.Int
	wagerFeeReserve *big.Int
	referralReserve *big.Int
	totalIn         *big.Int // all-time settlement inflow, never reset
	totalOut        *big.Int // all-time settlement outflow, never reset
}

func newAssetSheet() *assetSheet {
	return &assetSheet{
		pool:            new(big.Int),
		debt:            new(big.Int),
		buffer:          new(big.Int),
		breakerFloor:    new(big.Int),
		swapFeeReserve:  new(big.Int),
		wagerFeeReserve: new(big.Int),
		referralReserve: new(big.Int),
		totalIn:         new(big.Int),
		totalOut:        new(big.Int),
	}
}
