package math

import (
	"math/big"
	"sync"
)

// Fixed-point scales shared across the ledger. USD values carry 30 decimals,
// the debt token (USDW) and the share token (WLP) carry 18, and fee/tax tables
// are expressed in basis points out of 10_000. Amounts of a pooled asset carry
// that asset's own decimals. Mixing scales without going through the named
// conversions below is a bug.
const (
	PriceDecimals      = 30
	UsdwDecimals       = 18
	ShareDecimals      = 18
	BasisPointsDivisor = 10_000
)

var (
	// PricePrecision is 10^30, the scale of one USD from the price feed.
	PricePrecision = Pow10(PriceDecimals)

	// OneUsdw is 10^18, one whole unit of the debt token.
	OneUsdw = Pow10(UsdwDecimals)

	// SharePrecision is 10^18, the scale used for share prices.
	SharePrecision = Pow10(ShareDecimals)

	bpsDivisor = big.NewInt(BasisPointsDivisor)
)

var pow10Table = func() []*big.Int {
	t := make([]*big.Int, 49)
	v := big.NewInt(1)
	ten := big.NewInt(10)
	for i := range t {
		t[i] = new(big.Int).Set(v)
		v.Mul(v, ten)
	}
	return t
}()

// Pow10 returns 10^n as a shared read-only value for n in [0, 48].
func Pow10(n int) *big.Int {
	return pow10Table[n]
}

// scratchPool holds big.Ints for intermediate products so the hot conversion
// paths do not allocate on every call.
var scratchPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getScratch() *big.Int {
	return scratchPool.Get().(*big.Int)
}

func putScratch(v *big.Int) {
	v.SetInt64(0)
	scratchPool.Put(v)
}

// TokenToUsd prices a raw token amount into USD at 10^30 scale.
// result = amount * price / 10^decimals. Division floors; rounding always
// favors the pool.
func TokenToUsd(amount, price *big.Int, decimals int) *big.Int {
	scratch := getScratch()
	scratch.Mul(amount, price)
	result := new(big.Int).Quo(scratch, Pow10(decimals))
	putScratch(scratch)
	return result
}

// UsdToToken converts a USD value (10^30 scale) back to raw token units.
func UsdToToken(usdValue, price *big.Int, decimals int) *big.Int {
	scratch := getScratch()
	scratch.Mul(usdValue, Pow10(decimals))
	result := new(big.Int).Quo(scratch, price)
	putScratch(scratch)
	return result
}

// TokenToUsdw prices a raw token amount directly into debt-token units
// (18 decimals): amount * price / 10^(decimals + 12).
func TokenToUsdw(amount, price *big.Int, decimals int) *big.Int {
	scratch := getScratch()
	scratch.Mul(amount, price)
	result := new(big.Int).Quo(scratch, Pow10(decimals+PriceDecimals-UsdwDecimals))
	putScratch(scratch)
	return result
}

// UsdwToToken converts debt-token units back to raw token units at the given
// price: usdw * 10^(decimals + 12) / price.
func UsdwToToken(usdwAmount, price *big.Int, decimals int) *big.Int {
	scratch := getScratch()
	scratch.Mul(usdwAmount, Pow10(decimals+PriceDecimals-UsdwDecimals))
	result := new(big.Int).Quo(scratch, price)
	putScratch(scratch)
	return result
}

// UsdToUsdw rescales a 10^30 USD value to 18-decimal debt-token units.
func UsdToUsdw(usdValue *big.Int) *big.Int {
	return new(big.Int).Quo(usdValue, Pow10(PriceDecimals-UsdwDecimals))
}

// AdjustForDecimals rescales an amount from one token's decimals to another's:
// amount * 10^mulDecimals / 10^divDecimals.
func AdjustForDecimals(amount *big.Int, divDecimals, mulDecimals int) *big.Int {
	scratch := getScratch()
	scratch.Mul(amount, Pow10(mulDecimals))
	result := new(big.Int).Quo(scratch, Pow10(divDecimals))
	putScratch(scratch)
	return result
}

// BpsPortion returns amount * bps / 10_000, the fee slice of an amount.
func BpsPortion(amount *big.Int, bps int64) *big.Int {
	scratch := getScratch()
	scratch.Mul(amount, big.NewInt(bps))
	result := new(big.Int).Quo(scratch, bpsDivisor)
	putScratch(scratch)
	return result
}

// AfterBps returns amount * (10_000 - bps) / 10_000, the amount net of fee.
func AfterBps(amount *big.Int, bps int64) *big.Int {
	scratch := getScratch()
	scratch.Mul(amount, big.NewInt(BasisPointsDivisor-bps))
	result := new(big.Int).Quo(scratch, bpsDivisor)
	putScratch(scratch)
	return result
}

// AbsDiff returns |a - b| as a new value.
func AbsDiff(a, b *big.Int) *big.Int {
	d := new(big.Int).Sub(a, b)
	return d.Abs(d)
}

// MinBig returns the smaller of a and b without copying.
func MinBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// MaxBig returns the larger of a and b without copying.
func MaxBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}
