// Package fees implements the dynamic basis-point fee curve. Flows that move
// an asset's recorded debt toward its target share of total debt earn a rebate
// on the base fee; flows that move it away pay a tax on top. The curve is pure
// arithmetic over caller-supplied state so it can be exercised without a vault.
package fees

import (
	"math/big"

	vmath "VaultLedger/internal/math"
)

// TargetDebt returns the debt level an asset should carry given its weight:
// weight / totalWeight * totalDebtSupply, floored. A zero total weight or
// zero supply yields a zero target.
func TargetDebt(weight, totalWeight int64, totalDebtSupply *big.Int) *big.Int {
	if weight <= 0 || totalWeight <= 0 || totalDebtSupply.Sign() == 0 {
		return new(big.Int)
	}
	target := new(big.Int).Mul(totalDebtSupply, big.NewInt(weight))
	return target.Quo(target, big.NewInt(totalWeight))
}

// BasisPoints computes the fee in bps for moving an asset's debt by usdwDelta.
// increment selects the direction: true when the flow adds debt (deposit, swap
// in-leg), false when it removes debt (withdraw, swap out-leg). When dynamic
// pricing is off the caller passes a zero targetDebt and gets baseFeeBps back.
func BasisPoints(debt, usdwDelta, targetDebt *big.Int, baseFeeBps, taxBps int64, increment bool) int64 {
	if targetDebt.Sign() == 0 {
		return baseFeeBps
	}

	nextDebt := new(big.Int)
	if increment {
		nextDebt.Add(debt, usdwDelta)
	} else {
		nextDebt.Sub(debt, usdwDelta)
		if nextDebt.Sign() < 0 {
			nextDebt.SetInt64(0)
		}
	}

	initialDiff := vmath.AbsDiff(debt, targetDebt)
	nextDiff := vmath.AbsDiff(nextDebt, targetDebt)

	if nextDiff.Cmp(initialDiff) < 0 {
		// Rebalancing flow: rebate proportional to how far off target the
		// asset currently is. A big enough rebate zeroes the fee.
		rebate := mulDivBps(taxBps, initialDiff, targetDebt)
		if rebate > baseFeeBps {
			return 0
		}
		return baseFeeBps - rebate
	}

	// Imbalancing flow: tax on the average distance from target, capped at
	// the full taxBps when the average meets or exceeds the target itself.
	avgDiff := new(big.Int).Add(initialDiff, nextDiff)
	avgDiff.Rsh(avgDiff, 1)
	if avgDiff.Cmp(targetDebt) > 0 {
		avgDiff.Set(targetDebt)
	}
	return baseFeeBps + mulDivBps(taxBps, avgDiff, targetDebt)
}

// SwapBasisPoints evaluates both legs of a swap independently and returns the
// higher of the two, charged against the outgoing asset.
func SwapBasisPoints(inDebt, outDebt, usdwDelta, inTarget, outTarget *big.Int, baseFeeBps, taxBps int64) int64 {
	inBps := BasisPoints(inDebt, usdwDelta, inTarget, baseFeeBps, taxBps, true)
	outBps := BasisPoints(outDebt, usdwDelta, outTarget, baseFeeBps, taxBps, false)
	if inBps > outBps {
		return inBps
	}
	return outBps
}

// mulDivBps returns bps * num / denom as int64 bps. denom must be positive.
func mulDivBps(bps int64, num, denom *big.Int) int64 {
	v := new(big.Int).Mul(num, big.NewInt(bps))
	v.Quo(v, denom)
	if !v.IsInt64() {
		// The ratio num/denom is unbounded only on the rebate path, where the
		// caller clamps at zero anyway. Saturate rather than wrap.
		return int64(1<<62 - 1)
	}
	return v.Int64()
}
