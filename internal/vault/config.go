package vault

import (
	"fmt"
	"math/big"
)

// FeeConfig is the basis-point fee and tax table. All values are bps out of
// 10_000 and are validated against hard caps at configuration time, not at
// charge time (the dynamic curve may exceed the base values upward).
type FeeConfig struct {
	TaxBps           int64
	StableTaxBps     int64
	MintBurnFeeBps   int64
	SwapFeeBps       int64
	StableSwapFeeBps int64
	WagerFeeBps      int64
	ReferralCapBps   int64 // max referral reserve as a share of wager fees
	HasDynamicFees   bool
}

const (
	maxFeeBps      = 500  // 5%
	maxWagerFeeBps = 1500 // 15%
)

// Validate enforces the configuration-time fee caps.
func (c FeeConfig) Validate() error {
	for name, v := range map[string]int64{
		"tax":         c.TaxBps,
		"stable_tax":  c.StableTaxBps,
		"mint_burn":   c.MintBurnFeeBps,
		"swap":        c.SwapFeeBps,
		"stable_swap": c.StableSwapFeeBps,
	} {
		if v < 0 || v > maxFeeBps {
			return fmt.Errorf("fee %s out of range: %d", name, v)
		}
	}
	if c.WagerFeeBps < 0 || c.WagerFeeBps > maxWagerFeeBps {
		return fmt.Errorf("wager fee out of range: %d", c.WagerFeeBps)
	}
	if c.ReferralCapBps < 0 || c.ReferralCapBps > 10_000 {
		return fmt.Errorf("referral cap out of range: %d", c.ReferralCapBps)
	}
	return nil
}

// AssetConfig describes one whitelisted asset.
type AssetConfig struct {
	Asset    string
	Decimals int
	Weight   int64 // relative target share of total debt
	IsStable bool
	MaxUsdw  *big.Int // 18-decimal debt cap, zero or nil = uncapped
}

func (c AssetConfig) validate() error {
	if c.Asset == "" {
		return fmt.Errorf("asset id required")
	}
	if c.Decimals < 0 || c.Decimals > 18 {
		return fmt.Errorf("asset %s decimals out of range: %d", c.Asset, c.Decimals)
	}
	if c.Weight <= 0 {
		return fmt.Errorf("asset %s weight must be positive: %d", c.Asset, c.Weight)
	}
	if c.MaxUsdw != nil && c.MaxUsdw.Sign() < 0 {
		return fmt.Errorf("asset %s debt cap negative", c.Asset)
	}
	return nil
}
