package vault

import (
	"fmt"
	"math/big"
)

// SheetSnapshot is one asset's balance sheet with big.Ints as decimal
// strings, the form stored in snapshots.
type SheetSnapshot struct {
	Pool            string `json:"pool"`
	Debt            string `json:"debt"`
	Buffer          string `json:"buffer"`
	BreakerFloor    string `json:"breaker_floor"`
	SwapFeeReserve  string `json:"swap_fee_reserve"`
	WagerFeeReserve string `json:"wager_fee_reserve"`
	ReferralReserve string `json:"referral_reserve"`
	TotalIn         string `json:"total_in"`
	TotalOut        string `json:"total_out"`
}

// AssetConfigSnapshot mirrors AssetConfig for snapshot encoding.
type AssetConfigSnapshot struct {
	Decimals int    `json:"decimals"`
	Weight   int64  `json:"weight"`
	IsStable bool   `json:"is_stable"`
	MaxUsdw  string `json:"max_usdw"`
}

// Snapshot is the full serializable vault state.
type Snapshot struct {
	Sheets         map[string]SheetSnapshot       `json:"sheets"`
	Assets         map[string]AssetConfigSnapshot `json:"assets"`
	TotalWeight    int64                          `json:"total_weight"`
	SwapsEnabled   bool                           `json:"swaps_enabled"`
	PayoutsEnabled bool                           `json:"payouts_enabled"`
	FeeCollector   string                         `json:"fee_collector"`
	Fees           FeeConfig                      `json:"fees"`
}

// SnapshotState captures the current state for persistence.
func (v *Vault) SnapshotState() *Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()

	snap := &Snapshot{
		Sheets:         make(map[string]SheetSnapshot, len(v.sheets)),
		Assets:         make(map[string]AssetConfigSnapshot, len(v.assets)),
		TotalWeight:    v.totalWeight,
		SwapsEnabled:   v.swapsEnabled,
		PayoutsEnabled: v.payoutsEnabled,
		FeeCollector:   v.feeCollector,
		Fees:           v.feeCfg,
	}
	for asset, s := range v.sheets {
		snap.Sheets[asset] = SheetSnapshot{
			Pool:            s.pool.Text(10),
			Debt:            s.debt.Text(10),
			Buffer:          s.buffer.Text(10),
			BreakerFloor:    s.breakerFloor.Text(10),
			SwapFeeReserve:  s.swapFeeReserve.Text(10),
			WagerFeeReserve: s.wagerFeeReserve.Text(10),
			ReferralReserve: s.referralReserve.Text(10),
			TotalIn:         s.totalIn.Text(10),
			TotalOut:        s.totalOut.Text(10),
		}
	}
	for asset, cfg := range v.assets {
		snap.Assets[asset] = AssetConfigSnapshot{
			Decimals: cfg.Decimals,
			Weight:   cfg.Weight,
			IsStable: cfg.IsStable,
			MaxUsdw:  cfg.MaxUsdw.Text(10),
		}
	}
	return snap
}

// RestoreState replaces all vault state from a snapshot. Used during warm
// restart before event replay.
func (v *Vault) RestoreState(snap *Snapshot) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	sheets := make(map[string]*assetSheet, len(snap.Sheets))
	for asset, ss := range snap.Sheets {
		s := newAssetSheet()
		for _, field := range []struct {
			dst *big.Int
			src string
		}{
			{s.pool, ss.Pool},
			{s.debt, ss.Debt},
			{s.buffer, ss.Buffer},
			{s.breakerFloor, ss.BreakerFloor},
			{s.swapFeeReserve, ss.SwapFeeReserve},
			{s.wagerFeeReserve, ss.WagerFeeReserve},
			{s.referralReserve, ss.ReferralReserve},
			{s.totalIn, ss.TotalIn},
			{s.totalOut, ss.TotalOut},
		} {
			if _, ok := field.dst.SetString(field.src, 10); !ok {
				return fmt.Errorf("snapshot: bad amount %q for %s", field.src, asset)
			}
		}
		sheets[asset] = s
	}

	assets := make(map[string]AssetConfig, len(snap.Assets))
	for asset, cs := range snap.Assets {
		maxUsdw, ok := new(big.Int).SetString(cs.MaxUsdw, 10)
		if !ok {
			return fmt.Errorf("snapshot: bad debt cap %q for %s", cs.MaxUsdw, asset)
		}
		assets[asset] = AssetConfig{
			Asset:    asset,
			Decimals: cs.Decimals,
			Weight:   cs.Weight,
			IsStable: cs.IsStable,
			MaxUsdw:  maxUsdw,
		}
		if _, ok := sheets[asset]; !ok {
			sheets[asset] = newAssetSheet()
		}
	}

	v.sheets = sheets
	v.assets = assets
	v.totalWeight = snap.TotalWeight
	v.swapsEnabled = snap.SwapsEnabled
	v.payoutsEnabled = snap.PayoutsEnabled
	v.feeCollector = snap.FeeCollector
	v.feeCfg = snap.Fees
	return nil
}
