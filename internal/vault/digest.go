package vault

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
)

// StateDigest returns a deterministic SHA-256 over the full vault state:
// every sheet field of every asset plus the whitelist configuration and
// pool-wide flags. The processor folds it into the event hash chain.
func (v *Vault) StateDigest() []byte {
	v.mu.RLock()
	defer v.mu.RUnlock()

	h := sha256.New()

	sheetAssets := make([]string, 0, len(v.sheets))
	for a := range v.sheets {
		sheetAssets = append(sheetAssets, a)
	}
	sort.Strings(sheetAssets)

	for _, asset := range sheetAssets {
		s := v.sheets[asset]
		fmt.Fprintf(h, "sheet|%s|%s|%s|%s|%s|%s|%s|%s|%s|%s\n",
			asset,
			s.pool.Text(10),
			s.debt.Text(10),
			s.buffer.Text(10),
			s.breakerFloor.Text(10),
			s.swapFeeReserve.Text(10),
			s.wagerFeeReserve.Text(10),
			s.referralReserve.Text(10),
			s.totalIn.Text(10),
			s.totalOut.Text(10),
		)
	}

	cfgAssets := make([]string, 0, len(v.assets))
	for a := range v.assets {
		cfgAssets = append(cfgAssets, a)
	}
	sort.Strings(cfgAssets)
	for _, asset := range cfgAssets {
		cfg := v.assets[asset]
		fmt.Fprintf(h, "asset|%s|%d|%d|%t|%s\n",
			asset, cfg.Decimals, cfg.Weight, cfg.IsStable, cfg.MaxUsdw.Text(10))
	}

	var flags [2]byte
	if v.swapsEnabled {
		flags[0] = 1
	}
	if v.payoutsEnabled {
		flags[1] = 1
	}
	h.Write(flags[:])

	var weight [8]byte
	binary.LittleEndian.PutUint64(weight[:], uint64(v.totalWeight))
	h.Write(weight[:])

	fmt.Fprintf(h, "fees|%d|%d|%d|%d|%d|%d|%d|%t\n",
		v.feeCfg.TaxBps, v.feeCfg.StableTaxBps, v.feeCfg.MintBurnFeeBps,
		v.feeCfg.SwapFeeBps, v.feeCfg.StableSwapFeeBps, v.feeCfg.WagerFeeBps,
		v.feeCfg.ReferralCapBps, v.feeCfg.HasDynamicFees)

	return h.Sum(nil)
}
