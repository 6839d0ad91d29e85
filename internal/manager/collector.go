package manager

import (
	"time"

	"github.com/google/uuid"

	"VaultLedger/internal/vault"
)

// IntervalCollector sweeps every whitelisted asset's fee reserves into the
// collector's custody account, at most once per interval. It implements the
// pre-mint collection phase; distribution of the swept fees to staking and
// referral destinations happens outside this system.
type IntervalCollector struct {
	vault     *vault.Vault
	account   string // must match the vault's configured fee collector
	recipient string // custody account receiving swept fees
	interval  time.Duration
	lastSweep time.Time
}

func NewIntervalCollector(v *vault.Vault, account, recipient string, interval time.Duration) *IntervalCollector {
	return &IntervalCollector{
		vault:     v,
		account:   account,
		recipient: recipient,
		interval:  interval,
	}
}

// CollectFeesBeforeLPEvent sweeps all assets when the interval has elapsed.
// Called inside the liquidity operation so every pending fee effect,
// including the referral cost borne by the pool, lands before AUM is read.
func (c *IntervalCollector) CollectFeesBeforeLPEvent(ts time.Time) ([]vault.Step, error) {
	if c.interval > 0 && !c.lastSweep.IsZero() && ts.Before(c.lastSweep.Add(c.interval)) {
		return nil, nil
	}

	var steps []vault.Step
	for _, asset := range c.vault.WhitelistedAssets() {
		_, assetSteps, err := c.vault.WithdrawAllFees(c.account, uuid.New(), asset, c.recipient, ts)
		if err != nil {
			return nil, err
		}
		steps = append(steps, assetSteps...)
	}
	c.lastSweep = ts
	return steps, nil
}
