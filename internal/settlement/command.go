package settlement

import (
	"math/big"
	"time"

	"github.com/google/uuid"

	"VaultLedger/internal/vault"
)

// Command is a unit of work routed through the single-writer processor.
// All mutations of vault and accountant state flow through here, so
// HTTP handlers and the NATS subscriber never touch them concurrently.
//
// Kind is the metric label and dedup namespace. DedupKey may be empty
// for commands that carry no upstream idempotency key (price updates,
// governance setters). At is the versioned input timestamp: the
// processor never reads the wall clock.
type Command interface {
	Kind() string
	DedupKey() string
	At() time.Time
}

// AddLiquidity deposits an asset and mints WLP shares to Recipient.
type AddLiquidity struct {
	Funder    string
	Recipient string
	Asset     string
	AmountIn  *big.Int
	MinUsdw   *big.Int
	MinShares *big.Int
	RequestID uuid.UUID
	Timestamp time.Time
}

func (c *AddLiquidity) Kind() string     { return "add_liquidity" }
func (c *AddLiquidity) DedupKey() string { return c.RequestID.String() }
func (c *AddLiquidity) At() time.Time    { return c.Timestamp }

// RemoveLiquidity burns WLP shares and redeems Asset to Receiver.
type RemoveLiquidity struct {
	Holder    string
	Receiver  string
	Asset     string
	SharesIn  *big.Int
	MinOut    *big.Int
	RequestID uuid.UUID
	Timestamp time.Time
}

func (c *RemoveLiquidity) Kind() string     { return "remove_liquidity" }
func (c *RemoveLiquidity) DedupKey() string { return c.RequestID.String() }
func (c *RemoveLiquidity) At() time.Time    { return c.Timestamp }

// Swap exchanges AssetIn for AssetOut against the pool.
type Swap struct {
	Caller    string
	Receiver  string
	AssetIn   string
	AssetOut  string
	AmountIn  *big.Int
	RequestID uuid.UUID
	Timestamp time.Time
}

func (c *Swap) Kind() string     { return "swap" }
func (c *Swap) DedupKey() string { return c.RequestID.String() }
func (c *Swap) At() time.Time    { return c.Timestamp }

// Payout settles a winning wager from the upstream settlement stream.
type Payout struct {
	Caller       string
	PayoutID     uuid.UUID
	WagerAsset   string
	WinAsset     string
	EscrowAmount *big.Int
	TotalAmount  *big.Int
	Recipient    string
	SettleSeq    int64
	Timestamp    time.Time
}

func (c *Payout) Kind() string     { return "payout" }
func (c *Payout) DedupKey() string { return c.PayoutID.String() }
func (c *Payout) At() time.Time    { return c.Timestamp }

// Payin settles a losing wager: escrow enters the pool minus wager fee.
type Payin struct {
	Caller       string
	PayinID      uuid.UUID
	Asset        string
	EscrowAmount *big.Int
	SettleSeq    int64
	Timestamp    time.Time
}

func (c *Payin) Kind() string     { return "payin" }
func (c *Payin) DedupKey() string { return c.PayinID.String() }
func (c *Payin) At() time.Time    { return c.Timestamp }

// DirectDeposit adds an asset to the pool without minting anything.
type DirectDeposit struct {
	Caller    string
	Funder    string
	Asset     string
	Amount    *big.Int
	RequestID uuid.UUID
	Timestamp time.Time
}

func (c *DirectDeposit) Kind() string     { return "direct_deposit" }
func (c *DirectDeposit) DedupKey() string { return c.RequestID.String() }
func (c *DirectDeposit) At() time.Time    { return c.Timestamp }

// SweepFees withdraws all fee reserves for one asset to Recipient.
type SweepFees struct {
	Caller    string
	Asset     string
	Recipient string
	RequestID uuid.UUID
	Timestamp time.Time
}

func (c *SweepFees) Kind() string     { return "sweep_fees" }
func (c *SweepFees) DedupKey() string { return c.RequestID.String() }
func (c *SweepFees) At() time.Time    { return c.Timestamp }

// SetAssetConfig whitelists or reconfigures an asset.
type SetAssetConfig struct {
	Caller    string
	Config    vault.AssetConfig
	RequestID uuid.UUID
	Timestamp time.Time
}

func (c *SetAssetConfig) Kind() string     { return "set_asset_config" }
func (c *SetAssetConfig) DedupKey() string { return c.RequestID.String() }
func (c *SetAssetConfig) At() time.Time    { return c.Timestamp }

// ClearAssetConfig delists an asset. Residual sheet balances remain.
type ClearAssetConfig struct {
	Caller    string
	Asset     string
	RequestID uuid.UUID
	Timestamp time.Time
}

func (c *ClearAssetConfig) Kind() string     { return "clear_asset_config" }
func (c *ClearAssetConfig) DedupKey() string { return c.RequestID.String() }
func (c *ClearAssetConfig) At() time.Time    { return c.Timestamp }

// ResetBreaker restores the payout/swap switches after a trip.
type ResetBreaker struct {
	Caller    string
	RequestID uuid.UUID
	Timestamp time.Time
}

func (c *ResetBreaker) Kind() string     { return "reset_breaker" }
func (c *ResetBreaker) DedupKey() string { return c.RequestID.String() }
func (c *ResetBreaker) At() time.Time    { return c.Timestamp }

// PriceUpdate carries an oracle quote. Not logged as an event: it only
// refreshes the in-memory feed. Stale sequences are dropped.
type PriceUpdate struct {
	Asset     string
	MinPrice  *big.Int
	MaxPrice  *big.Int
	Sequence  int64
	Timestamp time.Time
}

func (c *PriceUpdate) Kind() string     { return "price_update" }
func (c *PriceUpdate) DedupKey() string { return "" }
func (c *PriceUpdate) At() time.Time    { return c.Timestamp }

// Govern applies a minor governance setter (fee table, buffer amounts,
// cooldown, breaker policy) inside the writer loop. Setters are not
// logged events; the processor checkpoints immediately afterwards so a
// restart cannot lose the change.
type Govern struct {
	Name      string
	Apply     func() error
	Timestamp time.Time
}

func (c *Govern) Kind() string     { return "govern" }
func (c *Govern) DedupKey() string { return "" }
func (c *Govern) At() time.Time    { return c.Timestamp }

// Inspect runs a read-only closure inside the writer loop. Live reads
// of vault/accountant state (AUM, share price, pool amounts) go through
// here so they never race the writer. Not logged, no checkpoint.
type Inspect struct {
	Name      string
	Read      func() (any, error)
	Timestamp time.Time
}

func (c *Inspect) Kind() string     { return "inspect" }
func (c *Inspect) DedupKey() string { return "" }
func (c *Inspect) At() time.Time    { return c.Timestamp }
