// Package vault implements the pool ledger: per-asset balance sheets, the
// deposit/withdraw/swap state transitions, and the wager settlement
// primitives. Every operation runs under the vault mutex, validates fully
// before mutating, and either commits all of its sheet deltas or none.
package vault

import (
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"VaultLedger/internal/access"
	"VaultLedger/internal/event"
	"VaultLedger/internal/fees"
	"VaultLedger/internal/ledger"
	vmath "VaultLedger/internal/math"
	"VaultLedger/internal/oracle"
	"VaultLedger/internal/token"
)

// Config carries the vault's construction-time identity and fee table.
type Config struct {
	// Account is the vault's own custody account.
	Account string
	// EscrowAccount is where the settlement engine pre-funds wagers.
	EscrowAccount string
	Fees          FeeConfig
}

// Vault owns all per-asset balances and executes every balance-affecting
// state transition.
type Vault struct {
	mu sync.RWMutex

	account       string
	escrowAccount string
	feeCollector  string

	feeCfg      FeeConfig
	assets      map[string]AssetConfig // whitelist
	sheets      map[string]*assetSheet // survives whitelist removal
	totalWeight int64

	swapsEnabled   bool
	payoutsEnabled bool

	usdw token.Supply
	bank token.Bank
	feed oracle.PriceFeed
	gate access.Gate

	logger zerolog.Logger
}

func New(cfg Config, usdw token.Supply, bank token.Bank, feed oracle.PriceFeed, gate access.Gate, logger zerolog.Logger) (*Vault, error) {
	if err := cfg.Fees.Validate(); err != nil {
		return nil, fmt.Errorf("fee config: %w", err)
	}
	return &Vault{
		account:        cfg.Account,
		escrowAccount:  cfg.EscrowAccount,
		feeCfg:         cfg.Fees,
		assets:         make(map[string]AssetConfig),
		sheets:         make(map[string]*assetSheet),
		swapsEnabled:   true,
		payoutsEnabled: true,
		usdw:           usdw,
		bank:           bank,
		feed:           feed,
		gate:           gate,
		logger:         logger.With().Str("component", "vault").Logger(),
	}, nil
}

// === Governance configuration ===

// SetAssetConfig adds or updates a whitelisted asset and recomputes the
// total weight.
func (v *Vault) SetAssetConfig(caller string, requestID uuid.UUID, cfg AssetConfig, ts time.Time) (*Step, error) {
	if !v.gate.IsGovernance(caller) {
		return nil, ErrUnauthorized
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if prev, ok := v.assets[cfg.Asset]; ok {
		v.totalWeight -= prev.Weight
	}
	if cfg.MaxUsdw == nil {
		cfg.MaxUsdw = new(big.Int)
	}
	v.assets[cfg.Asset] = cfg
	v.totalWeight += cfg.Weight
	if _, ok := v.sheets[cfg.Asset]; !ok {
		v.sheets[cfg.Asset] = newAssetSheet()
	}

	v.logger.Info().
		Str("asset", cfg.Asset).
		Int64("weight", cfg.Weight).
		Int64("total_weight", v.totalWeight).
		Bool("is_stable", cfg.IsStable).
		Msg("asset config updated")

	return &Step{Event: &event.AssetConfigUpdated{
		RequestID:   requestID,
		Asset:       cfg.Asset,
		Decimals:    cfg.Decimals,
		Weight:      cfg.Weight,
		IsStable:    cfg.IsStable,
		MaxUsdw:     new(big.Int).Set(cfg.MaxUsdw),
		TotalWeight: v.totalWeight,
		Timestamp:   ts,
	}}, nil
}

// ClearAssetConfig removes an asset from the whitelist. Residual pool, debt,
// and fee balances stay on the sheet and become unreachable by AUM and fee
// iteration; no sweep mechanism exists.
func (v *Vault) ClearAssetConfig(caller string, requestID uuid.UUID, asset string, ts time.Time) (*Step, error) {
	if !v.gate.IsGovernance(caller) {
		return nil, ErrUnauthorized
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	cfg, ok := v.assets[asset]
	if !ok {
		return nil, notWhitelisted(asset)
	}
	v.totalWeight -= cfg.Weight
	delete(v.assets, asset)

	v.logger.Info().
		Str("asset", asset).
		Int64("total_weight", v.totalWeight).
		Msg("asset config cleared")

	return &Step{Event: &event.AssetConfigCleared{
		RequestID:   requestID,
		Asset:       asset,
		TotalWeight: v.totalWeight,
		Timestamp:   ts,
	}}, nil
}

func (v *Vault) SetFeeConfig(caller string, cfg FeeConfig) error {
	if !v.gate.IsGovernance(caller) {
		return ErrUnauthorized
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.feeCfg = cfg
	return nil
}

func (v *Vault) SetBufferAmount(caller, asset string, amount *big.Int) error {
	if !v.gate.IsGovernance(caller) {
		return ErrUnauthorized
	}
	if amount.Sign() < 0 {
		return ErrZeroAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.assets[asset]; !ok {
		return notWhitelisted(asset)
	}
	v.sheets[asset].buffer.Set(amount)
	return nil
}

func (v *Vault) SetBreakerThreshold(caller, asset string, amount *big.Int) error {
	if !v.gate.IsGovernance(caller) {
		return ErrUnauthorized
	}
	if amount.Sign() < 0 {
		return ErrZeroAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.assets[asset]; !ok {
		return notWhitelisted(asset)
	}
	v.sheets[asset].breakerFloor.Set(amount)
	return nil
}

func (v *Vault) SetFeeCollector(caller, account string) error {
	if !v.gate.IsGovernance(caller) {
		return ErrUnauthorized
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.feeCollector = account
	return nil
}

// SetSwapsEnabled flips the pool-wide swap switch. Emergency-gated: breaker
// policy and operators both go through here.
func (v *Vault) SetSwapsEnabled(caller string, enabled bool) error {
	if !v.gate.IsEmergency(caller) {
		return ErrUnauthorized
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.swapsEnabled = enabled
	return nil
}

func (v *Vault) SetPayoutsEnabled(caller string, enabled bool) error {
	if !v.gate.IsEmergency(caller) {
		return ErrUnauthorized
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.payoutsEnabled = enabled
	return nil
}

// === Liquidity primitives (called by the share accountant) ===

// DepositResult reports a committed deposit.
type DepositResult struct {
	UsdwMinted *big.Int
	FeeBps     int64
	FeeAmount  *big.Int // asset decimals
	Batch      *ledger.Batch
}

// PreviewDeposit computes the USDW a deposit would mint without mutating
// state. The share accountant uses it to enforce minimum-output checks
// before committing.
func (v *Vault) PreviewDeposit(asset string, amountIn *big.Int) (*big.Int, int64, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, 0, ErrZeroAmount
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	cfg, sheet, err := v.requireWhitelisted(asset)
	if err != nil {
		return nil, 0, err
	}
	price, err := v.feed.MinPrice(asset)
	if err != nil {
		return nil, 0, err
	}
	usdwValue := vmath.TokenToUsdw(amountIn, price, cfg.Decimals)
	feeBps := v.mintBurnFeeBps(cfg, sheet, usdwValue, true)
	afterFee := vmath.AfterBps(amountIn, feeBps)
	return vmath.TokenToUsdw(afterFee, price, cfg.Decimals), feeBps, nil
}

// Deposit pulls amountIn from funder, prices it at the low bound, charges the
// dynamic mint fee, and mints the post-fee USDW value to usdwRecipient. A
// minted amount below minUsdw rejects before any mutation.
func (v *Vault) Deposit(caller, funder, usdwRecipient, asset string, amountIn, minUsdw *big.Int, requestID uuid.UUID, ts time.Time) (*DepositResult, error) {
	if !v.gate.IsManager(caller) {
		return nil, ErrUnauthorized
	}
	if v.gate.IsPaused() {
		return nil, ErrPaused
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrZeroAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	cfg, sheet, err := v.requireWhitelisted(asset)
	if err != nil {
		return nil, err
	}
	price, err := v.feed.MinPrice(asset)
	if err != nil {
		return nil, err
	}

	usdwValue := vmath.TokenToUsdw(amountIn, price, cfg.Decimals)
	feeBps := v.mintBurnFeeBps(cfg, sheet, usdwValue, true)
	afterFee := vmath.AfterBps(amountIn, feeBps)
	feeAmount := new(big.Int).Sub(amountIn, afterFee)
	usdwMinted := vmath.TokenToUsdw(afterFee, price, cfg.Decimals)

	if minUsdw != nil && usdwMinted.Cmp(minUsdw) < 0 {
		return nil, fmt.Errorf("%w: usdw %s below minimum %s", ErrSlippage, usdwMinted, minUsdw)
	}
	if err := v.checkDebtCap(cfg, sheet, usdwMinted); err != nil {
		return nil, err
	}

	// Custody before mutation: a failed pull rejects the whole call.
	if err := v.bank.Transfer(asset, funder, v.account, amountIn); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientPool, err)
	}

	b := ledger.NewBuilder("deposit", requestID.String(), 0, ts.UnixMicro())
	sheet.pool.Add(sheet.pool, afterFee)
	b.Add(asset, ledger.FieldPool, afterFee)
	sheet.debt.Add(sheet.debt, usdwMinted)
	b.Add(asset, ledger.FieldDebt, usdwMinted)
	sheet.swapFeeReserve.Add(sheet.swapFeeReserve, feeAmount)
	b.Add(asset, ledger.FieldSwapFeeReserve, feeAmount)

	if err := v.verifySolvency(asset, sheet); err != nil {
		return nil, err
	}
	if err := v.usdw.Mint(usdwRecipient, usdwMinted); err != nil {
		return nil, fmt.Errorf("%w: usdw mint: %v", ErrSolvency, err)
	}

	batch, err := b.Seal()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSolvency, err)
	}

	v.logger.Info().
		Str("asset", asset).
		Str("amount_in", amountIn.String()).
		Str("usdw_minted", usdwMinted.String()).
		Int64("fee_bps", feeBps).
		Msg("deposit")

	return &DepositResult{
		UsdwMinted: usdwMinted,
		FeeBps:     feeBps,
		FeeAmount:  feeAmount,
		Batch:      batch,
	}, nil
}

// WithdrawResult reports a committed withdrawal.
type WithdrawResult struct {
	AmountOut *big.Int
	FeeBps    int64
	FeeAmount *big.Int
	Batch     *ledger.Batch
	Breaches  []Breach
}

// Withdraw burns usdwAmount of debt token from usdwHolder and redeems it for
// the asset at the high price bound, net of the dynamic burn fee. When the
// asset's recorded debt under-covers the burn, the difference is minted back
// to the vault itself so the withdrawal still honors: debt is tracked per
// origin asset but the debt token is globally fungible.
func (v *Vault) Withdraw(caller, usdwHolder, receiver, asset string, usdwAmount, minOut *big.Int, requestID uuid.UUID, ts time.Time) (*WithdrawResult, error) {
	if !v.gate.IsManager(caller) {
		return nil, ErrUnauthorized
	}
	if v.gate.IsPaused() {
		return nil, ErrPaused
	}
	if usdwAmount == nil || usdwAmount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	cfg, sheet, err := v.requireWhitelisted(asset)
	if err != nil {
		return nil, err
	}
	price, err := v.feed.MaxPrice(asset)
	if err != nil {
		return nil, err
	}

	redemption := vmath.UsdwToToken(usdwAmount, price, cfg.Decimals)
	if redemption.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	feeBps := v.mintBurnFeeBps(cfg, sheet, usdwAmount, false)
	amountOut := vmath.AfterBps(redemption, feeBps)
	feeAmount := new(big.Int).Sub(redemption, amountOut)

	if minOut != nil && amountOut.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("%w: output %s below minimum %s", ErrSlippage, amountOut, minOut)
	}

	newPool := new(big.Int).Sub(sheet.pool, redemption)
	if newPool.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s pool %s, need %s", ErrInsufficientPool, asset, sheet.pool, redemption)
	}
	if newPool.Cmp(sheet.buffer) < 0 {
		return nil, fmt.Errorf("%w: %s pool %s below buffer %s", ErrBufferBreached, asset, newPool, sheet.buffer)
	}

	debtDec := vmath.MinBig(sheet.debt, usdwAmount)
	makeUp := new(big.Int).Sub(usdwAmount, debtDec)

	if err := v.usdw.Burn(usdwHolder, usdwAmount); err != nil {
		return nil, fmt.Errorf("%w: usdw burn: %v", ErrInsufficientPool, err)
	}
	if makeUp.Sign() > 0 {
		// Rare near-total-drain path; loud by design.
		v.logger.Warn().
			Str("asset", asset).
			Str("make_up_usdw", makeUp.String()).
			Msg("recorded debt under-covers burn, minting make-up usdw to vault")
		if err := v.usdw.Mint(v.account, makeUp); err != nil {
			return nil, fmt.Errorf("%w: make-up mint: %v", ErrSolvency, err)
		}
	}

	b := ledger.NewBuilder("withdraw", requestID.String(), 0, ts.UnixMicro())
	debtDec = new(big.Int).Set(debtDec) // detach from sheet before mutation
	sheet.pool.Set(newPool)
	b.Sub(asset, ledger.FieldPool, redemption)
	sheet.debt.Sub(sheet.debt, debtDec)
	b.Sub(asset, ledger.FieldDebt, debtDec)
	sheet.swapFeeReserve.Add(sheet.swapFeeReserve, feeAmount)
	b.Add(asset, ledger.FieldSwapFeeReserve, feeAmount)

	if err := v.bank.Transfer(asset, v.account, receiver, amountOut); err != nil {
		return nil, fmt.Errorf("%w: payout transfer: %v", ErrSolvency, err)
	}

	batch, err := b.Seal()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSolvency, err)
	}

	v.logger.Info().
		Str("asset", asset).
		Str("usdw_burned", usdwAmount.String()).
		Str("amount_out", amountOut.String()).
		Int64("fee_bps", feeBps).
		Msg("withdraw")

	return &WithdrawResult{
		AmountOut: amountOut,
		FeeBps:    feeBps,
		FeeAmount: feeAmount,
		Batch:     batch,
		Breaches:  v.detectBreach(asset, sheet),
	}, nil
}

// === Swap ===

// SwapResult reports a committed swap.
type SwapResult struct {
	AmountOut *big.Int // net of fee
	FeeBps    int64
	FeeAmount *big.Int
	Breaches  []Breach
}

// Swap exchanges amountIn of assetIn for assetOut at oracle prices, charging
// the worse of the two legs' dynamic fees against the outgoing asset.
func (v *Vault) Swap(caller, receiver, assetIn, assetOut string, amountIn *big.Int, requestID uuid.UUID, ts time.Time) (*SwapResult, *Step, error) {
	if !v.gate.IsManager(caller) {
		return nil, nil, ErrUnauthorized
	}
	if v.gate.IsPaused() {
		return nil, nil, ErrPaused
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, nil, ErrZeroAmount
	}
	if assetIn == assetOut {
		return nil, nil, ErrSameAsset
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.swapsEnabled {
		return nil, nil, ErrSwapsDisabled
	}

	result, entries, err := v.swapLocked(assetIn, assetOut, amountIn, caller, false)
	if err != nil {
		return nil, nil, err
	}

	b := ledger.NewBuilder("swap", requestID.String(), 0, ts.UnixMicro())
	entries(b)
	batch, err := b.Seal()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSolvency, err)
	}

	if err := v.bank.Transfer(assetOut, v.account, receiver, result.AmountOut); err != nil {
		return nil, nil, fmt.Errorf("%w: swap transfer: %v", ErrSolvency, err)
	}

	step := &Step{
		Event: &event.SwapExecuted{
			RequestID: requestID,
			Caller:    caller,
			Receiver:  receiver,
			AssetIn:   assetIn,
			AssetOut:  assetOut,
			AmountIn:  new(big.Int).Set(amountIn),
			AmountOut: new(big.Int).Set(result.AmountOut),
			FeeBps:    result.FeeBps,
			FeeAmount: new(big.Int).Set(result.FeeAmount),
			Timestamp: ts,
		},
		Batch: batch,
	}

	v.logger.Info().
		Str("asset_in", assetIn).
		Str("asset_out", assetOut).
		Str("amount_in", amountIn.String()).
		Str("amount_out", result.AmountOut.String()).
		Int64("fee_bps", result.FeeBps).
		Msg("swap")

	return result, step, nil
}

// swapLocked is the shared swap core. The payout path reuses it with the
// buffer floor bypassed. It pulls assetIn from funder when funder is not the
// vault itself. Returned entries are staged via the supplied builder so the
// caller controls the batch identity.
func (v *Vault) swapLocked(assetIn, assetOut string, amountIn *big.Int, funder string, bypassBuffer bool) (*SwapResult, func(*ledger.Builder), error) {
	cfgIn, sheetIn, err := v.requireWhitelisted(assetIn)
	if err != nil {
		return nil, nil, err
	}
	cfgOut, sheetOut, err := v.requireWhitelisted(assetOut)
	if err != nil {
		return nil, nil, err
	}
	priceIn, err := v.feed.MinPrice(assetIn)
	if err != nil {
		return nil, nil, err
	}
	priceOut, err := v.feed.MaxPrice(assetOut)
	if err != nil {
		return nil, nil, err
	}

	raw := new(big.Int).Mul(amountIn, priceIn)
	raw.Quo(raw, priceOut)
	amountOutGross := vmath.AdjustForDecimals(raw, cfgIn.Decimals, cfgOut.Decimals)
	if amountOutGross.Sign() <= 0 {
		return nil, nil, ErrZeroAmount
	}

	usdwDelta := vmath.TokenToUsdw(amountIn, priceIn, cfgIn.Decimals)
	feeBps := v.swapFeeBps(cfgIn, cfgOut, sheetIn, sheetOut, usdwDelta)
	feeAmount := vmath.BpsPortion(amountOutGross, feeBps)
	amountOut := new(big.Int).Sub(amountOutGross, feeAmount)

	if err := v.checkDebtCap(cfgIn, sheetIn, usdwDelta); err != nil {
		return nil, nil, err
	}
	newPoolOut := new(big.Int).Sub(sheetOut.pool, amountOutGross)
	if newPoolOut.Sign() < 0 {
		return nil, nil, fmt.Errorf("%w: %s pool %s, need %s", ErrInsufficientPool, assetOut, sheetOut.pool, amountOutGross)
	}
	if !bypassBuffer && newPoolOut.Cmp(sheetOut.buffer) < 0 {
		return nil, nil, fmt.Errorf("%w: %s pool %s below buffer %s", ErrBufferBreached, assetOut, newPoolOut, sheetOut.buffer)
	}

	if funder != v.account {
		if err := v.bank.Transfer(assetIn, funder, v.account, amountIn); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInsufficientPool, err)
		}
	}

	debtDec := new(big.Int).Set(vmath.MinBig(sheetOut.debt, usdwDelta))

	sheetIn.pool.Add(sheetIn.pool, amountIn)
	sheetIn.debt.Add(sheetIn.debt, usdwDelta)
	sheetOut.pool.Set(newPoolOut)
	sheetOut.debt.Sub(sheetOut.debt, debtDec)
	sheetOut.swapFeeReserve.Add(sheetOut.swapFeeReserve, feeAmount)

	if err := v.verifySolvency(assetIn, sheetIn); err != nil {
		return nil, nil, err
	}

	entries := func(b *ledger.Builder) {
		b.Add(assetIn, ledger.FieldPool, amountIn)
		b.Add(assetIn, ledger.FieldDebt, usdwDelta)
		b.Sub(assetOut, ledger.FieldPool, amountOutGross)
		b.Sub(assetOut, ledger.FieldDebt, debtDec)
		b.Add(assetOut, ledger.FieldSwapFeeReserve, feeAmount)
	}

	return &SwapResult{
		AmountOut: amountOut,
		FeeBps:    feeBps,
		FeeAmount: feeAmount,
		Breaches:  v.detectBreach(assetOut, sheetOut),
	}, entries, nil
}

// === Settlement primitives ===

// PayoutResult reports a settled payout.
type PayoutResult struct {
	Paid     *big.Int // win asset decimals
	WagerFee *big.Int // wager asset decimals
	Null     bool
	Breaches []Breach
}

// Payout settles a won wager. The escrow is pulled from the settlement
// escrow account, a flat wager fee is set aside, and the recipient is paid
// totalAmount (same asset) or its converted value net of swap fees (cross
// asset). The buffer floor never blocks a payout.
func (v *Vault) Payout(caller string, payoutID uuid.UUID, wagerAsset, winAsset string, escrowAmount, totalAmount *big.Int, recipient string, settleSeq int64, ts time.Time) (*PayoutResult, *Step, error) {
	if !v.gate.IsManager(caller) {
		return nil, nil, ErrUnauthorized
	}
	if v.gate.IsPaused() {
		return nil, nil, ErrPaused
	}
	if escrowAmount == nil || escrowAmount.Sign() <= 0 || totalAmount == nil || totalAmount.Sign() <= 0 {
		return nil, nil, ErrZeroAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.payoutsEnabled {
		return nil, nil, ErrPayoutsHalted
	}

	var (
		result *PayoutResult
		b      = ledger.NewBuilder("payout", payoutID.String(), 0, ts.UnixMicro())
		err    error
	)
	if wagerAsset == winAsset {
		result, err = v.payoutSameAsset(b, wagerAsset, escrowAmount, totalAmount, recipient)
	} else {
		result, err = v.payoutCrossAsset(b, wagerAsset, winAsset, escrowAmount, totalAmount, recipient)
	}
	if err != nil {
		return nil, nil, err
	}

	// Break-even with a zero wager fee stages no deltas; the settlement
	// still happened and still gets an envelope, just without a batch.
	var batch *ledger.Batch
	if !b.Empty() {
		batch, err = b.Seal()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrSolvency, err)
		}
	}

	step := &Step{
		Event: &event.PayoutSettled{
			PayoutID:     payoutID,
			WagerAsset:   wagerAsset,
			WinAsset:     winAsset,
			Recipient:    recipient,
			EscrowAmount: new(big.Int).Set(escrowAmount),
			TotalAmount:  new(big.Int).Set(totalAmount),
			WagerFee:     new(big.Int).Set(result.WagerFee),
			PaidAmount:   new(big.Int).Set(result.Paid),
			Null:         result.Null,
			SettleSeq:    settleSeq,
			Timestamp:    ts,
		},
		Batch: batch,
	}

	v.logger.Info().
		Str("wager_asset", wagerAsset).
		Str("win_asset", winAsset).
		Str("escrow", escrowAmount.String()).
		Str("paid", result.Paid.String()).
		Bool("null", result.Null).
		Msg("payout")

	return result, step, nil
}

func (v *Vault) payoutSameAsset(b *ledger.Builder, asset string, escrowAmount, totalAmount *big.Int, recipient string) (*PayoutResult, error) {
	_, sheet, err := v.requireWhitelisted(asset)
	if err != nil {
		return nil, err
	}

	wagerFee := vmath.BpsPortion(escrowAmount, v.feeCfg.WagerFeeBps)
	totalForVault := new(big.Int).Add(totalAmount, wagerFee)

	// A loss the pool cannot absorb rejects before the escrow moves or
	// any reserve mutates, so a rejected payout can be redelivered.
	profit := new(big.Int)
	loss := new(big.Int)
	if escrowAmount.Cmp(totalForVault) >= 0 {
		profit.Sub(escrowAmount, totalForVault)
	} else {
		loss.Sub(totalForVault, escrowAmount)
		if sheet.pool.Cmp(loss) < 0 {
			return nil, fmt.Errorf("%w: %s pool %s cannot absorb loss %s", ErrInsufficientPool, asset, sheet.pool, loss)
		}
	}

	if err := v.bank.Transfer(asset, v.escrowAccount, v.account, escrowAmount); err != nil {
		return nil, fmt.Errorf("%w: escrow pull: %v", ErrInsufficientPool, err)
	}

	sheet.wagerFeeReserve.Add(sheet.wagerFeeReserve, wagerFee)
	b.Add(asset, ledger.FieldWagerFeeReserve, wagerFee)

	if loss.Sign() > 0 {
		sheet.pool.Sub(sheet.pool, loss)
		sheet.totalOut.Add(sheet.totalOut, loss)
		b.Sub(asset, ledger.FieldPool, loss)
		b.Add(asset, ledger.FieldTotalOut, loss)
	} else {
		sheet.pool.Add(sheet.pool, profit)
		sheet.totalIn.Add(sheet.totalIn, profit)
		b.Add(asset, ledger.FieldPool, profit)
		b.Add(asset, ledger.FieldTotalIn, profit)
		if err := v.verifySolvency(asset, sheet); err != nil {
			return nil, err
		}
	}

	if err := v.bank.Transfer(asset, v.account, recipient, totalAmount); err != nil {
		return nil, fmt.Errorf("%w: payout transfer: %v", ErrSolvency, err)
	}

	return &PayoutResult{
		Paid:     new(big.Int).Set(totalAmount),
		WagerFee: wagerFee,
		Breaches: v.detectBreach(asset, sheet),
	}, nil
}

func (v *Vault) payoutCrossAsset(b *ledger.Builder, wagerAsset, winAsset string, escrowAmount, totalAmount *big.Int, recipient string) (*PayoutResult, error) {
	cfgWager, sheetWager, err := v.requireWhitelisted(wagerAsset)
	if err != nil {
		return nil, err
	}
	cfgWin, sheetWin, err := v.requireWhitelisted(winAsset)
	if err != nil {
		return nil, err
	}
	priceWager, err := v.feed.MinPrice(wagerAsset)
	if err != nil {
		return nil, err
	}
	priceWin, err := v.feed.MaxPrice(winAsset)
	if err != nil {
		return nil, err
	}

	wagerFee := vmath.BpsPortion(escrowAmount, v.feeCfg.WagerFeeBps)
	escrowAfterFee := new(big.Int).Sub(escrowAmount, wagerFee)

	// Winnings converted to the win asset: the gross target the win pool
	// must give up.
	raw := new(big.Int).Mul(totalAmount, priceWager)
	raw.Quo(raw, priceWin)
	converted := vmath.AdjustForDecimals(raw, cfgWager.Decimals, cfgWin.Decimals)

	// The entire escrow is swapped internally, maximizing realized swap fee.
	usdwIn := vmath.TokenToUsdw(escrowAfterFee, priceWager, cfgWager.Decimals)
	feeBps := v.swapFeeBps(cfgWager, cfgWin, sheetWager, sheetWin, usdwIn)
	swapFee := vmath.BpsPortion(converted, feeBps)

	paid := new(big.Int).Sub(converted, swapFee)
	null := false
	if paid.Sign() <= 0 {
		// Fees consumed the winnings: the house keeps the escrow, the
		// recipient gets nothing, and the whole gross target becomes fee.
		null = true
		paid = new(big.Int)
		swapFee = new(big.Int).Set(converted)
	}

	usdwOut := vmath.TokenToUsdw(converted, priceWin, cfgWin.Decimals)
	debtDec := new(big.Int).Set(vmath.MinBig(sheetWin.debt, usdwOut))

	newPoolWin := new(big.Int).Sub(sheetWin.pool, converted)
	if newPoolWin.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s pool %s, need %s", ErrInsufficientPool, winAsset, sheetWin.pool, converted)
	}
	if err := v.checkDebtCap(cfgWager, sheetWager, usdwIn); err != nil {
		return nil, err
	}

	if err := v.bank.Transfer(wagerAsset, v.escrowAccount, v.account, escrowAmount); err != nil {
		return nil, fmt.Errorf("%w: escrow pull: %v", ErrInsufficientPool, err)
	}

	// Wager leg: escrow net of wager fee enters the pool as settlement
	// inflow.
	sheetWager.wagerFeeReserve.Add(sheetWager.wagerFeeReserve, wagerFee)
	b.Add(wagerAsset, ledger.FieldWagerFeeReserve, wagerFee)
	sheetWager.pool.Add(sheetWager.pool, escrowAfterFee)
	sheetWager.debt.Add(sheetWager.debt, usdwIn)
	sheetWager.totalIn.Add(sheetWager.totalIn, escrowAfterFee)
	b.Add(wagerAsset, ledger.FieldPool, escrowAfterFee)
	b.Add(wagerAsset, ledger.FieldDebt, usdwIn)
	b.Add(wagerAsset, ledger.FieldTotalIn, escrowAfterFee)

	// Win leg: the gross converted amount leaves the pool, fee lands in the
	// win asset's swap reserve, the rest goes to the recipient.
	sheetWin.pool.Set(newPoolWin)
	sheetWin.debt.Sub(sheetWin.debt, debtDec)
	sheetWin.swapFeeReserve.Add(sheetWin.swapFeeReserve, swapFee)
	sheetWin.totalOut.Add(sheetWin.totalOut, converted)
	b.Sub(winAsset, ledger.FieldPool, converted)
	b.Sub(winAsset, ledger.FieldDebt, debtDec)
	b.Add(winAsset, ledger.FieldSwapFeeReserve, swapFee)
	b.Add(winAsset, ledger.FieldTotalOut, converted)

	if err := v.verifySolvency(wagerAsset, sheetWager); err != nil {
		return nil, err
	}

	if paid.Sign() > 0 {
		if err := v.bank.Transfer(winAsset, v.account, recipient, paid); err != nil {
			return nil, fmt.Errorf("%w: payout transfer: %v", ErrSolvency, err)
		}
	}

	breaches := v.detectBreach(winAsset, sheetWin)

	return &PayoutResult{
		Paid:     paid,
		WagerFee: wagerFee,
		Null:     null,
		Breaches: breaches,
	}, nil
}

// PayinResult reports a settled payin.
type PayinResult struct {
	WagerFee *big.Int
	PoolGain *big.Int
}

// Payin settles a lost wager: the escrow flows into the pool as pure profit,
// net of the wager fee. No debt is recorded and no shares are minted.
func (v *Vault) Payin(caller string, payinID uuid.UUID, asset string, escrowAmount *big.Int, settleSeq int64, ts time.Time) (*PayinResult, *Step, error) {
	if !v.gate.IsManager(caller) {
		return nil, nil, ErrUnauthorized
	}
	if v.gate.IsPaused() {
		return nil, nil, ErrPaused
	}
	if escrowAmount == nil || escrowAmount.Sign() <= 0 {
		return nil, nil, ErrZeroAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	_, sheet, err := v.requireWhitelisted(asset)
	if err != nil {
		return nil, nil, err
	}

	wagerFee := vmath.BpsPortion(escrowAmount, v.feeCfg.WagerFeeBps)
	gain := new(big.Int).Sub(escrowAmount, wagerFee)

	if err := v.bank.Transfer(asset, v.escrowAccount, v.account, escrowAmount); err != nil {
		return nil, nil, fmt.Errorf("%w: escrow pull: %v", ErrInsufficientPool, err)
	}

	b := ledger.NewBuilder("payin", payinID.String(), 0, ts.UnixMicro())
	sheet.wagerFeeReserve.Add(sheet.wagerFeeReserve, wagerFee)
	b.Add(asset, ledger.FieldWagerFeeReserve, wagerFee)
	sheet.pool.Add(sheet.pool, gain)
	sheet.totalIn.Add(sheet.totalIn, gain)
	b.Add(asset, ledger.FieldPool, gain)
	b.Add(asset, ledger.FieldTotalIn, gain)

	if err := v.verifySolvency(asset, sheet); err != nil {
		return nil, nil, err
	}

	batch, err := b.Seal()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSolvency, err)
	}

	step := &Step{
		Event: &event.PayinSettled{
			PayinID:      payinID,
			Asset:        asset,
			EscrowAmount: new(big.Int).Set(escrowAmount),
			WagerFee:     wagerFee,
			SettleSeq:    settleSeq,
			Timestamp:    ts,
		},
		Batch: batch,
	}

	v.logger.Info().
		Str("asset", asset).
		Str("escrow", escrowAmount.String()).
		Str("pool_gain", gain.String()).
		Msg("payin")

	return &PayinResult{WagerFee: wagerFee, PoolGain: gain}, step, nil
}

// DirectPoolDeposit tops up the pool with no debt recorded and no shares
// minted. Pure subsidy to liquidity providers.
func (v *Vault) DirectPoolDeposit(caller, funder, asset string, amount *big.Int, requestID uuid.UUID, ts time.Time) (*Step, error) {
	if !v.gate.IsManager(caller) {
		return nil, ErrUnauthorized
	}
	if v.gate.IsPaused() {
		return nil, ErrPaused
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	_, sheet, err := v.requireWhitelisted(asset)
	if err != nil {
		return nil, err
	}
	if err := v.bank.Transfer(asset, funder, v.account, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientPool, err)
	}

	b := ledger.NewBuilder("direct_pool_deposit", requestID.String(), 0, ts.UnixMicro())
	sheet.pool.Add(sheet.pool, amount)
	b.Add(asset, ledger.FieldPool, amount)

	if err := v.verifySolvency(asset, sheet); err != nil {
		return nil, err
	}
	batch, err := b.Seal()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSolvency, err)
	}

	return &Step{
		Event: &event.DirectPoolDeposit{
			RequestID: requestID,
			Funder:    funder,
			Asset:     asset,
			Amount:    new(big.Int).Set(amount),
			Timestamp: ts,
		},
		Batch: batch,
	}, nil
}

// === Fee collection ===

// FeeSweepResult reports a fee-collector sweep of one asset.
type FeeSweepResult struct {
	SwapFees     *big.Int
	WagerFees    *big.Int
	ReferralFees *big.Int // zero when the cap zeroed it
	CapBreached  bool
}

// WithdrawAllFees pays all accumulated fee reserves of an asset to the
// recipient. The referral reserve is capped at a configured share of wager
// fees; exceeding the cap zeroes the referral payout and emits an anomaly
// event instead of failing the sweep. Referral cost comes out of the pool.
func (v *Vault) WithdrawAllFees(caller string, requestID uuid.UUID, asset, recipient string, ts time.Time) (*FeeSweepResult, []Step, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.feeCollector == "" || caller != v.feeCollector {
		return nil, nil, ErrUnauthorized
	}
	if v.gate.IsPaused() {
		return nil, nil, ErrPaused
	}
	_, sheet, err := v.requireWhitelisted(asset)
	if err != nil {
		return nil, nil, err
	}

	swapFees := new(big.Int).Set(sheet.swapFeeReserve)
	wagerFees := new(big.Int).Set(sheet.wagerFeeReserve)
	referralReserved := new(big.Int).Set(sheet.referralReserve)
	referralFees := new(big.Int).Set(referralReserved)

	var steps []Step
	capBreached := false
	capAmount := vmath.BpsPortion(wagerFees, v.feeCfg.ReferralCapBps)
	if referralFees.Cmp(capAmount) > 0 {
		// Exploit-shaped referral accrual: neutralize and continue so the
		// sweep of the other reserves is not frozen.
		capBreached = true
		v.logger.Error().
			Str("asset", asset).
			Str("referral_fees", referralFees.String()).
			Str("cap", capAmount.String()).
			Msg("referral reserve over cap, zeroing payout")
		steps = append(steps, Step{Event: &event.ReferralCapBreached{
			RequestID:    requestID,
			Asset:        asset,
			WagerFees:    wagerFees,
			ReferralFees: referralFees,
			CapBps:       v.feeCfg.ReferralCapBps,
			Timestamp:    ts,
		}})
		referralFees = new(big.Int)
	}

	if referralFees.Sign() > 0 && sheet.pool.Cmp(referralFees) < 0 {
		return nil, nil, fmt.Errorf("%w: %s pool %s cannot cover referral %s", ErrInsufficientPool, asset, sheet.pool, referralFees)
	}

	if swapFees.Sign() == 0 && wagerFees.Sign() == 0 && referralReserved.Sign() == 0 {
		return &FeeSweepResult{
			SwapFees:     swapFees,
			WagerFees:    wagerFees,
			ReferralFees: referralFees,
			CapBreached:  capBreached,
		}, steps, nil
	}

	total := new(big.Int).Add(swapFees, wagerFees)
	total.Add(total, referralFees)

	b := ledger.NewBuilder("fees_withdrawn", requestID.String(), 0, ts.UnixMicro())
	sheet.swapFeeReserve.SetInt64(0)
	b.Sub(asset, ledger.FieldSwapFeeReserve, swapFees)
	sheet.wagerFeeReserve.SetInt64(0)
	b.Sub(asset, ledger.FieldWagerFeeReserve, wagerFees)
	sheet.referralReserve.SetInt64(0)
	b.Sub(asset, ledger.FieldReferralFeeReserve, referralReserved)
	if referralFees.Sign() > 0 {
		sheet.pool.Sub(sheet.pool, referralFees)
		b.Sub(asset, ledger.FieldPool, referralFees)
	}

	if err := v.bank.Transfer(asset, v.account, recipient, total); err != nil {
		return nil, nil, fmt.Errorf("%w: fee transfer: %v", ErrSolvency, err)
	}

	batch, err := b.Seal()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSolvency, err)
	}

	steps = append(steps, Step{
		Event: &event.FeesWithdrawn{
			RequestID:    requestID,
			Asset:        asset,
			Recipient:    recipient,
			SwapFees:     swapFees,
			WagerFees:    wagerFees,
			ReferralFees: referralFees,
			Timestamp:    ts,
		},
		Batch: batch,
	})

	v.logger.Info().
		Str("asset", asset).
		Str("swap_fees", swapFees.String()).
		Str("wager_fees", wagerFees.String()).
		Str("referral_fees", referralFees.String()).
		Bool("cap_breached", capBreached).
		Msg("fees withdrawn")

	return &FeeSweepResult{
		SwapFees:     swapFees,
		WagerFees:    wagerFees,
		ReferralFees: referralFees,
		CapBreached:  capBreached,
	}, steps, nil
}

// SetAsideReferral reclassifies part of an asset's wager fee reserve as
// referral reward, pending the next collector sweep.
func (v *Vault) SetAsideReferral(caller, asset string, amount *big.Int) error {
	if !v.gate.IsManager(caller) {
		return ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	_, sheet, err := v.requireWhitelisted(asset)
	if err != nil {
		return err
	}
	if sheet.wagerFeeReserve.Cmp(amount) < 0 {
		return fmt.Errorf("%w: wager reserve %s, need %s", ErrInsufficientPool, sheet.wagerFeeReserve, amount)
	}
	sheet.wagerFeeReserve.Sub(sheet.wagerFeeReserve, amount)
	sheet.referralReserve.Add(sheet.referralReserve, amount)
	return nil
}

// === Internal helpers ===

func (v *Vault) requireWhitelisted(asset string) (AssetConfig, *assetSheet, error) {
	cfg, ok := v.assets[asset]
	if !ok {
		return AssetConfig{}, nil, notWhitelisted(asset)
	}
	return cfg, v.sheets[asset], nil
}

func (v *Vault) mintBurnFeeBps(cfg AssetConfig, sheet *assetSheet, usdwDelta *big.Int, increment bool) int64 {
	if !v.feeCfg.HasDynamicFees {
		return v.feeCfg.MintBurnFeeBps
	}
	taxBps := v.feeCfg.TaxBps
	if cfg.IsStable {
		taxBps = v.feeCfg.StableTaxBps
	}
	target := fees.TargetDebt(cfg.Weight, v.totalWeight, v.usdw.TotalSupply())
	return fees.BasisPoints(sheet.debt, usdwDelta, target, v.feeCfg.MintBurnFeeBps, taxBps, increment)
}

func (v *Vault) swapFeeBps(cfgIn, cfgOut AssetConfig, sheetIn, sheetOut *assetSheet, usdwDelta *big.Int) int64 {
	stablePair := cfgIn.IsStable && cfgOut.IsStable
	baseBps := v.feeCfg.SwapFeeBps
	taxBps := v.feeCfg.TaxBps
	if stablePair {
		baseBps = v.feeCfg.StableSwapFeeBps
		taxBps = v.feeCfg.StableTaxBps
	}
	if !v.feeCfg.HasDynamicFees {
		return baseBps
	}
	supply := v.usdw.TotalSupply()
	inTarget := fees.TargetDebt(cfgIn.Weight, v.totalWeight, supply)
	outTarget := fees.TargetDebt(cfgOut.Weight, v.totalWeight, supply)
	return fees.SwapBasisPoints(sheetIn.debt, sheetOut.debt, usdwDelta, inTarget, outTarget, baseBps, taxBps)
}

func (v *Vault) checkDebtCap(cfg AssetConfig, sheet *assetSheet, usdwDelta *big.Int) error {
	if cfg.MaxUsdw == nil || cfg.MaxUsdw.Sign() == 0 {
		return nil
	}
	next := new(big.Int).Add(sheet.debt, usdwDelta)
	if next.Cmp(cfg.MaxUsdw) > 0 {
		return fmt.Errorf("%w: %s debt %s would exceed cap %s", ErrMaxUsdwExceeded, cfg.Asset, next, cfg.MaxUsdw)
	}
	return nil
}

// verifySolvency enforces pool <= actual custody after every pool increase.
// Failure is fatal for the call: it signals external interference or an
// accounting defect, never a caller mistake.
func (v *Vault) verifySolvency(asset string, sheet *assetSheet) error {
	actual := v.bank.Balance(asset, v.account)
	if sheet.pool.Cmp(actual) > 0 {
		v.logger.Error().
			Str("asset", asset).
			Str("pool", sheet.pool.String()).
			Str("actual", actual.String()).
			Msg("SOLVENCY VIOLATION")
		return fmt.Errorf("%w: %s pool %s exceeds custody %s", ErrSolvency, asset, sheet.pool, actual)
	}
	return nil
}

func (v *Vault) detectBreach(asset string, sheet *assetSheet) []Breach {
	if sheet.breakerFloor.Sign() <= 0 || sheet.pool.Cmp(sheet.breakerFloor) >= 0 {
		return nil
	}
	return []Breach{{
		Asset:     asset,
		Pool:      new(big.Int).Set(sheet.pool),
		Threshold: new(big.Int).Set(sheet.breakerFloor),
	}}
}

// === Read surface ===

func (v *Vault) Account() string { return v.account }

func (v *Vault) WhitelistedAssets() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	assets := make([]string, 0, len(v.assets))
	for a := range v.assets {
		assets = append(assets, a)
	}
	sort.Strings(assets)
	return assets
}

func (v *Vault) IsWhitelisted(asset string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.assets[asset]
	return ok
}

func (v *Vault) AssetConfigFor(asset string) (AssetConfig, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	cfg, ok := v.assets[asset]
	if ok && cfg.MaxUsdw != nil {
		cfg.MaxUsdw = new(big.Int).Set(cfg.MaxUsdw)
	}
	return cfg, ok
}

func (v *Vault) TotalWeight() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.totalWeight
}

func (v *Vault) FeeConfigValue() FeeConfig {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.feeCfg
}

func (v *Vault) SwapsEnabled() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.swapsEnabled
}

func (v *Vault) PayoutsEnabled() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.payoutsEnabled
}

func (v *Vault) PoolAmount(asset string) *big.Int {
	return v.sheetValue(asset, func(s *assetSheet) *big.Int { return s.pool })
}

func (v *Vault) DebtAmount(asset string) *big.Int {
	return v.sheetValue(asset, func(s *assetSheet) *big.Int { return s.debt })
}

func (v *Vault) BufferAmount(asset string) *big.Int {
	return v.sheetValue(asset, func(s *assetSheet) *big.Int { return s.buffer })
}

func (v *Vault) BreakerThreshold(asset string) *big.Int {
	return v.sheetValue(asset, func(s *assetSheet) *big.Int { return s.breakerFloor })
}

func (v *Vault) TotalInAmount(asset string) *big.Int {
	return v.sheetValue(asset, func(s *assetSheet) *big.Int { return s.totalIn })
}

func (v *Vault) TotalOutAmount(asset string) *big.Int {
	return v.sheetValue(asset, func(s *assetSheet) *big.Int { return s.totalOut })
}

// FeeReserves returns (swap, wager, referral) reserves for an asset.
func (v *Vault) FeeReserves(asset string) (*big.Int, *big.Int, *big.Int) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	s, ok := v.sheets[asset]
	if !ok {
		return new(big.Int), new(big.Int), new(big.Int)
	}
	return new(big.Int).Set(s.swapFeeReserve),
		new(big.Int).Set(s.wagerFeeReserve),
		new(big.Int).Set(s.referralReserve)
}

func (v *Vault) sheetValue(asset string, pick func(*assetSheet) *big.Int) *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	s, ok := v.sheets[asset]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(pick(s))
}
