// Package manager implements the share accountant: AUM computation, WLP
// share pricing, liquidity add/remove with cooldown and first-mint
// protection, and the circuit-breaker policy applied when the vault reports
// a pool-floor breach.
package manager

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"VaultLedger/internal/access"
	"VaultLedger/internal/event"
	vmath "VaultLedger/internal/math"
	"VaultLedger/internal/oracle"
	"VaultLedger/internal/token"
	"VaultLedger/internal/vault"
)

var (
	// MinFirstMint blocks a vanishingly small initial share supply that
	// could manipulate subsequent share pricing via rounding.
	MinFirstMint = new(big.Int).Set(vmath.SharePrecision) // 1 WLP

	// FirstMintLockSlice is permanently minted to the lock account on the
	// first mint and can never be redeemed.
	FirstMintLockSlice = vmath.Pow10(15)
)

// FeeCollector is invoked synchronously before every liquidity add so
// pending fee value enters the pool's valuation before the new deposit is
// priced. Phase one of the two-phase mint sequence.
type FeeCollector interface {
	CollectFeesBeforeLPEvent(ts time.Time) ([]vault.Step, error)
}

// Config carries the manager's construction-time identity and policy.
type Config struct {
	// Identity is the account the manager acts as. It must hold the
	// manager and emergency roles on the gate.
	Identity string
	// LockAccount receives the first-mint lock slice.
	LockAccount string
	Cooldown    time.Duration
}

// Manager is the share accountant.
type Manager struct {
	mu sync.Mutex

	identity    string
	lockAccount string

	vault *vault.Vault
	wlp   token.Supply
	usdw  token.Supply
	feed  oracle.PriceFeed
	gate  access.Gate

	aumAddition      *big.Int
	aumDeduction     *big.Int
	reserveDeduction *big.Int

	breakerActive     bool
	breakerHaltPay    bool
	breakerHaltSwaps  bool
	breakerDeductBps  int64

	cooldown        time.Duration
	lastAdded       map[string]time.Time
	privateMode     bool
	handlersEnabled bool
	handlers        map[string]bool

	collector FeeCollector

	logger zerolog.Logger
}

func New(cfg Config, v *vault.Vault, wlp, usdw token.Supply, feed oracle.PriceFeed, gate access.Gate, logger zerolog.Logger) *Manager {
	return &Manager{
		identity:         cfg.Identity,
		lockAccount:      cfg.LockAccount,
		vault:            v,
		wlp:              wlp,
		usdw:             usdw,
		feed:             feed,
		gate:             gate,
		aumAddition:      new(big.Int),
		aumDeduction:     new(big.Int),
		reserveDeduction: new(big.Int),
		breakerHaltPay:   true,
		breakerHaltSwaps: false,
		cooldown:         cfg.Cooldown,
		lastAdded:        make(map[string]time.Time),
		handlers:         make(map[string]bool),
		logger:           logger.With().Str("component", "manager").Logger(),
	}
}

// SetCollector wires the pre-mint fee collector. Done once at startup.
func (m *Manager) SetCollector(c FeeCollector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collector = c
}

// === AUM and share pricing ===

// ComputeAUM sums the priced pool balances of every whitelisted asset at the
// requested price bound, applies the manual addition, and subtracts the
// manual deduction clamped so the result is never negative. Recomputed on
// every liquidity event; prices are live, so nothing is cached.
func (m *Manager) ComputeAUM(useMaxPrices bool) (*big.Int, error) {
	sum := new(big.Int)
	for _, asset := range m.vault.WhitelistedAssets() {
		cfg, ok := m.vault.AssetConfigFor(asset)
		if !ok {
			continue
		}
		var (
			price *big.Int
			err   error
		)
		if useMaxPrices {
			price, err = m.feed.MaxPrice(asset)
		} else {
			price, err = m.feed.MinPrice(asset)
		}
		if err != nil {
			return nil, fmt.Errorf("aum: %w", err)
		}
		sum.Add(sum, vmath.TokenToUsd(m.vault.PoolAmount(asset), price, cfg.Decimals))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	sum.Add(sum, m.aumAddition)
	sum.Sub(sum, vmath.MinBig(m.aumDeduction, sum))
	return sum, nil
}

// SharePrice returns the USD value (10^30 scale) of one whole WLP, zero when
// no shares are outstanding.
func (m *Manager) SharePrice(useMaxPrices bool) (*big.Int, error) {
	supply := m.wlp.TotalSupply()
	if supply.Sign() == 0 {
		return new(big.Int), nil
	}
	aum, err := m.ComputeAUM(useMaxPrices)
	if err != nil {
		return nil, err
	}
	price := new(big.Int).Mul(aum, vmath.SharePrecision)
	return price.Quo(price, supply), nil
}

// ReserveDeduction returns the one-time AUM deduction recorded by an active
// circuit breaker. Consumed by external max-exposure calculations, not by
// share pricing.
func (m *Manager) ReserveDeduction() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.reserveDeduction)
}

// === Liquidity ===

// AddLiquidityResult reports a completed add.
type AddLiquidityResult struct {
	UsdwMinted   *big.Int
	SharesMinted *big.Int // credited to recipient, net of any lock slice
	FeeBps       int64
}

// AddLiquidity runs the two-phase mint: settle pending collector fees, then
// price the deposit against pre-deposit AUM at the high bound and mint
// shares to the recipient.
func (m *Manager) AddLiquidity(funder, recipient, asset string, amountIn, minUsdw, minShares *big.Int, requestID uuid.UUID, ts time.Time) (*AddLiquidityResult, []vault.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.admitLocked(funder); err != nil {
		return nil, nil, err
	}

	var steps []vault.Step
	if m.collector != nil {
		collected, err := m.collector.CollectFeesBeforeLPEvent(ts)
		if err != nil {
			return nil, nil, fmt.Errorf("fee collection before mint: %w", err)
		}
		steps = append(steps, collected...)
	}

	// AUM is read before the deposit so the new funds do not dilute their
	// own pricing. High bound favors existing holders.
	aumBefore, err := m.computeAUMLocked(true)
	if err != nil {
		return nil, nil, err
	}
	aumInUsdw := vmath.UsdToUsdw(aumBefore)
	supply := m.wlp.TotalSupply()

	// Minimum-output checks run against a preview so a violation rejects
	// before any state mutation.
	previewUsdw, _, err := m.vault.PreviewDeposit(asset, amountIn)
	if err != nil {
		return nil, nil, err
	}
	if minUsdw != nil && previewUsdw.Cmp(minUsdw) < 0 {
		return nil, nil, fmt.Errorf("%w: usdw %s below minimum %s", vault.ErrSlippage, previewUsdw, minUsdw)
	}
	previewShares := sharesForUsdw(previewUsdw, supply, aumInUsdw)
	if supply.Sign() == 0 && previewShares.Cmp(MinFirstMint) < 0 {
		return nil, nil, fmt.Errorf("%w: %s < %s", ErrFirstMintTooSmall, previewShares, MinFirstMint)
	}
	if minShares != nil && previewShares.Cmp(minShares) < 0 {
		return nil, nil, fmt.Errorf("%w: shares %s below minimum %s", vault.ErrSlippage, previewShares, minShares)
	}

	res, err := m.vault.Deposit(m.identity, funder, m.identity, asset, amountIn, minUsdw, requestID, ts)
	if err != nil {
		return nil, nil, err
	}

	shares := sharesForUsdw(res.UsdwMinted, supply, aumInUsdw)
	toRecipient := new(big.Int).Set(shares)
	if supply.Sign() == 0 {
		toRecipient.Sub(toRecipient, FirstMintLockSlice)
		if err := m.wlp.Mint(m.lockAccount, FirstMintLockSlice); err != nil {
			return nil, nil, fmt.Errorf("lock slice mint: %w", err)
		}
		m.logger.Info().
			Str("lock_slice", FirstMintLockSlice.String()).
			Msg("first mint: lock slice burned to lock account")
	}
	if err := m.wlp.Mint(recipient, toRecipient); err != nil {
		return nil, nil, fmt.Errorf("share mint: %w", err)
	}
	m.lastAdded[recipient] = ts

	steps = append(steps, vault.Step{
		Event: &event.LiquidityAdded{
			RequestID:    requestID,
			Funder:       funder,
			Recipient:    recipient,
			Asset:        asset,
			AmountIn:     new(big.Int).Set(amountIn),
			UsdwMinted:   new(big.Int).Set(res.UsdwMinted),
			SharesMinted: new(big.Int).Set(toRecipient),
			FeeBps:       res.FeeBps,
			Timestamp:    ts,
		},
		Batch: res.Batch,
	})

	m.logger.Info().
		Str("asset", asset).
		Str("amount_in", amountIn.String()).
		Str("shares_minted", toRecipient.String()).
		Msg("liquidity added")

	return &AddLiquidityResult{
		UsdwMinted:   res.UsdwMinted,
		SharesMinted: toRecipient,
		FeeBps:       res.FeeBps,
	}, steps, nil
}

// RemoveLiquidityResult reports a completed remove.
type RemoveLiquidityResult struct {
	UsdwBurned *big.Int
	AmountOut  *big.Int
	FeeBps     int64
	Breaches   []vault.Breach
}

// RemoveLiquidity burns sharesIn from holder and redeems the pro-rata USDW
// value for assetOut at the low-bound AUM. Cooldown gates admission.
func (m *Manager) RemoveLiquidity(holder, receiver, assetOut string, sharesIn, minOut *big.Int, requestID uuid.UUID, ts time.Time) (*RemoveLiquidityResult, []vault.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.admitLocked(holder); err != nil {
		return nil, nil, err
	}
	if sharesIn == nil || sharesIn.Sign() <= 0 {
		return nil, nil, vault.ErrZeroAmount
	}
	if last, ok := m.lastAdded[holder]; ok && ts.Before(last.Add(m.cooldown)) {
		return nil, nil, fmt.Errorf("%w: until %s", ErrCooldownActive, last.Add(m.cooldown).Format(time.RFC3339))
	}
	if m.wlp.BalanceOf(holder).Cmp(sharesIn) < 0 {
		return nil, nil, fmt.Errorf("%w: holder %s", token.ErrInsufficientBalance, holder)
	}

	supply := m.wlp.TotalSupply()
	if supply.Sign() == 0 {
		return nil, nil, ErrNoShareSupply
	}
	aum, err := m.computeAUMLocked(false)
	if err != nil {
		return nil, nil, err
	}
	aumInUsdw := vmath.UsdToUsdw(aum)

	usdwAmount := new(big.Int).Mul(sharesIn, aumInUsdw)
	usdwAmount.Quo(usdwAmount, supply)
	if usdwAmount.Sign() <= 0 {
		return nil, nil, vault.ErrZeroAmount
	}

	// Price appreciation grows the AUM past the cumulative minted USDW,
	// so a late pro-rata claim can exceed what this identity holds. The
	// shortfall is minted, not failed: shares always redeem at AUM.
	shortfall := new(big.Int).Sub(usdwAmount, m.usdw.BalanceOf(m.identity))
	if shortfall.Sign() > 0 {
		if err := m.usdw.Mint(m.identity, shortfall); err != nil {
			return nil, nil, fmt.Errorf("%w: shortfall mint: %v", vault.ErrSolvency, err)
		}
	}

	res, err := m.vault.Withdraw(m.identity, m.identity, receiver, assetOut, usdwAmount, minOut, requestID, ts)
	if err != nil {
		if shortfall.Sign() > 0 {
			// Recoverable rejections happen before the vault burns, so
			// the top-up is still here to unwind.
			if berr := m.usdw.Burn(m.identity, shortfall); berr != nil {
				m.logger.Error().Err(berr).Msg("shortfall unwind failed")
			}
		}
		return nil, nil, err
	}
	if err := m.wlp.Burn(holder, sharesIn); err != nil {
		// Balance was checked above; failing here means share accounting
		// broke mid-operation.
		return nil, nil, fmt.Errorf("%w: share burn: %v", vault.ErrSolvency, err)
	}

	step := vault.Step{
		Event: &event.LiquidityRemoved{
			RequestID:  requestID,
			Holder:     holder,
			Receiver:   receiver,
			Asset:      assetOut,
			SharesIn:   new(big.Int).Set(sharesIn),
			UsdwBurned: new(big.Int).Set(usdwAmount),
			AmountOut:  new(big.Int).Set(res.AmountOut),
			FeeBps:     res.FeeBps,
			Timestamp:  ts,
		},
		Batch: res.Batch,
	}

	m.logger.Info().
		Str("asset", assetOut).
		Str("shares_in", sharesIn.String()).
		Str("amount_out", res.AmountOut.String()).
		Msg("liquidity removed")

	return &RemoveLiquidityResult{
		UsdwBurned: usdwAmount,
		AmountOut:  res.AmountOut,
		FeeBps:     res.FeeBps,
		Breaches:   res.Breaches,
	}, []vault.Step{step}, nil
}

func sharesForUsdw(usdwAmount, supply, aumInUsdw *big.Int) *big.Int {
	if supply.Sign() == 0 || aumInUsdw.Sign() == 0 {
		return new(big.Int).Set(usdwAmount)
	}
	shares := new(big.Int).Mul(usdwAmount, supply)
	return shares.Quo(shares, aumInUsdw)
}

// admitLocked enforces private mode with the allowed-handler bypass.
func (m *Manager) admitLocked(caller string) error {
	if !m.privateMode {
		return nil
	}
	if m.handlersEnabled && m.handlers[caller] {
		return nil
	}
	return ErrPrivateMode
}

// computeAUMLocked is ComputeAUM for callers already holding m.mu.
func (m *Manager) computeAUMLocked(useMaxPrices bool) (*big.Int, error) {
	sum := new(big.Int)
	for _, asset := range m.vault.WhitelistedAssets() {
		cfg, ok := m.vault.AssetConfigFor(asset)
		if !ok {
			continue
		}
		var (
			price *big.Int
			err   error
		)
		if useMaxPrices {
			price, err = m.feed.MaxPrice(asset)
		} else {
			price, err = m.feed.MinPrice(asset)
		}
		if err != nil {
			return nil, fmt.Errorf("aum: %w", err)
		}
		sum.Add(sum, vmath.TokenToUsd(m.vault.PoolAmount(asset), price, cfg.Decimals))
	}
	sum.Add(sum, m.aumAddition)
	sum.Sub(sum, vmath.MinBig(m.aumDeduction, sum))
	return sum, nil
}

// === Governance knobs ===

func (m *Manager) SetAumAdjustment(caller string, addition, deduction *big.Int) error {
	if !m.gate.IsGovernance(caller) {
		return vault.ErrUnauthorized
	}
	if addition.Sign() < 0 || deduction.Sign() < 0 {
		return vault.ErrZeroAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aumAddition.Set(addition)
	m.aumDeduction.Set(deduction)
	return nil
}

func (m *Manager) SetCooldown(caller string, d time.Duration) error {
	if !m.gate.IsGovernance(caller) {
		return vault.ErrUnauthorized
	}
	if d < 0 {
		return vault.ErrZeroAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cooldown = d
	return nil
}

func (m *Manager) SetPrivateMode(caller string, private bool) error {
	if !m.gate.IsGovernance(caller) {
		return vault.ErrUnauthorized
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.privateMode = private
	return nil
}

func (m *Manager) SetHandlersEnabled(caller string, enabled bool) error {
	if !m.gate.IsGovernance(caller) {
		return vault.ErrUnauthorized
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlersEnabled = enabled
	return nil
}

func (m *Manager) SetAllowedHandler(caller, handler string, allowed bool) error {
	if !m.gate.IsGovernance(caller) {
		return vault.ErrUnauthorized
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if allowed {
		m.handlers[handler] = true
	} else {
		delete(m.handlers, handler)
	}
	return nil
}

// SetBreakerPolicy configures what a trip does: halt payouts, halt swaps,
// and/or record a one-time AUM deduction in bps.
func (m *Manager) SetBreakerPolicy(caller string, haltPayouts, haltSwaps bool, aumDeductBps int64) error {
	if !m.gate.IsGovernance(caller) {
		return vault.ErrUnauthorized
	}
	if aumDeductBps < 0 || aumDeductBps > 10_000 {
		return fmt.Errorf("aum deduction bps out of range: %d", aumDeductBps)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakerHaltPay = haltPayouts
	m.breakerHaltSwaps = haltSwaps
	m.breakerDeductBps = aumDeductBps
	return nil
}
