package manager_test

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"VaultLedger/internal/access"
	"VaultLedger/internal/manager"
	vmath "VaultLedger/internal/math"
	"VaultLedger/internal/oracle"
	"VaultLedger/internal/token"
	"VaultLedger/internal/vault"
)

var testTime = time.Unix(1_700_000_000, 0).UTC()

func scaled(n int64, decimals int) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), vmath.Pow10(decimals))
}

type fixture struct {
	acct  *manager.Manager
	vault *vault.Vault
	bank  *token.MemoryBank
	feed  *oracle.StaticFeed
	wlp   *token.SupplyLedger
	usdw  *token.SupplyLedger
	gate  *access.StaticGate
}

// newFixture builds an accountant over a zero-fee vault so share math is
// exact: one deposited dollar mints one USDW of debt.
func newFixture(t *testing.T, cooldown time.Duration) *fixture {
	t.Helper()
	return newFeeFixture(t, cooldown, vault.FeeConfig{WagerFeeBps: 100})
}

func newFeeFixture(t *testing.T, cooldown time.Duration, fees vault.FeeConfig) *fixture {
	t.Helper()

	gate := access.NewStaticGate()
	gate.GrantGovernance("gov")
	gate.GrantManager("accountant")
	gate.GrantEmergency("accountant")

	feed := oracle.NewStaticFeed()
	usdw := token.NewSupplyLedger("USDW")
	wlp := token.NewSupplyLedger("WLP")
	bank := token.NewMemoryBank()

	v, err := vault.New(vault.Config{
		Account:       "vault",
		EscrowAccount: "escrow",
		Fees:          fees,
	}, usdw, bank, feed, gate, zerolog.Nop())
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}

	acct := manager.New(manager.Config{
		Identity:    "accountant",
		LockAccount: "lock",
		Cooldown:    cooldown,
	}, v, wlp, usdw, feed, gate, zerolog.Nop())

	if _, err := v.SetAssetConfig("gov", uuid.New(), vault.AssetConfig{
		Asset:    "usdc",
		Decimals: 6,
		Weight:   10_000,
		IsStable: true,
	}, testTime); err != nil {
		t.Fatalf("SetAssetConfig: %v", err)
	}
	feed.Set("usdc", vmath.PricePrecision)

	return &fixture{acct: acct, vault: v, bank: bank, feed: feed, wlp: wlp, usdw: usdw, gate: gate}
}

func (f *fixture) addLiquidity(t *testing.T, holder string, amount *big.Int, ts time.Time) *manager.AddLiquidityResult {
	t.Helper()
	f.bank.Credit("usdc", holder, amount)
	res, _, err := f.acct.AddLiquidity(holder, holder, "usdc", amount, nil, nil, uuid.New(), ts)
	if err != nil {
		t.Fatalf("AddLiquidity: %v", err)
	}
	return res
}

func mustEqual(t *testing.T, name string, got, want *big.Int) {
	t.Helper()
	if got.Cmp(want) != 0 {
		t.Fatalf("%s = %s, want %s", name, got, want)
	}
}

func TestFirstMintLockSliceAndParity(t *testing.T) {
	f := newFixture(t, 0)

	res := f.addLiquidity(t, "lp", scaled(1000, 6), testTime)

	// First mint: shares equal the deposited USDW value, minus the
	// permanently locked slice.
	mustEqual(t, "usdw minted", res.UsdwMinted, scaled(1000, 18))
	wantShares := new(big.Int).Sub(scaled(1000, 18), manager.FirstMintLockSlice)
	mustEqual(t, "shares to recipient", res.SharesMinted, wantShares)
	mustEqual(t, "lock slice", f.wlp.BalanceOf("lock"), manager.FirstMintLockSlice)
	mustEqual(t, "total supply", f.wlp.TotalSupply(), scaled(1000, 18))

	price, err := f.acct.SharePrice(true)
	if err != nil {
		t.Fatalf("SharePrice: %v", err)
	}
	mustEqual(t, "share price", price, vmath.PricePrecision)
}

func TestFirstMintBelowMinimumRejects(t *testing.T) {
	f := newFixture(t, 0)

	f.bank.Credit("usdc", "lp", big.NewInt(500_000)) // $0.50
	_, _, err := f.acct.AddLiquidity("lp", "lp", "usdc", big.NewInt(500_000), nil, nil, uuid.New(), testTime)
	if !errors.Is(err, manager.ErrFirstMintTooSmall) {
		t.Fatalf("want ErrFirstMintTooSmall, got %v", err)
	}
	mustEqual(t, "no supply", f.wlp.TotalSupply(), new(big.Int))
	mustEqual(t, "pool untouched", f.vault.PoolAmount("usdc"), new(big.Int))
}

func TestSecondMintPricedAtPreDepositAUM(t *testing.T) {
	f := newFixture(t, 0)
	f.addLiquidity(t, "lp", scaled(1000, 6), testTime)

	// Pool profit with no new shares raises the share price to 1.10.
	f.bank.Credit("usdc", "donor", scaled(100, 6))
	if _, err := f.vault.DirectPoolDeposit("accountant", "donor", "usdc", scaled(100, 6), uuid.New(), testTime); err != nil {
		t.Fatalf("DirectPoolDeposit: %v", err)
	}

	res := f.addLiquidity(t, "lp2", scaled(1100, 6), testTime)

	// 1100 USDW against pre-deposit AUM of 1100 and supply 1000: the new
	// holder gets exactly 1000 shares, not diluting the profit.
	mustEqual(t, "usdw minted", res.UsdwMinted, scaled(1100, 18))
	mustEqual(t, "shares minted", res.SharesMinted, scaled(1000, 18))
}

func TestRemoveLiquidityRedeemsProRata(t *testing.T) {
	f := newFixture(t, 0)
	f.addLiquidity(t, "lp", scaled(1000, 6), testTime)

	res, steps, err := f.acct.RemoveLiquidity("lp", "lp", "usdc", scaled(500, 18), nil, uuid.New(), testTime)
	if err != nil {
		t.Fatalf("RemoveLiquidity: %v", err)
	}
	if len(steps) != 1 {
		t.Fatalf("steps = %d, want 1", len(steps))
	}

	mustEqual(t, "usdw burned", res.UsdwBurned, scaled(500, 18))
	mustEqual(t, "amount out", res.AmountOut, scaled(500, 6))
	mustEqual(t, "receiver paid", f.bank.Balance("usdc", "lp"), scaled(500, 6))
	mustEqual(t, "remaining supply", f.wlp.TotalSupply(), scaled(500, 18))
}

func TestRemoveLiquidityCooldownBoundary(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.addLiquidity(t, "lp", scaled(1000, 6), testTime)

	_, _, err := f.acct.RemoveLiquidity("lp", "lp", "usdc", scaled(100, 18), nil, uuid.New(), testTime.Add(30*time.Minute))
	if !errors.Is(err, manager.ErrCooldownActive) {
		t.Fatalf("want ErrCooldownActive, got %v", err)
	}

	// Exactly at the cooldown edge the removal is admitted.
	if _, _, err := f.acct.RemoveLiquidity("lp", "lp", "usdc", scaled(100, 18), nil, uuid.New(), testTime.Add(time.Hour)); err != nil {
		t.Fatalf("RemoveLiquidity at boundary: %v", err)
	}
}

func TestRemoveLiquidityInsufficientShares(t *testing.T) {
	f := newFixture(t, 0)
	f.addLiquidity(t, "lp", scaled(1000, 6), testTime)

	_, _, err := f.acct.RemoveLiquidity("stranger", "stranger", "usdc", scaled(1, 18), nil, uuid.New(), testTime)
	if !errors.Is(err, token.ErrInsufficientBalance) {
		t.Fatalf("want ErrInsufficientBalance, got %v", err)
	}
}

func TestPrivateModeHandlerBypass(t *testing.T) {
	f := newFixture(t, 0)

	if err := f.acct.SetPrivateMode("gov", true); err != nil {
		t.Fatalf("SetPrivateMode: %v", err)
	}

	f.bank.Credit("usdc", "lp", scaled(1000, 6))
	_, _, err := f.acct.AddLiquidity("lp", "lp", "usdc", scaled(1000, 6), nil, nil, uuid.New(), testTime)
	if !errors.Is(err, manager.ErrPrivateMode) {
		t.Fatalf("want ErrPrivateMode, got %v", err)
	}

	if err := f.acct.SetHandlersEnabled("gov", true); err != nil {
		t.Fatalf("SetHandlersEnabled: %v", err)
	}
	if err := f.acct.SetAllowedHandler("gov", "lp", true); err != nil {
		t.Fatalf("SetAllowedHandler: %v", err)
	}
	if _, _, err := f.acct.AddLiquidity("lp", "lp", "usdc", scaled(1000, 6), nil, nil, uuid.New(), testTime); err != nil {
		t.Fatalf("AddLiquidity as allowed handler: %v", err)
	}
}

func TestAumAdjustmentClampsDeduction(t *testing.T) {
	f := newFixture(t, 0)
	f.addLiquidity(t, "lp", scaled(1000, 6), testTime)

	// A deduction larger than raw AUM clamps to zero, never negative.
	huge := new(big.Int).Mul(big.NewInt(1_000_000), vmath.PricePrecision)
	if err := f.acct.SetAumAdjustment("gov", new(big.Int), huge); err != nil {
		t.Fatalf("SetAumAdjustment: %v", err)
	}
	aum, err := f.acct.ComputeAUM(true)
	if err != nil {
		t.Fatalf("ComputeAUM: %v", err)
	}
	mustEqual(t, "clamped aum", aum, new(big.Int))

	if err := f.acct.SetAumAdjustment("gov", scaled(50, 30), new(big.Int)); err != nil {
		t.Fatalf("SetAumAdjustment: %v", err)
	}
	aum, err = f.acct.ComputeAUM(true)
	if err != nil {
		t.Fatalf("ComputeAUM: %v", err)
	}
	mustEqual(t, "aum with addition", aum, scaled(1050, 30))
}

func TestBreakerTripIdempotentAndReset(t *testing.T) {
	f := newFixture(t, 0)
	f.addLiquidity(t, "lp", scaled(1000, 6), testTime)

	if err := f.acct.SetBreakerPolicy("gov", true, true, 1000); err != nil {
		t.Fatalf("SetBreakerPolicy: %v", err)
	}

	breach := vault.Breach{
		Asset:     "usdc",
		Pool:      scaled(800, 6),
		Threshold: scaled(900, 6),
	}
	step, err := f.acct.TripBreaker(breach, testTime)
	if err != nil {
		t.Fatalf("TripBreaker: %v", err)
	}
	if step == nil {
		t.Fatal("first trip must emit an event")
	}

	if f.vault.PayoutsEnabled() || f.vault.SwapsEnabled() {
		t.Fatal("trip should halt payouts and swaps")
	}
	if !f.acct.BreakerActive() {
		t.Fatal("breaker should be active")
	}
	// 10% of the $1000 AUM.
	mustEqual(t, "reserve deduction", f.acct.ReserveDeduction(), scaled(100, 30))

	// A second trip while active is a silent no-op.
	step, err = f.acct.TripBreaker(breach, testTime)
	if err != nil {
		t.Fatalf("second TripBreaker: %v", err)
	}
	if step != nil {
		t.Fatal("second trip must not emit an event")
	}

	if _, err := f.acct.ResetBreaker("gov", uuid.New(), testTime); err != nil {
		t.Fatalf("ResetBreaker: %v", err)
	}
	if !f.vault.PayoutsEnabled() || !f.vault.SwapsEnabled() {
		t.Fatal("reset should restore payouts and swaps")
	}
	mustEqual(t, "deduction cleared", f.acct.ReserveDeduction(), new(big.Int))
	if f.acct.BreakerActive() {
		t.Fatal("breaker should be inactive after reset")
	}
}

func TestResetBreakerRequiresGovernance(t *testing.T) {
	f := newFixture(t, 0)
	if _, err := f.acct.ResetBreaker("accountant", uuid.New(), testTime); !errors.Is(err, vault.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}

// recordingCollector counts sweeps and returns a canned step.
type recordingCollector struct {
	calls int
	step  vault.Step
	err   error
}

func (c *recordingCollector) CollectFeesBeforeLPEvent(ts time.Time) ([]vault.Step, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []vault.Step{c.step}, nil
}

func TestCollectorRunsBeforeMint(t *testing.T) {
	f := newFixture(t, 0)

	col := &recordingCollector{}
	f.acct.SetCollector(col)

	_, steps, err := f.acct.AddLiquidity("lp", "lp", "usdc", scaled(1000, 6), nil, nil, uuid.New(), testTime)
	if err == nil {
		t.Fatal("expected failure: funder has no balance")
	}
	// The collector already ran even though the deposit failed later.
	if col.calls != 1 {
		t.Fatalf("collector calls = %d, want 1", col.calls)
	}
	if steps != nil {
		t.Fatal("failed add must not return steps")
	}

	f.bank.Credit("usdc", "lp", scaled(1000, 6))
	_, steps, err = f.acct.AddLiquidity("lp", "lp", "usdc", scaled(1000, 6), nil, nil, uuid.New(), testTime)
	if err != nil {
		t.Fatalf("AddLiquidity: %v", err)
	}
	if col.calls != 2 {
		t.Fatalf("collector calls = %d, want 2", col.calls)
	}
	// Collector output leads the step list, the mint event closes it.
	if len(steps) != 2 {
		t.Fatalf("steps = %d, want collector step plus mint event", len(steps))
	}
}

func TestCollectorFailureAbortsMint(t *testing.T) {
	f := newFixture(t, 0)

	col := &recordingCollector{err: errors.New("sweep failed")}
	f.acct.SetCollector(col)

	f.bank.Credit("usdc", "lp", scaled(1000, 6))
	if _, _, err := f.acct.AddLiquidity("lp", "lp", "usdc", scaled(1000, 6), nil, nil, uuid.New(), testTime); err == nil {
		t.Fatal("expected collector failure to abort the mint")
	}
	mustEqual(t, "no supply", f.wlp.TotalSupply(), new(big.Int))
}

func TestRemoveLiquidityMintsShortfallAfterAppreciation(t *testing.T) {
	f := newFixture(t, 0)

	res := f.addLiquidity(t, "lp", scaled(1000, 6), testTime)

	// The price doubles after entry, so the pro-rata claim exceeds the
	// USDW minted at deposit time and the gap must be minted, not failed.
	f.feed.Set("usdc", new(big.Int).Mul(big.NewInt(2), vmath.PricePrecision))

	out, _, err := f.acct.RemoveLiquidity("lp", "receiver", "usdc", res.SharesMinted, nil, uuid.New(), testTime)
	if err != nil {
		t.Fatalf("RemoveLiquidity: %v", err)
	}

	// 999999/1000000 of a $2000 AUM, paid out at $2 per token.
	wantBurn := new(big.Int).Mul(big.NewInt(1_999_998), vmath.Pow10(15))
	mustEqual(t, "usdw burned", out.UsdwBurned, wantBurn)
	mustEqual(t, "amount out", out.AmountOut, big.NewInt(999_999_000))
	mustEqual(t, "receiver balance", f.bank.Balance("usdc", "receiver"), big.NewInt(999_999_000))
	mustEqual(t, "accountant usdw drained", f.usdw.BalanceOf("accountant"), new(big.Int))
	mustEqual(t, "remaining supply", f.wlp.TotalSupply(), manager.FirstMintLockSlice)
}

func TestRoundTripWithBurnFeeReturnsLessThanDeposit(t *testing.T) {
	f := newFeeFixture(t, 0, vault.FeeConfig{WagerFeeBps: 100, MintBurnFeeBps: 30})

	deposit := scaled(1000, 6)
	res := f.addLiquidity(t, "lp", deposit, testTime)

	out, _, err := f.acct.RemoveLiquidity("lp", "lp", "usdc", res.SharesMinted, nil, uuid.New(), testTime)
	if err != nil {
		t.Fatalf("RemoveLiquidity: %v", err)
	}

	// Fees are charged on both legs: an immediate round trip always
	// hands back less than went in.
	if out.AmountOut.Sign() <= 0 {
		t.Fatalf("round trip returned %s, want positive", out.AmountOut)
	}
	if out.AmountOut.Cmp(deposit) >= 0 {
		t.Fatalf("round trip returned %s, want strictly below deposit %s", out.AmountOut, deposit)
	}
}
