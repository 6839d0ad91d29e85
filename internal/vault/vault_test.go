package vault_test

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"VaultLedger/internal/access"
	vmath "VaultLedger/internal/math"
	"VaultLedger/internal/oracle"
	"VaultLedger/internal/token"
	"VaultLedger/internal/vault"
)

var testTime = time.Unix(1_700_000_000, 0).UTC()

// scaled returns n * 10^decimals.
func scaled(n int64, decimals int) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), vmath.Pow10(decimals))
}

type fixture struct {
	vault *vault.Vault
	bank  *token.MemoryBank
	feed  *oracle.StaticFeed
	usdw  *token.SupplyLedger
	gate  *access.StaticGate
}

// newFixture builds a vault with flat fees so amount assertions stay exact.
// The dynamic curve has its own tests in the fees package.
func newFixture(t *testing.T, fees vault.FeeConfig) *fixture {
	t.Helper()

	gate := access.NewStaticGate()
	gate.GrantGovernance("gov")
	gate.GrantManager("mgr")
	gate.GrantEmergency("ops")

	feed := oracle.NewStaticFeed()
	usdw := token.NewSupplyLedger("USDW")
	bank := token.NewMemoryBank()

	v, err := vault.New(vault.Config{
		Account:       "vault",
		EscrowAccount: "escrow",
		Fees:          fees,
	}, usdw, bank, feed, gate, zerolog.Nop())
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}

	return &fixture{vault: v, bank: bank, feed: feed, usdw: usdw, gate: gate}
}

func zeroFees() vault.FeeConfig {
	return vault.FeeConfig{WagerFeeBps: 100}
}

// whitelist registers an asset at $1 with equal min/max bounds.
func (f *fixture) whitelist(t *testing.T, asset string, decimals int, maxUsdw *big.Int) {
	t.Helper()
	if _, err := f.vault.SetAssetConfig("gov", uuid.New(), vault.AssetConfig{
		Asset:    asset,
		Decimals: decimals,
		Weight:   10_000,
		MaxUsdw:  maxUsdw,
	}, testTime); err != nil {
		t.Fatalf("SetAssetConfig(%s): %v", asset, err)
	}
	f.feed.Set(asset, vmath.PricePrecision)
}

func (f *fixture) deposit(t *testing.T, asset string, amount *big.Int) *vault.DepositResult {
	t.Helper()
	f.bank.Credit(asset, "lp", amount)
	res, err := f.vault.Deposit("mgr", "lp", "lp", asset, amount, nil, uuid.New(), testTime)
	if err != nil {
		t.Fatalf("Deposit(%s, %s): %v", asset, amount, err)
	}
	return res
}

func mustEqual(t *testing.T, name string, got, want *big.Int) {
	t.Helper()
	if got.Cmp(want) != 0 {
		t.Fatalf("%s = %s, want %s", name, got, want)
	}
}

func TestDepositMintsDebtAtAssetValue(t *testing.T) {
	f := newFixture(t, zeroFees())
	f.whitelist(t, "usdc", 6, nil)

	res := f.deposit(t, "usdc", scaled(1000, 6))

	mustEqual(t, "usdw minted", res.UsdwMinted, scaled(1000, 18))
	mustEqual(t, "pool", f.vault.PoolAmount("usdc"), scaled(1000, 6))
	mustEqual(t, "debt", f.vault.DebtAmount("usdc"), scaled(1000, 18))
	mustEqual(t, "usdw balance", f.usdw.BalanceOf("lp"), scaled(1000, 18))
	mustEqual(t, "custody", f.bank.Balance("usdc", "vault"), scaled(1000, 6))
}

func TestDepositChargesFlatMintFee(t *testing.T) {
	fees := zeroFees()
	fees.MintBurnFeeBps = 30
	f := newFixture(t, fees)
	f.whitelist(t, "usdc", 6, nil)

	res := f.deposit(t, "usdc", scaled(1000, 6))

	// 30 bps off the deposit: 997 enters the pool as debt-backed value.
	mustEqual(t, "usdw minted", res.UsdwMinted, scaled(997, 18))
	mustEqual(t, "fee amount", res.FeeAmount, scaled(3, 6))
	swapFees, _, _ := f.vault.FeeReserves("usdc")
	mustEqual(t, "swap fee reserve", swapFees, scaled(3, 6))
}

func TestDepositSlippageRejectsBeforeMutation(t *testing.T) {
	f := newFixture(t, zeroFees())
	f.whitelist(t, "usdc", 6, nil)
	f.bank.Credit("usdc", "lp", scaled(1000, 6))

	_, err := f.vault.Deposit("mgr", "lp", "lp", "usdc", scaled(1000, 6), scaled(1001, 18), uuid.New(), testTime)
	if !errors.Is(err, vault.ErrSlippage) {
		t.Fatalf("want ErrSlippage, got %v", err)
	}
	mustEqual(t, "pool untouched", f.vault.PoolAmount("usdc"), new(big.Int))
	mustEqual(t, "funder untouched", f.bank.Balance("usdc", "lp"), scaled(1000, 6))
}

func TestDepositDebtCapRejects(t *testing.T) {
	f := newFixture(t, zeroFees())
	f.whitelist(t, "usdc", 6, scaled(500, 18))
	f.bank.Credit("usdc", "lp", scaled(1000, 6))

	_, err := f.vault.Deposit("mgr", "lp", "lp", "usdc", scaled(1000, 6), nil, uuid.New(), testTime)
	if !errors.Is(err, vault.ErrMaxUsdwExceeded) {
		t.Fatalf("want ErrMaxUsdwExceeded, got %v", err)
	}
}

func TestDepositUnauthorizedAndPaused(t *testing.T) {
	f := newFixture(t, zeroFees())
	f.whitelist(t, "usdc", 6, nil)
	f.bank.Credit("usdc", "lp", scaled(10, 6))

	if _, err := f.vault.Deposit("nobody", "lp", "lp", "usdc", scaled(10, 6), nil, uuid.New(), testTime); !errors.Is(err, vault.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}

	f.gate.SetPaused(true)
	if _, err := f.vault.Deposit("mgr", "lp", "lp", "usdc", scaled(10, 6), nil, uuid.New(), testTime); !errors.Is(err, vault.ErrPaused) {
		t.Fatalf("want ErrPaused, got %v", err)
	}
}

func TestWithdrawBufferBlocks(t *testing.T) {
	f := newFixture(t, zeroFees())
	f.whitelist(t, "usdc", 6, nil)
	f.deposit(t, "usdc", scaled(1000, 6))

	if err := f.vault.SetBufferAmount("gov", "usdc", scaled(900, 6)); err != nil {
		t.Fatalf("SetBufferAmount: %v", err)
	}

	_, err := f.vault.Withdraw("mgr", "lp", "lp", "usdc", scaled(200, 18), nil, uuid.New(), testTime)
	if !errors.Is(err, vault.ErrBufferBreached) {
		t.Fatalf("want ErrBufferBreached, got %v", err)
	}
	mustEqual(t, "pool untouched", f.vault.PoolAmount("usdc"), scaled(1000, 6))
	mustEqual(t, "usdw untouched", f.usdw.BalanceOf("lp"), scaled(1000, 18))
}

func TestWithdrawMakeUpMintWhenDebtUnderCovers(t *testing.T) {
	f := newFixture(t, zeroFees())
	f.whitelist(t, "usdc", 6, nil)
	f.whitelist(t, "dai", 18, nil)

	f.deposit(t, "usdc", scaled(1000, 6)) // usdc debt 1000e18
	f.deposit(t, "dai", scaled(500, 18))  // holder now has 1500e18 usdw

	// Grow the usdc pool beyond its recorded debt with a no-debt subsidy.
	f.bank.Credit("usdc", "donor", scaled(1000, 6))
	if _, err := f.vault.DirectPoolDeposit("mgr", "donor", "usdc", scaled(1000, 6), uuid.New(), testTime); err != nil {
		t.Fatalf("DirectPoolDeposit: %v", err)
	}

	res, err := f.vault.Withdraw("mgr", "lp", "lp", "usdc", scaled(1200, 18), nil, uuid.New(), testTime)
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}

	// 1200 usdw burned against 1000 of recorded usdc debt: the 200
	// shortfall is minted back to the vault so global supply still covers
	// the remaining debt.
	mustEqual(t, "amount out", res.AmountOut, scaled(1200, 6))
	mustEqual(t, "usdc debt", f.vault.DebtAmount("usdc"), new(big.Int))
	mustEqual(t, "make-up usdw", f.usdw.BalanceOf("vault"), scaled(200, 18))
	mustEqual(t, "receiver paid", f.bank.Balance("usdc", "lp"), scaled(1200, 6))
}

func TestSwapFlatFee(t *testing.T) {
	fees := zeroFees()
	fees.SwapFeeBps = 30
	f := newFixture(t, fees)
	f.whitelist(t, "dai", 18, nil)
	f.whitelist(t, "usdc", 6, nil)
	f.deposit(t, "usdc", scaled(1000, 6))

	f.bank.Credit("dai", "trader", scaled(100, 18))
	res, step, err := f.vault.Swap("mgr", "trader", "dai", "usdc", scaled(100, 18), uuid.New(), testTime)
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}
	if step == nil || step.Batch == nil {
		t.Fatal("swap must produce an event with a sealed batch")
	}

	// 100 dai at $1 buys 100 usdc gross, 30 bps fee on the out leg.
	wantFee := scaled(3, 5) // 0.30 usdc
	wantOut := new(big.Int).Sub(scaled(100, 6), wantFee)
	mustEqual(t, "amount out", res.AmountOut, wantOut)
	mustEqual(t, "fee amount", res.FeeAmount, wantFee)
	mustEqual(t, "trader paid", f.bank.Balance("usdc", "trader"), wantOut)
	mustEqual(t, "dai pool", f.vault.PoolAmount("dai"), scaled(100, 18))
	mustEqual(t, "usdc pool", f.vault.PoolAmount("usdc"), scaled(900, 6))
	swapFees, _, _ := f.vault.FeeReserves("usdc")
	mustEqual(t, "usdc swap reserve", swapFees, wantFee)
}

func TestSwapGuards(t *testing.T) {
	f := newFixture(t, zeroFees())
	f.whitelist(t, "usdc", 6, nil)

	if _, _, err := f.vault.Swap("mgr", "trader", "usdc", "usdc", scaled(1, 6), uuid.New(), testTime); !errors.Is(err, vault.ErrSameAsset) {
		t.Fatalf("want ErrSameAsset, got %v", err)
	}

	if err := f.vault.SetSwapsEnabled("ops", false); err != nil {
		t.Fatalf("SetSwapsEnabled: %v", err)
	}
	if _, _, err := f.vault.Swap("mgr", "trader", "dai", "usdc", scaled(1, 18), uuid.New(), testTime); !errors.Is(err, vault.ErrSwapsDisabled) {
		t.Fatalf("want ErrSwapsDisabled, got %v", err)
	}
}

func TestPayoutSameAssetLoss(t *testing.T) {
	f := newFixture(t, zeroFees())
	f.whitelist(t, "usdc", 6, nil)
	f.deposit(t, "usdc", scaled(1000, 6))

	f.bank.Credit("usdc", "escrow", scaled(100, 6))
	res, step, err := f.vault.Payout("mgr", uuid.New(), "usdc", "usdc", scaled(100, 6), scaled(150, 6), "winner", 1, testTime)
	if err != nil {
		t.Fatalf("Payout: %v", err)
	}
	if step == nil {
		t.Fatal("payout must produce an event")
	}

	// Escrow 100, payout 150, wager fee 1% of escrow: the pool absorbs
	// 150 + 1 - 100 = 51.
	mustEqual(t, "paid", res.Paid, scaled(150, 6))
	mustEqual(t, "wager fee", res.WagerFee, scaled(1, 6))
	mustEqual(t, "winner balance", f.bank.Balance("usdc", "winner"), scaled(150, 6))
	mustEqual(t, "pool", f.vault.PoolAmount("usdc"), scaled(949, 6))
	mustEqual(t, "total out", f.vault.TotalOutAmount("usdc"), scaled(51, 6))
	_, wagerFees, _ := f.vault.FeeReserves("usdc")
	mustEqual(t, "wager reserve", wagerFees, scaled(1, 6))
}

func TestPayoutSameAssetProfit(t *testing.T) {
	f := newFixture(t, zeroFees())
	f.whitelist(t, "usdc", 6, nil)
	f.deposit(t, "usdc", scaled(1000, 6))

	f.bank.Credit("usdc", "escrow", scaled(100, 6))
	res, _, err := f.vault.Payout("mgr", uuid.New(), "usdc", "usdc", scaled(100, 6), scaled(50, 6), "winner", 1, testTime)
	if err != nil {
		t.Fatalf("Payout: %v", err)
	}

	// Escrow 100 covers payout 50 plus fee 1; the remaining 49 is pool
	// profit.
	mustEqual(t, "paid", res.Paid, scaled(50, 6))
	mustEqual(t, "pool", f.vault.PoolAmount("usdc"), scaled(1049, 6))
	mustEqual(t, "total in", f.vault.TotalInAmount("usdc"), scaled(49, 6))
}

func TestPayoutCrossAssetNullKeepsEscrow(t *testing.T) {
	f := newFixture(t, zeroFees())
	f.whitelist(t, "dai", 18, nil)
	f.whitelist(t, "usdc", 6, nil)

	// One base unit of an 18-decimal wager converts to zero units of a
	// 6-decimal win asset, so the winnings vanish into rounding and the
	// payout nulls: the recipient gets nothing and the house keeps the
	// escrow as settlement inflow.
	escrow := scaled(10, 18)
	f.bank.Credit("dai", "escrow", escrow)
	res, _, err := f.vault.Payout("mgr", uuid.New(), "dai", "usdc", escrow, big.NewInt(1), "winner", 1, testTime)
	if err != nil {
		t.Fatalf("Payout: %v", err)
	}

	if !res.Null {
		t.Fatal("payout should be null")
	}
	mustEqual(t, "paid", res.Paid, new(big.Int))
	mustEqual(t, "winner balance", f.bank.Balance("usdc", "winner"), new(big.Int))

	wagerFee := scaled(1, 17) // 1% of 10 dai
	afterFee := new(big.Int).Sub(escrow, wagerFee)
	mustEqual(t, "dai pool", f.vault.PoolAmount("dai"), afterFee)
	mustEqual(t, "dai total in", f.vault.TotalInAmount("dai"), afterFee)
	mustEqual(t, "escrow custody", f.bank.Balance("dai", "vault"), escrow)
}

func TestPayoutHaltedRejects(t *testing.T) {
	f := newFixture(t, zeroFees())
	f.whitelist(t, "usdc", 6, nil)

	if err := f.vault.SetPayoutsEnabled("ops", false); err != nil {
		t.Fatalf("SetPayoutsEnabled: %v", err)
	}
	_, _, err := f.vault.Payout("mgr", uuid.New(), "usdc", "usdc", scaled(1, 6), scaled(1, 6), "winner", 1, testTime)
	if !errors.Is(err, vault.ErrPayoutsHalted) {
		t.Fatalf("want ErrPayoutsHalted, got %v", err)
	}
}

func TestPayinAddsProfitNetOfWagerFee(t *testing.T) {
	f := newFixture(t, zeroFees())
	f.whitelist(t, "usdc", 6, nil)

	f.bank.Credit("usdc", "escrow", scaled(1000, 6))
	res, step, err := f.vault.Payin("mgr", uuid.New(), "usdc", scaled(1000, 6), 1, testTime)
	if err != nil {
		t.Fatalf("Payin: %v", err)
	}
	if step == nil || step.Batch == nil {
		t.Fatal("payin must produce an event with a sealed batch")
	}

	mustEqual(t, "wager fee", res.WagerFee, scaled(10, 6))
	mustEqual(t, "pool gain", res.PoolGain, scaled(990, 6))
	mustEqual(t, "pool", f.vault.PoolAmount("usdc"), scaled(990, 6))
	mustEqual(t, "debt unchanged", f.vault.DebtAmount("usdc"), new(big.Int))
	mustEqual(t, "total in", f.vault.TotalInAmount("usdc"), scaled(990, 6))
}

func TestClearAssetConfigLeavesResidualBalances(t *testing.T) {
	f := newFixture(t, zeroFees())
	f.whitelist(t, "usdc", 6, nil)
	f.whitelist(t, "dai", 18, nil)
	f.deposit(t, "usdc", scaled(1000, 6))

	if _, err := f.vault.ClearAssetConfig("gov", uuid.New(), "usdc", testTime); err != nil {
		t.Fatalf("ClearAssetConfig: %v", err)
	}

	if f.vault.IsWhitelisted("usdc") {
		t.Fatal("usdc should be delisted")
	}
	if got := f.vault.TotalWeight(); got != 10_000 {
		t.Fatalf("total weight = %d, want 10000", got)
	}

	// The sheet survives delisting; the balances are stranded, not erased.
	mustEqual(t, "residual pool", f.vault.PoolAmount("usdc"), scaled(1000, 6))
	mustEqual(t, "residual debt", f.vault.DebtAmount("usdc"), scaled(1000, 18))

	f.bank.Credit("usdc", "lp", scaled(1, 6))
	if _, err := f.vault.Deposit("mgr", "lp", "lp", "usdc", scaled(1, 6), nil, uuid.New(), testTime); !errors.Is(err, vault.ErrNotWhitelisted) {
		t.Fatalf("want ErrNotWhitelisted, got %v", err)
	}

	// Re-listing reattaches the same sheet with its residual balances.
	f.whitelist(t, "usdc", 6, nil)
	mustEqual(t, "pool after relist", f.vault.PoolAmount("usdc"), scaled(1000, 6))
}

func TestWithdrawAllFeesReferralFromPool(t *testing.T) {
	f := newFixture(t, zeroFees())
	f.whitelist(t, "usdc", 6, nil)
	if err := f.vault.SetFeeCollector("gov", "collector"); err != nil {
		t.Fatalf("SetFeeCollector: %v", err)
	}

	f.bank.Credit("usdc", "escrow", scaled(1000, 6))
	if _, _, err := f.vault.Payin("mgr", uuid.New(), "usdc", scaled(1000, 6), 1, testTime); err != nil {
		t.Fatalf("Payin: %v", err)
	}
	// Wager reserve 10, pool 990. Reclassify 1 as referral reward.
	if err := f.vault.SetAsideReferral("mgr", "usdc", scaled(1, 6)); err != nil {
		t.Fatalf("SetAsideReferral: %v", err)
	}

	res, steps, err := f.vault.WithdrawAllFees("collector", uuid.New(), "usdc", "treasury", testTime)
	if err != nil {
		t.Fatalf("WithdrawAllFees: %v", err)
	}
	if len(steps) != 1 {
		t.Fatalf("steps = %d, want 1", len(steps))
	}

	if res.CapBreached {
		t.Fatal("cap should not be breached")
	}
	mustEqual(t, "wager fees", res.WagerFees, scaled(9, 6))
	mustEqual(t, "referral fees", res.ReferralFees, scaled(1, 6))
	// Referral cost comes out of the pool, fee reserves cover the rest.
	mustEqual(t, "pool", f.vault.PoolAmount("usdc"), scaled(989, 6))
	mustEqual(t, "treasury", f.bank.Balance("usdc", "treasury"), scaled(10, 6))

	swapFees, wagerFees, referral := f.vault.FeeReserves("usdc")
	for name, r := range map[string]*big.Int{"swap": swapFees, "wager": wagerFees, "referral": referral} {
		if r.Sign() != 0 {
			t.Fatalf("%s reserve not zeroed: %s", name, r)
		}
	}
}

func TestWithdrawAllFeesReferralCapZeroesPayout(t *testing.T) {
	f := newFixture(t, zeroFees())
	f.whitelist(t, "usdc", 6, nil)
	if err := f.vault.SetFeeCollector("gov", "collector"); err != nil {
		t.Fatalf("SetFeeCollector: %v", err)
	}

	f.bank.Credit("usdc", "escrow", scaled(1000, 6))
	if _, _, err := f.vault.Payin("mgr", uuid.New(), "usdc", scaled(1000, 6), 1, testTime); err != nil {
		t.Fatalf("Payin: %v", err)
	}
	// Move 8 of the 10 wager fee units into referral: the cap is 50% of
	// the remaining wager reserve, so 8 > 1 trips the anomaly path.
	if err := f.vault.SetAsideReferral("mgr", "usdc", scaled(8, 6)); err != nil {
		t.Fatalf("SetAsideReferral: %v", err)
	}

	res, steps, err := f.vault.WithdrawAllFees("collector", uuid.New(), "usdc", "treasury", testTime)
	if err != nil {
		t.Fatalf("WithdrawAllFees: %v", err)
	}

	if !res.CapBreached {
		t.Fatal("cap breach expected")
	}
	mustEqual(t, "referral payout", res.ReferralFees, new(big.Int))
	mustEqual(t, "treasury", f.bank.Balance("usdc", "treasury"), scaled(2, 6))
	// Pool untouched: the zeroed referral never leaves it.
	mustEqual(t, "pool", f.vault.PoolAmount("usdc"), scaled(990, 6))
	if len(steps) != 2 {
		t.Fatalf("steps = %d, want anomaly event plus sweep", len(steps))
	}

	_, _, referral := f.vault.FeeReserves("usdc")
	mustEqual(t, "referral reserve zeroed", referral, new(big.Int))
}

func TestWithdrawAllFeesRequiresCollector(t *testing.T) {
	f := newFixture(t, zeroFees())
	f.whitelist(t, "usdc", 6, nil)

	// No collector configured: nobody may sweep, the collector least of
	// all.
	if _, _, err := f.vault.WithdrawAllFees("collector", uuid.New(), "usdc", "treasury", testTime); !errors.Is(err, vault.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}

	if err := f.vault.SetFeeCollector("gov", "collector"); err != nil {
		t.Fatalf("SetFeeCollector: %v", err)
	}
	if _, _, err := f.vault.WithdrawAllFees("mgr", uuid.New(), "usdc", "treasury", testTime); !errors.Is(err, vault.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized for non-collector, got %v", err)
	}
}

func TestSolvencyViolationIsFatal(t *testing.T) {
	f := newFixture(t, zeroFees())
	f.whitelist(t, "usdc", 6, nil)
	f.deposit(t, "usdc", scaled(1000, 6))

	// Drain custody behind the vault's back. The next pool increase must
	// detect that recorded balances exceed actual holdings.
	if err := f.bank.Transfer("usdc", "vault", "thief", scaled(500, 6)); err != nil {
		t.Fatalf("tamper transfer: %v", err)
	}

	f.bank.Credit("usdc", "escrow", scaled(100, 6))
	_, _, err := f.vault.Payin("mgr", uuid.New(), "usdc", scaled(100, 6), 1, testTime)
	if !errors.Is(err, vault.ErrSolvency) {
		t.Fatalf("want ErrSolvency, got %v", err)
	}
	if !vault.IsFatal(err) {
		t.Fatal("solvency violations must be fatal")
	}
}

func TestBreakerBreachDetection(t *testing.T) {
	f := newFixture(t, zeroFees())
	f.whitelist(t, "usdc", 6, nil)
	f.deposit(t, "usdc", scaled(1000, 6))

	if err := f.vault.SetBreakerThreshold("gov", "usdc", scaled(900, 6)); err != nil {
		t.Fatalf("SetBreakerThreshold: %v", err)
	}

	// Withdrawing 150 drops the pool to 850, under the 900 floor.
	res, err := f.vault.Withdraw("mgr", "lp", "lp", "usdc", scaled(150, 18), nil, uuid.New(), testTime)
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if len(res.Breaches) != 1 {
		t.Fatalf("breaches = %d, want 1", len(res.Breaches))
	}
	mustEqual(t, "breach pool", res.Breaches[0].Pool, scaled(850, 6))
	mustEqual(t, "breach threshold", res.Breaches[0].Threshold, scaled(900, 6))
}

func TestPayoutLossRejectionLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, zeroFees())
	f.whitelist(t, "usdc", 6, nil)
	f.deposit(t, "usdc", scaled(500, 6))
	f.bank.Credit("usdc", "escrow", scaled(100, 6))

	// Loss of 9901 (10000 + 1 fee - 100 escrow) dwarfs the 500 pool.
	_, _, err := f.vault.Payout("mgr", uuid.New(), "usdc", "usdc", scaled(100, 6), scaled(10_000, 6), "winner", 0, testTime)
	if !errors.Is(err, vault.ErrInsufficientPool) {
		t.Fatalf("want ErrInsufficientPool, got %v", err)
	}

	// The rejection must leave every balance where it was: escrow not
	// pulled, no fee credited, pool intact, winner unpaid.
	mustEqual(t, "escrow balance", f.bank.Balance("usdc", "escrow"), scaled(100, 6))
	mustEqual(t, "pool", f.vault.PoolAmount("usdc"), scaled(500, 6))
	_, wagerFees, _ := f.vault.FeeReserves("usdc")
	mustEqual(t, "wager fee reserve", wagerFees, new(big.Int))
	mustEqual(t, "winner balance", f.bank.Balance("usdc", "winner"), new(big.Int))
}

func TestPayoutBreakEvenWithoutWagerFee(t *testing.T) {
	f := newFixture(t, vault.FeeConfig{})
	f.whitelist(t, "usdc", 6, nil)
	f.deposit(t, "usdc", scaled(500, 6))
	f.bank.Credit("usdc", "escrow", scaled(100, 6))

	// Escrow equals the payout and the wager fee is zero: the sheet does
	// not move, but the settlement itself must still go through.
	res, step, err := f.vault.Payout("mgr", uuid.New(), "usdc", "usdc", scaled(100, 6), scaled(100, 6), "winner", 0, testTime)
	if err != nil {
		t.Fatalf("Payout: %v", err)
	}
	mustEqual(t, "paid", res.Paid, scaled(100, 6))
	mustEqual(t, "wager fee", res.WagerFee, new(big.Int))
	if step.Batch != nil {
		t.Fatalf("break-even payout staged %d entries, want no batch", len(step.Batch.Entries))
	}
	mustEqual(t, "pool", f.vault.PoolAmount("usdc"), scaled(500, 6))
	mustEqual(t, "winner balance", f.bank.Balance("usdc", "winner"), scaled(100, 6))
}
