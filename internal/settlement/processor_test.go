package settlement_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"VaultLedger/internal/access"
	vmath "VaultLedger/internal/math"
	"VaultLedger/internal/oracle"
	"VaultLedger/internal/settlement"
	"VaultLedger/internal/token"
	"VaultLedger/internal/vault"

	mgr "VaultLedger/internal/manager"
)

var testTime = time.Unix(1_700_000_000, 0).UTC()

type harness struct {
	proc       *settlement.Processor
	vault      *vault.Vault
	bank       *token.MemoryBank
	feed       *oracle.CachedFeed
	persist    chan settlement.Output
	projection chan settlement.Output
	ctx        context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	gate := access.NewStaticGate()
	gate.GrantGovernance("gov")
	gate.GrantManager("accountant")
	gate.GrantManager("settlement")
	gate.GrantEmergency("accountant")

	logger := zerolog.Nop()
	feed := oracle.NewCachedFeed(logger)
	usdw := token.NewSupplyLedger("USDW")
	wlp := token.NewSupplyLedger("WLP")
	bank := token.NewMemoryBank()

	v, err := vault.New(vault.Config{
		Account:       "vault",
		EscrowAccount: "escrow",
		Fees: vault.FeeConfig{
			TaxBps:           50,
			StableTaxBps:     20,
			MintBurnFeeBps:   30,
			SwapFeeBps:       30,
			StableSwapFeeBps: 4,
			WagerFeeBps:      100,
			ReferralCapBps:   5000,
		},
	}, usdw, bank, feed, gate, logger)
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}

	acct := mgr.New(mgr.Config{
		Identity:    "accountant",
		LockAccount: "lock",
	}, v, wlp, usdw, feed, gate, logger)

	persist := make(chan settlement.Output, 256)
	projection := make(chan settlement.Output, 256)

	proc := settlement.NewProcessor(0, v, acct, feed, persist, projection, nil, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go proc.Run(ctx)

	return &harness{
		proc:       proc,
		vault:      v,
		bank:       bank,
		feed:       feed,
		persist:    persist,
		projection: projection,
		ctx:        ctx,
	}
}

// whitelistUSDC configures a 6-decimal asset at $1 and drains the
// setup envelopes.
func (h *harness) whitelistUSDC(t *testing.T) {
	t.Helper()

	if _, err := h.proc.Submit(h.ctx, &settlement.SetAssetConfig{
		Caller: "gov",
		Config: vault.AssetConfig{
			Asset:    "usdc",
			Decimals: 6,
			Weight:   10_000,
			IsStable: true,
		},
		RequestID: uuid.New(),
		Timestamp: testTime,
	}); err != nil {
		t.Fatalf("SetAssetConfig: %v", err)
	}

	dollar := new(big.Int).Set(vmath.PricePrecision)
	if _, err := h.proc.Submit(h.ctx, &settlement.PriceUpdate{
		Asset:     "usdc",
		MinPrice:  dollar,
		MaxPrice:  dollar,
		Sequence:  1,
		Timestamp: testTime,
	}); err != nil {
		t.Fatalf("PriceUpdate: %v", err)
	}

	h.drain()
}

func (h *harness) drain() []settlement.Output {
	var outs []settlement.Output
	for {
		select {
		case out := <-h.persist:
			outs = append(outs, out)
		default:
			return outs
		}
	}
}

func (h *harness) payout(id uuid.UUID, escrow, total int64, settleSeq int64) (*vault.PayoutResult, error) {
	res, err := h.proc.Submit(h.ctx, &settlement.Payout{
		Caller:       "settlement",
		PayoutID:     id,
		WagerAsset:   "usdc",
		WinAsset:     "usdc",
		EscrowAmount: big.NewInt(escrow),
		TotalAmount:  big.NewInt(total),
		Recipient:    "winner",
		SettleSeq:    settleSeq,
		Timestamp:    testTime,
	})
	if err != nil {
		return nil, err
	}
	return res.(*vault.PayoutResult), nil
}

func TestPayoutDeduplication(t *testing.T) {
	h := newHarness(t)
	h.whitelistUSDC(t)
	h.bank.Credit("usdc", "escrow", big.NewInt(1_000_000_000))

	id := uuid.New()
	res, err := h.payout(id, 100_000_000, 50_000_000, 0)
	if err != nil {
		t.Fatalf("first payout: %v", err)
	}
	if res.Paid.Cmp(big.NewInt(50_000_000)) != 0 {
		t.Fatalf("paid = %s, want 50000000", res.Paid)
	}
	wonBefore := new(big.Int).Set(h.bank.Balance("usdc", "winner"))
	poolBefore := h.vault.PoolAmount("usdc")

	// Redelivery: same payout ID and settle sequence.
	if _, err := h.payout(id, 100_000_000, 50_000_000, 0); !errors.Is(err, settlement.ErrDuplicate) {
		t.Fatalf("redelivery err = %v, want ErrDuplicate", err)
	}

	if got := h.bank.Balance("usdc", "winner"); got.Cmp(wonBefore) != 0 {
		t.Fatalf("recipient balance changed on duplicate: %s -> %s", wonBefore, got)
	}
	if got := h.vault.PoolAmount("usdc"); got.Cmp(poolBefore) != 0 {
		t.Fatalf("pool changed on duplicate: %s -> %s", poolBefore, got)
	}
}

func TestSettlementSequenceStrict(t *testing.T) {
	h := newHarness(t)
	h.whitelistUSDC(t)
	h.bank.Credit("usdc", "escrow", big.NewInt(1_000_000_000))

	if _, err := h.payout(uuid.New(), 100_000_000, 50_000_000, 0); err != nil {
		t.Fatalf("seq 0: %v", err)
	}

	// Gap: seq 2 before seq 1 must be rejected and leave the cursor alone.
	if _, err := h.payout(uuid.New(), 100_000_000, 50_000_000, 2); err == nil {
		t.Fatal("seq 2 accepted despite gap")
	}

	if _, err := h.payout(uuid.New(), 100_000_000, 50_000_000, 1); err != nil {
		t.Fatalf("seq 1 after gap rejection: %v", err)
	}
}

func TestHaltedPayoutRetriesAtSameSequence(t *testing.T) {
	h := newHarness(t)
	h.whitelistUSDC(t)
	h.bank.Credit("usdc", "escrow", big.NewInt(1_000_000_000))

	if err := h.vault.SetPayoutsEnabled("accountant", false); err != nil {
		t.Fatalf("SetPayoutsEnabled: %v", err)
	}

	id := uuid.New()
	if _, err := h.payout(id, 100_000_000, 50_000_000, 0); !errors.Is(err, vault.ErrPayoutsHalted) {
		t.Fatalf("halted payout err = %v, want ErrPayoutsHalted", err)
	}

	if err := h.vault.SetPayoutsEnabled("accountant", true); err != nil {
		t.Fatalf("SetPayoutsEnabled: %v", err)
	}

	// A rejection must not move the settlement cursor or the dedup key:
	// redelivery of the very same command settles once the halt lifts.
	res, err := h.payout(id, 100_000_000, 50_000_000, 0)
	if err != nil {
		t.Fatalf("redelivered payout: %v", err)
	}
	if res.Paid.Cmp(big.NewInt(50_000_000)) != 0 {
		t.Fatalf("paid = %s, want 50000000", res.Paid)
	}
}

func TestStalePriceDropped(t *testing.T) {
	h := newHarness(t)

	five := new(big.Int).Mul(big.NewInt(5), vmath.PricePrecision)
	three := new(big.Int).Mul(big.NewInt(3), vmath.PricePrecision)

	if _, err := h.proc.Submit(h.ctx, &settlement.PriceUpdate{
		Asset: "weth", MinPrice: five, MaxPrice: five, Sequence: 5, Timestamp: testTime,
	}); err != nil {
		t.Fatalf("seq 5: %v", err)
	}

	// Stale quote: lower sequence, silently dropped.
	if _, err := h.proc.Submit(h.ctx, &settlement.PriceUpdate{
		Asset: "weth", MinPrice: three, MaxPrice: three, Sequence: 3, Timestamp: testTime,
	}); err != nil {
		t.Fatalf("seq 3: %v", err)
	}

	got, err := h.feed.MinPrice("weth")
	if err != nil {
		t.Fatalf("MinPrice: %v", err)
	}
	if got.Cmp(five) != 0 {
		t.Fatalf("price = %s, want %s (stale quote applied)", got, five)
	}
}

func TestEnvelopeHashChain(t *testing.T) {
	h := newHarness(t)
	h.whitelistUSDC(t)
	h.bank.Credit("usdc", "escrow", big.NewInt(1_000_000_000))

	for seq := int64(0); seq < 3; seq++ {
		if _, err := h.payout(uuid.New(), 100_000_000, 50_000_000, seq); err != nil {
			t.Fatalf("payout seq %d: %v", seq, err)
		}
	}

	outs := h.drain()
	if len(outs) != 3 {
		t.Fatalf("got %d outputs, want 3", len(outs))
	}

	for i, out := range outs {
		if out.Envelope == nil {
			t.Fatalf("output %d missing envelope", i)
		}
		if out.Batch == nil {
			t.Fatalf("output %d missing batch", i)
		}
		if out.Batch.Sequence != out.Envelope.Sequence {
			t.Fatalf("output %d: batch seq %d != envelope seq %d",
				i, out.Batch.Sequence, out.Envelope.Sequence)
		}
		if len(out.Envelope.Payload) == 0 {
			t.Fatalf("output %d has empty payload", i)
		}
		if i == 0 {
			continue
		}
		if out.Envelope.Sequence != outs[i-1].Envelope.Sequence+1 {
			t.Fatalf("sequence not contiguous: %d then %d",
				outs[i-1].Envelope.Sequence, out.Envelope.Sequence)
		}
		if out.Envelope.PrevHash != outs[i-1].Envelope.StateHash {
			t.Fatalf("output %d prev hash does not link to predecessor", i)
		}
	}
}

func TestGovernSetterRunsOnWriterLoop(t *testing.T) {
	h := newHarness(t)
	h.whitelistUSDC(t)

	applied := false
	if _, err := h.proc.Submit(h.ctx, &settlement.Govern{
		Name: "set_buffer",
		Apply: func() error {
			applied = true
			return h.vault.SetBufferAmount("gov", "usdc", big.NewInt(1_000_000))
		},
		Timestamp: testTime,
	}); err != nil {
		t.Fatalf("Govern: %v", err)
	}
	if !applied {
		t.Fatal("setter closure never ran")
	}
	if got := h.vault.BufferAmount("usdc"); got.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("buffer = %s, want 1000000", got)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.whitelistUSDC(t)
	h.bank.Credit("usdc", "escrow", big.NewInt(1_000_000_000))

	if _, err := h.payout(uuid.New(), 100_000_000, 50_000_000, 0); err != nil {
		t.Fatalf("payout: %v", err)
	}

	cp, err := h.proc.CheckpointNow(h.ctx)
	if err != nil {
		t.Fatalf("CheckpointNow: %v", err)
	}
	if cp.Vault == nil || cp.Accountant == nil {
		t.Fatal("checkpoint missing component snapshots")
	}
	if cp.Partitions[settlement.SettlementPartition] != 1 {
		t.Fatalf("settlement cursor = %d, want 1", cp.Partitions[settlement.SettlementPartition])
	}
	if cp.StateHash != h.proc.StateHash() {
		t.Fatal("checkpoint hash does not match chain tip")
	}
}
