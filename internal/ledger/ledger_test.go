package ledger_test

import (
	"math/big"
	"testing"

	"github.com/google/uuid"

	"VaultLedger/internal/ledger"
)

func TestBuilderSealsValidBatch(t *testing.T) {
	b := ledger.NewBuilder("deposit", "evt-1", 7, 1_700_000_000_000_000)
	b.Add("USDC", ledger.FieldPool, big.NewInt(997_000_000))
	b.Add("USDC", ledger.FieldDebt, big.NewInt(997))
	b.Add("USDC", ledger.FieldSwapFeeReserve, big.NewInt(3_000_000))
	b.Add("USDC", ledger.FieldTotalIn, new(big.Int)) // zero, must be skipped

	batch, err := b.Seal()
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	if len(batch.Entries) != 3 {
		t.Errorf("got %d entries, want 3 (zero delta skipped)", len(batch.Entries))
	}
	if batch.Operation != "deposit" || batch.EventRef != "evt-1" || batch.Sequence != 7 {
		t.Errorf("batch header mismatch: %+v", batch)
	}
	for _, e := range batch.Entries {
		if e.BatchID != batch.BatchID {
			t.Errorf("entry %s carries foreign batch id", e.EntryID)
		}
	}
}

func TestBuilderSubNegates(t *testing.T) {
	b := ledger.NewBuilder("withdraw", "evt-2", 8, 1)
	b.Sub("USDC", ledger.FieldPool, big.NewInt(500))

	batch, err := b.Seal()
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	if batch.Entries[0].Delta.Int64() != -500 {
		t.Errorf("Sub delta = %s, want -500", batch.Entries[0].Delta)
	}
}

func TestBatchValidate(t *testing.T) {
	valid := func() *ledger.Batch {
		b := ledger.NewBuilder("swap", "evt-3", 9, 1)
		b.Add("WETH", ledger.FieldPool, big.NewInt(10))
		batch, err := b.Seal()
		if err != nil {
			t.Fatalf("Seal() error: %v", err)
		}
		return batch
	}

	tests := []struct {
		name    string
		mutate  func(*ledger.Batch)
		wantErr bool
	}{
		{"well-formed", func(b *ledger.Batch) {}, false},
		{"empty", func(b *ledger.Batch) { b.Entries = nil }, true},
		{"no operation", func(b *ledger.Batch) { b.Operation = "" }, true},
		{"foreign batch id", func(b *ledger.Batch) { b.Entries[0].BatchID = uuid.New() }, true},
		{"zero delta", func(b *ledger.Batch) { b.Entries[0].Delta = new(big.Int) }, true},
		{"missing asset", func(b *ledger.Batch) { b.Entries[0].Asset = "" }, true},
		{"unknown field", func(b *ledger.Batch) { b.Entries[0].Field = ledger.Field(99) }, true},
		{"decreasing all-time counter", func(b *ledger.Batch) {
			b.Entries[0].Field = ledger.FieldTotalIn
			b.Entries[0].Delta = big.NewInt(-1)
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch := valid()
			tt.mutate(batch)
			err := batch.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSheetTrackerReplaysBatches(t *testing.T) {
	tracker := ledger.NewSheetTracker()

	deposit := ledger.NewBuilder("deposit", "evt-4", 1, 1)
	deposit.Add("USDC", ledger.FieldPool, big.NewInt(1000))
	deposit.Add("USDC", ledger.FieldDebt, big.NewInt(1000))
	batch, err := deposit.Seal()
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	if err := tracker.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch() error: %v", err)
	}

	withdraw := ledger.NewBuilder("withdraw", "evt-5", 2, 2)
	withdraw.Sub("USDC", ledger.FieldPool, big.NewInt(400))
	withdraw.Sub("USDC", ledger.FieldDebt, big.NewInt(400))
	batch, err = withdraw.Seal()
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	if err := tracker.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch() error: %v", err)
	}

	if got := tracker.Get("USDC", ledger.FieldPool); got.Int64() != 600 {
		t.Errorf("pool = %s, want 600", got)
	}
	if err := tracker.ValidateNonNegative(); err != nil {
		t.Errorf("ValidateNonNegative() error: %v", err)
	}

	drain := ledger.NewBuilder("withdraw", "evt-6", 3, 3)
	drain.Sub("USDC", ledger.FieldPool, big.NewInt(601))
	batch, err = drain.Seal()
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	if err := tracker.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch() error: %v", err)
	}
	if err := tracker.ValidateNonNegative(); err == nil {
		t.Error("ValidateNonNegative() = nil after overdraw, want error")
	}
}
