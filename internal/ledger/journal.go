package ledger

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// Entry is a single signed delta against one field of one asset's balance
// sheet. Deltas carry the asset's own fixed-point scale (or the debt token's
// for FieldDebt).
type Entry struct {
	EntryID   uuid.UUID
	BatchID   uuid.UUID
	EventRef  string // idempotency key of the source operation
	Sequence  int64  // global event sequence
	Asset     string
	Field     Field
	Delta     *big.Int // signed, never zero
	Timestamp int64    // epoch microseconds
}

// Batch groups the entries of one committed operation. Unlike a double-entry
// journal the sheet is single-sided: atomicity comes from the batch boundary,
// balance from the vault's own pre/post invariants.
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Operation string // deposit, withdraw, swap, payout, payin, fees_withdrawn, ...
	Sequence  int64
	Timestamp int64
	Entries   []Entry
}

// Validate ensures the batch is well-formed: non-empty, consistent batch ids,
// known fields, and no zero deltas (a zero delta means the caller recorded a
// non-event).
func (b *Batch) Validate() error {
	if len(b.Entries) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}
	if b.Operation == "" {
		return fmt.Errorf("batch %s has no operation", b.BatchID)
	}

	for _, e := range b.Entries {
		if e.BatchID != b.BatchID {
			return fmt.Errorf("entry %s has mismatched batch_id", e.EntryID)
		}
		if e.Asset == "" {
			return fmt.Errorf("entry %s has no asset", e.EntryID)
		}
		if _, ok := fieldNames[e.Field]; !ok {
			return fmt.Errorf("entry %s has unknown field %d", e.EntryID, e.Field)
		}
		if e.Delta == nil || e.Delta.Sign() == 0 {
			return fmt.Errorf("entry %s has zero delta", e.EntryID)
		}
		if (e.Field == FieldTotalIn || e.Field == FieldTotalOut) && e.Delta.Sign() < 0 {
			return fmt.Errorf("entry %s decreases all-time counter %s", e.EntryID, e.Field)
		}
	}

	return nil
}

// StampSequence assigns the global sequence after commit ordering is known.
func (b *Batch) StampSequence(sequence int64) {
	b.Sequence = sequence
	for i := range b.Entries {
		b.Entries[i].Sequence = sequence
	}
}

// Builder accumulates entries for one operation. The vault stages deltas as
// it mutates state and seals the batch at commit time.
type Builder struct {
	batch *Batch
}

func NewBuilder(operation, eventRef string, sequence, timestamp int64) *Builder {
	return &Builder{
		batch: &Batch{
			BatchID:   uuid.New(),
			EventRef:  eventRef,
			Operation: operation,
			Sequence:  sequence,
			Timestamp: timestamp,
		},
	}
}

// Add stages a delta. Zero deltas are skipped so callers can record
// unconditionally.
func (b *Builder) Add(asset string, field Field, delta *big.Int) {
	if delta == nil || delta.Sign() == 0 {
		return
	}
	b.batch.Entries = append(b.batch.Entries, Entry{
		EntryID:   uuid.New(),
		BatchID:   b.batch.BatchID,
		EventRef:  b.batch.EventRef,
		Sequence:  b.batch.Sequence,
		Asset:     asset,
		Field:     field,
		Delta:     new(big.Int).Set(delta),
		Timestamp: b.batch.Timestamp,
	})
}

// Sub stages a negative delta for a non-negative amount.
func (b *Builder) Sub(asset string, field Field, amount *big.Int) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	b.Add(asset, field, new(big.Int).Neg(amount))
}

// Empty reports whether no deltas were staged. A break-even settlement
// moves custody without touching the sheet, and such an operation has
// no batch to seal.
func (b *Builder) Empty() bool {
	return len(b.batch.Entries) == 0
}

// Seal validates and returns the batch.
func (b *Builder) Seal() (*Batch, error) {
	if err := b.batch.Validate(); err != nil {
		return nil, err
	}
	return b.batch, nil
}
