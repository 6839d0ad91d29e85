package settlement

import (
	"errors"
	"fmt"

	"VaultLedger/internal/observability"
)

// Sequence validation failures. Gaps are retryable (the missing event
// may still be in flight); out-of-order delivery of a new event is not.
var (
	ErrSequenceGap = errors.New("sequence gap")
	ErrOutOfOrder  = errors.New("out-of-order event")
)

// SequenceGuard validates source sequences per partition. Settlement
// partitions are strict (any gap halts intake); oracle price partitions
// tolerate gaps because only the newest quote matters.
// Not thread-safe: only accessed from the single-writer processor.
type SequenceGuard struct {
	expectedNext map[string]int64 // partition -> next expected sequence
	metrics      *SequenceMetrics
	prom         *observability.Metrics
}

func NewSequenceGuard(prom *observability.Metrics) *SequenceGuard {
	return &SequenceGuard{
		expectedNext: make(map[string]int64),
		metrics:      NewSequenceMetrics(),
		prom:         prom,
	}
}

// CheckSettlement enforces strict ordering for a settlement partition.
// A stale sequence on a known-duplicate event is fine (redelivery); a
// stale sequence on a new event means out-of-order delivery. The check
// is read-only: the cursor advances via CommitSettlement only after the
// command lands, so a rejected command can be redelivered at the same
// sequence.
func (g *SequenceGuard) CheckSettlement(partition string, sourceSequence int64, duplicate bool) error {
	expected := g.expectedNext[partition]

	if sourceSequence < expected {
		if duplicate {
			return nil
		}
		g.metrics.RecordOutOfOrder(partition)
		if g.prom != nil {
			g.prom.OutOfOrder.WithLabelValues(partition).Inc()
		}
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
			ErrOutOfOrder, partition, expected, sourceSequence)
	}

	if sourceSequence == expected {
		return nil
	}

	g.metrics.RecordGap(partition, expected, sourceSequence)
	if g.prom != nil {
		g.prom.SequenceGaps.WithLabelValues(partition).Inc()
	}
	return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
		ErrSequenceGap, partition, expected, sourceSequence)
}

// CommitSettlement advances the partition cursor past an applied event.
// CheckSettlement admits only the expected sequence, so this moves the
// cursor exactly one step.
func (g *SequenceGuard) CommitSettlement(partition string, sourceSequence int64) {
	if sourceSequence+1 > g.expectedNext[partition] {
		g.expectedNext[partition] = sourceSequence + 1
	}
}

// CheckPrice validates an oracle quote sequence. Returns false when the
// quote is stale and should be dropped. Gaps are recorded but accepted.
func (g *SequenceGuard) CheckPrice(asset string, priceSequence int64) bool {
	partition := fmt.Sprintf("price:%s", asset)

	expected := g.expectedNext[partition]
	if priceSequence <= expected {
		return false
	}

	if priceSequence > expected+1 {
		g.metrics.RecordPriceGap(asset, expected, priceSequence)
		if g.prom != nil {
			g.prom.PriceGaps.WithLabelValues(asset).Inc()
		}
	}

	g.expectedNext[partition] = priceSequence + 1
	return true
}

// Expected returns the next expected sequence for a partition.
func (g *SequenceGuard) Expected(partition string) int64 {
	return g.expectedNext[partition]
}

// Restore initializes a partition's expected sequence (recovery).
func (g *SequenceGuard) Restore(partition string, seq int64) {
	g.expectedNext[partition] = seq
}

// Partitions returns a copy of all partition cursors, for checkpointing.
func (g *SequenceGuard) Partitions() map[string]int64 {
	out := make(map[string]int64, len(g.expectedNext))
	for partition, seq := range g.expectedNext {
		out[partition] = seq
	}
	return out
}

func (g *SequenceGuard) Metrics() *SequenceMetrics { return g.metrics }

// --- Metrics ---

// SequenceMetrics tracks validation stats.
// Not thread-safe: only accessed from the single-writer processor.
type SequenceMetrics struct {
	gaps       map[string]int64 // partition -> gap count
	outOfOrder map[string]int64
	priceGaps  map[string]int64 // asset -> price gap count
}

func NewSequenceMetrics() *SequenceMetrics {
	return &SequenceMetrics{
		gaps:       make(map[string]int64),
		outOfOrder: make(map[string]int64),
		priceGaps:  make(map[string]int64),
	}
}

func (m *SequenceMetrics) RecordGap(partition string, expected, got int64) {
	m.gaps[partition]++
}

func (m *SequenceMetrics) RecordOutOfOrder(partition string) {
	m.outOfOrder[partition]++
}

func (m *SequenceMetrics) RecordPriceGap(asset string, expected, got int64) {
	m.priceGaps[asset]++
}

func (m *SequenceMetrics) Gaps(partition string) int64 {
	return m.gaps[partition]
}

func (m *SequenceMetrics) OutOfOrder(partition string) int64 {
	return m.outOfOrder[partition]
}

func (m *SequenceMetrics) PriceGaps(asset string) int64 {
	return m.priceGaps[asset]
}
