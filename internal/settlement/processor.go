package settlement

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/manager"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/oracle"
	"VaultLedger/internal/vault"
)

// ErrDuplicate is returned for a command whose idempotency key was
// already processed. Callers treat it as success (NATS) or 409 (HTTP).
var ErrDuplicate = errors.New("settlement: duplicate command")

// SettlementPartition orders payout/payin intake. The upstream
// settlement stream stamps a single settle_seq across both.
const SettlementPartition = "settlement"

// Output pairs an envelope with its ledger batch for downstream workers.
type Output struct {
	Envelope *event.EventEnvelope
	Batch    *ledger.Batch
}

type submission struct {
	cmd   Command
	reply chan response
}

type response struct {
	result any
	err    error
}

// Processor is the single writer. All vault and accountant mutations run
// on its goroutine: commands in, sequenced envelopes out. The pipeline
// per command is dedup, source ordering, dispatch, stamp, hash, emit.
type Processor struct {
	sequence int64
	hasher   *StateHasher

	vlt  *vault.Vault
	acct *manager.Manager
	feed *oracle.CachedFeed

	dedup *Deduper
	guard *SequenceGuard

	metrics *observability.Metrics
	logger  zerolog.Logger

	persistChan    chan<- Output
	projectionChan chan<- Output

	// Invoked inside the writer loop; must hand off quickly.
	checkpointHook func(*Checkpoint)
	checkpointEach int64

	submissions chan submission
}

func NewProcessor(
	startSequence int64,
	v *vault.Vault,
	acct *manager.Manager,
	feed *oracle.CachedFeed,
	persistChan, projectionChan chan<- Output,
	store KeyStore,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Processor {
	return &Processor{
		sequence:       startSequence,
		hasher:         NewStateHasher(),
		vlt:            v,
		acct:           acct,
		feed:           feed,
		dedup:          NewDeduper(1_000_000, store, metrics),
		guard:          NewSequenceGuard(metrics),
		metrics:        metrics,
		logger:         logger,
		persistChan:    persistChan,
		projectionChan: projectionChan,
		checkpointEach: 10_000,
		submissions:    make(chan submission, 4096),
	}
}

// SetCheckpointHook installs the snapshot hand-off. The processor calls
// it after governance commands and every checkpointEach events.
func (p *Processor) SetCheckpointHook(hook func(*Checkpoint), every int64) {
	p.checkpointHook = hook
	if every > 0 {
		p.checkpointEach = every
	}
}

// Run drains submissions until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub, ok := <-p.submissions:
			if !ok {
				return nil
			}
			result, err := p.process(sub.cmd)
			if sub.reply != nil {
				sub.reply <- response{result: result, err: err}
			}
		}
	}
}

// Submit routes a command through the writer loop and waits for the result.
func (p *Processor) Submit(ctx context.Context, cmd Command) (any, error) {
	reply := make(chan response, 1)
	select {
	case p.submissions <- submission{cmd: cmd, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Processor) process(cmd Command) (any, error) {
	start := time.Now()
	kind := cmd.Kind()

	switch c := cmd.(type) {
	case *PriceUpdate:
		return nil, p.applyPrice(c)
	case *Inspect:
		return c.Read()
	case *checkpointRequest:
		return p.buildCheckpoint(), nil
	}

	duplicate := false
	if key := cmd.DedupKey(); key != "" {
		duplicate = p.dedup.Seen(kind, key)
	}

	// Settlement stream ordering is strict: a gap halts intake until the
	// upstream redelivers the missing event.
	isSettlement := false
	var settleSeq int64
	switch c := cmd.(type) {
	case *Payout:
		isSettlement, settleSeq = true, c.SettleSeq
	case *Payin:
		isSettlement, settleSeq = true, c.SettleSeq
	}
	if isSettlement {
		if err := p.guard.CheckSettlement(SettlementPartition, settleSeq, duplicate); err != nil {
			p.reject(kind, "sequence")
			return nil, err
		}
	}

	if duplicate {
		p.reject(kind, "duplicate")
		return nil, ErrDuplicate
	}

	result, steps, breaches, governance, err := p.dispatch(cmd)
	if err != nil {
		p.reject(kind, vault.RejectReason(err))
		if vault.IsFatal(err) {
			p.logger.Error().Err(err).Str("command", kind).Msg("FATAL: solvency invariant violated")
			panic(fmt.Sprintf("FATAL: solvency invariant violated: %v", err))
		}
		return nil, err
	}

	// Breaker trips are follow-up steps: the vault only detects the
	// floor crossing, the accountant applies policy.
	for _, breach := range breaches {
		step, terr := p.acct.TripBreaker(breach, cmd.At())
		if terr != nil {
			p.logger.Error().Err(terr).Str("asset", breach.Asset).Msg("breaker trip failed")
			continue
		}
		if step != nil {
			steps = append(steps, *step)
			if p.metrics != nil {
				p.metrics.BreakerActive.Set(1)
			}
		}
	}

	for i := range steps {
		p.emit(&steps[i], cmd)
	}

	// Cursors move only after the dispatch succeeds: a rejected command
	// holds both its dedup key and its settlement sequence for retry.
	if isSettlement {
		p.guard.CommitSettlement(SettlementPartition, settleSeq)
	}
	if key := cmd.DedupKey(); key != "" {
		p.dedup.Commit(kind, key)
	}

	if governance || (p.checkpointEach > 0 && p.sequence > 0 && p.sequence%p.checkpointEach == 0) {
		p.checkpoint()
	}

	if p.metrics != nil {
		p.metrics.EventDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		p.metrics.Sequence.Set(float64(p.sequence))
		p.metrics.DedupLRUSize.Set(float64(p.dedup.Size()))
		p.observeValuation()
	}

	return result, nil
}

// dispatch runs the command against vault/accountant state and collects
// the resulting steps and any breaker breaches.
func (p *Processor) dispatch(cmd Command) (result any, steps []vault.Step, breaches []vault.Breach, governance bool, err error) {
	switch c := cmd.(type) {
	case *AddLiquidity:
		res, addSteps, aerr := p.acct.AddLiquidity(c.Funder, c.Recipient, c.Asset, c.AmountIn, c.MinUsdw, c.MinShares, c.RequestID, c.Timestamp)
		if aerr != nil {
			return nil, nil, nil, false, aerr
		}
		if p.metrics != nil {
			p.metrics.LiquidityEvents.WithLabelValues("add").Inc()
		}
		return res, addSteps, nil, false, nil

	case *RemoveLiquidity:
		res, remSteps, rerr := p.acct.RemoveLiquidity(c.Holder, c.Receiver, c.Asset, c.SharesIn, c.MinOut, c.RequestID, c.Timestamp)
		if rerr != nil {
			return nil, nil, nil, false, rerr
		}
		if p.metrics != nil {
			p.metrics.LiquidityEvents.WithLabelValues("remove").Inc()
		}
		return res, remSteps, res.Breaches, false, nil

	case *Swap:
		res, step, serr := p.vlt.Swap(c.Caller, c.Receiver, c.AssetIn, c.AssetOut, c.AmountIn, c.RequestID, c.Timestamp)
		if serr != nil {
			return nil, nil, nil, false, serr
		}
		if p.metrics != nil {
			p.metrics.SwapsExecuted.WithLabelValues(c.AssetIn, c.AssetOut).Inc()
		}
		return res, []vault.Step{*step}, res.Breaches, false, nil

	case *Payout:
		res, step, perr := p.vlt.Payout(c.Caller, c.PayoutID, c.WagerAsset, c.WinAsset, c.EscrowAmount, c.TotalAmount, c.Recipient, c.SettleSeq, c.Timestamp)
		if perr != nil {
			return nil, nil, nil, false, perr
		}
		if p.metrics != nil {
			outcome := "paid"
			if res.Null {
				outcome = "null"
			}
			p.metrics.PayoutsSettled.WithLabelValues(c.WinAsset, outcome).Inc()
		}
		return res, []vault.Step{*step}, res.Breaches, false, nil

	case *Payin:
		res, step, perr := p.vlt.Payin(c.Caller, c.PayinID, c.Asset, c.EscrowAmount, c.SettleSeq, c.Timestamp)
		if perr != nil {
			return nil, nil, nil, false, perr
		}
		if p.metrics != nil {
			p.metrics.PayinsSettled.WithLabelValues(c.Asset).Inc()
		}
		return res, []vault.Step{*step}, nil, false, nil

	case *DirectDeposit:
		step, derr := p.vlt.DirectPoolDeposit(c.Caller, c.Funder, c.Asset, c.Amount, c.RequestID, c.Timestamp)
		if derr != nil {
			return nil, nil, nil, false, derr
		}
		return nil, []vault.Step{*step}, nil, false, nil

	case *SweepFees:
		res, sweepSteps, serr := p.vlt.WithdrawAllFees(c.Caller, c.RequestID, c.Asset, c.Recipient, c.Timestamp)
		if serr != nil {
			return nil, nil, nil, false, serr
		}
		if res != nil && res.CapBreached && p.metrics != nil {
			p.metrics.ReferralCapTrips.WithLabelValues(c.Asset).Inc()
		}
		return res, sweepSteps, nil, false, nil

	case *SetAssetConfig:
		step, serr := p.vlt.SetAssetConfig(c.Caller, c.RequestID, c.Config, c.Timestamp)
		if serr != nil {
			return nil, nil, nil, false, serr
		}
		return nil, []vault.Step{*step}, nil, true, nil

	case *ClearAssetConfig:
		step, cerr := p.vlt.ClearAssetConfig(c.Caller, c.RequestID, c.Asset, c.Timestamp)
		if cerr != nil {
			return nil, nil, nil, false, cerr
		}
		return nil, []vault.Step{*step}, nil, true, nil

	case *ResetBreaker:
		step, rerr := p.acct.ResetBreaker(c.Caller, c.RequestID, c.Timestamp)
		if rerr != nil {
			return nil, nil, nil, false, rerr
		}
		if p.metrics != nil {
			p.metrics.BreakerActive.Set(0)
		}
		return nil, []vault.Step{*step}, nil, true, nil

	case *Govern:
		if gerr := c.Apply(); gerr != nil {
			return nil, nil, nil, false, gerr
		}
		p.logger.Info().Str("setter", c.Name).Msg("governance setting applied")
		return nil, nil, nil, true, nil

	default:
		return nil, nil, nil, false, fmt.Errorf("unknown command type: %T", cmd)
	}
}

// emit stamps the batch, extends the hash chain, and fans the envelope
// out: blocking to persistence (backpressure), non-blocking to
// projections (they rebuild from the event log when dropped).
func (p *Processor) emit(step *vault.Step, cmd Command) {
	seq := p.sequence
	if step.Batch != nil {
		step.Batch.StampSequence(seq)
	}

	prev := p.hasher.PrevHash()
	hash := p.hasher.ComputeHash(seq, p.stateDigest())

	payload, err := json.Marshal(step.Event)
	if err != nil {
		p.logger.Error().Err(err).Int64("sequence", seq).Msg("event payload marshal failed")
		payload = nil
	}

	envelope := &event.EventEnvelope{
		Sequence:       seq,
		IdempotencyKey: step.Event.IdempotencyKey(),
		EventType:      step.Event.EventType(),
		Asset:          step.Event.AssetID(),
		Timestamp:      cmd.At(),
		SourceSequence: step.Event.SourceSequence(),
		Payload:        payload,
		StateHash:      hash,
		PrevHash:       prev,
	}

	out := Output{Envelope: envelope, Batch: step.Batch}

	select {
	case p.persistChan <- out:
	default:
		if p.metrics != nil {
			p.metrics.PersistBackpressure.Inc()
		}
		p.persistChan <- out
	}

	select {
	case p.projectionChan <- out:
	default:
		if p.metrics != nil {
			p.metrics.ProjectionDrops.WithLabelValues("all").Inc()
		}
	}

	p.sequence++
	if p.metrics != nil {
		p.metrics.EventsApplied.WithLabelValues(step.Event.EventType().String()).Inc()
		if step.Batch != nil {
			for i := range step.Batch.Entries {
				p.metrics.LedgerEntries.WithLabelValues(step.Batch.Entries[i].Field.String()).Inc()
			}
		}
		p.observeSheet(envelope.Asset)
	}
}

// observeSheet refreshes the balance gauges for the asset an event touched.
func (p *Processor) observeSheet(asset *string) {
	if asset == nil {
		return
	}
	a := *asset
	p.metrics.PoolBalance.WithLabelValues(a).Set(bigGauge(p.vlt.PoolAmount(a)))
	p.metrics.DebtBalance.WithLabelValues(a).Set(bigGauge(p.vlt.DebtAmount(a)))
	swapFees, wagerFees, referralFees := p.vlt.FeeReserves(a)
	p.metrics.FeeReserve.WithLabelValues(a, "swap").Set(bigGauge(swapFees))
	p.metrics.FeeReserve.WithLabelValues(a, "wager").Set(bigGauge(wagerFees))
	p.metrics.FeeReserve.WithLabelValues(a, "referral").Set(bigGauge(referralFees))
}

// observeValuation refreshes the AUM and share price gauges. Skipped
// when a price is missing; the next command with quotes catches up.
func (p *Processor) observeValuation() {
	if aum, err := p.acct.ComputeAUM(true); err == nil {
		p.metrics.AUM.Set(bigGauge(aum) / 1e30)
	}
	if price, err := p.acct.SharePrice(true); err == nil {
		p.metrics.SharePriceGauge.Set(bigGauge(price) / 1e30)
	}
}

func bigGauge(x *big.Int) float64 {
	if x == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(x).Float64()
	return f
}

// stateDigest folds vault and accountant state into the chain input.
func (p *Processor) stateDigest() []byte {
	h := sha256.New()
	h.Write(p.vlt.StateDigest())
	h.Write(p.acct.StateDigest())
	return h.Sum(nil)
}

func (p *Processor) applyPrice(c *PriceUpdate) error {
	if !p.guard.CheckPrice(c.Asset, c.Sequence) {
		p.reject("price_update", "stale")
		return nil
	}
	p.feed.Update(c.Asset, c.MinPrice, c.MaxPrice, uint64(c.Sequence))
	return nil
}

func (p *Processor) reject(kind, reason string) {
	if p.metrics != nil {
		p.metrics.EventsRejected.WithLabelValues(kind, reason).Inc()
	}
}

// Sequence returns the next sequence to be assigned.
func (p *Processor) Sequence() int64 {
	return p.sequence
}

// StateHash returns the current chain tip.
func (p *Processor) StateHash() [32]byte {
	return p.hasher.PrevHash()
}

// --- Checkpointing ---

// Checkpoint is a consistent cut of all writer-owned state: processor
// cursors plus vault and accountant snapshots, taken inside the loop.
type Checkpoint struct {
	Sequence   int64
	StateHash  [32]byte
	Partitions map[string]int64
	DedupKeys  []string
	Vault      *vault.Snapshot
	Accountant *manager.Snapshot
}

type checkpointRequest struct {
	Timestamp time.Time
}

func (c *checkpointRequest) Kind() string     { return "checkpoint" }
func (c *checkpointRequest) DedupKey() string { return "" }
func (c *checkpointRequest) At() time.Time    { return c.Timestamp }

// CheckpointNow takes a checkpoint through the writer loop, so it never
// observes a half-applied command.
func (p *Processor) CheckpointNow(ctx context.Context) (*Checkpoint, error) {
	res, err := p.Submit(ctx, &checkpointRequest{})
	if err != nil {
		return nil, err
	}
	cp, ok := res.(*Checkpoint)
	if !ok {
		return nil, fmt.Errorf("unexpected checkpoint result %T", res)
	}
	return cp, nil
}

func (p *Processor) buildCheckpoint() *Checkpoint {
	return &Checkpoint{
		Sequence:   p.sequence - 1,
		StateHash:  p.hasher.PrevHash(),
		Partitions: p.guard.Partitions(),
		DedupKeys:  p.dedup.Keys(),
		Vault:      p.vlt.SnapshotState(),
		Accountant: p.acct.SnapshotState(),
	}
}

func (p *Processor) checkpoint() {
	if p.checkpointHook == nil {
		return
	}
	p.checkpointHook(p.buildCheckpoint())
	if p.metrics != nil {
		p.metrics.SnapshotLastSeq.Set(float64(p.sequence - 1))
	}
}

// Restore loads a checkpoint. Must be called before Run.
func (p *Processor) Restore(cp *Checkpoint) error {
	p.sequence = cp.Sequence + 1
	p.hasher.SetPrevHash(cp.StateHash)
	for partition, seq := range cp.Partitions {
		p.guard.Restore(partition, seq)
	}
	p.dedup.Warm(cp.DedupKeys)

	if cp.Vault != nil {
		if err := p.vlt.RestoreState(cp.Vault); err != nil {
			return fmt.Errorf("restore vault: %w", err)
		}
	}
	if cp.Accountant != nil {
		if err := p.acct.RestoreState(cp.Accountant); err != nil {
			return fmt.Errorf("restore accountant: %w", err)
		}
	}
	return nil
}

// WarmDedup loads recent idempotency keys from the event log so NATS
// redelivery of already-persisted events is skipped after a restart.
func (p *Processor) WarmDedup(keys []string) {
	p.dedup.Warm(keys)
}
