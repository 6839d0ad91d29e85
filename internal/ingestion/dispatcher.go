package ingestion

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"VaultLedger/internal/observability"
	"VaultLedger/internal/settlement"
)

// Dispatcher drains the raw message channel, parses each message into a
// settlement command, and submits it to the single-writer processor.
//
// ACK policy: ACK on success and on duplicates (redelivery of an
// already-settled event is the normal at-least-once case). NAK on
// sequence gaps so the broker redelivers once the missing event
// arrives. TERM on poison messages that can never succeed.
type Dispatcher struct {
	proc    *settlement.Processor
	raw     <-chan RawMessage
	caller  string
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewDispatcher(proc *settlement.Processor, raw <-chan RawMessage, caller string, metrics *observability.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		proc:    proc,
		raw:     raw,
		caller:  caller,
		metrics: metrics,
		logger:  logger,
	}
}

func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-d.raw:
			if !ok {
				return nil
			}
			d.handle(ctx, raw)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, raw RawMessage) {
	cmd, err := ParseRawMessage(raw, d.caller)
	if err != nil {
		d.logger.Error().Err(err).
			Str("subject", raw.Subject).
			Str("kind", raw.Kind).
			Msg("unparseable message, terminating delivery")
		raw.TermFunc()
		return
	}

	_, err = d.proc.Submit(ctx, cmd)
	switch {
	case err == nil:
		raw.AckFunc()
		if d.metrics != nil {
			d.metrics.IngestToApply.WithLabelValues(raw.Kind).Observe(time.Since(raw.Received).Seconds())
		}

	case errors.Is(err, settlement.ErrDuplicate):
		raw.AckFunc()
		d.logger.Debug().
			Str("kind", raw.Kind).
			Str("key", cmd.DedupKey()).
			Msg("duplicate delivery acked")

	case errors.Is(err, settlement.ErrSequenceGap):
		// The missing event is likely still in flight. Redeliver.
		raw.NakFunc()
		d.logger.Warn().Err(err).
			Str("kind", raw.Kind).
			Uint64("delivered", raw.Delivered).
			Msg("sequence gap, nak for redelivery")

	case errors.Is(err, settlement.ErrOutOfOrder):
		// A new event below the settlement cursor can never apply.
		raw.TermFunc()
		d.logger.Error().Err(err).
			Str("kind", raw.Kind).
			Str("key", cmd.DedupKey()).
			Msg("out-of-order event, terminating delivery")

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		raw.NakFunc()

	default:
		// Validation rejections (unlisted asset, breaker pause, buffer
		// shortfall) may clear after governance action. Bounded retries
		// via max_deliver.
		raw.NakFunc()
		d.logger.Warn().Err(err).
			Str("kind", raw.Kind).
			Str("key", cmd.DedupKey()).
			Uint64("delivered", raw.Delivered).
			Msg("command rejected, nak for redelivery")
	}
}
