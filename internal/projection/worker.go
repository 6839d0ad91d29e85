package projection

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"VaultLedger/internal/settlement"
)

// Worker updates projection tables from processed events. The
// projection channel is non-blocking with drop on the processor side:
// falling behind never stalls settlement, and missed events are
// recovered by rebuilding from the event log.
type Worker struct {
	db      *sql.DB
	input   <-chan settlement.Output
	logger  zerolog.Logger
	lastSeq int64
}

func NewWorker(db *sql.DB, input <-chan settlement.Output, logger zerolog.Logger) *Worker {
	return &Worker{
		db:     db,
		input:  input,
		logger: logger,
	}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-w.input:
			if !ok {
				return nil
			}

			if err := w.apply(ctx, out); err != nil {
				// Eventually consistent: log and move on, the rebuild
				// path repairs any hole.
				w.logger.Warn().Err(err).
					Int64("sequence", out.Envelope.Sequence).
					Msg("projection update failed")
			}
			w.lastSeq = out.Envelope.Sequence
		}
	}
}

func (w *Worker) apply(ctx context.Context, out settlement.Output) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if out.Batch != nil {
		for _, e := range out.Batch.Entries {
			if err := w.applyEntry(ctx, tx, out.Envelope.Sequence, e.Asset, e.Field.String(), e.Delta.Text(10)); err != nil {
				return fmt.Errorf("sheet projection: %w", err)
			}
		}
	}

	if err := w.recordEvent(ctx, tx, out); err != nil {
		return fmt.Errorf("history projection: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, out.Envelope.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// applyEntry folds one signed delta into the per-asset sheet projection.
// Deltas travel as decimal text; Postgres NUMERIC does the arithmetic.
func (w *Worker) applyEntry(ctx context.Context, tx *sql.Tx, seq int64, asset, field, delta string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.asset_sheets (asset, field, balance, last_sequence)
		VALUES ($1, $2, $3::NUMERIC, $4)
		ON CONFLICT (asset, field)
		DO UPDATE SET balance = projections.asset_sheets.balance + $3::NUMERIC, last_sequence = $4
	`, asset, field, delta, seq)
	return err
}

// recordEvent appends the envelope to the settlement history projection.
func (w *Worker) recordEvent(ctx context.Context, tx *sql.Tx, out settlement.Output) error {
	env := out.Envelope
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.event_history (sequence, event_type, asset, payload, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sequence) DO NOTHING
	`, env.Sequence, env.EventType.String(), env.Asset, env.Payload, env.Timestamp)
	return err
}

// Rebuild reconstructs all projection tables from the event log.
func Rebuild(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	truncateStatements := []string{
		`TRUNCATE projections.asset_sheets`,
		`TRUNCATE projections.event_history`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.asset_sheets (asset, field, balance, last_sequence)
		SELECT asset, field, SUM(delta::NUMERIC), MAX(sequence)
		FROM event_log.entries
		GROUP BY asset, field
	`); err != nil {
		return fmt.Errorf("rebuild asset sheets: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.event_history (sequence, event_type, asset, payload, timestamp)
		SELECT sequence, event_type, asset, payload, timestamp
		FROM event_log.events
		ON CONFLICT (sequence) DO NOTHING
	`); err != nil {
		return fmt.Errorf("rebuild event history: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		SELECT 'main', COALESCE(MAX(sequence), -1), NOW() FROM event_log.events
		ON CONFLICT (worker_id) DO UPDATE
			SET last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
	`); err != nil {
		return fmt.Errorf("rebuild watermark: %w", err)
	}

	logger.Info().Msg("projection rebuild complete")
	return nil
}
