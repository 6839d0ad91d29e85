package persistence

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"VaultLedger/internal/settlement"
)

// EventLogWriter writes envelopes and balance sheet entries to Postgres
// using multi-row INSERTs inside the caller's transaction. Deltas are
// stored as decimal text so arbitrary-precision amounts survive intact.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow is a row in event_log.events.
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Asset          *string
	Payload        []byte
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

// EntryRow is a row in event_log.entries.
type EntryRow struct {
	EntryID   string
	BatchID   string
	EventRef  string
	Operation string
	Sequence  int64
	Asset     string
	Field     string
	Delta     string // signed decimal text
	Timestamp int64  // epoch microseconds
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// RowsFromOutput flattens a processor output into storable rows.
func RowsFromOutput(out settlement.Output) (EventRow, []EntryRow) {
	env := out.Envelope

	row := EventRow{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Asset:          env.Asset,
		Payload:        env.Payload,
		StateHash:      append([]byte(nil), env.StateHash[:]...),
		PrevHash:       append([]byte(nil), env.PrevHash[:]...),
		Timestamp:      env.Timestamp,
		SourceSequence: env.SourceSequence,
	}

	if out.Batch == nil {
		return row, nil
	}

	entries := make([]EntryRow, 0, len(out.Batch.Entries))
	for _, e := range out.Batch.Entries {
		entries = append(entries, EntryRow{
			EntryID:   e.EntryID.String(),
			BatchID:   e.BatchID.String(),
			EventRef:  e.EventRef,
			Operation: out.Batch.Operation,
			Sequence:  e.Sequence,
			Asset:     e.Asset,
			Field:     e.Field.String(),
			Delta:     e.Delta.Text(10),
			Timestamp: e.Timestamp,
		})
	}
	return row, entries
}

// WriteEventBatch inserts envelope rows. Conflicts on sequence are
// redeliveries of already-persisted events and are dropped.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, asset, payload, state_hash, prev_hash, timestamp, source_sequence)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*9)

	for i, e := range events {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.Asset,
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp, e.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteEntryBatch inserts balance sheet entry rows.
func (w *EventLogWriter) WriteEntryBatch(ctx context.Context, tx *sql.Tx, entries []EntryRow) error {
	if len(entries) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.entries
		(entry_id, batch_id, event_ref, operation, sequence, asset, field, delta, timestamp)
		VALUES `

	values := make([]string, 0, len(entries))
	args := make([]interface{}, 0, len(entries)*9)

	for i, e := range entries {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			e.EntryID, e.BatchID, e.EventRef, e.Operation,
			e.Sequence, e.Asset, e.Field, e.Delta, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (entry_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// VerifyChain checks hash chain continuity over a sequence range.
// Used by operational tooling after snapshots and restarts.
func (w *EventLogWriter) VerifyChain(ctx context.Context, fromSeq, toSeq int64) error {
	rows, err := w.db.QueryContext(ctx, `
		SELECT sequence, state_hash, prev_hash
		FROM event_log.events
		WHERE sequence BETWEEN $1 AND $2
		ORDER BY sequence ASC
	`, fromSeq, toSeq)
	if err != nil {
		return err
	}
	defer rows.Close()

	var prevState []byte
	first := true
	for rows.Next() {
		var seq int64
		var stateHash, prevHash []byte
		if err := rows.Scan(&seq, &stateHash, &prevHash); err != nil {
			return err
		}
		if !first && !strings.EqualFold(hex.EncodeToString(prevHash), hex.EncodeToString(prevState)) {
			return fmt.Errorf("hash chain broken at sequence %d", seq)
		}
		prevState = stateHash
		first = false
	}
	return rows.Err()
}
