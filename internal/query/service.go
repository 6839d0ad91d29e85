package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"VaultLedger/internal/observability"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// QueryService provides read-only access to the projection tables. All
// responses carry as_of_sequence: the projection watermark at read
// time, so clients can reason about staleness against the event log.
// Live in-memory reads (AUM, share price) go through the processor
// instead; this service never touches writer-owned state.
type QueryService struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewQueryService(db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, metrics: metrics}
}

// GetAssetSheet returns one asset's projected balance sheet.
func (qs *QueryService) GetAssetSheet(ctx context.Context, asset string) (*SheetResponse, error) {
	defer qs.observe("asset_sheet", time.Now())

	asOfSeq, err := qs.watermark(ctx, "asset_sheet")
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT field, balance::TEXT, last_sequence
		FROM projections.asset_sheets
		WHERE asset = $1
	`, asset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &SheetResponse{
		Asset:        asset,
		Fields:       make(map[string]string),
		AsOfSequence: asOfSeq,
	}
	for rows.Next() {
		var field, balance string
		var lastSeq int64
		if err := rows.Scan(&field, &balance, &lastSeq); err != nil {
			return nil, err
		}
		resp.Fields[field] = balance
		if lastSeq > resp.LastSequence {
			resp.LastSequence = lastSeq
		}
	}

	return resp, rows.Err()
}

// ListAssetSheets returns the balance sheets of every asset that has
// ever carried a balance, delisted assets included.
func (qs *QueryService) ListAssetSheets(ctx context.Context) ([]SheetResponse, error) {
	defer qs.observe("asset_sheets", time.Now())

	asOfSeq, err := qs.watermark(ctx, "asset_sheets")
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT asset, field, balance::TEXT, last_sequence
		FROM projections.asset_sheets
		ORDER BY asset, field
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byAsset := make(map[string]*SheetResponse)
	var order []string
	for rows.Next() {
		var asset, field, balance string
		var lastSeq int64
		if err := rows.Scan(&asset, &field, &balance, &lastSeq); err != nil {
			return nil, err
		}
		sheet, ok := byAsset[asset]
		if !ok {
			sheet = &SheetResponse{
				Asset:        asset,
				Fields:       make(map[string]string),
				AsOfSequence: asOfSeq,
			}
			byAsset[asset] = sheet
			order = append(order, asset)
		}
		sheet.Fields[field] = balance
		if lastSeq > sheet.LastSequence {
			sheet.LastSequence = lastSeq
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sheets := make([]SheetResponse, 0, len(order))
	for _, asset := range order {
		sheets = append(sheets, *byAsset[asset])
	}
	return sheets, nil
}

// GetEventHistory returns settled events, newest first, with
// cursor-based pagination on sequence.
func (qs *QueryService) GetEventHistory(
	ctx context.Context,
	eventType *string,
	asset *string,
	limit int,
	beforeSequence *int64,
) ([]EventRecord, error) {
	defer qs.observe("event_history", time.Now())

	asOfSeq, err := qs.watermark(ctx, "event_history")
	if err != nil {
		return nil, err
	}

	queryStr := `
		SELECT sequence, event_type, asset, payload, timestamp
		FROM projections.event_history
		WHERE TRUE
	`
	var args []interface{}
	argIdx := 1

	if eventType != nil {
		queryStr += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, *eventType)
		argIdx++
	}
	if asset != nil {
		queryStr += fmt.Sprintf(" AND asset = $%d", argIdx)
		args = append(args, *asset)
		argIdx++
	}
	if beforeSequence != nil {
		queryStr += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	queryStr += " ORDER BY sequence DESC"
	queryStr += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		var e EventRecord
		e.AsOfSequence = asOfSeq
		if err := rows.Scan(&e.Sequence, &e.EventType, &e.Asset, &e.Payload, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetEntryHistory returns ledger deltas for one asset, newest first.
// Reads the event log directly: entries are the audit trail and must
// not depend on projection freshness.
func (qs *QueryService) GetEntryHistory(
	ctx context.Context,
	asset string,
	field *string,
	limit int,
	beforeSequence *int64,
) ([]EntryRecord, error) {
	defer qs.observe("entry_history", time.Now())

	asOfSeq, err := qs.watermark(ctx, "entry_history")
	if err != nil {
		return nil, err
	}

	queryStr := `
		SELECT entry_id, batch_id, event_ref, operation, sequence, asset, field, delta::TEXT, timestamp
		FROM event_log.entries
		WHERE asset = $1
	`
	args := []interface{}{asset}
	argIdx := 2

	if field != nil {
		queryStr += fmt.Sprintf(" AND field = $%d", argIdx)
		args = append(args, *field)
		argIdx++
	}
	if beforeSequence != nil {
		queryStr += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	queryStr += " ORDER BY sequence DESC"
	queryStr += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []EntryRecord
	for rows.Next() {
		var e EntryRecord
		e.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&e.EntryID, &e.BatchID, &e.EventRef, &e.Operation,
			&e.Sequence, &e.Asset, &e.Field, &e.Delta, &e.TimestampUs,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Watermark returns the projection worker's last applied sequence,
// -1 when the projection has never run.
func (qs *QueryService) Watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	return seq, err
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity and compares the sheet
// projection against a fresh fold of the ledger entries.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	defer qs.observe("verify_integrity", time.Now())

	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The projection must equal the fold of all entries up to its
	// watermark. Compare only fully projected assets to avoid false
	// positives from in-flight events.
	mismatchRows, err := qs.db.QueryContext(ctx, `
		SELECT s.asset, s.field, s.balance::TEXT, COALESCE(f.total, 0)::TEXT
		FROM projections.asset_sheets s
		LEFT JOIN (
			SELECT asset, field, SUM(delta) AS total
			FROM event_log.entries
			WHERE sequence <= (SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main')
			GROUP BY asset, field
		) f ON f.asset = s.asset AND f.field = s.field
		WHERE s.balance != COALESCE(f.total, 0)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer mismatchRows.Close()

	for mismatchRows.Next() {
		var m SheetMismatch
		if err := mismatchRows.Scan(&m.Asset, &m.Field, &m.Projected, &m.Folded); err != nil {
			return nil, err
		}
		report.SheetMismatches = append(report.SheetMismatches, m)
	}
	if err := mismatchRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.SheetMismatches) == 0
	return report, nil
}

// --- helpers ---

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// watermark reads the projection cursor and records freshness lag.
func (qs *QueryService) watermark(ctx context.Context, endpoint string) (int64, error) {
	var seq int64
	var updatedAt time.Time
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence, updated_at FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq, &updatedAt)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("watermark: %w", err)
	}

	if qs.metrics != nil {
		qs.metrics.QueryFreshnessLag.WithLabelValues(endpoint).Observe(time.Since(updatedAt).Seconds())
	}
	return seq, nil
}

func (qs *QueryService) observe(endpoint string, start time.Time) {
	if qs.metrics == nil {
		return
	}
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
