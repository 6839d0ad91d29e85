package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"VaultLedger/internal/manager"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/settlement"
	"VaultLedger/internal/vault"
)

// SnapshotStore persists processor checkpoints for warm restarts: the
// vault balance sheet, accountant state, sequence cursors, dedup keys,
// and the hash chain tip, as one JSON document per checkpoint.
type SnapshotStore struct {
	db *sql.DB
}

// SnapshotData is the serialized checkpoint.
type SnapshotData struct {
	Sequence   int64             `json:"sequence"`
	StateHash  []byte            `json:"state_hash"`
	Partitions map[string]int64  `json:"partitions"`
	DedupKeys  []string          `json:"dedup_keys"`
	Vault      *vault.Snapshot   `json:"vault"`
	Accountant *manager.Snapshot `json:"accountant"`
	CreatedAt  time.Time         `json:"created_at"`
}

// FromCheckpoint converts a processor checkpoint for storage.
func FromCheckpoint(cp *settlement.Checkpoint, createdAt time.Time) *SnapshotData {
	return &SnapshotData{
		Sequence:   cp.Sequence,
		StateHash:  append([]byte(nil), cp.StateHash[:]...),
		Partitions: cp.Partitions,
		DedupKeys:  cp.DedupKeys,
		Vault:      cp.Vault,
		Accountant: cp.Accountant,
		CreatedAt:  createdAt,
	}
}

// ToCheckpoint converts back for restore.
func (s *SnapshotData) ToCheckpoint() *settlement.Checkpoint {
	cp := &settlement.Checkpoint{
		Sequence:   s.Sequence,
		Partitions: s.Partitions,
		DedupKeys:  s.DedupKeys,
		Vault:      s.Vault,
		Accountant: s.Accountant,
	}
	copy(cp.StateHash[:], s.StateHash)
	return cp
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Save persists a snapshot and returns its serialized size. Saved
// unverified; the snapshotter marks it verified after the write lands.
func (ss *SnapshotStore) Save(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = ss.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, 1, $5, FALSE, $6)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $5
	`, uuid.New(), snap.Sequence, data, snap.StateHash, len(data), snap.CreatedAt)

	return len(data), err
}

// LoadLatest returns the most recent verified snapshot, or nil on a
// cold start.
func (ss *SnapshotStore) LoadLatest(ctx context.Context) (*SnapshotData, error) {
	row := ss.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified flags a snapshot as safe to restore from.
func (ss *SnapshotStore) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := ss.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom pages events for replay and audits.
func (ss *SnapshotStore) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := ss.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, asset, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Asset,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LoadEntriesFrom pages balance sheet entries for replay.
func (ss *SnapshotStore) LoadEntriesFrom(ctx context.Context, fromSequence int64, limit int) ([]EntryRow, error) {
	rows, err := ss.db.QueryContext(ctx, `
		SELECT entry_id, batch_id, event_ref, operation, sequence, asset, field, delta, timestamp
		FROM event_log.entries
		WHERE sequence >= $1
		ORDER BY sequence ASC, entry_id ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []EntryRow
	for rows.Next() {
		var e EntryRow
		if err := rows.Scan(
			&e.EntryID, &e.BatchID, &e.EventRef, &e.Operation,
			&e.Sequence, &e.Asset, &e.Field, &e.Delta, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LatestSequence returns the highest sequence in the event log, or -1
// when the log is empty.
func (ss *SnapshotStore) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := ss.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

// RecentKeys returns the newest idempotency keys for dedup warming.
func (ss *SnapshotStore) RecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := ss.db.QueryContext(ctx, `
		SELECT idempotency_key FROM event_log.events
		ORDER BY sequence DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Snapshotter receives checkpoints from the processor hook and persists
// them off the writer loop. The channel is small; if a save is still in
// flight the newest checkpoint wins and older pending ones are skipped.
type Snapshotter struct {
	store   *SnapshotStore
	in      chan *settlement.Checkpoint
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewSnapshotter(store *SnapshotStore, metrics *observability.Metrics, logger zerolog.Logger) *Snapshotter {
	return &Snapshotter{
		store:   store,
		in:      make(chan *settlement.Checkpoint, 4),
		metrics: metrics,
		logger:  logger,
	}
}

// Offer hands a checkpoint to the snapshotter without blocking the
// writer loop. Suitable as the processor's checkpoint hook.
func (s *Snapshotter) Offer(cp *settlement.Checkpoint) {
	select {
	case s.in <- cp:
	default:
		s.logger.Warn().Int64("sequence", cp.Sequence).Msg("snapshotter busy, checkpoint skipped")
	}
}

func (s *Snapshotter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cp := <-s.in:
			// Coalesce: drain to the newest pending checkpoint.
			for {
				select {
				case next := <-s.in:
					cp = next
					continue
				default:
				}
				break
			}
			s.save(ctx, cp)
		}
	}
}

func (s *Snapshotter) save(ctx context.Context, cp *settlement.Checkpoint) {
	start := time.Now()
	snap := FromCheckpoint(cp, start.UTC())

	size, err := s.store.Save(ctx, snap)
	if err != nil {
		s.logger.Error().Err(err).Int64("sequence", cp.Sequence).Msg("snapshot save failed")
		return
	}
	if err := s.store.MarkVerified(ctx, cp.Sequence); err != nil {
		s.logger.Error().Err(err).Int64("sequence", cp.Sequence).Msg("snapshot verify failed")
		return
	}

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(size))
		s.metrics.SnapshotLastSeq.Set(float64(cp.Sequence))
	}
	s.logger.Info().Int64("sequence", cp.Sequence).Msg("snapshot saved")
}
