package persistence

import (
	"context"
	"database/sql"
	"time"
)

// PostgresKeyStore is the cold-path dedup lookup against the event log.
// Implements settlement.KeyStore.
type PostgresKeyStore struct {
	db *sql.DB
}

func NewPostgresKeyStore(db *sql.DB) *PostgresKeyStore {
	return &PostgresKeyStore{db: db}
}

// Seen reports whether the idempotency key exists in the event log.
// Bounded latency: a lookup slower than the timeout counts as unseen
// and the log's unique index backstops the write.
func (ks *PostgresKeyStore) Seen(idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var exists int
	err := ks.db.QueryRowContext(ctx, `
		SELECT 1
		FROM event_log.events
		WHERE idempotency_key = $1
		LIMIT 1
	`, idempotencyKey).Scan(&exists)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
