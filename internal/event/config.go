package event

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// AssetConfigUpdated records a governance add-or-update of a whitelisted asset.
type AssetConfigUpdated struct {
	RequestID   uuid.UUID `json:"request_id"`
	Asset       string    `json:"asset"`
	Decimals    int       `json:"decimals"`
	Weight      int64     `json:"weight"`
	IsStable    bool      `json:"is_stable"`
	MaxUsdw     *big.Int  `json:"max_usdw"` // 18 decimals, zero = uncapped
	TotalWeight int64     `json:"total_weight"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e *AssetConfigUpdated) IdempotencyKey() string { return e.RequestID.String() }
func (e *AssetConfigUpdated) EventType() EventType   { return EventTypeAssetConfigUpdated }
func (e *AssetConfigUpdated) AssetID() *string       { a := e.Asset; return &a }
func (e *AssetConfigUpdated) SourceSequence() int64  { return 0 }

// AssetConfigCleared records removal of an asset from the whitelist. Residual
// pool, debt, and fee balances stay in place; only membership and weight go.
type AssetConfigCleared struct {
	RequestID   uuid.UUID `json:"request_id"`
	Asset       string    `json:"asset"`
	TotalWeight int64     `json:"total_weight"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e *AssetConfigCleared) IdempotencyKey() string { return e.RequestID.String() }
func (e *AssetConfigCleared) EventType() EventType   { return EventTypeAssetConfigCleared }
func (e *AssetConfigCleared) AssetID() *string       { a := e.Asset; return &a }
func (e *AssetConfigCleared) SourceSequence() int64  { return 0 }

// CircuitBreakerTripped records an automatic trip on a pool-amount floor
// breach.
type CircuitBreakerTripped struct {
	Asset      string    `json:"asset"`
	PoolAmount *big.Int  `json:"pool_amount"` // asset decimals, post-breach
	Threshold  *big.Int  `json:"threshold"`   // asset decimals
	Timestamp  time.Time `json:"timestamp"`
}

func (e *CircuitBreakerTripped) IdempotencyKey() string {
	return "breaker:" + e.Asset + ":" + e.Timestamp.UTC().Format(time.RFC3339Nano)
}
func (e *CircuitBreakerTripped) EventType() EventType  { return EventTypeCircuitBreakerTripped }
func (e *CircuitBreakerTripped) AssetID() *string      { a := e.Asset; return &a }
func (e *CircuitBreakerTripped) SourceSequence() int64 { return 0 }

// CircuitBreakerReset records a governance reset of breaker policy.
type CircuitBreakerReset struct {
	RequestID uuid.UUID `json:"request_id"`
	Caller    string    `json:"caller"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *CircuitBreakerReset) IdempotencyKey() string { return e.RequestID.String() }
func (e *CircuitBreakerReset) EventType() EventType   { return EventTypeCircuitBreakerReset }
func (e *CircuitBreakerReset) AssetID() *string       { return nil }
func (e *CircuitBreakerReset) SourceSequence() int64  { return 0 }
