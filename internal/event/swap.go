package event

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// SwapExecuted records a completed asset-for-asset swap.
// Idempotency key: request_id (UUID assigned at the API boundary).
type SwapExecuted struct {
	RequestID uuid.UUID `json:"request_id"`
	Caller    string    `json:"caller"`
	Receiver  string    `json:"receiver"`
	AssetIn   string    `json:"asset_in"`
	AssetOut  string    `json:"asset_out"`
	AmountIn  *big.Int  `json:"amount_in"`  // asset_in decimals
	AmountOut *big.Int  `json:"amount_out"` // asset_out decimals, net of fee
	FeeBps    int64     `json:"fee_bps"`
	FeeAmount *big.Int  `json:"fee_amount"` // asset_out decimals
	Timestamp time.Time `json:"timestamp"`
}

func (e *SwapExecuted) IdempotencyKey() string { return e.RequestID.String() }
func (e *SwapExecuted) EventType() EventType   { return EventTypeSwapExecuted }
func (e *SwapExecuted) AssetID() *string       { a := e.AssetOut; return &a }
func (e *SwapExecuted) SourceSequence() int64  { return 0 }
