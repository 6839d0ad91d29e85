package event

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// LiquidityAdded records a completed deposit-and-mint.
// Idempotency key: request_id (UUID assigned at the API boundary).
type LiquidityAdded struct {
	RequestID    uuid.UUID `json:"request_id"`
	Funder       string    `json:"funder"`
	Recipient    string    `json:"recipient"`
	Asset        string    `json:"asset"`
	AmountIn     *big.Int  `json:"amount_in"`     // asset decimals
	UsdwMinted   *big.Int  `json:"usdw_minted"`   // 18 decimals
	SharesMinted *big.Int  `json:"shares_minted"` // 18 decimals
	FeeBps       int64     `json:"fee_bps"`
	Timestamp    time.Time `json:"timestamp"`
}

func (e *LiquidityAdded) IdempotencyKey() string { return e.RequestID.String() }
func (e *LiquidityAdded) EventType() EventType   { return EventTypeLiquidityAdded }
func (e *LiquidityAdded) AssetID() *string       { a := e.Asset; return &a }
func (e *LiquidityAdded) SourceSequence() int64  { return 0 }

// LiquidityRemoved records a completed burn-and-redeem.
type LiquidityRemoved struct {
	RequestID  uuid.UUID `json:"request_id"`
	Holder     string    `json:"holder"`
	Receiver   string    `json:"receiver"`
	Asset      string    `json:"asset"`
	SharesIn   *big.Int  `json:"shares_in"`   // 18 decimals
	UsdwBurned *big.Int  `json:"usdw_burned"` // 18 decimals
	AmountOut  *big.Int  `json:"amount_out"`  // asset decimals
	FeeBps     int64     `json:"fee_bps"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e *LiquidityRemoved) IdempotencyKey() string { return e.RequestID.String() }
func (e *LiquidityRemoved) EventType() EventType   { return EventTypeLiquidityRemoved }
func (e *LiquidityRemoved) AssetID() *string       { a := e.Asset; return &a }
func (e *LiquidityRemoved) SourceSequence() int64  { return 0 }

// DirectPoolDeposit records an unrewarded pool top-up (no shares, no debt).
type DirectPoolDeposit struct {
	RequestID uuid.UUID `json:"request_id"`
	Funder    string    `json:"funder"`
	Asset     string    `json:"asset"`
	Amount    *big.Int  `json:"amount"` // asset decimals
	Timestamp time.Time `json:"timestamp"`
}

func (e *DirectPoolDeposit) IdempotencyKey() string { return e.RequestID.String() }
func (e *DirectPoolDeposit) EventType() EventType   { return EventTypeDirectPoolDeposit }
func (e *DirectPoolDeposit) AssetID() *string       { a := e.Asset; return &a }
func (e *DirectPoolDeposit) SourceSequence() int64  { return 0 }
