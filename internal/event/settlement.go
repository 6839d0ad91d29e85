package event

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// PayoutSettled records a wager payout against the pool.
// Idempotency key: payout_id (UUID from the settlement engine).
// A null payout (Null=true) paid the recipient nothing because fees consumed
// the entire converted winnings; the escrow stays with the pool.
type PayoutSettled struct {
	PayoutID     uuid.UUID `json:"payout_id"`
	WagerAsset   string    `json:"wager_asset"`
	WinAsset     string    `json:"win_asset"`
	Recipient    string    `json:"recipient"`
	EscrowAmount *big.Int  `json:"escrow_amount"` // wager asset decimals
	TotalAmount  *big.Int  `json:"total_amount"`  // wager asset decimals
	WagerFee     *big.Int  `json:"wager_fee"`     // wager asset decimals
	PaidAmount   *big.Int  `json:"paid_amount"`   // win asset decimals
	Null         bool      `json:"null"`
	SettleSeq    int64     `json:"settle_seq"` // source sequence from the settlement engine
	Timestamp    time.Time `json:"timestamp"`
}

func (e *PayoutSettled) IdempotencyKey() string { return e.PayoutID.String() }
func (e *PayoutSettled) EventType() EventType   { return EventTypePayoutSettled }
func (e *PayoutSettled) AssetID() *string       { a := e.WagerAsset; return &a }
func (e *PayoutSettled) SourceSequence() int64  { return e.SettleSeq }

// PayinSettled records a lost wager flowing into the pool.
// Idempotency key: payin_id (UUID from the settlement engine).
type PayinSettled struct {
	PayinID      uuid.UUID `json:"payin_id"`
	Asset        string    `json:"asset"`
	EscrowAmount *big.Int  `json:"escrow_amount"` // asset decimals
	WagerFee     *big.Int  `json:"wager_fee"`     // asset decimals
	SettleSeq    int64     `json:"settle_seq"`
	Timestamp    time.Time `json:"timestamp"`
}

func (e *PayinSettled) IdempotencyKey() string { return e.PayinID.String() }
func (e *PayinSettled) EventType() EventType   { return EventTypePayinSettled }
func (e *PayinSettled) AssetID() *string       { a := e.Asset; return &a }
func (e *PayinSettled) SourceSequence() int64  { return e.SettleSeq }
