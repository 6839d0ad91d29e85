package event

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// FeesWithdrawn records a fee-collector sweep of one asset's reserves.
type FeesWithdrawn struct {
	RequestID    uuid.UUID `json:"request_id"`
	Asset        string    `json:"asset"`
	Recipient    string    `json:"recipient"`
	SwapFees     *big.Int  `json:"swap_fees"`     // asset decimals
	WagerFees    *big.Int  `json:"wager_fees"`    // asset decimals
	ReferralFees *big.Int  `json:"referral_fees"` // asset decimals, zero when capped
	Timestamp    time.Time `json:"timestamp"`
}

func (e *FeesWithdrawn) IdempotencyKey() string { return e.RequestID.String() }
func (e *FeesWithdrawn) EventType() EventType   { return EventTypeFeesWithdrawn }
func (e *FeesWithdrawn) AssetID() *string       { a := e.Asset; return &a }
func (e *FeesWithdrawn) SourceSequence() int64  { return 0 }

// ReferralCapBreached flags a fee sweep whose referral reserve exceeded the
// configured share of wager fees. The sweep proceeded with the referral
// amount zeroed; this event is the exploit signal for operators.
type ReferralCapBreached struct {
	RequestID    uuid.UUID `json:"request_id"`
	Asset        string    `json:"asset"`
	WagerFees    *big.Int  `json:"wager_fees"`
	ReferralFees *big.Int  `json:"referral_fees"`
	CapBps       int64     `json:"cap_bps"`
	Timestamp    time.Time `json:"timestamp"`
}

func (e *ReferralCapBreached) IdempotencyKey() string { return e.RequestID.String() + ":referral_cap" }
func (e *ReferralCapBreached) EventType() EventType   { return EventTypeReferralCapBreached }
func (e *ReferralCapBreached) AssetID() *string       { a := e.Asset; return &a }
func (e *ReferralCapBreached) SourceSequence() int64  { return 0 }
