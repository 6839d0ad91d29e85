package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeLiquidityAdded
	EventTypeLiquidityRemoved
	EventTypeSwapExecuted
	EventTypePayoutSettled
	EventTypePayinSettled
	EventTypeDirectPoolDeposit
	EventTypeFeesWithdrawn
	EventTypeReferralCapBreached
	EventTypeCircuitBreakerTripped
	EventTypeCircuitBreakerReset
	EventTypeAssetConfigUpdated
	EventTypeAssetConfigCleared
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by the processor
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Primary asset context (nullable for pool-wide events)
	Asset *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// AssetID returns the primary asset context (nil for pool-wide events)
	AssetID() *string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypeLiquidityAdded:
		return "LiquidityAdded"
	case EventTypeLiquidityRemoved:
		return "LiquidityRemoved"
	case EventTypeSwapExecuted:
		return "SwapExecuted"
	case EventTypePayoutSettled:
		return "PayoutSettled"
	case EventTypePayinSettled:
		return "PayinSettled"
	case EventTypeDirectPoolDeposit:
		return "DirectPoolDeposit"
	case EventTypeFeesWithdrawn:
		return "FeesWithdrawn"
	case EventTypeReferralCapBreached:
		return "ReferralCapBreached"
	case EventTypeCircuitBreakerTripped:
		return "CircuitBreakerTripped"
	case EventTypeCircuitBreakerReset:
		return "CircuitBreakerReset"
	case EventTypeAssetConfigUpdated:
		return "AssetConfigUpdated"
	case EventTypeAssetConfigCleared:
		return "AssetConfigCleared"
	default:
		return "Unknown"
	}
}
