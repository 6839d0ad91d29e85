package vault

import (
	"errors"
	"fmt"
)

// Error taxonomy. Admission and validation errors reject before any state
// mutation and are caller-correctable. Solvency and price errors abort the
// call and are surfaced distinctly in logs and metrics since they indicate
// tampering, an upstream accounting defect, or a broken feed.
var (
	// Admission
	ErrUnauthorized   = errors.New("vault: caller not authorized")
	ErrPaused         = errors.New("vault: protocol paused")
	ErrSwapsDisabled  = errors.New("vault: swaps disabled")
	ErrPayoutsHalted  = errors.New("vault: payouts halted")

	// Validation
	ErrNotWhitelisted   = errors.New("vault: asset not whitelisted")
	ErrZeroAmount       = errors.New("vault: zero amount")
	ErrSameAsset        = errors.New("vault: swap requires distinct assets")
	ErrSlippage         = errors.New("vault: output below minimum")
	ErrBufferBreached   = errors.New("vault: buffer floor breached")
	ErrMaxUsdwExceeded  = errors.New("vault: asset debt cap exceeded")
	ErrInsufficientPool = errors.New("vault: pool amount insufficient")

	// Fatal for the call: pool exceeds actual custody
	ErrSolvency = errors.New("vault: solvency invariant violated")
)

// IsFatal reports whether err indicates external interference or an
// accounting defect rather than an ordinary rejection.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSolvency)
}

// RejectReason maps an operation error to a stable label for metrics.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrPaused):
		return "paused"
	case errors.Is(err, ErrSwapsDisabled):
		return "swaps_disabled"
	case errors.Is(err, ErrPayoutsHalted):
		return "payouts_halted"
	case errors.Is(err, ErrNotWhitelisted):
		return "not_whitelisted"
	case errors.Is(err, ErrZeroAmount):
		return "zero_amount"
	case errors.Is(err, ErrSameAsset):
		return "same_asset"
	case errors.Is(err, ErrSlippage):
		return "slippage"
	case errors.Is(err, ErrBufferBreached):
		return "buffer_breached"
	case errors.Is(err, ErrMaxUsdwExceeded):
		return "debt_cap"
	case errors.Is(err, ErrInsufficientPool):
		return "insufficient_pool"
	case errors.Is(err, ErrSolvency):
		return "solvency"
	default:
		return "other"
	}
}

func notWhitelisted(asset string) error {
	return fmt.Errorf("%w: %s", ErrNotWhitelisted, asset)
}
