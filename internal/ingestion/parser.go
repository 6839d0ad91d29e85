package ingestion

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"VaultLedger/internal/settlement"
)

// ParseRawMessage converts a RawMessage into a typed settlement command.
// caller is the service identity stamped on settlement commands; the
// vault checks it against the manager role.
//
// Amounts travel as decimal strings. Token amounts exceed int64 at
// 18-decimal scale and prices are 30-decimal, so the wire format never
// uses JSON numbers for them.
func ParseRawMessage(raw RawMessage, caller string) (settlement.Command, error) {
	switch raw.Kind {
	case "payout":
		return parsePayout(raw.Data, caller)
	case "payin":
		return parsePayin(raw.Data, caller)
	case "price_update":
		return parsePriceUpdate(raw.Data)
	default:
		return nil, fmt.Errorf("unknown command kind: %s", raw.Kind)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

type payoutJSON struct {
	PayoutID     string `json:"payout_id"`
	WagerAsset   string `json:"wager_asset"`
	WinAsset     string `json:"win_asset"`
	EscrowAmount string `json:"escrow_amount"`
	TotalAmount  string `json:"total_amount"`
	Recipient    string `json:"recipient"`
	SettleSeq    int64  `json:"settle_seq"`
	TimestampUs  int64  `json:"timestamp_us"`
}

func parsePayout(data []byte, caller string) (*settlement.Payout, error) {
	var j payoutJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse payout: %w", err)
	}

	payoutID, err := uuid.Parse(j.PayoutID)
	if err != nil {
		return nil, fmt.Errorf("parse payout_id: %w", err)
	}
	escrow, err := parseAmount(j.EscrowAmount, "escrow_amount")
	if err != nil {
		return nil, err
	}
	total, err := parseAmount(j.TotalAmount, "total_amount")
	if err != nil {
		return nil, err
	}
	if j.Recipient == "" {
		return nil, fmt.Errorf("payout %s: empty recipient", payoutID)
	}

	return &settlement.Payout{
		Caller:       caller,
		PayoutID:     payoutID,
		WagerAsset:   j.WagerAsset,
		WinAsset:     j.WinAsset,
		EscrowAmount: escrow,
		TotalAmount:  total,
		Recipient:    j.Recipient,
		SettleSeq:    j.SettleSeq,
		Timestamp:    time.UnixMicro(j.TimestampUs),
	}, nil
}

type payinJSON struct {
	PayinID      string `json:"payin_id"`
	Asset        string `json:"asset"`
	EscrowAmount string `json:"escrow_amount"`
	SettleSeq    int64  `json:"settle_seq"`
	TimestampUs  int64  `json:"timestamp_us"`
}

func parsePayin(data []byte, caller string) (*settlement.Payin, error) {
	var j payinJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse payin: %w", err)
	}

	payinID, err := uuid.Parse(j.PayinID)
	if err != nil {
		return nil, fmt.Errorf("parse payin_id: %w", err)
	}
	escrow, err := parseAmount(j.EscrowAmount, "escrow_amount")
	if err != nil {
		return nil, err
	}

	return &settlement.Payin{
		Caller:       caller,
		PayinID:      payinID,
		Asset:        j.Asset,
		EscrowAmount: escrow,
		SettleSeq:    j.SettleSeq,
		Timestamp:    time.UnixMicro(j.TimestampUs),
	}, nil
}

type priceUpdateJSON struct {
	Asset       string `json:"asset"`
	MinPrice    string `json:"min_price"`
	MaxPrice    string `json:"max_price"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parsePriceUpdate(data []byte) (*settlement.PriceUpdate, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse price update: %w", err)
	}

	minPrice, err := parseAmount(j.MinPrice, "min_price")
	if err != nil {
		return nil, err
	}
	maxPrice, err := parseAmount(j.MaxPrice, "max_price")
	if err != nil {
		return nil, err
	}
	if j.Asset == "" {
		return nil, fmt.Errorf("price update: empty asset")
	}

	return &settlement.PriceUpdate{
		Asset:     j.Asset,
		MinPrice:  minPrice,
		MaxPrice:  maxPrice,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

// parseAmount parses a non-negative decimal string into a big.Int.
func parseAmount(s, field string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("parse %s: empty", field)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse %s: %q is not a decimal integer", field, s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("parse %s: negative amount %q", field, s)
	}
	return v, nil
}
