package ingestion_test

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"VaultLedger/internal/ingestion"
	"VaultLedger/internal/settlement"
)

func rawFromJSON(t *testing.T, kind string, v interface{}) ingestion.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawMessage{
		Subject:  "test",
		Kind:     kind,
		Data:     data,
		Received: time.Now(),
		AckFunc:  func() {},
		NakFunc:  func() {},
		TermFunc: func() {},
	}
}

func TestParsePayout(t *testing.T) {
	payload := map[string]interface{}{
		"payout_id":     "550e8400-e29b-41d4-a716-446655440000",
		"wager_asset":   "usdc",
		"win_asset":     "weth",
		"escrow_amount": "100000000",
		"total_amount":  "150000000",
		"recipient":     "winner",
		"settle_seq":    int64(42),
		"timestamp_us":  int64(1700000000000000),
	}

	raw := rawFromJSON(t, "payout", payload)
	cmd, err := ingestion.ParseRawMessage(raw, "settlement-svc")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	po, ok := cmd.(*settlement.Payout)
	if !ok {
		t.Fatalf("expected *settlement.Payout, got %T", cmd)
	}

	if po.Caller != "settlement-svc" {
		t.Errorf("caller: got %s, want settlement-svc", po.Caller)
	}
	if po.WagerAsset != "usdc" || po.WinAsset != "weth" {
		t.Errorf("assets: got %s/%s, want usdc/weth", po.WagerAsset, po.WinAsset)
	}
	if po.EscrowAmount.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Errorf("escrow_amount: got %s, want 100000000", po.EscrowAmount)
	}
	if po.TotalAmount.Cmp(big.NewInt(150_000_000)) != 0 {
		t.Errorf("total_amount: got %s, want 150000000", po.TotalAmount)
	}
	if po.Recipient != "winner" {
		t.Errorf("recipient: got %s, want winner", po.Recipient)
	}
	if po.SettleSeq != 42 {
		t.Errorf("settle_seq: got %d, want 42", po.SettleSeq)
	}
	if po.DedupKey() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("dedup key: got %s", po.DedupKey())
	}
}

func TestParsePayin(t *testing.T) {
	payload := map[string]interface{}{
		"payin_id":      "660e8400-e29b-41d4-a716-446655440001",
		"asset":         "usdc",
		"escrow_amount": "50000000",
		"settle_seq":    int64(43),
		"timestamp_us":  int64(1700000000000000),
	}

	raw := rawFromJSON(t, "payin", payload)
	cmd, err := ingestion.ParseRawMessage(raw, "settlement-svc")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	pi, ok := cmd.(*settlement.Payin)
	if !ok {
		t.Fatalf("expected *settlement.Payin, got %T", cmd)
	}

	if pi.Asset != "usdc" {
		t.Errorf("asset: got %s, want usdc", pi.Asset)
	}
	if pi.EscrowAmount.Cmp(big.NewInt(50_000_000)) != 0 {
		t.Errorf("escrow_amount: got %s, want 50000000", pi.EscrowAmount)
	}
	if pi.SettleSeq != 43 {
		t.Errorf("settle_seq: got %d, want 43", pi.SettleSeq)
	}
}

func TestParsePriceUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"asset":        "weth",
		"min_price":    "3000000000000000000000000000000000",
		"max_price":    "3001000000000000000000000000000000",
		"sequence":     int64(100),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, "price_update", payload)
	cmd, err := ingestion.ParseRawMessage(raw, "settlement-svc")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	pu, ok := cmd.(*settlement.PriceUpdate)
	if !ok {
		t.Fatalf("expected *settlement.PriceUpdate, got %T", cmd)
	}

	if pu.Asset != "weth" {
		t.Errorf("asset: got %s, want weth", pu.Asset)
	}
	want, _ := new(big.Int).SetString("3000000000000000000000000000000000", 10)
	if pu.MinPrice.Cmp(want) != 0 {
		t.Errorf("min_price: got %s, want %s", pu.MinPrice, want)
	}
	if pu.Sequence != 100 {
		t.Errorf("sequence: got %d, want 100", pu.Sequence)
	}
	if pu.DedupKey() != "" {
		t.Errorf("price updates carry no dedup key, got %q", pu.DedupKey())
	}
}

func TestParseUnknownKind_Fails(t *testing.T) {
	raw := ingestion.RawMessage{Kind: "nonexistent", Data: []byte(`{}`)}
	_, err := ingestion.ParseRawMessage(raw, "settlement-svc")
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawMessage{Kind: "payout", Data: []byte(`{invalid json`)}
	_, err := ingestion.ParseRawMessage(raw, "settlement-svc")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseInvalidUUID_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"payout_id":     "not-a-uuid",
		"wager_asset":   "usdc",
		"win_asset":     "usdc",
		"escrow_amount": "1",
		"total_amount":  "1",
		"recipient":     "winner",
		"settle_seq":    int64(0),
		"timestamp_us":  int64(0),
	}

	raw := rawFromJSON(t, "payout", payload)
	_, err := ingestion.ParseRawMessage(raw, "settlement-svc")
	if err == nil {
		t.Fatal("expected error for invalid UUID")
	}
}

func TestParseNegativeAmount_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"payin_id":      "660e8400-e29b-41d4-a716-446655440001",
		"asset":         "usdc",
		"escrow_amount": "-50000000",
		"settle_seq":    int64(1),
		"timestamp_us":  int64(0),
	}

	raw := rawFromJSON(t, "payin", payload)
	_, err := ingestion.ParseRawMessage(raw, "settlement-svc")
	if err == nil {
		t.Fatal("expected error for negative amount")
	}
}

func TestParseNonDecimalAmount_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"asset":        "weth",
		"min_price":    "0x1234",
		"max_price":    "1",
		"sequence":     int64(1),
		"timestamp_us": int64(0),
	}

	raw := rawFromJSON(t, "price_update", payload)
	_, err := ingestion.ParseRawMessage(raw, "settlement-svc")
	if err == nil {
		t.Fatal("expected error for non-decimal amount")
	}
}
