package query

import (
	"encoding/json"
	"time"
)

// SheetResponse is one asset's balance sheet, folded from ledger
// entries. Balances are decimal strings: 18-decimal token amounts do
// not fit in int64.
type SheetResponse struct {
	Asset        string            `json:"asset"`
	Fields       map[string]string `json:"fields"`
	LastSequence int64             `json:"last_sequence"`
	AsOfSequence int64             `json:"as_of_sequence"`
}

// EventRecord is one settled event from the history projection.
type EventRecord struct {
	Sequence     int64           `json:"sequence"`
	EventType    string          `json:"event_type"`
	Asset        *string         `json:"asset,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// EntryRecord is one signed ledger delta from the event log.
type EntryRecord struct {
	EntryID      string `json:"entry_id"`
	BatchID      string `json:"batch_id"`
	EventRef     string `json:"event_ref"`
	Operation    string `json:"operation"`
	Sequence     int64  `json:"sequence"`
	Asset        string `json:"asset"`
	Field        string `json:"field"`
	Delta        string `json:"delta"`
	TimestampUs  int64  `json:"timestamp_us"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool            `json:"is_healthy"`
	HashChainBreaks []int64         `json:"hash_chain_breaks,omitempty"`
	SheetMismatches []SheetMismatch `json:"sheet_mismatches,omitempty"`
}

// SheetMismatch is a projected balance that disagrees with the fold of
// its ledger entries.
type SheetMismatch struct {
	Asset     string `json:"asset"`
	Field     string `json:"field"`
	Projected string `json:"projected"`
	Folded    string `json:"folded"`
}
