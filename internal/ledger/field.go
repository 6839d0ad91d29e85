package ledger

// Field identifies one column of an asset's balance sheet. Every committed
// operation is recorded as signed deltas against these fields so the event
// log can rebuild the full sheet by replay.
type Field int32

const (
	FieldPool Field = iota
	FieldDebt
	FieldSwapFeeReserve
	FieldWagerFeeReserve
	FieldReferralFeeReserve
	FieldTotalIn
	FieldTotalOut
)

var fieldNames = map[Field]string{
	FieldPool:               "pool",
	FieldDebt:               "debt",
	FieldSwapFeeReserve:     "swap_fee_reserve",
	FieldWagerFeeReserve:    "wager_fee_reserve",
	FieldReferralFeeReserve: "referral_fee_reserve",
	FieldTotalIn:            "total_in",
	FieldTotalOut:           "total_out",
}

var fieldByName = func() map[string]Field {
	m := make(map[string]Field, len(fieldNames))
	for f, n := range fieldNames {
		m[n] = f
	}
	return m
}()

func (f Field) String() string {
	if n, ok := fieldNames[f]; ok {
		return n
	}
	return "unknown"
}

// FieldByName resolves a stored field name back to its Field.
func FieldByName(name string) (Field, bool) {
	f, ok := fieldByName[name]
	return f, ok
}
