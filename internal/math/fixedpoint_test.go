package math_test

import (
	"math/big"
	"testing"

	vmath "VaultLedger/internal/math"
)

func bigFromString(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad big.Int literal %q", s)
	}
	return v
}

func TestTokenToUsdw(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		price    string // 10^30 per whole token
		decimals int
		want     string
	}{
		{
			name:     "1000 six-decimal tokens at one dollar",
			amount:   "1000000000",
			price:    "1000000000000000000000000000000",
			decimals: 6,
			want:     "1000000000000000000000",
		},
		{
			name:     "one eighteen-decimal token at 2000 dollars",
			amount:   "1000000000000000000",
			price:    "2000000000000000000000000000000000",
			decimals: 18,
			want:     "2000000000000000000000",
		},
		{
			name:     "dust floors to zero",
			amount:   "1",
			price:    "1000000000000000000",
			decimals: 18,
			want:     "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := vmath.TokenToUsdw(bigFromString(t, tt.amount), bigFromString(t, tt.price), tt.decimals)
			if got.String() != tt.want {
				t.Errorf("TokenToUsdw() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestUsdwTokenRoundTripNeverGains(t *testing.T) {
	price := bigFromString(t, "1370000000000000000000000000000") // $1.37
	amount := bigFromString(t, "123456789")                      // 6 decimals

	usdw := vmath.TokenToUsdw(amount, price, 6)
	back := vmath.UsdwToToken(usdw, price, 6)

	if back.Cmp(amount) > 0 {
		t.Errorf("round trip gained value: in %s, out %s", amount, back)
	}
}

func TestTokenToUsdMatchesUsdToUsdw(t *testing.T) {
	price := bigFromString(t, "1000000000000000000000000000000")
	amount := bigFromString(t, "5000000") // 5 units, 6 decimals

	usd := vmath.TokenToUsd(amount, price, 6)
	if usd.Cmp(bigFromString(t, "5000000000000000000000000000000")) != 0 {
		t.Fatalf("TokenToUsd() = %s", usd)
	}
	usdw := vmath.UsdToUsdw(usd)
	want := vmath.TokenToUsdw(amount, price, 6)
	if usdw.Cmp(want) != 0 {
		t.Errorf("UsdToUsdw(TokenToUsd()) = %s, TokenToUsdw() = %s", usdw, want)
	}
}

func TestAdjustForDecimals(t *testing.T) {
	amount := big.NewInt(1_500_000) // 1.5 units at 6 decimals

	up := vmath.AdjustForDecimals(amount, 6, 18)
	if up.String() != "1500000000000000000" {
		t.Errorf("AdjustForDecimals(6->18) = %s", up)
	}
	down := vmath.AdjustForDecimals(up, 18, 6)
	if down.Cmp(amount) != 0 {
		t.Errorf("AdjustForDecimals(18->6) = %s, want %s", down, amount)
	}
}

func TestBpsSplit(t *testing.T) {
	amount := big.NewInt(10_000)

	fee := vmath.BpsPortion(amount, 30)
	net := vmath.AfterBps(amount, 30)

	if fee.Int64() != 30 {
		t.Errorf("BpsPortion(10000, 30) = %s, want 30", fee)
	}
	if net.Int64() != 9_970 {
		t.Errorf("AfterBps(10000, 30) = %s, want 9970", net)
	}
	if new(big.Int).Add(fee, net).Cmp(amount) != 0 {
		t.Errorf("fee %s + net %s != amount %s", fee, net, amount)
	}
}

func TestAbsDiff(t *testing.T) {
	a := big.NewInt(100)
	b := big.NewInt(250)

	if got := vmath.AbsDiff(a, b); got.Int64() != 150 {
		t.Errorf("AbsDiff(100, 250) = %s, want 150", got)
	}
	if got := vmath.AbsDiff(b, a); got.Int64() != 150 {
		t.Errorf("AbsDiff(250, 100) = %s, want 150", got)
	}
	if a.Int64() != 100 || b.Int64() != 250 {
		t.Errorf("AbsDiff mutated inputs: a=%s b=%s", a, b)
	}
}
