// Package money holds the currency and amount helpers shared by the ledger
// validator and the allocation engine.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// DefaultPlaces is used when an ISO code is unknown to CLDR.
const DefaultPlaces int32 = 2

var (
	// ReconciliationEpsilon bounds |account amount - transaction amount * rate|.
	ReconciliationEpsilon = decimal.RequireFromString("0.005")
	// PaidTolerance is the outstanding amount at or below which a target counts as settled.
	PaidTolerance = decimal.RequireFromString("0.01")
)

// Code normalises an ISO 4217 code.
func Code(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// SameCurrency reports whether two codes denote the same currency.
func SameCurrency(a, b string) bool {
	return Code(a) == Code(b)
}

// Places returns the minor unit scale for the currency.
func Places(code string) int32 {
	unit, err := currency.ParseISO(Code(code))
	if err != nil {
		return DefaultPlaces
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

// Round rounds amount to the minor unit of code.
func Round(amount decimal.Decimal, code string) decimal.Decimal {
	return amount.Round(Places(code))
}

// Convert applies rate to amount and rounds to the minor unit of the target currency.
func Convert(amount, rate decimal.Decimal, to string) decimal.Decimal {
	return Round(amount.Mul(rate), to)
}

// Near reports whether a and b differ by at most eps.
func Near(a, b, eps decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(eps)
}

// Reconciles reports whether accountAmount matches txnAmount*rate. The
// tolerance is ReconciliationEpsilon, widened to half a minor unit for
// currencies with fewer than two decimals.
func Reconciles(accountAmount, txnAmount, rate decimal.Decimal, accountCurrency string) bool {
	return Near(accountAmount, txnAmount.Mul(rate), tolerance(accountCurrency))
}

func tolerance(code string) decimal.Decimal {
	half := decimal.New(5, -Places(code)-1)
	if half.GreaterThan(ReconciliationEpsilon) {
		return half
	}
	return ReconciliationEpsilon
}

// Settled reports whether an outstanding balance is small enough to be treated as paid.
func Settled(outstanding decimal.Decimal) bool {
	return outstanding.LessThanOrEqual(PaidTolerance)
}
