package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPlacesFollowsMinorUnits(t *testing.T) {
	require.Equal(t, int32(2), Places("usd"))
	require.Equal(t, int32(0), Places("JPY"))
	require.Equal(t, int32(3), Places("KWD"))
	require.Equal(t, DefaultPlaces, Places("not-a-code"))
}

func TestConvertRoundsToTargetCurrency(t *testing.T) {
	require.True(t, d("450").Equal(Convert(d("100"), d("4.50"), "MYR")))
	require.True(t, d("33.33").Equal(Convert(d("10"), d("3.3333"), "USD")))
	require.True(t, d("1235").Equal(Convert(d("12.345"), d("100"), "JPY")))
}

func TestReconcilesWithinEpsilon(t *testing.T) {
	require.True(t, Reconciles(d("450.00"), d("100"), d("4.5"), "MYR"))
	require.True(t, Reconciles(d("33.33"), d("10"), d("3.3333"), "USD"))
	require.False(t, Reconciles(d("450.01"), d("100"), d("4.5"), "MYR"))
}

func TestReconcilesWidensForZeroDecimalCurrencies(t *testing.T) {
	require.True(t, Reconciles(d("1505"), d("10.01"), d("150.3"), "JPY"))
	require.False(t, Reconciles(d("1506"), d("10.01"), d("150.3"), "JPY"))
	require.False(t, Reconciles(d("1504.51"), d("10.01"), d("150.3"), "USD"))
}

func TestSettledUsesPaidTolerance(t *testing.T) {
	require.True(t, Settled(d("0")))
	require.True(t, Settled(d("0.01")))
	require.False(t, Settled(d("0.02")))
}
