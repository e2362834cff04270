package money

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPercentRoundsToCents(t *testing.T) {
	assert.True(t, Percent(d("1080"), d("10")).Equal(d("108")))
	assert.True(t, Percent(d("99.99"), d("15")).Equal(d("15")))
	assert.True(t, Percent(d("0.05"), d("50")).Equal(d("0.03")))
}

func TestClampAndNonNegative(t *testing.T) {
	assert.True(t, Clamp(d("2000"), decimal.Zero, d("1500")).Equal(d("1500")))
	assert.True(t, Clamp(d("-1"), decimal.Zero, d("1500")).Equal(decimal.Zero))
	assert.True(t, NonNegative(d("-3.5")).IsZero())
}

func TestCoversUsesEpsilon(t *testing.T) {
	assert.True(t, Covers(d("1080"), d("1080")))
	assert.True(t, Covers(d("1079.996"), d("1080")))
	assert.False(t, Covers(d("1079.99"), d("1080")))
}

func TestMinorUnitsRoundTrip(t *testing.T) {
	assert.Equal(t, int64(97200), ToMinorUnits(d("972")))
	assert.Equal(t, int64(1), ToMinorUnits(d("0.005")))
	assert.True(t, FromMinorUnits(97250).Equal(d("972.5")))
}

func TestParseRejectsSubCentPrecision(t *testing.T) {
	v, err := Parse(" 12.50 ")
	require.NoError(t, err)
	assert.True(t, v.Equal(d("12.5")))

	_, err = Parse("1.234")
	require.Error(t, err)
	_, err = Parse("abc")
	require.Error(t, err)
}

func TestPointsRoundsToWholeUnits(t *testing.T) {
	assert.Equal(t, int64(972), Points(d("972.00")))
	assert.Equal(t, int64(11), Points(d("10.5")))
	assert.Equal(t, int64(0), Points(d("-4")))
}

func TestBusinessIDsArePrefixedAndUnique(t *testing.T) {
	a, b := NewBusinessID(InvoicePrefix), NewBusinessID(InvoicePrefix)
	assert.True(t, strings.HasPrefix(a, "INV-"))
	assert.NotEqual(t, a, b)
	assert.Len(t, ShortCode(), 6)
}
