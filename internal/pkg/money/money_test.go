package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentage(t *testing.T) {
	tests := []struct {
		name   string
		amount Amount
		pct    string
		want   Amount
	}{
		{"ten percent", 10000, "10", 1000},
		{"half rounds up", 5, "10", 1},   // 0.5 -> 1
		{"below half rounds down", 4, "10", 0},
		{"fractional pct", 999, "2.5", 25}, // 24.975 -> 25
		{"exact half on odd", 15, "10", 2}, // 1.5 -> 2
		{"zero pct", 12345, "0", 0},
		{"full pct", 12345, "100", 12345},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pct := decimal.RequireFromString(tt.pct)
			assert.Equal(t, tt.want, Percentage(tt.amount, pct))
		})
	}
}

func TestRoundHalfUpNegative(t *testing.T) {
	assert.Equal(t, Amount(-1), RoundHalfUp(decimal.RequireFromString("-1.5")))
	assert.Equal(t, Amount(-2), RoundHalfUp(decimal.RequireFromString("-1.6")))
}

func TestMajorAndFormat(t *testing.T) {
	assert.Equal(t, "100.50", Amount(10050).Major())
	assert.Equal(t, "0.07", Amount(7).Major())
	assert.Equal(t, "INR 90.00", Amount(9000).Format("inr"))
}

func TestSum(t *testing.T) {
	assert.Equal(t, Amount(0), Sum())
	assert.Equal(t, Amount(60), Sum(10, 20, 30))
}

func TestParsePercentage(t *testing.T) {
	pct, err := ParsePercentage(" 12.5 ")
	require.NoError(t, err)
	assert.True(t, pct.Equal(decimal.RequireFromString("12.5")))

	_, err = ParsePercentage("abc")
	assert.Error(t, err)

	_, err = ParsePercentage("101")
	assert.ErrorIs(t, err, ErrInvalidPercentage)

	_, err = ParsePercentage("-1")
	assert.ErrorIs(t, err, ErrInvalidPercentage)
}

func TestValidatePercentageScale(t *testing.T) {
	assert.NoError(t, ValidatePercentage(decimal.RequireFromString("12.3456")))
	assert.NoError(t, ValidatePercentage(decimal.RequireFromString("12.34560000")))
	assert.NoError(t, ValidatePercentage(decimal.RequireFromString("100.0000")))
	assert.ErrorIs(t, ValidatePercentage(decimal.RequireFromString("12.34567")), ErrPercentageScale)
	assert.ErrorIs(t, ValidatePercentage(decimal.RequireFromString("0.00001")), ErrPercentageScale)

	_, err := ParsePercentage("7.12345")
	assert.ErrorIs(t, err, ErrPercentageScale)
}
