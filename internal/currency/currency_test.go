package currency

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToINR(t *testing.T) {
	tests := []struct {
		amount float64
		code   string
		want   float64
	}{
		{100, "USD", 8350},
		{100, "GBP", 10520},
		{100, "AUD", 5530},
		{1.5, "usd", 125.25},
		{0, "GBP", 0},
	}
	for _, tt := range tests {
		got, err := ToINR(tt.amount, tt.code)
		require.NoError(t, err)
		assert.InDelta(t, tt.want, got, 1e-9, "%v %s", tt.amount, tt.code)
	}
}

func TestToINR_Errors(t *testing.T) {
	_, err := ToINR(10, "EUR")
	assert.ErrorIs(t, err, ErrUnsupportedCurrency)
	assert.ErrorContains(t, err, "AUD, GBP, USD")

	for _, bad := range []float64{-1, math.NaN(), math.Inf(1)} {
		_, err := ToINR(bad, "USD")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	}
}

func TestConvertAll(t *testing.T) {
	got := ConvertAll([]Amount{
		{Value: 10, Currency: "USD"},
		{Value: 10, Currency: "EUR"},
		{Value: -5, Currency: "GBP"},
	})
	require.Len(t, got, 3)
	assert.InDelta(t, 835, got[0].INR, 1e-9)
	assert.Empty(t, got[0].Err)
	assert.Equal(t, "Unsupported currency: EUR", got[1].Err)
	assert.Equal(t, "Invalid amount", got[2].Err)
	assert.Equal(t, Amount{Value: -5, Currency: "GBP"}, got[2].Amount)
}

func TestSupported(t *testing.T) {
	assert.Equal(t, []string{"AUD", "GBP", "USD"}, Supported())
	r, ok := Rate(" gbp ")
	assert.True(t, ok)
	assert.InDelta(t, 105.20, r, 1e-9)
}

func TestFeesInINR(t *testing.T) {
	got := FeesInINR(map[string]float64{"USD": 1000, "AUD": 2.5, "JPY": 100})
	assert.Equal(t, map[string]string{
		"USD": "83500.00",
		"AUD": "138.25",
		"JPY": "Conversion Error: Unsupported currency: JPY",
	}, got)
}
