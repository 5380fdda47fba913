package indicators

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantavest/pyramid-backend/pkg/types"
)

func decimals(vs ...float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vs))
	for i, v := range vs {
		out[i] = decimal.NewFromFloat(v)
	}
	return out
}

func TestSMA(t *testing.T) {
	values := decimals(1, 2, 3, 4, 5)

	sma, ok := SMA(values, 5)
	require.True(t, ok)
	assert.True(t, sma.Equal(decimal.NewFromInt(3)), "got %s", sma)

	sma, ok = SMA(values, 2)
	require.True(t, ok)
	assert.True(t, sma.Equal(decimal.NewFromFloat(4.5)), "got %s", sma)
}

func TestSMATooShort(t *testing.T) {
	_, ok := SMA(decimals(1, 2, 3), 4)
	assert.False(t, ok)
}

func TestEMASeededWithFirstValue(t *testing.T) {
	// period 3 => k = 0.5. Seed 10, then:
	// 12*0.5 + 10*0.5 = 11; 14*0.5 + 11*0.5 = 12.5
	ema, ok := EMA(decimals(10, 12, 14), 3)
	require.True(t, ok)
	assert.True(t, ema.Equal(decimal.NewFromFloat(12.5)), "got %s", ema)
}

func TestEMATooShort(t *testing.T) {
	_, ok := EMA(decimals(10, 12), 3)
	assert.False(t, ok)
}

func TestMACDRequiresSlowPlusSignal(t *testing.T) {
	values := make([]decimal.Decimal, 34)
	for i := range values {
		values[i] = decimal.NewFromInt(int64(100 + i))
	}
	_, _, ok := MACD(values, 12, 26, 9)
	assert.False(t, ok, "34 values must be insufficient for MACD(12,26,9)")

	values = append(values, decimal.NewFromInt(200))
	macd, sig, ok := MACD(values, 12, 26, 9)
	require.True(t, ok)
	// A rising series keeps the fast EMA above the slow one.
	assert.True(t, macd.IsPositive(), "macd %s", macd)
	assert.True(t, sig.IsPositive(), "signal %s", sig)
}

func TestRSIAllGains(t *testing.T) {
	values := make([]decimal.Decimal, 15)
	for i := range values {
		values[i] = decimal.NewFromInt(int64(100 + i))
	}
	rsi, ok := RSI(values, 14)
	require.True(t, ok)
	assert.True(t, rsi.Equal(decimal.NewFromInt(100)), "got %s", rsi)
}

func TestRSIKnownValue(t *testing.T) {
	// 14 deltas: seven +10 and seven -10 => avgGain == avgLoss => RSI 50.
	values := []decimal.Decimal{decimal.NewFromInt(100)}
	v := 100.0
	for i := 0; i < 14; i++ {
		if i%2 == 0 {
			v += 10
		} else {
			v -= 10
		}
		values = append(values, decimal.NewFromFloat(v))
	}
	rsi, ok := RSI(values, 14)
	require.True(t, ok)
	assert.True(t, rsi.Equal(decimal.NewFromInt(50)), "got %s", rsi)
}

func TestRSITooShort(t *testing.T) {
	_, ok := RSI(decimals(1, 2, 3), 14)
	assert.False(t, ok)
}

func TestATR(t *testing.T) {
	candles := []types.Candle{
		{High: decimal.NewFromInt(10), Low: decimal.NewFromInt(8), Close: decimal.NewFromInt(9)},
		{High: decimal.NewFromInt(11), Low: decimal.NewFromInt(9), Close: decimal.NewFromInt(10)},
		{High: decimal.NewFromInt(12), Low: decimal.NewFromInt(10), Close: decimal.NewFromInt(11)},
		{High: decimal.NewFromInt(13), Low: decimal.NewFromInt(11), Close: decimal.NewFromInt(12)},
	}
	// Each TR = max(2, |high-prevClose|, |low-prevClose|) = 2.
	atr, ok := ATR(candles, 3)
	require.True(t, ok)
	assert.True(t, atr.Equal(decimal.NewFromInt(2)), "got %s", atr)
}

func TestATRGapUsesPrevClose(t *testing.T) {
	candles := []types.Candle{
		{High: decimal.NewFromInt(10), Low: decimal.NewFromInt(9), Close: decimal.NewFromInt(10)},
		// Gap up: high-low is 1, but high-prevClose is 10.
		{High: decimal.NewFromInt(20), Low: decimal.NewFromInt(19), Close: decimal.NewFromInt(20)},
	}
	atr, ok := ATR(candles, 1)
	require.True(t, ok)
	assert.True(t, atr.Equal(decimal.NewFromInt(10)), "got %s", atr)
}

func TestATRTooShort(t *testing.T) {
	candles := []types.Candle{
		{High: decimal.NewFromInt(10), Low: decimal.NewFromInt(8), Close: decimal.NewFromInt(9)},
	}
	_, ok := ATR(candles, 1)
	assert.False(t, ok)
}
