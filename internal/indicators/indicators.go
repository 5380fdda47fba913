// Package indicators provides pure technical indicator computations over
// ordered candle series. Every function reports an ok flag instead of a
// default value when the series is too short; callers must treat a false
// flag as "signal absent" and disable the rules that depend on it.
package indicators

import (
	"github.com/shopspring/decimal"

	"github.com/quantavest/pyramid-backend/pkg/types"
)

var (
	one     = decimal.NewFromInt(1)
	two     = decimal.NewFromInt(2)
	hundred = decimal.NewFromInt(100)
)

// Closes extracts the close series from candles, oldest-first.
func Closes(candles []types.Candle) []decimal.Decimal {
	closes := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}

// SMA returns the arithmetic mean of the last period values.
func SMA(values []decimal.Decimal, period int) (decimal.Decimal, bool) {
	if period <= 0 || len(values) < period {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for _, v := range values[len(values)-period:] {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(period))), true
}

// EMA returns the exponential moving average over the whole series, seeded
// with the first series value rather than a lagged initial SMA. The seeding
// convention matters: it biases the early series and shifts downstream
// buy/sell timing, so it must not be changed.
func EMA(values []decimal.Decimal, period int) (decimal.Decimal, bool) {
	if period <= 0 || len(values) < period {
		return decimal.Zero, false
	}
	k := two.Div(decimal.NewFromInt(int64(period) + 1))
	ema := values[0]
	for _, v := range values[1:] {
		ema = v.Mul(k).Add(ema.Mul(one.Sub(k)))
	}
	return ema, true
}

// MACD computes the MACD line (EMA fast minus EMA slow over the whole series)
// and its signal line (EMA of the MACD series, seeded the same way). It
// returns the last value of each. The series must hold at least slow+signal
// values.
func MACD(values []decimal.Decimal, fast, slow, signal int) (macd, sig decimal.Decimal, ok bool) {
	if len(values) < slow+signal {
		return decimal.Zero, decimal.Zero, false
	}

	kFast := two.Div(decimal.NewFromInt(int64(fast) + 1))
	kSlow := two.Div(decimal.NewFromInt(int64(slow) + 1))

	emaFast := values[0]
	emaSlow := values[0]
	macdSeries := make([]decimal.Decimal, 0, len(values))
	for _, v := range values {
		emaFast = v.Mul(kFast).Add(emaFast.Mul(one.Sub(kFast)))
		emaSlow = v.Mul(kSlow).Add(emaSlow.Mul(one.Sub(kSlow)))
		macdSeries = append(macdSeries, emaFast.Sub(emaSlow))
	}

	kSig := two.Div(decimal.NewFromInt(int64(signal) + 1))
	sig = macdSeries[0]
	for _, m := range macdSeries {
		sig = m.Mul(kSig).Add(sig.Mul(one.Sub(kSig)))
	}

	return macdSeries[len(macdSeries)-1], sig, true
}

// RSI computes the relative strength index over the last period deltas.
// Average gain and average loss are both divided by period (not by the number
// of gains/losses); with no losses the RSI is 100. Requires period+1 values.
func RSI(values []decimal.Decimal, period int) (decimal.Decimal, bool) {
	if period <= 0 || len(values) < period+1 {
		return decimal.Zero, false
	}

	sumGain := decimal.Zero
	sumLoss := decimal.Zero
	for i := 1; i <= period; i++ {
		delta := values[len(values)-i].Sub(values[len(values)-i-1])
		if delta.IsPositive() {
			sumGain = sumGain.Add(delta)
		} else {
			sumLoss = sumLoss.Add(delta.Abs())
		}
	}

	periodDec := decimal.NewFromInt(int64(period))
	avgGain := sumGain.Div(periodDec)
	avgLoss := sumLoss.Div(periodDec)

	if avgLoss.IsZero() {
		return hundred, true
	}

	rs := avgGain.Div(avgLoss)
	return hundred.Sub(hundred.Div(one.Add(rs))), true
}

// ATR computes the average true range: the simple mean of the last period
// true ranges, where TR = max(high-low, |high-prevClose|, |low-prevClose|).
// Requires period+1 candles because each TR consumes the previous close.
func ATR(candles []types.Candle, period int) (decimal.Decimal, bool) {
	if period <= 0 || len(candles) < period+1 {
		return decimal.Zero, false
	}

	trs := make([]decimal.Decimal, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		c := candles[i]
		prevClose := candles[i-1].Close
		tr := decimal.Max(
			c.High.Sub(c.Low),
			c.High.Sub(prevClose).Abs(),
			c.Low.Sub(prevClose).Abs(),
		)
		trs = append(trs, tr)
	}

	sum := decimal.Zero
	for _, tr := range trs[len(trs)-period:] {
		sum = sum.Add(tr)
	}
	return sum.Div(decimal.NewFromInt(int64(period))), true
}
