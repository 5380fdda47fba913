package market

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantavest/pyramid-backend/pkg/types"
)

// SimulatedSource generates deterministic synthetic candles so the whole
// backend runs end to end without exchange credentials. The series is a slow
// sine walk around a base price; the same (symbol, granularity, count)
// request at the same wall-clock day yields the same series.
type SimulatedSource struct {
	basePrice decimal.Decimal
	now       func() time.Time
}

// NewSimulatedSource creates a synthetic candle source around basePrice.
func NewSimulatedSource(basePrice decimal.Decimal) *SimulatedSource {
	return &SimulatedSource{basePrice: basePrice, now: time.Now}
}

// Candles generates count candles oldest-first, spaced by the granularity.
func (s *SimulatedSource) Candles(ctx context.Context, symbol string, granularity types.Granularity, count int) ([]types.Candle, error) {
	step := 24 * time.Hour
	if granularity == types.GranularityWeekly {
		step = 7 * 24 * time.Hour
	}

	end := s.now().UTC().Truncate(step)
	base, _ := s.basePrice.Float64()

	candles := make([]types.Candle, 0, count)
	price := base
	for i := 0; i < count; i++ {
		closeP := base + math.Sin(float64(i)/10)*base*0.04 + float64(i%5)*base*0.0002
		openP := price
		high := math.Max(openP, closeP) * 1.002
		low := math.Min(openP, closeP) * 0.998

		candles = append(candles, types.Candle{
			Timestamp: end.Add(-time.Duration(count-i) * step),
			Open:      decimal.NewFromFloat(openP),
			High:      decimal.NewFromFloat(high),
			Low:       decimal.NewFromFloat(low),
			Close:     decimal.NewFromFloat(closeP),
			Volume:    decimal.NewFromInt(int64(10 + i)),
		})
		price = closeP
	}
	return candles, nil
}
