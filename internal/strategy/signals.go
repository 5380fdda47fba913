package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/quantavest/pyramid-backend/internal/indicators"
	"github.com/quantavest/pyramid-backend/pkg/types"
)

// Indicator periods. The weekly MACD/RSI pair drives the entry gate; ATR only
// scales the lot size.
const (
	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9
	rsiPeriod  = 14
	atrPeriod  = 14
)

// Signals is one cycle's indicator snapshot. Each Has flag reports whether
// the underlying series was long enough; a false flag disables every rule
// that reads the value.
type Signals struct {
	Price decimal.Decimal

	MM200    decimal.Decimal
	HasMM200 bool
	MM50     decimal.Decimal
	HasMM50  bool

	MACD    decimal.Decimal
	HasMACD bool

	RSIWeek decimal.Decimal
	HasRSI  bool

	ATR    decimal.Decimal
	HasATR bool
}

// computeSignals derives the cycle's signals from the daily and weekly candle
// series. The price is the latest daily close, falling back to the latest
// weekly close; (Signals{}, false) means no price exists at all.
func computeSignals(daily, weekly []types.Candle) (Signals, bool) {
	var s Signals

	switch {
	case len(daily) > 0:
		s.Price = daily[len(daily)-1].Close
	case len(weekly) > 0:
		s.Price = weekly[len(weekly)-1].Close
	default:
		return Signals{}, false
	}

	dailyCloses := indicators.Closes(daily)
	weeklyCloses := indicators.Closes(weekly)

	// Long moving averages degrade to shorter ones on thin history rather
	// than disappearing outright.
	if mm, ok := indicators.SMA(dailyCloses, 200); ok {
		s.MM200, s.HasMM200 = mm, true
	} else if mm, ok := indicators.SMA(dailyCloses, 50); ok {
		s.MM200, s.HasMM200 = mm, true
	}
	if mm, ok := indicators.SMA(dailyCloses, 50); ok {
		s.MM50, s.HasMM50 = mm, true
	} else if mm, ok := indicators.SMA(dailyCloses, 10); ok {
		s.MM50, s.HasMM50 = mm, true
	}

	if macd, _, ok := indicators.MACD(weeklyCloses, macdFast, macdSlow, macdSignal); ok {
		s.MACD, s.HasMACD = macd, true
	}
	if rsi, ok := indicators.RSI(weeklyCloses, rsiPeriod); ok {
		s.RSIWeek, s.HasRSI = rsi, true
	}
	if atr, ok := indicators.ATR(daily, atrPeriod); ok {
		s.ATR, s.HasATR = atr, true
	}

	return s, true
}

// entryPermitted evaluates the four-condition entry gate. An absent signal
// fails its condition.
func (s Signals) entryPermitted() bool {
	if !s.HasMM200 || !s.HasMM50 || !s.HasMACD || !s.HasRSI {
		return false
	}
	return s.Price.GreaterThan(s.MM200) &&
		s.MM50.GreaterThan(s.MM200) &&
		s.MACD.IsPositive() &&
		s.RSIWeek.GreaterThanOrEqual(decimal.NewFromInt(50)) &&
		s.RSIWeek.LessThanOrEqual(decimal.NewFromInt(70))
}
