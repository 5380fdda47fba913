// Package market supplies ordered candle series per symbol and granularity.
package market

import (
	"context"
	"errors"

	"github.com/quantavest/pyramid-backend/pkg/types"
)

// ErrUnavailable wraps any failure to reach the data source. Callers treat it
// as "skip this account this cycle", never as an empty series.
var ErrUnavailable = errors.New("market data unavailable")

// Source supplies candles oldest-first with no duplicate timestamps. It may
// return fewer than count candles when the symbol's history is short, but it
// must fail explicitly when the source is unreachable.
type Source interface {
	Candles(ctx context.Context, symbol string, granularity types.Granularity, count int) ([]types.Candle, error)
}
