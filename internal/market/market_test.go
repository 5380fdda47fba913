package market

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}
