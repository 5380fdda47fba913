// Package gateway submits market orders to an exchange and reports whether
// they were accepted. The strategy only mutates the ledger on an accepted
// result; a rejected or timed-out order leaves state untouched.
package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/quantavest/pyramid-backend/pkg/types"
)

// ErrExecution wraps transport-level failures (timeout, connection refused).
// A reachable exchange that rejects the order returns Accepted=false instead.
var ErrExecution = errors.New("order execution failed")

// Gateway submits market orders.
type Gateway interface {
	SubmitMarketOrder(ctx context.Context, symbol string, side types.OrderSide, quantity decimal.Decimal) (types.OrderResult, error)
}
