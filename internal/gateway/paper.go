package gateway

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantavest/pyramid-backend/pkg/types"
)

// PaperGateway accepts every order and fills it in full. It is wired in
// simulation mode and in tests.
type PaperGateway struct {
	logger *zap.Logger
}

// NewPaperGateway creates a paper trading gateway.
func NewPaperGateway(logger *zap.Logger) *PaperGateway {
	return &PaperGateway{logger: logger.Named("paper-gateway")}
}

// SubmitMarketOrder simulates an immediately filled market order.
func (g *PaperGateway) SubmitMarketOrder(ctx context.Context, symbol string, side types.OrderSide, quantity decimal.Decimal) (types.OrderResult, error) {
	if !quantity.IsPositive() {
		return types.OrderResult{Accepted: false, Reason: "non-positive quantity"}, nil
	}

	id := uuid.New().String()
	g.logger.Debug("Paper order filled",
		zap.String("orderId", id),
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.String("qty", quantity.String()))

	return types.OrderResult{
		OrderID:   id,
		Accepted:  true,
		FilledQty: quantity,
	}, nil
}
