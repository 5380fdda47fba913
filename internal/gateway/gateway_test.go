package gateway

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantavest/pyramid-backend/pkg/types"
)

func TestPaperGatewayFillsInFull(t *testing.T) {
	g := NewPaperGateway(zap.NewNop())

	qty := decimal.RequireFromString("0.0008")
	res, err := g.SubmitMarketOrder(context.Background(), "btcusdt", types.OrderSideBuy, qty)
	require.NoError(t, err)

	assert.True(t, res.Accepted)
	assert.NotEmpty(t, res.OrderID)
	assert.True(t, res.FilledQty.Equal(qty))
}

func TestPaperGatewayRejectsNonPositiveQuantity(t *testing.T) {
	g := NewPaperGateway(zap.NewNop())

	for _, qty := range []decimal.Decimal{decimal.Zero, decimal.RequireFromString("-1")} {
		res, err := g.SubmitMarketOrder(context.Background(), "btcusdt", types.OrderSideSell, qty)
		require.NoError(t, err)
		assert.False(t, res.Accepted)
		assert.NotEmpty(t, res.Reason)
	}
}
