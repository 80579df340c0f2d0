package mock

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeloop/internal/exchange/coinbase"
	"tradeloop/internal/market"
	"tradeloop/internal/trading/execution"
)

var (
	_ execution.ExchangeClient = (*Exchange)(nil)
	_ market.Client            = (*Exchange)(nil)
)

func limitOrderRequest(clientOrderID string) *coinbase.CreateOrderRequest {
	return &coinbase.CreateOrderRequest{
		ClientOrderID: clientOrderID,
		ProductID:     "BTC-USDC",
		Side:          "BUY",
		OrderConfiguration: coinbase.OrderConfiguration{
			LimitLimitGTD: &coinbase.LimitConfig{
				BaseSize:   "0.01",
				LimitPrice: "49000",
				PostOnly:   true,
			},
		},
	}
}

func TestCreateOrderIsIdempotent(t *testing.T) {
	ex := NewExchange("BTC-USDC", decimal.NewFromInt(50000))
	ctx := context.Background()

	first, err := ex.CreateOrder(ctx, limitOrderRequest("abc123"))
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := ex.CreateOrder(ctx, limitOrderRequest("abc123"))
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, second.OrderID)

	orders, err := ex.ListOrders(ctx, "BTC-USDC", nil, time.Time{})
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestFillOrderRecordsFill(t *testing.T) {
	ex := NewExchange("BTC-USDC", decimal.NewFromInt(50000))
	ctx := context.Background()

	resp, err := ex.CreateOrder(ctx, limitOrderRequest("abc123"))
	require.NoError(t, err)

	require.NoError(t, ex.FillOrder(resp.OrderID, decimal.NewFromInt(49000)))
	assert.Error(t, ex.FillOrder(resp.OrderID, decimal.NewFromInt(49000)), "double fill should be rejected")

	orders, err := ex.ListOrders(ctx, "BTC-USDC", []string{"FILLED"}, time.Time{})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "FILLED", orders[0].Status)
	assert.Equal(t, "0.01", orders[0].FilledSize)
	assert.Equal(t, "49000", orders[0].AverageFilledPrice)

	fills, err := ex.ListFills(ctx, "BTC-USDC", time.Time{})
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, resp.OrderID, fills[0].OrderID)
	assert.Equal(t, "MAKER", fills[0].LiquidityIndic)
}

func TestListFillsHonorsWatermark(t *testing.T) {
	ex := NewExchange("BTC-USDC", decimal.NewFromInt(50000))
	ctx := context.Background()

	resp, err := ex.CreateOrder(ctx, limitOrderRequest("abc123"))
	require.NoError(t, err)
	require.NoError(t, ex.FillOrder(resp.OrderID, decimal.NewFromInt(49000)))

	fills, err := ex.ListFills(ctx, "BTC-USDC", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, fills)
}

func TestMarketDataRoundTrip(t *testing.T) {
	ex := NewExchange("BTC-USDC", decimal.NewFromInt(50000))
	ctx := context.Background()

	book, err := ex.GetBestBidAsk(ctx, "BTC-USDC")
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	require.Len(t, book.Asks, 1)
	bid := decimal.RequireFromString(book.Bids[0].Price)
	ask := decimal.RequireFromString(book.Asks[0].Price)
	assert.True(t, bid.LessThan(ask))

	candles, err := ex.GetCandles(ctx, "BTC-USDC", "ONE_HOUR", time.Time{}, time.Now(), 50)
	require.NoError(t, err)
	assert.Len(t, candles, 50)

	accounts, err := ex.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 2)

	_, err = ex.GetBestBidAsk(ctx, "ETH-USD")
	assert.Error(t, err)
}
