package broker

import (
	"context"
	"testing"

	"github.com/jmcleod/tradedesk/broker/brokertest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     OrderRequest
		wantErr bool
	}{
		{"market defaults", OrderRequest{TradingSymbol: "sbin-eq", Side: "buy", Quantity: 1}, false},
		{"limit with price", OrderRequest{TradingSymbol: "SBIN-EQ", Side: "SELL", Quantity: 5, PriceType: "LIMIT", Price: decimal.RequireFromString("810.5")}, false},
		{"limit without price", OrderRequest{TradingSymbol: "SBIN-EQ", Side: "BUY", Quantity: 5, PriceType: "LIMIT"}, true},
		{"sl-limit needs trigger", OrderRequest{TradingSymbol: "SBIN-EQ", Side: "BUY", Quantity: 5, PriceType: "SL-LIMIT", Price: decimal.NewFromInt(800)}, true},
		{"sl-market with trigger", OrderRequest{TradingSymbol: "SBIN-EQ", Side: "BUY", Quantity: 5, PriceType: "SL-MARKET", TriggerPrice: decimal.NewFromInt(800)}, false},
		{"zero quantity", OrderRequest{TradingSymbol: "SBIN-EQ", Side: "BUY"}, true},
		{"bad side", OrderRequest{TradingSymbol: "SBIN-EQ", Side: "HOLD", Quantity: 1}, true},
		{"no symbol", OrderRequest{Side: "BUY", Quantity: 1}, true},
		{"unknown price type", OrderRequest{TradingSymbol: "SBIN-EQ", Side: "BUY", Quantity: 1, PriceType: "ICEBERG"}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := tc.req
			req.Normalize()
			err := req.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidOrder)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOrderRequestDefaults(t *testing.T) {
	req := OrderRequest{TradingSymbol: " sbin-eq ", Side: "buy", Quantity: 1}
	req.Normalize()
	assert.Equal(t, ExchangeNSE, req.Exchange)
	assert.Equal(t, ProductIntraday, req.Product)
	assert.Equal(t, PriceMarket, req.PriceType)
	assert.Equal(t, "SBIN-EQ", req.TradingSymbol)
	assert.Equal(t, SideBuy, req.Side)
}

func TestOrderLifecycle(t *testing.T) {
	_, c, sess := newSandbox(t, brokertest.Options{})
	ctx := context.Background()

	ack, err := c.PlaceOrder(ctx, sess, OrderRequest{
		TradingSymbol: "SBIN-EQ", Side: SideBuy, Quantity: 2,
		PriceType: PriceLimit, Price: decimal.RequireFromString("800.05"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, ack.OrderID)

	orders, err := c.Orders(ctx, sess)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, ack.OrderID, orders[0].OrderID)
	assert.Equal(t, "OPEN", orders[0].Status)
	assert.True(t, decimal.RequireFromString("800.05").Equal(orders[0].Price))
	assert.Equal(t, Int(2), orders[0].Quantity)
	assert.NotEmpty(t, orders[0].Remarks)

	one, err := c.Order(ctx, sess, ack.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "SBIN-EQ", one.TradingSymbol)

	cancel, err := c.CancelOrder(ctx, sess, ack.OrderID)
	require.NoError(t, err)
	assert.Equal(t, ack.OrderID, cancel.OrderID)

	_, err = c.CancelOrder(ctx, sess, ack.OrderID)
	assert.ErrorIs(t, err, ErrOrderRejected)

	_, err = c.Order(ctx, sess, "missing")
	assert.ErrorIs(t, err, ErrAPICallFailed)
}

func TestMarketOrderShowsInTradebook(t *testing.T) {
	_, c, sess := newSandbox(t, brokertest.Options{})
	ctx := context.Background()

	_, err := c.PlaceOrder(ctx, sess, OrderRequest{TradingSymbol: "TCS-EQ", Side: SideSell, Quantity: 3})
	require.NoError(t, err)

	trades, err := c.Trades(ctx, sess)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "TCS-EQ", trades[0].TradingSymbol)
	assert.Equal(t, Int(3), trades[0].Quantity)
}

func TestPlaceOrderRejectedInBody(t *testing.T) {
	_, c, sess := newSandbox(t, brokertest.Options{})
	_, err := c.PlaceOrder(context.Background(), sess, OrderRequest{TradingSymbol: "BANNED-EQ", Side: SideBuy, Quantity: 1})
	assert.ErrorIs(t, err, ErrOrderRejected)
	assert.Contains(t, err.Error(), "ban period")
}

func TestPlaceOrderInvalidSendsNothing(t *testing.T) {
	srv, c, sess := newSandbox(t, brokertest.Options{})
	_, err := c.PlaceOrder(context.Background(), sess, OrderRequest{TradingSymbol: "SBIN-EQ", Side: SideBuy})
	assert.ErrorIs(t, err, ErrInvalidOrder)
	assert.Zero(t, srv.APICalls())
}

func TestGTTLifecycle(t *testing.T) {
	_, c, sess := newSandbox(t, brokertest.Options{})
	ctx := context.Background()

	ack, err := c.PlaceGTT(ctx, sess, GTTRequest{
		TradingSymbol: "infy-eq",
		AlertPrice:    decimal.NewFromInt(1500),
		Price:         decimal.NewFromInt(1502),
		Quantity:      1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, ack.AlertID)

	pending, err := c.GTTOrders(ctx, sess)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ConditionLTPAbove, pending[0].Condition)
	assert.Equal(t, SideBuy, pending[0].Side)
	assert.Equal(t, "INFY-EQ", pending[0].TradingSymbol)
	assert.True(t, decimal.NewFromInt(1500).Equal(pending[0].AlertPrice))

	_, err = c.CancelGTT(ctx, sess, ack.AlertID)
	require.NoError(t, err)
	pending, err = c.GTTOrders(ctx, sess)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestGTTRequestValidate(t *testing.T) {
	req := GTTRequest{TradingSymbol: "SBIN-EQ", Quantity: 1, AlertPrice: decimal.NewFromInt(10)}
	req.Normalize()
	assert.ErrorIs(t, req.Validate(), ErrInvalidOrder)

	req = GTTRequest{TradingSymbol: "SBIN-EQ", Quantity: 1, AlertPrice: decimal.NewFromInt(10), Price: decimal.NewFromInt(10), Condition: "LTP_SIDEWAYS"}
	req.Normalize()
	assert.ErrorIs(t, req.Validate(), ErrInvalidOrder)
}

func TestPortfolio(t *testing.T) {
	_, c, sess := newSandbox(t, brokertest.Options{})
	ctx := context.Background()

	holdings, err := c.Holdings(ctx, sess)
	require.NoError(t, err)
	require.Len(t, holdings, 2)
	assert.Equal(t, Int(10), holdings[0].Quantity)
	assert.Equal(t, Int(4), holdings[1].Quantity)
	assert.True(t, decimal.RequireFromString("1402.1").Equal(holdings[1].AveragePrice))

	positions, err := c.Positions(ctx, sess)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, Int(-2), positions[0].NetQuantity)

	limits, err := c.Limits(ctx, sess)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("125000.50").Equal(limits.Cash))
	assert.Contains(t, string(limits.Raw), "net_available")
}

func TestQuoteResolvesSymbol(t *testing.T) {
	_, c, sess := newSandbox(t, brokertest.Options{})

	q, err := c.Quote(context.Background(), sess, "", "sbin-eq")
	require.NoError(t, err)
	assert.Equal(t, "3045", q.Token)
	assert.Equal(t, "SBIN-EQ", q.TradingSymbol)
	assert.True(t, decimal.RequireFromString("812.35").Equal(q.LastPrice))

	_, err = c.Quote(context.Background(), sess, "NSE", "NOPE-EQ")
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestSecurityInfo(t *testing.T) {
	_, c, sess := newSandbox(t, brokertest.Options{})

	info, err := c.SecurityInfo(context.Background(), sess, "NSE", "TCS-EQ")
	require.NoError(t, err)
	assert.Equal(t, "11536", info.Token)
	assert.Equal(t, "TCS-EQ", info.TradingSymbol)
	assert.Equal(t, "INE467B01029", info.ISIN)
	assert.Equal(t, Int(1), info.LotSize)
	assert.True(t, decimal.RequireFromString("0.05").Equal(info.TickSize))

	_, err = c.SecurityInfo(context.Background(), sess, "NSE", "NOPE-EQ")
	assert.ErrorIs(t, err, ErrUnknownSymbol)

	_, err = c.SecurityInfo(context.Background(), nil, "NSE", "TCS-EQ")
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}
