package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/jmcleod/tradedesk/internal/uuid"
	"github.com/jmcleod/tradedesk/internal/util"
	"github.com/jmcleod/tradedesk/session"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidOrder is returned before sending an order that cannot be
	// valid.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrOrderRejected is a 2xx response whose status field says ERROR.
	ErrOrderRejected = errors.New("order rejected")
)

const statusError = "ERROR"

// Normalize applies defaults and upper-cases enumerations in place.
func (r *OrderRequest) Normalize() {
	r.Exchange = orDefault(strings.ToUpper(strings.TrimSpace(r.Exchange)), ExchangeNSE)
	r.TradingSymbol = util.NormalizeSymbol(r.TradingSymbol)
	r.Side = strings.ToUpper(strings.TrimSpace(r.Side))
	r.PriceType = orDefault(strings.ToUpper(strings.TrimSpace(r.PriceType)), PriceMarket)
	r.Product = orDefault(strings.ToUpper(strings.TrimSpace(r.Product)), ProductIntraday)
	r.Validity = orDefault(strings.ToUpper(strings.TrimSpace(r.Validity)), "DAY")
}

// Validate checks the request after Normalize.
func (r *OrderRequest) Validate() error {
	switch {
	case r.TradingSymbol == "":
		return fmt.Errorf("%w: trading symbol is required", ErrInvalidOrder)
	case r.Side != SideBuy && r.Side != SideSell:
		return fmt.Errorf("%w: side must be BUY or SELL, got %q", ErrInvalidOrder, r.Side)
	case r.Quantity <= 0:
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	case r.Price.IsNegative() || r.TriggerPrice.IsNegative():
		return fmt.Errorf("%w: prices cannot be negative", ErrInvalidOrder)
	}
	switch r.PriceType {
	case PriceMarket:
	case PriceLimit:
		if !r.Price.IsPositive() {
			return fmt.Errorf("%w: LIMIT orders need a positive price", ErrInvalidOrder)
		}
	case PriceSLMarket:
		if !r.TriggerPrice.IsPositive() {
			return fmt.Errorf("%w: SL-MARKET orders need a positive trigger price", ErrInvalidOrder)
		}
	case PriceSLLimit:
		if !r.Price.IsPositive() || !r.TriggerPrice.IsPositive() {
			return fmt.Errorf("%w: SL-LIMIT orders need positive price and trigger price", ErrInvalidOrder)
		}
	default:
		return fmt.Errorf("%w: unknown price type %q", ErrInvalidOrder, r.PriceType)
	}
	return nil
}

// PlaceOrder validates and submits an order.
func (c *Client) PlaceOrder(ctx context.Context, sess *session.Session, req OrderRequest) (OrderAck, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return OrderAck{}, err
	}
	if req.PriceType == PriceMarket || req.PriceType == PriceSLMarket {
		req.Price = decimal.Zero
	}
	if req.Remarks == "" {
		req.Remarks = "td-" + uuid.Short()
	}

	raw, err := c.Call(ctx, sess, http.MethodPost, "/placeorder", nil, req)
	if err != nil {
		return OrderAck{}, err
	}
	var ack OrderAck
	if err := decode(raw, &ack, "order acknowledgement"); err != nil {
		return OrderAck{}, err
	}
	if strings.EqualFold(ack.Status, statusError) {
		return ack, fmt.Errorf("%w: %s", ErrOrderRejected, ack.Message)
	}
	c.logger.Info("order placed",
		"order_id", ack.OrderID,
		"symbol", req.TradingSymbol,
		"side", req.Side,
		"quantity", req.Quantity,
		"price_type", req.PriceType)
	return ack, nil
}

// Orders returns the day's order book.
func (c *Client) Orders(ctx context.Context, sess *session.Session) ([]Order, error) {
	raw, err := c.Call(ctx, sess, http.MethodGet, "/orders", nil, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Orders []Order `json:"orders"`
	}
	if err := decode(raw, &resp, "order book"); err != nil {
		return nil, err
	}
	if resp.Orders == nil {
		resp.Orders = []Order{}
	}
	return resp.Orders, nil
}

// Order returns a single order by id.
func (c *Client) Order(ctx context.Context, sess *session.Session, orderID string) (Order, error) {
	raw, err := c.Call(ctx, sess, http.MethodGet, "/order/"+url.PathEscape(orderID), nil, nil)
	if err != nil {
		return Order{}, err
	}
	var o Order
	if err := decode(raw, &o, "order"); err != nil {
		return Order{}, err
	}
	return o, nil
}

// CancelOrder cancels an open order.
func (c *Client) CancelOrder(ctx context.Context, sess *session.Session, orderID string) (OrderAck, error) {
	raw, err := c.Call(ctx, sess, http.MethodGet, "/cancel/"+url.PathEscape(orderID), nil, nil)
	if err != nil {
		return OrderAck{}, err
	}
	var ack OrderAck
	if err := decode(raw, &ack, "cancel acknowledgement"); err != nil {
		return OrderAck{}, err
	}
	if strings.EqualFold(ack.Status, statusError) {
		return ack, fmt.Errorf("%w: %s", ErrOrderRejected, ack.Message)
	}
	if ack.OrderID == "" {
		ack.OrderID = orderID
	}
	return ack, nil
}

// Trades returns the day's tradebook.
func (c *Client) Trades(ctx context.Context, sess *session.Session) ([]Trade, error) {
	raw, err := c.Call(ctx, sess, http.MethodGet, "/trades", nil, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Trades []Trade `json:"trades"`
	}
	if err := decode(raw, &resp, "tradebook"); err != nil {
		return nil, err
	}
	if resp.Trades == nil {
		resp.Trades = []Trade{}
	}
	return resp.Trades, nil
}
