package broker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/jmcleod/tradedesk/internal/util"
	"github.com/jmcleod/tradedesk/session"
)

// Normalize applies defaults in place.
func (r *GTTRequest) Normalize() {
	r.Exchange = orDefault(strings.ToUpper(strings.TrimSpace(r.Exchange)), ExchangeNSE)
	r.TradingSymbol = util.NormalizeSymbol(r.TradingSymbol)
	r.Side = orDefault(strings.ToUpper(strings.TrimSpace(r.Side)), SideBuy)
	r.Condition = orDefault(strings.ToUpper(strings.TrimSpace(r.Condition)), ConditionLTPAbove)
}

// Validate checks the request after Normalize.
func (r *GTTRequest) Validate() error {
	switch {
	case r.TradingSymbol == "":
		return fmt.Errorf("%w: trading symbol is required", ErrInvalidOrder)
	case r.Side != SideBuy && r.Side != SideSell:
		return fmt.Errorf("%w: side must be BUY or SELL, got %q", ErrInvalidOrder, r.Side)
	case r.Condition != ConditionLTPAbove && r.Condition != ConditionLTPBelow:
		return fmt.Errorf("%w: unknown condition %q", ErrInvalidOrder, r.Condition)
	case r.Quantity <= 0:
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	case !r.AlertPrice.IsPositive():
		return fmt.Errorf("%w: alert price must be positive", ErrInvalidOrder)
	case !r.Price.IsPositive():
		return fmt.Errorf("%w: order price must be positive", ErrInvalidOrder)
	}
	return nil
}

// PlaceGTT registers a trigger order.
func (c *Client) PlaceGTT(ctx context.Context, sess *session.Session, req GTTRequest) (GTTAck, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return GTTAck{}, err
	}
	raw, err := c.Call(ctx, sess, http.MethodPost, "/gttplaceorder", nil, req)
	if err != nil {
		return GTTAck{}, err
	}
	var ack GTTAck
	if err := decode(raw, &ack, "trigger order acknowledgement"); err != nil {
		return GTTAck{}, err
	}
	if strings.EqualFold(ack.Status, statusError) {
		return ack, fmt.Errorf("%w: %s", ErrOrderRejected, ack.Message)
	}
	c.logger.Info("trigger order placed",
		"alert_id", ack.AlertID,
		"symbol", req.TradingSymbol,
		"condition", req.Condition,
		"alert_price", req.AlertPrice.String())
	return ack, nil
}

// GTTOrders returns pending trigger orders.
func (c *Client) GTTOrders(ctx context.Context, sess *session.Session) ([]GTTOrder, error) {
	raw, err := c.Call(ctx, sess, http.MethodGet, "/gttorders", nil, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Pending []GTTOrder `json:"pendingGTTOrderBook"`
	}
	if err := decode(raw, &resp, "trigger order book"); err != nil {
		return nil, err
	}
	if resp.Pending == nil {
		resp.Pending = []GTTOrder{}
	}
	return resp.Pending, nil
}

// CancelGTT removes a pending trigger order.
func (c *Client) CancelGTT(ctx context.Context, sess *session.Session, alertID string) (GTTAck, error) {
	raw, err := c.Call(ctx, sess, http.MethodGet, "/gttcancel/"+url.PathEscape(alertID), nil, nil)
	if err != nil {
		return GTTAck{}, err
	}
	var ack GTTAck
	if err := decode(raw, &ack, "trigger cancel acknowledgement"); err != nil {
		return GTTAck{}, err
	}
	if strings.EqualFold(ack.Status, statusError) {
		return ack, fmt.Errorf("%w: %s", ErrOrderRejected, ack.Message)
	}
	if ack.AlertID == "" {
		ack.AlertID = alertID
	}
	return ack, nil
}
