package broker

import (
	"context"
	"net/http"

	"github.com/jmcleod/tradedesk/session"
)

// Holdings returns demat holdings.
func (c *Client) Holdings(ctx context.Context, sess *session.Session) ([]Holding, error) {
	raw, err := c.Call(ctx, sess, http.MethodGet, "/holdings", nil, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []Holding `json:"data"`
	}
	if err := decode(raw, &resp, "holdings"); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		resp.Data = []Holding{}
	}
	return resp.Data, nil
}

// Positions returns the day's positions.
func (c *Client) Positions(ctx context.Context, sess *session.Session) ([]Position, error) {
	raw, err := c.Call(ctx, sess, http.MethodGet, "/positions", nil, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Positions []Position `json:"positions"`
	}
	if err := decode(raw, &resp, "positions"); err != nil {
		return nil, err
	}
	if resp.Positions == nil {
		resp.Positions = []Position{}
	}
	return resp.Positions, nil
}

// Limits returns cash and margin figures. Raw keeps the full response for
// fields not modelled here.
func (c *Client) Limits(ctx context.Context, sess *session.Session) (Limits, error) {
	raw, err := c.Call(ctx, sess, http.MethodGet, "/limits", nil, nil)
	if err != nil {
		return Limits{}, err
	}
	var l Limits
	if err := decode(raw, &l, "limits"); err != nil {
		return Limits{}, err
	}
	l.Raw = raw
	return l, nil
}
