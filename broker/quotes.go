package broker

import (
	"context"
	"net/http"
	"net/url"

	"github.com/jmcleod/tradedesk/session"
)

// Quote resolves symbol through the master and fetches its snapshot.
func (c *Client) Quote(ctx context.Context, sess *session.Session, exchange, symbol string) (Quote, error) {
	if !sess.IsActive() {
		return Quote{}, ErrNotLoggedIn
	}
	in, err := c.symbols.Lookup(exchange, symbol)
	if err != nil {
		return Quote{}, err
	}
	raw, err := c.Call(ctx, sess, http.MethodGet, "/quotes/"+url.PathEscape(in.Segment)+"/"+url.PathEscape(in.Token), nil, nil)
	if err != nil {
		return Quote{}, err
	}
	var q Quote
	if err := decode(raw, &q, "quote"); err != nil {
		return Quote{}, err
	}
	if q.TradingSymbol == "" {
		q.TradingSymbol = in.TradingSymbol
	}
	if q.Exchange == "" {
		q.Exchange = in.Segment
	}
	if q.Token == "" {
		q.Token = in.Token
	}
	return q, nil
}

// SecurityInfo resolves symbol through the master and fetches its static
// details: lot and tick size, circuit limits and ISIN.
func (c *Client) SecurityInfo(ctx context.Context, sess *session.Session, exchange, symbol string) (SecurityInfo, error) {
	if !sess.IsActive() {
		return SecurityInfo{}, ErrNotLoggedIn
	}
	in, err := c.symbols.Lookup(exchange, symbol)
	if err != nil {
		return SecurityInfo{}, err
	}
	raw, err := c.Call(ctx, sess, http.MethodGet, "/securityinfo/"+url.PathEscape(in.Segment)+"/"+url.PathEscape(in.Token), nil, nil)
	if err != nil {
		return SecurityInfo{}, err
	}
	var info SecurityInfo
	if err := decode(raw, &info, "security info"); err != nil {
		return SecurityInfo{}, err
	}
	if info.TradingSymbol == "" {
		info.TradingSymbol = in.TradingSymbol
	}
	if info.Exchange == "" {
		info.Exchange = in.Segment
	}
	if info.Token == "" {
		info.Token = in.Token
	}
	return info, nil
}
