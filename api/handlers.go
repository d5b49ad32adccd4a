package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/tradedesk/broker"
)

// ListOrders handles GET /orders.
func (a *API) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := a.broker.Orders(r.Context(), sessionFromContext(r.Context()))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OrdersResponse{Orders: nonNil(orders)})
}

// PlaceOrder handles POST /orders.
func (a *API) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[PlaceOrderRequest](w, r, maxOrderBodySize)
	if !ok {
		return
	}
	sess := sessionFromContext(r.Context())
	ack, err := a.broker.PlaceOrder(r.Context(), sess, req.toBroker())
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.logEvent(AuditOrderPlaced, r, sess.AccountID,
		slog.String("order_id", ack.OrderID),
		slog.String("symbol", req.Symbol),
		slog.String("side", req.Side),
		slog.Int64("quantity", req.Quantity))
	writeJSON(w, http.StatusCreated, ack)
}

// GetOrder handles GET /orders/{orderID}.
func (a *API) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.broker.Order(r.Context(), sessionFromContext(r.Context()), chi.URLParam(r, "orderID"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// CancelOrder handles DELETE /orders/{orderID}.
func (a *API) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	sess := sessionFromContext(r.Context())
	ack, err := a.broker.CancelOrder(r.Context(), sess, orderID)
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.logEvent(AuditOrderCancelled, r, sess.AccountID, slog.String("order_id", orderID))
	writeJSON(w, http.StatusOK, ack)
}

// ListTrades handles GET /trades.
func (a *API) ListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := a.broker.Trades(r.Context(), sessionFromContext(r.Context()))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TradesResponse{Trades: nonNil(trades)})
}

// ListGTT handles GET /gtt.
func (a *API) ListGTT(w http.ResponseWriter, r *http.Request) {
	orders, err := a.broker.GTTOrders(r.Context(), sessionFromContext(r.Context()))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, GTTOrdersResponse{Orders: nonNil(orders)})
}

// PlaceGTT handles POST /gtt.
func (a *API) PlaceGTT(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[PlaceGTTRequest](w, r, maxOrderBodySize)
	if !ok {
		return
	}
	sess := sessionFromContext(r.Context())
	ack, err := a.broker.PlaceGTT(r.Context(), sess, req.toBroker())
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.logEvent(AuditGTTPlaced, r, sess.AccountID,
		slog.String("alert_id", ack.AlertID),
		slog.String("symbol", req.Symbol),
		slog.String("trigger_price", req.AlertPrice.String()))
	writeJSON(w, http.StatusCreated, ack)
}

// CancelGTT handles DELETE /gtt/{alertID}.
func (a *API) CancelGTT(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "alertID")
	sess := sessionFromContext(r.Context())
	ack, err := a.broker.CancelGTT(r.Context(), sess, alertID)
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.logEvent(AuditGTTCancelled, r, sess.AccountID, slog.String("alert_id", alertID))
	writeJSON(w, http.StatusOK, ack)
}

// Holdings handles GET /portfolio/holdings.
func (a *API) Holdings(w http.ResponseWriter, r *http.Request) {
	holdings, err := a.broker.Holdings(r.Context(), sessionFromContext(r.Context()))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HoldingsResponse{Holdings: nonNil(holdings)})
}

// Positions handles GET /portfolio/positions.
func (a *API) Positions(w http.ResponseWriter, r *http.Request) {
	positions, err := a.broker.Positions(r.Context(), sessionFromContext(r.Context()))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PositionsResponse{Positions: nonNil(positions)})
}

// Limits handles GET /portfolio/limits.
func (a *API) Limits(w http.ResponseWriter, r *http.Request) {
	limits, err := a.broker.Limits(r.Context(), sessionFromContext(r.Context()))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, limits)
}

// GetQuote handles GET /quotes/{exchange}/{symbol}.
func (a *API) GetQuote(w http.ResponseWriter, r *http.Request) {
	q, err := a.broker.Quote(r.Context(), sessionFromContext(r.Context()),
		chi.URLParam(r, "exchange"), chi.URLParam(r, "symbol"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// GetSecurityInfo handles GET /securityinfo/{exchange}/{symbol}.
func (a *API) GetSecurityInfo(w http.ResponseWriter, r *http.Request) {
	info, err := a.broker.SecurityInfo(r.Context(), sessionFromContext(r.Context()),
		chi.URLParam(r, "exchange"), chi.URLParam(r, "symbol"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// queryTimeLayouts are accepted for the history "from" and "to" values.
// Zone-less values are read as exchange time.
var queryTimeLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"}

func parseQueryTime(v string) (time.Time, bool) {
	for _, layout := range queryTimeLayouts {
		if t, err := time.ParseInLocation(layout, v, broker.IST); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// GetHistory handles GET /history/{exchange}/{symbol}.
func (a *API) GetHistory(w http.ResponseWriter, r *http.Request) {
	req := broker.HistoryRequest{
		Exchange:  chi.URLParam(r, "exchange"),
		Symbol:    chi.URLParam(r, "symbol"),
		Timeframe: r.URL.Query().Get("timeframe"),
	}
	for key, dst := range map[string]*time.Time{"from": &req.From, "to": &req.To} {
		v := r.URL.Query().Get(key)
		if v == "" {
			continue
		}
		t, ok := parseQueryTime(v)
		if !ok {
			writeError(w, http.StatusBadRequest, KindInvalidRequest, "cannot parse "+key+" "+v)
			return
		}
		*dst = t
	}

	if err := a.broker.NormalizeHistory(&req); err != nil {
		mapError(w, err)
		return
	}
	bars, err := a.broker.History(r.Context(), sessionFromContext(r.Context()), req)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{
		Exchange:  req.Exchange,
		Symbol:    req.Symbol,
		Timeframe: req.Timeframe,
		From:      req.From,
		To:        req.To,
		Bars:      nonNil(bars),
	})
}

// SearchSymbols handles GET /symbols. It reads the local master only.
func (a *API) SearchSymbols(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, KindInvalidRequest, "q is required")
		return
	}
	matches := a.broker.Symbols().Search(q, r.URL.Query().Get("exchange"))
	page, meta := paginate(r, matches)
	writeJSON(w, http.StatusOK, SymbolsResponse{Symbols: nonNil(page), PaginationMeta: meta})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
