package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jmcleod/tradedesk/broker"
	"github.com/jmcleod/tradedesk/session"
)

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// LoginRequest is the JSON body for POST /auth/login. An absent AutoOTP
// uses the server's configured preference.
type LoginRequest struct {
	OTP     string `json:"otp,omitempty"`
	AutoOTP *bool  `json:"auto_otp,omitempty"`
	Force   bool   `json:"force,omitempty"`
}

// SessionResponse describes the dashboard's login state.
type SessionResponse struct {
	State           string    `json:"state"`
	LoggedIn        bool      `json:"logged_in"`
	UserID          string    `json:"uid,omitempty"`
	AccountID       string    `json:"actid,omitempty"`
	Origin          string    `json:"origin,omitempty"`
	EstablishedAt   time.Time `json:"established_at,omitzero"`
	LastError       string    `json:"last_error,omitempty"`
	AutoOTP         bool      `json:"auto_otp"`
	CredentialPanel bool      `json:"credential_panel"`
}

// CredentialsRequest is the JSON body for PUT /auth/credentials. Empty
// members leave the stored value unchanged unless Clear is set.
type CredentialsRequest struct {
	APIToken   string `json:"api_token,omitempty"`
	APISecret  string `json:"api_secret,omitempty"`
	TOTPSecret string `json:"totp_secret,omitempty"`
	Clear      bool   `json:"clear,omitempty"`
}

// CredentialsResponse lists which keys the panel currently holds.
type CredentialsResponse struct {
	Keys []string `json:"keys"`
}

// PlaceOrderRequest is the JSON body for POST /orders.
type PlaceOrderRequest struct {
	Exchange     string          `json:"exchange,omitempty"`
	Symbol       string          `json:"symbol"`
	Side         string          `json:"side"`
	Quantity     int64           `json:"quantity"`
	PriceType    string          `json:"price_type,omitempty"`
	Product      string          `json:"product,omitempty"`
	Price        decimal.Decimal `json:"price"`
	TriggerPrice decimal.Decimal `json:"trigger_price"`
	Validity     string          `json:"validity,omitempty"`
}

func (p PlaceOrderRequest) toBroker() broker.OrderRequest {
	return broker.OrderRequest{
		Exchange:      p.Exchange,
		TradingSymbol: p.Symbol,
		Side:          p.Side,
		Quantity:      p.Quantity,
		PriceType:     p.PriceType,
		Product:       p.Product,
		Price:         p.Price,
		TriggerPrice:  p.TriggerPrice,
		Validity:      p.Validity,
	}
}

// PlaceGTTRequest is the JSON body for POST /gtt.
type PlaceGTTRequest struct {
	Exchange   string          `json:"exchange,omitempty"`
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side,omitempty"`
	Condition  string          `json:"condition,omitempty"`
	AlertPrice decimal.Decimal `json:"trigger_price"`
	Price      decimal.Decimal `json:"price"`
	Quantity   int64           `json:"quantity"`
}

func (p PlaceGTTRequest) toBroker() broker.GTTRequest {
	return broker.GTTRequest{
		Exchange:      p.Exchange,
		TradingSymbol: p.Symbol,
		Side:          p.Side,
		Condition:     p.Condition,
		AlertPrice:    p.AlertPrice,
		Price:         p.Price,
		Quantity:      p.Quantity,
	}
}

// OrdersResponse is returned from GET /orders.
type OrdersResponse struct {
	Orders []broker.Order `json:"orders"`
}

// TradesResponse is returned from GET /trades.
type TradesResponse struct {
	Trades []broker.Trade `json:"trades"`
}

// GTTOrdersResponse is returned from GET /gtt.
type GTTOrdersResponse struct {
	Orders []broker.GTTOrder `json:"orders"`
}

// HoldingsResponse is returned from GET /portfolio/holdings.
type HoldingsResponse struct {
	Holdings []broker.Holding `json:"holdings"`
}

// PositionsResponse is returned from GET /portfolio/positions.
type PositionsResponse struct {
	Positions []broker.Position `json:"positions"`
}

// HistoryResponse is returned from GET /history/{exchange}/{symbol}.
type HistoryResponse struct {
	Exchange  string       `json:"exchange"`
	Symbol    string       `json:"symbol"`
	Timeframe string       `json:"timeframe"`
	From      time.Time    `json:"from"`
	To        time.Time    `json:"to"`
	Bars      []broker.Bar `json:"bars"`
}

// SymbolsResponse is returned from GET /symbols.
type SymbolsResponse struct {
	Symbols []broker.Instrument `json:"symbols"`
	PaginationMeta
}

func sessionResponse(st session.Status, autoOTP, panel bool) SessionResponse {
	resp := SessionResponse{
		State:           st.State.String(),
		LastError:       st.LastError,
		AutoOTP:         autoOTP,
		CredentialPanel: panel,
	}
	if s := st.Session; s != nil {
		resp.LoggedIn = true
		resp.UserID = s.UserID
		resp.AccountID = s.AccountID
		resp.Origin = string(s.Origin)
		resp.EstablishedAt = s.EstablishedAt
	}
	return resp
}
