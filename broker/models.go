package broker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Order sides, price types and products.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	PriceMarket   = "MARKET"
	PriceLimit    = "LIMIT"
	PriceSLMarket = "SL-MARKET"
	PriceSLLimit  = "SL-LIMIT"

	ProductIntraday = "INTRADAY"
	ProductNormal   = "NORMAL"
	ProductCNC      = "CNC"

	ExchangeNSE = "NSE"
	ExchangeBSE = "BSE"
	ExchangeNFO = "NFO"

	ConditionLTPAbove = "LTP_ABOVE"
	ConditionLTPBelow = "LTP_BELOW"
)

// Int decodes integers the broker sends either bare or quoted.
type Int int64

func (n *Int) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(bytes.TrimSpace(b), `"`)
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(string(b), 64)
		if ferr != nil {
			return fmt.Errorf("invalid integer %q", b)
		}
		v = int64(f)
	}
	*n = Int(v)
	return nil
}

func (n Int) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(n), 10)), nil
}

// OrderRequest is a new order. Zero Exchange, Product and PriceType take
// NSE, INTRADAY and MARKET.
type OrderRequest struct {
	Exchange      string          `json:"exchange"`
	TradingSymbol string          `json:"tradingsymbol"`
	Side          string          `json:"order_type"`
	Quantity      int64           `json:"quantity"`
	PriceType     string          `json:"price_type"`
	Product       string          `json:"product_type"`
	Price         decimal.Decimal `json:"price"`
	TriggerPrice  decimal.Decimal `json:"trigger_price"`
	Validity      string          `json:"validity,omitempty"`
	Remarks       string          `json:"remarks,omitempty"`
}

// OrderAck is the broker's answer to a placement or cancellation.
type OrderAck struct {
	Status  string `json:"status"`
	OrderID string `json:"order_id"`
	Message string `json:"message"`
}

// Order is one row of the order book.
type Order struct {
	OrderID         string          `json:"order_id"`
	Exchange        string          `json:"exchange"`
	TradingSymbol   string          `json:"tradingsymbol"`
	Side            string          `json:"order_type"`
	PriceType       string          `json:"price_type"`
	Product         string          `json:"product_type"`
	Quantity        Int             `json:"quantity"`
	FilledQuantity  Int             `json:"filled_qty"`
	PendingQuantity Int             `json:"pending_qty"`
	Price           decimal.Decimal `json:"price"`
	TriggerPrice    decimal.Decimal `json:"trigger_price"`
	AveragePrice    decimal.Decimal `json:"average_traded_price"`
	Status          string          `json:"order_status"`
	Message         string          `json:"message"`
	EntryTime       string          `json:"order_entry_time"`
	ExchangeOrderID string          `json:"exchange_orderid"`
	Remarks         string          `json:"remarks"`
}

// Trade is one row of the tradebook.
type Trade struct {
	OrderID       string          `json:"order_id"`
	TradeID       string          `json:"fill_id"`
	Exchange      string          `json:"exchange"`
	TradingSymbol string          `json:"tradingsymbol"`
	Side          string          `json:"order_type"`
	Product       string          `json:"product_type"`
	Quantity      Int             `json:"filled_qty"`
	Price         decimal.Decimal `json:"fill_price"`
	Time          string          `json:"fill_time"`
}

// GTTRequest is a new trigger order. Zero Exchange, Side and Condition
// take NSE, BUY and LTP_ABOVE.
type GTTRequest struct {
	Exchange      string          `json:"exchange"`
	TradingSymbol string          `json:"tradingsymbol"`
	Side          string          `json:"order_type"`
	Condition     string          `json:"condition"`
	AlertPrice    decimal.Decimal `json:"alert_price"`
	Price         decimal.Decimal `json:"price"`
	Quantity      int64           `json:"quantity"`
}

// GTTAck is the broker's answer to a trigger order placement or
// cancellation.
type GTTAck struct {
	Status  string `json:"status"`
	AlertID string `json:"alert_id"`
	Message string `json:"message"`
}

// GTTOrder is one pending trigger order.
type GTTOrder struct {
	AlertID       string          `json:"alert_id"`
	Exchange      string          `json:"exchange"`
	TradingSymbol string          `json:"tradingsymbol"`
	Side          string          `json:"order_type"`
	Condition     string          `json:"condition"`
	AlertPrice    decimal.Decimal `json:"alert_price"`
	Price         decimal.Decimal `json:"price"`
	Quantity      Int             `json:"quantity"`
	Product       string          `json:"product_type"`
	CreatedAt     string          `json:"order_time"`
}

// Holding is one demat holding.
type Holding struct {
	TradingSymbol string          `json:"tradingsymbol"`
	Exchange      string          `json:"exchange"`
	ISIN          string          `json:"isin"`
	Quantity      Int             `json:"dp_qty"`
	T1Quantity    Int             `json:"t1_qty"`
	AveragePrice  decimal.Decimal `json:"avg_buy_price"`
	LastPrice     decimal.Decimal `json:"ltp"`
}

// Position is one open or closed intraday position.
type Position struct {
	TradingSymbol string          `json:"tradingsymbol"`
	Exchange      string          `json:"exchange"`
	Product       string          `json:"product_type"`
	NetQuantity   Int             `json:"net_quantity"`
	NetAvgPrice   decimal.Decimal `json:"net_averageprice"`
	LastPrice     decimal.Decimal `json:"lastPrice"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// Limits is the account's cash and margin summary.
type Limits struct {
	Cash         decimal.Decimal `json:"cash"`
	MarginUsed   decimal.Decimal `json:"marginused"`
	PayIn        decimal.Decimal `json:"payin"`
	PayOut       decimal.Decimal `json:"payout"`
	Collateral   decimal.Decimal `json:"collateral"`
	NetAvailable decimal.Decimal `json:"net_available"`
	Raw          json.RawMessage `json:"-"`
}

// Quote is a market snapshot for one instrument.
type Quote struct {
	Exchange      string          `json:"exchange"`
	TradingSymbol string          `json:"tradingsymbol"`
	Token         string          `json:"token"`
	LastPrice     decimal.Decimal `json:"ltp"`
	Open          decimal.Decimal `json:"day_open"`
	High          decimal.Decimal `json:"day_high"`
	Low           decimal.Decimal `json:"day_low"`
	Close         decimal.Decimal `json:"day_close"`
	Volume        Int             `json:"volume"`
	BestBid       decimal.Decimal `json:"best_bid_price1"`
	BestAsk       decimal.Decimal `json:"best_ask_price1"`
	LastTradeTime string          `json:"last_trade_time"`
}

// SecurityInfo is the static description of an instrument.
type SecurityInfo struct {
	Exchange       string          `json:"exchange"`
	TradingSymbol  string          `json:"tradingsymbol"`
	Token          string          `json:"token"`
	Symbol         string          `json:"symbol"`
	CompanyName    string          `json:"company_name"`
	InstrumentType string          `json:"instrument_type"`
	ISIN           string          `json:"isin"`
	LotSize        Int             `json:"lotsize"`
	TickSize       decimal.Decimal `json:"ticksize"`
	PricePrecision Int             `json:"price_precision"`
	UpperCircuit   decimal.Decimal `json:"upper_circuit"`
	LowerCircuit   decimal.Decimal `json:"lower_circuit"`
}
