// Package brokertest runs an in-process imitation of the Integrate login,
// trading, data and streaming endpoints for tests and local demos.
package brokertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/jmcleod/tradedesk/internal/uuid"
	"github.com/jmcleod/tradedesk/totp"
)

// MasterCSV is a small symbols master matching the server's instruments.
const MasterCSV = `trading_symbol,token,segment,lot_size,tick_size
SBIN-EQ,3045,NSE,1,0.05
TCS-EQ,11536,NSE,1,0.05
INFY-EQ,1594,NSE,1,0.05
RELIANCE-EQ,2885,NSE,1,0.05
SBIN,500112,BSE,1,0.05
`

// Options script the server's login behaviour.
type Options struct {
	Token  string
	Secret string
	// SharedSecret, when set, makes the token endpoint verify TOTP codes.
	SharedSecret string
	// RequireCode rejects logins that carry no code.
	RequireCode bool
	// RejectCodeParam makes the token endpoint refuse any otp member as an
	// unknown parameter.
	RejectCodeParam bool
	// OmitTransportKey drops susertoken from the login response.
	OmitTransportKey bool
	Now              func() time.Time
}

// LoginAttempt records one call to the token endpoint.
type LoginAttempt struct {
	HadCode bool
	Code    string
	Status  int
}

// Server is an httptest.Server with broker state.
type Server struct {
	*httptest.Server

	opts Options

	mu         sync.Mutex
	otpTokens  map[string]bool
	sessions   map[string]string // api key -> transport key
	attempts   []LoginAttempt
	apiCalls   int
	orders     []map[string]any
	gtts       []map[string]any
	nextID     int
	lastPrices map[string]string
}

// New starts a Server. Zero Token and Secret default to "abc" and "xyz".
func New(opts Options) *Server {
	if opts.Token == "" {
		opts.Token = "abc"
	}
	if opts.Secret == "" {
		opts.Secret = "xyz"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{
		opts:      opts,
		otpTokens: map[string]bool{},
		sessions:  map[string]string{},
		nextID:    1000,
		lastPrices: map[string]string{
			"3045": "812.35", "11536": "3920.10", "1594": "1450.00", "2885": "2875.55", "500112": "812.40",
		},
	}

	r := chi.NewRouter()
	r.Route("/auth", func(r chi.Router) {
		r.Get("/login/{token}", s.handleBeginLogin)
		r.Post("/token", s.handleToken)
	})
	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireSession)
		r.Post("/placeorder", s.handlePlaceOrder)
		r.Get("/orders", s.handleOrders)
		r.Get("/order/{id}", s.handleOrder)
		r.Get("/cancel/{id}", s.handleCancel)
		r.Get("/trades", s.handleTrades)
		r.Post("/gttplaceorder", s.handlePlaceGTT)
		r.Get("/gttorders", s.handleGTTOrders)
		r.Get("/gttcancel/{id}", s.handleCancelGTT)
		r.Get("/holdings", s.handleHoldings)
		r.Get("/positions", s.handlePositions)
		r.Get("/limits", s.handleLimits)
		r.Get("/quotes/{exchange}/{token}", s.handleQuote)
		r.Get("/securityinfo/{exchange}/{token}", s.handleSecurityInfo)
	})
	r.Route("/data", func(r chi.Router) {
		r.Use(s.requireSession)
		r.Get("/history/{segment}/{token}/{timeframe}/{from}/{to}", s.handleHistory)
	})
	r.Get("/ws", s.handleStream)

	s.Server = httptest.NewServer(r)
	return s
}

func (s *Server) AuthURL() string { return s.URL + "/auth" }
func (s *Server) APIURL() string  { return s.URL + "/api" }
func (s *Server) DataURL() string { return s.URL + "/data" }

// StreamURL is the websocket endpoint.
func (s *Server) StreamURL() string { return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws" }

// LoginAttempts returns token endpoint calls in order.
func (s *Server) LoginAttempts() []LoginAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LoginAttempt(nil), s.attempts...)
}

// APICalls counts trading and data API requests, including rejected ones.
func (s *Server) APICalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apiCalls
}

// ExpireSessions invalidates every issued session key.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	s.sessions = map[string]string{}
	s.mu.Unlock()
}

// AddSession registers a pre-existing session, as if restored from disk.
func (s *Server) AddSession(apiKey, transportKey string) {
	s.mu.Lock()
	s.sessions[apiKey] = transportKey
	s.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleBeginLogin(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "token") != s.opts.Token || r.Header.Get("api_secret") != s.opts.Secret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid API token or secret"})
		return
	}
	tok := "otp-" + uuid.Short()
	s.mu.Lock()
	s.otpTokens[tok] = true
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"otp_token": tok, "message": "OTP sent"})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid json"})
		return
	}
	code, hadCode := body["otp"]
	status, resp := s.token(body["otp_token"], code, hadCode)

	s.mu.Lock()
	s.attempts = append(s.attempts, LoginAttempt{HadCode: hadCode, Code: code, Status: status})
	s.mu.Unlock()
	writeJSON(w, status, resp)
}

func (s *Server) token(otpToken, code string, hadCode bool) (int, any) {
	if hadCode && s.opts.RejectCodeParam {
		return http.StatusBadRequest, map[string]string{"code": "UNKNOWN_PARAMETER", "message": "unknown parameter: otp"}
	}
	s.mu.Lock()
	valid := s.otpTokens[otpToken]
	delete(s.otpTokens, otpToken)
	s.mu.Unlock()
	if !valid {
		return http.StatusUnauthorized, map[string]string{"message": "otp_token expired"}
	}
	if !hadCode && s.opts.RequireCode {
		return http.StatusUnauthorized, map[string]string{"message": "OTP required"}
	}
	if hadCode && s.opts.SharedSecret != "" && !totp.Verify(s.opts.SharedSecret, code, s.opts.Now()) {
		return http.StatusUnauthorized, map[string]string{"message": "Invalid OTP"}
	}

	apiKey, wsKey := "api-"+uuid.Short(), "ws-"+uuid.Short()
	s.mu.Lock()
	s.sessions[apiKey] = wsKey
	s.mu.Unlock()

	resp := map[string]string{
		"uid":             "DU0001",
		"actid":           "ACC0001",
		"api_session_key": apiKey,
		"susertoken":      wsKey,
		"stat":            "Ok",
	}
	if s.opts.OmitTransportKey {
		delete(resp, "susertoken")
	}
	return http.StatusOK, resp
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		s.apiCalls++
		wsKey, ok := s.sessions[apiKey]
		s.mu.Unlock()
		if !ok || wsKey != r.Header.Get("X-Transport-Session") {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"status": "ERROR", "message": "Session Expired"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) newID() string {
	s.nextID++
	return fmt.Sprint(s.nextID)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "ERROR", "message": "invalid json"})
		return
	}
	if req["tradingsymbol"] == "BANNED-EQ" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ERROR", "message": "Symbol is in ban period"})
		return
	}
	s.mu.Lock()
	id := s.newID()
	req["order_id"] = id
	req["order_status"] = "OPEN"
	req["order_entry_time"] = s.opts.Now().In(ist).Format("02-01-2006 15:04:05")
	if req["price_type"] == "MARKET" {
		req["order_status"] = "COMPLETE"
		req["filled_qty"] = req["quantity"]
	}
	s.orders = append(s.orders, req)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "SUCCESS", "order_id": id, "message": "Order placed successfully"})
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	orders := append([]map[string]any(nil), s.orders...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"status": "SUCCESS", "orders": orders})
}

func (s *Server) findOrder(id string) map[string]any {
	for _, o := range s.orders {
		if o["order_id"] == id {
			return o
		}
	}
	return nil
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	o := s.findOrder(chi.URLParam(r, "id"))
	s.mu.Unlock()
	if o == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "ERROR", "message": "order not found"})
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.findOrder(id)
	switch {
	case o == nil:
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "ERROR", "message": "order not found"})
	case o["order_status"] != "OPEN":
		writeJSON(w, http.StatusOK, map[string]string{"status": "ERROR", "order_id": id, "message": "Order is not open"})
	default:
		o["order_status"] = "CANCELED"
		writeJSON(w, http.StatusOK, map[string]string{"status": "SUCCESS", "order_id": id, "message": "Order cancelled"})
	}
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	var trades []map[string]any
	for _, o := range s.orders {
		if o["order_status"] != "COMPLETE" {
			continue
		}
		trades = append(trades, map[string]any{
			"order_id":      o["order_id"],
			"fill_id":       "F" + fmt.Sprint(o["order_id"]),
			"exchange":      o["exchange"],
			"tradingsymbol": o["tradingsymbol"],
			"order_type":    o["order_type"],
			"product_type":  o["product_type"],
			"filled_qty":    o["quantity"],
			"fill_price":    "812.35",
			"fill_time":     o["order_entry_time"],
		})
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"status": "SUCCESS", "trades": trades})
}

func (s *Server) handlePlaceGTT(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "ERROR", "message": "invalid json"})
		return
	}
	s.mu.Lock()
	id := s.newID()
	req["alert_id"] = id
	req["order_time"] = s.opts.Now().In(ist).Format("02-01-2006 15:04:05")
	s.gtts = append(s.gtts, req)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "SUCCESS", "alert_id": id, "message": "GTT order placed"})
}

func (s *Server) handleGTTOrders(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	gtts := append([]map[string]any(nil), s.gtts...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"status": "SUCCESS", "pendingGTTOrderBook": gtts})
}

func (s *Server) handleCancelGTT(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, g := range s.gtts {
		if g["alert_id"] == id {
			s.gtts = append(s.gtts[:i], s.gtts[i+1:]...)
			writeJSON(w, http.StatusOK, map[string]string{"status": "SUCCESS", "alert_id": id, "message": "GTT cancelled"})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"status": "ERROR", "message": "alert not found"})
}

func (s *Server) handleHoldings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "SUCCESS", "data": []map[string]any{
		{"tradingsymbol": "SBIN-EQ", "exchange": "NSE", "isin": "INE062A01020", "dp_qty": "10", "t1_qty": "0", "avg_buy_price": "780.50", "ltp": "812.35"},
		{"tradingsymbol": "INFY-EQ", "exchange": "NSE", "isin": "INE009A01021", "dp_qty": 4, "t1_qty": 1, "avg_buy_price": 1402.1, "ltp": "1450.00"},
	}})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "SUCCESS", "positions": []map[string]any{
		{"tradingsymbol": "TCS-EQ", "exchange": "NSE", "product_type": "INTRADAY", "net_quantity": "-2", "net_averageprice": "3925.00", "lastPrice": "3920.10", "realized_pnl": "0", "unrealized_pnl": "9.80"},
	}})
}

func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "SUCCESS", "cash": "125000.50", "marginused": "18250.25", "payin": "0", "payout": "0",
		"collateral": "5000", "net_available": "111750.25",
	})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	s.mu.Lock()
	ltp, ok := s.lastPrices[token]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "ERROR", "message": "unknown token"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "SUCCESS", "exchange": chi.URLParam(r, "exchange"), "token": token,
		"ltp": ltp, "day_open": ltp, "day_high": ltp, "day_low": ltp, "day_close": ltp, "volume": "120034",
	})
}

// securities maps tokens to ISIN and company name.
var securities = map[string][2]string{
	"3045":   {"INE062A01020", "STATE BANK OF INDIA"},
	"11536":  {"INE467B01029", "TATA CONSULTANCY SERVICES"},
	"1594":   {"INE009A01021", "INFOSYS"},
	"2885":   {"INE002A01018", "RELIANCE INDUSTRIES"},
	"500112": {"INE062A01020", "STATE BANK OF INDIA"},
}

func (s *Server) handleSecurityInfo(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	sec, ok := securities[token]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "ERROR", "message": "unknown token"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "SUCCESS", "exchange": chi.URLParam(r, "exchange"), "token": token,
		"isin": sec[0], "company_name": sec[1], "instrument_type": "EQ",
		"lotsize": "1", "ticksize": "0.05", "price_precision": 2,
	})
}

// handleHistory answers with one bar per hour of the range, newest first,
// the way the upstream sometimes orders them.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	from, err1 := time.ParseInLocation("020120061504", chi.URLParam(r, "from"), ist)
	to, err2 := time.ParseInLocation("020120061504", chi.URLParam(r, "to"), ist)
	if err1 != nil || err2 != nil {
		http.Error(w, "bad range", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	var rows []string
	for t := from; !t.After(to); t = t.Add(time.Hour) {
		rows = append(rows, fmt.Sprintf("%s,810.00,815.50,808.25,812.35,%d", t.Format("02-01-2006 15:04"), 1000+t.Hour()))
	}
	for i := len(rows) - 1; i >= 0; i-- {
		fmt.Fprintln(w, rows[i])
	}
}

var ist = time.FixedZone("IST", 5*3600+1800)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// handleStream speaks the touchline/order/depth subset of the streaming
// protocol: one connect frame, then subscription frames answered with an
// acknowledgement and a single update per token.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var frame map[string]string
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		for _, out := range s.streamReply(frame) {
			if err := conn.WriteJSON(out); err != nil {
				return
			}
		}
	}
}

func (s *Server) streamReply(frame map[string]string) []map[string]string {
	switch frame["t"] {
	case "c":
		s.mu.Lock()
		ok := false
		for _, ws := range s.sessions {
			if ws == frame["susertoken"] {
				ok = true
			}
		}
		s.mu.Unlock()
		if !ok {
			return []map[string]string{{"t": "ck", "s": "NOT_OK", "emsg": "invalid session"}}
		}
		return []map[string]string{{"t": "ck", "s": "OK", "uid": frame["uid"]}}
	case "t", "d":
		ack, update := "tk", "tf"
		if frame["t"] == "d" {
			ack, update = "dk", "df"
		}
		var out []map[string]string
		for _, key := range strings.Split(frame["k"], "#") {
			exch, tok, ok := strings.Cut(key, "|")
			if !ok {
				continue
			}
			s.mu.Lock()
			ltp := s.lastPrices[tok]
			s.mu.Unlock()
			out = append(out,
				map[string]string{"t": ack, "e": exch, "tk": tok, "lp": ltp},
				map[string]string{"t": update, "e": exch, "tk": tok, "lp": ltp})
		}
		return out
	case "o":
		return []map[string]string{{"t": "ok"}, {"t": "om", "actid": frame["actid"], "status": "OPEN"}}
	case "h":
		return []map[string]string{{"t": "h"}}
	default:
		return []map[string]string{{"t": "er", "emsg": "unknown frame " + frame["t"]}}
	}
}
