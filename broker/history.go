package broker

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jmcleod/tradedesk/session"
	"github.com/shopspring/decimal"
)

// Timeframes accepted by the data API.
const (
	TimeframeMinute = "minute"
	TimeframeDay    = "day"
	TimeframeTick   = "tick"
)

// DefaultHistoryWindow is the span fetched when no start is given.
const DefaultHistoryWindow = 24 * time.Hour

// pathTimeLayout is how the data API expects range bounds.
const pathTimeLayout = "020120061504"

// ErrInvalidRequest is returned for a history request that cannot succeed.
var ErrInvalidRequest = errors.New("invalid request")

// IST is the exchange time zone; bars are reported in it.
var IST = time.FixedZone("IST", 5*3600+1800)

var barTimeLayouts = []string{
	"02-01-2006 15:04",
	"02-01-2006 15:04:05",
	"020120061504",
	"02012006150405",
	"02-01-2006",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// HistoryRequest selects a price series. Token, when set, bypasses the
// symbols master.
type HistoryRequest struct {
	Exchange  string
	Symbol    string
	Token     string
	From      time.Time
	To        time.Time
	Timeframe string
}

// Bar is one OHLC row.
type Bar struct {
	Time         time.Time       `json:"time"`
	Open         decimal.Decimal `json:"open"`
	High         decimal.Decimal `json:"high"`
	Low          decimal.Decimal `json:"low"`
	Close        decimal.Decimal `json:"close"`
	Volume       int64           `json:"volume"`
	OpenInterest int64           `json:"oi,omitempty"`
}

// NormalizeHistory fills History's defaults into req and resolves the
// symbol to a token. History applies it itself; callers use it to learn the
// effective range.
func (c *Client) NormalizeHistory(req *HistoryRequest) error {
	req.Exchange = orDefault(strings.ToUpper(strings.TrimSpace(req.Exchange)), ExchangeNSE)
	req.Timeframe = orDefault(strings.ToLower(strings.TrimSpace(req.Timeframe)), TimeframeMinute)
	switch req.Timeframe {
	case TimeframeMinute, TimeframeDay, TimeframeTick:
	default:
		return fmt.Errorf("%w: unknown timeframe %q", ErrInvalidRequest, req.Timeframe)
	}
	if req.To.IsZero() {
		req.To = c.now()
	}
	if req.From.IsZero() {
		req.From = req.To.Add(-DefaultHistoryWindow)
	}
	if req.From.After(req.To) {
		return fmt.Errorf("%w: start %s is after end %s", ErrInvalidRequest,
			req.From.Format(time.DateTime), req.To.Format(time.DateTime))
	}
	if req.Token == "" {
		if strings.TrimSpace(req.Symbol) == "" {
			return fmt.Errorf("%w: symbol is required", ErrInvalidRequest)
		}
		in, err := c.symbols.Lookup(req.Exchange, req.Symbol)
		if err != nil {
			return err
		}
		req.Token = in.Token
	}
	return nil
}

// History fetches bars for the requested range, oldest first. Defaults:
// NSE, minute bars, ending now and starting one day earlier.
func (c *Client) History(ctx context.Context, sess *session.Session, req HistoryRequest) ([]Bar, error) {
	if !sess.IsActive() {
		return nil, ErrNotLoggedIn
	}
	if err := c.NormalizeHistory(&req); err != nil {
		return nil, err
	}
	path := strings.Join([]string{
		"/history",
		url.PathEscape(req.Exchange),
		url.PathEscape(req.Token),
		req.Timeframe,
		req.From.In(IST).Format(pathTimeLayout),
		req.To.In(IST).Format(pathTimeLayout),
	}, "/")

	data, err := c.callData(ctx, sess, path, nil)
	if err != nil {
		return nil, err
	}
	bars, err := ParseBars(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	c.logger.Debug("history fetched",
		"symbol", req.Symbol,
		"timeframe", req.Timeframe,
		"bars", len(bars))
	return bars, nil
}

// ParseBars reads `time,open,high,low,close,volume[,oi]` rows. A header
// row and blank lines are skipped; the result is sorted by time.
func ParseBars(r io.Reader) ([]Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	bars := []Bar{}
	line := 0
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading history: %w", err)
		}
		line++
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}
		if len(row) < 6 {
			return nil, fmt.Errorf("history line %d: expected at least 6 columns, got %d", line, len(row))
		}
		ts, err := parseBarTime(row[0])
		if err != nil {
			if line == 1 {
				continue // header
			}
			return nil, fmt.Errorf("history line %d: %w", line, err)
		}
		bar := Bar{Time: ts}
		for i, dst := range []*decimal.Decimal{&bar.Open, &bar.High, &bar.Low, &bar.Close} {
			v, err := decimal.NewFromString(strings.TrimSpace(row[i+1]))
			if err != nil {
				return nil, fmt.Errorf("history line %d column %d: %w", line, i+2, err)
			}
			*dst = v
		}
		if bar.Volume, err = parseCount(row[5]); err != nil {
			return nil, fmt.Errorf("history line %d volume: %w", line, err)
		}
		if len(row) > 6 && strings.TrimSpace(row[6]) != "" {
			if bar.OpenInterest, err = parseCount(row[6]); err != nil {
				return nil, fmt.Errorf("history line %d open interest: %w", line, err)
			}
		}
		bars = append(bars, bar)
	}
	slices.SortStableFunc(bars, func(a, b Bar) int { return a.Time.Compare(b.Time) })
	return bars, nil
}

func parseBarTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range barTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, IST); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func parseCount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}
