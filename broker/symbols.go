package broker

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/jmcleod/tradedesk/internal/util"
	"github.com/shopspring/decimal"
)

// ErrUnknownSymbol is returned when the master has no matching instrument.
var ErrUnknownSymbol = errors.New("unknown symbol")

// Instrument is one row of the symbols master.
type Instrument struct {
	Segment        string          `json:"segment"`
	Token          string          `json:"token"`
	Symbol         string          `json:"symbol,omitempty"`
	TradingSymbol  string          `json:"trading_symbol"`
	InstrumentType string          `json:"instrument_type,omitempty"`
	LotSize        int64           `json:"lot_size,omitempty"`
	TickSize       decimal.Decimal `json:"tick_size"`
}

// Master indexes instruments by segment and trading symbol.
type Master struct {
	mu    sync.RWMutex
	byKey map[string]Instrument
	list  []Instrument
}

// NewMaster builds a Master from instruments. Later duplicates win.
func NewMaster(instruments []Instrument) *Master {
	m := &Master{byKey: make(map[string]Instrument, len(instruments))}
	for _, in := range instruments {
		in.Segment = strings.ToUpper(strings.TrimSpace(in.Segment))
		in.TradingSymbol = util.NormalizeSymbol(in.TradingSymbol)
		in.Token = strings.TrimSpace(in.Token)
		if in.TradingSymbol == "" || in.Token == "" {
			continue
		}
		m.byKey[masterKey(in.Segment, in.TradingSymbol)] = in
	}
	m.list = make([]Instrument, 0, len(m.byKey))
	for _, in := range m.byKey {
		m.list = append(m.list, in)
	}
	sort.Slice(m.list, func(i, j int) bool {
		if m.list[i].TradingSymbol != m.list[j].TradingSymbol {
			return m.list[i].TradingSymbol < m.list[j].TradingSymbol
		}
		return m.list[i].Segment < m.list[j].Segment
	})
	return m
}

func masterKey(segment, symbol string) string { return segment + "|" + symbol }

// LoadMaster reads a symbols master CSV. A missing file yields an empty
// Master.
func LoadMaster(path string) (*Master, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewMaster(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening symbols master: %w", err)
	}
	defer f.Close()
	m, err := ParseMaster(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Column positions of the headerless Definedge allmaster.csv layout.
var definedgeLayout = map[string]int{
	"segment": 0, "token": 1, "symbol": 2, "tradingsymbol": 3,
	"instrumenttype": 4, "ticksize": 6, "lotsize": 7,
}

var headerAliases = map[string]string{
	"segment":        "segment",
	"exchange":       "segment",
	"token":          "token",
	"symbol":         "symbol",
	"tradingsymbol":  "tradingsymbol",
	"tradingsym":     "tradingsymbol",
	"instrumenttype": "instrumenttype",
	"instrument":     "instrumenttype",
	"lotsize":        "lotsize",
	"ticksize":       "ticksize",
}

func headerName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("_", "", " ", "", "-", "").Replace(s)
	return headerAliases[s]
}

// ParseMaster reads instruments from CSV. A header row naming at least the
// trading symbol and token columns is honoured; otherwise the Definedge
// allmaster layout is assumed.
func ParseMaster(r io.Reader) (*Master, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	first, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return NewMaster(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading symbols master: %w", err)
	}

	cols := map[string]int{}
	for i, h := range first {
		if name := headerName(h); name != "" {
			if _, dup := cols[name]; !dup {
				cols[name] = i
			}
		}
	}
	var pending [][]string
	if _, ok := cols["tradingsymbol"]; !ok {
		cols = definedgeLayout
		pending = append(pending, first)
	} else if _, ok := cols["token"]; !ok {
		return nil, errors.New("symbols master header has no token column")
	}

	get := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var instruments []Instrument
	add := func(row []string) {
		in := Instrument{
			Segment:        get(row, "segment"),
			Token:          get(row, "token"),
			Symbol:         get(row, "symbol"),
			TradingSymbol:  get(row, "tradingsymbol"),
			InstrumentType: get(row, "instrumenttype"),
		}
		if lot, err := strconv.ParseInt(get(row, "lotsize"), 10, 64); err == nil {
			in.LotSize = lot
		}
		if tick, err := decimal.NewFromString(get(row, "ticksize")); err == nil {
			in.TickSize = tick
		}
		instruments = append(instruments, in)
	}
	for _, row := range pending {
		add(row)
	}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading symbols master: %w", err)
		}
		add(row)
	}
	return NewMaster(instruments), nil
}

// Len returns the number of instruments.
func (m *Master) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.list)
}

// Lookup finds an instrument by exchange segment and trading symbol. An
// empty exchange means NSE.
func (m *Master) Lookup(exchange, tradingSymbol string) (Instrument, error) {
	seg := orDefault(strings.ToUpper(strings.TrimSpace(exchange)), ExchangeNSE)
	sym := util.NormalizeSymbol(tradingSymbol)
	m.mu.RLock()
	in, ok := m.byKey[masterKey(seg, sym)]
	m.mu.RUnlock()
	if !ok {
		return Instrument{}, fmt.Errorf("%w: %s on %s", ErrUnknownSymbol, sym, seg)
	}
	return in, nil
}

// Search returns instruments whose trading symbol contains query,
// prefix matches first. An empty exchange matches every segment.
func (m *Master) Search(query, exchange string) []Instrument {
	q := util.NormalizeSymbol(query)
	seg := strings.ToUpper(strings.TrimSpace(exchange))

	m.mu.RLock()
	defer m.mu.RUnlock()
	var prefix, contains []Instrument
	for _, in := range m.list {
		if seg != "" && in.Segment != seg {
			continue
		}
		switch {
		case strings.HasPrefix(in.TradingSymbol, q):
			prefix = append(prefix, in)
		case strings.Contains(in.TradingSymbol, q):
			contains = append(contains, in)
		}
	}
	return append(prefix, contains...)
}

// Replace swaps in the contents of other, for reloading the master file
// while the server runs.
func (m *Master) Replace(other *Master) {
	other.mu.RLock()
	byKey, list := other.byKey, other.list
	other.mu.RUnlock()
	m.mu.Lock()
	m.byKey, m.list = byKey, list
	m.mu.Unlock()
}
