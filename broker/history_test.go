package broker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jmcleod/tradedesk/broker/brokertest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBars(t *testing.T) {
	csv := strings.Join([]string{
		"Datetime,Open,High,Low,Close,Volume,OI",
		"02-03-2026 09:17,101.5,102,101,101.75,1200,",
		"",
		"02-03-2026 09:15,100,101,99.5,100.5,1500,30",
		"02-03-2026 09:16,100.5,101.5,100,101.5,900,31",
	}, "\n")

	bars, err := ParseBars(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, bars, 3)

	assert.Equal(t, 15, bars[0].Time.Minute())
	assert.Equal(t, 16, bars[1].Time.Minute())
	assert.Equal(t, 17, bars[2].Time.Minute())
	assert.Equal(t, IST, bars[0].Time.Location())
	assert.True(t, decimal.RequireFromString("100.5").Equal(bars[0].Close))
	assert.Equal(t, int64(1500), bars[0].Volume)
	assert.Equal(t, int64(30), bars[0].OpenInterest)
	assert.Zero(t, bars[2].OpenInterest)
}

func TestParseBarsErrors(t *testing.T) {
	_, err := ParseBars(strings.NewReader("02-03-2026 09:15,100,101\n"))
	assert.Error(t, err)

	_, err = ParseBars(strings.NewReader("02-03-2026 09:15,100,101,99,100,10\nnot-a-date,1,2,3,4,5\n"))
	assert.Error(t, err)

	_, err = ParseBars(strings.NewReader("02-03-2026 09:15,abc,101,99,100,10\n"))
	assert.Error(t, err)

	bars, err := ParseBars(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, bars)
}

func TestHistoryDefaultsAndOrdering(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, IST)
	srv, _, sess := newSandbox(t, brokertest.Options{})
	master, err := ParseMaster(strings.NewReader(brokertest.MasterCSV))
	require.NoError(t, err)
	c, err := New(Config{
		APIURL:  srv.APIURL(),
		DataURL: srv.DataURL(),
		AuthURL: srv.AuthURL(),
		Symbols: master,
		Now:     func() time.Time { return now },
	})
	require.NoError(t, err)

	bars, err := c.History(context.Background(), sess, HistoryRequest{Symbol: "SBIN-EQ"})
	require.NoError(t, err)
	require.Len(t, bars, 25, "one bar per hour across the default one-day window")
	assert.True(t, bars[0].Time.Equal(now.Add(-24*time.Hour)))
	assert.True(t, bars[len(bars)-1].Time.Equal(now))
	for i := 1; i < len(bars); i++ {
		assert.True(t, bars[i-1].Time.Before(bars[i].Time))
	}
}

func TestHistoryValidation(t *testing.T) {
	srv, c, sess := newSandbox(t, brokertest.Options{})
	ctx := context.Background()

	_, err := c.History(ctx, sess, HistoryRequest{Symbol: "SBIN-EQ", Timeframe: "week"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	from := time.Date(2026, 3, 2, 0, 0, 0, 0, IST)
	_, err = c.History(ctx, sess, HistoryRequest{Symbol: "SBIN-EQ", From: from, To: from.Add(-time.Hour)})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = c.History(ctx, sess, HistoryRequest{Symbol: "UNKNOWN"})
	assert.ErrorIs(t, err, ErrUnknownSymbol)

	_, err = c.History(ctx, nil, HistoryRequest{Symbol: "SBIN-EQ"})
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	assert.Zero(t, srv.APICalls())
}

func TestHistoryByToken(t *testing.T) {
	_, c, sess := newSandbox(t, brokertest.Options{})
	from := time.Date(2026, 3, 2, 9, 0, 0, 0, IST)

	bars, err := c.History(context.Background(), sess, HistoryRequest{
		Exchange: "nse", Token: "3045", From: from, To: from.Add(2 * time.Hour), Timeframe: "DAY",
	})
	require.NoError(t, err)
	assert.Len(t, bars, 3)
}
