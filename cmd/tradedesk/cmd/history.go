package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/tradedesk/broker"
)

var historyFlags struct {
	from      string
	to        string
	timeframe string
	limit     int
}

var historyCmd = &cobra.Command{
	Use:   "history EXCHANGE SYMBOL",
	Short: "Show historical price bars",
	Example: `  tradedesk history NSE SBIN-EQ --from 2026-10-01 --to 2026-10-16 --timeframe day
  tradedesk history NSE TCS-EQ --from "2026-10-16 09:15" --timeframe minute`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := broker.HistoryRequest{
			Exchange:  args[0],
			Symbol:    args[1],
			Timeframe: historyFlags.timeframe,
		}
		var err error
		if req.From, err = parseLocalTime("from", historyFlags.from); err != nil {
			return err
		}
		if req.To, err = parseLocalTime("to", historyFlags.to); err != nil {
			return err
		}
		return withApp(func(a *app) error {
			sess, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			bars, err := a.client.History(cmd.Context(), sess, req)
			if err != nil {
				return err
			}
			if historyFlags.limit > 0 && len(bars) > historyFlags.limit {
				bars = bars[len(bars)-historyFlags.limit:]
			}
			t := newTable(fmt.Sprintf("%s:%s", strings.ToUpper(args[0]), strings.ToUpper(args[1])),
				"Time", "Open", "High", "Low", "Close", "Volume")
			for _, b := range bars {
				t.add(b.Time.In(broker.IST).Format("2006-01-02 15:04"), b.Open, b.High, b.Low, b.Close, b.Volume)
			}
			return render(cmd.OutOrStdout(), t.markdown())
		})
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	f := historyCmd.Flags()
	f.StringVar(&historyFlags.from, "from", "", "Start time, exchange local (default one day before --to)")
	f.StringVar(&historyFlags.to, "to", "", "End time, exchange local (default now)")
	f.StringVar(&historyFlags.timeframe, "timeframe", broker.TimeframeMinute, "minute, day or tick")
	f.IntVar(&historyFlags.limit, "tail", 0, "Show only the last N bars")
}

var cliTimeLayouts = []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02T15:04", time.DateOnly}

// parseLocalTime reads s in exchange time. Empty is the zero time.
func parseLocalTime(name, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range cliTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, broker.IST); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid --%s %q: want YYYY-MM-DD or YYYY-MM-DD HH:MM", name, s)
}
